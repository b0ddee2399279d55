package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/PurpleRainAndMJ/Options-Risks/config"
	"github.com/PurpleRainAndMJ/Options-Risks/internal/gateway"
	"github.com/PurpleRainAndMJ/Options-Risks/internal/logger"
	"github.com/PurpleRainAndMJ/Options-Risks/internal/marketdata"
	"github.com/PurpleRainAndMJ/Options-Risks/internal/marketdata/bus"
	"github.com/PurpleRainAndMJ/Options-Risks/internal/metrics"
	"github.com/PurpleRainAndMJ/Options-Risks/internal/model"
	"github.com/PurpleRainAndMJ/Options-Risks/internal/notification"
	"github.com/PurpleRainAndMJ/Options-Risks/internal/portfolio"
	"github.com/PurpleRainAndMJ/Options-Risks/internal/riskengine"
	redisstore "github.com/PurpleRainAndMJ/Options-Risks/internal/store/redis"
	"github.com/PurpleRainAndMJ/Options-Risks/internal/store/sqlite"
)

var processStart = time.Now()

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[riskd] config: %v", err)
	}
	logger.Init("riskd", logger.ParseLevel(cfg.LogLevel))
	slog.Info("starting", "symbol", cfg.Symbol, "vol", cfg.Vol, "rate", cfg.Rate, "config_file", cfg.File)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics(nil)

	// Redis is optional: without it the spot cache tier and report pub/sub are skipped.
	var store *redisstore.Store
	var rdb *goredis.Client
	if cfg.RedisAddr != "" {
		store, err = redisstore.New(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			SpotTTL:  cfg.SpotCacheTTL,
		})
		if err != nil {
			slog.Warn("redis unavailable, continuing without cache", "addr", cfg.RedisAddr, "error", err)
			store = nil
		} else {
			rdb = store.Client()
			defer store.Close()
		}
	}

	var journal *sqlite.Journal
	if cfg.SQLitePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			log.Fatalf("[riskd] journal dir: %v", err)
		}
		journal, err = sqlite.Open(sqlite.Config{DBPath: cfg.SQLitePath, Retention: cfg.ReportRetention})
		if err != nil {
			log.Fatalf("[riskd] journal: %v", err)
		}
		defer journal.Close()
	}

	health := metrics.NewHealthStatus(store != nil, journal != nil)
	if store != nil {
		health.CheckRedis(ctx, rdb)
	}
	if journal != nil {
		health.CheckSQLite(ctx, journal.DB())
		health.StartLivenessChecker(ctx, rdb, journal.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, rdb, nil, 10*time.Second)
	}

	// Spot resolution: live ticker behind a breaker, then Redis, then fallback.
	breaker := marketdata.NewBreaker(3, 30*time.Second)
	breaker.OnStateChange = func(from, to marketdata.BreakerState) {
		m.BreakerState.Set(float64(to))
		if to == marketdata.BreakerOpen {
			m.BreakerTrips.Inc()
		}
		health.SetBreakerState(to.String())
		slog.Warn("spot breaker state change", "from", from.String(), "to", to.String())
	}
	resolverCfg := marketdata.ResolverConfig{
		Upstream:     marketdata.NewTickerSource(cfg.TickerURL, 5*time.Second),
		Breaker:      breaker,
		FallbackSpot: cfg.FallbackSpot,
	}
	if store != nil {
		resolverCfg.Cache = store
	}
	resolver := marketdata.NewResolver(resolverCfg)

	notifier := notification.Multi{notification.NewLogNotifier()}
	if cfg.WebhookURL != "" {
		notifier = append(notifier, notification.NewWebhookNotifier(cfg.WebhookURL, "riskd"))
	}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		notifier = append(notifier, notification.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID))
	}

	journalCh := make(chan model.RiskReport, 256)
	journalDone := make(chan struct{})
	deps := riskengine.Deps{
		Resolver: resolver,
		Metrics:  m,
		Health:   health,
		Notifier: notifier,
	}
	if store != nil {
		deps.Publisher = store
	}
	if journal != nil {
		deps.Journal = journalCh
		go func() {
			defer close(journalDone)
			journal.Run(ctx, journalCh)
		}()
	} else {
		close(journalDone)
	}

	settings := riskengine.Settings{
		Vol:    cfg.Vol,
		Rate:   cfg.Rate,
		Move:   model.MarketMove{DSpot: cfg.MoveSpot, DVol: cfg.MoveVol, DT: model.DefaultDT},
		Sweep:  cfg.SweepConfig(),
		Limits: cfg.Limits,
	}
	book := portfolio.NewBook(model.DefaultBook())
	svc := riskengine.New(cfg.Symbol, book, settings, deps)

	hub := gateway.NewHub(m)
	svc.OnReport = hub.PublishReport

	// Poller -> fan-out -> {risk engine, dashboard spot channel}
	quotes := make(chan model.SpotQuote, 4)
	fan := bus.New(4)
	fan.OnDrop = func(name string) {
		m.FanoutDropsTotal.WithLabelValues(name).Inc()
	}
	engineQuotes := fan.Subscribe("engine")
	hubQuotes := fan.Subscribe("hub")

	go marketdata.NewPoller(resolver, cfg.Symbol, cfg.RefreshInterval).Run(ctx, quotes)
	go fan.Run(ctx, quotes)
	go fan.Sample(ctx, 5*time.Second, func(stats []bus.QueueStat) {
		for _, st := range stats {
			m.FanoutBacklog.WithLabelValues(st.Name).Set(st.Saturation())
		}
	})
	go svc.Run(ctx, engineQuotes)
	go hub.RunQuotes(ctx, hubQuotes)
	go hub.StartStatusBroadcast(ctx, processStart, 2*time.Second)

	var reports gateway.ReportLister
	if journal != nil {
		reports = journal
	}
	api := gateway.NewAPI(svc, hub, reports, health, gateway.Bounds{
		VolMin:      cfg.VolMin,
		VolMax:      cfg.VolMax,
		MoveSpotMax: cfg.MoveSpotMax,
		MoveVolMax:  cfg.MoveVolMax,
	})
	api.DefaultExpiryDays = cfg.DefaultExpiryD

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	go func() {
		slog.Info("serving", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[riskd] server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	srv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)

	// The deferred journal.Close must not run under the final flush.
	select {
	case <-journalDone:
	case <-shutdownCtx.Done():
		slog.Warn("journal flush did not finish before shutdown timeout")
	}
}
