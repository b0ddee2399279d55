// cmd/riskcli prices a position book once and prints the Greek totals, a
// thinned stress table and the PnL explain for a hypothetical move.
//
// Usage:
//
//	go run ./cmd/riskcli --positions=book.csv --vol=0.6 --move-spot=-2000
//	go run ./cmd/riskcli --spot=64000 --json
//	go run ./cmd/riskcli --watch   # follow reports published by riskd
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PurpleRainAndMJ/Options-Risks/config"
	"github.com/PurpleRainAndMJ/Options-Risks/internal/marketdata"
	"github.com/PurpleRainAndMJ/Options-Risks/internal/model"
	"github.com/PurpleRainAndMJ/Options-Risks/internal/portfolio"
	"github.com/PurpleRainAndMJ/Options-Risks/internal/report"
	"github.com/PurpleRainAndMJ/Options-Risks/internal/riskengine"
	redisstore "github.com/PurpleRainAndMJ/Options-Risks/internal/store/redis"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[riskcli] config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := run(ctx, cfg, os.Args[1:], os.Stdout); err != nil {
		log.Fatalf("[riskcli] %v", err)
	}
}

type options struct {
	positions  string
	spot       float64
	offline    bool
	ticker     string
	vol        float64
	rate       float64
	moveSpot   float64
	moveVol    float64
	dt         float64
	stressStep int
	asJSON     bool
	watch      bool
	redisAddr  string
}

func parseFlags(cfg *config.Config, args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("riskcli", flag.ContinueOnError)
	fs.StringVar(&o.positions, "positions", "", "CSV or JSON position file (default: sample book)")
	fs.Float64Var(&o.spot, "spot", 0, "Spot override (0=resolve live, then fallback)")
	fs.BoolVar(&o.offline, "offline", false, "Skip the live ticker and use the fallback spot")
	fs.StringVar(&o.ticker, "ticker", cfg.TickerURL, "Ticker price endpoint")
	fs.Float64Var(&o.vol, "vol", cfg.Vol, "Implied volatility (fraction)")
	fs.Float64Var(&o.rate, "rate", cfg.Rate, "Risk-free rate (fraction)")
	fs.Float64Var(&o.moveSpot, "move-spot", cfg.MoveSpot, "Explain: spot change")
	fs.Float64Var(&o.moveVol, "move-vol", cfg.MoveVol, "Explain: vol change (fraction)")
	fs.Float64Var(&o.dt, "dt", model.DefaultDT, "Explain: elapsed days charged against daily theta")
	fs.IntVar(&o.stressStep, "stress-step", 5, "Print every Nth stress grid point")
	fs.BoolVar(&o.asJSON, "json", false, "Print the full report as JSON")
	fs.BoolVar(&o.watch, "watch", false, "Follow reports published to Redis instead of computing locally")
	fs.StringVar(&o.redisAddr, "redis", cfg.RedisAddr, "Redis address for --watch")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.stressStep < 1 {
		o.stressStep = 1
	}
	if !(o.vol >= cfg.VolMin && o.vol <= cfg.VolMax) {
		return o, fmt.Errorf("%w: vol %v outside [%v, %v]", model.ErrInvalidInput, o.vol, cfg.VolMin, cfg.VolMax)
	}
	return o, nil
}

func run(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	o, err := parseFlags(cfg, args)
	if err != nil {
		return err
	}
	if o.watch {
		return watch(ctx, cfg, o, out)
	}

	positions := model.DefaultBook()
	if o.positions != "" {
		positions, err = loadFile(o.positions, cfg.DefaultExpiryD)
		if err != nil {
			return err
		}
	}

	settings := riskengine.Settings{
		Vol:    o.vol,
		Rate:   o.rate,
		Move:   model.MarketMove{DSpot: o.moveSpot, DVol: o.moveVol, DT: o.dt},
		Sweep:  cfg.SweepConfig(),
		Limits: cfg.Limits,
	}

	var deps riskengine.Deps
	if o.spot <= 0 {
		rc := marketdata.ResolverConfig{FallbackSpot: cfg.FallbackSpot}
		if !o.offline {
			rc.Upstream = marketdata.NewTickerSource(o.ticker, 5*time.Second)
		}
		deps.Resolver = marketdata.NewResolver(rc)
	}
	svc := riskengine.New(cfg.Symbol, portfolio.NewBook(positions), settings, deps)

	var r model.RiskReport
	if o.spot > 0 {
		r, err = svc.RefreshWithQuote(ctx, model.SpotQuote{Symbol: cfg.Symbol, Price: o.spot, Source: model.SpotManual, At: time.Now().UTC()})
	} else {
		r, err = svc.Refresh(ctx)
	}
	if err != nil {
		return err
	}

	if o.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	printReport(out, r, o.stressStep)
	return nil
}

func loadFile(path string, defaultDays float64) ([]model.Position, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open positions: %w", err)
	}
	defer f.Close()
	positions, err := portfolio.LoadPositions(f, portfolio.FormatFromPath(path), time.Now(), defaultDays)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return positions, nil
}

func watch(ctx context.Context, cfg *config.Config, o options, out io.Writer) error {
	store, err := redisstore.New(redisstore.Config{Addr: o.redisAddr, Password: cfg.RedisPassword})
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer store.Close()

	if r, err := store.LatestReport(ctx, cfg.Symbol); err == nil {
		printSummary(out, r)
	} else if !errors.Is(err, redisstore.ErrNotFound) {
		return err
	}

	reports := make(chan model.RiskReport, 16)
	errCh := make(chan error, 1)
	go func() { errCh <- store.SubscribeReports(ctx, cfg.Symbol, reports) }()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err
		case r := <-reports:
			printSummary(out, r)
		}
	}
}

func printSummary(out io.Writer, r model.RiskReport) {
	fmt.Fprintf(out, "%s %s spot=%s (%s) value=%s delta=%s gamma=%s vega=%s theta=%s worst=%s breaches=%d\n",
		r.At.Format(time.RFC3339), r.Symbol, report.FormatNumber(r.Market.Spot), r.SpotSource,
		report.FormatNumber(r.Totals.Value),
		report.Fixed(r.Totals.Delta, report.DeltaPlaces),
		report.Fixed(r.Totals.Gamma, report.GammaPlaces),
		report.Fixed(r.Totals.Vega, report.VegaPlaces),
		report.Fixed(r.Totals.Theta, report.ThetaPlaces),
		report.FormatNumber(r.Stress.WorstLoss()), len(r.Breaches))
}

func printReport(out io.Writer, r model.RiskReport, step int) {
	fmt.Fprintf(out, "%s  spot %s (%s)  vol %s  rate %s\n\n",
		r.Symbol, report.Fixed(r.Market.Spot, report.MoneyPlaces), r.SpotSource,
		report.Fixed(r.Market.Vol, 2), report.Fixed(r.Market.Rate, 4))

	fmt.Fprintf(out, "%-5s %10s %8s %8s %12s %10s\n", "Type", "Strike", "Expiry", "Qty", "Price", "Delta")
	for _, row := range r.Rows {
		fmt.Fprintf(out, "%-5s %10s %8s %8s %12s %10s\n",
			row.Position.Kind, report.Fixed(row.Position.Strike, 0), report.Fixed(row.Position.DaysToExpiry, 1),
			report.Fixed(row.Position.Qty, 2), report.Fixed(row.Unit.Price, report.MoneyPlaces),
			report.Fixed(row.Scaled.Delta, report.DeltaPlaces))
	}
	fmt.Fprintln(out)

	fmt.Fprintf(out, "%-22s %s\n", "Portfolio Value", report.FormatNumber(r.Totals.Value))
	for _, t := range report.Tiles(r.Totals) {
		fmt.Fprintf(out, "%-22s %s\n", t.Label, t.Text)
	}
	fmt.Fprintln(out)

	if len(r.Stress.Curves) > 0 {
		fmt.Fprintf(out, "%12s", "Spot")
		for _, c := range r.Stress.Curves {
			fmt.Fprintf(out, " %12s", c.Scenario.Name)
		}
		fmt.Fprintln(out)
		points := r.Stress.Curves[0].Points
		for i := range points {
			if i%step != 0 && i != len(points)-1 && points[i].Spot != r.Market.Spot {
				continue
			}
			fmt.Fprintf(out, "%12s", report.Fixed(points[i].Spot, 0))
			for _, c := range r.Stress.Curves {
				fmt.Fprintf(out, " %12s", report.FormatNumber(c.Points[i].PnL))
			}
			fmt.Fprintln(out)
		}
		fmt.Fprintf(out, "%-22s %s\n\n", "Worst Stress Loss", report.FormatNumber(r.Stress.WorstLoss()))
	}

	fmt.Fprintf(out, "Explain: dS=%s dVol=%s dT=%sd\n",
		report.Fixed(r.Move.DSpot, report.MoneyPlaces), report.Fixed(r.Move.DVol, 4),
		report.Fixed(r.Move.DT, 4))
	for _, t := range report.AttributionTiles(r.Explain) {
		fmt.Fprintf(out, "%-22s %s\n", t.Label, t.Text)
	}
	fmt.Fprintf(out, "%-22s %s $\n", "Full Reprice", report.Fixed(r.Repriced, report.MoneyPlaces))
	fmt.Fprintf(out, "%-22s %s $\n", "Residual", report.Fixed(r.Residual, report.MoneyPlaces))

	for _, b := range r.Breaches {
		fmt.Fprintf(out, "LIMIT BREACH: %s\n", b)
	}
}
