// Package riskengine recomputes the full risk report for the position book
// whenever the spot, the book or the dashboard settings change, and hands
// each report to the configured sinks (Redis, journal, alerts, dashboard).
package riskengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PurpleRainAndMJ/Options-Risks/internal/explain"
	"github.com/PurpleRainAndMJ/Options-Risks/internal/logger"
	"github.com/PurpleRainAndMJ/Options-Risks/internal/marketdata"
	"github.com/PurpleRainAndMJ/Options-Risks/internal/metrics"
	"github.com/PurpleRainAndMJ/Options-Risks/internal/model"
	"github.com/PurpleRainAndMJ/Options-Risks/internal/notification"
	"github.com/PurpleRainAndMJ/Options-Risks/internal/portfolio"
	"github.com/PurpleRainAndMJ/Options-Risks/internal/pricing"
)

// ErrNoReport is returned by Latest before the first report is computed.
var ErrNoReport = errors.New("no report computed yet")

// Settings are the dashboard inputs that are not part of the book.
type Settings struct {
	Vol  float64 `json:"vol"`
	Rate float64 `json:"rate"`
	// Spot, when set, overrides the polled spot for every report until cleared.
	Spot   *float64              `json:"spot,omitempty"`
	Move   model.MarketMove      `json:"move"`
	Sweep  portfolio.SweepConfig `json:"-"`
	Limits portfolio.RiskLimits  `json:"limits"`
}

// Publisher receives every computed report, e.g. the Redis store.
type Publisher interface {
	PublishReport(ctx context.Context, r model.RiskReport) error
}

// Deps are the optional collaborators of a Service. Nil fields are skipped.
type Deps struct {
	Resolver  *marketdata.Resolver
	Metrics   *metrics.Metrics
	Health    *metrics.HealthStatus
	Notifier  notification.Notifier
	Publisher Publisher
	// Journal receives reports for batched persistence; sends never block.
	Journal chan<- model.RiskReport
}

// Service owns the book and the latest report for one underlying symbol.
type Service struct {
	symbol string
	book   *portfolio.Book
	deps   Deps
	now    func() time.Time

	mu        sync.RWMutex
	settings  Settings
	quote     model.SpotQuote
	latest    *model.RiskReport
	breachKey string
	spotDown  bool

	trigger chan struct{}

	// OnReport is called after each successful recompute.
	OnReport func(r model.RiskReport)
}

// New creates a Service for symbol over book.
func New(symbol string, book *portfolio.Book, settings Settings, deps Deps) *Service {
	return &Service{
		symbol:   symbol,
		book:     book,
		deps:     deps,
		now:      time.Now,
		settings: settings,
		trigger:  make(chan struct{}, 1),
	}
}

// Symbol returns the underlying symbol.
func (s *Service) Symbol() string { return s.symbol }

// Book returns the editable position book.
func (s *Service) Book() *portfolio.Book { return s.book }

// Settings returns the current dashboard settings.
func (s *Service) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// UpdateSettings validates and applies new vol, rate, spot override and move
// inputs, then schedules a recompute. A nil spot prices off the feed again.
func (s *Service) UpdateSettings(vol, rate float64, spot *float64, mv model.MarketMove) error {
	snap := model.MarketSnapshot{Spot: 1, Rate: rate, Vol: vol}
	if spot != nil {
		snap.Spot = *spot
	}
	if err := snap.Validate(); err != nil {
		return err
	}
	if spot != nil {
		v := *spot
		spot = &v
	}
	s.mu.Lock()
	s.settings.Vol = vol
	s.settings.Rate = rate
	s.settings.Spot = spot
	s.settings.Move = mv
	s.mu.Unlock()
	s.Trigger()
	return nil
}

// Trigger schedules a recompute with the last known spot. Coalesces.
func (s *Service) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Latest returns the most recent report.
func (s *Service) Latest() (model.RiskReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return model.RiskReport{}, ErrNoReport
	}
	return *s.latest, nil
}

// Quote returns the last quote received from the feed.
func (s *Service) Quote() model.SpotQuote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.quote
}

// PricingQuote returns the quote reports are priced at: the manual override
// when one is set, otherwise the last feed quote.
func (s *Service) PricingQuote() model.SpotQuote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pricingQuote(s.quote, s.settings)
}

func (s *Service) pricingQuote(feed model.SpotQuote, settings Settings) model.SpotQuote {
	if settings.Spot == nil {
		return feed
	}
	return model.SpotQuote{Symbol: s.symbol, Price: *settings.Spot, Source: model.SpotManual, At: s.now().UTC()}
}

// Run recomputes on every quote and on every Trigger. Blocks until ctx is
// cancelled or quotes is closed.
func (s *Service) Run(ctx context.Context, quotes <-chan model.SpotQuote) {
	for {
		select {
		case <-ctx.Done():
			return
		case q, ok := <-quotes:
			if !ok {
				return
			}
			s.refreshWith(ctx, q)
		case <-s.trigger:
			q := s.Quote()
			if q.Price <= 0 && s.Settings().Spot == nil {
				// No spot yet; the first quote will compute.
				continue
			}
			s.refreshWith(ctx, q)
		}
	}
}

func (s *Service) refreshWith(ctx context.Context, q model.SpotQuote) {
	ctx = logger.WithTraceID(ctx, logger.NewTraceID())
	if _, err := s.RefreshWithQuote(ctx, q); err != nil && ctx.Err() == nil {
		slog.Error("risk refresh failed", append(logger.LogWithTrace(ctx), slog.String("error", err.Error()))...)
	}
}

// Refresh resolves the spot and recomputes the report.
func (s *Service) Refresh(ctx context.Context) (model.RiskReport, error) {
	if s.deps.Resolver == nil {
		q := s.Quote()
		if q.Price <= 0 && s.Settings().Spot == nil {
			return model.RiskReport{}, fmt.Errorf("refresh %s: %w", s.symbol, marketdata.ErrSpotUnavailable)
		}
		return s.RefreshWithQuote(ctx, q)
	}
	q, err := s.deps.Resolver.Resolve(ctx, s.symbol)
	if err != nil {
		return model.RiskReport{}, fmt.Errorf("refresh: %w", err)
	}
	return s.RefreshWithQuote(ctx, q)
}

// RefreshWithQuote records the feed quote q, recomputes the report and
// dispatches it to every sink. A spot override in the settings takes the
// place of q for pricing but q is still kept as the latest feed quote.
func (s *Service) RefreshWithQuote(ctx context.Context, q model.SpotQuote) (model.RiskReport, error) {
	if q.Price > 0 {
		s.observeQuote(ctx, q)
	}

	positions, version := s.book.Snapshot()
	settings := s.Settings()
	q = s.pricingQuote(q, settings)
	market := model.MarketSnapshot{Spot: q.Price, Rate: settings.Rate, Vol: settings.Vol}

	r, err := s.Compute(ctx, positions, market, settings)
	if err != nil {
		if s.deps.Metrics != nil {
			s.deps.Metrics.ReportErrors.Inc()
		}
		return model.RiskReport{}, err
	}
	r.Symbol = s.symbol
	r.SpotSource = q.Source
	r.BookVersion = version

	s.mu.Lock()
	s.latest = &r
	s.mu.Unlock()

	s.dispatch(ctx, r)
	return r, nil
}

// Compute builds a report from scratch. It reads no service state besides
// metrics and is safe to call concurrently.
func (s *Service) Compute(ctx context.Context, positions []model.Position, market model.MarketSnapshot, settings Settings) (model.RiskReport, error) {
	start := time.Now()
	rows, totals, err := portfolio.Breakdown(positions, market)
	if err != nil {
		return model.RiskReport{}, fmt.Errorf("aggregate: %w", err)
	}
	s.observeAggregate(len(positions), time.Since(start))

	start = time.Now()
	stress, err := portfolio.Sweep(ctx, positions, market, settings.Sweep)
	if err != nil {
		return model.RiskReport{}, err
	}
	s.observeStress(len(positions), stress, time.Since(start))

	mv := settings.Move
	if mv.DT == 0 {
		mv.DT = model.DefaultDT
	}
	attribution := explain.ExplainMove(totals, mv)
	repriced, err := portfolio.Reprice(positions, market, mv, settings.Sweep.VolFloor)
	if err != nil {
		return model.RiskReport{}, fmt.Errorf("reprice move: %w", err)
	}
	s.countPricings(2 * len(positions))

	return model.RiskReport{
		ID:       uuid.NewString(),
		At:       s.now().UTC(),
		Market:   market,
		Totals:   totals,
		Rows:     rows,
		Stress:   stress,
		Move:     mv,
		Explain:  attribution,
		Repriced: repriced,
		Residual: explain.Residual(attribution, repriced),
		Breaches: portfolio.CheckLimits(settings.Limits, totals, stress),
	}, nil
}

// PriceContract prices one contract on the checked path and counts it.
func (s *Service) PriceContract(spec model.ContractSpec, market model.MarketSnapshot) (model.GreekSet, error) {
	g, err := pricing.PriceContract(spec, market)
	if err == nil {
		s.countPricings(1)
	}
	return g, err
}

// Aggregate totals an arbitrary book against market.
func (s *Service) Aggregate(positions []model.Position, market model.MarketSnapshot) ([]model.PositionRisk, model.PortfolioTotals, error) {
	start := time.Now()
	rows, totals, err := portfolio.Breakdown(positions, market)
	if err == nil {
		s.observeAggregate(len(positions), time.Since(start))
	}
	return rows, totals, err
}

// Stress sweeps an arbitrary book against market.
func (s *Service) Stress(ctx context.Context, positions []model.Position, market model.MarketSnapshot, cfg portfolio.SweepConfig) (model.StressResult, error) {
	start := time.Now()
	res, err := portfolio.Sweep(ctx, positions, market, cfg)
	if err == nil {
		s.observeStress(len(positions), res, time.Since(start))
	}
	return res, err
}

func (s *Service) dispatch(ctx context.Context, r model.RiskReport) {
	if m := s.deps.Metrics; m != nil {
		m.ReportsTotal.Inc()
		m.ObserveTotals(r.Totals.Value, r.Totals.Delta, r.Totals.Gamma, r.Totals.Vega, r.Totals.Theta)
		m.ExplainResidual.Set(r.Residual)
		for _, b := range r.Breaches {
			m.LimitBreaches.WithLabelValues(b.Limit).Inc()
		}
	}
	if s.deps.Health != nil {
		s.deps.Health.SetLastReportTime(r.At)
	}

	if s.deps.Publisher != nil {
		if err := s.deps.Publisher.PublishReport(ctx, r); err != nil {
			slog.Warn("publish report failed", append(logger.LogWithTrace(ctx), slog.String("error", err.Error()))...)
		}
	}
	if s.deps.Journal != nil {
		select {
		case s.deps.Journal <- r:
		default:
			slog.Warn("journal channel full, report not persisted", logger.LogWithTrace(ctx)...)
		}
	}

	s.alertOnBreachChange(ctx, r)

	if s.OnReport != nil {
		s.OnReport(r)
	}

	slog.Debug("risk report",
		append(logger.LogWithTrace(ctx),
			slog.String("id", r.ID),
			slog.Float64("spot", r.Market.Spot),
			slog.String("spot_source", string(r.SpotSource)),
			slog.Float64("value", r.Totals.Value),
			slog.Float64("delta", r.Totals.Delta),
			slog.Int("breaches", len(r.Breaches)),
		)...)
}

// alertOnBreachChange notifies only when the set of breached limits changes,
// so a persistent breach does not alert on every refresh.
func (s *Service) alertOnBreachChange(ctx context.Context, r model.RiskReport) {
	names := make([]string, len(r.Breaches))
	for i, b := range r.Breaches {
		names[i] = b.Limit
	}
	key := strings.Join(names, ",")

	s.mu.Lock()
	prev := s.breachKey
	s.breachKey = key
	s.mu.Unlock()

	if key == prev || s.deps.Notifier == nil {
		return
	}
	alert := notification.ClearedAlert(s.symbol)
	if key != "" {
		alert = notification.BreachAlert(s.symbol, r.Breaches)
	}
	if err := s.deps.Notifier.Send(ctx, alert); err != nil {
		slog.Warn("send alert failed", append(logger.LogWithTrace(ctx), slog.String("error", err.Error()))...)
	}
}

func (s *Service) observeQuote(ctx context.Context, q model.SpotQuote) {
	s.mu.Lock()
	s.quote = q
	wasDown := s.spotDown
	s.spotDown = q.Source == model.SpotCache || q.Source == model.SpotFallback
	nowDown := s.spotDown
	s.mu.Unlock()

	if m := s.deps.Metrics; m != nil {
		m.SpotFetchTotal.WithLabelValues(string(q.Source)).Inc()
		if nowDown {
			m.SpotFallback.Set(1)
		} else {
			m.SpotFallback.Set(0)
		}
	}
	if s.deps.Health != nil {
		s.deps.Health.SetSpot(string(q.Source), q.At)
	}
	if nowDown && !wasDown && s.deps.Notifier != nil {
		if err := s.deps.Notifier.Send(ctx, notification.SpotAlert(q)); err != nil {
			slog.Warn("send alert failed", append(logger.LogWithTrace(ctx), slog.String("error", err.Error()))...)
		}
	}
}

func (s *Service) observeAggregate(n int, d time.Duration) {
	if m := s.deps.Metrics; m != nil {
		m.AggregateDur.Observe(d.Seconds())
	}
	s.countPricings(n)
}

func (s *Service) observeStress(n int, res model.StressResult, d time.Duration) {
	if m := s.deps.Metrics; m != nil {
		m.StressDur.Observe(d.Seconds())
	}
	points := 0
	for _, c := range res.Curves {
		points += len(c.Points)
	}
	// One baseline valuation plus one per grid point.
	s.countPricings(n * (points + 1))
}

func (s *Service) countPricings(n int) {
	if m := s.deps.Metrics; m != nil && n > 0 {
		m.PricingsTotal.Add(float64(n))
	}
}
