package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/PurpleRainAndMJ/Options-Risks/internal/explain"
	"github.com/PurpleRainAndMJ/Options-Risks/internal/logger"
	"github.com/PurpleRainAndMJ/Options-Risks/internal/model"
	"github.com/PurpleRainAndMJ/Options-Risks/internal/portfolio"
	"github.com/PurpleRainAndMJ/Options-Risks/internal/report"
	"github.com/PurpleRainAndMJ/Options-Risks/internal/riskengine"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// ReportLister reads journaled reports, newest first.
type ReportLister interface {
	Recent(ctx context.Context, symbol string, limit int) ([]model.RiskReport, error)
}

// Bounds are the dashboard slider ranges enforced on settings updates.
// A zero max disables that check.
type Bounds struct {
	VolMin      float64 `json:"vol_min"`
	VolMax      float64 `json:"vol_max"`
	MoveSpotMax float64 `json:"move_spot_max"`
	MoveVolMax  float64 `json:"move_vol_max"`
}

func (b Bounds) check(vol float64, mv model.MarketMove) error {
	if b.VolMax > 0 && (vol < b.VolMin || vol > b.VolMax) {
		return fmt.Errorf("%w: vol %v outside [%v, %v]", model.ErrInvalidInput, vol, b.VolMin, b.VolMax)
	}
	if b.MoveSpotMax > 0 && (mv.DSpot < -b.MoveSpotMax || mv.DSpot > b.MoveSpotMax) {
		return fmt.Errorf("%w: d_spot %v outside ±%v", model.ErrInvalidInput, mv.DSpot, b.MoveSpotMax)
	}
	if b.MoveVolMax > 0 && (mv.DVol < -b.MoveVolMax || mv.DVol > b.MoveVolMax) {
		return fmt.Errorf("%w: d_vol %v outside ±%v", model.ErrInvalidInput, mv.DVol, b.MoveVolMax)
	}
	return nil
}

// API serves the REST and websocket endpoints.
type API struct {
	svc     *riskengine.Service
	hub     *Hub
	reports ReportLister
	health  http.Handler
	bounds  Bounds
	now     func() time.Time

	// DefaultExpiryDays is used when a price request has an unparseable expiry.
	DefaultExpiryDays float64
}

// NewAPI creates the API. reports and health may be nil.
func NewAPI(svc *riskengine.Service, hub *Hub, reports ReportLister, health http.Handler, bounds Bounds) *API {
	return &API{
		svc:               svc,
		hub:               hub,
		reports:           reports,
		health:            health,
		bounds:            bounds,
		now:               time.Now,
		DefaultExpiryDays: model.DefaultExpiryDays,
	}
}

// Handler returns the routed handler wrapped in CORS.
func (a *API) Handler() http.Handler {
	return cors(a.Router())
}

// Router registers every route on a new mux.Router.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(traceMiddleware)

	r.HandleFunc("/ws", a.handleWS)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/price", a.handlePrice).Methods(http.MethodPost)
	api.HandleFunc("/aggregate", a.handleAggregate).Methods(http.MethodPost)
	api.HandleFunc("/stress", a.handleStress).Methods(http.MethodPost)
	api.HandleFunc("/explain", a.handleExplain).Methods(http.MethodPost)

	api.HandleFunc("/book", a.handleGetBook).Methods(http.MethodGet)
	api.HandleFunc("/book", a.handlePutBook).Methods(http.MethodPut)
	api.HandleFunc("/book/positions", a.handleAddPosition).Methods(http.MethodPost)
	api.HandleFunc("/book/positions/{index:[0-9]+}", a.handleRemovePosition).Methods(http.MethodDelete)

	api.HandleFunc("/settings", a.handleGetSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", a.handlePutSettings).Methods(http.MethodPut)

	api.HandleFunc("/report", a.handleReport).Methods(http.MethodGet)
	api.HandleFunc("/reports", a.handleReports).Methods(http.MethodGet)
	api.HandleFunc("/spot", a.handleSpot).Methods(http.MethodGet)
	api.HandleFunc("/missed", a.handleMissed).Methods(http.MethodGet)
	api.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	return r
}

// cors sets CORS headers and answers preflight requests.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Trace-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// traceMiddleware attaches a trace id (from X-Trace-ID or a new one) to the
// request context and echoes it in the response.
func traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Trace-ID")
		if id == "" {
			id = logger.NewTraceID()
		}
		w.Header().Set("X-Trace-ID", id)
		ctx := logger.WithTraceID(r.Context(), id)

		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))
		slog.Debug("http request", append(logger.LogWithTrace(ctx),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("took", time.Since(start)),
		)...)
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status code and writes a JSON error body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrInvalidInput), errors.Is(err, model.ErrUnknownKind),
		errors.Is(err, portfolio.ErrPositionIndex), errors.Is(err, errBadRequest):
		code = http.StatusBadRequest
	case errors.Is(err, riskengine.ErrNoReport):
		code = http.StatusNotFound
	case errors.Is(err, errUnavailable):
		code = http.StatusServiceUnavailable
	}
	if code == http.StatusInternalServerError {
		slog.Error("request failed", append(logger.LogWithTrace(r.Context()),
			slog.String("path", r.URL.Path), slog.String("error", err.Error()))...)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

var (
	errBadRequest  = errors.New("bad request")
	errUnavailable = errors.New("unavailable")
)

func decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// marketInput overrides parts of the live market. Missing fields come from
// the last quote and the current settings.
type marketInput struct {
	Spot *float64 `json:"spot"`
	Rate *float64 `json:"rate"`
	Vol  *float64 `json:"vol"`
}

func (a *API) market(in *marketInput) (model.MarketSnapshot, error) {
	settings := a.svc.Settings()
	m := model.MarketSnapshot{Spot: a.svc.PricingQuote().Price, Rate: settings.Rate, Vol: settings.Vol}
	if in != nil {
		if in.Spot != nil {
			m.Spot = *in.Spot
		}
		if in.Rate != nil {
			m.Rate = *in.Rate
		}
		if in.Vol != nil {
			m.Vol = *in.Vol
		}
	}
	return m, m.Validate()
}

func (a *API) positions(in []model.Position) []model.Position {
	if in != nil {
		return in
	}
	return a.svc.Book().Positions()
}

type priceRequest struct {
	Kind   string  `json:"type"`
	Strike float64 `json:"strike"`
	// Expiry is a day count ("15") or a YYMMDD date ("250627").
	Expiry string `json:"expiry"`
	marketInput
}

func (a *API) handlePrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	kind, err := model.ParseKind(req.Kind)
	if err != nil {
		writeError(w, r, err)
		return
	}
	market, err := a.market(&req.marketInput)
	if err != nil {
		writeError(w, r, err)
		return
	}
	spec := model.ContractSpec{
		Kind:         kind,
		Strike:       req.Strike,
		DaysToExpiry: model.ParseExpiry(req.Expiry, a.now(), a.DefaultExpiryDays),
	}
	g, err := a.svc.PriceContract(spec, market)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"contract": spec,
		"market":   market,
		"greeks":   g,
	})
}

type bookRequest struct {
	Positions []model.Position `json:"positions"`
	Market    *marketInput     `json:"market"`
}

func (a *API) handleAggregate(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	market, err := a.market(req.Market)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rows, totals, err := a.svc.Aggregate(a.positions(req.Positions), market)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"market":  market,
		"rows":    rows,
		"totals":  totals,
		"display": report.RoundTotals(totals),
	})
}

type stressRequest struct {
	bookRequest
	GridWidth  float64 `json:"grid_width"`
	GridPoints int     `json:"grid_points"`
	VolShift   float64 `json:"vol_shift"`
}

// maxGridPoints caps a request's sweep; every point reprices the whole book
// three times.
const maxGridPoints = 1000

// checkGrid rejects grid overrides outside 1..maxGridPoints points, a width
// outside (0, 1) or a negative vol shift. Zero keeps the configured value.
func (req stressRequest) checkGrid() error {
	if req.GridPoints < 0 || req.GridPoints > maxGridPoints {
		return fmt.Errorf("%w: grid_points must be 1..%d", errBadRequest, maxGridPoints)
	}
	if req.GridWidth < 0 || req.GridWidth >= 1 || math.IsNaN(req.GridWidth) {
		return fmt.Errorf("%w: grid_width must be in (0, 1)", errBadRequest)
	}
	if req.VolShift < 0 || math.IsNaN(req.VolShift) || math.IsInf(req.VolShift, 0) {
		return fmt.Errorf("%w: vol_shift must not be negative", errBadRequest)
	}
	return nil
}

func (a *API) handleStress(w http.ResponseWriter, r *http.Request) {
	var req stressRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	market, err := a.market(req.Market)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := req.checkGrid(); err != nil {
		writeError(w, r, err)
		return
	}
	cfg := a.svc.Settings().Sweep
	if req.GridWidth > 0 {
		cfg.GridWidth = req.GridWidth
	}
	if req.GridPoints > 0 {
		cfg.GridPoints = req.GridPoints
	}
	if req.VolShift > 0 {
		cfg.VolShift = req.VolShift
	}
	res, err := a.svc.Stress(r.Context(), a.positions(req.Positions), market, cfg)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type moveInput struct {
	DSpot float64 `json:"d_spot"`
	DVol  float64 `json:"d_vol"`
	// DT is in days; omitted means model.DefaultDT.
	DT *float64 `json:"dt"`
}

func (m moveInput) move() model.MarketMove {
	mv := model.MarketMove{DSpot: m.DSpot, DVol: m.DVol, DT: model.DefaultDT}
	if m.DT != nil {
		mv.DT = *m.DT
	}
	return mv
}

type explainRequest struct {
	// Totals, when set, are explained directly with no book or reprice.
	Totals *model.PortfolioTotals `json:"totals"`
	bookRequest
	Move moveInput `json:"move"`
}

type explainResponse struct {
	Move        model.MarketMove     `json:"move"`
	Attribution model.PnLAttribution `json:"attribution"`
	Lines       []explain.Line       `json:"lines"`
	Repriced    *float64             `json:"repriced_pnl,omitempty"`
	Residual    *float64             `json:"residual,omitempty"`
}

func (a *API) handleExplain(w http.ResponseWriter, r *http.Request) {
	var req explainRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	mv := req.Move.move()

	if req.Totals != nil {
		attr := explain.ExplainMove(*req.Totals, mv)
		writeJSON(w, http.StatusOK, explainResponse{Move: mv, Attribution: attr, Lines: explain.Lines(attr)})
		return
	}

	market, err := a.market(req.Market)
	if err != nil {
		writeError(w, r, err)
		return
	}
	positions := a.positions(req.Positions)
	_, totals, err := a.svc.Aggregate(positions, market)
	if err != nil {
		writeError(w, r, err)
		return
	}
	attr := explain.ExplainMove(totals, mv)
	repriced, err := portfolio.Reprice(positions, market, mv, a.svc.Settings().Sweep.VolFloor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	residual := explain.Residual(attr, repriced)
	writeJSON(w, http.StatusOK, explainResponse{
		Move:        mv,
		Attribution: attr,
		Lines:       explain.Lines(attr),
		Repriced:    &repriced,
		Residual:    &residual,
	})
}

type bookResponse struct {
	Positions []model.Position `json:"positions"`
	Version   int64            `json:"version"`
}

func (a *API) bookResponse() bookResponse {
	positions, version := a.svc.Book().Snapshot()
	if positions == nil {
		positions = []model.Position{}
	}
	return bookResponse{Positions: positions, Version: version}
}

func (a *API) handleGetBook(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.bookResponse())
}

func (a *API) handlePutBook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Positions []model.Position `json:"positions"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.svc.Book().Replace(req.Positions); err != nil {
		writeError(w, r, err)
		return
	}
	a.svc.Trigger()
	log.Printf("[gateway] book replaced: %d positions", len(req.Positions))
	writeJSON(w, http.StatusOK, a.bookResponse())
}

func (a *API) handleAddPosition(w http.ResponseWriter, r *http.Request) {
	var p model.Position
	if err := decode(r, &p); err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.svc.Book().Add(p); err != nil {
		writeError(w, r, err)
		return
	}
	a.svc.Trigger()
	writeJSON(w, http.StatusCreated, a.bookResponse())
}

func (a *API) handleRemovePosition(w http.ResponseWriter, r *http.Request) {
	i, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: index", errBadRequest))
		return
	}
	if err := a.svc.Book().Remove(i); err != nil {
		writeError(w, r, err)
		return
	}
	a.svc.Trigger()
	writeJSON(w, http.StatusOK, a.bookResponse())
}

type settingsResponse struct {
	riskengine.Settings
	Bounds Bounds `json:"bounds"`
}

func (a *API) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, settingsResponse{Settings: a.svc.Settings(), Bounds: a.bounds})
}

func (a *API) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	cur := a.svc.Settings()
	req := struct {
		Vol  *float64 `json:"vol"`
		Rate *float64 `json:"rate"`
		// Spot pins the pricing spot; 0 clears the override.
		Spot *float64   `json:"spot"`
		Move *moveInput `json:"move"`
	}{}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	vol, rate := cur.Vol, cur.Rate
	if req.Vol != nil {
		vol = *req.Vol
	}
	if req.Rate != nil {
		rate = *req.Rate
	}
	spot := cur.Spot
	if req.Spot != nil {
		spot = req.Spot
		if *req.Spot == 0 {
			spot = nil
		}
	}
	mv := cur.Move
	if req.Move != nil {
		mv = req.Move.move()
	}
	if err := a.bounds.check(vol, mv); err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.svc.UpdateSettings(vol, rate, spot, mv); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settingsResponse{Settings: a.svc.Settings(), Bounds: a.bounds})
}

func (a *API) handleReport(w http.ResponseWriter, r *http.Request) {
	rep, err := a.svc.Latest()
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(rep.JSON())
}

func (a *API) handleReports(w http.ResponseWriter, r *http.Request) {
	if a.reports == nil {
		writeError(w, r, fmt.Errorf("%w: report journal disabled", errUnavailable))
		return
	}
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, r, fmt.Errorf("%w: limit must be 1..1000", errBadRequest))
			return
		}
		limit = n
	}
	reports, err := a.reports.Recent(r.Context(), a.svc.Symbol(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if reports == nil {
		reports = []model.RiskReport{}
	}
	writeJSON(w, http.StatusOK, reports)
}

func (a *API) handleSpot(w http.ResponseWriter, r *http.Request) {
	q := a.svc.PricingQuote()
	if q.Price <= 0 {
		writeError(w, r, fmt.Errorf("%w: no spot yet", errUnavailable))
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// handleMissed returns buffered envelopes for gap backfill:
// /api/v1/missed?channel=risk&from=10&to=14
func (a *API) handleMissed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	channel := q.Get("channel")
	from, err1 := strconv.ParseInt(q.Get("from"), 10, 64)
	to, err2 := strconv.ParseInt(q.Get("to"), 10, 64)
	if channel == "" || err1 != nil || err2 != nil || from > to {
		writeError(w, r, fmt.Errorf("%w: channel, from and to are required", errBadRequest))
		return
	}
	envs := a.hub.GetReplayRange(channel, from, to)
	out := make([]json.RawMessage, len(envs))
	for i, e := range envs {
		out[i] = e
	}
	// Envelopes older than the ring are gone; the client must resync from
	// the latest snapshot instead.
	oldest := a.hub.GetReplayOldest(channel)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"channel":          channel,
		"channel_seq":      a.hub.GetChannelSeq(channel),
		"oldest_available": oldest,
		"complete":         oldest > 0 && from >= oldest,
		"envelopes":        out,
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if a.health != nil {
		a.health.ServeHTTP(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"ws_clients": a.hub.ClientCount(),
	})
}

func (a *API) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] ws upgrade error: %v", err)
		return
	}
	a.hub.HandleWSRequest(conn, r.URL.Query().Get("last_ts"))
}
