package portfolio

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/PurpleRainAndMJ/Options-Risks/internal/model"
	"github.com/PurpleRainAndMJ/Options-Risks/internal/pricing"
)

var testMarket = model.MarketSnapshot{Spot: 65000, Rate: 0.02, Vol: 0.5}

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestAggregate_Empty(t *testing.T) {
	totals, err := Aggregate(nil, testMarket)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if totals != (model.PortfolioTotals{}) {
		t.Errorf("expected zero totals, got %+v", totals)
	}

	// An empty book is not an error even with an unusable market.
	if _, err := Aggregate([]model.Position{}, model.MarketSnapshot{}); err != nil {
		t.Errorf("expected no error for empty book, got %v", err)
	}
}

func TestAggregate_QuantityLinearity(t *testing.T) {
	spec := model.ContractSpec{Kind: model.Call, Strike: 65000, DaysToExpiry: 15}
	one, err := Aggregate([]model.Position{{ContractSpec: spec, Qty: 1}}, testMarket)
	if err != nil {
		t.Fatalf("aggregate qty=1: %v", err)
	}
	two, err := Aggregate([]model.Position{{ContractSpec: spec, Qty: 2}}, testMarket)
	if err != nil {
		t.Fatalf("aggregate qty=2: %v", err)
	}

	pairs := []struct {
		name     string
		one, two float64
	}{
		{"value", one.Value, two.Value},
		{"delta", one.Delta, two.Delta},
		{"gamma", one.Gamma, two.Gamma},
		{"vega", one.Vega, two.Vega},
		{"theta", one.Theta, two.Theta},
	}
	for _, p := range pairs {
		if !almostEqual(p.two, 2*p.one, 1e-12*math.Max(1, math.Abs(p.one))) {
			t.Errorf("%s: qty=2 gives %v, want %v", p.name, p.two, 2*p.one)
		}
	}
}

func TestAggregate_SumsScaledGreeks(t *testing.T) {
	book := model.DefaultBook()
	totals, err := Aggregate(book, testMarket)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if totals.Positions != len(book) {
		t.Errorf("positions: got %d, want %d", totals.Positions, len(book))
	}

	var want model.GreekSet
	for _, p := range book {
		g := pricing.PriceAndGreeks(testMarket.Spot, p.Strike, p.DaysToExpiry, testMarket.Rate, testMarket.Vol, p.Kind)
		want.Price += g.Price * p.Qty
		want.Delta += g.Delta * p.Qty
		want.Gamma += g.Gamma * p.Qty
		want.Vega += g.Vega * p.Qty
		want.Theta += g.Theta * p.Qty
	}
	if totals.Value != want.Price || totals.Delta != want.Delta || totals.Gamma != want.Gamma ||
		totals.Vega != want.Vega || totals.Theta != want.Theta {
		t.Errorf("totals %+v do not match manual fold %+v", totals, want)
	}
}

func TestAggregate_ShortPositionFlipsSign(t *testing.T) {
	spec := model.ContractSpec{Kind: model.Put, Strike: 60000, DaysToExpiry: 10}
	long, _ := Aggregate([]model.Position{{ContractSpec: spec, Qty: 1}}, testMarket)
	short, _ := Aggregate([]model.Position{{ContractSpec: spec, Qty: -1}}, testMarket)
	if long.Delta != -short.Delta || long.Vega != -short.Vega {
		t.Errorf("short should mirror long: %+v vs %+v", long, short)
	}
}

func TestAggregate_NoNettingOfIdenticalRows(t *testing.T) {
	spec := model.ContractSpec{Kind: model.Call, Strike: 65000, DaysToExpiry: 15}
	split, _ := Aggregate([]model.Position{{ContractSpec: spec, Qty: 1}, {ContractSpec: spec, Qty: 1}}, testMarket)
	if split.Positions != 2 {
		t.Errorf("expected both rows counted, got %d", split.Positions)
	}
}

func TestAggregate_InvalidPosition(t *testing.T) {
	book := model.DefaultBook()
	book[1].Strike = 0
	_, err := Aggregate(book, testMarket)
	if !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	_, err = Aggregate(model.DefaultBook(), model.MarketSnapshot{Spot: 65000, Vol: 0})
	if !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for zero vol, got %v", err)
	}
}

func TestAggregate_Idempotent(t *testing.T) {
	a, _ := Aggregate(model.DefaultBook(), testMarket)
	b, _ := Aggregate(model.DefaultBook(), testMarket)
	if a != b {
		t.Errorf("repeated calls differ: %+v vs %+v", a, b)
	}
}

func TestBreakdown_MatchesAggregate(t *testing.T) {
	book := model.DefaultBook()
	rows, totals, err := Breakdown(book, testMarket)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != len(book) {
		t.Fatalf("expected %d rows, got %d", len(book), len(rows))
	}
	agg, _ := Aggregate(book, testMarket)
	if totals != agg {
		t.Errorf("breakdown totals %+v differ from aggregate %+v", totals, agg)
	}
	if rows[1].Scaled.Delta != rows[1].Unit.Delta*-0.5 {
		t.Errorf("row scaling wrong: %+v", rows[1])
	}
}

func TestLinspace(t *testing.T) {
	got := Linspace(0.8, 1.2, 5)
	want := []float64{0.8, 0.9, 1.0, 1.1, 1.2}
	if len(got) != len(want) {
		t.Fatalf("len: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if !almostEqual(got[i], want[i], 1e-12) {
			t.Errorf("[%d]: got %v, want %v", i, got[i], want[i])
		}
	}
	if got[len(got)-1] != 1.2 {
		t.Errorf("last point must equal hi exactly, got %v", got[len(got)-1])
	}
	if g := Linspace(3, 9, 1); len(g) != 1 || g[0] != 3 {
		t.Errorf("n=1: got %v", g)
	}
	if g := Linspace(3, 9, 0); g != nil {
		t.Errorf("n=0: got %v", g)
	}
}

func TestSpotGrid_Default(t *testing.T) {
	grid := SpotGrid(65000, DefaultGridWidth, DefaultGridPoints)
	if len(grid) != 50 {
		t.Fatalf("expected 50 points, got %d", len(grid))
	}
	if !almostEqual(grid[0], 52000, 1e-9) || !almostEqual(grid[49], 78000, 1e-9) {
		t.Errorf("unexpected range [%v, %v]", grid[0], grid[49])
	}
}

func TestWithSpot(t *testing.T) {
	got := WithSpot([]float64{1, 2, 4}, 3)
	want := []float64{1, 2, 3, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if got := WithSpot([]float64{1, 2, 3}, 2); len(got) != 3 {
		t.Errorf("existing spot should not duplicate: %v", got)
	}
	if got := WithSpot([]float64{1, 2}, 5); got[len(got)-1] != 5 {
		t.Errorf("spot above grid should append: %v", got)
	}
}

func TestVolScenarios(t *testing.T) {
	sc := VolScenarios(0.5, DefaultVolShift, DefaultVolFloor)
	if len(sc) != 3 {
		t.Fatalf("expected 3 scenarios, got %d", len(sc))
	}
	if sc[0].Name != ScenarioLow || !almostEqual(sc[0].Vol, 0.4, 1e-12) {
		t.Errorf("low: %+v", sc[0])
	}
	if sc[1].Name != ScenarioCurrent || sc[1].Vol != 0.5 {
		t.Errorf("current: %+v", sc[1])
	}
	if sc[2].Name != ScenarioHigh || !almostEqual(sc[2].Vol, 0.6, 1e-12) {
		t.Errorf("high: %+v", sc[2])
	}

	floored := VolScenarios(0.05, DefaultVolShift, DefaultVolFloor)
	if floored[0].Vol != DefaultVolFloor {
		t.Errorf("expected low vol floored at %v, got %v", DefaultVolFloor, floored[0].Vol)
	}
}

func TestStressSweep_AnchorAtSpot(t *testing.T) {
	cfg := DefaultSweepConfig()
	cfg.IncludeSpot = true
	res, err := Sweep(context.Background(), model.DefaultBook(), testMarket, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cur, ok := res.Curve(ScenarioCurrent)
	if !ok {
		t.Fatal("missing current curve")
	}
	found := false
	for _, p := range cur.Points {
		if p.Spot == testMarket.Spot {
			found = true
			if !almostEqual(p.PnL, 0, 1e-9) {
				t.Errorf("expected zero PnL at spot, got %v", p.PnL)
			}
		}
	}
	if !found {
		t.Fatal("grid does not contain the spot")
	}

	totals, _ := Aggregate(model.DefaultBook(), testMarket)
	if !almostEqual(res.Baseline, totals.Value, 1e-9) {
		t.Errorf("baseline %v differs from aggregate value %v", res.Baseline, totals.Value)
	}
}

func TestStressSweep_ShapeAndOrder(t *testing.T) {
	grid := SpotGrid(testMarket.Spot, 0.2, 11)
	scenarios := VolScenarios(testMarket.Vol, 0.1, 0.01)
	res, err := StressSweep(context.Background(), model.DefaultBook(), testMarket, grid, scenarios, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Curves) != 3 {
		t.Fatalf("expected 3 curves, got %d", len(res.Curves))
	}
	for i, c := range res.Curves {
		if c.Scenario != scenarios[i] {
			t.Errorf("curve %d: scenario %+v, want %+v", i, c.Scenario, scenarios[i])
		}
		if len(c.Points) != len(grid) {
			t.Fatalf("curve %d: %d points, want %d", i, len(c.Points), len(grid))
		}
		for j, p := range c.Points {
			if p.Spot != grid[j] {
				t.Errorf("curve %d point %d: spot %v, want %v", i, j, p.Spot, grid[j])
			}
		}
	}
}

func TestStressSweep_MatchesFullReprice(t *testing.T) {
	book := model.DefaultBook()
	grid := []float64{60000, 70000}
	scenarios := []model.StressScenario{{Name: "shock", Vol: 0.8}}
	res, err := StressSweep(context.Background(), book, testMarket, grid, scenarios, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	base, _ := Aggregate(book, testMarket)
	for i, spot := range grid {
		shocked, _ := Aggregate(book, model.MarketSnapshot{Spot: spot, Rate: testMarket.Rate, Vol: 0.8})
		want := shocked.Value - base.Value
		if got := res.Curves[0].Points[i].PnL; !almostEqual(got, want, 1e-9) {
			t.Errorf("spot %v: got %v, want %v", spot, got, want)
		}
	}
}

func TestStressSweep_DeterministicAcrossWorkerCounts(t *testing.T) {
	book := model.DefaultBook()
	grid := SpotGrid(testMarket.Spot, 0.2, 50)
	scenarios := VolScenarios(testMarket.Vol, 0.1, 0.01)

	ref, err := StressSweep(context.Background(), book, testMarket, grid, scenarios, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, w := range []int{2, 7, 64, 0} {
		got, err := StressSweep(context.Background(), book, testMarket, grid, scenarios, w)
		if err != nil {
			t.Fatalf("workers=%d: %v", w, err)
		}
		for i := range ref.Curves {
			for j := range ref.Curves[i].Points {
				if got.Curves[i].Points[j] != ref.Curves[i].Points[j] {
					t.Fatalf("workers=%d: curve %d point %d differs", w, i, j)
				}
			}
		}
	}
}

func TestStressSweep_EmptyBookIsFlat(t *testing.T) {
	res, err := Sweep(context.Background(), nil, testMarket, DefaultSweepConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, c := range res.Curves {
		for _, p := range c.Points {
			if p.PnL != 0 {
				t.Fatalf("expected flat curve, got %v", p.PnL)
			}
		}
	}
}

func TestStressSweep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	grid := SpotGrid(testMarket.Spot, 0.2, 500)
	_, err := StressSweep(ctx, model.DefaultBook(), testMarket, grid, VolScenarios(0.5, 0.1, 0.01), 1)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStressSweep_RejectsInvalidScenario(t *testing.T) {
	_, err := StressSweep(context.Background(), model.DefaultBook(), testMarket,
		[]float64{65000}, []model.StressScenario{{Name: "bad", Vol: 0}}, 1)
	if !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestCheckLimits(t *testing.T) {
	totals := model.PortfolioTotals{Delta: -3, Gamma: 0.0001, Vega: 50, Theta: -400}
	stress := model.StressResult{Curves: []model.StressCurve{{Points: []model.StressPoint{{PnL: -12000}}}}}

	if b := CheckLimits(RiskLimits{}, totals, stress); len(b) != 0 {
		t.Errorf("disabled limits should not breach: %v", b)
	}

	limits := RiskLimits{MaxAbsDelta: 2, MaxAbsGamma: 1, MaxAbsVega: 100, MaxDailyTheta: 300, MaxStressLoss: 10000}
	b := CheckLimits(limits, totals, stress)
	if len(b) != 3 {
		t.Fatalf("expected 3 breaches, got %v", b)
	}
	if b[0].Limit != LimitDelta || b[0].Value != 3 {
		t.Errorf("delta breach: %+v", b[0])
	}
	if b[1].Limit != LimitTheta || b[1].Value != 400 {
		t.Errorf("theta breach: %+v", b[1])
	}
	if b[2].Limit != LimitStress || b[2].Value != 12000 {
		t.Errorf("stress breach: %+v", b[2])
	}
}

func TestBook_Edits(t *testing.T) {
	b := NewBook(model.DefaultBook())
	if b.Len() != 3 {
		t.Fatalf("expected 3 rows, got %d", b.Len())
	}

	snap := b.Positions()
	if err := b.Remove(0); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if snap[0].Strike != 65000 {
		t.Errorf("snapshot mutated by Remove: %+v", snap[0])
	}
	if b.Len() != 2 || b.Positions()[0].Strike != 60000 {
		t.Errorf("unexpected rows after remove: %+v", b.Positions())
	}
	if err := b.Remove(5); err == nil {
		t.Error("expected out-of-range error")
	}

	bad := model.Position{ContractSpec: model.ContractSpec{Kind: model.Call, Strike: -1}}
	if err := b.Add(bad); !errors.Is(err, model.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if err := b.Replace([]model.Position{bad}); err == nil {
		t.Error("expected Replace to reject invalid row")
	}
	if b.Len() != 2 {
		t.Errorf("failed edits must not change the book, got %d rows", b.Len())
	}

	v := b.Version()
	if err := b.Replace(nil); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if b.Len() != 0 || b.Version() != v+1 {
		t.Errorf("expected empty book at version %d, got len=%d v=%d", v+1, b.Len(), b.Version())
	}
}

func TestBook_SnapshotCarriesVersion(t *testing.T) {
	b := NewBook(model.DefaultBook())
	rows, v := b.Snapshot()
	if len(rows) != 3 || v != 0 {
		t.Fatalf("unexpected snapshot len=%d v=%d", len(rows), v)
	}
	b.Add(model.DefaultBook()[0])
	if _, v2 := b.Snapshot(); v2 != v+1 {
		t.Errorf("expected version %d, got %d", v+1, v2)
	}
}

func TestReprice_ZeroMoveIsZero(t *testing.T) {
	pnl, err := Reprice(model.DefaultBook(), testMarket, model.MarketMove{}, DefaultVolFloor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pnl != 0 {
		t.Errorf("expected exactly 0, got %v", pnl)
	}
}

func TestReprice_SpotMoveMatchesValues(t *testing.T) {
	book := model.DefaultBook()
	mv := model.MarketMove{DSpot: 1000}
	pnl, err := Reprice(book, testMarket, mv, DefaultVolFloor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	base, _ := Aggregate(book, testMarket)
	up, _ := Aggregate(book, testMarket.WithSpot(66000))
	if !almostEqual(pnl, up.Value-base.Value, 1e-9) {
		t.Errorf("reprice %v != %v", pnl, up.Value-base.Value)
	}
}

func TestReprice_TimeDecayUsesTheta(t *testing.T) {
	book := model.DefaultBook()
	pnl, err := Reprice(book, testMarket, model.MarketMove{DT: 1}, DefaultVolFloor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	totals, _ := Aggregate(book, testMarket)
	// One day of decay should be close to the per-day theta.
	if !almostEqual(pnl, totals.Theta, 0.05*math.Abs(totals.Theta)) {
		t.Errorf("one-day reprice %v far from theta %v", pnl, totals.Theta)
	}
}

func TestReprice_FloorsVol(t *testing.T) {
	book := model.DefaultBook()
	pnl, err := Reprice(book, testMarket, model.MarketMove{DVol: -0.9}, 0.05)
	if err != nil {
		t.Fatalf("vol below zero should be floored, got %v", err)
	}
	base, _ := Aggregate(book, testMarket)
	floored, _ := Aggregate(book, testMarket.WithVol(0.05))
	if !almostEqual(pnl, floored.Value-base.Value, 1e-9) {
		t.Errorf("reprice %v != floored %v", pnl, floored.Value-base.Value)
	}
}

func TestReprice_EmptyAndInvalid(t *testing.T) {
	if pnl, err := Reprice(nil, testMarket, model.MarketMove{DSpot: 5}, DefaultVolFloor); pnl != 0 || err != nil {
		t.Errorf("empty book: %v, %v", pnl, err)
	}
	_, err := Reprice(model.DefaultBook(), model.MarketSnapshot{Spot: 0, Vol: 0.5}, model.MarketMove{}, DefaultVolFloor)
	if !errors.Is(err, model.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}
