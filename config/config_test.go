package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("RISK_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Symbol != "BTC/USDT" {
		t.Errorf("symbol: got %q", cfg.Symbol)
	}
	if cfg.FallbackSpot != 65000 || cfg.Vol != 0.5 || cfg.Rate != 0.02 {
		t.Errorf("market defaults: spot=%v vol=%v rate=%v", cfg.FallbackSpot, cfg.Vol, cfg.Rate)
	}
	if cfg.DefaultExpiryD != 30 {
		t.Errorf("default expiry: got %v", cfg.DefaultExpiryD)
	}
	if cfg.GridPoints != 50 || cfg.GridWidth != 0.2 || cfg.VolShift != 0.10 || cfg.VolFloor != 0.01 {
		t.Errorf("sweep defaults: %+v", cfg.SweepConfig())
	}
	if cfg.File != "" {
		t.Errorf("expected no overlay, got %q", cfg.File)
	}
	if cfg.Limits.Enabled() {
		t.Error("limits should be disabled by default")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RISK_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("RISK_SYMBOL", "ETH/USDT")
	t.Setenv("RISK_VOL", "0.8")
	t.Setenv("RISK_GRID_POINTS", "21")
	t.Setenv("RISK_REFRESH_INTERVAL", "250ms")
	t.Setenv("RISK_RATE", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Symbol != "ETH/USDT" || cfg.Vol != 0.8 || cfg.GridPoints != 21 {
		t.Errorf("env not applied: %+v", cfg)
	}
	if cfg.RefreshInterval != 250*time.Millisecond {
		t.Errorf("refresh interval: got %v", cfg.RefreshInterval)
	}
	if cfg.Rate != 0.02 {
		t.Errorf("invalid rate should fall back to default, got %v", cfg.Rate)
	}
}

func TestLoad_YAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "risk.yaml")
	doc := `
symbol: SOL/USDT
fallback_spot: 150
vol: 0.9
spot_cache_ttl: 1m
limits:
  max_abs_delta: 25
  max_stress_loss: 5000
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("RISK_CONFIG", path)
	t.Setenv("RISK_RATE", "0.03")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Symbol != "SOL/USDT" || cfg.FallbackSpot != 150 || cfg.Vol != 0.9 {
		t.Errorf("overlay not applied: symbol=%q spot=%v vol=%v", cfg.Symbol, cfg.FallbackSpot, cfg.Vol)
	}
	if cfg.Rate != 0.03 {
		t.Errorf("keys absent from the file must keep env values, got rate %v", cfg.Rate)
	}
	if cfg.SpotCacheTTL != time.Minute {
		t.Errorf("spot cache ttl: got %v", cfg.SpotCacheTTL)
	}
	if cfg.Limits.MaxAbsDelta != 25 || cfg.Limits.MaxStressLoss != 5000 {
		t.Errorf("limits: %+v", cfg.Limits)
	}
	if cfg.File != path {
		t.Errorf("file: got %q", cfg.File)
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("vol: [unclosed"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("RISK_CONFIG", path)
	if _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_UnknownYAMLKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "typo.yaml")
	if err := os.WriteFile(path, []byte("volatility: 0.4\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("RISK_CONFIG", path)
	if _, err := Load(); err == nil {
		t.Fatal("expected strict parse to reject unknown key")
	}
}

func TestValidate_ClampsSliders(t *testing.T) {
	cfg := &Config{
		Vol: 3, VolMin: 0.1, VolMax: 1.5,
		MoveSpot: -50000, MoveSpotMax: 10000,
		MoveVol: 0.5, MoveVolMax: 0.2,
		FallbackSpot: -1,
	}
	cfg.Validate()
	if cfg.Vol != 1.5 {
		t.Errorf("vol: got %v, want 1.5", cfg.Vol)
	}
	if cfg.MoveSpot != -10000 {
		t.Errorf("move spot: got %v, want -10000", cfg.MoveSpot)
	}
	if cfg.MoveVol != 0.2 {
		t.Errorf("move vol: got %v, want 0.2", cfg.MoveVol)
	}
	if cfg.FallbackSpot != 65000 {
		t.Errorf("fallback spot: got %v", cfg.FallbackSpot)
	}
	if cfg.GridPoints != 50 || cfg.SweepWorkers <= 0 || cfg.RefreshInterval <= 0 {
		t.Errorf("repairs not applied: %+v", cfg)
	}
}

func TestSweepConfig_IncludesSpot(t *testing.T) {
	cfg := &Config{GridWidth: 0.2, GridPoints: 50, VolShift: 0.1, VolFloor: 0.01, SweepWorkers: 3}
	sc := cfg.SweepConfig()
	if !sc.IncludeSpot || sc.Workers != 3 || sc.GridPoints != 50 {
		t.Errorf("unexpected sweep config: %+v", sc)
	}
}
