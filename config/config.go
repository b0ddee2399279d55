package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/PurpleRainAndMJ/Options-Risks/internal/portfolio"
)

// Config holds all service configuration. Values come from environment
// variables with defaults, then an optional YAML file overrides them.
type Config struct {
	// Market defaults
	Symbol          string        `yaml:"symbol"`
	FallbackSpot    float64       `yaml:"fallback_spot"`
	Vol             float64       `yaml:"vol"`
	Rate            float64       `yaml:"rate"`
	DefaultExpiryD  float64       `yaml:"default_expiry_days"`
	TickerURL       string        `yaml:"ticker_url"`
	SpotCacheTTL    time.Duration `yaml:"-"`
	RefreshInterval time.Duration `yaml:"-"`

	// Dashboard slider bounds
	VolMin      float64 `yaml:"vol_min"`
	VolMax      float64 `yaml:"vol_max"`
	MoveSpot    float64 `yaml:"move_spot"`
	MoveSpotMax float64 `yaml:"move_spot_max"`
	MoveVol     float64 `yaml:"move_vol"`
	MoveVolMax  float64 `yaml:"move_vol_max"`

	// Stress sweep
	GridWidth    float64 `yaml:"grid_width"`
	GridPoints   int     `yaml:"grid_points"`
	VolShift     float64 `yaml:"vol_shift"`
	VolFloor     float64 `yaml:"vol_floor"`
	SweepWorkers int     `yaml:"sweep_workers"`

	Limits portfolio.RiskLimits `yaml:"limits"`

	// Infrastructure
	RedisAddr       string `yaml:"redis_addr"`
	RedisPassword   string `yaml:"redis_password"`
	SQLitePath      string `yaml:"sqlite_path"`
	ReportRetention int    `yaml:"report_retention"`
	HTTPAddr        string `yaml:"http_addr"`
	MetricsAddr     string `yaml:"metrics_addr"`
	WebhookURL      string `yaml:"webhook_url"`
	TelegramToken   string `yaml:"telegram_token"`
	TelegramChatID  string `yaml:"telegram_chat_id"`
	LogLevel        string `yaml:"log_level"`

	// File is the YAML overlay that was applied, empty if none.
	File string `yaml:"-"`
}

// fileOverlay mirrors Config for YAML with duration fields as strings.
type fileOverlay struct {
	Config          `yaml:",inline"`
	SpotCacheTTL    string `yaml:"spot_cache_ttl"`
	RefreshInterval string `yaml:"refresh_interval"`
}

// Load reads configuration from environment variables with sensible defaults,
// then applies the YAML file named by RISK_CONFIG (default "config.yaml") if
// it exists. A malformed file is an error; a missing one is not.
func Load() (*Config, error) {
	cfg := &Config{
		Symbol:          getEnv("RISK_SYMBOL", "BTC/USDT"),
		FallbackSpot:    getEnvFloat("RISK_FALLBACK_SPOT", 65000),
		Vol:             getEnvFloat("RISK_VOL", 0.50),
		Rate:            getEnvFloat("RISK_RATE", 0.02),
		DefaultExpiryD:  getEnvFloat("RISK_DEFAULT_EXPIRY_DAYS", 30),
		TickerURL:       getEnv("RISK_TICKER_URL", "https://api.binance.com/api/v3/ticker/price"),
		SpotCacheTTL:    getEnvDuration("RISK_SPOT_CACHE_TTL", 30*time.Second),
		RefreshInterval: getEnvDuration("RISK_REFRESH_INTERVAL", 5*time.Second),

		VolMin:      getEnvFloat("RISK_VOL_MIN", 0.10),
		VolMax:      getEnvFloat("RISK_VOL_MAX", 1.50),
		MoveSpot:    getEnvFloat("RISK_MOVE_SPOT", 0),
		MoveSpotMax: getEnvFloat("RISK_MOVE_SPOT_MAX", 10000),
		MoveVol:     getEnvFloat("RISK_MOVE_VOL", 0),
		MoveVolMax:  getEnvFloat("RISK_MOVE_VOL_MAX", 0.20),

		GridWidth:    getEnvFloat("RISK_GRID_WIDTH", portfolio.DefaultGridWidth),
		GridPoints:   getEnvInt("RISK_GRID_POINTS", portfolio.DefaultGridPoints),
		VolShift:     getEnvFloat("RISK_VOL_SHIFT", portfolio.DefaultVolShift),
		VolFloor:     getEnvFloat("RISK_VOL_FLOOR", portfolio.DefaultVolFloor),
		SweepWorkers: getEnvInt("RISK_SWEEP_WORKERS", runtime.NumCPU()),

		Limits: portfolio.RiskLimits{
			MaxAbsDelta:   getEnvFloat("RISK_LIMIT_DELTA", 0),
			MaxAbsGamma:   getEnvFloat("RISK_LIMIT_GAMMA", 0),
			MaxAbsVega:    getEnvFloat("RISK_LIMIT_VEGA", 0),
			MaxDailyTheta: getEnvFloat("RISK_LIMIT_THETA", 0),
			MaxStressLoss: getEnvFloat("RISK_LIMIT_STRESS_LOSS", 0),
		},

		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		SQLitePath:      getEnv("SQLITE_PATH", "data/risk.db"),
		ReportRetention: getEnvInt("REPORT_RETENTION", 1000),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		MetricsAddr:     getEnv("METRICS_ADDR", ":9090"),
		WebhookURL:      getEnv("WEBHOOK_URL", ""),
		TelegramToken:   getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:  getEnv("TELEGRAM_CHAT_ID", ""),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}

	path := getEnv("RISK_CONFIG", "config.yaml")
	if err := cfg.applyFile(path); err != nil {
		return nil, err
	}

	cfg.Validate()
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return c.applyYAML(data, path)
}

// applyYAML overlays the keys present in a YAML document onto c.
func (c *Config) applyYAML(data []byte, path string) error {
	overlay := fileOverlay{Config: *c}
	if err := yaml.UnmarshalStrict(data, &overlay); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	if overlay.SpotCacheTTL != "" {
		d, err := time.ParseDuration(overlay.SpotCacheTTL)
		if err != nil {
			return fmt.Errorf("parse config %s: spot_cache_ttl: %w", path, err)
		}
		overlay.Config.SpotCacheTTL = d
	}
	if overlay.RefreshInterval != "" {
		d, err := time.ParseDuration(overlay.RefreshInterval)
		if err != nil {
			return fmt.Errorf("parse config %s: refresh_interval: %w", path, err)
		}
		overlay.Config.RefreshInterval = d
	}
	*c = overlay.Config
	c.File = path
	log.Printf("[config] applied overlay %s", path)
	return nil
}

// Validate clamps slider-bound values into range and repairs unusable
// settings, logging each adjustment.
func (c *Config) Validate() {
	if c.VolMin <= 0 {
		log.Printf("[config] vol_min %v not positive, using 0.10", c.VolMin)
		c.VolMin = 0.10
	}
	if c.VolMax < c.VolMin {
		log.Printf("[config] vol_max %v below vol_min, using %v", c.VolMax, c.VolMin)
		c.VolMax = c.VolMin
	}
	c.Vol = clamp("vol", c.Vol, c.VolMin, c.VolMax)
	c.MoveSpot = clamp("move_spot", c.MoveSpot, -c.MoveSpotMax, c.MoveSpotMax)
	c.MoveVol = clamp("move_vol", c.MoveVol, -c.MoveVolMax, c.MoveVolMax)

	if c.FallbackSpot <= 0 {
		log.Printf("[config] fallback_spot %v not positive, using 65000", c.FallbackSpot)
		c.FallbackSpot = 65000
	}
	if c.DefaultExpiryD <= 0 {
		c.DefaultExpiryD = 30
	}
	if c.GridPoints <= 0 {
		c.GridPoints = portfolio.DefaultGridPoints
	}
	if c.GridWidth <= 0 || c.GridWidth >= 1 {
		log.Printf("[config] grid_width %v out of (0,1), using %v", c.GridWidth, portfolio.DefaultGridWidth)
		c.GridWidth = portfolio.DefaultGridWidth
	}
	if c.VolFloor <= 0 {
		c.VolFloor = portfolio.DefaultVolFloor
	}
	if c.SweepWorkers <= 0 {
		c.SweepWorkers = runtime.NumCPU()
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 5 * time.Second
	}
	if c.ReportRetention <= 0 {
		c.ReportRetention = 1000
	}
}

// SweepConfig returns the stress-sweep parameters.
func (c *Config) SweepConfig() portfolio.SweepConfig {
	return portfolio.SweepConfig{
		GridWidth:   c.GridWidth,
		GridPoints:  c.GridPoints,
		VolShift:    c.VolShift,
		VolFloor:    c.VolFloor,
		IncludeSpot: true,
		Workers:     c.SweepWorkers,
	}
}

func clamp(name string, v, lo, hi float64) float64 {
	if v < lo {
		log.Printf("[config] %s %v below %v, clamping", name, v, lo)
		return lo
	}
	if v > hi {
		log.Printf("[config] %s %v above %v, clamping", name, v, hi)
		return hi
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return f
}

func getEnvInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return d
}
