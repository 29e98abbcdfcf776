package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	godotenv.Load(".env")
}

func Get(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func GetBool(key, defaultVal string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		v = defaultVal
	}
	return v == "1" || v == "true" || v == "yes"
}

func GetInt(key string, defaultVal int) int {
	v := Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

// GetList splits a comma-separated variable, dropping blanks.
func GetList(key string) []string {
	v := Get(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// DefaultTickers is tracked when neither a list nor the S&P 500 is configured.
var DefaultTickers = []string{"AAPL", "MSFT", "AMZN", "GOOGL", "META"}

type Config struct {
	DataDir string `yaml:"data_dir"`
	DBPath  string `yaml:"db_path"`
	JSONDir string `yaml:"json_dir"`

	DetailedYears  int  `yaml:"detailed_years"`
	QuarterlyYears int  `yaml:"quarterly_years"`
	LargeLimit     int  `yaml:"large_limit"`
	RecentLimit    int  `yaml:"recent_limit"`
	LatestLimit    int  `yaml:"latest_limit"`
	AtomicPublish  bool `yaml:"atomic_publish"`

	Tickers      []string `yaml:"tickers"`
	TrackSP500   bool     `yaml:"track_sp500"`
	LookbackDays int      `yaml:"lookback_days"`

	FetchCommand    string        `yaml:"fetch_command"`
	FetchArgs       []string      `yaml:"fetch_args"`
	FetchTimeoutStr string        `yaml:"fetch_timeout"`
	FetchTimeout    time.Duration `yaml:"-"`

	Dedupe bool `yaml:"dedupe"`

	Trace     bool   `yaml:"trace"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Port        string `yaml:"port"`
	AdminAPIKey string `yaml:"-"`
}

func Default() *Config {
	return &Config{
		DataDir:         "data",
		DetailedYears:   3,
		QuarterlyYears:  10,
		LargeLimit:      100,
		RecentLimit:     50,
		LatestLimit:     50,
		AtomicPublish:   true,
		LookbackDays:    180,
		FetchTimeoutStr: "10m",
		LogLevel:        "info",
		LogFormat:       "console",
		Port:            "8000",
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// path (or FORM4_CONFIG), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = Get("FORM4_CONFIG")
	}
	if path != "" {
		body, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(body, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := Get("FORM4_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := Get("FORM4_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := Get("FORM4_JSON_DIR"); v != "" {
		c.JSONDir = v
	}
	c.DetailedYears = GetInt("FORM4_DETAILED_YEARS", c.DetailedYears)
	c.QuarterlyYears = GetInt("FORM4_QUARTERLY_YEARS", c.QuarterlyYears)
	c.LargeLimit = GetInt("FORM4_LARGE_LIMIT", c.LargeLimit)
	c.RecentLimit = GetInt("FORM4_RECENT_LIMIT", c.RecentLimit)
	c.LatestLimit = GetInt("FORM4_LATEST_LIMIT", c.LatestLimit)
	c.AtomicPublish = GetBool("FORM4_ATOMIC_PUBLISH", strconv.FormatBool(c.AtomicPublish))
	if t := GetList("FORM4_TICKERS"); len(t) > 0 {
		c.Tickers = t
	}
	c.TrackSP500 = GetBool("FORM4_TRACK_SP500", strconv.FormatBool(c.TrackSP500))
	c.LookbackDays = GetInt("FORM4_LOOKBACK_DAYS", c.LookbackDays)
	if v := Get("FORM4_FETCH_CMD"); v != "" {
		c.FetchCommand = v
	}
	if v := Get("FORM4_FETCH_TIMEOUT"); v != "" {
		c.FetchTimeoutStr = v
	}
	c.Dedupe = GetBool("FORM4_DEDUPE", strconv.FormatBool(c.Dedupe))
	c.Trace = GetBool("FORM4_TRACE", strconv.FormatBool(c.Trace))
	if v := Get("FORM4_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := Get("FORM4_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := Get("PORT"); v != "" {
		c.Port = v
	}
	c.AdminAPIKey = Get("ADMIN_API_KEY")
}

func (c *Config) finish() error {
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "insider_trading.db")
	}
	if c.JSONDir == "" {
		c.JSONDir = filepath.Join(c.DataDir, "json")
	}
	if c.FetchTimeoutStr != "" {
		d, err := time.ParseDuration(c.FetchTimeoutStr)
		if err != nil {
			return fmt.Errorf("parse fetch timeout %q: %w", c.FetchTimeoutStr, err)
		}
		c.FetchTimeout = d
	}
	for i, t := range c.Tickers {
		c.Tickers[i] = strings.ToUpper(strings.TrimSpace(t))
	}
	if c.DetailedYears < 0 || c.QuarterlyYears < 0 {
		return fmt.Errorf("retention years must be non-negative (detailed=%d, quarterly=%d)", c.DetailedYears, c.QuarterlyYears)
	}
	return nil
}
