package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

// clearEnv blanks every variable Load reads so the host environment cannot
// leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"FORM4_CONFIG", "FORM4_DATA_DIR", "FORM4_DB_PATH", "FORM4_JSON_DIR",
		"FORM4_DETAILED_YEARS", "FORM4_QUARTERLY_YEARS", "FORM4_LARGE_LIMIT",
		"FORM4_RECENT_LIMIT", "FORM4_LATEST_LIMIT", "FORM4_ATOMIC_PUBLISH",
		"FORM4_TICKERS", "FORM4_TRACK_SP500", "FORM4_LOOKBACK_DAYS",
		"FORM4_FETCH_CMD", "FORM4_FETCH_TIMEOUT", "FORM4_DEDUPE", "FORM4_TRACE",
		"FORM4_LOG_LEVEL", "FORM4_LOG_FORMAT", "PORT", "ADMIN_API_KEY",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DBPath != filepath.Join("data", "insider_trading.db") || cfg.JSONDir != filepath.Join("data", "json") {
		t.Errorf("paths = %s, %s", cfg.DBPath, cfg.JSONDir)
	}
	if cfg.DetailedYears != 3 || cfg.QuarterlyYears != 10 || !cfg.AtomicPublish {
		t.Errorf("retention = %d/%d atomic=%v", cfg.DetailedYears, cfg.QuarterlyYears, cfg.AtomicPublish)
	}
	if cfg.FetchTimeout != 10*time.Minute {
		t.Errorf("fetch timeout = %v", cfg.FetchTimeout)
	}
	if cfg.Dedupe {
		t.Error("dedupe on by default")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("FORM4_DATA_DIR", "/srv/form4")
	t.Setenv("FORM4_DETAILED_YEARS", "5")
	t.Setenv("FORM4_TICKERS", " aapl, ,nvda ")
	t.Setenv("FORM4_ATOMIC_PUBLISH", "false")
	t.Setenv("FORM4_DEDUPE", "yes")
	t.Setenv("FORM4_FETCH_TIMEOUT", "90s")
	t.Setenv("ADMIN_API_KEY", "k")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DBPath != filepath.Join("/srv/form4", "insider_trading.db") {
		t.Errorf("db path = %s", cfg.DBPath)
	}
	if cfg.DetailedYears != 5 || cfg.AtomicPublish || !cfg.Dedupe || cfg.AdminAPIKey != "k" {
		t.Errorf("cfg = %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.Tickers, []string{"AAPL", "NVDA"}) {
		t.Errorf("tickers = %v", cfg.Tickers)
	}
	if cfg.FetchTimeout != 90*time.Second {
		t.Errorf("fetch timeout = %v", cfg.FetchTimeout)
	}
}

func TestLoadYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "form4.yaml")
	body := `data_dir: /var/lib/form4
json_dir: /var/www/form4
quarterly_years: 7
tickers: [msft, googl]
fetch_command: /usr/local/bin/edgar-fetch
fetch_args: ["--company", "Example Co", "--email", "ops@example.com"]
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FORM4_QUARTERLY_YEARS", "8")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.JSONDir != "/var/www/form4" || cfg.DBPath != filepath.Join("/var/lib/form4", "insider_trading.db") {
		t.Errorf("paths = %s, %s", cfg.DBPath, cfg.JSONDir)
	}
	// Environment wins over the file.
	if cfg.QuarterlyYears != 8 {
		t.Errorf("quarterly years = %d, want 8", cfg.QuarterlyYears)
	}
	if !reflect.DeepEqual(cfg.Tickers, []string{"MSFT", "GOOGL"}) {
		t.Errorf("tickers = %v", cfg.Tickers)
	}
	if cfg.FetchCommand != "/usr/local/bin/edgar-fetch" || len(cfg.FetchArgs) != 4 {
		t.Errorf("fetch = %s %v", cfg.FetchCommand, cfg.FetchArgs)
	}
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(bad, []byte("tickers: [unterminated"), 0644)

	tests := []struct {
		name string
		path string
		env  map[string]string
	}{
		{"missing file", filepath.Join(dir, "missing.yaml"), nil},
		{"invalid yaml", bad, nil},
		{"bad duration", "", map[string]string{"FORM4_FETCH_TIMEOUT": "soon"}},
		{"negative years", "", map[string]string{"FORM4_DETAILED_YEARS": "-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(tt.path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestGetHelpers(t *testing.T) {
	t.Setenv("FORM4_TEST_INT", "12")
	t.Setenv("FORM4_TEST_BAD", "twelve")
	if got := GetInt("FORM4_TEST_INT", 1); got != 12 {
		t.Errorf("GetInt = %d", got)
	}
	if got := GetInt("FORM4_TEST_BAD", 1); got != 1 {
		t.Errorf("GetInt fallback = %d", got)
	}
	if !GetBool("FORM4_TEST_UNSET", "true") {
		t.Error("GetBool default ignored")
	}
}
