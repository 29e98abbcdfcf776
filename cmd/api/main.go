package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bighogz/form4-feed/internal/config"
	"github.com/bighogz/form4-feed/internal/export"
	"github.com/bighogz/form4-feed/internal/logging"
	"github.com/bighogz/form4-feed/internal/models"
	"github.com/bighogz/form4-feed/internal/store"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid logging config: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log = log.With(zap.String("run_id", uuid.NewString()))

	ctx := context.Background()
	s, err := store.Open(ctx, cfg.DBPath, store.Options{})
	if err != nil {
		log.Fatal("open store", zap.Error(err))
	}
	defer s.Close()
	if err := s.Initialize(ctx); err != nil {
		log.Fatal("initialize store", zap.Error(err))
	}

	srv := newServer(cfg, s, log)
	log.Info("listening", zap.String("port", cfg.Port), zap.String("json_dir", cfg.JSONDir))
	if err := http.ListenAndServe(":"+cfg.Port, srv.routes()); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

type server struct {
	cfg      *config.Config
	store    *store.Store
	log      *zap.Logger
	exporter *export.Exporter

	queryLimiter  *rateLimiter
	exportLimiter *rateLimiter

	exportMu     sync.Mutex
	lastExportAt time.Time
	lastReport   *export.Report
}

const exportDebounce = time.Minute

func newServer(cfg *config.Config, s *store.Store, log *zap.Logger) *server {
	log = logging.OrNop(log)
	return &server{
		cfg:           cfg,
		store:         s,
		log:           log,
		exporter:      &export.Exporter{Store: s, Logger: log, Options: export.OptionsFromConfig(cfg)},
		queryLimiter:  newRateLimiter(200 * time.Millisecond),
		exportLimiter: newRateLimiter(5 * time.Second),
	}
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", securityHeaders(s.serveIndex))
	mux.HandleFunc("/data/", securityHeaders(s.serveData))
	mux.HandleFunc("/api/transactions", securityHeaders(rateLimit(s.queryLimiter, s.handleTransactions)))
	mux.HandleFunc("/api/export", securityHeaders(s.adminOrRateLimit(s.handleExport)))
	mux.HandleFunc("/api/meta", securityHeaders(s.handleMeta))
	mux.HandleFunc("/api/health", securityHeaders(s.handleHealth))
	return mux
}

func (s *server) serveIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	jsonResponse(w, map[string]interface{}{
		"companies": "/data/companies.json",
		"summary":   "/data/summary.json",
		"endpoints": []string{"/api/transactions", "/api/export", "/api/meta", "/api/health"},
	})
}

// serveData exposes the published JSON tree read-only.
func (s *server) serveData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	subpath := strings.TrimPrefix(r.URL.Path, "/data/")
	subpath = strings.TrimPrefix(subpath, "/")
	if subpath == "" || strings.Contains(subpath, "..") || !strings.HasSuffix(subpath, ".json") {
		http.NotFound(w, r)
		return
	}
	path := safeStaticPath(s.cfg.JSONDir, subpath)
	if path == "" {
		http.NotFound(w, r)
		return
	}
	if fi, err := os.Stat(path); err != nil || fi.IsDir() {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	http.ServeFile(w, r, path)
}

func (s *server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	f := store.Filter{
		Ticker:   strings.TrimSpace(q.Get("ticker")),
		DateFrom: strings.TrimSpace(q.Get("date_from")),
		DateTo:   strings.TrimSpace(q.Get("date_to")),
		Owner:    strings.TrimSpace(q.Get("owner")),
		Limit:    clamp(parseInt(q.Get("limit"), store.DefaultLimit), 1, 1000),
	}
	for _, d := range []string{f.DateFrom, f.DateTo} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(models.DateLayout, d); err != nil {
			w.Header().Set("Content-Type", "application/json")
			http.Error(w, `{"error":"dates must be YYYY-MM-DD"}`, http.StatusBadRequest)
			return
		}
	}
	rows, err := s.store.Query(r.Context(), f)
	if err != nil {
		s.log.Error("query failed", zap.Error(err))
		w.Header().Set("Content-Type", "application/json")
		http.Error(w, `{"error":"query failed"}`, http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]interface{}{
		"count":        len(rows),
		"transactions": rows,
	})
}

func (s *server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rep, at, fresh, err := s.runExport(r.Context())
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		http.Error(w, `{"error":"export failed"}`, http.StatusInternalServerError)
		return
	}
	status := "exported"
	if !fresh {
		status = "recently exported"
	}
	jsonResponse(w, map[string]interface{}{
		"status":       status,
		"exported_at":  at.UTC().Format(time.RFC3339),
		"rows":         rep.Rows,
		"companies":    rep.Companies,
		"partitions":   rep.Partitions,
		"pruned_count": len(rep.Pruned),
	})
}

// runExport serializes materializer runs. A run inside the debounce window
// returns the previous report with fresh=false.
func (s *server) runExport(ctx context.Context) (rep export.Report, at time.Time, fresh bool, err error) {
	s.exportMu.Lock()
	defer s.exportMu.Unlock()
	if s.lastReport != nil && time.Since(s.lastExportAt) < exportDebounce {
		return *s.lastReport, s.lastExportAt, false, nil
	}
	rep, err = s.exporter.Run(ctx, time.Now())
	if err != nil {
		s.log.Error("export failed", zap.Error(err))
		return rep, time.Time{}, false, err
	}
	s.lastExportAt = time.Now()
	s.lastReport = &rep
	return rep, s.lastExportAt, true, nil
}

func (s *server) handleMeta(w http.ResponseWriter, r *http.Request) {
	var doc struct {
		LastUpdated *string `json:"last_updated"`
		Count       int     `json:"count"`
	}
	body, err := os.ReadFile(safeStaticPath(s.cfg.JSONDir, "companies.json"))
	if err == nil {
		json.Unmarshal(body, &doc)
	}
	jsonResponse(w, map[string]interface{}{
		"last_updated": doc.LastUpdated,
		"companies":    doc.Count,
	})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.Count(r.Context())
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "store unavailable"})
		return
	}
	jsonResponse(w, map[string]interface{}{"status": "ok", "rows": n})
}

func jsonResponse(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
