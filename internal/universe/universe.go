// Package universe decides which tickers the pipeline tracks.
package universe

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/bighogz/form4-feed/internal/config"
	"github.com/bighogz/form4-feed/internal/httpclient"
	"github.com/bighogz/form4-feed/internal/logging"
)

const ConstituentsURL = "https://raw.githubusercontent.com/datasets/s-and-p-500-companies/master/data/constituents.csv"

var ErrNoSymbols = errors.New("universe: constituents list has no symbols")

type Company struct {
	Symbol      string `json:"symbol"`
	Name        string `json:"name"`
	Sector      string `json:"sector"`
	SubIndustry string `json:"sub_industry,omitempty"`
}

// ParseCSV reads the constituents CSV. Columns are located by header name;
// duplicate and blank symbols are dropped.
func ParseCSV(r io.Reader) ([]Company, error) {
	rows, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("universe: read csv: %w", err)
	}
	if len(rows) < 2 {
		return nil, ErrNoSymbols
	}
	symIdx, nameIdx, sectorIdx, subIdx := -1, -1, -1, -1
	for i, h := range rows[0] {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "symbol":
			symIdx = i
		case "security", "name":
			nameIdx = i
		case "gics sector", "sector":
			sectorIdx = i
		case "gics sub-industry":
			subIdx = i
		}
	}
	if symIdx < 0 {
		return nil, fmt.Errorf("universe: no symbol column in header %v", rows[0])
	}
	seen := make(map[string]bool)
	out := make([]Company, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if symIdx >= len(row) {
			continue
		}
		sym := strings.ToUpper(strings.TrimSpace(row[symIdx]))
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		c := Company{Symbol: sym, Sector: "Unknown"}
		if nameIdx >= 0 && nameIdx < len(row) {
			c.Name = strings.TrimSpace(row[nameIdx])
		}
		if sectorIdx >= 0 && sectorIdx < len(row) {
			if s := strings.TrimSpace(row[sectorIdx]); s != "" {
				c.Sector = s
			}
		}
		if subIdx >= 0 && subIdx < len(row) {
			c.SubIndustry = strings.TrimSpace(row[subIdx])
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, ErrNoSymbols
	}
	return out, nil
}

// Resolver loads the tracked universe. The zero value fetches the public
// constituents list with the shared HTTP client.
type Resolver struct {
	Client *http.Client
	URL    string
	Logger *zap.Logger
}

// LoadSP500 downloads and parses the constituents list.
func (r Resolver) LoadSP500(ctx context.Context) ([]Company, error) {
	client, url := r.Client, r.URL
	if client == nil {
		client = httpclient.Default
	}
	if url == "" {
		url = ConstituentsURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("universe: fetch constituents: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("universe: fetch constituents: status %d", resp.StatusCode)
	}
	return ParseCSV(resp.Body)
}

// Resolve returns the configured tickers, else the S&P 500 when enabled,
// else config.DefaultTickers. A failed S&P 500 load falls back to the
// default list.
func (r Resolver) Resolve(ctx context.Context, cfg *config.Config) []string {
	log := logging.OrNop(r.Logger)
	if len(cfg.Tickers) > 0 {
		return append([]string(nil), cfg.Tickers...)
	}
	if cfg.TrackSP500 {
		companies, err := r.LoadSP500(ctx)
		if err == nil {
			out := make([]string, len(companies))
			for i, c := range companies {
				out[i] = c.Symbol
			}
			log.Info("tracking S&P 500", zap.Int("tickers", len(out)))
			return out
		}
		log.Warn("S&P 500 list unavailable, using default tickers", zap.Error(err))
	}
	return append([]string(nil), config.DefaultTickers...)
}
