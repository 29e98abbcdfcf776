package export

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/bighogz/form4-feed/internal/artifact"
	"github.com/bighogz/form4-feed/internal/models"
)

// ErrTickerCollision is returned by Files when two tickers share a directory.
var ErrTickerCollision = errors.New("ticker directory collision")

type CompaniesDoc struct {
	LastUpdated string           `json:"last_updated"`
	Count       int              `json:"count"`
	Companies   []models.Company `json:"companies"`
}

type TransactionsDoc struct {
	Ticker         string                `json:"ticker"`
	LastUpdated    string                `json:"last_updated"`
	RetentionYears int                   `json:"retention_years"`
	Count          int                   `json:"count"`
	Transactions   []models.FilingRecord `json:"transactions"`
}

type LatestDoc struct {
	Ticker      string                `json:"ticker"`
	LastUpdated string                `json:"last_updated"`
	Count       int                   `json:"count"`
	Trades      []models.FilingRecord `json:"trades"`
}

type QuarterDoc struct {
	Ticker       string                `json:"ticker"`
	Year         int                   `json:"year"`
	Quarter      int                   `json:"quarter"`
	LastUpdated  string                `json:"last_updated"`
	Count        int                   `json:"count"`
	Transactions []models.FilingRecord `json:"transactions"`
}

type SummaryDoc struct {
	LastUpdated        string                `json:"last_updated"`
	LargeTransactions  []models.SummaryEntry `json:"large_transactions"`
	RecentTransactions []models.SummaryEntry `json:"recent_transactions"`
}

// Tree holds every artifact derived from one snapshot of the store.
type Tree struct {
	Companies    CompaniesDoc
	Tickers      []string
	Transactions map[string]TransactionsDoc
	Latest       map[string]LatestDoc
	Quarters     map[string][]QuarterDoc
	Summary      SummaryDoc
}

// Build derives the artifact tree from rows. asOf anchors the retention
// windows; updated is stamped into last_updated. Build does not read the
// previous tree, so equal inputs give equal output.
func Build(rows []models.FilingRecord, opts Options, asOf, updated time.Time) *Tree {
	opts = opts.withDefaults()
	stamp := updated.UTC().Format(time.RFC3339)

	sorted := append([]models.FilingRecord(nil), rows...)
	sortByDateDesc(sorted)

	t := &Tree{
		Transactions: make(map[string]TransactionsDoc),
		Latest:       make(map[string]LatestDoc),
		Quarters:     make(map[string][]QuarterDoc),
	}
	t.Companies = CompaniesDoc{LastUpdated: stamp, Companies: companyIndex(sorted)}
	t.Companies.Count = len(t.Companies.Companies)

	detailCutoff := startOfDay(asOf.AddDate(-opts.DetailedYears, 0, 0))
	quarterCutoff := startOfDay(asOf.AddDate(-opts.QuarterlyYears, 0, 0))

	byTicker := groupByTicker(sorted)
	for _, ticker := range sortedKeys(byTicker) {
		all := byTicker[ticker]
		t.Tickers = append(t.Tickers, ticker)

		detail := make([]models.FilingRecord, 0, len(all))
		for _, r := range all {
			if d, ok := r.Date(); ok && !d.Before(detailCutoff) {
				detail = append(detail, r)
			}
		}
		t.Transactions[ticker] = TransactionsDoc{
			Ticker:         ticker,
			LastUpdated:    stamp,
			RetentionYears: opts.DetailedYears,
			Count:          len(detail),
			Transactions:   detail,
		}

		latest := all[:min(opts.LatestLimit, len(all))]
		t.Latest[ticker] = LatestDoc{
			Ticker:      ticker,
			LastUpdated: stamp,
			Count:       len(latest),
			Trades:      latest,
		}

		t.Quarters[ticker] = quarterPartitions(ticker, all, quarterCutoff, stamp)
	}

	t.Summary = SummaryDoc{
		LastUpdated:        stamp,
		LargeTransactions:  largest(sorted, opts.LargeLimit),
		RecentTransactions: mostRecent(sorted, opts.RecentLimit),
	}
	return t
}

// Files marshals every artifact. Any failure aborts before anything is
// written. Two tickers that map to the same directory, compared without
// case, are an error.
func (t *Tree) Files() ([]artifact.File, error) {
	dirs := make(map[string]string, len(t.Tickers))
	for _, ticker := range t.Tickers {
		key := strings.ToLower(TickerDir(ticker))
		if prev, ok := dirs[key]; ok {
			return nil, fmt.Errorf("%w: %q and %q both map to %s", ErrTickerCollision, prev, ticker, TickerDir(ticker))
		}
		dirs[key] = ticker
	}

	var files []artifact.File
	add := func(rel string, v any) error {
		f, err := artifact.Marshal(rel, v)
		if err != nil {
			return err
		}
		files = append(files, f)
		return nil
	}

	if err := add("companies.json", t.Companies); err != nil {
		return nil, err
	}
	for _, ticker := range t.Tickers {
		dir := TickerDir(ticker)
		if err := add(path.Join(dir, "transactions.json"), t.Transactions[ticker]); err != nil {
			return nil, err
		}
		if err := add(path.Join(dir, "latest.json"), t.Latest[ticker]); err != nil {
			return nil, err
		}
		for _, q := range t.Quarters[ticker] {
			if err := add(QuarterPath(ticker, q.Year, q.Quarter), q); err != nil {
				return nil, err
			}
		}
	}
	if err := add("summary.json", t.Summary); err != nil {
		return nil, err
	}
	return files, nil
}

// TickerDir maps a ticker to a safe directory name.
func TickerDir(ticker string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, ticker)
	if strings.HasPrefix(name, ".") {
		name = "_" + name
	}
	return name
}

func QuarterPath(ticker string, year, quarter int) string {
	return path.Join(TickerDir(ticker), "quarterly", fmt.Sprintf("%d-Q%d.json", year, quarter))
}

// sortByDateDesc orders by transaction_date descending with undated rows
// last. The sort is stable so ties keep store order.
func sortByDateDesc(rows []models.FilingRecord) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].TransactionDate, rows[j].TransactionDate
		if a == nil || b == nil {
			return a != nil && b == nil
		}
		return *a > *b
	})
}

type companyKey struct {
	ticker  string
	name    string
	hasName bool
}

func companyIndex(rows []models.FilingRecord) []models.Company {
	groups := make(map[companyKey]*models.Company)
	for _, r := range rows {
		ticker := r.Ticker()
		if ticker == "" {
			continue
		}
		key := companyKey{ticker: ticker, name: models.Deref(r.IssuerName), hasName: r.IssuerName != nil}
		c, ok := groups[key]
		if !ok {
			c = &models.Company{Ticker: ticker, Name: r.IssuerName}
			groups[key] = c
		}
		c.TransactionCount++
		if d := r.TransactionDate; d != nil {
			if c.LatestTransaction == nil || *d > *c.LatestTransaction {
				c.LatestTransaction = d
			}
			if c.EarliestTransaction == nil || *d < *c.EarliestTransaction {
				c.EarliestTransaction = d
			}
		}
	}

	out := make([]models.Company, 0, len(groups))
	for _, c := range groups {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.TransactionCount != b.TransactionCount {
			return a.TransactionCount > b.TransactionCount
		}
		if a.Ticker != b.Ticker {
			return a.Ticker < b.Ticker
		}
		if (a.Name == nil) != (b.Name == nil) {
			return a.Name == nil
		}
		return models.Deref(a.Name) < models.Deref(b.Name)
	})
	return out
}

func groupByTicker(rows []models.FilingRecord) map[string][]models.FilingRecord {
	out := make(map[string][]models.FilingRecord)
	for _, r := range rows {
		if ticker := r.Ticker(); ticker != "" {
			out[ticker] = append(out[ticker], r)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type quarterID struct{ year, quarter int }

func quarterPartitions(ticker string, rows []models.FilingRecord, cutoff time.Time, stamp string) []QuarterDoc {
	groups := make(map[quarterID][]models.FilingRecord)
	for _, r := range rows {
		d, ok := r.Date()
		if !ok {
			continue
		}
		id := quarterID{d.Year(), (int(d.Month())-1)/3 + 1}
		groups[id] = append(groups[id], r)
	}

	// A quarter survives while any part of it lies inside the window.
	ids := make([]quarterID, 0, len(groups))
	for id := range groups {
		start := time.Date(id.year, time.Month(3*(id.quarter-1)+1), 1, 0, 0, 0, 0, time.UTC)
		if !start.AddDate(0, 3, 0).After(cutoff) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].year != ids[j].year {
			return ids[i].year > ids[j].year
		}
		return ids[i].quarter > ids[j].quarter
	})

	out := make([]QuarterDoc, 0, len(ids))
	for _, id := range ids {
		txns := groups[id]
		out = append(out, QuarterDoc{
			Ticker:       ticker,
			Year:         id.year,
			Quarter:      id.quarter,
			LastUpdated:  stamp,
			Count:        len(txns),
			Transactions: txns,
		})
	}
	return out
}

func largest(rows []models.FilingRecord, limit int) []models.SummaryEntry {
	type valued struct {
		rec   *models.FilingRecord
		entry models.SummaryEntry
	}
	var candidates []valued
	for i := range rows {
		if _, ok := rows[i].Notional(); !ok {
			continue
		}
		candidates = append(candidates, valued{&rows[i], models.NewSummaryEntry(&rows[i])})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, _ := candidates[i].rec.Notional()
		b, _ := candidates[j].rec.Notional()
		return a.GreaterThan(b)
	})

	out := make([]models.SummaryEntry, 0, min(limit, len(candidates)))
	for _, c := range candidates[:min(limit, len(candidates))] {
		out = append(out, c.entry)
	}
	return out
}

// mostRecent ignores value entirely; it only needs a usable date.
func mostRecent(rows []models.FilingRecord, limit int) []models.SummaryEntry {
	out := make([]models.SummaryEntry, 0, limit)
	for i := range rows {
		if len(out) == limit {
			break
		}
		if _, ok := rows[i].Date(); !ok {
			continue
		}
		out = append(out, models.NewSummaryEntry(&rows[i]))
	}
	return out
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
