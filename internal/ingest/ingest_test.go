package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/bighogz/form4-feed/internal/models"
	"github.com/bighogz/form4-feed/internal/source"
	"github.com/bighogz/form4-feed/internal/store"
)

func filing(ticker, owner, cik, date, shares, price string) string {
	return fmt.Sprintf(`<ownershipDocument>
	<issuer><issuerName>%[1]s Inc.</issuerName><issuerTradingSymbol>%[1]s</issuerTradingSymbol></issuer>
	<reportingOwner>
		<reportingOwnerId><rptOwnerCik>%[3]s</rptOwnerCik><rptOwnerName>%[2]s</rptOwnerName></reportingOwnerId>
		<reportingOwnerRelationship><officerTitle>CEO</officerTitle></reportingOwnerRelationship>
	</reportingOwner>
	<nonDerivativeTable><nonDerivativeTransaction>
		<transactionDate><value>%[4]s</value></transactionDate>
		<transactionCoding><transactionCode>S</transactionCode></transactionCoding>
		<transactionAmounts>
			<transactionShares><value>%[5]s</value></transactionShares>
			<transactionPricePerShare><value>%[6]s</value></transactionPricePerShare>
		</transactionAmounts>
	</nonDerivativeTransaction></nonDerivativeTable>
</ownershipDocument>`, ticker, owner, cik, date, shares, price)
}

// memSource serves documents from memory.
type memSource struct {
	docs map[string]string
	err  error
}

func (m memSource) Documents(context.Context) ([]source.Document, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []source.Document
	for p := range m.docs {
		out = append(out, source.Document{Path: p})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m memSource) Open(doc source.Document) (io.ReadCloser, error) {
	body, ok := m.docs[doc.Path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func sample() memSource {
	return memSource{docs: map[string]string{
		"AAPL/a.xml":  filing("AAPL", "Cook, Tim", "0001111111", "2025-01-15", "10000", "180.25"),
		"MSFT/b.xml":  filing("MSFT", "Nadella, Satya", "0004444444", "2025-01-20", "15000", "380.50"),
		"GOOGL/c.xml": filing("GOOGL", "Pichai, Sundar", "0006666666", "2025-01-05", "8000", "150.50"),
		"bad/d.xml":   "<ownershipDocument><issuer>",
	}}
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, filepath.Join(t.TempDir(), "insider_trading.db"), store.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	return s
}

func count(t *testing.T, s *store.Store) int {
	t.Helper()
	n, err := s.Count(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestRunCountsErrors(t *testing.T) {
	s := openStore(t)
	d := &Driver{Source: sample(), Store: s}

	res, err := d.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res != (Result{Processed: 3, Errors: 1}) {
		t.Errorf("result = %+v", res)
	}
	if n := count(t, s); n != 3 {
		t.Errorf("rows = %d, want 3", n)
	}

	rows, err := s.Query(context.Background(), store.Filter{Ticker: "MSFT"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].SourceFile != "MSFT/b.xml" || models.Deref(rows[0].TransactionPrice) != "380.50" {
		t.Errorf("MSFT rows = %+v", rows)
	}
}

func TestRunTwiceDuplicates(t *testing.T) {
	s := openStore(t)
	d := &Driver{Source: sample(), Store: s}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := d.Run(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if n := count(t, s); n != 6 {
		t.Errorf("rows = %d, want 6", n)
	}
}

func TestRunDedupe(t *testing.T) {
	s := openStore(t)
	d := &Driver{Source: sample(), Store: s, Dedupe: true}
	ctx := context.Background()

	if _, err := d.Run(ctx); err != nil {
		t.Fatal(err)
	}
	res, err := d.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res != (Result{Processed: 0, Errors: 1, Skipped: 3}) {
		t.Errorf("second pass = %+v", res)
	}
	if n := count(t, s); n != 3 {
		t.Errorf("rows = %d, want 3", n)
	}
}

func TestRunEnumerationError(t *testing.T) {
	boom := errors.New("permission denied")
	d := &Driver{Source: memSource{err: boom}, Store: openStore(t)}
	if _, err := d.Run(context.Background()); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

type failingStore struct{}

func (failingStore) Insert(context.Context, *models.FilingRecord) (int64, error) {
	return 0, errors.New("disk I/O error")
}

func (failingStore) InsertIfAbsent(context.Context, *models.FilingRecord) (int64, bool, error) {
	return 0, false, errors.New("disk I/O error")
}

func TestRunInsertFailures(t *testing.T) {
	for _, dedupe := range []bool{false, true} {
		d := &Driver{Source: sample(), Store: failingStore{}, Dedupe: dedupe}
		res, err := d.Run(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if res.Processed != 0 || res.Errors != 4 {
			t.Errorf("dedupe=%v result = %+v", dedupe, res)
		}
	}
}

func TestRunCancelled(t *testing.T) {
	s := openStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := &Driver{Source: sample(), Store: s}
	if _, err := d.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if n := count(t, s); n != 0 {
		t.Errorf("rows = %d, want 0", n)
	}
}

func TestRunFromDirectory(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, source.LayoutDir, "AAPL", "4", "0001", "primary.xml")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(filing("AAPL", "Cook, Tim", "0001111111", "2025-01-15", "10000", "180.25")), 0644); err != nil {
		t.Fatal(err)
	}

	s := openStore(t)
	res, err := (&Driver{Source: source.Dir{Root: root}, Store: s}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 1 {
		t.Errorf("result = %+v", res)
	}
	rows, err := s.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].SourceFile != path {
		t.Errorf("rows = %+v", rows)
	}
}
