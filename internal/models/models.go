package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const DateLayout = "2006-01-02"

// FilingRecord is one processed Form 4 document. Numeric fields stay as the
// raw source text; use ParseNumber when a value is needed.
type FilingRecord struct {
	ID                     int64   `json:"id"`
	IssuerName             *string `json:"issuer_name"`
	IssuerTicker           *string `json:"issuer_ticker"`
	ReportingOwner         *string `json:"reporting_owner"`
	ReportingOwnerCIK      *string `json:"reporting_owner_cik"`
	ReportingOwnerPosition *string `json:"reporting_owner_position"`
	TransactionDate        *string `json:"transaction_date"`
	TransactionShares      *string `json:"transaction_shares"`
	TransactionPrice       *string `json:"transaction_price"`
	TransactionType        *string `json:"transaction_type"`
	SharesAfterTransaction *string `json:"shares_after_transaction"`
	SourceFile             string  `json:"source_file"`
	CreatedAt              string  `json:"created_at"`
}

// Ticker returns the issuer ticker or "" when absent.
func (r *FilingRecord) Ticker() string {
	return Deref(r.IssuerTicker)
}

// Date parses transaction_date. ok is false for absent or non-ISO dates.
func (r *FilingRecord) Date() (time.Time, bool) {
	s := Deref(r.TransactionDate)
	if len(s) < len(DateLayout) {
		return time.Time{}, false
	}
	t, err := time.Parse(DateLayout, s[:len(DateLayout)])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// NaturalKey approximates document identity: source file, transaction date
// and owner CIK. It is not guaranteed unique across distinct filings.
func (r *FilingRecord) NaturalKey() string {
	parts := []string{
		r.SourceFile,
		Deref(r.TransactionDate),
		strings.TrimSpace(Deref(r.ReportingOwnerCIK)),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// Notional returns shares × price when both parse as positive numbers.
func (r *FilingRecord) Notional() (decimal.Decimal, bool) {
	shares, ok := ParseNumber(r.TransactionShares)
	if !ok || !shares.IsPositive() {
		return decimal.Zero, false
	}
	price, ok := ParseNumber(r.TransactionPrice)
	if !ok || !price.IsPositive() {
		return decimal.Zero, false
	}
	return shares.Mul(price), true
}

// ParseNumber coerces numeric-as-text values. Empty, absent and
// non-numeric strings ("N/A") report ok=false.
func ParseNumber(s *string) (decimal.Decimal, bool) {
	if s == nil {
		return decimal.Zero, false
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(v, ",", ""))
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// Company is one entry of companies.json.
type Company struct {
	Ticker              string  `json:"ticker"`
	Name                *string `json:"name"`
	TransactionCount    int     `json:"transaction_count"`
	LatestTransaction   *string `json:"latest_transaction"`
	EarliestTransaction *string `json:"earliest_transaction"`
}

// SummaryEntry is the flattened shape used by summary.json.
type SummaryEntry struct {
	Ticker   *string  `json:"ticker"`
	Company  *string  `json:"company"`
	Insider  *string  `json:"insider"`
	Position *string  `json:"position"`
	Date     *string  `json:"date"`
	Shares   *string  `json:"shares"`
	Price    *string  `json:"price"`
	Type     *string  `json:"type"`
	Value    *float64 `json:"value"`
}

// NewSummaryEntry flattens r; Value is nil when the notional is not computable.
func NewSummaryEntry(r *FilingRecord) SummaryEntry {
	e := SummaryEntry{
		Ticker:   r.IssuerTicker,
		Company:  r.IssuerName,
		Insider:  r.ReportingOwner,
		Position: r.ReportingOwnerPosition,
		Date:     r.TransactionDate,
		Shares:   r.TransactionShares,
		Price:    r.TransactionPrice,
		Type:     r.TransactionType,
	}
	if v, ok := r.Notional(); ok {
		f := v.InexactFloat64()
		e.Value = &f
	}
	return e
}

// Str returns a pointer to s, or nil for the empty string.
func Str(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
