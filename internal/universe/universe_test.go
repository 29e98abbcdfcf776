package universe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/bighogz/form4-feed/internal/config"
)

const constituents = `Symbol,Security,GICS Sector,GICS Sub-Industry
AAPL,Apple Inc.,Information Technology,Technology Hardware
MSFT,Microsoft,Information Technology,Systems Software
brk.b,Berkshire Hathaway,Financials,
AAPL,Apple Inc.,Information Technology,Technology Hardware
,Blank,,
`

func TestParseCSV(t *testing.T) {
	got, err := ParseCSV(strings.NewReader(constituents))
	if err != nil {
		t.Fatal(err)
	}
	want := []Company{
		{Symbol: "AAPL", Name: "Apple Inc.", Sector: "Information Technology", SubIndustry: "Technology Hardware"},
		{Symbol: "MSFT", Name: "Microsoft", Sector: "Information Technology", SubIndustry: "Systems Software"},
		{Symbol: "BRK.B", Name: "Berkshire Hathaway", Sector: "Financials"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v\nwant %+v", got, want)
	}
}

func TestParseCSVErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"header only", "Symbol,Security\n"},
		{"no symbol column", "Ticker,Name\nAAPL,Apple\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseCSV(strings.NewReader(tt.body)); err == nil {
				t.Error("expected error")
			}
		})
	}
	if _, err := ParseCSV(strings.NewReader("Symbol\n\n")); !errors.Is(err, ErrNoSymbols) {
		t.Errorf("blank symbols err = %v", err)
	}
}

func TestResolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(constituents))
	}))
	defer srv.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer broken.Close()

	tests := []struct {
		name string
		url  string
		cfg  config.Config
		want []string
	}{
		{"explicit list", srv.URL, config.Config{Tickers: []string{"NVDA"}, TrackSP500: true}, []string{"NVDA"}},
		{"sp500", srv.URL, config.Config{TrackSP500: true}, []string{"AAPL", "MSFT", "BRK.B"}},
		{"sp500 unavailable", broken.URL, config.Config{TrackSP500: true}, config.DefaultTickers},
		{"default", srv.URL, config.Config{}, config.DefaultTickers},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Resolver{Client: srv.Client(), URL: tt.url}
			got := r.Resolve(context.Background(), &tt.cfg)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
