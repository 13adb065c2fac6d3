package market

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func openCalendar(t *testing.T) *Calendar {
	t.Helper()
	cal, err := NewCalendar("America/New_York", "09:30", "16:00")
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	loc, _ := time.LoadLocation("America/New_York")
	return cal.WithClock(func() time.Time {
		return time.Date(2025, 6, 11, 12, 0, 0, 0, loc) // Wednesday noon
	})
}

func TestHTTPSource_FetchPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/quote" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("symbol"); got != "AAPL" {
			t.Errorf("symbol = %s, want AAPL", got)
		}
		fmt.Fprint(w, `{"symbol":"AAPL","price":189.45,"high":191.00,"low":188.10,"volume":1200000,"timestamp":"2025-06-11T16:00:00Z"}`)
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, time.Second, 100, openCalendar(t))
	quote, err := src.FetchPrice(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if !quote.Price.Equal(decimal.RequireFromString("189.45")) {
		t.Errorf("price = %s, want 189.45", quote.Price)
	}
	if quote.Volume != 1200000 {
		t.Errorf("volume = %d", quote.Volume)
	}
	if quote.Symbol != "AAPL" {
		t.Errorf("symbol = %s", quote.Symbol)
	}
}

func TestHTTPSource_UnknownSymbolIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, time.Second, 100, openCalendar(t))
	_, err := src.FetchPrice(context.Background(), "NOPE")
	if !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("expected ErrPriceUnavailable, got %v", err)
	}
}

func TestHTTPSource_ZeroPriceIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"symbol":"AAPL","price":0,"high":0,"low":0,"volume":0,"timestamp":"2025-06-11T16:00:00Z"}`)
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, time.Second, 100, openCalendar(t))
	if _, err := src.FetchPrice(context.Background(), "AAPL"); !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("expected ErrPriceUnavailable for zero price, got %v", err)
	}
}

func TestHTTPSource_FetchPrices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/quotes" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `[
			{"symbol":"AAPL","price":189.45,"high":191,"low":188,"volume":100,"timestamp":"2025-06-11T16:00:00Z"},
			{"symbol":"MSFT","price":0,"high":0,"low":0,"volume":0,"timestamp":"2025-06-11T16:00:00Z"},
			{"symbol":"NVDA","price":121.79,"high":123,"low":120,"volume":200,"timestamp":"2025-06-11T16:00:00Z"}
		]`)
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, time.Second, 100, openCalendar(t))
	quotes, err := src.FetchPrices(context.Background(), []string{"AAPL", "MSFT", "NVDA"})
	if err != nil {
		t.Fatalf("fetch batch: %v", err)
	}

	if len(quotes) != 2 {
		t.Fatalf("quotes = %d, want 2 (unpriceable symbol dropped)", len(quotes))
	}
	if _, ok := quotes["MSFT"]; ok {
		t.Error("zero-priced MSFT should be absent")
	}
	if !quotes["NVDA"].Price.Equal(decimal.RequireFromString("121.79")) {
		t.Errorf("NVDA price = %s", quotes["NVDA"].Price)
	}
}

func TestHTTPSource_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, time.Second, 1000, openCalendar(t))
	for i := 0; i < 5; i++ {
		if _, err := src.FetchPrice(context.Background(), "AAPL"); err == nil {
			t.Fatalf("round %d: expected failure", i)
		}
	}

	// Breaker is now open: the failure is immediate, without a request.
	srv.Close()
	if _, err := src.FetchPrice(context.Background(), "AAPL"); !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("expected ErrPriceUnavailable from open breaker, got %v", err)
	}
}

func TestStaticSource(t *testing.T) {
	src := NewStaticSource()
	src.SetPrice("AAPL", decimal.NewFromInt(100))

	quote, err := src.FetchPrice(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !quote.Price.Equal(decimal.NewFromInt(100)) {
		t.Errorf("price = %s", quote.Price)
	}

	if _, err := src.FetchPrice(context.Background(), "MSFT"); !errors.Is(err, ErrPriceUnavailable) {
		t.Errorf("expected ErrPriceUnavailable, got %v", err)
	}

	src.SetOpen(false)
	if src.IsMarketOpen() || src.IsTradingDay() {
		t.Error("static source should report closed")
	}
}
