package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/tradearena/ledger-engine/internal/model"
)

// HTTPSource fetches quotes from an external market-data provider over
// HTTP. Every call is bounded by the client timeout, throttled by a
// client-side rate limiter, and guarded by a circuit breaker so a
// flapping provider degrades to price_unavailable instead of hanging
// trade execution.
type HTTPSource struct {
	baseURL  string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	calendar *Calendar
}

// NewHTTPSource creates a provider client. rps bounds outbound request
// rate; timeout bounds each fetch.
func NewHTTPSource(baseURL string, timeout time.Duration, rps float64, cal *Calendar) *HTTPSource {
	settings := gobreaker.Settings{
		Name:     "quote-provider",
		Interval: 60 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("quote provider breaker state change",
				"name", name, "from", from.String(), "to", to.String())
		},
	}
	return &HTTPSource{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		breaker:  gobreaker.NewCircuitBreaker(settings),
		limiter:  rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		calendar: cal,
	}
}

// quotePayload is the provider's wire shape for a single quote.
type quotePayload struct {
	Symbol    string      `json:"symbol"`
	Price     json.Number `json:"price"`
	High      json.Number `json:"high"`
	Low       json.Number `json:"low"`
	Volume    int64       `json:"volume"`
	Timestamp time.Time   `json:"timestamp"`
}

func decimalFromNumber(n json.Number) (decimal.Decimal, error) {
	if n == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(n.String())
}

func (p *quotePayload) toQuote() (*model.Quote, error) {
	q := &model.Quote{
		Symbol:    p.Symbol,
		Volume:    p.Volume,
		Timestamp: p.Timestamp,
	}
	var err error
	if q.Price, err = decimalFromNumber(p.Price); err != nil {
		return nil, err
	}
	if q.High, err = decimalFromNumber(p.High); err != nil {
		return nil, err
	}
	if q.Low, err = decimalFromNumber(p.Low); err != nil {
		return nil, err
	}
	if q.Price.IsZero() || q.Price.IsNegative() {
		return nil, ErrPriceUnavailable
	}
	return q, nil
}

// FetchPrice returns the current quote for one symbol. Provider misses,
// timeouts, and open-breaker states all collapse to ErrPriceUnavailable.
func (s *HTTPSource) FetchPrice(ctx context.Context, symbol string) (*model.Quote, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}

	result, err := s.breaker.Execute(func() (interface{}, error) {
		return s.getQuote(ctx, symbol)
	})
	if err != nil {
		slog.Warn("quote fetch failed", "symbol", symbol, "err", err)
		return nil, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	return result.(*model.Quote), nil
}

// FetchPrices batch-fetches quotes for the given symbols. Symbols the
// provider cannot price are absent from the result.
func (s *HTTPSource) FetchPrices(ctx context.Context, symbols []string) (map[string]*model.Quote, error) {
	if len(symbols) == 0 {
		return map[string]*model.Quote{}, nil
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}

	result, err := s.breaker.Execute(func() (interface{}, error) {
		return s.getQuotes(ctx, symbols)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	return result.(map[string]*model.Quote), nil
}

func (s *HTTPSource) IsMarketOpen() bool { return s.calendar.IsOpen() }

func (s *HTTPSource) IsTradingDay() bool { return s.calendar.IsTradingDay() }

func (s *HTTPSource) ValidateSymbol(symbol string) bool { return ValidSymbol(symbol) }

func (s *HTTPSource) getQuote(ctx context.Context, symbol string) (*model.Quote, error) {
	u := fmt.Sprintf("%s/v1/quote?symbol=%s", s.baseURL, url.QueryEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrPriceUnavailable
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider status %d", resp.StatusCode)
	}

	var payload quotePayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}
	if payload.Symbol == "" {
		payload.Symbol = symbol
	}
	return payload.toQuote()
}

func (s *HTTPSource) getQuotes(ctx context.Context, symbols []string) (map[string]*model.Quote, error) {
	u := fmt.Sprintf("%s/v1/quotes?symbols=%s", s.baseURL, url.QueryEscape(strings.Join(symbols, ",")))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider status %d", resp.StatusCode)
	}

	var payloads []quotePayload
	if err := json.NewDecoder(resp.Body).Decode(&payloads); err != nil {
		return nil, fmt.Errorf("decode quotes: %w", err)
	}

	quotes := make(map[string]*model.Quote, len(payloads))
	for i := range payloads {
		q, err := payloads[i].toQuote()
		if err != nil {
			continue // skip unpriceable symbols, do not fail the batch
		}
		quotes[q.Symbol] = q
	}
	return quotes, nil
}
