// Package exchangeclient performs REST depth/ticker calls against the
// exchange, tracking a per-minute request-weight budget and surfacing
// ban/rate-limit conditions process-wide.
package exchangeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/realHakeen/binance-liquidity-monitor/internal/model"
	"github.com/realHakeen/binance-liquidity-monitor/internal/xerrors"
)

const (
	spotBaseURL    = "https://api.binance.com"
	futuresBaseURL = "https://fapi.binance.com"

	depthWeightWide     = 10 // 500+ levels
	depthWeightStandard = 5  // <=100 levels
	tickerWeight        = 40

	restTimeout = 12 * time.Second
)

// Client talks to the exchange's REST surface. All state (weight budget,
// banned flag, paused-until instant) is process-wide and guarded here so
// callers never need to replicate it.
type Client struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker

	mu          sync.Mutex
	weightUsed  int
	weightReset time.Time

	banned      atomic.Bool
	pausedUntil atomic.Int64 // unix nanos; 0 means not paused

	now func() time.Time
}

// New creates a Client with its own HTTP transport and circuit breaker.
func New() *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: restTimeout},
		now:        time.Now,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "exchange-rest",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return c
}

// ResetBan clears the banned flag. A ban never clears on its own; only an
// explicit operator action should call this.
func (c *Client) ResetBan() { c.banned.Store(false) }

// Weight returns the request-weight consumed in the current minute window.
func (c *Client) Weight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rolloverWeightLocked()
	return c.weightUsed
}

func (c *Client) rolloverWeightLocked() {
	now := c.now()
	if now.After(c.weightReset) {
		c.weightUsed = 0
		c.weightReset = now.Add(time.Minute)
	}
}

func (c *Client) preflight() error {
	if c.banned.Load() {
		return xerrors.ErrBanned
	}
	if until := c.pausedUntil.Load(); until != 0 {
		if c.now().UnixNano() < until {
			return xerrors.ErrRateLimited
		}
		c.pausedUntil.Store(0)
	}
	return nil
}

// VolumeInfo is one row of FetchTop24hVolumes.
type VolumeInfo struct {
	Symbol         string
	SpotVolume     float64
	FuturesVolume  float64
	PriceChangePct float64
}

// FetchSpotDepth fetches a spot order book snapshot.
func (c *Client) FetchSpotDepth(ctx context.Context, symbol string) (*model.Snapshot, error) {
	limit := depthLimit(symbol)
	weight := depthWeight(symbol)
	url := fmt.Sprintf("%s/api/v3/depth?symbol=%s&limit=%d", spotBaseURL, symbol, limit)
	return c.fetchDepth(ctx, url, weight)
}

// FetchFuturesDepth fetches a futures order book snapshot. A symbol with no
// futures instrument returns (nil, nil), not an error.
func (c *Client) FetchFuturesDepth(ctx context.Context, symbol string) (*model.Snapshot, error) {
	limit := depthLimit(symbol)
	weight := depthWeight(symbol)
	url := fmt.Sprintf("%s/fapi/v1/depth?symbol=%s&limit=%d", futuresBaseURL, symbol, limit)
	snap, err := c.fetchDepth(ctx, url, weight)
	if err != nil {
		var httpErr *httpStatusError
		if asHTTPStatusError(err, &httpErr) && httpErr.status == http.StatusBadRequest {
			return nil, nil
		}
		return nil, err
	}
	return snap, nil
}

func depthLimit(symbol string) int {
	if model.MajorPairs[symbol] {
		return 500
	}
	return 100
}

func depthWeight(symbol string) int {
	if model.MajorPairs[symbol] {
		return depthWeightWide
	}
	return depthWeightStandard
}

type depthResponse struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

func (c *Client) fetchDepth(ctx context.Context, url string, weight int) (*model.Snapshot, error) {
	body, err := c.doGet(ctx, url, weight)
	if err != nil {
		return nil, err
	}
	var raw depthResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode depth response: %v", xerrors.ErrTransport, err)
	}
	return &model.Snapshot{
		LastUpdateID: raw.LastUpdateID,
		Bids:         parseLevels(raw.Bids),
		Asks:         parseLevels(raw.Asks),
	}, nil
}

func parseLevels(raw [][]string) []model.PriceLevel {
	out := make([]model.PriceLevel, 0, len(raw))
	for _, e := range raw {
		if len(e) < 2 {
			continue
		}
		price, err1 := strconv.ParseFloat(e[0], 64)
		qty, err2 := strconv.ParseFloat(e[1], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, model.PriceLevel{Price: price, Quantity: qty})
	}
	return out
}

// FetchTop24hVolumes fetches 24h ticker stats from both segments.
func (c *Client) FetchTop24hVolumes(ctx context.Context) ([]VolumeInfo, error) {
	spotBody, err := c.doGet(ctx, spotBaseURL+"/api/v3/ticker/24hr", tickerWeight)
	if err != nil {
		return nil, err
	}
	futBody, err := c.doGet(ctx, futuresBaseURL+"/fapi/v1/ticker/24hr", tickerWeight)
	if err != nil {
		return nil, err
	}

	var spotRaw []tickerRaw
	if err := json.Unmarshal(spotBody, &spotRaw); err != nil {
		return nil, fmt.Errorf("%w: decode spot tickers: %v", xerrors.ErrTransport, err)
	}
	var futRaw []tickerRaw
	if err := json.Unmarshal(futBody, &futRaw); err != nil {
		return nil, fmt.Errorf("%w: decode futures tickers: %v", xerrors.ErrTransport, err)
	}

	futBySymbol := make(map[string]tickerRaw, len(futRaw))
	for _, t := range futRaw {
		futBySymbol[t.Symbol] = t
	}

	out := make([]VolumeInfo, 0, len(spotRaw))
	for _, t := range spotRaw {
		spotVol, _ := strconv.ParseFloat(t.QuoteVolume, 64)
		priceChange, _ := strconv.ParseFloat(t.PriceChangePercent, 64)
		v := VolumeInfo{Symbol: t.Symbol, SpotVolume: spotVol, PriceChangePct: priceChange}
		if f, ok := futBySymbol[t.Symbol]; ok {
			v.FuturesVolume, _ = strconv.ParseFloat(f.QuoteVolume, 64)
		}
		out = append(out, v)
	}
	return out, nil
}

type tickerRaw struct {
	Symbol             string `json:"symbol"`
	QuoteVolume        string `json:"quoteVolume"`
	PriceChangePercent string `json:"priceChangePercent"`
}

type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.status, e.body)
}

func asHTTPStatusError(err error, target **httpStatusError) bool {
	if e, ok := err.(*httpStatusError); ok {
		*target = e
		return true
	}
	if wrapped, ok := err.(interface{ Unwrap() error }); ok {
		return asHTTPStatusError(wrapped.Unwrap(), target)
	}
	return false
}

// doGet performs one GET request through the circuit breaker, after the
// explicit banned/paused preflight check, and accounts request weight.
func (c *Client) doGet(ctx context.Context, url string, weight int) ([]byte, error) {
	if err := c.preflight(); err != nil {
		return nil, err
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: build request: %v", xerrors.ErrTransport, err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", xerrors.ErrTransport, err)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		c.recordWeight(resp.Header, weight)

		switch resp.StatusCode {
		case http.StatusTeapot: // 418
			c.banned.Store(true)
			log.Error().Str("url", url).Msg("exchange returned 418: client banned")
			return nil, xerrors.ErrBanned
		case http.StatusTooManyRequests: // 429
			c.applyRetryAfter(resp.Header)
			return nil, xerrors.ErrRateLimited
		}
		if resp.StatusCode != http.StatusOK {
			return nil, &httpStatusError{status: resp.StatusCode, body: string(body)}
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

func (c *Client) recordWeight(h http.Header, fallback int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rolloverWeightLocked()
	if raw := h.Get("x-mbx-used-weight-1m"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			c.weightUsed = v
			return
		}
	}
	c.weightUsed += fallback
}

func (c *Client) applyRetryAfter(h http.Header) {
	retryAfter := 60 * time.Second
	if raw := h.Get("Retry-After"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil {
			retryAfter = time.Duration(secs) * time.Second
		}
	}
	c.pausedUntil.Store(c.now().Add(retryAfter).UnixNano())
}
