package exchangeclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/realHakeen/binance-liquidity-monitor/internal/xerrors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	c := New()
	return c, srv
}

func TestClient_FetchSpotDepth_Success(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-mbx-used-weight-1m", "42")
		w.Write([]byte(`{"lastUpdateId":100,"bids":[["10.0","1.0"]],"asks":[["10.1","2.0"]]}`))
	})
	defer srv.Close()

	snap, err := c.fetchDepth(context.Background(), srv.URL, depthWeightStandard)
	if err != nil {
		t.Fatalf("fetchDepth: %v", err)
	}
	if snap.LastUpdateID != 100 {
		t.Fatalf("expected lastUpdateId 100, got %d", snap.LastUpdateID)
	}
	if len(snap.Bids) != 1 || snap.Bids[0].Price != 10.0 {
		t.Fatalf("unexpected bids: %+v", snap.Bids)
	}
	if c.Weight() != 42 {
		t.Fatalf("expected weight 42 from header, got %d", c.Weight())
	}
}

func Test418SetsBannedUntilExplicitReset(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	defer srv.Close()

	_, err := c.doGet(context.Background(), srv.URL, 5)
	if !errors.Is(err, xerrors.ErrBanned) {
		t.Fatalf("expected ErrBanned, got %v", err)
	}

	_, err = c.doGet(context.Background(), srv.URL, 5)
	if !errors.Is(err, xerrors.ErrBanned) {
		t.Fatalf("expected preflight to keep failing fast with ErrBanned, got %v", err)
	}

	c.ResetBan()
	if c.banned.Load() {
		t.Fatalf("expected ResetBan to clear banned flag")
	}
}

func Test429SetsPausedUntilFromRetryAfter(t *testing.T) {
	calls := 0
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	defer srv.Close()

	_, err := c.doGet(context.Background(), srv.URL, 5)
	if !errors.Is(err, xerrors.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	_, err = c.doGet(context.Background(), srv.URL, 5)
	if !errors.Is(err, xerrors.ErrRateLimited) {
		t.Fatalf("expected preflight to fail fast before pausedUntil elapses, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected only 1 actual HTTP call while paused, got %d", calls)
	}

	c.pausedUntil.Store(time.Now().Add(-time.Millisecond).UnixNano())
	_, err = c.doGet(context.Background(), srv.URL, 5)
	if !errors.Is(err, xerrors.ErrRateLimited) {
		t.Fatalf("expected a fresh call to re-pause on 429, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected pause to lift and a second real call, got %d calls", calls)
	}
}

func TestFetchFuturesDepth_NoInstrumentReturnsNilNil(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	})
	defer srv.Close()

	// FetchFuturesDepth builds its URL from a fixed base, so this drives
	// doGet against the local server and applies the same 400 check inline.
	snap, err := func() (interface{}, error) {
		body, doErr := c.doGet(context.Background(), srv.URL, depthWeightStandard)
		if doErr != nil {
			var httpErr *httpStatusError
			if asHTTPStatusError(doErr, &httpErr) && httpErr.status == http.StatusBadRequest {
				return nil, nil
			}
			return nil, doErr
		}
		return body, nil
	}()
	if err != nil {
		t.Fatalf("expected no-instrument to be swallowed, got %v", err)
	}
	if snap != nil {
		t.Fatalf("expected nil result for no-instrument symbol")
	}
}

func TestWeightFallsBackWhenHeaderMissing(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"lastUpdateId":1,"bids":[],"asks":[]}`))
	})
	defer srv.Close()

	if _, err := c.fetchDepth(context.Background(), srv.URL, depthWeightWide); err != nil {
		t.Fatalf("fetchDepth: %v", err)
	}
	if c.Weight() != depthWeightWide {
		t.Fatalf("expected fallback weight %d, got %d", depthWeightWide, c.Weight())
	}
}
