// Package xerrors defines the closed set of sentinel error kinds used across
// the replication engine, so callers can errors.Is/errors.As instead of
// string-matching.
package xerrors

import "errors"

var (
	// ErrBanned means the exchange returned HTTP 418; all REST calls fail
	// fast until an explicit operator reset.
	ErrBanned = errors.New("exchange client: banned")

	// ErrRateLimited means the exchange returned HTTP 429; REST calls fail
	// fast until the paused-until instant elapses.
	ErrRateLimited = errors.New("exchange client: rate limited")

	// ErrTransport covers network/HTTP-layer failures talking to the
	// exchange REST API.
	ErrTransport = errors.New("exchange client: transport error")

	// ErrGap means a diff's first update id left a hole since the last
	// applied update; the replica must be resynced.
	ErrGap = errors.New("orderbook: gap detected")

	// ErrStale means a diff's last update id is at or behind the replica's
	// current position; it carries no new information.
	ErrStale = errors.New("orderbook: stale diff")

	// ErrMissingReplica means ApplyDiff was called for a key that has no
	// initialized replica.
	ErrMissingReplica = errors.New("orderbook: missing replica")

	// ErrNotReady means a diff was discarded without mutating state and
	// without marking the replica for resync (futures soft-failure window).
	ErrNotReady = errors.New("orderbook: not ready")

	// ErrInitTimeout means Subscribe's 30s wait for a readable replica
	// elapsed without success.
	ErrInitTimeout = errors.New("subscriber: init timeout")

	// ErrAdmissionLimited means the connection-attempt sliding window
	// rejected a new Subscribe/SubscribeFuturesCombined call.
	ErrAdmissionLimited = errors.New("subscriber: connection rate limit")

	// ErrNoInstrument means a futures symbol has no corresponding futures
	// contract; treated as a benign skip, never surfaced as an error to
	// callers of ExchangeClient.
	ErrNoInstrument = errors.New("exchange client: no futures instrument")
)
