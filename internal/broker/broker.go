// Package broker declares the external trading-venue boundary: the
// MarketDataService and ExecutionService interfaces every component talks
// to, a hand-rolled circuit breaker (CircuitBreaker), plus one paper/reference
// implementation used for tests and standalone runs. The components call the
// interfaces directly; no broker call is routed through the breaker.
package broker

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/agent-core/pkg/types"
)

// Retryable is implemented by broker errors that classify themselves as
// transient (network blip, rate limit) vs. permanent (rejected order,
// invalid symbol). The circuit breaker ignores errors that report
// Retryable() == false; any other non-nil error, including one that does not
// implement Retryable, counts as a failure.
type Retryable interface {
	error
	Retryable() bool
}

// MarketDataService is the read side of the broker boundary: subscribing to
// symbols and fetching historical candles for backtesting/warmup.
type MarketDataService interface {
	// Subscribe starts streaming MarketEvents for symbols onto the returned
	// channel until ctx is canceled. The channel is closed on return.
	Subscribe(ctx context.Context, symbols []string) (<-chan types.MarketEvent, error)
	// HistoricalCandles returns up to limit 1-minute candles for symbol
	// ending at (and including) the most recent closed bar.
	HistoricalCandles(ctx context.Context, symbol string, limit int) ([]types.Candle, error)
}

// ExecutionService is the write side: placing/canceling orders and
// reconciling fills and today's order history against the broker of record.
type ExecutionService interface {
	PlaceOrder(ctx context.Context, order types.Order) (types.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrder(ctx context.Context, orderID string) (types.Order, error)
	GetTodayOrders(ctx context.Context) ([]types.Order, error)
	// GetOpenOrders returns only today's orders still in a non-terminal
	// status, the reconciliation sweep's cheaper alternative to filtering
	// GetTodayOrders on every poll.
	GetOpenOrders(ctx context.Context) ([]types.Order, error)
	// SubscribeOrderUpdates streams every order status change (fills,
	// cancels, rejects) until ctx is canceled, so a consumer can reconcile
	// tracked orders without polling GetOrder per ID. The channel is closed
	// on return.
	SubscribeOrderUpdates(ctx context.Context) (<-chan types.Order, error)
	AccountPortfolio(ctx context.Context) (types.Portfolio, error)
}

// Sector resolves a symbol to its sector classification for the Risk
// Manager's sector-exposure check. A broker-agnostic concern, but it lives
// here because it is typically backed by the same venue's reference data.
type SectorLookup interface {
	Sector(symbol string) (string, error)
}

// priceOrZero is a small convenience shared by broker implementations when
// quoting a market order's reference price from the last known tick.
func priceOrZero(p decimal.Decimal) decimal.Decimal {
	if p.IsZero() {
		return decimal.Zero
	}
	return p
}
