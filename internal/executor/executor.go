package executor

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/agent-core/internal/broker"
	"github.com/atlas-desktop/agent-core/internal/fees"
	"github.com/atlas-desktop/agent-core/internal/portfolio"
	"github.com/atlas-desktop/agent-core/internal/repository"
	"github.com/atlas-desktop/agent-core/pkg/types"
)

// portfolioWriteTimeout bounds the wait for the optimistic-update write
// lock; a timeout is logged as a deadlock indicator and the update skipped.
const portfolioWriteTimeout = 2 * time.Second

// Executor submits Orders to the broker and optimistically updates the
// portfolio, driving the OrderMonitor's retry/abandon cycle.
type Executor struct {
	logger  *zap.Logger
	exec    broker.ExecutionService
	pm      *portfolio.Manager
	monitor *Monitor
	fees    *fees.Model
	trades  repository.TradeRepository

	in chan types.Order
}

// New builds an Executor reading Orders from the Throttler's output.
func New(logger *zap.Logger, exec broker.ExecutionService, pm *portfolio.Manager, monitor *Monitor, feeModel *fees.Model, trades repository.TradeRepository) *Executor {
	return &Executor{
		logger:  logger.Named("executor"),
		exec:    exec,
		pm:      pm,
		monitor: monitor,
		fees:    feeModel,
		trades:  trades,
	}
}

// Run consumes orders from in and a periodic timeout-check ticker until ctx
// is canceled. It also drives the broker's order-update stream so the
// Monitor stops tracking orders as soon as they reach a terminal status,
// rather than only discovering that via its own retry-timeout sweep.
func (e *Executor) Run(ctx context.Context, in <-chan types.Order) error {
	updates, err := e.exec.SubscribeOrderUpdates(ctx)
	if err != nil {
		e.logger.Warn("order-update subscription unavailable, relying on timeout sweep only", zap.Error(err))
	} else {
		go e.reconcile(updates)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case order, ok := <-in:
			if !ok {
				return nil
			}
			e.submit(ctx, order)
		case <-ticker.C:
			e.handleTimeouts(ctx)
		}
	}
}

// reconcile drains the broker's order-update stream until it closes
// (ctx canceled), untracking every order that reaches a terminal status so
// the Monitor's timeout sweep never mistakes an already-filled or -canceled
// order for one that has gone silent.
func (e *Executor) reconcile(updates <-chan types.Order) {
	for order := range updates {
		if order.Status.IsTerminal() {
			e.monitor.Untrack(order.ID)
		}
	}
}

func (e *Executor) submit(ctx context.Context, order types.Order) {
	notional := order.Price.Mul(order.Quantity)
	var tok *types.ReservationToken
	if order.Side == types.OrderSideBuy {
		version := e.pm.Snapshot().Version
		reservation, err := e.pm.Reserve(version, order.Symbol, notional)
		if err != nil {
			e.logger.Warn("reservation failed, dropping order", zap.String("order_id", order.ID), zap.Error(err))
			return
		}
		tok = &reservation
	}

	placed, err := e.exec.PlaceOrder(ctx, order)
	if err != nil {
		e.logger.Error("order submission failed", zap.String("order_id", order.ID), zap.Error(err))
		if tok != nil {
			e.pm.Release(*tok)
		}
		return
	}

	snap := e.pm.Snapshot()
	switch {
	case placed.Status == types.OrderStatusFilled:
		e.applyFill(snap.Version, tok, placed)
	case placed.Status.IsTerminal():
		// Rejected or canceled before ever reaching the Monitor: the
		// reservation has no fill to release it, so release it here.
		if tok != nil {
			e.pm.Release(*tok)
		}
	default:
		e.monitor.Track(placed, tok, snap.Version)
	}

	go func() {
		if err := e.trades.SaveTrade(context.Background(), placed); err != nil {
			e.logger.Warn("trade persistence failed", zap.String("order_id", placed.ID), zap.Error(err))
		}
	}()
}

func (e *Executor) applyFill(expectedVersion uint64, tok *types.ReservationToken, order types.Order) {
	fee := decimal.Zero
	if e.fees != nil {
		fee = e.fees.Fee(order.Price.Mul(order.Quantity))
	}

	done := make(chan struct{})
	var updated types.VersionedPortfolio
	var applyErr error

	go func() {
		updated, applyErr = e.pm.ApplyFill(expectedVersion, tok, order, order.Price, order.Quantity, fee)
		close(done)
	}()

	select {
	case <-done:
		if applyErr != nil {
			e.logger.Error("optimistic portfolio update failed", zap.String("order_id", order.ID), zap.Error(applyErr))
			return
		}
		e.logger.Debug("portfolio updated", zap.Uint64("version", updated.Version), zap.String("fee", fee.String()))
	case <-time.After(portfolioWriteTimeout):
		e.logger.Error("portfolio write lock timeout, possible deadlock", zap.String("order_id", order.ID))
	}
}

func (e *Executor) handleTimeouts(ctx context.Context) {
	for _, action := range e.monitor.CheckTimeouts() {
		switch action.Kind {
		case ActionConvertToMarket:
			e.cancelAndReplace(ctx, action)
		case ActionAbandon:
			e.logger.Warn("order abandoned after retry timeout", zap.String("order_id", action.OrderID))
		}
	}
}

func (e *Executor) cancelAndReplace(ctx context.Context, action Action) {
	if err := e.exec.CancelOrder(ctx, action.OrderID); err != nil {
		e.logger.Warn("cancel failed, not submitting replacement", zap.String("order_id", action.OrderID), zap.Error(err))
		return
	}

	tok, version, tracked := e.monitor.Reservation(action.OrderID)
	if tracked && tok != nil {
		e.pm.Release(*tok)
	}
	_ = version

	e.submit(ctx, action.NewMarketOrder)
}
