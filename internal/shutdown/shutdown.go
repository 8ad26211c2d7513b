// Package shutdown implements the Shutdown Service: on a termination
// signal, cancel all open broker orders, persist RiskState, optionally
// flatten every open position with market orders bounded by a liquidation
// timeout, then let the process exit. Grounded on cmd/server/main.go's
// graceful-shutdown sequence (signal.Notify + ordered teardown).
package shutdown

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/agent-core/internal/broker"
	"github.com/atlas-desktop/agent-core/internal/portfolio"
	"github.com/atlas-desktop/agent-core/internal/repository"
	"github.com/atlas-desktop/agent-core/internal/session"
	"github.com/atlas-desktop/agent-core/pkg/types"
)

// Options configures one shutdown run.
type Options struct {
	FlattenPositions    bool
	LiquidationTimeout  time.Duration
}

// Service performs the ordered teardown.
type Service struct {
	logger  *zap.Logger
	exec    broker.ExecutionService
	pm      *portfolio.Manager
	sm      *session.Manager
	riskRepo repository.RiskStateRepository
	opts    Options
}

// New constructs a shutdown Service.
func New(logger *zap.Logger, exec broker.ExecutionService, pm *portfolio.Manager, sm *session.Manager, riskRepo repository.RiskStateRepository, opts Options) *Service {
	return &Service{logger: logger.Named("shutdown"), exec: exec, pm: pm, sm: sm, riskRepo: riskRepo, opts: opts}
}

// Run executes the shutdown sequence: cancel open orders, persist risk
// state, optionally flatten positions, bounded overall by
// opts.LiquidationTimeout. It never returns an error — every step logs and
// continues so a single failing step cannot strand the process.
func (s *Service) Run(parent context.Context) {
	timeout := s.opts.LiquidationTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.cancelOpenOrders(ctx)
	s.persistRiskState(ctx)
	if s.opts.FlattenPositions {
		s.flattenPositions(ctx)
	}

	s.logger.Info("shutdown sequence complete")
}

func (s *Service) cancelOpenOrders(ctx context.Context) {
	orders, err := s.exec.GetTodayOrders(ctx)
	if err != nil {
		s.logger.Error("shutdown: failed to list today's orders", zap.Error(err))
		return
	}
	for _, o := range orders {
		if o.Status.IsTerminal() {
			continue
		}
		if err := s.exec.CancelOrder(ctx, o.ID); err != nil {
			s.logger.Warn("shutdown: failed to cancel order", zap.String("order_id", o.ID), zap.Error(err))
			continue
		}
		s.logger.Info("shutdown: canceled open order", zap.String("order_id", o.ID), zap.String("symbol", o.Symbol))
	}
}

func (s *Service) persistRiskState(ctx context.Context) {
	state := s.sm.Snapshot()
	if err := s.riskRepo.SaveRiskState(ctx, state); err != nil {
		s.logger.Error("shutdown: failed to persist risk state", zap.Error(err))
	}
}

// flattenPositions submits a market order to close every open position.
// Best-effort: a failure on one symbol does not block attempting the rest,
// and the whole pass is bounded by the Run deadline.
func (s *Service) flattenPositions(ctx context.Context) {
	snap := s.pm.Snapshot()
	for symbol, pos := range snap.Portfolio.Positions {
		if pos.Quantity.IsZero() {
			continue
		}
		side := types.OrderSideSell
		qty := pos.Quantity
		if pos.Quantity.Sign() < 0 {
			side = types.OrderSideBuy
			qty = qty.Neg()
		}

		order := types.Order{
			ID: uuid.NewString(), Symbol: symbol, Side: side, Type: types.OrderTypeMarket,
			Price: decimal.Zero, Quantity: qty, Status: types.OrderStatusNew,
		}
		if err := order.Validate(); err != nil {
			s.logger.Warn("shutdown: flatten order invalid, skipping", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		if _, err := s.exec.PlaceOrder(ctx, order); err != nil {
			s.logger.Error("shutdown: failed to flatten position", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		s.logger.Info("shutdown: submitted flatten order", zap.String("symbol", symbol), zap.String("side", string(side)))
	}
}
