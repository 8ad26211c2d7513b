package broker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/agent-core/pkg/types"
)

// paperError wraps a reason with a Retryable classification, the same
// transient/permanent split the teacher's exchange adapters used to decide
// whether to retry a REST call.
type paperError struct {
	reason    string
	retryable bool
}

func (e *paperError) Error() string   { return e.reason }
func (e *paperError) Retryable() bool { return e.retryable }

// PaperBroker is a reference MarketDataService + ExecutionService backed by
// a deterministic in-memory random walk, grounded on the teacher's
// BinanceAdapter (REST+WS shape, rate limiter, ticker cache) but with the
// network calls replaced by local simulation so it needs no credentials.
type PaperBroker struct {
	logger *zap.Logger
	rng    *rand.Rand

	mu        sync.RWMutex
	prices    map[string]decimal.Decimal
	orders    map[string]types.Order
	todayIDs  []string
	cash      decimal.Decimal
	fillLag   time.Duration
	orderSubs []chan types.Order
}

// NewPaperBroker seeds every symbol in startPrices at its given price.
func NewPaperBroker(logger *zap.Logger, startPrices map[string]decimal.Decimal, startCash decimal.Decimal, seed int64) *PaperBroker {
	prices := make(map[string]decimal.Decimal, len(startPrices))
	for k, v := range startPrices {
		prices[k] = v
	}
	return &PaperBroker{
		logger:  logger.Named("paper-broker"),
		rng:     rand.New(rand.NewSource(seed)),
		prices:  prices,
		orders:  make(map[string]types.Order),
		cash:    startCash,
		fillLag: 50 * time.Millisecond,
	}
}

// Subscribe streams a synthetic random walk for each requested symbol, one
// PriceUpdate every tick, until ctx is canceled.
func (p *PaperBroker) Subscribe(ctx context.Context, symbols []string) (<-chan types.MarketEvent, error) {
	out := make(chan types.MarketEvent, 256)
	go func() {
		defer close(out)
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				for _, sym := range symbols {
					price := p.walk(sym)
					evt := types.MarketEvent{
						Kind:      types.MarketEventPriceUpdate,
						Symbol:    sym,
						Price:     price,
						Timestamp: t.UnixMilli(),
					}
					select {
					case out <- evt:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out, nil
}

func (p *PaperBroker) walk(symbol string) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.prices[symbol]
	if !ok {
		price = decimal.NewFromInt(100)
	}
	driftBp := (p.rng.Float64() - 0.5) * 0.004 // +/- 20bps per tick
	price = price.Mul(decimal.NewFromFloat(1 + driftBp))
	if price.Sign() <= 0 {
		price = decimal.NewFromFloat(0.01)
	}
	p.prices[symbol] = price
	return price
}

// HistoricalCandles synthesizes limit 1-minute candles ending now, walking
// backward from the current price so repeated calls are self-consistent.
func (p *PaperBroker) HistoricalCandles(ctx context.Context, symbol string, limit int) ([]types.Candle, error) {
	p.mu.RLock()
	price, ok := p.prices[symbol]
	p.mu.RUnlock()
	if !ok {
		price = decimal.NewFromInt(100)
	}

	out := make([]types.Candle, limit)
	now := time.Now().Truncate(time.Minute)
	cursor := price
	for i := limit - 1; i >= 0; i-- {
		open := cursor
		driftBp := (p.rng.Float64() - 0.5) * 0.006
		close := open.Mul(decimal.NewFromFloat(1 + driftBp))
		high := decimal.Max(open, close).Mul(decimal.NewFromFloat(1.0015))
		low := decimal.Min(open, close).Mul(decimal.NewFromFloat(0.9985))
		out[i] = types.Candle{
			Symbol:    symbol,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close,
			Volume:    decimal.NewFromFloat(1000 + p.rng.Float64()*500),
			Timestamp: now.Add(-time.Duration(limit-1-i) * time.Minute).UnixMilli(),
		}
		cursor = close
	}
	return out, nil
}

// PlaceOrder fills market orders immediately at the current synthetic
// price and limit orders immediately if marketable; a non-marketable order
// is recorded with status New and stays open until canceled (nothing later
// fills it, as the reference implementation has no matching engine).
func (p *PaperBroker) PlaceOrder(ctx context.Context, order types.Order) (types.Order, error) {
	if err := order.Validate(); err != nil {
		return types.Order{}, &paperError{reason: err.Error(), retryable: false}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	price, ok := p.prices[order.Symbol]
	if !ok {
		return types.Order{}, &paperError{reason: fmt.Sprintf("unknown symbol %s", order.Symbol), retryable: false}
	}

	fillable := order.Type == types.OrderTypeMarket ||
		(order.Side == types.OrderSideBuy && order.Price.GreaterThanOrEqual(price)) ||
		(order.Side == types.OrderSideSell && order.Price.LessThanOrEqual(price))

	order.ID = uuid.NewString()
	order.Timestamp = time.Now().UnixMilli()
	if order.Type == types.OrderTypeMarket {
		order.Price = price
	}
	if fillable {
		order.Status = types.OrderStatusFilled
	} else {
		order.Status = types.OrderStatusNew
	}

	p.orders[order.ID] = order
	p.todayIDs = append(p.todayIDs, order.ID)
	p.publishOrderUpdate(order)
	return order, nil
}

// CancelOrder marks a resting order canceled; filled/terminal orders cannot
// be canceled.
func (p *PaperBroker) CancelOrder(ctx context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok {
		return &paperError{reason: "order not found", retryable: false}
	}
	if order.Status.IsTerminal() {
		return &paperError{reason: "order already terminal", retryable: false}
	}
	order.Status = types.OrderStatusCanceled
	p.orders[orderID] = order
	p.publishOrderUpdate(order)
	return nil
}

// GetOrder returns the current state of a previously placed order.
func (p *PaperBroker) GetOrder(ctx context.Context, orderID string) (types.Order, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	order, ok := p.orders[orderID]
	if !ok {
		return types.Order{}, &paperError{reason: "order not found", retryable: false}
	}
	return order, nil
}

// GetTodayOrders returns every order placed since process start, used by
// the PDT guard.
func (p *PaperBroker) GetTodayOrders(ctx context.Context) ([]types.Order, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.Order, 0, len(p.todayIDs))
	for _, id := range p.todayIDs {
		out = append(out, p.orders[id])
	}
	return out, nil
}

// GetOpenOrders returns today's orders still in a non-terminal status.
func (p *PaperBroker) GetOpenOrders(ctx context.Context) ([]types.Order, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.Order, 0, len(p.todayIDs))
	for _, id := range p.todayIDs {
		if o := p.orders[id]; !o.Status.IsTerminal() {
			out = append(out, o)
		}
	}
	return out, nil
}

// SubscribeOrderUpdates registers a channel that receives every order this
// broker places or cancels, until ctx is canceled. The reference
// implementation fills/cancels synchronously inside PlaceOrder/CancelOrder,
// so every update publishes exactly once, right after the status change.
func (p *PaperBroker) SubscribeOrderUpdates(ctx context.Context) (<-chan types.Order, error) {
	ch := make(chan types.Order, 64)
	p.mu.Lock()
	p.orderSubs = append(p.orderSubs, ch)
	p.mu.Unlock()

	go func() {
		<-ctx.Done()
		p.mu.Lock()
		defer p.mu.Unlock()
		for i, c := range p.orderSubs {
			if c == ch {
				p.orderSubs = append(p.orderSubs[:i], p.orderSubs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

// publishOrderUpdate fans order out to every subscriber registered via
// SubscribeOrderUpdates. Callers must already hold p.mu.
func (p *PaperBroker) publishOrderUpdate(order types.Order) {
	for _, ch := range p.orderSubs {
		select {
		case ch <- order:
		default:
			p.logger.Warn("order-update subscriber channel full, dropping update", zap.String("order_id", order.ID))
		}
	}
}

// AccountPortfolio is unused by the paper broker's callers directly (the
// portfolio.Manager is authoritative locally); it satisfies ExecutionService
// for reconciliation tests by reporting flat cash and no positions.
func (p *PaperBroker) AccountPortfolio(ctx context.Context) (types.Portfolio, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return types.Portfolio{
		Cash:         p.cash,
		Positions:    make(map[string]*types.Position),
		StartingCash: p.cash,
		Synchronized: true,
	}, nil
}
