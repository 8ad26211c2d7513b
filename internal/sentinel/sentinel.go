// Package sentinel implements the Market Sentinel: the single owner of the
// broker's MarketDataService subscription, diffing desired symbols against
// what is currently subscribed and republishing every MarketEvent onto a
// fan-out channel for the Scanner and Analyst, with exponential-backoff
// reconnects, grounded on the teacher's MarketDataService websocket
// lifecycle (subscribe map, reconnect loop, price/OHLCV caches).
package sentinel

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/agent-core/internal/broker"
	"github.com/atlas-desktop/agent-core/pkg/types"
)

// Sentinel owns one broker.MarketDataService subscription per desired
// symbol and republishes every event to all registered consumer channels.
// Each symbol's subscription runs (and reconnects) independently, so adding
// or removing one symbol never interrupts delivery for the others.
type Sentinel struct {
	logger *zap.Logger
	mds    broker.MarketDataService

	mu        sync.RWMutex
	rootCtx   context.Context
	active    map[string]context.CancelFunc
	desired   map[string]bool // only consulted before Run starts rootCtx
	lastPrice map[string]decimal.Decimal

	subMu       sync.Mutex
	subscribers []chan types.MarketEvent

	minBackoff time.Duration
	maxBackoff time.Duration

	wg sync.WaitGroup
}

// New builds a Sentinel reading market data through mds.
func New(logger *zap.Logger, mds broker.MarketDataService) *Sentinel {
	return &Sentinel{
		logger:     logger.Named("sentinel"),
		mds:        mds,
		active:     make(map[string]context.CancelFunc),
		desired:    make(map[string]bool),
		lastPrice:  make(map[string]decimal.Decimal),
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
}

// SetSymbols diffs symbols against the currently subscribed set and acts
// immediately: a per-symbol subscription starts for every newly desired
// symbol and stops for every symbol no longer desired, while every
// unchanged symbol's stream keeps running untouched. Before Run has been
// called there is nothing to diff against yet, so the set is simply
// recorded for Run's startup.
func (s *Sentinel) SetSymbols(symbols []string) {
	want := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		want[sym] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.desired = want
	if s.rootCtx == nil {
		return
	}

	for sym, cancel := range s.active {
		if !want[sym] {
			cancel()
			delete(s.active, sym)
		}
	}
	for sym := range want {
		if _, ok := s.active[sym]; !ok {
			s.startLocked(sym)
		}
	}
}

// Subscribe registers a new fan-out channel that receives every MarketEvent
// published while ctx is alive; the channel is closed when ctx is done.
func (s *Sentinel) Subscribe(ctx context.Context) <-chan types.MarketEvent {
	ch := make(chan types.MarketEvent, 256)
	s.subMu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.subMu.Unlock()

	go func() {
		<-ctx.Done()
		s.subMu.Lock()
		defer s.subMu.Unlock()
		for i, c := range s.subscribers {
			if c == ch {
				s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

// LastPrice returns the most recently observed price for symbol.
func (s *Sentinel) LastPrice(symbol string) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.lastPrice[symbol]
	return p, ok
}

// LastPrices returns a snapshot of every symbol's most recently observed
// price, for the telemetry status endpoint.
func (s *Sentinel) LastPrices() map[string]decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(s.lastPrice))
	for sym, p := range s.lastPrice {
		out[sym] = p
	}
	return out
}

// Run starts a subscription goroutine for every symbol SetSymbols has
// already recorded, then blocks until ctx is canceled, tearing every
// per-symbol subscription down before returning.
func (s *Sentinel) Run(ctx context.Context) error {
	s.mu.Lock()
	s.rootCtx = ctx
	for sym := range s.desired {
		s.startLocked(sym)
	}
	s.mu.Unlock()

	<-ctx.Done()

	s.mu.Lock()
	for sym, cancel := range s.active {
		cancel()
		delete(s.active, sym)
	}
	s.mu.Unlock()

	s.wg.Wait()
	return ctx.Err()
}

// startLocked launches symbol's subscribe/reconnect loop. Callers must
// already hold s.mu.
func (s *Sentinel) startLocked(symbol string) {
	symCtx, cancel := context.WithCancel(s.rootCtx)
	s.active[symbol] = cancel
	s.wg.Add(1)
	go s.runSymbol(symCtx, symbol)
}

// runSymbol subscribes to one symbol and republishes its events until
// symCtx is canceled, reconnecting with exponential backoff on failure or
// stream end.
func (s *Sentinel) runSymbol(symCtx context.Context, symbol string) {
	defer s.wg.Done()
	attempt := 0
	for {
		select {
		case <-symCtx.Done():
			return
		default:
		}

		events, err := s.mds.Subscribe(symCtx, []string{symbol})
		if err != nil {
			s.logger.Warn("subscribe failed", zap.String("symbol", symbol), zap.Error(err), zap.Int("attempt", attempt))
			if !s.sleepBackoff(symCtx, attempt) {
				return
			}
			attempt++
			continue
		}

		attempt = 0
		s.drain(symCtx, events)

		select {
		case <-symCtx.Done():
			return
		default:
			s.logger.Warn("market data stream ended, reconnecting", zap.String("symbol", symbol))
		}
	}
}

func (s *Sentinel) drain(ctx context.Context, events <-chan types.MarketEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			s.publish(ctx, evt)
		}
	}
}

// publish fans evt out to every subscriber. Sends block on a full channel
// rather than dropping the event, gated on ctx so a canceled run can't hang
// forever behind a consumer that stopped reading.
func (s *Sentinel) publish(ctx context.Context, evt types.MarketEvent) {
	s.mu.Lock()
	if evt.Kind == types.MarketEventPriceUpdate {
		s.lastPrice[evt.Symbol] = evt.Price
	}
	s.mu.Unlock()

	s.subMu.Lock()
	subs := append([]chan types.MarketEvent(nil), s.subscribers...)
	s.subMu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- evt:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sentinel) sleepBackoff(ctx context.Context, attempt int) bool {
	delay := time.Duration(float64(s.minBackoff) * math.Pow(2, float64(attempt)))
	if delay > s.maxBackoff {
		delay = s.maxBackoff
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}
