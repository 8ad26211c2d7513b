package sentinel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/agent-core/pkg/types"
)

type stubMDS struct {
	events chan types.MarketEvent
}

func (s *stubMDS) Subscribe(ctx context.Context, symbols []string) (<-chan types.MarketEvent, error) {
	return s.events, nil
}
func (s *stubMDS) HistoricalCandles(ctx context.Context, symbol string, limit int) ([]types.Candle, error) {
	return nil, nil
}

// perSymbolMDS hands each symbol its own independent event channel and
// records every Subscribe/cancel so a test can assert that changing the
// desired set only disturbs the symbols that actually changed.
type perSymbolMDS struct {
	mu      sync.Mutex
	streams map[string]chan types.MarketEvent
	started []string
	ended   []string
}

func newPerSymbolMDS() *perSymbolMDS {
	return &perSymbolMDS{streams: make(map[string]chan types.MarketEvent)}
}

func (m *perSymbolMDS) Subscribe(ctx context.Context, symbols []string) (<-chan types.MarketEvent, error) {
	sym := symbols[0]
	m.mu.Lock()
	ch := make(chan types.MarketEvent, 4)
	m.streams[sym] = ch
	m.started = append(m.started, sym)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		m.ended = append(m.ended, sym)
		m.mu.Unlock()
	}()
	return ch, nil
}

func (m *perSymbolMDS) HistoricalCandles(ctx context.Context, symbol string, limit int) ([]types.Candle, error) {
	return nil, nil
}

func (m *perSymbolMDS) streamFor(sym string) chan types.MarketEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streams[sym]
}

func (m *perSymbolMDS) endedSymbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ended...)
}

// SetSymbols reacts immediately: removing a symbol tears down only that
// symbol's subscription, and an unchanged symbol keeps delivering events
// throughout, with no interruption.
func TestSetSymbols_DiffsWithoutInterruptingUnchangedSymbols(t *testing.T) {
	mds := newPerSymbolMDS()
	s := New(zap.NewNop(), mds)
	s.SetSymbols([]string{"BTC", "ETH"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := s.Subscribe(ctx)
	go func() { _ = s.Run(ctx) }()

	require.Eventually(t, func() bool {
		return mds.streamFor("BTC") != nil && mds.streamFor("ETH") != nil
	}, time.Second, 5*time.Millisecond)

	btc := mds.streamFor("BTC")
	eth := mds.streamFor("ETH")

	s.SetSymbols([]string{"BTC"}) // drop ETH, keep BTC

	require.Eventually(t, func() bool {
		for _, sym := range mds.endedSymbols() {
			if sym == "ETH" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	// BTC's own stream is untouched: still the same channel, still delivers.
	assert.Same(t, btc, mds.streamFor("BTC"))
	btc <- types.MarketEvent{Kind: types.MarketEventPriceUpdate, Symbol: "BTC", Price: decimal.NewFromInt(1)}
	select {
	case evt := <-sub:
		assert.Equal(t, "BTC", evt.Symbol)
	case <-time.After(time.Second):
		t.Fatal("BTC's subscription was disturbed by dropping ETH")
	}

	_ = eth
}

func TestRun_FansOutEventsToAllSubscribersAndTracksLastPrice(t *testing.T) {
	mds := &stubMDS{events: make(chan types.MarketEvent, 4)}
	s := New(zap.NewNop(), mds)
	s.SetSymbols([]string{"BTC"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub1 := s.Subscribe(ctx)
	sub2 := s.Subscribe(ctx)
	go func() { _ = s.Run(ctx) }()

	mds.events <- types.MarketEvent{Kind: types.MarketEventPriceUpdate, Symbol: "BTC", Price: decimal.NewFromInt(50000)}

	for _, sub := range []<-chan types.MarketEvent{sub1, sub2} {
		select {
		case evt := <-sub:
			assert.Equal(t, "BTC", evt.Symbol)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive the published event")
		}
	}

	price, ok := s.LastPrice("BTC")
	require.True(t, ok)
	assert.True(t, price.Equal(decimal.NewFromInt(50000)))
}

func TestSubscribe_ChannelClosesWhenContextCanceled(t *testing.T) {
	mds := &stubMDS{events: make(chan types.MarketEvent)}
	s := New(zap.NewNop(), mds)

	ctx, cancel := context.WithCancel(context.Background())
	sub := s.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-sub:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscriber channel was not closed after cancel")
	}
}

func TestLastPrices_ReturnsAnIndependentSnapshot(t *testing.T) {
	mds := &stubMDS{events: make(chan types.MarketEvent)}
	s := New(zap.NewNop(), mds)
	s.publish(context.Background(), types.MarketEvent{Kind: types.MarketEventPriceUpdate, Symbol: "ETH", Price: decimal.NewFromInt(3000)})

	snap := s.LastPrices()
	snap["ETH"] = decimal.NewFromInt(1) // mutating the snapshot must not affect internal state

	price, _ := s.LastPrice("ETH")
	assert.True(t, price.Equal(decimal.NewFromInt(3000)))
}
