// Package scanner implements the Market Scanner: it periodically ranks the
// broker's universe by recent move size, keeps the top N plus every symbol
// with an open position, and republishes that union to the Sentinel as the
// desired subscription set. Grounded on the teacher's top-movers scan in
// internal/data/market_data.go, generalized to take its universe from a
// pluggable price-history source instead of a fixed Binance ticker feed.
package scanner

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MoveRanker reports a symbol's absolute percent move over the scan window,
// used to rank the universe. Implementations typically read rolling candle
// history out of a repository.
type MoveRanker interface {
	PercentMove(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// HeldSymbols reports the symbols the portfolio currently holds, which must
// always stay subscribed regardless of their current move rank.
type HeldSymbols interface {
	HeldSymbols() []string
}

// Scanner periodically recomputes the desired symbol set and calls
// OnSelection with it; the caller typically wires OnSelection to
// sentinel.Sentinel.SetSymbols.
type Scanner struct {
	logger      *zap.Logger
	universe    []string
	ranker      MoveRanker
	held        HeldSymbols
	topN        int
	interval    time.Duration
	onSelection func([]string)
}

// New builds a Scanner over universe, keeping the topN movers plus every
// held symbol, recomputed every interval.
func New(logger *zap.Logger, universe []string, ranker MoveRanker, held HeldSymbols, topN int, interval time.Duration) *Scanner {
	if topN <= 0 {
		topN = 10
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scanner{
		logger:   logger.Named("scanner"),
		universe: universe,
		ranker:   ranker,
		held:     held,
		topN:     topN,
		interval: interval,
	}
}

// OnSelection registers the callback invoked with the latest symbol
// selection; only the most recent call's result matters, so a fast producer
// racing a slow consumer is resolved by always replacing, never queueing.
func (s *Scanner) OnSelection(fn func([]string)) {
	s.onSelection = fn
}

// Run recomputes and publishes the selection every interval until ctx is
// canceled, publishing once immediately on start.
func (s *Scanner) Run(ctx context.Context) error {
	s.scanOnce(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.scanOnce(ctx)
		}
	}
}

type moveEntry struct {
	symbol string
	move   decimal.Decimal
}

func (s *Scanner) scanOnce(ctx context.Context) {
	entries := make([]moveEntry, 0, len(s.universe))
	for _, sym := range s.universe {
		move, err := s.ranker.PercentMove(ctx, sym)
		if err != nil {
			s.logger.Debug("percent move unavailable", zap.String("symbol", sym), zap.Error(err))
			continue
		}
		entries = append(entries, moveEntry{symbol: sym, move: move.Abs()})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].move.GreaterThan(entries[j].move) })

	selected := make(map[string]bool, s.topN)
	for i := 0; i < len(entries) && i < s.topN; i++ {
		selected[entries[i].symbol] = true
	}
	if s.held != nil {
		for _, sym := range s.held.HeldSymbols() {
			selected[sym] = true
		}
	}

	out := make([]string, 0, len(selected))
	for sym := range selected {
		out = append(out, sym)
	}
	sort.Strings(out)

	s.logger.Debug("scan selection", zap.Strings("symbols", out))
	if s.onSelection != nil {
		s.onSelection(out)
	}
}
