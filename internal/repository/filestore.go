package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/atlas-desktop/agent-core/internal/analyst"
	"github.com/atlas-desktop/agent-core/pkg/types"
)

// FileStore is a JSON-file-backed CandleRepository + TradeRepository +
// StrategyRepository + RiskStateRepository, grounded on the teacher's
// data.Store (per-symbol JSON blobs under a data directory, cached in
// memory, written back on every save).
type FileStore struct {
	mu      sync.RWMutex
	logger  *zap.Logger
	dataDir string

	candleCache   map[string][]types.Candle
	tradeCache    map[string][]types.Order
	configCache   map[string]types.AnalystConfig
	riskStateFile string
}

// NewFileStore ensures dataDir exists and returns a store rooted there.
func NewFileStore(logger *zap.Logger, dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dataDir, err)
	}
	return &FileStore{
		logger:        logger.Named("filestore"),
		dataDir:       dataDir,
		candleCache:   make(map[string][]types.Candle),
		tradeCache:    make(map[string][]types.Order),
		configCache:   make(map[string]types.AnalystConfig),
		riskStateFile: filepath.Join(dataDir, "risk_state.json"),
	}, nil
}

func (s *FileStore) candlePath(symbol string) string {
	return filepath.Join(s.dataDir, safeName(symbol)+".candles.json")
}

func (s *FileStore) tradePath(symbol string) string {
	return filepath.Join(s.dataDir, safeName(symbol)+".trades.json")
}

func (s *FileStore) configPath(symbol string) string {
	return filepath.Join(s.dataDir, safeName(symbol)+".config.json")
}

func safeName(symbol string) string {
	out := make([]rune, 0, len(symbol))
	for _, r := range symbol {
		if r == '/' || r == '\\' || r == ' ' {
			out = append(out, '_')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

// SaveCandles replaces the cached+on-disk candle history for symbol.
func (s *FileStore) SaveCandles(ctx context.Context, symbol string, candles []types.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.candleCache[symbol] = candles
	return writeJSON(s.candlePath(symbol), candles)
}

// LoadCandles returns the last limit candles for symbol, loading from disk
// on a cache miss.
func (s *FileStore) LoadCandles(ctx context.Context, symbol string, limit int) ([]types.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candles, ok := s.candleCache[symbol]
	if !ok {
		if err := readJSON(s.candlePath(symbol), &candles); err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, err
		}
		s.candleCache[symbol] = candles
	}
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

// LoadTimeframeCandles loads symbol's 1-minute candles and aggregates them
// into k-minute bars tagged tf, for strategies that want a higher-timeframe
// confirmation view without a separate storage format.
func (s *FileStore) LoadTimeframeCandles(ctx context.Context, symbol string, limit, k int, tf types.Timeframe) ([]types.TimeframeCandle, error) {
	oneMin, err := s.LoadCandles(ctx, symbol, 0)
	if err != nil {
		return nil, err
	}
	aggregated := analyst.AggregateCandles(oneMin, k, tf)
	if limit > 0 && len(aggregated) > limit {
		aggregated = aggregated[len(aggregated)-limit:]
	}
	return aggregated, nil
}

// SaveTrade appends order to symbol's trade log.
func (s *FileStore) SaveTrade(ctx context.Context, order types.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	trades := s.tradeCache[order.Symbol]
	trades = append(trades, order)
	s.tradeCache[order.Symbol] = trades
	return writeJSON(s.tradePath(order.Symbol), trades)
}

// RecentTrades returns the last limit trades recorded for symbol.
func (s *FileStore) RecentTrades(ctx context.Context, symbol string, limit int) ([]types.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trades, ok := s.tradeCache[symbol]
	if !ok {
		if err := readJSON(s.tradePath(symbol), &trades); err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, err
		}
		s.tradeCache[symbol] = trades
	}
	if limit > 0 && len(trades) > limit {
		trades = trades[len(trades)-limit:]
	}
	return trades, nil
}

// SaveConfig persists symbol's latest tuned AnalystConfig.
func (s *FileStore) SaveConfig(ctx context.Context, symbol string, cfg types.AnalystConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.configCache[symbol] = cfg
	return writeJSON(s.configPath(symbol), cfg)
}

// LoadConfig returns symbol's last persisted AnalystConfig, if any.
func (s *FileStore) LoadConfig(ctx context.Context, symbol string) (types.AnalystConfig, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg, ok := s.configCache[symbol]; ok {
		return cfg, true, nil
	}
	var cfg types.AnalystConfig
	if err := readJSON(s.configPath(symbol), &cfg); err != nil {
		if os.IsNotExist(err) {
			return types.AnalystConfig{}, false, nil
		}
		return types.AnalystConfig{}, false, err
	}
	s.configCache[symbol] = cfg
	return cfg, true, nil
}

// SaveRiskState persists the current session/drawdown risk state.
func (s *FileStore) SaveRiskState(ctx context.Context, state types.RiskState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(s.riskStateFile, state)
}

// LoadRiskState returns the last persisted risk state, if any.
func (s *FileStore) LoadRiskState(ctx context.Context) (types.RiskState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var state types.RiskState
	if err := readJSON(s.riskStateFile, &state); err != nil {
		if os.IsNotExist(err) {
			return types.RiskState{}, false, nil
		}
		return types.RiskState{}, false, err
	}
	return state, true, nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return os.WriteFile(path, data, 0o644)
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
