package optimize

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/agent-core/internal/backtest"
	"github.com/atlas-desktop/agent-core/internal/fees"
	"github.com/atlas-desktop/agent-core/internal/workers"
	"github.com/atlas-desktop/agent-core/pkg/types"
)

// ParameterGrid is the set of discrete values to sweep per AnalystConfig
// field the grid search varies. Only the fields named here are swept; all
// others come from Base.
type ParameterGrid struct {
	Base          types.AnalystConfig
	FastSMAValues []int
	SlowSMAValues []int
}

// gridConfigs enumerates the Cartesian product of the grid, skipping
// fast >= slow combinations.
func gridConfigs(g ParameterGrid) []types.AnalystConfig {
	var out []types.AnalystConfig
	for _, fast := range g.FastSMAValues {
		for _, slow := range g.SlowSMAValues {
			if fast >= slow {
				continue
			}
			cfg := g.Base
			cfg.FastSMAPeriod = fast
			cfg.SlowSMAPeriod = slow
			out = append(out, cfg)
		}
	}
	return out
}

// GridSearchInput parameterizes one grid-search run.
type GridSearchInput struct {
	Symbol        string
	Candles       []types.Candle
	Benchmark     []types.Candle
	Grid          ParameterGrid
	InitialEquity decimal.Decimal
	Fees          *fees.Model
	TrainRatio    float64 // >=1.0 single-period, [0.5,0.9] walk-forward
	NumWorkers    int
}

// GridResult is one evaluated configuration's outcome, with the in-sample
// Sharpe attached when the run used walk-forward splitting.
type GridResult struct {
	Config         types.AnalystConfig
	Metrics        backtest.Metrics
	ObjectiveScore float64
	InSampleSharpe *float64
	index          int
}

// RunGridSearch enumerates Grid's Cartesian product (skipping fast>=slow),
// evaluates each config in parallel across NumWorkers (default 4), and
// returns results ranked by objective score, or by out-of-sample Sharpe in
// walk-forward mode (TrainRatio in [0.5, 0.9]). In walk-forward mode, configs
// whose out-of-sample Sharpe degrades more than 50% relative to the
// in-sample Sharpe (when in-sample Sharpe > 0) are dropped as overfit.
func RunGridSearch(logger *zap.Logger, input GridSearchInput) ([]GridResult, error) {
	configs := gridConfigs(input.Grid)
	numWorkers := input.NumWorkers
	if numWorkers <= 0 {
		numWorkers = 4
	}

	pool := workers.NewPool(logger, &workers.PoolConfig{
		Name:            "grid-search",
		NumWorkers:      numWorkers,
		QueueSize:       len(configs) + 1,
		TaskTimeout:     workers.DefaultPoolConfig("grid-search").TaskTimeout,
		ShutdownTimeout: workers.DefaultPoolConfig("grid-search").ShutdownTimeout,
		PanicRecovery:   true,
	})
	pool.Start()
	defer pool.Stop()

	results := make([]GridResult, len(configs))
	var wg sync.WaitGroup
	for i, cfg := range configs {
		i, cfg := i, cfg
		wg.Add(1)
		if err := pool.SubmitFunc(func() error {
			defer wg.Done()
			results[i] = evaluateConfig(input, cfg, i)
			return nil
		}); err != nil {
			wg.Done()
			results[i] = GridResult{Config: cfg, index: i}
		}
	}
	wg.Wait()

	// Stably re-order by input index before filtering so "best" indices
	// stay consistent regardless of which worker finished first.
	sort.SliceStable(results, func(i, j int) bool { return results[i].index < results[j].index })

	walkForward := input.TrainRatio >= 0.5 && input.TrainRatio <= 0.9
	return filterAndRank(results, walkForward), nil
}

// filterAndRank applies the walk-forward overfit filter (when walkForward is
// set) and sorts the survivors: by out-of-sample Sharpe in walk-forward mode,
// by objective score otherwise. Split out from RunGridSearch so the ranking
// rules can be exercised without driving the simulator.
func filterAndRank(results []GridResult, walkForward bool) []GridResult {
	var survivors []GridResult
	for _, r := range results {
		if walkForward && r.InSampleSharpe != nil {
			if *r.InSampleSharpe > 0 && r.Metrics.Sharpe < 0.5**r.InSampleSharpe {
				continue
			}
		}
		survivors = append(survivors, r)
	}

	sort.SliceStable(survivors, func(i, j int) bool {
		if walkForward {
			return survivors[i].Metrics.Sharpe > survivors[j].Metrics.Sharpe
		}
		return survivors[i].ObjectiveScore > survivors[j].ObjectiveScore
	})

	return survivors
}

func evaluateConfig(input GridSearchInput, cfg types.AnalystConfig, index int) GridResult {
	feeModel := input.Fees

	if input.TrainRatio >= 1.0 || input.TrainRatio <= 0 {
		result, err := backtest.Run(backtest.Input{
			Symbol: input.Symbol, Candles: input.Candles, Benchmark: input.Benchmark,
			Config: cfg, InitialEquity: input.InitialEquity, Fees: feeModel,
		})
		if err != nil {
			return GridResult{Config: cfg, index: index}
		}
		m := backtest.Compute(result)
		return GridResult{Config: cfg, Metrics: m, ObjectiveScore: Score(m), index: index}
	}

	split := int(float64(len(input.Candles)) * input.TrainRatio)
	if split <= 0 || split >= len(input.Candles) {
		split = len(input.Candles) / 2
	}
	trainCandles := input.Candles[:split]
	testCandles := input.Candles[split:]

	trainResult, err := backtest.Run(backtest.Input{
		Symbol: input.Symbol, Candles: trainCandles, Config: cfg,
		InitialEquity: input.InitialEquity, Fees: feeModel,
	})
	if err != nil {
		return GridResult{Config: cfg, index: index}
	}
	trainMetrics := backtest.Compute(trainResult)
	isSharpe := trainMetrics.Sharpe

	testResult, err := backtest.Run(backtest.Input{
		Symbol: input.Symbol, Candles: testCandles, Config: cfg,
		InitialEquity: input.InitialEquity, Fees: feeModel,
	})
	if err != nil {
		return GridResult{Config: cfg, index: index, InSampleSharpe: &isSharpe}
	}
	testMetrics := backtest.Compute(testResult)

	return GridResult{
		Config:         cfg,
		Metrics:        testMetrics,
		ObjectiveScore: Score(testMetrics),
		InSampleSharpe: &isSharpe,
		index:          index,
	}
}
