package optimize

import (
	"math/rand"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/agent-core/internal/backtest"
	"github.com/atlas-desktop/agent-core/internal/fees"
	"github.com/atlas-desktop/agent-core/internal/workers"
	"github.com/atlas-desktop/agent-core/pkg/types"
)

// geneBound is the [lo, hi] range a genome position decodes into.
type geneBound struct {
	lo, hi float64
}

// genomeLayout fixes the 14-gene real-valued genome's field order and decode
// bounds. Every gene is a float in [0,1]; decode linearly interpolates it
// into the bound below.
var genomeLayout = [14]geneBound{
	{5, 20},   // FastSMAPeriod
	{20, 60},  // SlowSMAPeriod
	{7, 21},   // RSIPeriod
	{60, 85},  // RSIOverbought
	{15, 40},  // RSIOversold
	{8, 16},   // MACDFast
	{20, 30},  // MACDSlow
	{5, 12},   // MACDSignal
	{7, 21},   // ATRPeriod
	{7, 21},   // ADXPeriod
	{10, 30},  // BBPeriod
	{1.5, 3},  // BBStdDev
	{0.005, 0.03}, // RiskPerTradePercent
	{1, 9},    // RiskAppetiteScore
}

const genomeLen = len(genomeLayout)

// Genome is a 14-gene real-valued individual in [0,1]^14.
type Genome [genomeLen]float64

func randomGenome(rng *rand.Rand) Genome {
	var g Genome
	for i := range g {
		g[i] = rng.Float64()
	}
	return g
}

func lerp(gene float64, b geneBound) float64 {
	if gene < 0 {
		gene = 0
	}
	if gene > 1 {
		gene = 1
	}
	return b.lo + gene*(b.hi-b.lo)
}

// Decode maps a Genome onto an AnalystConfig, starting from base for every
// field the genome does not cover (StrategyMode, cooldown/confirmation
// filters, position caps).
func (g Genome) Decode(base types.AnalystConfig) types.AnalystConfig {
	cfg := base
	cfg.FastSMAPeriod = int(lerp(g[0], genomeLayout[0]))
	cfg.SlowSMAPeriod = int(lerp(g[1], genomeLayout[1]))
	if cfg.SlowSMAPeriod <= cfg.FastSMAPeriod {
		cfg.SlowSMAPeriod = cfg.FastSMAPeriod + 1
	}
	cfg.RSIPeriod = int(lerp(g[2], genomeLayout[2]))
	cfg.RSIOverbought = decimal.NewFromFloat(lerp(g[3], genomeLayout[3]))
	cfg.RSIOversold = decimal.NewFromFloat(lerp(g[4], genomeLayout[4]))
	cfg.MACDFast = int(lerp(g[5], genomeLayout[5]))
	cfg.MACDSlow = int(lerp(g[6], genomeLayout[6]))
	cfg.MACDSignal = int(lerp(g[7], genomeLayout[7]))
	cfg.ATRPeriod = int(lerp(g[8], genomeLayout[8]))
	cfg.ADXPeriod = int(lerp(g[9], genomeLayout[9]))
	cfg.BBPeriod = int(lerp(g[10], genomeLayout[10]))
	cfg.BBStdDev = decimal.NewFromFloat(lerp(g[11], genomeLayout[11]))
	cfg.RiskPerTradePercent = decimal.NewFromFloat(lerp(g[12], genomeLayout[12]))
	cfg.RiskAppetiteScore = int(lerp(g[13], genomeLayout[13]))
	return cfg
}

// GeneticConfig tunes the evolutionary search. Zero values fall back to the
// defaults (population 24, generations 15, mutation rate 0.15).
type GeneticConfig struct {
	PopulationSize int
	Generations    int
	MutationRate   float64
	TournamentK    int
	Seed           int64
}

func (c GeneticConfig) withDefaults() GeneticConfig {
	if c.PopulationSize <= 0 {
		c.PopulationSize = 24
	}
	if c.Generations <= 0 {
		c.Generations = 15
	}
	if c.MutationRate <= 0 {
		c.MutationRate = 0.15
	}
	if c.TournamentK <= 0 {
		c.TournamentK = 3
	}
	return c
}

// GeneticInput parameterizes one genetic-search run.
type GeneticInput struct {
	Symbol        string
	Candles       []types.Candle
	Base          types.AnalystConfig
	InitialEquity decimal.Decimal
	Fees          *fees.Model
	TrainRatio    float64
	Config        GeneticConfig
	NumWorkers    int
}

// individual pairs a Genome with its evaluated fitness.
type individual struct {
	genome  Genome
	config  types.AnalystConfig
	metrics backtest.Metrics
	score   float64
}

// RunGenetic evolves GeneticConfig.Generations generations of a
// GeneticConfig.PopulationSize population, evaluating each individual's
// Score() in parallel, and returns GridResult-shaped output sorted
// descending by objective score with the best individual seen across all
// generations (elitism may otherwise lose it to drift) guaranteed first.
func RunGenetic(logger *zap.Logger, input GeneticInput) ([]GridResult, error) {
	cfg := input.Config.withDefaults()
	rng := rand.New(rand.NewSource(cfg.Seed))
	numWorkers := input.NumWorkers
	if numWorkers <= 0 {
		numWorkers = 4
	}

	pool := workers.NewPool(logger, &workers.PoolConfig{
		Name:            "genetic-search",
		NumWorkers:      numWorkers,
		QueueSize:       cfg.PopulationSize + 1,
		TaskTimeout:     workers.DefaultPoolConfig("genetic-search").TaskTimeout,
		ShutdownTimeout: workers.DefaultPoolConfig("genetic-search").ShutdownTimeout,
		PanicRecovery:   true,
	})
	pool.Start()
	defer pool.Stop()

	population := make([]Genome, cfg.PopulationSize)
	for i := range population {
		population[i] = randomGenome(rng)
	}

	var globalBest *individual

	for gen := 0; gen < cfg.Generations; gen++ {
		evaluated := evaluatePopulation(pool, input, population)

		for i := range evaluated {
			if globalBest == nil || evaluated[i].score > globalBest.score {
				copied := evaluated[i]
				globalBest = &copied
			}
		}

		sort.SliceStable(evaluated, func(i, j int) bool { return evaluated[i].score > evaluated[j].score })

		if gen == cfg.Generations-1 {
			return finalizeGenetic(evaluated, globalBest), nil
		}

		population = nextGeneration(rng, cfg, evaluated)
	}

	return finalizeGenetic(nil, globalBest), nil
}

func evaluatePopulation(pool *workers.Pool, input GeneticInput, population []Genome) []individual {
	results := make([]individual, len(population))
	var wg sync.WaitGroup
	for i, genome := range population {
		i, genome := i, genome
		wg.Add(1)
		if err := pool.SubmitFunc(func() error {
			defer wg.Done()
			results[i] = evaluateGenome(input, genome)
			return nil
		}); err != nil {
			wg.Done()
			results[i] = evaluateGenome(input, genome)
		}
	}
	wg.Wait()
	return results
}

func evaluateGenome(input GeneticInput, genome Genome) individual {
	cfg := genome.Decode(input.Base)

	candles := input.Candles
	if input.TrainRatio > 0 && input.TrainRatio < 1.0 {
		split := int(float64(len(candles)) * input.TrainRatio)
		if split > 0 && split < len(candles) {
			candles = candles[:split]
		}
	}

	result, err := backtest.Run(backtest.Input{
		Symbol: input.Symbol, Candles: candles, Config: cfg,
		InitialEquity: input.InitialEquity, Fees: input.Fees,
	})
	if err != nil {
		return individual{genome: genome, config: cfg}
	}
	m := backtest.Compute(result)
	return individual{genome: genome, config: cfg, metrics: m, score: Score(m)}
}

// nextGeneration builds the following population via elitism (top 2 survive
// unchanged), then fills the remainder with tournament-selected parents
// combined by uniform crossover and per-gene mutation.
func nextGeneration(rng *rand.Rand, cfg GeneticConfig, ranked []individual) []Genome {
	next := make([]Genome, 0, cfg.PopulationSize)
	elites := 2
	if elites > len(ranked) {
		elites = len(ranked)
	}
	for i := 0; i < elites; i++ {
		next = append(next, ranked[i].genome)
	}

	for len(next) < cfg.PopulationSize {
		parentA := tournamentSelect(rng, cfg.TournamentK, ranked)
		parentB := tournamentSelect(rng, cfg.TournamentK, ranked)
		child := crossover(rng, parentA, parentB)
		mutate(rng, &child, cfg.MutationRate)
		next = append(next, child)
	}
	return next
}

func tournamentSelect(rng *rand.Rand, k int, ranked []individual) Genome {
	best := ranked[rng.Intn(len(ranked))]
	for i := 1; i < k; i++ {
		candidate := ranked[rng.Intn(len(ranked))]
		if candidate.score > best.score {
			best = candidate
		}
	}
	return best.genome
}

func crossover(rng *rand.Rand, a, b Genome) Genome {
	var child Genome
	for i := range child {
		if rng.Float64() < 0.5 {
			child[i] = a[i]
		} else {
			child[i] = b[i]
		}
	}
	return child
}

func mutate(rng *rand.Rand, g *Genome, rate float64) {
	for i := range g {
		if rng.Float64() >= rate {
			continue
		}
		delta := (rng.Float64()*2 - 1) * 0.2 // +/-0.2
		v := g[i] + delta
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		g[i] = v
	}
}

// finalizeGenetic converts the final generation into GridResult-shaped
// output, injecting globalBest at position 0 if it outscores the current
// top (elitism alone doesn't guarantee the best-ever individual survives
// the final generation's crossover/mutation).
func finalizeGenetic(ranked []individual, globalBest *individual) []GridResult {
	out := make([]GridResult, 0, len(ranked)+1)
	for _, ind := range ranked {
		out = append(out, GridResult{Config: ind.config, Metrics: ind.metrics, ObjectiveScore: ind.score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ObjectiveScore > out[j].ObjectiveScore })

	if globalBest != nil {
		if len(out) == 0 || globalBest.score > out[0].ObjectiveScore {
			best := GridResult{Config: globalBest.config, Metrics: globalBest.metrics, ObjectiveScore: globalBest.score}
			out = append([]GridResult{best}, out...)
		}
	}
	return out
}
