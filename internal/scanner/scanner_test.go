package scanner

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type stubRanker map[string]decimal.Decimal

func (r stubRanker) PercentMove(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return r[symbol], nil
}

type stubHeld []string

func (s stubHeld) HeldSymbols() []string { return s }

func TestScanOnce_SelectsTopNByAbsoluteMove(t *testing.T) {
	ranker := stubRanker{
		"A": decimal.NewFromFloat(0.01),
		"B": decimal.NewFromFloat(-0.10), // largest absolute move
		"C": decimal.NewFromFloat(0.05),
		"D": decimal.NewFromFloat(0.002),
	}
	sc := New(zap.NewNop(), []string{"A", "B", "C", "D"}, ranker, stubHeld{}, 2, time.Hour)

	var got []string
	sc.OnSelection(func(selected []string) { got = selected })
	sc.scanOnce(context.Background())

	assert.ElementsMatch(t, []string{"B", "C"}, got)
}

func TestScanOnce_AlwaysIncludesHeldSymbolsEvenIfNotTopMovers(t *testing.T) {
	ranker := stubRanker{
		"A": decimal.NewFromFloat(0.50),
		"B": decimal.NewFromFloat(0.40),
		"Z": decimal.NewFromFloat(0.001), // held but not a top mover
	}
	sc := New(zap.NewNop(), []string{"A", "B", "Z"}, ranker, stubHeld{"Z"}, 1, time.Hour)

	var got []string
	sc.OnSelection(func(selected []string) { got = selected })
	sc.scanOnce(context.Background())

	assert.Contains(t, got, "Z")
	assert.Contains(t, got, "A")
	assert.Len(t, got, 2)
}

func TestRun_PublishesImmediatelyOnStart(t *testing.T) {
	ranker := stubRanker{"A": decimal.NewFromFloat(0.1)}
	sc := New(zap.NewNop(), []string{"A"}, ranker, stubHeld{}, 5, time.Hour)

	done := make(chan struct{}, 1)
	sc.OnSelection(func(selected []string) { done <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = sc.Run(ctx) }()
	defer cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected an immediate scan on Run start")
	}
}
