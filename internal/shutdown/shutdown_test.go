package shutdown

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/agent-core/internal/portfolio"
	"github.com/atlas-desktop/agent-core/internal/session"
	"github.com/atlas-desktop/agent-core/pkg/types"
)

type fakeExec struct {
	todayOrders  []types.Order
	canceled     []string
	placed       []types.Order
	placeErr     error
}

func (f *fakeExec) PlaceOrder(ctx context.Context, order types.Order) (types.Order, error) {
	if f.placeErr != nil {
		return types.Order{}, f.placeErr
	}
	f.placed = append(f.placed, order)
	return order, nil
}
func (f *fakeExec) CancelOrder(ctx context.Context, orderID string) error {
	f.canceled = append(f.canceled, orderID)
	return nil
}
func (f *fakeExec) GetOrder(ctx context.Context, orderID string) (types.Order, error) {
	return types.Order{}, nil
}
func (f *fakeExec) GetTodayOrders(ctx context.Context) ([]types.Order, error) {
	return f.todayOrders, nil
}
func (f *fakeExec) GetOpenOrders(ctx context.Context) ([]types.Order, error) {
	out := make([]types.Order, 0, len(f.todayOrders))
	for _, o := range f.todayOrders {
		if !o.Status.IsTerminal() {
			out = append(out, o)
		}
	}
	return out, nil
}
func (f *fakeExec) SubscribeOrderUpdates(ctx context.Context) (<-chan types.Order, error) {
	ch := make(chan types.Order)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}
func (f *fakeExec) AccountPortfolio(ctx context.Context) (types.Portfolio, error) {
	return types.Portfolio{}, nil
}

type fakeRiskRepo struct{ saved types.RiskState }

func (f *fakeRiskRepo) SaveRiskState(ctx context.Context, state types.RiskState) error {
	f.saved = state
	return nil
}
func (f *fakeRiskRepo) LoadRiskState(ctx context.Context) (types.RiskState, bool, error) {
	return types.RiskState{}, false, nil
}

func TestRun_CancelsOpenOrdersAndPersistsRiskState(t *testing.T) {
	exec := &fakeExec{todayOrders: []types.Order{
		{ID: "open-1", Status: types.OrderStatusNew},
		{ID: "filled-1", Status: types.OrderStatusFilled},
	}}
	riskRepo := &fakeRiskRepo{}
	pm := portfolio.New(zap.NewNop(), decimal.NewFromInt(1000), func() int64 { return 1 })
	sm := session.New(zap.NewNop(), decimal.NewFromInt(1000), time.Now)

	svc := New(zap.NewNop(), exec, pm, sm, riskRepo, Options{})
	svc.Run(context.Background())

	assert.Equal(t, []string{"open-1"}, exec.canceled) // terminal order untouched
	assert.False(t, riskRepo.saved.UpdatedAt.IsZero())
}

func TestRun_FlattensOpenPositionsWhenEnabled(t *testing.T) {
	exec := &fakeExec{}
	riskRepo := &fakeRiskRepo{}
	pm := portfolio.New(zap.NewNop(), decimal.NewFromInt(100000), func() int64 { return 1 })
	sm := session.New(zap.NewNop(), decimal.NewFromInt(100000), time.Now)

	_, err := pm.ApplyFill(1, nil, types.Order{ID: "seed", Symbol: "BTC", Side: types.OrderSideBuy, Quantity: decimal.NewFromInt(2)}, decimal.NewFromInt(100), decimal.NewFromInt(2), decimal.Zero)
	require.NoError(t, err)

	svc := New(zap.NewNop(), exec, pm, sm, riskRepo, Options{FlattenPositions: true, LiquidationTimeout: time.Second})
	svc.Run(context.Background())

	require.Len(t, exec.placed, 1)
	assert.Equal(t, "BTC", exec.placed[0].Symbol)
	assert.Equal(t, types.OrderSideSell, exec.placed[0].Side)
	assert.True(t, exec.placed[0].Quantity.Equal(decimal.NewFromInt(2)))
}

func TestRun_SkipsFlattenWhenDisabled(t *testing.T) {
	exec := &fakeExec{}
	riskRepo := &fakeRiskRepo{}
	pm := portfolio.New(zap.NewNop(), decimal.NewFromInt(100000), func() int64 { return 1 })
	sm := session.New(zap.NewNop(), decimal.NewFromInt(100000), time.Now)

	_, err := pm.ApplyFill(1, nil, types.Order{ID: "seed", Symbol: "BTC", Side: types.OrderSideBuy, Quantity: decimal.NewFromInt(2)}, decimal.NewFromInt(100), decimal.NewFromInt(2), decimal.Zero)
	require.NoError(t, err)

	svc := New(zap.NewNop(), exec, pm, sm, riskRepo, Options{FlattenPositions: false})
	svc.Run(context.Background())

	assert.Empty(t, exec.placed)
}
