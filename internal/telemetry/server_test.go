package telemetry

import (
	"context"
	"encoding/json"
	"net/http/httptest"
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

type stubExec struct{ todayOrders []types.Order }

func (s *stubExec) PlaceOrder(ctx context.Context, order types.Order) (types.Order, error) {
	return order, nil
}
func (s *stubExec) CancelOrder(ctx context.Context, orderID string) error { return nil }
func (s *stubExec) GetOrder(ctx context.Context, orderID string) (types.Order, error) {
	return types.Order{}, nil
}
func (s *stubExec) GetTodayOrders(ctx context.Context) ([]types.Order, error) {
	return s.todayOrders, nil
}
func (s *stubExec) GetOpenOrders(ctx context.Context) ([]types.Order, error) {
	out := make([]types.Order, 0, len(s.todayOrders))
	for _, o := range s.todayOrders {
		if !o.Status.IsTerminal() {
			out = append(out, o)
		}
	}
	return out, nil
}
func (s *stubExec) SubscribeOrderUpdates(ctx context.Context) (<-chan types.Order, error) {
	ch := make(chan types.Order)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}
func (s *stubExec) AccountPortfolio(ctx context.Context) (types.Portfolio, error) {
	return types.Portfolio{}, nil
}

func TestHandleStatus_ReportsOpenOrdersAndHealthyStatus(t *testing.T) {
	pm := portfolio.New(zap.NewNop(), decimal.NewFromInt(10000), func() int64 { return 1 })
	sm := session.New(zap.NewNop(), decimal.NewFromInt(10000), time.Now)
	exec := &stubExec{todayOrders: []types.Order{
		{ID: "a", Status: types.OrderStatusNew},
		{ID: "b", Status: types.OrderStatusFilled},
	}}

	srv := New(zap.NewNop(), ":0", pm, sm, exec, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/status", nil)
	srv.handleStatus(w, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(1), body["open_orders"])
}

func TestHandleStatus_ReportsDegradedWhenPortfolioUnsynchronized(t *testing.T) {
	pm := portfolio.New(zap.NewNop(), decimal.NewFromInt(10000), func() int64 { return 1 })
	pm.MarkStale()
	sm := session.New(zap.NewNop(), decimal.NewFromInt(10000), time.Now)

	srv := New(zap.NewNop(), ":0", pm, sm, &stubExec{}, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/status", nil)
	srv.handleStatus(w, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
}

func TestHandleHealth_AlwaysReportsOK(t *testing.T) {
	pm := portfolio.New(zap.NewNop(), decimal.NewFromInt(10000), func() int64 { return 1 })
	sm := session.New(zap.NewNop(), decimal.NewFromInt(10000), time.Now)
	srv := New(zap.NewNop(), ":0", pm, sm, &stubExec{}, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/healthz", nil)
	srv.handleHealth(w, req)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}
