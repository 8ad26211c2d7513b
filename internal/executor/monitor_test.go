package executor

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-desktop/agent-core/pkg/types"
)

func TestCheckTimeouts_LimitOrderConvertsToMarketThenAbandonsOnSecondTimeout(t *testing.T) {
	m := NewMonitor(10 * time.Millisecond)
	m.Track(types.Order{ID: "o1", Type: types.OrderTypeLimit, Price: decimal.NewFromInt(100)}, nil, 1)

	time.Sleep(20 * time.Millisecond)
	actions := m.CheckTimeouts()
	require.Len(t, actions, 1)
	assert.Equal(t, ActionConvertToMarket, actions[0].Kind)
	assert.Equal(t, types.OrderTypeMarket, actions[0].NewMarketOrder.Type)

	time.Sleep(20 * time.Millisecond)
	actions = m.CheckTimeouts()
	require.Len(t, actions, 1)
	assert.Equal(t, ActionAbandon, actions[0].Kind)

	// Abandoned order is no longer tracked.
	_, _, tracked := m.Reservation("o1")
	assert.False(t, tracked)
}

func TestCheckTimeouts_NoActionBeforeDeadline(t *testing.T) {
	m := NewMonitor(time.Hour)
	m.Track(types.Order{ID: "o1", Type: types.OrderTypeLimit}, nil, 1)

	assert.Empty(t, m.CheckTimeouts())
}

func TestUntrack_RemovesOrderFromMonitoring(t *testing.T) {
	m := NewMonitor(time.Hour)
	m.Track(types.Order{ID: "o1"}, nil, 1)
	m.Untrack("o1")

	_, _, tracked := m.Reservation("o1")
	assert.False(t, tracked)
}
