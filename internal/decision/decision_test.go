package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHoldHasZeroSize(t *testing.T) {
	d := New(ActionHold, "BTCUSDT", 1234, 0.8, "flat market", SourceStatistical)
	assert.Zero(t, d.SizeUSD)
	assert.Zero(t, d.RawSizeUSD)
}

func TestNewClampsInputs(t *testing.T) {
	d := New(ActionLong, "BTCUSDT", -50, 1.7, "", SourceReasoning)
	assert.Zero(t, d.SizeUSD)
	assert.Equal(t, 1.0, d.Confidence)
}

func TestWithSizePreservesRaw(t *testing.T) {
	d := New(ActionLong, "BTCUSDT", 1000, 0.7, "momentum", SourceStatistical)
	d2 := d.WithSize(500, "risk_multiplier", "0.5x", nil)

	assert.Equal(t, 500.0, d2.SizeUSD)
	assert.Equal(t, 1000.0, d2.RawSizeUSD)
	assert.Equal(t, ActionLong, d2.RawAction)
	require.Len(t, d2.Trail, 1)
	assert.True(t, d2.Trail[0].Allowed)

	// 原值不受影响（值语义）。
	assert.Equal(t, 1000.0, d.SizeUSD)
	assert.Empty(t, d.Trail)
}

func TestForceHoldZeroesSize(t *testing.T) {
	d := New(ActionShort, "ETHUSDT", 2000, 0.6, "", SourceReasoning)
	d2 := d.ForceHold("max_positions", "at limit", map[string]float64{"open_positions": 10})

	assert.True(t, d2.IsHold())
	assert.Zero(t, d2.SizeUSD)
	assert.Equal(t, ActionShort, d2.RawAction)
	assert.Equal(t, 2000.0, d2.RawSizeUSD)
	require.Len(t, d2.Trail, 1)
	assert.False(t, d2.Trail[0].Allowed)
	assert.Equal(t, "max_positions", d2.Trail[0].Stage)
}

func TestTrailAppendsWithoutSharing(t *testing.T) {
	d := New(ActionLong, "BTCUSDT", 1000, 0.7, "", SourceStatistical)
	d1 := d.Annotated("a", true, "", nil)
	d2 := d1.Annotated("b", true, "", nil)
	d3 := d1.Annotated("c", true, "", nil)

	require.Len(t, d2.Trail, 2)
	require.Len(t, d3.Trail, 2)
	assert.Equal(t, "b", d2.Trail[1].Stage)
	assert.Equal(t, "c", d3.Trail[1].Stage)
}

func TestWithSizeNegativeClamped(t *testing.T) {
	d := New(ActionLong, "BTCUSDT", 1000, 0.7, "", SourceStatistical)
	d2 := d.WithSize(-10, "kelly_sizing", "", nil)
	assert.Zero(t, d2.SizeUSD)
}
