package detect

import (
	"context"
	"testing"

	"fdsengine/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectionCounter_ThresholdSemantics(t *testing.T) {
	store, mr := newTestStore(t)
	dc := NewDetectionCounter(store, "")
	ctx := context.Background()

	const threshold = 3
	for i := 1; i <= 5; i++ {
		count, met, err := dc.IncrementAndCheck(ctx, "R1", "T1", threshold)
		require.NoError(t, err)
		assert.Equal(t, int64(i), count)
		assert.Equal(t, i >= threshold, met, "call %d", i)
	}

	v, err := mr.Get("detected:count:R1:T1")
	require.NoError(t, err)
	assert.Equal(t, "5", v)
}

func TestDetectionCounter_KeysArePerRuleAndTransaction(t *testing.T) {
	store, _ := newTestStore(t)
	dc := NewDetectionCounter(store, "fds:count:")
	ctx := context.Background()

	assert.Equal(t, "fds:count:R1:T1", dc.Key("R1", "T1"))

	_, met, err := dc.IncrementAndCheck(ctx, "R1", "T1", 2)
	require.NoError(t, err)
	assert.False(t, met)

	count, met, err := dc.IncrementAndCheck(ctx, "R2", "T1", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.False(t, met)

	count, met, err = dc.IncrementAndCheck(ctx, "R1", "T1", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.True(t, met)
}

func TestDetectionCounter_ThresholdFloor(t *testing.T) {
	store, _ := newTestStore(t)
	dc := NewDetectionCounter(store, "")

	_, met, err := dc.IncrementAndCheck(context.Background(), "R1", "T1", 0)
	require.NoError(t, err)
	assert.True(t, met)
}

func TestDetectionCounter_StoreFailure(t *testing.T) {
	dc := NewDetectionCounter(&failingStore{}, "")
	_, met, err := dc.IncrementAndCheck(context.Background(), "R1", "T1", 1)
	assert.False(t, met)
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)
}
