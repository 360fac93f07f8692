package journal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_RecentNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Record(ctx, Event{Kind: KindPush, Count: 1}))
	require.NoError(t, m.Record(ctx, Event{Kind: KindPull, Count: 2}, Event{Kind: KindDrop, Count: 3}))

	recent, err := m.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, KindDrop, recent[0].Kind)
	assert.Equal(t, KindPull, recent[1].Kind)

	assert.Len(t, m.Events(), 3)
	assert.NoError(t, Nop{}.Record(ctx, Event{}))
}
