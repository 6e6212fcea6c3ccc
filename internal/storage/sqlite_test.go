package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchcall/internal/domain"
	logx "matchcall/pkg/logx"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "matchcall.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestBindingsRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTemp(t)
	ctx := context.Background()

	require.NoError(t, st.putBinding(ctx, domain.Binding{Identity: "42", PUUID: "P", Region: "na1"}))
	require.NoError(t, st.putBinding(ctx, domain.Binding{Identity: "7", PUUID: "Q", Region: "euw1", DestinationHint: "g1:c9"}))
	require.Error(t, st.putBinding(ctx, domain.Binding{Identity: "", PUUID: "X"}))

	got, err := st.ListBindings(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.Binding{Identity: "42", PUUID: "P", Region: "na1"}, got[0])
	assert.Equal(t, "g1:c9", got[1].DestinationHint)

	require.NoError(t, st.deactivateBinding(ctx, "42", "P"))
	got, err = st.ListBindings(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "7", got[0].Identity)
}

func TestResolveKeepsPositionOrder(t *testing.T) {
	t.Parallel()
	st := openTemp(t)
	ctx := context.Background()

	require.NoError(t, st.putDestination(ctx, "42", "222", 1))
	require.NoError(t, st.putDestination(ctx, "42", "111", 0))
	require.NoError(t, st.putDestination(ctx, "43", "333", 0))

	keys, err := st.Resolve(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, []string{"111", "222"}, keys)

	require.NoError(t, st.removeDestination(ctx, "42", "111"))
	keys, err = st.Resolve(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, []string{"222"}, keys)

	keys, err = st.Resolve(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestAnalysisRecord(t *testing.T) {
	t.Parallel()
	st := openTemp(t)
	ctx := context.Background()

	_, ok, err := st.GetRecord(ctx, "NA1_1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.putRecord(ctx, domain.AnalysisRecord{MatchID: "NA1_1", PUUID: "P", Summary: "carried", Score: 8.25}))
	rec, ok, err := st.GetRecord(ctx, "NA1_1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "carried", rec.Summary)
	assert.InDelta(t, 8.25, rec.Score, 1e-9)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestLastSeenCache(t *testing.T) {
	t.Parallel()
	st := openTemp(t)
	c := st.LastSeen()
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "42:P")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "42:P", "NA1_101", time.Hour))
	v, ok, err := c.Get(ctx, "42:P")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "NA1_101", v)

	require.NoError(t, c.Set(ctx, "42:P", "NA1_102", time.Hour))
	v, _, _ = c.Get(ctx, "42:P")
	assert.Equal(t, "NA1_102", v)

	now = now.Add(2 * time.Hour)
	_, ok, err = c.Get(ctx, "42:P")
	require.NoError(t, err)
	assert.False(t, ok, "expired row should miss")
}

func TestClosedStore(t *testing.T) {
	t.Parallel()
	var st *Store
	_, err := st.ListBindings(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
