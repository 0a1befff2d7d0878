package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndQuerySamples(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Now().Truncate(time.Second)

	require.NoError(t, s.RecordSample(ctx, 54.0, base))
	require.NoError(t, s.RecordSample(ctx, 86.5, base.Add(10*time.Second)))
	require.NoError(t, s.RecordSample(ctx, 91.0, base.Add(20*time.Second)))

	samples, err := s.SamplesSince(ctx, base.Add(5*time.Second))
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.InDelta(t, 86.5, samples[0].Temperature, 0.001)
	assert.InDelta(t, 91.0, samples[1].Temperature, 0.001)
}

func TestRecordAndQueryTransitions(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	require.NoError(t, s.RecordTransition(ctx, "running", "throttled", "alert threshold reached", now))
	require.NoError(t, s.RecordTransition(ctx, "throttled", "stopped", "kill threshold reached", now.Add(time.Second)))

	transitions, err := s.TransitionsSince(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	assert.Equal(t, "running", transitions[0].FromState)
	assert.Equal(t, "throttled", transitions[0].ToState)
	assert.Equal(t, "kill threshold reached", transitions[1].Reason)
}

func TestEmptyQueriesReturnNoRows(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	samples, err := s.SamplesSince(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, samples)

	transitions, err := s.TransitionsSince(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, transitions)
}

func TestPing(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.Ping(context.Background()))
}

func TestOpenCreatesSchemaIdempotently(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.RecordSample(context.Background(), 50, time.Now()))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	samples, err := s2.SamplesSince(context.Background(), time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Len(t, samples, 1)
}
