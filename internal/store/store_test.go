package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runPayload struct {
	Profile string             `msgpack:"profile"`
	Weights map[string]float64 `msgpack:"weights"`
	Vol     float64            `msgpack:"vol"`
}

func newTestRepo(t *testing.T) *RunRepository {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := NewRunRepository(db.Conn(), zerolog.Nop())
	require.NoError(t, repo.Init(context.Background()))
	return repo
}

func TestSaveAndGetRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	payload := runPayload{
		Profile: "RP3",
		Weights: map[string]float64{"global_equity": 0.55, "cash": 0.02},
		Vol:     0.08,
	}
	id, err := repo.Save(ctx, RunOptimize, "RP3", "completed", payload)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	run, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, RunOptimize, run.Kind)
	assert.Equal(t, "RP3", run.Profile)
	assert.Equal(t, "completed", run.Status)
	assert.False(t, run.CreatedAt.IsZero())

	var decoded runPayload
	require.NoError(t, run.DecodePayload(&decoded))
	assert.Equal(t, payload.Profile, decoded.Profile)
	assert.InDelta(t, payload.Vol, decoded.Vol, 1e-12)
	assert.InDelta(t, payload.Weights["global_equity"], decoded.Weights["global_equity"], 1e-12)
}

func TestGetMissingRun(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.Get(context.Background(), "no-such-run")
	assert.Error(t, err)
}

func TestListReturnsRuns(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for _, profile := range []string{"RP1", "RP2", "RP3"} {
		_, err := repo.Save(ctx, RunOptimize, profile, "completed", runPayload{Profile: profile})
		require.NoError(t, err)
	}
	_, err := repo.Save(ctx, RunSimulate, "", "completed", map[string]int{"paths": 1000})
	require.NoError(t, err)

	runs, err := repo.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 4)

	runs, err = repo.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestInitIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	assert.NoError(t, repo.Init(context.Background()))
}
