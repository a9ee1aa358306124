package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipeworks-ai/conductor/workflow"
)

func storeCheckpoint(id, workflowID string, step int, created time.Time) *Checkpoint {
	return &Checkpoint{
		ID:         id,
		WorkflowID: workflowID,
		Type:       TypeManual,
		StepIndex:  step,
		Context: workflow.InstanceContext{
			Artifacts: map[string]workflow.Artifact{},
			Decisions: map[string]string{"scope": "full"},
		},
		CreatedAt: created,
	}
}

func testCheckpointStore(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("SaveAndLoad", func(t *testing.T) {
		s := newStore(t)
		cp := storeCheckpoint("ckpt_1", "wf_1", 2, base)
		require.NoError(t, s.Save(ctx, cp))

		loaded, err := s.Load(ctx, "ckpt_1")
		require.NoError(t, err)
		assert.Equal(t, "wf_1", loaded.WorkflowID)
		assert.Equal(t, 2, loaded.StepIndex)
		assert.Equal(t, "full", loaded.Context.Decisions["scope"])
	})

	t.Run("LoadMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Load(ctx, "ckpt_missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ListNewestFirstPerWorkflow", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, storeCheckpoint("ckpt_a", "wf_1", 0, base)))
		require.NoError(t, s.Save(ctx, storeCheckpoint("ckpt_b", "wf_1", 1, base.Add(time.Minute))))
		require.NoError(t, s.Save(ctx, storeCheckpoint("ckpt_c", "wf_2", 0, base)))

		cps, err := s.List(ctx, "wf_1")
		require.NoError(t, err)
		require.Len(t, cps, 2)
		assert.Equal(t, "ckpt_b", cps[0].ID)
		assert.Equal(t, "ckpt_a", cps[1].ID)
	})

	t.Run("Delete", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, storeCheckpoint("ckpt_del", "wf_1", 0, base)))
		require.NoError(t, s.Delete(ctx, "ckpt_del"))

		_, err := s.Load(ctx, "ckpt_del")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryStore(t *testing.T) {
	testCheckpointStore(t, func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestRedisStore(t *testing.T) {
	testCheckpointStore(t, func(t *testing.T) Store {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		return NewRedisStore(client, "")
	})
}

func TestMemoryStore_ExpiredCheckpointIsAbsent(t *testing.T) {
	s := NewMemoryStore()
	past := time.Now().Add(-time.Minute)
	cp := storeCheckpoint("ckpt_old", "wf_1", 0, past.Add(-time.Hour))
	cp.ExpiresAt = &past
	require.NoError(t, s.Save(context.Background(), cp))

	_, err := s.Load(context.Background(), "ckpt_old")
	assert.ErrorIs(t, err, ErrNotFound)

	cps, err := s.List(context.Background(), "wf_1")
	require.NoError(t, err)
	assert.Empty(t, cps)
}

func TestRedisStore_TTLExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	s := NewRedisStore(client, "")

	expires := time.Now().Add(time.Minute)
	cp := storeCheckpoint("ckpt_ttl", "wf_1", 0, time.Now())
	cp.ExpiresAt = &expires
	require.NoError(t, s.Save(context.Background(), cp))

	_, err := s.Load(context.Background(), "ckpt_ttl")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = s.Load(context.Background(), "ckpt_ttl")
	assert.ErrorIs(t, err, ErrNotFound)

	// The stale index entry is dropped on the next listing.
	cps, err := s.List(context.Background(), "wf_1")
	require.NoError(t, err)
	assert.Empty(t, cps)
}

func TestRedisStore_SaveAlreadyExpired(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	s := NewRedisStore(client, "")

	past := time.Now().Add(-time.Minute)
	cp := storeCheckpoint("ckpt_late", "wf_1", 0, time.Now())
	cp.ExpiresAt = &past
	assert.Error(t, s.Save(context.Background(), cp))
}
