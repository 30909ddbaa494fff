package statusx

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startMiniRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func newTestStore(t *testing.T, opts RedisStoreOptions) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	s := startMiniRedis(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, opts), s
}

func TestRedisStore_SaveLoadRoundtrip(t *testing.T) {
	store, _ := newTestStore(t, RedisStoreOptions{})
	ctx := context.Background()

	rec := &Record{
		ID:        "job-1",
		Status:    StatusQueued,
		Args:      []byte(`[{"user_id":123},"welcome"]`),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Save(ctx, rec))
	assert.False(t, rec.ExpiresAt.IsZero(), "Save should stamp expiry")

	got, err := store.Load(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", got.ID)
	assert.Equal(t, StatusQueued, got.Status)
	assert.Equal(t, []byte(`[{"user_id":123},"welcome"]`), []byte(got.Args))
	assert.EqualValues(t, 0, got.At)
	assert.EqualValues(t, 0, got.Total)
	assert.Empty(t, got.Message)
	assert.False(t, got.KillRequested)
	assert.WithinDuration(t, rec.CreatedAt, got.CreatedAt, time.Second)
	assert.WithinDuration(t, rec.ExpiresAt, got.ExpiresAt, time.Second)
}

func TestRedisStore_CreateRefusesDuplicate(t *testing.T) {
	store, _ := newTestStore(t, RedisStoreOptions{})
	ctx := context.Background()

	rec := &Record{ID: "job-dup", Status: StatusQueued, CreatedAt: time.Now().UTC()}
	require.NoError(t, store.Create(ctx, rec))

	// Advance the live record past queued.
	rec.Status = StatusWorking
	rec.At, rec.Total = 5, 10
	require.NoError(t, store.Save(ctx, rec))

	dup := &Record{ID: "job-dup", Status: StatusQueued, CreatedAt: time.Now().UTC()}
	assert.ErrorIs(t, store.Create(ctx, dup), ErrAlreadyExists)

	got, err := store.Load(ctx, "job-dup")
	require.NoError(t, err)
	assert.Equal(t, StatusWorking, got.Status, "live record untouched by duplicate create")
	assert.EqualValues(t, 5, got.At)
	assert.EqualValues(t, 10, got.Total)
}

func TestRedisStore_LoadMissing(t *testing.T) {
	store, _ := newTestStore(t, RedisStoreOptions{})

	_, err := store.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_Delete(t *testing.T) {
	store, _ := newTestStore(t, RedisStoreOptions{})
	ctx := context.Background()

	rec := &Record{ID: "job-del", Status: StatusQueued, CreatedAt: time.Now().UTC()}
	require.NoError(t, store.Save(ctx, rec))
	require.NoError(t, store.Delete(ctx, "job-del"))

	_, err := store.Load(ctx, "job-del")
	assert.ErrorIs(t, err, ErrNotFound)

	ids, err := store.List(ctx, time.Time{}, 0)
	require.NoError(t, err)
	assert.NotContains(t, ids, "job-del", "index entry should be gone")

	// Deleting again is a no-op.
	assert.NoError(t, store.Delete(ctx, "job-del"))
}

func TestRedisStore_KillFlagSurvivesSave(t *testing.T) {
	store, _ := newTestStore(t, RedisStoreOptions{})
	ctx := context.Background()

	rec := &Record{ID: "job-k", Status: StatusWorking, CreatedAt: time.Now().UTC()}
	require.NoError(t, store.Save(ctx, rec))
	require.NoError(t, store.SetKillRequested(ctx, "job-k"))

	// A writer's full-record save must not clear a kill raised by another
	// process.
	rec.At = 10
	rec.Total = 100
	require.NoError(t, store.Save(ctx, rec))

	killed, err := store.KillRequested(ctx, "job-k")
	require.NoError(t, err)
	assert.True(t, killed)

	got, err := store.Load(ctx, "job-k")
	require.NoError(t, err)
	assert.True(t, got.KillRequested)
	assert.EqualValues(t, 10, got.At)
}

func TestRedisStore_KillMissingRecord(t *testing.T) {
	store, _ := newTestStore(t, RedisStoreOptions{})
	ctx := context.Background()

	err := store.SetKillRequested(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.KillRequested(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_KillRequestedDefaultFalse(t *testing.T) {
	store, _ := newTestStore(t, RedisStoreOptions{})
	ctx := context.Background()

	rec := &Record{ID: "job-nk", Status: StatusQueued, CreatedAt: time.Now().UTC()}
	require.NoError(t, store.Save(ctx, rec))

	killed, err := store.KillRequested(ctx, "job-nk")
	require.NoError(t, err)
	assert.False(t, killed)
}

func TestRedisStore_ListOrdersByExpiry(t *testing.T) {
	store, _ := newTestStore(t, RedisStoreOptions{Retention: time.Hour})
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &Record{ID: "a", Status: StatusQueued, CreatedAt: time.Now().UTC()}))
	require.NoError(t, store.Save(ctx, &Record{ID: "b", Status: StatusQueued, CreatedAt: time.Now().UTC()}))

	ids, err := store.List(ctx, time.Now().Add(2*time.Hour), 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)

	// Nothing expires within a minute.
	ids, err = store.List(ctx, time.Now().Add(time.Minute), 0)
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = store.List(ctx, time.Now().Add(2*time.Hour), 1)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestRedisStore_Sweep(t *testing.T) {
	store, _ := newTestStore(t, RedisStoreOptions{Retention: time.Millisecond})
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &Record{ID: "old", Status: StatusCompleted, CreatedAt: time.Now().UTC()}))

	pruned, err := store.Sweep(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, pruned)

	_, err = store.Load(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)

	ids, err := store.List(ctx, time.Now().Add(time.Hour), 0)
	require.NoError(t, err)
	assert.Empty(t, ids)

	// Nothing left to sweep.
	pruned, err = store.Sweep(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, pruned)
}

func TestRedisStore_SweepKeepsLiveRecords(t *testing.T) {
	store, _ := newTestStore(t, RedisStoreOptions{Retention: time.Hour})
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &Record{ID: "live", Status: StatusWorking, CreatedAt: time.Now().UTC()}))

	pruned, err := store.Sweep(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, pruned)

	_, err = store.Load(ctx, "live")
	assert.NoError(t, err)
}
