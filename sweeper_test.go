package statusx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeper_PrunesExpiredRecords(t *testing.T) {
	store, _ := newTestStore(t, RedisStoreOptions{Retention: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &Record{ID: "stale", Status: StatusCompleted, CreatedAt: time.Now().UTC()}
	require.NoError(t, store.Save(ctx, rec))

	sweeper := NewSweeper(store, SweeperOptions{Interval: 10 * time.Millisecond})
	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()

	// Expiry scores have second granularity; wait out the boundary.
	err := pollUntil(t, 3*time.Second, func() (bool, error) {
		_, loadErr := store.Load(ctx, "stale")
		return loadErr != nil, nil
	})
	require.NoError(t, err, "record was never swept")

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
