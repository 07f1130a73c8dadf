package events

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestQueue_ProcessesSubmittedJobs(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	q := NewQueue("test", 8, 2, func(ctx context.Context, id string) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, id)
		return nil
	}, zap.NewNop())

	q.Start(context.Background())
	assert.True(t, q.Submit("a"))
	assert.True(t, q.Submit("b"))
	q.Shutdown()

	assert.ElementsMatch(t, []string{"a", "b"}, seen)
	stats := q.Stats()
	assert.Equal(t, int64(2), stats.Submitted)
	assert.Equal(t, int64(2), stats.Succeeded)
}

func TestQueue_SubmitNeverBlocksWhenFull(t *testing.T) {
	q := NewQueue("test", 1, 1, func(ctx context.Context, id string) error { return nil }, zap.NewNop())

	// not started, so the single slot stays occupied
	assert.True(t, q.Submit("a"))
	assert.False(t, q.Submit("b"))
	assert.Equal(t, int64(1), q.Stats().Dropped)

	q.Start(context.Background())
	q.Shutdown()
	assert.False(t, q.Submit("c"), "closed queue rejects")
}

func TestQueue_CountsFailuresAndRecoversPanics(t *testing.T) {
	q := NewQueue("test", 4, 1, func(ctx context.Context, id string) error {
		switch id {
		case "err":
			return errors.New("boom")
		case "panic":
			panic("bad payload")
		}
		return nil
	}, zap.NewNop())

	q.Start(context.Background())
	q.Submit("err")
	q.Submit("panic")
	q.Submit("ok")
	q.Shutdown()

	stats := q.Stats()
	assert.Equal(t, int64(2), stats.Failed)
	assert.Equal(t, int64(1), stats.Succeeded)
}
