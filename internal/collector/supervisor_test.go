package collector

import (
	"context"
	"testing"
	"time"

	"github.com/johnayoung/go-ohlcv-collector/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupervisorEnqueueRunsJobToCompletion(t *testing.T) {
	s := NewSupervisor(2, nil)
	s.Start()
	defer s.Stop(context.Background())

	done := make(chan struct{})
	key, err := s.Enqueue("coinbase", "spot", "btc-usd", models.DataTypeOHLCV, func(ctx context.Context, onProgress ProgressFunc) error {
		onProgress(1000, 5, "ok")
		close(done)
		return nil
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job never ran")
	}

	require.Eventually(t, func() bool {
		status := s.Status()
		task, ok := status[key]
		return ok && task.Status == models.TaskCompleted
	}, time.Second, 10*time.Millisecond)
}

func TestSupervisorEnqueueRejectsAlreadyRunning(t *testing.T) {
	s := NewSupervisor(1, nil)
	s.Start()
	defer s.Stop(context.Background())

	block := make(chan struct{})
	_, err := s.Enqueue("coinbase", "spot", "btc-usd", models.DataTypeOHLCV, func(ctx context.Context, onProgress ProgressFunc) error {
		<-block
		return nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status := s.Status()
		task, ok := status[models.TaskKey("coinbase", "spot", "btc-usd", string(models.DataTypeOHLCV))]
		return ok && task.Status == models.TaskRunning
	}, time.Second, 10*time.Millisecond)

	_, err = s.Enqueue("coinbase", "spot", "btc-usd", models.DataTypeOHLCV, func(ctx context.Context, onProgress ProgressFunc) error {
		return nil
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "AlreadyRunning")
	close(block)
}

func TestSupervisorCancelUnknownKey(t *testing.T) {
	s := NewSupervisor(1, nil)
	err := s.Cancel("nobody")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "NotFound")
}

func TestSupervisorCancelStopsRunningJob(t *testing.T) {
	s := NewSupervisor(1, nil)
	s.Start()
	defer s.Stop(context.Background())

	key, err := s.Enqueue("coinbase", "spot", "eth-usd", models.DataTypeOHLCV, func(ctx context.Context, onProgress ProgressFunc) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status := s.Status()
		task, ok := status[key]
		return ok && task.Status == models.TaskRunning
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, s.Cancel(key))

	require.Eventually(t, func() bool {
		status := s.Status()
		task, ok := status[key]
		return ok && task.Status == models.TaskFailed
	}, time.Second, 10*time.Millisecond)
}

func TestSupervisorStatusIsASnapshotCopy(t *testing.T) {
	s := NewSupervisor(1, nil)
	s.Start()
	defer s.Stop(context.Background())

	key, err := s.Enqueue("coinbase", "spot", "btc-usd", models.DataTypeOHLCV, func(ctx context.Context, onProgress ProgressFunc) error {
		return nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := s.Status()[key]
		return ok
	}, time.Second, 10*time.Millisecond)

	first := s.Status()[key]
	first.Message = "mutated locally"

	second := s.Status()[key]
	assert.NotEqual(t, "mutated locally", second.Message)
}
