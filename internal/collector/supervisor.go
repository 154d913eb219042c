package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/johnayoung/go-ohlcv-collector/internal/models"
)

// DefaultWorkerCount is the supervisor's default bounded pool size
// (SPEC_FULL §4.8: "worker pool of bounded size N (default 4)").
const DefaultWorkerCount = 4

// Job is one runnable unit the supervisor hands to a worker: an ingest
// job's Run method, closed over its own IngestParams and Pipeline.
type Job func(ctx context.Context, cancel <-chan struct{}) error

// enqueuedJob pairs a Task with the work closure that produces it.
type enqueuedJob struct {
	task   *models.Task
	run    Job
	cancel chan struct{}
}

// Supervisor is C8: a FIFO queue of ingest jobs drained by a bounded
// worker pool, plus a mutex-guarded task registry for status/cancel
// queries. Work is an arbitrary Job closure so pipeline.Run can be
// enqueued directly.
type Supervisor struct {
	workerCount int
	logger      *slog.Logger

	queue   chan *enqueuedJob
	quit    chan struct{}
	wg      sync.WaitGroup
	started bool

	mu     sync.Mutex
	tasks  map[string]*models.Task
	cancel map[string]chan struct{}
}

// NewSupervisor constructs a Supervisor with workerCount workers (at least
// one); workerCount <= 0 falls back to DefaultWorkerCount.
func NewSupervisor(workerCount int, logger *slog.Logger) *Supervisor {
	if workerCount <= 0 {
		workerCount = DefaultWorkerCount
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		workerCount: workerCount,
		logger:      logger,
		queue:       make(chan *enqueuedJob, workerCount*4),
		quit:        make(chan struct{}),
		tasks:       make(map[string]*models.Task),
		cancel:      make(map[string]chan struct{}),
	}
}

// Start launches the worker pool. Call once before Enqueue.
func (s *Supervisor) Start() {
	if s.started {
		return
	}
	s.started = true
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i + 1)
	}
}

// Stop signals every worker to drain and returns once they have, or ctx is
// done first.
func (s *Supervisor) Stop(ctx context.Context) error {
	close(s.quit)
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) worker(id int) {
	defer s.wg.Done()
	for {
		select {
		case job := <-s.queue:
			s.runJob(id, job)
		case <-s.quit:
			return
		}
	}
}

func (s *Supervisor) runJob(workerID int, job *enqueuedJob) {
	s.mu.Lock()
	job.task.Start()
	s.mu.Unlock()

	s.logger.Info("ingest job started", "worker", workerID, "key", job.task.Key)

	err := job.run(context.Background(), job.cancel)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			job.task.Fail("cancelled")
			s.logger.Info("ingest job cancelled", "worker", workerID, "key", job.task.Key)
			return
		}
		job.task.Fail(err.Error())
		s.logger.Error("ingest job failed", "worker", workerID, "key", job.task.Key, "error", err)
		return
	}
	job.task.Complete(fmt.Sprintf("collected %d records", job.task.RecordsCollected))
	s.logger.Info("ingest job completed", "worker", workerID, "key", job.task.Key)
}

// Enqueue registers a new task under its identity/data-type key and
// schedules run for execution (SPEC_FULL §4.8). Rejects with an
// AlreadyRunning-classified error if the key is already pending or running.
func (s *Supervisor) Enqueue(exchange, market, symbol string, dataType models.DataType, run func(ctx context.Context, onProgress ProgressFunc) error) (string, error) {
	key := models.TaskKey(exchange, market, symbol, string(dataType))

	s.mu.Lock()
	if existing, ok := s.tasks[key]; ok && (existing.Status == models.TaskPending || existing.Status == models.TaskRunning) {
		s.mu.Unlock()
		return "", fmt.Errorf("collector: AlreadyRunning: task %q is already %s", key, existing.Status)
	}
	task := models.NewTask(exchange, market, symbol, dataType)
	s.tasks[key] = task
	cancelCh := make(chan struct{})
	s.cancel[key] = cancelCh
	s.mu.Unlock()

	wrapped := func(ctx context.Context, cancel <-chan struct{}) error {
		runCtx, stop := context.WithCancel(ctx)
		defer stop()
		go func() {
			select {
			case <-cancel:
				stop()
			case <-runCtx.Done():
			}
		}()
		return run(runCtx, func(cursor int64, recordsCollected int, message string) {
			s.mu.Lock()
			task.Message = message
			task.UpdateProgress(cursor, recordsCollected)
			s.mu.Unlock()
		})
	}

	select {
	case s.queue <- &enqueuedJob{task: task, run: wrapped, cancel: cancelCh}:
	default:
		s.mu.Lock()
		task.Status = models.TaskFailed
		task.Message = "queue full"
		s.mu.Unlock()
		return "", fmt.Errorf("collector: task queue is full")
	}
	return key, nil
}

// Status returns a snapshot copy of every tracked task, safe to hold
// without the supervisor's lock (SPEC_FULL §4.8: "status() -> snapshot
// copy").
func (s *Supervisor) Status() map[string]*models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*models.Task, len(s.tasks))
	for k, t := range s.tasks {
		out[k] = t.Clone()
	}
	return out
}

// Cancel signals the task's cancellation channel; the running job observes
// it at its next safe point (between batches) and terminates with status
// failed, message "cancelled" (SPEC_FULL §4.8).
func (s *Supervisor) Cancel(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancelCh, ok := s.cancel[key]
	if !ok {
		return fmt.Errorf("collector: NotFound: no task with key %q", key)
	}
	select {
	case <-cancelCh:
		// already cancelled
	default:
		close(cancelCh)
	}
	return nil
}
