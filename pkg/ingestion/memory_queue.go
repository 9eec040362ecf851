package ingestion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// JobStatus represents the lifecycle of an enqueued ingestion job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// JobSnapshot is an immutable view of a job for observability endpoints.
type JobSnapshot struct {
	Key         string     `json:"key"`
	Request     Request    `json:"request"`
	Status      JobStatus  `json:"status"`
	Attempts    int        `json:"attempts"`
	EnqueuedAt  time.Time  `json:"enqueued_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Handler performs one ingestion job. Returning an error triggers a retry
// until the retry budget is spent.
type Handler func(ctx context.Context, req Request) error

// RetryConfig configures retry behavior for failed jobs.
type RetryConfig struct {
	MaxRetries     int           // Maximum number of retry attempts (0 = no retries)
	InitialBackoff time.Duration // Initial backoff duration
	MaxBackoff     time.Duration // Maximum backoff duration (cap)
	BackoffFactor  float64       // Multiplier for exponential backoff
}

// DefaultRetryConfig returns sensible defaults: 1s, 2s, 4s, then 30s capped.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     5,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
	}
}

// MemoryQueue is an in-process Queue with version-keyed deduplication and a
// fixed worker pool. Enqueue is idempotent per dedup key: a key that is
// queued, running, or completed is not enqueued again; a failed key may be
// re-enqueued once its retry budget is spent.
type MemoryQueue struct {
	mu   sync.Mutex
	jobs map[string]*job

	work    chan *job
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	handler Handler
	retry   RetryConfig
	logger  *zap.Logger
}

type job struct {
	key         string
	request     Request
	status      JobStatus
	attempts    int
	enqueuedAt  time.Time
	completedAt *time.Time
	err         error
}

// NewMemoryQueue creates a queue running handler on `workers` goroutines.
func NewMemoryQueue(handler Handler, workers int, retry RetryConfig, logger *zap.Logger) *MemoryQueue {
	if workers <= 0 {
		workers = 2
	}
	q := &MemoryQueue{
		jobs:    make(map[string]*job),
		work:    make(chan *job, 1024),
		done:    make(chan struct{}),
		handler: handler,
		retry:   retry,
		logger:  logger.Named("ingestion-queue"),
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

var _ Queue = (*MemoryQueue)(nil)

// Enqueue registers the request under its dedup key. A duplicate of an
// in-flight or completed version is a silent no-op.
func (q *MemoryQueue) Enqueue(ctx context.Context, req Request) error {
	key := req.DedupKey()

	q.mu.Lock()
	if existing, ok := q.jobs[key]; ok && existing.status != JobStatusFailed {
		q.mu.Unlock()
		q.logger.Debug("Skipping duplicate ingestion request",
			zap.String("key", key),
			zap.String("source", string(req.Source)))
		return nil
	}
	j := &job{key: key, request: req, status: JobStatusQueued, enqueuedAt: time.Now()}
	q.jobs[key] = j
	q.mu.Unlock()

	select {
	case <-q.done:
		return fmt.Errorf("ingestion queue closed")
	case q.work <- j:
		q.logger.Info("Enqueued ingestion job",
			zap.String("key", key),
			zap.String("project_work_id", req.ProjectWorkID.String()),
			zap.String("source", string(req.Source)))
		return nil
	case <-ctx.Done():
		q.mu.Lock()
		delete(q.jobs, key)
		q.mu.Unlock()
		return ctx.Err()
	}
}

// Snapshot returns the current state of every known job.
func (q *MemoryQueue) Snapshot() []JobSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	snapshots := make([]JobSnapshot, 0, len(q.jobs))
	for _, j := range q.jobs {
		var errMsg string
		if j.err != nil {
			errMsg = j.err.Error()
		}
		snapshots = append(snapshots, JobSnapshot{
			Key:         j.key,
			Request:     j.request,
			Status:      j.status,
			Attempts:    j.attempts,
			EnqueuedAt:  j.enqueuedAt,
			CompletedAt: j.completedAt,
			Error:       errMsg,
		})
	}
	return snapshots
}

// Close stops accepting work and waits for in-flight jobs to finish.
func (q *MemoryQueue) Close() {
	q.once.Do(func() { close(q.done) })
	q.wg.Wait()
}

func (q *MemoryQueue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.done:
			return
		case j := <-q.work:
			q.process(j)
		}
	}
}

func (q *MemoryQueue) process(j *job) {
	q.setStatus(j, JobStatusRunning, nil)

	backoff := q.retry.InitialBackoff
	for attempt := 0; ; attempt++ {
		q.mu.Lock()
		j.attempts = attempt + 1
		q.mu.Unlock()

		err := q.handler(context.Background(), j.request)
		if err == nil {
			q.setStatus(j, JobStatusCompleted, nil)
			return
		}

		if attempt >= q.retry.MaxRetries {
			q.logger.Error("Ingestion job failed permanently",
				zap.String("key", j.key),
				zap.Int("attempts", attempt+1),
				zap.Error(err))
			q.setStatus(j, JobStatusFailed, err)
			return
		}

		q.logger.Warn("Ingestion job failed, retrying",
			zap.String("key", j.key),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-q.done:
			q.setStatus(j, JobStatusFailed, err)
			return
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * q.retry.BackoffFactor)
		if backoff > q.retry.MaxBackoff {
			backoff = q.retry.MaxBackoff
		}
	}
}

func (q *MemoryQueue) setStatus(j *job, status JobStatus, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j.status = status
	j.err = err
	if status == JobStatusCompleted || status == JobStatusFailed {
		now := time.Now()
		j.completedAt = &now
	}
}
