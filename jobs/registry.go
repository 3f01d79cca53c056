package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mixloft/mixloft-server/ccc/faults"
	"github.com/mixloft/mixloft-server/ccc/logging"
)

// Handler processes a single claimed job. The returned value is stored as the
// job result on success. A returned error terminates the job as failed with
// its classification (unclassified errors map to UNKNOWN_ERROR).
type Handler interface {
	Process(ctx context.Context, job *Job) (any, error)
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(ctx context.Context, job *Job) (any, error)

func (f HandlerFunc) Process(ctx context.Context, job *Job) (any, error) {
	return f(ctx, job)
}

type registration struct {
	handler Handler
	workers int
}

// Registry binds queue names to handlers and runs a worker pool per queue.
// It replaces global per-queue singletons so tests can substitute stores and
// shutdown ordering stays explicit.
type Registry struct {
	logger       logging.Logger
	store        Store
	pollInterval time.Duration

	mu            sync.Mutex
	registrations map[string]registration
	started       bool
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// NewRegistry creates a new queue registry backed by the given store
func NewRegistry(logger logging.Logger, store Store, pollInterval time.Duration) *Registry {
	if logger == nil {
		logger = logging.NopLogger
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}

	return &Registry{
		logger:        logger,
		store:         store,
		pollInterval:  pollInterval,
		registrations: make(map[string]registration),
	}
}

// Store returns the job store backing this registry
func (r *Registry) Store() Store {
	return r.store
}

// Register binds a handler to a queue with the given worker count.
// Must be called before Start.
func (r *Registry) Register(queue string, handler Handler, workers int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return fmt.Errorf("cannot register queue %q after start", queue)
	}
	if _, exists := r.registrations[queue]; exists {
		return fmt.Errorf("queue %q is already registered", queue)
	}
	if workers <= 0 {
		workers = 1
	}

	r.registrations[queue] = registration{handler: handler, workers: workers}
	return nil
}

// Start launches the worker pools. Workers run until Stop is called or the
// given context is cancelled.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return
	}
	r.started = true

	ctx, r.cancel = context.WithCancel(ctx)

	for queue, reg := range r.registrations {
		for i := 0; i < reg.workers; i++ {
			r.wg.Add(1)
			go r.runWorker(ctx, queue, reg.handler)
		}
	}
}

// Stop cancels all workers and waits for in-flight jobs to finish
func (r *Registry) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

// runWorker claims and processes jobs from a single queue until cancelled
func (r *Registry) runWorker(ctx context.Context, queue string, handler Handler) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		job, err := r.store.Claim(ctx, queue)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("failed to claim job", "queue", queue, "error", err)
		} else if job != nil {
			r.processJob(ctx, queue, handler, job)
			// Drain the queue before going back to sleep.
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// processJob runs a handler and terminates the job in a completed or failed
// state. A handler panic must not leave the job permanently active.
func (r *Registry) processJob(ctx context.Context, queue string, handler Handler, job *Job) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("handler panicked", "queue", queue, "job_id", job.ID, "panic", rec)
			if err := r.store.Fail(ctx, job.ID, faults.KindUnknownError, fmt.Sprintf("worker panic: %v", rec)); err != nil {
				r.logger.Error("failed to fail panicked job", "job_id", job.ID, "error", err)
			}
		}
	}()

	r.logger.Info("processing job", "queue", queue, "job_id", job.ID, "attempt", job.Attempts)

	result, err := handler.Process(ctx, job)
	if err != nil {
		fault := faults.Wrap(faults.KindUnknownError, err)
		r.logger.Warn("job failed", "queue", queue, "job_id", job.ID, "kind", fault.Kind, "error", err)
		if failErr := r.store.Fail(ctx, job.ID, fault.Kind, fault.Message); failErr != nil {
			r.logger.Error("failed to mark job failed", "job_id", job.ID, "error", failErr)
		}
		return
	}

	if err := r.store.Complete(ctx, job.ID, result); err != nil {
		r.logger.Error("failed to mark job completed", "job_id", job.ID, "error", err)
		return
	}

	r.logger.Info("job completed", "queue", queue, "job_id", job.ID)
}
