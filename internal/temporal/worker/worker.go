package worker

import (
	"sync"

	ierr "github.com/flexprice/billing/internal/errors"
	"github.com/flexprice/billing/internal/logger"
	"github.com/flexprice/billing/internal/types"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// TemporalWorkerManager keeps one worker per task queue.
type TemporalWorkerManager interface {
	GetOrCreateWorker(taskQueue types.TemporalTaskQueue, options worker.Options) (worker.Worker, error)
	StartWorker(taskQueue types.TemporalTaskQueue) error
	StopAllWorkers() error
}

type temporalWorkerManager struct {
	client  func() client.Client
	logger  *logger.Logger
	mu      sync.Mutex
	workers map[types.TemporalTaskQueue]worker.Worker
	started map[types.TemporalTaskQueue]bool
}

// NewTemporalWorkerManager creates workers on the client returned by
// clientFn, which is resolved lazily because the connection is opened on
// service start.
func NewTemporalWorkerManager(clientFn func() client.Client, log *logger.Logger) TemporalWorkerManager {
	return &temporalWorkerManager{
		client:  clientFn,
		logger:  log,
		workers: make(map[types.TemporalTaskQueue]worker.Worker),
		started: make(map[types.TemporalTaskQueue]bool),
	}
}

func (m *temporalWorkerManager) GetOrCreateWorker(taskQueue types.TemporalTaskQueue, options worker.Options) (worker.Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w, ok := m.workers[taskQueue]; ok {
		return w, nil
	}

	c := m.client()
	if c == nil {
		return nil, ierr.NewError("temporal client is not connected").
			WithHint("Start the Temporal client before creating workers").
			Mark(ierr.ErrInternal)
	}

	w := worker.New(c, taskQueue.String(), options)
	m.workers[taskQueue] = w
	return w, nil
}

func (m *temporalWorkerManager) StartWorker(taskQueue types.TemporalTaskQueue) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[taskQueue]
	if !ok {
		return ierr.NewErrorf("no worker for task queue %s", taskQueue).
			Mark(ierr.ErrNotFound)
	}
	if m.started[taskQueue] {
		return nil
	}

	if err := w.Start(); err != nil {
		return ierr.WithError(err).
			WithHintf("Failed to start worker for task queue %s", taskQueue).
			Mark(ierr.ErrSystem)
	}
	m.started[taskQueue] = true
	m.logger.Infow("temporal worker started", "task_queue", taskQueue)
	return nil
}

func (m *temporalWorkerManager) StopAllWorkers() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for tq, w := range m.workers {
		if m.started[tq] {
			w.Stop()
			m.logger.Infow("temporal worker stopped", "task_queue", tq)
		}
	}
	m.workers = make(map[types.TemporalTaskQueue]worker.Worker)
	m.started = make(map[types.TemporalTaskQueue]bool)
	return nil
}
