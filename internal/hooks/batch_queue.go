package hooks

import (
	"context"
	"sync"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/slipway-sh/deployer/internal/model"
)

// BatchConfig holds configuration for audit event batching
type BatchConfig struct {
	FlushWindow  time.Duration // Time window for batching events
	MaxBatchSize int           // Maximum events per batch
}

// DefaultBatchConfig returns the default batching configuration
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		FlushWindow:  2 * time.Second,
		MaxBatchSize: 100,
	}
}

// BatchAuditQueue handles batching and publishing of audit events for
// high-volume sinks like the control plane ingestion endpoint.
type BatchAuditQueue struct {
	eventChan  <-chan model.AuditEvent
	publishers []BatchAuditPublisher
	config     BatchConfig

	mu      sync.Mutex
	buffer  []model.AuditEvent
	timer   *time.Timer
	stopCh  chan struct{}
	stopped bool
}

// NewBatchAuditQueue creates a new batching audit event queue
func NewBatchAuditQueue(
	eventChan <-chan model.AuditEvent,
	publishers []BatchAuditPublisher,
	config BatchConfig,
) *BatchAuditQueue {
	return &BatchAuditQueue{
		eventChan:  eventChan,
		publishers: publishers,
		config:     config,
		buffer:     make([]model.AuditEvent, 0, config.MaxBatchSize),
		stopCh:     make(chan struct{}),
	}
}

// Loop starts the event processing loop
func (q *BatchAuditQueue) Loop() {
	ctx := context.Background()
	logger := log.FromContext(ctx)

	logger.Info("Batch audit queue started",
		"publishers", len(q.publishers),
		"flushWindow", q.config.FlushWindow,
		"maxBatchSize", q.config.MaxBatchSize,
	)

	for {
		select {
		case event, ok := <-q.eventChan:
			if !ok {
				// Channel closed, flush remaining events
				q.flush(ctx)
				return
			}
			q.addEvent(ctx, event)

		case <-q.stopCh:
			q.flush(ctx)
			return
		}
	}
}

// Stop stops the publisher queue
func (q *BatchAuditQueue) Stop() {
	q.mu.Lock()
	if !q.stopped {
		q.stopped = true
		close(q.stopCh)
	}
	q.mu.Unlock()
}

func (q *BatchAuditQueue) addEvent(ctx context.Context, event model.AuditEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.buffer = append(q.buffer, event)

	// Start timer on first event
	if len(q.buffer) == 1 {
		q.timer = time.AfterFunc(q.config.FlushWindow, func() {
			q.flush(ctx)
		})
	}

	// Flush immediately if batch is full
	if len(q.buffer) >= q.config.MaxBatchSize {
		q.flushLocked(ctx)
	}
}

func (q *BatchAuditQueue) flush(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.flushLocked(ctx)
}

func (q *BatchAuditQueue) flushLocked(ctx context.Context) {
	if len(q.buffer) == 0 {
		return
	}

	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}

	logger := log.FromContext(ctx)

	events := make([]model.AuditEvent, len(q.buffer))
	copy(events, q.buffer)
	q.buffer = q.buffer[:0]

	logger.Info("Flushing audit event batch",
		"eventCount", len(events),
		"publishers", len(q.publishers),
	)

	for _, publisher := range q.publishers {
		if err := publisher.PublishBatch(ctx, events); err != nil {
			logger.Error(err, "Failed to publish audit event batch")
		}
	}
}
