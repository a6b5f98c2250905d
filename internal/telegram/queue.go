package telegram

import (
	"context"
	"sync/atomic"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Fershtater/fomo-calc-app/internal/logger"
)

const defaultQueueCapacity = 100

// Queue buffers incoming updates between the long-polling listener and
// the single handler worker. Enqueue never blocks; updates that do not
// fit are dropped and counted.
type Queue struct {
	updates chan tgbotapi.Update

	received  atomic.Int64
	processed atomic.Int64
	errors    atomic.Int64
	drops     atomic.Int64
}

// QueueMetrics is a point-in-time snapshot of the queue counters.
type QueueMetrics struct {
	UpdatesReceived  int64
	UpdatesProcessed int64
	ProcessingErrors int64
	QueueDrops       int64
	QueueDepth       int
}

// NewQueue creates a queue with the given capacity (default 100).
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	return &Queue{updates: make(chan tgbotapi.Update, capacity)}
}

// Enqueue adds an update without blocking and reports whether it fit.
func (q *Queue) Enqueue(update tgbotapi.Update) bool {
	select {
	case q.updates <- update:
		q.received.Add(1)
		return true
	default:
		q.drops.Add(1)
		logger.Warn("Telegram update queue full, dropping update")
		return false
	}
}

// Run processes queued updates with handle until ctx is cancelled.
// Handler errors are counted and logged, never fatal.
func (q *Queue) Run(ctx context.Context, handle func(tgbotapi.Update) error) {
	logger.Info("Telegram update queue worker started")
	for {
		select {
		case <-ctx.Done():
			logger.Info("Telegram update queue worker stopped")
			return
		case update := <-q.updates:
			if err := handle(update); err != nil {
				q.errors.Add(1)
				logger.Error("Error processing Telegram update: %v", err)
			} else {
				q.processed.Add(1)
			}
		}
	}
}

// Metrics returns a snapshot of the queue counters.
func (q *Queue) Metrics() QueueMetrics {
	return QueueMetrics{
		UpdatesReceived:  q.received.Load(),
		UpdatesProcessed: q.processed.Load(),
		ProcessingErrors: q.errors.Load(),
		QueueDrops:       q.drops.Load(),
		QueueDepth:       len(q.updates),
	}
}
