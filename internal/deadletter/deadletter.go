// Package deadletter publishes a notification to an operator-facing
// Pub/Sub topic whenever the job store writes a dead letter. It is an
// observability tap, not a queue: the jobqueue.Store remains the system
// of record for retries and redrive. Adapted from the teacher's
// internal/queue/pubsub_queue.go Publisher idiom, rewritten against the
// v1 cloud.google.com/go/pubsub client API that go.mod actually declares
// (the teacher's original file imported the v2 API, a dependency this
// module never carries).
package deadletter

import (
	"context"
	"encoding/json"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/ingestlane/pipeline/internal/metrics"
	"github.com/ingestlane/pipeline/internal/pipeline"
)

// Notifier publishes DeadLetter records to a Pub/Sub topic.
type Notifier struct {
	topic  *pubsub.Topic
	logger *zap.Logger
}

// NewNotifier wraps an existing topic handle. The caller owns the
// client/topic lifecycle (Stop/Close).
func NewNotifier(topic *pubsub.Topic, logger *zap.Logger) *Notifier {
	return &Notifier{topic: topic, logger: logger}
}

type message struct {
	Queue         string `json:"queue"`
	OriginalJobID string `json:"original_job_id"`
	FailureReason string `json:"failure_reason"`
	Attempts      int    `json:"attempts"`
}

// OnDeadLetter is registered with jobqueue.Store.OnDeadLetter. Publish
// errors are logged, never returned: losing an alert must not affect job
// processing.
func (n *Notifier) OnDeadLetter(queue string, dl pipeline.DeadLetter) {
	metrics.IncDLQ(queue)

	payload, err := json.Marshal(message{
		Queue:         queue,
		OriginalJobID: dl.OriginalJobID,
		FailureReason: dl.FailureReason,
		Attempts:      dl.Attempts,
	})
	if err != nil {
		n.logger.Error("encode dead-letter notification", zap.Error(err))
		return
	}

	result := n.topic.Publish(context.Background(), &pubsub.Message{Data: payload})
	go func() {
		if _, err := result.Get(context.Background()); err != nil {
			n.logger.Error("publish dead-letter notification", zap.String("queue", queue), zap.Error(err))
		}
	}()
}
