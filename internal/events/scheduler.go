package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
)

// TaskEnqueuer is the subset of *asynq.Client used by AsynqScheduler.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqScheduler turns events with a consuming task type into asynq tasks.
// The event id doubles as the task id so a republished event is not enqueued twice.
type AsynqScheduler struct {
	Client   TaskEnqueuer
	Queue    string
	MaxRetry int
}

// Schedule implements DeliveryScheduler.
func (s AsynqScheduler) Schedule(ctx context.Context, event Event) error {
	taskType, ok := TaskTypeFor(event.Topic)
	if !ok {
		return nil
	}
	if s.Client == nil {
		return errors.New("asynq client not configured")
	}
	maxRetry := s.MaxRetry
	if maxRetry <= 0 {
		maxRetry = defaultPlacementRetries
	}
	opts := []asynq.Option{asynq.MaxRetry(maxRetry), asynq.TaskID(event.ID)}
	if s.Queue != "" {
		opts = append(opts, asynq.Queue(s.Queue))
	}
	_, err := s.Client.EnqueueContext(ctx, asynq.NewTask(taskType, event.Payload), opts...)
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return nil
}
