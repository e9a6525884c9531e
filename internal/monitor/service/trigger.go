package service

import (
	"context"
	"encoding/json"

	"livecode/internal/common/mq"
	"livecode/internal/monitor/model"
	appErr "livecode/pkg/errors"
	"livecode/pkg/utils/contextkey"
	"livecode/pkg/utils/logger"

	"go.uber.org/zap"
)

// Trigger refreshes a room on request from the test-lifecycle writer.
type Trigger struct {
	rooms  *RoomManager
	source SnapshotSource
}

func NewTrigger(rooms *RoomManager, source SnapshotSource) *Trigger {
	return &Trigger{rooms: rooms, source: source}
}

// Broadcast re-pulls the snapshot of testID with the room's cohort and
// publishes it. It returns the number of observers targeted; a room without
// observers is skipped without touching the store.
func (t *Trigger) Broadcast(ctx context.Context, testID string) (int, error) {
	ctx = context.WithValue(ctx, contextkey.TestID, testID)
	cohort, ok := t.rooms.Cohort(testID)
	if !ok {
		logger.Debug(ctx, "broadcast skipped, no observers")
		return 0, nil
	}
	students, err := t.source.FetchCohort(ctx, testID, cohort)
	if err != nil {
		logger.Warn(ctx, "broadcast fetch failed", zap.Error(err))
		return 0, err
	}
	t.rooms.Publish(ctx, testID, students)
	return len(t.rooms.Observers(testID)), nil
}

// HandleMessage consumes a broadcast request from the queue. Failures are
// logged and the message is never redelivered; the next write triggers again.
func (t *Trigger) HandleMessage(ctx context.Context, message *mq.Message) error {
	var req model.BroadcastMessage
	if err := json.Unmarshal(message.Body, &req); err != nil || req.TestID == "" {
		logger.Warn(ctx, "invalid broadcast message", zap.String("message_id", message.ID), zap.Error(err))
		return nil
	}
	_, _ = t.Broadcast(ctx, req.TestID)
	return nil
}

// Subscribe registers the trigger on topic. Every instance needs its own
// consumer group so that all of them refresh their rooms.
func (t *Trigger) Subscribe(ctx context.Context, consumer mq.Consumer, topic, group string) error {
	if consumer == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("broadcast consumer is not configured")
	}
	return consumer.SubscribeWithOptions(ctx, topic, t.HandleMessage, &mq.SubscribeOptions{
		ConsumerGroup: group,
		Concurrency:   1,
		ErrorHandler: func(message *mq.Message, err error) {
			logger.Warn(ctx, "broadcast handler failed", zap.String("message_id", message.ID), zap.Error(err))
		},
	})
}
