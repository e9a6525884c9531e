package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"livecode/internal/common/mq"
	"livecode/internal/monitor/model"
	appErr "livecode/pkg/errors"
)

// BroadcastPublisher asks every service instance to refresh a room.
type BroadcastPublisher interface {
	PublishBroadcast(ctx context.Context, testID string) error
}

// MQBroadcastPublisher publishes broadcast requests to a message queue.
type MQBroadcastPublisher struct {
	queue mq.Producer
	topic string
	ttl   time.Duration
}

// NewMQBroadcastPublisher creates a new MQ broadcast publisher. Messages older
// than ttl are dropped by consumers; zero keeps them forever.
func NewMQBroadcastPublisher(queue mq.Producer, topic string, ttl time.Duration) *MQBroadcastPublisher {
	return &MQBroadcastPublisher{queue: queue, topic: topic, ttl: ttl}
}

// PublishBroadcast publishes one broadcast request for testID.
func (p *MQBroadcastPublisher) PublishBroadcast(ctx context.Context, testID string) error {
	if p == nil || p.queue == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("broadcast publisher is not configured")
	}
	if p.topic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("broadcast topic is required")
	}
	if testID == "" {
		return appErr.ValidationError("test_id", "required")
	}
	payload, err := json.Marshal(model.BroadcastMessage{TestID: testID})
	if err != nil {
		return fmt.Errorf("marshal broadcast message failed: %w", err)
	}
	message := mq.NewMessage(payload)
	message.Expiration = p.ttl
	// keyed by test id so one test's requests stay ordered on a partition
	message.ID = testID
	if err := p.queue.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.BroadcastFailed, "publish broadcast failed").WithDetail("test_id", testID)
	}
	return nil
}
