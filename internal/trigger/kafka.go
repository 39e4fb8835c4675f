package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/winstory-service/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/winstory-service/pkg/logger"
)

// Publisher is the part of kafka.Producer the trigger needs.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// KafkaTrigger publishes a GenerationRequest keyed by record id. Success means
// the request was accepted by the broker, not that generation finished.
type KafkaTrigger struct {
	publisher Publisher
}

func NewKafkaTrigger(p Publisher) *KafkaTrigger {
	return &KafkaTrigger{publisher: p}
}

func (t *KafkaTrigger) Trigger(ctx context.Context, recordID string) error {
	requestID := logger.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req := GenerationRequest{
		RecordID:    recordID,
		RequestID:   requestID,
		RequestedAt: time.Now().UTC(),
	}
	if err := t.publisher.Publish(ctx, kafka.Event{Key: recordID, Value: req}); err != nil {
		return fmt.Errorf("publishing generation request: %w", err)
	}
	return nil
}
