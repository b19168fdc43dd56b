// Package notify publishes domain events for external consumers such as the
// escrow custodian.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	commonaws "funding-workflow/internal/common/aws"
	apperrors "funding-workflow/internal/common/errors"
	"funding-workflow/internal/common/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// Event types.
const (
	EventMilestoneReleased = "milestone.released"
	EventOfferAccepted     = "offer.accepted"
	EventSMEScored         = "sme.scored"
)

type Event struct {
	Type       string                 `json:"type"`
	Key        string                 `json:"key"`
	OccurredAt time.Time              `json:"occurredAt"`
	Payload    map[string]interface{} `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// SNSPublisher sends events to one topic with the event type and key as
// message attributes for subscription filtering.
type SNSPublisher struct {
	api      commonaws.SNSAPI
	topicARN string
	logger   logger.Logger
}

func NewSNSPublisher(api commonaws.SNSAPI, topicARN string, log logger.Logger) *SNSPublisher {
	return &SNSPublisher{
		api:      api,
		topicARN: topicARN,
		logger:   log.WithFields(map[string]interface{}{"component": "notify", "topicArn": topicARN}),
	}
}

func (p *SNSPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return apperrors.NewInternalError(fmt.Errorf("encode %s event: %w", event.Type, err))
	}

	out, err := p.api.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(body)),
		Subject:  aws.String(event.Type),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"eventType": {DataType: aws.String("String"), StringValue: aws.String(event.Type)},
			"eventKey":  {DataType: aws.String("String"), StringValue: aws.String(event.Key)},
		},
	})
	if err != nil {
		p.logger.Error("Failed to publish event", map[string]interface{}{"type": event.Type, "key": event.Key, "error": err.Error()})
		return apperrors.NewExternalServiceError("sns", err)
	}

	p.logger.Info("Event published", map[string]interface{}{
		"type":      event.Type,
		"key":       event.Key,
		"messageId": aws.ToString(out.MessageId),
	})
	return nil
}

// MemoryPublisher keeps events in process.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (m *MemoryPublisher) Publish(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryPublisher) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}
