package app

import (
	"context"
	"time"

	"funding-workflow/internal/common/camunda"
	"funding-workflow/internal/common/logger"
	"funding-workflow/internal/models"
	"funding-workflow/internal/notify"
)

// ScoredMessage is the BPMN message the verification process waits on after
// submission. It is correlated by session ID.
const ScoredMessage = "verification-scored"

const scoredMessageTTL = time.Hour

// MessagePublisher publishes correlated workflow messages.
type MessagePublisher interface {
	PublishMessage(ctx context.Context, msg camunda.Message) error
}

// ScoredNotifier wakes the waiting verification process and announces the
// SME's new trust state to event subscribers.
type ScoredNotifier struct {
	messages  MessagePublisher
	publisher notify.Publisher
	logger    logger.Logger
}

func NewScoredNotifier(messages MessagePublisher, publisher notify.Publisher, log logger.Logger) *ScoredNotifier {
	if publisher == nil {
		publisher = notify.NopPublisher{}
	}
	return &ScoredNotifier{
		messages:  messages,
		publisher: publisher,
		logger:    log.WithFields(map[string]interface{}{"component": "scored-notifier"}),
	}
}

func (n *ScoredNotifier) NotifyScored(ctx context.Context, session *models.VerificationSession, record *models.SMETrustRecord) error {
	vars := map[string]interface{}{
		"sessionId":     session.SessionID,
		"submissionId":  session.SubmissionID,
		"smeId":         record.SMEID,
		"trustState":    record.State,
		"failureReason": record.FailureReason,
	}
	if record.PulseScore != nil {
		vars["pulseScore"] = *record.PulseScore
	}
	if record.ProfitScore != nil {
		vars["profitScore"] = *record.ProfitScore
	}

	if err := n.publisher.Publish(ctx, notify.Event{
		Type:       notify.EventSMEScored,
		Key:        record.SMEID,
		OccurredAt: time.Now().UTC(),
		Payload:    vars,
	}); err != nil {
		n.logger.Warn("Failed to publish scored event", map[string]interface{}{"smeId": record.SMEID, "error": err.Error()})
	}

	if n.messages == nil {
		return nil
	}
	return n.messages.PublishMessage(ctx, camunda.Message{
		Name:           ScoredMessage,
		CorrelationKey: session.SessionID,
		MessageID:      session.SubmissionID,
		TimeToLive:     scoredMessageTTL,
		Variables:      vars,
	})
}
