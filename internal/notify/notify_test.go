package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	apperrors "funding-workflow/internal/common/errors"
	"funding-workflow/internal/common/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSNS struct {
	mock.Mock
}

func (m *mockSNS) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*sns.PublishOutput)
	return out, args.Error(1)
}

func TestSNSPublisher_Publish(t *testing.T) {
	api := &mockSNS{}
	api.On("Publish", mock.Anything, mock.MatchedBy(func(in *sns.PublishInput) bool {
		var e Event
		if err := json.Unmarshal([]byte(aws.ToString(in.Message)), &e); err != nil {
			return false
		}
		return aws.ToString(in.TopicArn) == "arn:aws:sns:eu-west-1:123:escrow" &&
			aws.ToString(in.MessageAttributes["eventType"].StringValue) == EventMilestoneReleased &&
			aws.ToString(in.MessageAttributes["eventKey"].StringValue) == "m-1" &&
			e.Payload["loanId"] == "loan-1"
	})).Return(&sns.PublishOutput{MessageId: aws.String("msg-1")}, nil)

	p := NewSNSPublisher(api, "arn:aws:sns:eu-west-1:123:escrow", logger.NewTestLogger(t))
	err := p.Publish(context.Background(), Event{
		Type:       EventMilestoneReleased,
		Key:        "m-1",
		OccurredAt: time.Now(),
		Payload:    map[string]interface{}{"loanId": "loan-1"},
	})
	require.NoError(t, err)
	api.AssertExpectations(t)
}

func TestSNSPublisher_Error(t *testing.T) {
	api := &mockSNS{}
	api.On("Publish", mock.Anything, mock.Anything).Return(nil, errors.New("throttled"))

	p := NewSNSPublisher(api, "arn", logger.NewTestLogger(t))
	err := p.Publish(context.Background(), Event{Type: EventOfferAccepted, Key: "o-1"})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeExternalService))
}

func TestMemoryPublisher(t *testing.T) {
	var p MemoryPublisher
	require.NoError(t, p.Publish(context.Background(), Event{Type: EventOfferAccepted, Key: "o-1"}))
	assert.Len(t, p.Events(), 1)
}
