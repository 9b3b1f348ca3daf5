package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/fluxion/voice-agent/pkg/logging"
)

// Publisher delivers enveloped events.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// SQSAPI is the subset of the SQS client used by SQSPublisher.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher sends envelopes to an SQS queue.
type SQSPublisher struct {
	client   SQSAPI
	queueURL string
}

// NewSQSPublisher creates a publisher around the provided SQS client.
func NewSQSPublisher(client SQSAPI, queueURL string) *SQSPublisher {
	if client == nil {
		panic("events: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("events: SQS queueURL cannot be empty")
	}
	return &SQSPublisher{client: client, queueURL: queueURL}
}

func (p *SQSPublisher) Publish(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("events: marshal envelope: %w", err)
	}
	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"event_type": {DataType: aws.String("String"), StringValue: aws.String(env.EventType)},
		},
	})
	if err != nil {
		return fmt.Errorf("events: failed to send SQS message: %w", err)
	}
	return nil
}

// LogPublisher writes events to the log. Used when no queue is configured.
type LogPublisher struct {
	logger *logging.Logger
}

func NewLogPublisher(logger *logging.Logger) *LogPublisher {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, env Envelope) error {
	p.logger.Info("event published",
		"event_id", env.EventID.String(),
		"event_type", env.EventType,
		"session_id", env.SessionID,
	)
	return nil
}

// Emit envelopes evt and publishes it.
func Emit(ctx context.Context, pub Publisher, sessionID string, evt CanonicalEvent) (Envelope, error) {
	env, err := NewEnvelope(sessionID, evt)
	if err != nil {
		return Envelope{}, err
	}
	if err := pub.Publish(ctx, env); err != nil {
		return env, err
	}
	return env, nil
}
