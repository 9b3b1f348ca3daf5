package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxion/voice-agent/internal/booking"
	"github.com/fluxion/voice-agent/pkg/logging"
)

type badEvent struct{}

func (badEvent) EventType() string { return "" }

func TestNewEnvelope(t *testing.T) {
	fixedNow := time.UnixMilli(1792400000123).UTC()
	prevNow := nowFunc
	nowFunc = func() time.Time { return fixedNow }
	defer func() { nowFunc = prevNow }()

	id := uuid.MustParse("9a20d7d1-bf6a-4d33-bd55-5d25a816f1a8")
	env, err := NewEnvelope("sess-1", BookingCreatedV1{
		BookingID: "APP-1",
		Vertical:  "salone",
		ClientID:  "C1",
		Service:   "taglio",
		Date:      "2026-10-20",
		Time:      "15:00",
	}, WithEventID(id))
	require.NoError(t, err)

	assert.Equal(t, id, env.EventID)
	assert.Equal(t, fixedNow.UnixMilli(), env.TimestampMillis)
	assert.Equal(t, TypeBookingCreated, env.EventType)
	assert.Equal(t, "sess-1", env.SessionID)

	var payload BookingCreatedV1
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "APP-1", payload.BookingID)
}

func TestNewEnvelopeValidation(t *testing.T) {
	_, err := NewEnvelope("", BookingCancelledV1{})
	assert.ErrorIs(t, err, errMissingSession)

	_, err = NewEnvelope("sess-1", nil)
	assert.ErrorIs(t, err, errNilEvent)

	_, err = NewEnvelope("sess-1", badEvent{})
	assert.Error(t, err)
}

func TestRescheduledEmbedsCreatedPayload(t *testing.T) {
	env, err := NewEnvelope("sess-1", BookingRescheduledV1{BookingCreatedV1{BookingID: "APP-2", Date: "2026-10-22"}})
	require.NoError(t, err)
	assert.Equal(t, TypeBookingRescheduled, env.EventType)
	assert.Contains(t, string(env.Payload), `"booking_id":"APP-2"`)
}

func TestEscalatedCarriesHandoff(t *testing.T) {
	env, err := NewEnvelope("sess-1", SessionEscalatedV1{
		Reason:  "user_requested",
		Handoff: booking.Handoff{SessionID: "sess-1", ClientName: "Gigio Peruzzi"},
	})
	require.NoError(t, err)
	assert.Contains(t, string(env.Payload), "Gigio Peruzzi")
}

type fakeSQS struct {
	inputs []*sqs.SendMessageInput
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.inputs = append(f.inputs, in)
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func TestSQSPublisher(t *testing.T) {
	client := &fakeSQS{}
	pub := NewSQSPublisher(client, "https://sqs.eu-south-1.amazonaws.com/1/booking-events")

	env, err := Emit(context.Background(), pub, "sess-1", WaitlistAddedV1{WaitlistID: "W1", Priority: "vip"})
	require.NoError(t, err)

	require.Len(t, client.inputs, 1)
	in := client.inputs[0]
	assert.Equal(t, "https://sqs.eu-south-1.amazonaws.com/1/booking-events", aws.ToString(in.QueueUrl))
	assert.Equal(t, TypeWaitlistAdded, aws.ToString(in.MessageAttributes["event_type"].StringValue))

	var got Envelope
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(in.MessageBody)), &got))
	assert.Equal(t, env.EventID, got.EventID)
}

func TestLogPublisher(t *testing.T) {
	pub := NewLogPublisher(logging.Discard())
	_, err := Emit(context.Background(), pub, "sess-1", BookingCancelledV1{Vertical: "salone"})
	assert.NoError(t, err)
}
