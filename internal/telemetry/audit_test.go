package telemetry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-engine/internal/chaterr"
	"chat-engine/internal/coordinator"
	"chat-engine/internal/mocks"
)

func newEmitter(pub Publisher) *AuditEmitter {
	e := NewAuditEmitter(pub, "audit.chat", "chat-engine", "test")
	e.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return e
}

func TestObservePublishesMutatingOutcome(t *testing.T) {
	pub := new(mocks.PublisherMock)
	var got AuditEnvelope
	pub.On("Publish", mock.Anything, "audit.chat", mock.AnythingOfType("telemetry.AuditEnvelope"), map[string]string{"x-request-id": "req-9"}).
		Run(func(args mock.Arguments) { got = args.Get(2).(AuditEnvelope) }).
		Return(nil).Once()

	newEmitter(pub).Observe(context.Background(), coordinator.Outcome{
		Action:    "send_message",
		RequestID: "req-9",
		UserID:    2,
		RoomID:    7,
		MessageID: 41,
		Stage:     coordinator.StageBroadcast,
		Elapsed:   3 * time.Millisecond,
	})

	pub.AssertExpectations(t)
	require.NotNil(t, got.UserID)
	assert.Equal(t, int64(2), *got.UserID)
	assert.Equal(t, "2024-03-01T12:00:00Z", got.OccurredAt)
	assert.Equal(t, AuditPayload{
		Level:      "INFO",
		Action:     "send_message",
		Result:     "ok",
		Stage:      "broadcast",
		RoomID:     7,
		MessageID:  41,
		DurationMs: 3,
	}, got.Payload)
}

func TestObserveSkipsSuccessfulReads(t *testing.T) {
	pub := new(mocks.PublisherMock)
	e := newEmitter(pub)

	e.Observe(context.Background(), coordinator.Outcome{Action: "ping"})
	e.Observe(context.Background(), coordinator.Outcome{Action: "typing", RoomID: 1})
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestObserveGradesFailures(t *testing.T) {
	cases := []struct {
		err   error
		level string
		kind  string
	}{
		{fmt.Errorf("%w: delete_any_message required", chaterr.ErrForbidden), "WARN", "forbidden"},
		{errors.New("pq: connection refused"), "ERROR", "internal"},
	}
	for _, tc := range cases {
		t.Run(tc.kind, func(t *testing.T) {
			pub := new(mocks.PublisherMock)
			var got AuditEnvelope
			pub.On("Publish", mock.Anything, "audit.chat", mock.Anything, mock.Anything).
				Run(func(args mock.Arguments) { got = args.Get(2).(AuditEnvelope) }).
				Return(nil).Once()

			newEmitter(pub).Observe(context.Background(), coordinator.Outcome{Action: "join_room", Err: tc.err})

			pub.AssertExpectations(t)
			assert.Equal(t, tc.level, got.Payload.Level)
			assert.Equal(t, tc.kind, got.Payload.Result)
			assert.Nil(t, got.UserID)
		})
	}
}

func TestEmitToleratesPublishFailure(t *testing.T) {
	pub := new(mocks.PublisherMock)
	pub.On("Publish", mock.Anything, "audit.chat", mock.Anything, mock.Anything).Return(errors.New("channel closed")).Once()

	userID := int64(5)
	newEmitter(pub).Emit(context.Background(), "INFO", "audit test", "req-1", &userID)
	pub.AssertExpectations(t)

	var nilEmitter *AuditEmitter
	nilEmitter.Emit(context.Background(), "INFO", "ignored", "", nil)
}
