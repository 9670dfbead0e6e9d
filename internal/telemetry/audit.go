package telemetry

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel/trace"

	"chat-engine/internal/chaterr"
	"chat-engine/internal/coordinator"
	"chat-engine/internal/observability"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
	Close() error
}

// AuditEmitter publishes an audit record for every state-changing action and every failure.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	now         func() time.Time
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        *int64       `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level         string `json:"level"`
	Action        string `json:"action"`
	Result        string `json:"result"`
	Stage         string `json:"stage,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	ConnID        string `json:"conn_id,omitempty"`
	RoomID        int64  `json:"room_id,omitempty"`
	MessageID     int64  `json:"message_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
	DurationMs    int64  `json:"duration_ms"`
	Text          string `json:"text,omitempty"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		now:         time.Now,
	}
}

// Observe implements coordinator.Observer.
func (e *AuditEmitter) Observe(ctx context.Context, o coordinator.Outcome) {
	if e == nil || e.publisher == nil {
		return
	}
	if o.Err == nil && !o.Mutating() {
		return
	}

	level := "INFO"
	var reason string
	if o.Err != nil {
		level = "WARN"
		if chaterr.KindOf(o.Err) == chaterr.KindInternal {
			level = "ERROR"
		}
		reason = o.Err.Error()
	}

	var userID *int64
	if o.UserID != 0 {
		id := o.UserID
		userID = &id
	}

	e.publish(ctx, o.RequestID, userID, AuditPayload{
		Level:         level,
		Action:        o.Action,
		Result:        o.Result(),
		Stage:         string(o.Stage),
		CorrelationID: o.CorrelationID,
		ConnID:        o.ConnID,
		RoomID:        o.RoomID,
		MessageID:     o.MessageID,
		Reason:        reason,
		DurationMs:    o.Elapsed.Milliseconds(),
	})
}

// Emit publishes a free-form audit record.
func (e *AuditEmitter) Emit(ctx context.Context, level, text, requestID string, userID *int64) {
	if e == nil || e.publisher == nil {
		return
	}

	log.Printf("audit emit: level=%s request_id=%s user_id=%v text=%q", level, requestID, userID, text)
	e.publish(ctx, requestID, userID, AuditPayload{Level: level, Action: "manual", Result: "ok", Text: text})
}

func (e *AuditEmitter) publish(ctx context.Context, requestID string, userID *int64, payload AuditPayload) {
	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		UserID:        userID,
		Payload:       payload,
	}

	var traceID string
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}

	if err := e.publisher.Publish(context.WithoutCancel(ctx), e.routingKey, envelope, observability.BuildHeaders(requestID, traceID)); err != nil {
		observability.IncAMQPPublishError()
		log.Printf("audit publish failed: %v", err)
	}
}
