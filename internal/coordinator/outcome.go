package coordinator

import (
	"context"
	"time"

	"chat-engine/internal/chaterr"
	"chat-engine/internal/observability"
)

// Stage is how far an action got before it finished or failed.
type Stage string

const (
	StageReceived     Stage = "received"
	StageAuthorized   Stage = "authorized"
	StageApplied      Stage = "applied"
	StageBroadcast    Stage = "broadcast"
	StageAcknowledged Stage = "acknowledged"
)

// Outcome records one inbound action or membership operation. It is the only thing observers
// see; the control plane itself never logs or audits.
type Outcome struct {
	Action        string
	CorrelationID string
	RequestID     string
	ConnID        string
	UserID        int64
	RoomID        int64
	MessageID     int64
	Stage         Stage
	Err           error
	StartedAt     time.Time
	Elapsed       time.Duration
}

// Result is "ok" or the error kind.
func (o Outcome) Result() string {
	if o.Err == nil {
		return "ok"
	}
	return string(chaterr.KindOf(o.Err))
}

// Mutating reports whether the action can change stored state.
func (o Outcome) Mutating() bool {
	switch o.Action {
	case "ping", "typing", "join_room", "leave_room":
		return false
	}
	return true
}

// Observer consumes outcomes. Observe runs on the action's goroutine and must not block for long.
type Observer interface {
	Observe(ctx context.Context, o Outcome)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, o Outcome)

func (f ObserverFunc) Observe(ctx context.Context, o Outcome) { f(ctx, o) }

// MetricsObserver counts outcomes and their latency in Prometheus.
type MetricsObserver struct{}

func (MetricsObserver) Observe(_ context.Context, o Outcome) {
	observability.ObserveAction(o.Action, o.Result(), o.Elapsed)
}

type requestIDKey struct{}

// WithRequestID tags ctx so outcomes of HTTP-driven operations carry the request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
