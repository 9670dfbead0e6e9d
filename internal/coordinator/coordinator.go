package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"chat-engine/internal/chaterr"
	"chat-engine/internal/models"
	"chat-engine/internal/presence"
	"chat-engine/internal/repositories"
	"chat-engine/internal/ws"
)

// DefaultEditWindow is how long after sending a message its sender may still edit it.
const DefaultEditWindow = 15 * time.Minute

// Config tunes the coordinator.
type Config struct {
	// EditWindow of zero disables the limit.
	EditWindow time.Duration
}

// Limiter throttles mutating actions per user.
type Limiter interface {
	Allow(ctx context.Context, userID int64, action string) (bool, error)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithLimiter(l Limiter) Option {
	return func(c *Coordinator) { c.limiter = l }
}

func WithObservers(obs ...Observer) Option {
	return func(c *Coordinator) { c.observers = append(c.observers, obs...) }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator validates client actions against the membership store, applies them to the
// message store and fans the resulting events out through the registry.
type Coordinator struct {
	members   repositories.MembershipRepository
	messages  repositories.MessageRepository
	presence  *presence.Tracker
	registry  *ws.Registry
	cfg       Config
	limiter   Limiter
	observers []Observer
	now       func() time.Time
	tracer    trace.Tracer
}

// New wires a Coordinator.
func New(members repositories.MembershipRepository, messages repositories.MessageRepository, tracker *presence.Tracker, registry *ws.Registry, cfg Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		members:  members,
		messages: messages,
		presence: tracker,
		registry: registry,
		cfg:      cfg,
		now:      models.Now,
		tracer:   otel.Tracer("chat-engine/coordinator"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dispatch implements ws.Dispatcher.
func (c *Coordinator) Dispatch(ctx context.Context, s ws.Session, a models.Action) {
	c.Handle(ctx, s, a)
}

// Disconnected stops the typing indicator of a user whose last connection is going away.
func (c *Coordinator) Disconnected(ctx context.Context, s ws.Session) {
	if len(c.registry.Connections(s.UserID)) > 1 {
		return
	}
	p := c.presence.Get(ctx, s.UserID)
	if p.TypingInRoom == nil {
		return
	}
	roomID := *p.TypingInRoom
	if c.presence.ClearTyping(s.UserID, roomID) {
		c.broadcastTyping(ctx, roomID, s.UserID, false)
	}
}

// Handle runs one action to completion. Failures are reported to the originating connection only.
func (c *Coordinator) Handle(ctx context.Context, s ws.Session, a models.Action) Outcome {
	return c.run(ctx, s, a).out
}

// Perform runs an action on behalf of a caller with no live connection, as the HTTP API does.
// Events still fan out to the room; the direct reply is returned instead of sent.
func (c *Coordinator) Perform(ctx context.Context, caller models.Identity, a models.Action) (any, error) {
	run := c.run(ctx, ws.Session{UserID: caller.UserID, DisplayName: caller.DisplayName, RequestID: requestIDFrom(ctx)}, a)
	return run.result, run.out.Err
}

func (c *Coordinator) run(ctx context.Context, s ws.Session, a models.Action) *action {
	ctx, span := c.tracer.Start(ctx, "action."+string(a.Type), trace.WithAttributes(
		attribute.String("action", string(a.Type)),
		attribute.Int64("user_id", s.UserID),
		attribute.String("conn_id", s.ConnID),
	))
	defer span.End()

	run := &action{
		c:    c,
		sess: s,
		act:  a,
		out: Outcome{
			Action:        string(a.Type),
			CorrelationID: a.ID,
			RequestID:     s.RequestID,
			ConnID:        s.ConnID,
			UserID:        s.UserID,
			Stage:         StageReceived,
			StartedAt:     time.Now(),
		},
	}

	if err := run.dispatch(ctx); err != nil {
		run.out.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, string(chaterr.KindOf(err)))
		if s.ConnID != "" {
			c.replyError(ctx, s, a, err)
		}
	}
	if run.out.RoomID != 0 {
		span.SetAttributes(attribute.Int64("room_id", run.out.RoomID))
	}
	run.out.Elapsed = time.Since(run.out.StartedAt)
	c.observe(ctx, run.out)
	return run
}

func (c *Coordinator) replyError(ctx context.Context, s ws.Session, a models.Action, err error) {
	ev := models.Event{
		Type: models.EventError,
		ID:   a.ID,
		Data: models.ErrorPayload{Kind: string(chaterr.KindOf(err)), Reason: chaterr.Reason(err), Action: a.Type},
	}
	if sendErr := c.registry.SendToConnection(ctx, s.ConnID, ev); sendErr != nil {
		log.Printf("error reply dropped conn_id=%s action=%s err=%v", s.ConnID, a.Type, sendErr)
	}
}

func (c *Coordinator) observe(ctx context.Context, o Outcome) {
	for _, obs := range c.observers {
		obs.Observe(ctx, o)
	}
}

// operation records an HTTP-driven membership operation.
func (c *Coordinator) operation(ctx context.Context, name string, actorID, roomID int64) *Outcome {
	return &Outcome{
		Action:    name,
		RequestID: requestIDFrom(ctx),
		UserID:    actorID,
		RoomID:    roomID,
		Stage:     StageReceived,
		StartedAt: time.Now(),
	}
}

func (c *Coordinator) finish(ctx context.Context, o *Outcome, err error) {
	o.Err = err
	o.Elapsed = time.Since(o.StartedAt)
	c.observe(ctx, *o)
}

// requireActive resolves the room and the user's active membership in it.
func (c *Coordinator) requireActive(ctx context.Context, roomID, userID int64) (models.Room, models.Membership, error) {
	room, err := c.members.GetRoom(ctx, roomID)
	if err != nil {
		return models.Room{}, models.Membership{}, err
	}
	m, err := c.members.GetMembership(ctx, roomID, userID)
	if err != nil && !isNotFound(err) {
		return models.Room{}, models.Membership{}, err
	}
	if !m.Active() {
		return models.Room{}, models.Membership{}, fmt.Errorf("%w: user %d is not an active member of room %d", chaterr.ErrForbidden, userID, roomID)
	}
	return room, m, nil
}

func requireCapability(m models.Membership, capability models.Capability) error {
	if !m.Permits(capability) {
		return fmt.Errorf("%w: %s required in room %d", chaterr.ErrForbidden, capability, m.RoomID)
	}
	return nil
}

// visibleMessage loads a message the user may see. Pending messages exist only for their sender.
func (c *Coordinator) visibleMessage(ctx context.Context, messageID, userID int64) (models.Message, models.Membership, error) {
	msg, err := c.messages.Get(ctx, messageID)
	if err != nil {
		return models.Message{}, models.Membership{}, err
	}
	if msg.Pending && msg.SenderID != userID {
		return models.Message{}, models.Membership{}, fmt.Errorf("%w: message %d", chaterr.ErrNotFound, messageID)
	}
	_, m, err := c.requireActive(ctx, msg.RoomID, userID)
	if err != nil {
		return models.Message{}, models.Membership{}, err
	}
	return msg, m, nil
}

func (c *Coordinator) broadcastTyping(ctx context.Context, roomID, userID int64, typing bool) {
	ev := models.Event{Type: models.EventTypingIndicator, Data: models.TypingPayload{RoomID: roomID, UserID: userID, IsTyping: typing}}
	if err := c.registry.SendToRoom(ctx, roomID, ev, userID); err != nil {
		log.Printf("typing fan-out failed room_id=%d user_id=%d err=%v", roomID, userID, err)
	}
}

func decode[T any](a models.Action) (T, error) {
	var v T
	if len(a.Data) == 0 {
		return v, fmt.Errorf("%w: %s needs data", chaterr.ErrInvalidAction, a.Type)
	}
	if err := json.Unmarshal(a.Data, &v); err != nil {
		return v, fmt.Errorf("%w: %s data: %v", chaterr.ErrInvalidAction, a.Type, err)
	}
	return v, nil
}

func isNotFound(err error) bool {
	return chaterr.KindOf(err) == chaterr.KindNotFound
}
