package ws

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"chat-engine/internal/auth"
	"chat-engine/internal/models"
	"chat-engine/internal/observability"
)

// Dispatcher processes the actions of registered connections.
type Dispatcher interface {
	Dispatch(ctx context.Context, s Session, a models.Action)
	// Disconnected runs after the read pump ends and before the connection is unregistered.
	Disconnected(ctx context.Context, s Session)
}

// Handler upgrades authenticated requests and wires the connection into the registry.
type Handler struct {
	registry   *Registry
	dispatcher Dispatcher
	authn      auth.Authenticator
	cfg        ClientConfig
	upgrader   websocket.Upgrader
}

// NewHandler constructs a Handler. allowedOrigins of nil or containing "*" accepts any origin.
func NewHandler(registry *Registry, dispatcher Dispatcher, authn auth.Authenticator, cfg ClientConfig, allowedOrigins []string) *Handler {
	return &Handler{
		registry:   registry,
		dispatcher: dispatcher,
		authn:      authn,
		cfg:        cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(allowedOrigins),
		},
	}
}

// Handle authenticates, upgrades and starts the connection pumps.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chat-engine/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	identity, err := h.authn.Authenticate(ctx, tokenFromRequest(c))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      identity.UserID,
		DisplayName: identity.DisplayName,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	// the connection outlives the HTTP request
	connCtx := context.WithoutCancel(ctx)

	client := NewClient(conn, h.cfg)
	_ = client.Send(models.Event{Type: models.EventConnectionEstablished, Data: models.ConnectionEstablishedPayload{
		ConnectionID: info.ConnID,
		UserID:       info.UserID,
	}})
	h.registry.Register(connCtx, info, client)
	publishLifecycle(connCtx, info, "ws_connect", "")

	go client.WritePump()
	go h.serve(connCtx, client, info)
}

func (h *Handler) serve(ctx context.Context, client *Client, info ConnInfo) {
	sess := info.Session()
	err := client.ReadPump(func(a models.Action) {
		h.dispatcher.Dispatch(ctx, sess, a)
	})

	reason := ""
	if err != nil {
		reason = err.Error()
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			publishLifecycle(ctx, info, "ws_error", reason)
		}
	}
	h.dispatcher.Disconnected(ctx, sess)
	h.registry.Unregister(ctx, info.ConnID)
	publishLifecycle(ctx, info, "ws_disconnect", reason)
}

func tokenFromRequest(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return c.Query("token")
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
