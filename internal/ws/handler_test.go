package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"chat-engine/internal/auth"
	"chat-engine/internal/models"
	"chat-engine/internal/presence"
	"chat-engine/internal/repositories"
)

type echoDispatcher struct {
	registry     *Registry
	disconnected chan Session
}

func (d *echoDispatcher) Dispatch(ctx context.Context, s Session, a models.Action) {
	_ = d.registry.SendToConnection(ctx, s.ConnID, models.Event{Type: models.EventPong, ID: a.ID})
}

func (d *echoDispatcher) Disconnected(ctx context.Context, s Session) {
	d.disconnected <- s
}

type wsServer struct {
	url        string
	registry   *Registry
	dispatcher *echoDispatcher
	authn      *auth.JWTAuthenticator
}

func newWSServer(t *testing.T, cfg ClientConfig) *wsServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	registry := NewRegistry(repositories.NewMemoryMembershipStore(), presence.NewTracker(0), nil)
	dispatcher := &echoDispatcher{registry: registry, disconnected: make(chan Session, 4)}
	authn := auth.NewJWTAuthenticator("test-secret", "")
	handler := NewHandler(registry, dispatcher, authn, cfg, nil)

	router := gin.New()
	router.GET("/ws", handler.Handle)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &wsServer{
		url:        "ws" + strings.TrimPrefix(server.URL, "http") + "/ws",
		registry:   registry,
		dispatcher: dispatcher,
		authn:      authn,
	}
}

func (s *wsServer) dial(t *testing.T, userID int64) *websocket.Conn {
	t.Helper()
	token, err := s.authn.Sign(models.Identity{UserID: userID, DisplayName: "tester"}, time.Minute)
	require.NoError(t, err)
	header := http.Header{"Authorization": []string{"Bearer " + token}}
	conn, _, err := websocket.DefaultDialer.Dial(s.url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type rawEvent struct {
	Type models.EventType `json:"type"`
	ID   string           `json:"id"`
	Data map[string]any   `json:"data"`
}

func readEvent(t *testing.T, conn *websocket.Conn) rawEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev rawEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestHandshakeAndActionRoundTrip(t *testing.T) {
	s := newWSServer(t, DefaultClientConfig())
	conn := s.dial(t, 5)

	established := readEvent(t, conn)
	require.Equal(t, models.EventConnectionEstablished, established.Type)
	connID, _ := established.Data["connection_id"].(string)
	require.NotEmpty(t, connID)
	require.Equal(t, []string{connID}, s.registry.Connections(5))

	require.NoError(t, conn.WriteJSON(models.Action{Type: models.ActionPing, ID: "c-1"}))
	pong := readEvent(t, conn)
	require.Equal(t, models.EventPong, pong.Type)
	require.Equal(t, "c-1", pong.ID)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	malformed := readEvent(t, conn)
	require.Equal(t, models.EventError, malformed.Type)
	require.Equal(t, "invalid_action", malformed.Data["kind"])

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	select {
	case sess := <-s.dispatcher.disconnected:
		require.Equal(t, connID, sess.ConnID)
	case <-time.After(2 * time.Second):
		t.Fatal("connection was not torn down")
	}
	require.Eventually(t, func() bool { return len(s.registry.Connections(5)) == 0 }, time.Second, 10*time.Millisecond)
}

func TestHandshakeRejectsMissingToken(t *testing.T) {
	s := newWSServer(t, DefaultClientConfig())
	_, resp, err := websocket.DefaultDialer.Dial(s.url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSilentConnectionTimesOut(t *testing.T) {
	cfg := DefaultClientConfig()
	cfg.PingInterval = 40 * time.Millisecond
	cfg.MaxMissedPings = 2
	s := newWSServer(t, cfg)
	conn := s.dial(t, 9)
	readEvent(t, conn)

	// not reading means pings are never answered
	select {
	case sess := <-s.dispatcher.disconnected:
		require.Equal(t, int64(9), sess.UserID)
	case <-time.After(2 * time.Second):
		t.Fatal("idle connection was not dropped")
	}
}
