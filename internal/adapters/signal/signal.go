// Package signal is the WebSocket edge of the hub: it authenticates
// handshakes, pumps frames, and dispatches inbound events to the app layer.
package signal

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/soleron/huddle/internal/app"
	"github.com/soleron/huddle/internal/config"
	"github.com/soleron/huddle/internal/core"
	"github.com/soleron/huddle/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

type Controller struct {
	Hub      *app.Hub
	Verifier core.TokenVerifier
	Users    core.UserStore
	Access   core.AccessChecker
	Probe    core.ReadinessProbe
	Cfg      *config.Config
}

func NewController(hub *app.Hub, verifier core.TokenVerifier, users core.UserStore,
	access core.AccessChecker, probe core.ReadinessProbe, cfg *config.Config) *Controller {
	return &Controller{
		Hub:      hub,
		Verifier: verifier,
		Users:    users,
		Access:   access,
		Probe:    probe,
		Cfg:      cfg,
	}
}

// wsConn is one live socket. The send channel keeps per-sender delivery
// order; TrySend never blocks the caller.
type wsConn struct {
	id   core.ConnID
	user *domain.User
	conn *websocket.Conn
	send chan core.Frame

	// restricted is set when the storage-readiness probe failed for this
	// connection; room joins are refused until the client reconnects.
	restricted atomic.Bool

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) ID() core.ConnID    { return c.id }
func (c *wsConn) User() *domain.User { return c.user }

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// extractCredential pulls the bearer token from the handshake request:
// cookie first, then the explicit token query field, then the header.
func extractCredential(r *http.Request) string {
	if cookie, err := r.Cookie("token"); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	bearer := r.Header.Get("Authorization")
	if strings.HasPrefix(bearer, "Bearer ") {
		return strings.TrimPrefix(bearer, "Bearer ")
	}
	return ""
}

// HandleWS is the connection gateway. A bad credential or unknown user
// refuses the handshake outright; everything after the upgrade speaks the
// event protocol.
func (ctl *Controller) HandleWS(ctx context.Context, c *gin.Context) {
	credential := extractCredential(c.Request)
	userID, err := ctl.Verifier.Verify(c.Request.Context(), credential)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("handshake refused")
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	user, err := ctl.Users.GetUser(c.Request.Context(), userID)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("user", string(userID)).
			Msg("unknown user at handshake")
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.Cfg.ReadLimit)

	conn := &wsConn{
		id:   core.ConnID(uuid.NewString()),
		user: user,
		conn: ws,
		send: make(chan core.Frame, 64),
	}
	log.Info().Str("module", "signal").Str("conn", string(conn.id)).
		Str("user", string(user.ID)).Msg("new WS connection")

	// Await the storage-readiness precondition once. A failed probe keeps
	// the socket open but blocks room joins for this connection.
	if err := ctl.Probe.Ready(c.Request.Context()); err != nil {
		conn.restricted.Store(true)
		log.Error().Err(err).Str("module", "signal").Str("conn", string(conn.id)).
			Msg("storage readiness probe failed")
	}

	ctl.Hub.Register(conn)

	connCtx, cancel := context.WithCancel(ctx)
	go ctl.writePump(connCtx, conn)

	if conn.restricted.Load() {
		ctl.sendError(conn, &domain.ValidationError{Field: "storage", Reason: "storage not ready, room joins disabled"})
	}
	ctl.sendJSON(conn, struct {
		Type   string      `json:"type"`
		User   domain.User `json:"user"`
		ConnID core.ConnID `json:"connId"`
	}{
		Type:   "connection_confirmed",
		User:   *user,
		ConnID: conn.id,
	})

	ctl.readPump(connCtx, conn)
	cancel()

	// The read pump has returned: the transport is gone, run the cascade
	// from stored metadata.
	ctl.Hub.Disconnect(conn)
	conn.Close()
}
