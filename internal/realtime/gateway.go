package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/locolive/socialgraph/internal/auth"
	"github.com/locolive/socialgraph/internal/domain"
	"github.com/locolive/socialgraph/internal/metrics"
	"github.com/locolive/socialgraph/pkg/response"
)

// ErrAuthentication rejects a handshake with a missing, malformed or expired
// bearer credential. The connection is refused before any channel join.
var ErrAuthentication = errors.New("authentication error")

// TokenValidator verifies a bearer credential and returns its claims.
type TokenValidator interface {
	ValidateAccessToken(token string) (*auth.Claims, error)
}

// Options tunes the websocket transport.
type Options struct {
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
	SendBuffer     int
	AllowedOrigins []string
}

// DefaultOptions mirrors the gorilla chat example timings.
func DefaultOptions() Options {
	return Options{
		PingInterval:   54 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 4096,
		SendBuffer:     64,
	}
}

// WSEvent is the frame written to clients.
type WSEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type connectedPayload struct {
	ConnectionID uuid.UUID `json:"connection_id"`
	Channel      string    `json:"channel"`
}

// Gateway authenticates websocket clients, joins them to their user's channel
// and delivers notification events to every live connection of a recipient.
type Gateway struct {
	registry *Registry
	tokens   TokenValidator
	opts     Options
	upgrader websocket.Upgrader
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func NewGateway(registry *Registry, tokens TokenValidator, opts Options, m *metrics.Metrics, logger *zap.Logger) *Gateway {
	def := DefaultOptions()
	if opts.PingInterval <= 0 {
		opts.PingInterval = def.PingInterval
	}
	if opts.PongWait <= 0 {
		opts.PongWait = def.PongWait
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = def.WriteWait
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = def.MaxMessageSize
	}
	if opts.SendBuffer < 1 {
		opts.SendBuffer = def.SendBuffer
	}

	g := &Gateway{
		registry: registry,
		tokens:   tokens,
		opts:     opts,
		metrics:  m,
		logger:   logger,
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

// Authenticate extracts and verifies the bearer credential of a handshake.
// Browsers cannot set headers on websocket requests, so the access_token
// query parameter is accepted as a fallback.
func (g *Gateway) Authenticate(r *http.Request) (uuid.UUID, error) {
	token, ok := auth.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		token = r.URL.Query().Get("access_token")
	}
	if token == "" {
		return uuid.Nil, fmt.Errorf("%w: missing bearer token", ErrAuthentication)
	}

	claims, err := g.tokens.ValidateAccessToken(token)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	return claims.UserID, nil
}

// ServeWS handles GET /ws. A failed handshake is answered with 401 and never
// upgraded; the gateway does not retry it.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, err := g.Authenticate(r)
	if err != nil {
		g.metrics.HandshakeFailed(failureReason(err))
		g.logger.Debug("realtime handshake rejected", zap.Error(err), zap.String("ip", r.RemoteAddr))
		response.Error(w, http.StatusUnauthorized, "AUTHENTICATION_ERROR", err.Error())
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.metrics.HandshakeFailed("upgrade")
		g.logger.Warn("websocket upgrade failed", zap.String("userID", userID.String()), zap.Error(err))
		return
	}

	c := newConnection(userID, ws, g.opts.SendBuffer)
	if hello, err := json.Marshal(WSEvent{
		Type:    "connected",
		Payload: connectedPayload{ConnectionID: c.ID, Channel: c.Channel},
	}); err == nil {
		c.send <- hello
	}

	g.registry.Register(c)
	g.metrics.ConnectionOpened()
	g.logger.Debug("realtime connection registered",
		zap.String("userID", userID.String()),
		zap.String("connectionID", c.ID.String()),
	)

	go g.writePump(c)
	go g.readPump(c)
}

// Deliver implements domain.Deliverer.
func (g *Gateway) Deliver(event domain.NotificationEvent) int {
	msg, err := json.Marshal(WSEvent{Type: string(event.Type), Payload: event})
	if err != nil {
		g.logger.Error("Failed to marshal message", zap.Error(err))
		return 0
	}

	sent, slow := g.registry.Send(event.RecipientID, msg)
	for _, c := range slow {
		g.release(c, "slow consumer")
	}

	g.metrics.Delivery(metrics.ResultDelivered, sent)
	g.metrics.Delivery(metrics.ResultEvicted, len(slow))
	if sent == 0 {
		g.metrics.Delivery(metrics.ResultDropped, 1)
	}
	return sent
}

// Disconnect closes every live connection of the user (forced logout) and
// returns how many were closed.
func (g *Gateway) Disconnect(userID uuid.UUID) int {
	closed := 0
	for _, c := range g.registry.Lookup(userID) {
		if g.release(c, "forced logout") {
			closed++
		}
	}
	return closed
}

// Shutdown closes every live connection.
func (g *Gateway) Shutdown() {
	for _, c := range g.registry.All() {
		g.release(c, "shutdown")
	}
}

// release is the teardown hook. Only the call that deregisters c does any
// work, however many paths race to close it.
func (g *Gateway) release(c *Connection, reason string) bool {
	if !g.registry.Deregister(c) {
		return false
	}
	g.metrics.ConnectionClosed()
	g.logger.Debug("realtime connection closed",
		zap.String("userID", c.UserID.String()),
		zap.String("connectionID", c.ID.String()),
		zap.String("reason", reason),
	)
	return true
}

func (g *Gateway) readPump(c *Connection) {
	defer func() {
		g.release(c, "client closed")
		c.conn.Close()
	}()

	c.conn.SetReadLimit(g.opts.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(g.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(g.opts.PongWait))
	})

	// Delivery is server -> client only; inbound frames just keep the
	// connection alive.
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Debug("realtime read failed", zap.String("connectionID", c.ID.String()), zap.Error(err))
			}
			return
		}
	}
}

func (g *Gateway) writePump(c *Connection) {
	ticker := time.NewTicker(g.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(g.opts.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(g.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(g.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range g.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		return "expired"
	case errors.Is(err, auth.ErrInvalidToken):
		return "invalid"
	default:
		return "missing"
	}
}
