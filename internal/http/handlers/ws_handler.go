package handlers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/consulting-marketplace/backend/internal/auth"
	"github.com/consulting-marketplace/backend/internal/config"
	"github.com/consulting-marketplace/backend/internal/events"
	"github.com/consulting-marketplace/backend/internal/rbac"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WSHub fans deal and payment events out to connected staff dashboards.
type WSHub struct {
	cfg         *config.Config
	subscriber  events.Subscriber
	log         *zap.Logger
	mu          sync.RWMutex
	connections map[uuid.UUID][]*websocket.Conn
}

func NewWSHub(cfg *config.Config, subscriber events.Subscriber, log *zap.Logger) *WSHub {
	return &WSHub{
		cfg:         cfg,
		subscriber:  subscriber,
		log:         log,
		connections: make(map[uuid.UUID][]*websocket.Conn),
	}
}

func (h *WSHub) Start(ctx context.Context) error {
	return h.subscriber.Subscribe(ctx, h.broadcast, events.StreamDeal, events.StreamPayment)
}

func (h *WSHub) broadcast(event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for userID, conns := range h.connections {
		for _, conn := range conns {
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.log.Debug("ws write failed", zap.String("user_id", userID.String()), zap.Error(err))
			}
		}
	}
}

// ConnectionCount is the number of open sockets across all users.
func (h *WSHub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, conns := range h.connections {
		n += len(conns)
	}
	return n
}

// WSUpgradeMiddleware checks for websocket upgrade
func WSUpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

// authorize resolves the staff user behind a socket token.
func (h *WSHub) authorize(token string) (uuid.UUID, string) {
	if token == "" {
		return uuid.Nil, "missing token"
	}
	claims, err := auth.ParseJWT(h.cfg.JWTSecret, token)
	if err != nil {
		return uuid.Nil, "invalid token"
	}
	role := claims.Role
	if h.cfg.IsAdmin(claims.UserID) {
		role = rbac.RoleAdmin
	}
	if !rbac.HasPermission(role, rbac.PermViewDeals) {
		return uuid.Nil, "staff access required"
	}
	return claims.UserID, ""
}

func (h *WSHub) HandleWS(conn *websocket.Conn) {
	userID, reason := h.authorize(conn.Query("token"))
	if reason != "" {
		msg, _ := json.Marshal(map[string]string{"error": reason})
		_ = conn.WriteMessage(websocket.TextMessage, msg)
		conn.Close()
		return
	}

	h.mu.Lock()
	h.connections[userID] = append(h.connections[userID], conn)
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		conns := h.connections[userID]
		for i, c := range conns {
			if c == conn {
				h.connections[userID] = append(conns[:i], conns[i+1:]...)
				break
			}
		}
		if len(h.connections[userID]) == 0 {
			delete(h.connections, userID)
		}
		h.mu.Unlock()
		conn.Close()
	}()

	// Read loop (keep alive / pings)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
