package realtime

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/spec-kit/ticket-assigner/internal/auth"
	"github.com/spec-kit/ticket-assigner/internal/domain"
)

// Path is where clients open the notification socket.
const Path = "/ws/notifications"

const writeTimeout = 5 * time.Second

type connSet map[*websocket.Conn]struct{}

// Hub tracks authenticated websocket connections by user and by group.
type Hub struct {
	tokens      *auth.TokenManager
	agentsGroup string
	logger      *zap.Logger

	mu     sync.RWMutex
	users  map[int64]connSet
	groups map[string]connSet
}

// NewHub creates a hub. Agent and admin connections join agentsGroup.
func NewHub(tokens *auth.TokenManager, agentsGroup string, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		tokens:      tokens,
		agentsGroup: agentsGroup,
		logger:      logger.Named("realtime"),
		users:       make(map[int64]connSet),
		groups:      make(map[string]connSet),
	}
}

// Handler upgrades authenticated requests and keeps the connection open
// until the client goes away.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := h.authenticate(r)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}

		groups := h.groupsFor(claims.Role)
		h.add(claims.UserID, groups, conn)
		defer h.remove(claims.UserID, groups, conn)
		h.logger.Debug("client connected", zap.Int64("user_id", claims.UserID), zap.String("role", string(claims.Role)))

		ctx := r.Context()
		for {
			var v any
			if err := wsjson.Read(ctx, conn, &v); err != nil {
				return
			}
		}
	}
}

func (h *Hub) authenticate(r *http.Request) (*auth.Claims, error) {
	token, ok := auth.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		token = strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	if token == "" {
		return nil, errors.New("missing token")
	}
	return h.tokens.ParseToken(token)
}

func (h *Hub) groupsFor(role domain.Role) []string {
	if h.agentsGroup != "" && auth.JoinsAgentsGroup(role) {
		return []string{h.agentsGroup}
	}
	return nil
}

// SendToUser writes message to every connection of userID and returns the
// number of successful writes.
func (h *Hub) SendToUser(userID int64, message any) int {
	h.mu.RLock()
	conns := snapshot(h.users[userID])
	h.mu.RUnlock()
	return h.write(conns, message)
}

// SendToGroup writes message to every connection in group.
func (h *Hub) SendToGroup(group string, message any) int {
	h.mu.RLock()
	conns := snapshot(h.groups[group])
	h.mu.RUnlock()
	return h.write(conns, message)
}

// ConnectionCount returns the number of open connections for userID.
func (h *Hub) ConnectionCount(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	var conns []*websocket.Conn
	for _, set := range h.users {
		conns = append(conns, snapshot(set)...)
	}
	h.mu.RUnlock()
	for _, conn := range conns {
		go conn.Close(websocket.StatusGoingAway, "server shutdown")
	}
}

func (h *Hub) write(conns []*websocket.Conn, message any) int {
	sent := 0
	for _, conn := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := wsjson.Write(ctx, conn, message)
		cancel()
		if err != nil {
			h.logger.Debug("dropping connection after write error", zap.Error(err))
			go conn.Close(websocket.StatusGoingAway, "write error")
			continue
		}
		sent++
	}
	return sent
}

func snapshot(set connSet) []*websocket.Conn {
	out := make([]*websocket.Conn, 0, len(set))
	for conn := range set {
		out = append(out, conn)
	}
	return out
}

func (h *Hub) add(userID int64, groups []string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	addTo(h.users, userID, conn)
	for _, g := range groups {
		addTo(h.groups, g, conn)
	}
}

func (h *Hub) remove(userID int64, groups []string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	removeFrom(h.users, userID, conn)
	for _, g := range groups {
		removeFrom(h.groups, g, conn)
	}
}

func addTo[K comparable](m map[K]connSet, key K, conn *websocket.Conn) {
	set, ok := m[key]
	if !ok {
		set = make(connSet)
		m[key] = set
	}
	set[conn] = struct{}{}
}

func removeFrom[K comparable](m map[K]connSet, key K, conn *websocket.Conn) {
	set, ok := m[key]
	if !ok {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(m, key)
	}
}
