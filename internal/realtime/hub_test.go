package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/spec-kit/ticket-assigner/internal/auth"
	"github.com/spec-kit/ticket-assigner/internal/domain"
)

type testMessage struct {
	TicketID int64 `json:"ticket_id"`
	AgentID  int64 `json:"agent_id"`
}

func newTestHub(t *testing.T) (*Hub, *auth.TokenManager, *httptest.Server) {
	t.Helper()
	tokens := auth.NewTokenManager("secret", 5)
	hub := NewHub(tokens, "agents", nil)
	mux := http.NewServeMux()
	mux.Handle(Path, hub.Handler())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return hub, tokens, srv
}

func dial(t *testing.T, srv *httptest.Server, hub *Hub, tokens *auth.TokenManager, userID int64, role domain.Role) *websocket.Conn {
	t.Helper()
	token, _, err := tokens.GenerateToken(userID, role)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + Path + "?access_token=" + token
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectionCount(userID) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("user %d never registered", userID)
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) testMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var msg testMessage
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestHubRejectsMissingOrBadToken(t *testing.T) {
	_, _, srv := newTestHub(t)

	for _, target := range []string{Path, Path + "?access_token=garbage"} {
		resp, err := http.Get(srv.URL + target)
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: got %d, want 401", target, resp.StatusCode)
		}
	}
}

func TestHubSendToUser(t *testing.T) {
	hub, tokens, srv := newTestHub(t)
	agent := dial(t, srv, hub, tokens, 7, domain.RoleAgent)
	dial(t, srv, hub, tokens, 8, domain.RoleAgent)

	if sent := hub.SendToUser(7, testMessage{TicketID: 42, AgentID: 7}); sent != 1 {
		t.Fatalf("sent: got %d, want 1", sent)
	}
	if msg := readMessage(t, agent); msg.TicketID != 42 || msg.AgentID != 7 {
		t.Fatalf("message: %+v", msg)
	}
	if sent := hub.SendToUser(99, testMessage{}); sent != 0 {
		t.Fatalf("unknown user: got %d, want 0", sent)
	}
}

func TestHubAgentsGroupMembership(t *testing.T) {
	hub, tokens, srv := newTestHub(t)
	admin := dial(t, srv, hub, tokens, 1, domain.RoleAdmin)
	agent := dial(t, srv, hub, tokens, 7, domain.RoleAgent)
	dial(t, srv, hub, tokens, 50, domain.RoleCustomer)

	if sent := hub.SendToGroup("agents", testMessage{TicketID: 3, AgentID: 7}); sent != 2 {
		t.Fatalf("group sent: got %d, want 2 (customer excluded)", sent)
	}
	for _, conn := range []*websocket.Conn{admin, agent} {
		if msg := readMessage(t, conn); msg.TicketID != 3 {
			t.Fatalf("message: %+v", msg)
		}
	}
}

func TestHubForgetsClosedConnections(t *testing.T) {
	hub, tokens, srv := newTestHub(t)
	conn := dial(t, srv, hub, tokens, 7, domain.RoleAgent)
	conn.Close(websocket.StatusNormalClosure, "bye")

	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectionCount(7) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("closed connection still registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
