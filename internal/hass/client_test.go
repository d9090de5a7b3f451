package hass

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// mockHAServer creates a mock Home Assistant WebSocket server
func mockHAServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade connection: %v", err)
			return
		}
		defer conn.Close()

		handler(conn)
	}))
}

// standardAuthFlow handles the standard authentication flow
func standardAuthFlow(t *testing.T, conn *websocket.Conn, token string) {
	require.NoError(t, conn.WriteJSON(Message{Type: "auth_required"}))

	var authMsg AuthMessage
	require.NoError(t, conn.ReadJSON(&authMsg))
	assert.Equal(t, "auth", authMsg.Type)
	assert.Equal(t, token, authMsg.AccessToken)

	require.NoError(t, conn.WriteJSON(Message{Type: "auth_ok"}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestClient_Connect(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	token := "test_token"

	t.Run("successful connection", func(t *testing.T) {
		done := make(chan struct{})
		server := mockHAServer(t, func(conn *websocket.Conn) {
			standardAuthFlow(t, conn, token)
			<-done
		})
		defer server.Close()
		defer close(done)

		client := NewClient(wsURL(server), token, logger)
		require.NoError(t, client.Connect())
		assert.True(t, client.IsConnected())

		assert.Error(t, client.Connect(), "second connect must fail")

		require.NoError(t, client.Disconnect())
		assert.False(t, client.IsConnected())
	})

	t.Run("invalid token", func(t *testing.T) {
		server := mockHAServer(t, func(conn *websocket.Conn) {
			conn.WriteJSON(Message{Type: "auth_required"})
			var authMsg AuthMessage
			conn.ReadJSON(&authMsg)
			conn.WriteJSON(Message{Type: "auth_invalid"})
		})
		defer server.Close()

		client := NewClient(wsURL(server), "wrong", logger)
		err := client.Connect()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid token")
		assert.False(t, client.IsConnected())
	})

	t.Run("unreachable server", func(t *testing.T) {
		client := NewClient("ws://127.0.0.1:1/api/websocket", token, logger)
		assert.Error(t, client.Connect())
	})
}

func TestClient_FireEvent(t *testing.T) {
	logger := zap.NewNop()
	token := "test_token"

	received := make(chan FireEventRequest, 1)
	server := mockHAServer(t, func(conn *websocket.Conn) {
		standardAuthFlow(t, conn, token)

		var req FireEventRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		received <- req

		success := true
		conn.WriteJSON(Message{ID: req.ID, Type: "result", Success: &success})

		// Keep connection open until the client leaves.
		var discard Message
		conn.ReadJSON(&discard)
	})
	defer server.Close()

	client := NewClient(wsURL(server), token, logger)
	require.NoError(t, client.Connect())
	defer client.Disconnect()

	err := client.FireEvent(UpdatedEvent, map[string]interface{}{"downloaded": 2})
	require.NoError(t, err)

	select {
	case req := <-received:
		assert.Equal(t, "fire_event", req.Type)
		assert.Equal(t, UpdatedEvent, req.EventType)
		assert.EqualValues(t, 2, req.EventData["downloaded"])
	case <-time.After(time.Second):
		t.Fatal("fire_event was not received")
	}
}

func TestClient_FireEventError(t *testing.T) {
	token := "test_token"
	server := mockHAServer(t, func(conn *websocket.Conn) {
		standardAuthFlow(t, conn, token)

		var req FireEventRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		failed := false
		conn.WriteJSON(Message{
			ID:      req.ID,
			Type:    "result",
			Success: &failed,
			Error:   &Error{Code: "unauthorized", Message: "not allowed"},
		})

		var discard Message
		conn.ReadJSON(&discard)
	})
	defer server.Close()

	client := NewClient(wsURL(server), token, zap.NewNop())
	require.NoError(t, client.Connect())
	defer client.Disconnect()

	err := client.FireEvent(UpdatedEvent, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized")
}

func TestClient_FireEventNotConnected(t *testing.T) {
	client := NewClient("ws://127.0.0.1:1", "token", nil)
	assert.Error(t, client.FireEvent(UpdatedEvent, nil))
}

func TestClient_StartRetriesUntilAvailable(t *testing.T) {
	token := "test_token"
	var attempts atomic.Int32
	done := make(chan struct{})
	server := mockHAServer(t, func(conn *websocket.Conn) {
		if attempts.Add(1) == 1 {
			// Home Assistant still booting.
			conn.WriteJSON(Message{Type: "auth_required"})
			var authMsg AuthMessage
			conn.ReadJSON(&authMsg)
			conn.WriteJSON(Message{Type: "auth_invalid"})
			return
		}
		standardAuthFlow(t, conn, token)
		<-done
	})
	defer server.Close()
	defer close(done)

	client := NewClient(wsURL(server), token, zap.NewNop())
	client.Start()
	defer client.Disconnect()

	assert.False(t, client.IsConnected())
	assert.Eventually(t, client.IsConnected, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, int32(2), attempts.Load())
}
