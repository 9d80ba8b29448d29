package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"carechat/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func newTestRelay(t *testing.T, origins ...string) (*Hub, string) {
	t.Helper()
	hub := NewHub()
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	srv := httptest.NewServer(http.HandlerFunc(NewServer(hub, origins).HandleConnections))
	t.Cleanup(func() {
		hub.Shutdown()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(hub.Clients()) == n }, time.Second, 10*time.Millisecond)
}

func TestServer_FanOut(t *testing.T) {
	hub, url := newTestRelay(t)

	a := dial(t, url+"?userId=patient-a", nil)
	b := dial(t, url+"?userId=pharmacist-b", nil)
	waitClients(t, hub, 2)
	require.Equal(t, []string{"patient-a", "pharmacist-b"}, hub.Clients())

	sent := models.MessagePayload{
		ClientID: "c-1",
		Text:     "Need a refill",
		Sender:   models.SenderUser,
		Attachments: []models.Attachment{
			{Type: models.AttachmentTypeImage, URL: "/api/attachments/abc", Name: "label.png"},
		},
	}
	require.NoError(t, a.WriteJSON(models.Envelope{Event: models.EventMessage, Data: &sent}))

	for _, conn := range []*websocket.Conn{b, a} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
		var env models.Envelope
		require.NoError(t, conn.ReadJSON(&env))
		require.Equal(t, models.EventMessage, env.Event)
		require.NotNil(t, env.Data)
		require.NotEmpty(t, env.Data.ID)
		require.NotEmpty(t, env.Data.Timestamp)
		_, err := time.Parse(time.RFC3339Nano, env.Data.Timestamp)
		require.NoError(t, err)
		require.Equal(t, sent.Text, env.Data.Text)
		require.Equal(t, sent.Attachments, env.Data.Attachments)
		require.Equal(t, sent.ClientID, env.Data.ClientID)
	}
}

func TestServer_EmptyAttachmentsOnWire(t *testing.T) {
	hub, url := newTestRelay(t)

	a := dial(t, url+"?userId=patient-a", nil)
	b := dial(t, url+"?userId=pharmacist-b", nil)
	waitClients(t, hub, 2)

	tests := []struct {
		name        string
		attachments []models.Attachment
	}{
		{"Empty list", []models.Attachment{}},
		{"Omitted", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, a.WriteJSON(models.Envelope{Event: models.EventMessage, Data: &models.MessagePayload{
				Text:        "Need a refill",
				Sender:      models.SenderUser,
				Attachments: tt.attachments,
			}}))

			for _, conn := range []*websocket.Conn{b, a} {
				require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
				_, raw, err := conn.ReadMessage()
				require.NoError(t, err)

				var frame struct {
					Data map[string]json.RawMessage `json:"data"`
				}
				require.NoError(t, json.Unmarshal(raw, &frame))
				require.JSONEq(t, `[]`, string(frame.Data["attachments"]), "frame: %s", raw)
			}
		})
	}
}

func TestServer_TypingNotEchoed(t *testing.T) {
	hub, url := newTestRelay(t)

	a := dial(t, url+"?userId=a", nil)
	b := dial(t, url+"?userId=b", nil)
	waitClients(t, hub, 2)

	require.NoError(t, a.WriteJSON(models.Envelope{Event: models.EventTyping}))

	require.NoError(t, b.SetReadDeadline(time.Now().Add(time.Second)))
	var env models.Envelope
	require.NoError(t, b.ReadJSON(&env))
	require.Equal(t, models.EventTyping, env.Event)
	require.Equal(t, "a", env.From)

	require.NoError(t, a.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	require.Error(t, a.ReadJSON(&env))
}

func TestServer_GeneratedClientID(t *testing.T) {
	hub, url := newTestRelay(t)
	dial(t, url, nil)
	waitClients(t, hub, 1)
	require.True(t, strings.HasPrefix(hub.Clients()[0], "user-"))
}

func TestServer_Rejects(t *testing.T) {
	_, url := newTestRelay(t)

	_, resp, err := websocket.DefaultDialer.Dial(url+"?userId=bad%20id", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn := dial(t, url, http.Header{"Origin": []string{"http://localhost:3000"}})
	require.NotNil(t, conn)
}

func TestServer_Disconnect(t *testing.T) {
	hub, url := newTestRelay(t)
	a := dial(t, url+"?userId=a", nil)
	waitClients(t, hub, 1)

	require.NoError(t, a.Close())
	waitClients(t, hub, 0)
}
