package chat

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"carechat/internal/models"
	"carechat/internal/relay"

	"github.com/stretchr/testify/require"
)

func newRelay(t *testing.T) (*relay.Hub, string) {
	t.Helper()
	hub := relay.NewHub()
	srv := httptest.NewServer(http.HandlerFunc(relay.NewServer(hub, []string{"*"}).HandleConnections))
	t.Cleanup(func() {
		hub.Shutdown()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func connectSession(t *testing.T, url string, opts Options) *Session {
	t.Helper()
	s := New(NewWebsocketDialer(url), opts)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	waitStatus(t, s, StatusConnected)
	return s
}

func texts(messages []models.ChatMessage) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.Text
	}
	return out
}

func TestIntegration_Conversation(t *testing.T) {
	hub, url := newRelay(t)

	patient := connectSession(t, url, Options{ClientID: "patient-1"})
	pharmacist := connectSession(t, url, Options{ClientID: "pharm-1", Role: models.SenderPharmacist})
	require.Eventually(t, func() bool { return len(hub.Clients()) == 2 }, time.Second, 10*time.Millisecond)

	pharmacist.SetWindowFocused(false)

	_, ok := patient.SendMessage("Hi, is my prescription ready?")
	require.True(t, ok)
	require.Eventually(t, func() bool { return len(pharmacist.Snapshot().Messages) == 1 }, 2*time.Second, 10*time.Millisecond)

	_, ok = pharmacist.SendMessage("Yes, you can pick it up after 3pm.")
	require.True(t, ok)

	want := []string{"Hi, is my prescription ready?", "Yes, you can pick it up after 3pm."}
	for _, s := range []*Session{patient, pharmacist} {
		require.Eventually(t, func() bool {
			state := s.Snapshot()
			if len(state.Messages) != 2 {
				return false
			}
			for _, m := range state.Messages {
				if m.Pending() {
					return false
				}
			}
			return true
		}, 2*time.Second, 10*time.Millisecond)
		require.Equal(t, want, texts(s.Snapshot().Messages))
	}

	// Both sides hold the relay's ids in the same order.
	p, ph := patient.Snapshot().Messages, pharmacist.Snapshot().Messages
	for i := range p {
		require.Equal(t, p[i].ServerID, ph[i].ServerID)
	}
	require.Less(t, p[0].ServerID, p[1].ServerID)
	require.Equal(t, models.SenderUser, ph[0].Sender)
	require.Equal(t, models.SenderPharmacist, p[1].Sender)

	require.Equal(t, 1, pharmacist.Snapshot().UnreadCount)
	require.Zero(t, patient.Snapshot().UnreadCount)
}

func TestIntegration_TypingIndicator(t *testing.T) {
	hub, url := newRelay(t)

	patient := connectSession(t, url, Options{ClientID: "patient-1"})
	pharmacist := connectSession(t, url, Options{ClientID: "pharm-1", Role: models.SenderPharmacist})
	require.Eventually(t, func() bool { return len(hub.Clients()) == 2 }, time.Second, 10*time.Millisecond)

	pharmacist.NotifyTyping(true)
	require.Eventually(t, func() bool { return patient.Snapshot().IsTyping }, 2*time.Second, 10*time.Millisecond)
	require.False(t, pharmacist.Snapshot().IsTyping, "typing is not echoed to the sender")

	pharmacist.NotifyTyping(false)
	require.Eventually(t, func() bool { return !patient.Snapshot().IsTyping }, 2*time.Second, 10*time.Millisecond)
}

func TestIntegration_ReconnectAfterRelayDrop(t *testing.T) {
	hub, url := newRelay(t)

	s := connectSession(t, url, Options{ClientID: "patient-1", ReconnectDelay: 10 * time.Millisecond})
	require.Eventually(t, func() bool { return len(hub.Clients()) == 1 }, time.Second, 10*time.Millisecond)

	// Shutdown closes every peer queue, which drops the websocket.
	hub.Shutdown()

	require.Eventually(t, func() bool {
		return s.Snapshot().Status == StatusConnected && len(hub.Clients()) == 1
	}, 3*time.Second, 10*time.Millisecond)

	_, ok := s.SendMessage("still there?")
	require.True(t, ok)
	require.Eventually(t, func() bool { return !s.Snapshot().Messages[0].Pending() }, 2*time.Second, 10*time.Millisecond)
}

func TestHTTPUploader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/attachments", r.URL.Path)
		require.Equal(t, "patient 1", r.URL.Query().Get("clientId"))
		require.Equal(t, "application/pdf", r.Header.Get("Content-Type"))
		require.Equal(t, "rx.pdf", r.Header.Get("X-File-Name"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		if string(body) == "reject" {
			http.Error(w, "file too large", http.StatusRequestEntityTooLarge)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(models.AttachmentInfo{
			ID:       "abc",
			URL:      "http://relay.test/api/attachments/abc",
			Type:     models.AttachmentTypeDocument,
			MimeType: "application/pdf",
			Size:     int64(len(body)),
		})
	}))
	defer srv.Close()

	u := NewHTTPUploader(srv.URL + "/")

	a, err := u.Upload(context.Background(), "patient 1", File{Name: "rx.pdf", MediaType: "application/pdf", Data: []byte("%PDF")})
	require.NoError(t, err)
	require.Equal(t, models.Attachment{Type: models.AttachmentTypeDocument, URL: "http://relay.test/api/attachments/abc", Name: "rx.pdf"}, a)

	_, err = u.Upload(context.Background(), "patient 1", File{Name: "rx.pdf", MediaType: "application/pdf", Data: []byte("reject")})
	require.Error(t, err)
	require.Contains(t, err.Error(), "413")
}
