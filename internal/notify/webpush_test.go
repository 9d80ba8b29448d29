package notify

import (
	"bytes"
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/require"
)

func newSubscription(t *testing.T, endpoint string) *webpush.Subscription {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)
	return &webpush.Subscription{
		Endpoint: endpoint,
		Keys: webpush.Keys{
			P256dh: base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
			Auth:   base64.RawURLEncoding.EncodeToString(auth),
		},
	}
}

func newConfig(t *testing.T) WebPushConfig {
	t.Helper()
	private, public, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)
	return WebPushConfig{
		Subscriber:      "mailto:support@example.com",
		VAPIDPublicKey:  public,
		VAPIDPrivateKey: private,
	}
}

func TestWebPush_PermissionFlow(t *testing.T) {
	var granted atomic.Bool
	sub := newSubscription(t, "https://push.example.com/x")
	source := func(ctx context.Context) (*webpush.Subscription, error) {
		if !granted.Load() {
			return nil, ErrPermissionDenied
		}
		return sub, nil
	}

	wp, err := NewWebPush(newConfig(t), source)
	require.NoError(t, err)
	require.Equal(t, PermissionDefault, wp.Permission())

	// Nothing is shown before the user grants permission.
	require.ErrorIs(t, wp.Show(context.Background(), "New Message", "hi"), ErrNotGranted)

	perm, err := wp.RequestPermission(context.Background())
	require.NoError(t, err)
	require.Equal(t, PermissionDenied, perm)
	require.Equal(t, PermissionDenied, wp.Permission())

	granted.Store(true)
	perm, err = wp.RequestPermission(context.Background())
	require.NoError(t, err)
	require.Equal(t, PermissionGranted, perm)
	require.Equal(t, PermissionGranted, wp.Permission())
}

func TestWebPush_Show(t *testing.T) {
	var (
		calls  atomic.Int32
		status atomic.Int32
	)
	status.Store(http.StatusCreated)
	push := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Content-Encoding") != "aes128gcm" || !strings.HasPrefix(r.Header.Get("Authorization"), "vapid ") {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(int(status.Load()))
	}))
	defer push.Close()

	sub := newSubscription(t, push.URL)
	wp, err := NewWebPush(newConfig(t), func(ctx context.Context) (*webpush.Subscription, error) {
		return sub, nil
	})
	require.NoError(t, err)
	_, err = wp.RequestPermission(context.Background())
	require.NoError(t, err)

	require.NoError(t, wp.Show(context.Background(), "New Message", "Need a refill"))
	require.EqualValues(t, 1, calls.Load())

	status.Store(http.StatusInternalServerError)
	require.Error(t, wp.Show(context.Background(), "New Message", "again"))
	require.Equal(t, PermissionGranted, wp.Permission())

	status.Store(http.StatusGone)
	require.ErrorIs(t, wp.Show(context.Background(), "New Message", "again"), ErrSubscriptionGone)
	require.Equal(t, PermissionDefault, wp.Permission())
}

func TestWebPushConfig_Validate(t *testing.T) {
	cfg := WebPushConfig{}
	require.Error(t, cfg.Validate())

	cfg = newConfig(t)
	require.NoError(t, cfg.Validate())
	require.Equal(t, 60, cfg.TTL)
	require.Equal(t, defaultIcon, cfg.Icon)

	cfg.Subscriber = ""
	require.Error(t, cfg.Validate())
}

func TestFileSubscription(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub.json")

	_, err := FileSubscription(path)(context.Background())
	require.ErrorIs(t, err, ErrPermissionDenied)

	sub := newSubscription(t, "https://push.example.com/abc")
	data, err := json.Marshal(sub)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0600))

	got, err := FileSubscription(path)(context.Background())
	require.NoError(t, err)
	require.Equal(t, sub.Endpoint, got.Endpoint)
	require.Equal(t, sub.Keys, got.Keys)

	require.NoError(t, os.WriteFile(path, []byte(`{"keys":{}}`), 0600))
	_, err = FileSubscription(path)(context.Background())
	require.Error(t, err)
}

func TestWriterToaster(t *testing.T) {
	var buf bytes.Buffer
	NewWriterToaster(&buf).Toast("New message received")
	require.Equal(t, "💊 New message received\n", buf.String())
}
