package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"github.com/SherClockHolmes/webpush-go"
)

const defaultIcon = "/pharmacy-icon.png"

var ErrSubscriptionGone = errors.New("push subscription is no longer valid")

type WebPushConfig struct {
	Subscriber      string // Contact for the push service, "mailto:" or "https:" URL
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	TTL             int // Seconds the push service keeps an undelivered notification
	Icon            string
}

func (c *WebPushConfig) Validate() error {
	if c.VAPIDPublicKey == "" || c.VAPIDPrivateKey == "" {
		return errors.New("VAPID key pair is required")
	}
	if c.Subscriber == "" {
		return errors.New("subscriber contact is required")
	}
	if c.TTL <= 0 {
		c.TTL = 60
	}
	if c.Icon == "" {
		c.Icon = defaultIcon
	}
	return nil
}

// SubscriptionSource obtains the browser push subscription. Returning
// ErrPermissionDenied marks the permission as denied.
type SubscriptionSource func(ctx context.Context) (*webpush.Subscription, error)

// FileSubscription reads a subscription exported by the browser as JSON
// ({"endpoint": ..., "keys": {"auth": ..., "p256dh": ...}}). A missing file
// means the user has not granted permission.
func FileSubscription(path string) SubscriptionSource {
	return func(ctx context.Context) (*webpush.Subscription, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, ErrPermissionDenied
			}
			return nil, fmt.Errorf("failed to read subscription: %w", err)
		}
		var sub webpush.Subscription
		if err := json.Unmarshal(data, &sub); err != nil {
			return nil, fmt.Errorf("invalid subscription: %w", err)
		}
		if sub.Endpoint == "" {
			return nil, errors.New("invalid subscription: missing endpoint")
		}
		return &sub, nil
	}
}

// WebPush is a Desktop that delivers notifications through the Web Push
// protocol to a single browser subscription.
type WebPush struct {
	cfg    WebPushConfig
	source SubscriptionSource
	client webpush.HTTPClient

	mu     sync.Mutex
	sub    *webpush.Subscription
	denied bool
}

func NewWebPush(cfg WebPushConfig, source SubscriptionSource) (*WebPush, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &WebPush{
		cfg:    cfg,
		source: source,
		client: http.DefaultClient,
	}, nil
}

func (w *WebPush) Permission() Permission {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case w.sub != nil:
		return PermissionGranted
	case w.denied:
		return PermissionDenied
	default:
		return PermissionDefault
	}
}

func (w *WebPush) RequestPermission(ctx context.Context) (Permission, error) {
	sub, err := w.source(ctx)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			w.sub = nil
			w.denied = true
			return PermissionDenied, nil
		}
		return PermissionDefault, err
	}
	w.sub = sub
	w.denied = false
	return PermissionGranted, nil
}

func (w *WebPush) Show(ctx context.Context, title, body string) error {
	w.mu.Lock()
	sub := w.sub
	w.mu.Unlock()
	if sub == nil {
		return ErrNotGranted
	}

	payload, err := json.Marshal(struct {
		Title string `json:"title"`
		Body  string `json:"body"`
		Icon  string `json:"icon"`
	}{title, body, w.cfg.Icon})
	if err != nil {
		return err
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, sub, &webpush.Options{
		HTTPClient:      w.client,
		Subscriber:      w.cfg.Subscriber,
		VAPIDPublicKey:  w.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: w.cfg.VAPIDPrivateKey,
		TTL:             w.cfg.TTL,
		Urgency:         webpush.UrgencyNormal,
	})
	if err != nil {
		return fmt.Errorf("failed to send push notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		w.mu.Lock()
		if w.sub == sub {
			w.sub = nil
		}
		w.mu.Unlock()
		return ErrSubscriptionGone
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push service returned %d: %s", resp.StatusCode, msg)
	}
	return nil
}
