package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"carechat/internal/models"

	"github.com/joho/godotenv"
)

// Config is the relay process configuration.
type Config struct {
	DBFile         string
	AdminAddr      string
	RelayAddr      string
	BaseURL        string
	UploadsPath    string
	AllowedOrigins []string
	MaxUploadBytes int64
}

// ClientConfig configures the chat clients (chatcli and the -send command).
type ClientConfig struct {
	RelayURL          string
	Role              models.Sender
	UserID            string
	SimulateTyping    bool
	ReconcileEchoes   bool
	ReconnectAttempts int
	ReconnectDelay    time.Duration

	VAPIDPublicKey   string
	VAPIDPrivateKey  string
	VAPIDSubscriber  string
	PushSubscription string
}

// LoadDotEnv reads .env style files into the environment. Variables that are
// already set win. A missing file is not an error.
func LoadDotEnv(files ...string) error {
	if err := godotenv.Load(files...); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Debug("no .env file found, using environment")
			return nil
		}
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

func Load() (*Config, error) {
	maxUpload, err := strconv.ParseInt(getEnv("MAX_UPLOAD_BYTES", "10485760"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("MAX_UPLOAD_BYTES: %w", err)
	}

	cfg := &Config{
		DBFile:         getEnv("CARECHAT_DB", "carechat.db"),
		AdminAddr:      getEnv("ADMIN_ADDR", "localhost:3002"),
		RelayAddr:      getEnv("RELAY_ADDR", ":3001"),
		BaseURL:        getEnv("BASE_URL", "http://localhost:3001"),
		UploadsPath:    getEnv("UPLOADS_PATH", "uploads"),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		MaxUploadBytes: maxUpload,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be greater than 0")
	}

	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("BASE_URL is invalid: %w", err)
	}

	if len(c.AllowedOrigins) == 0 {
		return fmt.Errorf("ALLOWED_ORIGINS must not be empty")
	}

	return nil
}

func LoadClient() (*ClientConfig, error) {
	attempts, err := strconv.Atoi(getEnv("RECONNECT_ATTEMPTS", "5"))
	if err != nil {
		return nil, fmt.Errorf("RECONNECT_ATTEMPTS: %w", err)
	}
	delay, err := time.ParseDuration(getEnv("RECONNECT_DELAY", "1s"))
	if err != nil {
		return nil, fmt.Errorf("RECONNECT_DELAY: %w", err)
	}
	simulate, err := strconv.ParseBool(getEnv("SIMULATE_TYPING", "false"))
	if err != nil {
		return nil, fmt.Errorf("SIMULATE_TYPING: %w", err)
	}
	reconcile, err := strconv.ParseBool(getEnv("RECONCILE_ECHOES", "true"))
	if err != nil {
		return nil, fmt.Errorf("RECONCILE_ECHOES: %w", err)
	}

	cfg := &ClientConfig{
		RelayURL:          getEnv("RELAY_URL", "ws://localhost:3001/ws"),
		Role:              models.Sender(getEnv("CHAT_ROLE", string(models.SenderUser))),
		UserID:            os.Getenv("CHAT_USER_ID"),
		SimulateTyping:    simulate,
		ReconcileEchoes:   reconcile,
		ReconnectAttempts: attempts,
		ReconnectDelay:    delay,
		VAPIDPublicKey:    os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey:   os.Getenv("VAPID_PRIVATE_KEY"),
		VAPIDSubscriber:   getEnv("VAPID_SUBSCRIBER", "mailto:support@localhost"),
		PushSubscription:  getEnv("PUSH_SUBSCRIPTION", "push-subscription.json"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *ClientConfig) Validate() error {
	if !c.Role.Valid() {
		return fmt.Errorf("CHAT_ROLE must be %q or %q", models.SenderUser, models.SenderPharmacist)
	}

	u, err := url.Parse(c.RelayURL)
	if err != nil {
		return fmt.Errorf("RELAY_URL is invalid: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("RELAY_URL must use ws or wss")
	}

	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("RECONNECT_DELAY must be greater than 0")
	}

	if (c.VAPIDPublicKey == "") != (c.VAPIDPrivateKey == "") {
		return fmt.Errorf("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set together")
	}

	return nil
}

// PushEnabled reports whether desktop notifications via Web Push are configured.
func (c *ClientConfig) PushEnabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

// APIBaseURL derives the HTTP base of the relay from its websocket URL.
func (c *ClientConfig) APIBaseURL() string {
	u, err := url.Parse(c.RelayURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	default:
		u.Scheme = "http"
	}
	u.Path = ""
	u.RawQuery = ""
	return u.String()
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
