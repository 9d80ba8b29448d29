package content

import (
	"bytes"
	"errors"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"carechat/internal/models"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

// DefaultPreview is shown when a message carries no text.
const DefaultPreview = "You have a new message"

var (
	strict        = bluemonday.StrictPolicy()
	clientIDRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
	spaceRegex    = regexp.MustCompile(`\s+`)
)

// Preview renders message text as markdown and strips it down to a single line
// of plain text, at most limit runes long (limit <= 0 disables truncation).
// It is used for notification and toast bodies.
func Preview(text string, limit int) string {
	if strings.TrimSpace(text) == "" {
		return DefaultPreview
	}

	var buf bytes.Buffer
	plain := text
	if err := goldmark.Convert([]byte(text), &buf); err == nil {
		plain = html.UnescapeString(strict.Sanitize(buf.String()))
	}
	plain = strings.TrimSpace(spaceRegex.ReplaceAllString(plain, " "))
	if plain == "" {
		return DefaultPreview
	}

	if limit > 0 && utf8.RuneCountInString(plain) > limit {
		runes := []rune(plain)
		plain = strings.TrimSpace(string(runes[:limit])) + "…"
	}
	return plain
}

// NewClientID returns a random "user-" id for clients that did not pick one.
func NewClientID() string {
	return "user-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
}

// ValidateClientID checks that a relay client id is non-empty and contains
// only alphanumerics, dots, dashes and underscores.
func ValidateClientID(id string) error {
	if id == "" {
		return errors.New("client id cannot be empty")
	}
	if len(id) > 128 {
		return errors.New("client id is too long")
	}
	if !clientIDRegex.MatchString(id) {
		return errors.New("client id contains invalid characters (allowed: alphanumeric, dot, dash, underscore)")
	}
	return nil
}

// Classify maps a declared media type onto an attachment kind.
func Classify(mediaType string) models.AttachmentType {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(mediaType)), "image/") {
		return models.AttachmentTypeImage
	}
	return models.AttachmentTypeDocument
}
