package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"carechat/internal/content"
	"carechat/internal/models"

	"github.com/google/uuid"
)

const blobScheme = "blob:carechat/"

// File is an attachment picked by the user before sending.
type File struct {
	Name      string
	MediaType string
	Data      []byte
}

// Uploader stores attachment bytes somewhere every party can reach and
// returns the durable attachment reference.
type Uploader interface {
	Upload(ctx context.Context, clientID string, f File) (models.Attachment, error)
}

// localAttachment classifies f and gives it an ephemeral reference that is
// only resolvable inside this session.
func localAttachment(f File) models.Attachment {
	return models.Attachment{
		Type: content.Classify(f.MediaType),
		URL:  blobScheme + uuid.NewString(),
		Name: f.Name,
	}
}

// IsEphemeral reports whether an attachment URL is a session-local reference.
func IsEphemeral(locator string) bool {
	return strings.HasPrefix(locator, blobScheme)
}

// HTTPUploader uploads attachments to the relay's attachment API.
type HTTPUploader struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPUploader(baseURL string) *HTTPUploader {
	return &HTTPUploader{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (u *HTTPUploader) Upload(ctx context.Context, clientID string, f File) (models.Attachment, error) {
	endpoint := fmt.Sprintf("%s/api/attachments?clientId=%s", u.BaseURL, url.QueryEscape(clientID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(f.Data))
	if err != nil {
		return models.Attachment{}, fmt.Errorf("failed to build upload request: %w", err)
	}
	mediaType := f.MediaType
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", mediaType)
	if f.Name != "" {
		req.Header.Set("X-File-Name", f.Name)
	}

	resp, err := u.Client.Do(req)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("failed to upload %s: %w", f.Name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return models.Attachment{}, fmt.Errorf("failed to upload %s (Status: %d): %s", f.Name, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var info models.AttachmentInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return models.Attachment{}, fmt.Errorf("failed to decode upload response: %w", err)
	}
	if info.URL == "" {
		return models.Attachment{}, fmt.Errorf("upload response for %s has no url", f.Name)
	}

	name := info.Name
	if name == "" {
		name = f.Name
	}
	return models.Attachment{Type: info.Type, URL: info.URL, Name: name}, nil
}
