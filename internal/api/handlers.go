package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"carechat/internal/content"
	"carechat/internal/filestore"
	"carechat/internal/models"
	"carechat/internal/storage"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
)

const defaultMediaType = "application/octet-stream"

type attachmentStore interface {
	UpsertAttachment(meta storage.DBAttachment) error
	GetAttachment(id string) (storage.DBAttachment, error)
}

// API serves attachment uploads and downloads for the two-phase send.
type API struct {
	files    filestore.FileStore
	store    attachmentStore
	baseURL  string
	maxBytes int64
	now      func() time.Time
}

func New(files filestore.FileStore, store attachmentStore, baseURL string, maxBytes int64) *API {
	return &API{
		files:    files,
		store:    store,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		maxBytes: maxBytes,
		now:      time.Now,
	}
}

func (a *API) UploadAttachmentHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientID := r.URL.Query().Get("clientId")
	if clientID != "" {
		if err := content.ValidateClientID(clientID); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.maxBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, fmt.Sprintf("File too large (max %d bytes)", maxErr.Limit), http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	if len(data) == 0 {
		http.Error(w, "Empty file", http.StatusBadRequest)
		return
	}

	mediaType, ext := detectMediaType(data, r.Header.Get("Content-Type"))

	hash := filestore.Hash(data)
	if err := a.files.Save(bytes.NewReader(data), hash); err != nil {
		log.Printf("failed to save attachment: %v", err)
		http.Error(w, "Failed to save file", http.StatusInternalServerError)
		return
	}

	id := uuid.NewString()
	name := sanitizeName(r.Header.Get("X-File-Name"))
	if name == "" {
		name = id
		if ext != "" {
			name += "." + ext
		}
	}

	meta := storage.DBAttachment{
		ID:        id,
		Hash:      hash,
		Type:      string(content.Classify(mediaType)),
		Name:      name,
		MimeType:  mediaType,
		Size:      int64(len(data)),
		CreatedAt: a.now().Unix(),
		ClientID:  clientID,
	}
	if err := a.store.UpsertAttachment(meta); err != nil {
		log.Printf("failed to store attachment metadata: %v", err)
		http.Error(w, "Failed to save file", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(attachmentInfo(a.baseURL, meta)); err != nil {
		log.Printf("failed to encode upload response: %v", err)
	}
}

func (a *API) GetAttachmentHandler(w http.ResponseWriter, r *http.Request) {
	meta, err := a.store.GetAttachment(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		log.Printf("failed to load attachment metadata: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	rc, err := a.files.Get(meta.Hash)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		log.Printf("failed to open attachment %s: %v", meta.ID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = rc.Close() }()

	w.Header().Set("Content-Type", meta.MimeType)
	w.Header().Set("Content-Security-Policy", "default-src 'none'; sandbox")
	w.Header().Set("Content-Disposition", mime.FormatMediaType(disposition(meta), map[string]string{"filename": meta.Name}))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "private, max-age=31536000, immutable")
	if _, err := io.Copy(w, rc); err != nil {
		log.Printf("failed to write attachment %s: %v", meta.ID, err)
	}
}

func attachmentInfo(baseURL string, meta storage.DBAttachment) models.AttachmentInfo {
	return models.AttachmentInfo{
		ID:       meta.ID,
		URL:      baseURL + "/api/attachments/" + meta.ID,
		Type:     models.AttachmentType(meta.Type),
		Name:     meta.Name,
		MimeType: meta.MimeType,
		Size:     meta.Size,
	}
}

// disposition allows inline display only for images whose type the sniffer
// knows; anything else, SVG included, is downloaded.
func disposition(meta storage.DBAttachment) string {
	if meta.Type == string(models.AttachmentTypeImage) && filetype.IsMIMESupported(meta.MimeType) {
		return "inline"
	}
	return "attachment"
}

// detectMediaType sniffs the content and falls back to the declared type.
func detectMediaType(data []byte, declared string) (mediaType, ext string) {
	kind, err := filetype.Match(data)
	if err == nil && kind != filetype.Unknown {
		return kind.MIME.Value, kind.Extension
	}

	if declared != "" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil {
			return mt, ""
		}
	}
	return defaultMediaType, ""
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	if len(name) > 255 {
		name = name[:255]
	}
	return name
}
