// Package notify delivers the side effects of an unseen chat message:
// desktop notifications and in-app toasts.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Permission mirrors the browser notification permission states.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

var (
	ErrPermissionDenied = errors.New("notification permission denied")
	ErrNotGranted       = errors.New("notification permission not granted")
)

// Desktop shows notifications outside the chat panel. Permission is only ever
// requested through RequestPermission, which callers invoke on an explicit
// user action.
type Desktop interface {
	Permission() Permission
	RequestPermission(ctx context.Context) (Permission, error)
	Show(ctx context.Context, title, body string) error
}

// Toaster shows a short in-app message.
type Toaster interface {
	Toast(message string)
}

// WriterToaster prints toasts as lines to a writer, e.g. a terminal.
type WriterToaster struct {
	w  io.Writer
	mu sync.Mutex
}

func NewWriterToaster(w io.Writer) *WriterToaster {
	return &WriterToaster{w: w}
}

func (t *WriterToaster) Toast(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := fmt.Fprintf(t.w, "💊 %s\n", message); err != nil {
		slog.Warn("failed to write toast", "error", err)
	}
}

// LogToaster records toasts in the structured log.
type LogToaster struct{}

func (LogToaster) Toast(message string) {
	slog.Info("toast", "message", message)
}
