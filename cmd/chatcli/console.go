package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"carechat/internal/chat"
	"carechat/internal/models"

	"github.com/h2non/filetype"
)

const help = `Commands:
  /attach <path> [text]  send a file, optionally with text
  /focus, /blur          simulate window focus changes
  /open, /close          open or close the chat panel
  /read                  mark everything as read
  /typing                toggle the typing signal to the other party
  /notify                enable desktop notifications
  /quit                  leave`

var errQuit = errors.New("quit")

// console renders session state as terminal lines and turns input lines
// into session calls.
type console struct {
	session *chat.Session
	out     io.Writer

	printed map[string]bool
	status  chat.Status
	typing  bool
	unread  int
	sending bool
}

func newConsole(session *chat.Session, out io.Writer) *console {
	return &console{
		session: session,
		out:     out,
		printed: make(map[string]bool),
	}
}

func (c *console) render(state chat.State) {
	if state.Status != c.status {
		c.status = state.Status
		fmt.Fprintf(c.out, "-- %s\n", state.Status)
	}
	for _, m := range state.Messages {
		if c.printed[m.ID] {
			continue
		}
		c.printed[m.ID] = true
		fmt.Fprintln(c.out, formatMessage(m))
	}
	if state.IsTyping != c.typing {
		c.typing = state.IsTyping
		if c.typing {
			fmt.Fprintln(c.out, "-- pharmacist is typing...")
		}
	}
	if state.UnreadCount != c.unread {
		c.unread = state.UnreadCount
		if c.unread > 0 {
			fmt.Fprintf(c.out, "-- %d unread\n", c.unread)
		}
	}
}

func formatMessage(m models.ChatMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s", m.Timestamp.Format("15:04"), m.Sender, m.Text)
	for _, a := range m.Attachments {
		name := a.Name
		if name == "" {
			name = a.URL
		}
		fmt.Fprintf(&b, "\n    📎 %s (%s) %s", name, a.Type, a.URL)
	}
	return b.String()
}

func (c *console) handle(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		if c.sending {
			c.sending = false
			c.session.NotifyTyping(false)
		}
		c.session.SendMessage(line)
		return nil
	}

	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case "/quit":
		return errQuit
	case "/help":
		fmt.Fprintln(c.out, help)
	case "/focus":
		c.session.SetWindowFocused(true)
	case "/blur":
		c.session.SetWindowFocused(false)
	case "/open":
		c.session.OpenPanel()
	case "/close":
		c.session.ClosePanel()
	case "/read":
		c.session.MarkAsRead()
	case "/typing":
		c.sending = !c.sending
		c.session.NotifyTyping(c.sending)
	case "/notify":
		perm, err := c.session.RequestNotificationPermission(ctx)
		if err != nil {
			fmt.Fprintf(c.out, "-- notifications unavailable: %v\n", err)
			return nil
		}
		fmt.Fprintf(c.out, "-- notifications %s\n", perm)
	case "/attach":
		path, text, _ := strings.Cut(strings.TrimSpace(arg), " ")
		if path == "" {
			fmt.Fprintln(c.out, "-- usage: /attach <path> [text]")
			return nil
		}
		f, err := readFile(path)
		if err != nil {
			fmt.Fprintf(c.out, "-- %v\n", err)
			return nil
		}
		c.session.SendMessage(text, f)
	default:
		fmt.Fprintf(c.out, "-- unknown command %s, try /help\n", cmd)
	}
	return nil
}

func readFile(path string) (chat.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return chat.File{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	mediaType := mime.TypeByExtension(filepath.Ext(path))
	if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown {
		mediaType = kind.MIME.Value
	}
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}

	return chat.File{Name: filepath.Base(path), MediaType: mediaType, Data: data}, nil
}
