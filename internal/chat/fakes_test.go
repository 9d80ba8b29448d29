package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"carechat/internal/models"
	"carechat/internal/notify"

	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	toClient chan models.Envelope
	written  chan models.Envelope
	closed   chan struct{}
	once     sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		toClient: make(chan models.Envelope, 100),
		written:  make(chan models.Envelope, 100),
		closed:   make(chan struct{}),
	}
}

func (c *fakeConn) ReadJSON(v interface{}) error {
	select {
	case env := <-c.toClient:
		ptr, ok := v.(*models.Envelope)
		if !ok {
			return fmt.Errorf("unexpected target %T", v)
		}
		*ptr = env
		return nil
	case <-c.closed:
		return errors.New("connection closed")
	}
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	env, ok := v.(models.Envelope)
	if !ok {
		return fmt.Errorf("unexpected value %T", v)
	}
	c.written <- env
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) nextWritten(t *testing.T) models.Envelope {
	t.Helper()
	select {
	case env := <-c.written:
		return env
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for the session to write")
	}
	return models.Envelope{}
}

type fakeDialer struct {
	conns chan Conn
	err   error
	calls atomic.Int32
}

func newFakeDialer(conns ...Conn) *fakeDialer {
	d := &fakeDialer{conns: make(chan Conn, 10)}
	for _, c := range conns {
		d.conns <- c
	}
	return d
}

func (d *fakeDialer) Dial(ctx context.Context, clientID string) (Conn, error) {
	d.calls.Add(1)
	if d.err != nil {
		return nil, d.err
	}
	select {
	case c := <-d.conns:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// stallingConn never completes a write until it is closed, like a socket
// whose peer vanished without a FIN.
type stallingConn struct {
	*fakeConn
	broken  chan struct{}
	writing chan struct{}
	once    sync.Once
}

func newStallingConn() *stallingConn {
	return &stallingConn{
		fakeConn: newFakeConn(),
		broken:   make(chan struct{}),
		writing:  make(chan struct{}),
	}
}

func (c *stallingConn) ReadJSON(v interface{}) error {
	select {
	case <-c.broken:
		return errors.New("connection reset by peer")
	case <-c.closed:
		return errors.New("connection closed")
	}
}

func (c *stallingConn) WriteJSON(v interface{}) error {
	c.once.Do(func() { close(c.writing) })
	<-c.closed
	return errors.New("connection closed")
}

type fakeDesktop struct {
	mu         sync.Mutex
	permission notify.Permission
	requests   int
	shown      []string
}

func (d *fakeDesktop) Permission() notify.Permission {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.permission
}

func (d *fakeDesktop) RequestPermission(ctx context.Context) (notify.Permission, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests++
	d.permission = notify.PermissionGranted
	return d.permission, nil
}

func (d *fakeDesktop) Show(ctx context.Context, title, body string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shown = append(d.shown, title+": "+body)
	return nil
}

func (d *fakeDesktop) snapshot() (int, []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requests, append([]string(nil), d.shown...)
}

type countingToaster struct {
	count atomic.Int32
}

func (t *countingToaster) Toast(string) {
	t.count.Add(1)
}

type fakeUploader struct {
	mu    sync.Mutex
	files []File
	fail  map[string]bool
}

func (u *fakeUploader) Upload(ctx context.Context, clientID string, f File) (models.Attachment, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.fail[f.Name] {
		return models.Attachment{}, errors.New("upload failed")
	}
	u.files = append(u.files, f)
	kind := models.AttachmentTypeDocument
	if f.MediaType == "image/png" {
		kind = models.AttachmentTypeImage
	}
	return models.Attachment{Type: kind, URL: "https://relay.example/api/attachments/" + f.Name, Name: f.Name}, nil
}

// startSession starts a session on a fake relay channel and waits until it is connected.
func startSession(t *testing.T, opts Options) (*Session, *fakeConn, *fakeDialer) {
	t.Helper()
	conn := newFakeConn()
	dialer := newFakeDialer(conn)
	s := New(dialer, opts)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	waitStatus(t, s, StatusConnected)
	return s, conn, dialer
}

func waitStatus(t *testing.T, s *Session, status Status) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Snapshot().Status == status },
		time.Second, 5*time.Millisecond, "expected status %s, got %s", status, s.Snapshot().Status)
}

func relayEcho(out models.Envelope, id string) models.Envelope {
	data := *out.Data
	data.ID = id
	data.Timestamp = time.Now().UTC().Format(models.TimestampLayout)
	if data.Attachments == nil {
		data.Attachments = []models.Attachment{}
	}
	return models.Envelope{Event: models.EventMessage, Data: &data}
}

func inbound(id, text string) models.Envelope {
	return models.Envelope{
		Event: models.EventMessage,
		Data: &models.MessagePayload{
			ID:          id,
			Text:        text,
			Sender:      models.SenderPharmacist,
			Attachments: []models.Attachment{},
			Timestamp:   time.Now().UTC().Format(models.TimestampLayout),
		},
	}
}
