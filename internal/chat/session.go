package chat

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"carechat/internal/content"
	"carechat/internal/models"
	"carechat/internal/notify"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
)

const (
	DefaultReconnectAttempts = 5
	DefaultReconnectDelay    = time.Second
	DefaultTypingPulse       = 1500 * time.Millisecond
	DefaultTypingTimeout     = 5 * time.Second
	DefaultPendingTTL        = time.Minute

	outboxSize          = 256
	notificationTitle   = "New Message"
	toastMessage        = "New message received"
	previewLength       = 120
	notificationTimeout = 10 * time.Second
)

var (
	ErrClosed                   = errors.New("chat session closed")
	ErrNotificationsUnavailable = errors.New("desktop notifications are not configured")
)

type Options struct {
	// ClientID is sent to the relay as userId. A random one is generated when empty.
	ClientID string
	// Role is the sender value of locally written messages.
	Role models.Sender

	// ReconnectAttempts is the number of retries after a failed dial.
	// Zero means DefaultReconnectAttempts, negative disables retries.
	ReconnectAttempts int
	ReconnectDelay    time.Duration

	// KeepEchoDuplicates turns off reconciliation: the relay's copy of a
	// message this session sent is appended as a second entry.
	KeepEchoDuplicates bool
	// PendingTTL bounds how long an optimistic entry waits for its echo.
	PendingTTL time.Duration

	// SimulateTyping pulses IsTyping after every send. Demo environments only.
	SimulateTyping bool
	TypingPulse    time.Duration
	// TypingTimeout clears a remote typing signal that is never followed by
	// stopTyping, e.g. when the other party drops off.
	TypingTimeout time.Duration

	Uploader Uploader
	Desktop  notify.Desktop
	Toaster  notify.Toaster
}

func (o *Options) setDefaults() {
	if o.ClientID == "" {
		o.ClientID = content.NewClientID()
	}
	if o.Role == "" {
		o.Role = models.SenderUser
	}
	switch {
	case o.ReconnectAttempts == 0:
		o.ReconnectAttempts = DefaultReconnectAttempts
	case o.ReconnectAttempts < 0:
		o.ReconnectAttempts = 0
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.PendingTTL <= 0 {
		o.PendingTTL = DefaultPendingTTL
	}
	if o.TypingPulse <= 0 {
		o.TypingPulse = DefaultTypingPulse
	}
	if o.TypingTimeout <= 0 {
		o.TypingTimeout = DefaultTypingTimeout
	}
}

// State is a point-in-time copy of a session.
type State struct {
	Status        Status
	Connected     bool
	Messages      []models.ChatMessage
	UnreadCount   int
	IsTyping      bool
	WindowFocused bool
	PanelOpen     bool
}

type outgoing struct {
	id    string
	text  string
	files []File
	local []models.Attachment
}

// Session is the client side of the support chat. It owns exactly one relay
// channel between Start and Close, keeps the message log in arrival order and
// tracks unread and typing indicators.
type Session struct {
	opts   Options
	dialer Dialer
	now    func() time.Time

	mu          sync.Mutex
	status      Status
	messages    []models.ChatMessage
	unread      int
	typing      bool
	focused     bool
	panelOpen   bool
	started     bool
	closed      bool
	typingTimer *time.Timer
	blobs       map[string]File
	pending     geche.Geche[string, struct{}]

	link    *link
	outbox  chan outgoing
	updates chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(dialer Dialer, opts Options) *Session {
	opts.setDefaults()
	return &Session{
		opts:    opts,
		dialer:  dialer,
		now:     time.Now,
		status:  StatusDisconnected,
		focused: true,
		blobs:   make(map[string]File),
		outbox:  make(chan outgoing, outboxSize),
		updates: make(chan struct{}, 1),
	}
}

func (s *Session) ClientID() string {
	return s.opts.ClientID
}

// Start opens the relay channel. Calling it on a running session is a no-op,
// so a session never holds more than one channel.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.started {
		return nil
	}
	s.started = true

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.pending = geche.NewMapTTLCache[string, struct{}](s.ctx, s.opts.PendingTTL, s.opts.PendingTTL)
	s.link = &link{
		dialer:   s.dialer,
		clientID: s.opts.ClientID,
		retries:  s.opts.ReconnectAttempts,
		delay:    s.opts.ReconnectDelay,
		observer: s,
	}

	s.wg.Go(func() { s.link.run(s.ctx) })
	s.wg.Go(func() { s.runOutbox(s.ctx) })
	return nil
}

// Close tears the session down from any state: the channel is closed, timers
// stop and every goroutine exits before it returns. It is safe to call twice.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.status = StatusClosed
	s.typing = false
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	clear(s.blobs)
	s.signalLocked()
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	s.mu.Lock()
	close(s.updates)
	s.mu.Unlock()
	return nil
}

// Updates signals state changes. Signals coalesce; read Snapshot after each one.
// The channel is closed by Close.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages := make([]models.ChatMessage, len(s.messages))
	for i, m := range s.messages {
		m.Attachments = slices.Clone(m.Attachments)
		messages[i] = m
	}
	return State{
		Status:        s.status,
		Connected:     s.status == StatusConnected,
		Messages:      messages,
		UnreadCount:   s.unread,
		IsTyping:      s.typing,
		WindowFocused: s.focused,
		PanelOpen:     s.panelOpen,
	}
}

// SendMessage appends the message to the log right away and queues it for
// the relay. It does nothing when both text and files are empty or when the
// session has no channel. The returned bool reports whether it was queued.
// Delivery problems are logged, never returned.
func (s *Session) SendMessage(text string, files ...File) (models.ChatMessage, bool) {
	if strings.TrimSpace(text) == "" && len(files) == 0 {
		return models.ChatMessage{}, false
	}

	s.mu.Lock()
	if !s.activeLocked() {
		s.mu.Unlock()
		slog.Debug("dropping message, no active channel", "client_id", s.opts.ClientID)
		return models.ChatMessage{}, false
	}

	local := make([]models.Attachment, len(files))
	for i, f := range files {
		local[i] = localAttachment(f)
		s.blobs[local[i].URL] = f
	}

	msg := models.ChatMessage{
		ID:          uuid.Must(uuid.NewV7()).String(),
		Text:        text,
		Sender:      s.opts.Role,
		Timestamp:   s.now(),
		Attachments: local,
	}
	s.messages = append(s.messages, msg)
	if !s.opts.KeepEchoDuplicates {
		s.pending.Set(msg.ID, struct{}{})
	}
	if s.opts.SimulateTyping {
		s.pulseTypingLocked(s.opts.TypingPulse)
	}

	out := outgoing{id: msg.ID, text: text, files: files, local: slices.Clone(local)}
	select {
	case s.outbox <- out:
	default:
		slog.Warn("outbox full, message will not reach the relay", "client_id", s.opts.ClientID, "message_id", msg.ID)
	}
	s.signalLocked()
	s.mu.Unlock()

	msg.Attachments = slices.Clone(local)
	return msg, true
}

// MarkAsRead resets the unread counter.
func (s *Session) MarkAsRead() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unread != 0 {
		s.unread = 0
		s.signalLocked()
	}
}

func (s *Session) OpenPanel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panelOpen = true
	s.unread = 0
	s.signalLocked()
}

func (s *Session) ClosePanel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panelOpen = false
	s.signalLocked()
}

// SetWindowFocused records focus and blur. Regaining focus while the panel is
// open marks everything as read.
func (s *Session) SetWindowFocused(focused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.focused = focused
	if focused && s.panelOpen {
		s.unread = 0
	}
	s.signalLocked()
}

func (s *Session) SetIsTyping(typing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setTypingLocked(typing)
}

// NotifyTyping tells the other party that the local user started or
// stopped typing.
func (s *Session) NotifyTyping(typing bool) {
	s.mu.Lock()
	active := s.activeLocked()
	l := s.link
	s.mu.Unlock()
	if !active {
		return
	}

	event := models.EventStopTyping
	if typing {
		event = models.EventTyping
	}
	if err := l.emit(models.Envelope{Event: event}); err != nil {
		slog.Debug("typing signal not sent", "client_id", s.opts.ClientID, "error", err)
	}
}

// RequestNotificationPermission asks for desktop notification permission.
// Call it only in response to an explicit user action.
func (s *Session) RequestNotificationPermission(ctx context.Context) (notify.Permission, error) {
	if s.opts.Desktop == nil {
		return notify.PermissionDenied, ErrNotificationsUnavailable
	}
	return s.opts.Desktop.RequestPermission(ctx)
}

// ResolveAttachment returns the bytes behind an ephemeral attachment reference.
func (s *Session) ResolveAttachment(locator string) (File, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.blobs[locator]
	return f, ok
}

func (s *Session) linkStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.status == status {
		return
	}
	s.status = status
	if status != StatusConnected {
		s.setTypingLocked(false)
	}
	s.signalLocked()
}

func (s *Session) linkEvent(env models.Envelope) {
	switch env.Event {
	case models.EventMessage:
		s.receiveMessage(env.Data)
	case models.EventTyping:
		s.mu.Lock()
		s.pulseTypingLocked(s.opts.TypingTimeout)
		s.mu.Unlock()
	case models.EventStopTyping:
		s.SetIsTyping(false)
	default:
		slog.Debug("ignoring relay event", "client_id", s.opts.ClientID, "event", env.Event)
	}
}

func (s *Session) receiveMessage(p *models.MessagePayload) {
	if p == nil {
		return
	}

	ts, err := time.Parse(time.RFC3339Nano, p.Timestamp)
	if err != nil {
		slog.Debug("message without valid timestamp", "client_id", s.opts.ClientID, "timestamp", p.Timestamp)
		ts = s.now()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	if !s.opts.KeepEchoDuplicates && p.ClientID != "" && s.reconcileLocked(p) {
		s.signalLocked()
		s.mu.Unlock()
		return
	}

	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}
	attachments := slices.Clone(p.Attachments)
	if attachments == nil {
		attachments = []models.Attachment{}
	}
	msg := models.ChatMessage{
		ID:          id,
		ServerID:    p.ID,
		Text:        p.Text,
		Sender:      p.Sender,
		Timestamp:   ts.Local(),
		Attachments: attachments,
	}
	s.messages = append(s.messages, msg)

	unseen := !s.focused
	if unseen {
		s.unread++
	}
	s.signalLocked()
	s.mu.Unlock()

	if unseen {
		s.notify(msg)
	}
}

// reconcileLocked folds the relay's copy of a message this session sent into
// the optimistic entry. The entry keeps its id, position and local timestamp.
func (s *Session) reconcileLocked(p *models.MessagePayload) bool {
	if _, err := s.pending.Get(p.ClientID); err != nil {
		return false
	}
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].ID != p.ClientID {
			continue
		}
		s.messages[i].ServerID = p.ID
		if p.Attachments != nil {
			s.messages[i].Attachments = slices.Clone(p.Attachments)
		}
		_ = s.pending.Del(p.ClientID)
		return true
	}
	return false
}

func (s *Session) notify(msg models.ChatMessage) {
	if d := s.opts.Desktop; d != nil && d.Permission() == notify.PermissionGranted {
		body := content.Preview(msg.Text, previewLength)
		s.mu.Lock()
		if !s.closed {
			s.wg.Go(func() {
				ctx, cancel := context.WithTimeout(s.ctx, notificationTimeout)
				defer cancel()
				if err := d.Show(ctx, notificationTitle, body); err != nil {
					slog.Warn("desktop notification failed", "client_id", s.opts.ClientID, "error", err)
				}
			})
		}
		s.mu.Unlock()
	}
	if s.opts.Toaster != nil {
		s.opts.Toaster.Toast(toastMessage)
	}
}

func (s *Session) runOutbox(ctx context.Context) {
	for {
		select {
		case out := <-s.outbox:
			s.deliver(ctx, out)
		case <-ctx.Done():
			return
		}
	}
}

// deliver runs the upload phase for attachments, then emits the message.
// Failed uploads keep their ephemeral reference.
func (s *Session) deliver(ctx context.Context, out outgoing) {
	attachments := out.local
	if s.opts.Uploader != nil && len(out.files) > 0 {
		uploaded := false
		for i, f := range out.files {
			a, err := s.opts.Uploader.Upload(ctx, s.opts.ClientID, f)
			if err != nil {
				slog.Warn("attachment upload failed", "client_id", s.opts.ClientID, "name", f.Name, "error", err)
				continue
			}
			attachments[i] = a
			uploaded = true
		}
		if uploaded {
			s.replaceAttachments(out.id, attachments)
		}
	}

	err := s.link.emit(models.Envelope{
		Event: models.EventMessage,
		Data: &models.MessagePayload{
			ClientID:    out.id,
			Text:        out.text,
			Sender:      s.opts.Role,
			Attachments: attachments,
		},
	})
	if err != nil {
		slog.Warn("message not delivered to relay", "client_id", s.opts.ClientID, "message_id", out.id, "error", err)
	}
}

func (s *Session) replaceAttachments(id string, attachments []models.Attachment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].ID == id {
			s.messages[i].Attachments = slices.Clone(attachments)
			s.signalLocked()
			return
		}
	}
}

// pulseTypingLocked raises the typing flag for d. A later pulse restarts it.
func (s *Session) pulseTypingLocked(d time.Duration) {
	if s.closed {
		return
	}
	s.setTypingLocked(true)

	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		// A newer pulse or an explicit setter owns the flag now.
		if s.typingTimer != t {
			return
		}
		s.setTypingLocked(false)
	})
	s.typingTimer = t
}

func (s *Session) setTypingLocked(typing bool) {
	if s.closed {
		return
	}
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	if s.typing != typing {
		s.typing = typing
		s.signalLocked()
	}
}

func (s *Session) activeLocked() bool {
	return s.started && !s.closed
}

func (s *Session) signalLocked() {
	if s.closed {
		return
	}
	select {
	case s.updates <- struct{}{}:
	default:
	}
}
