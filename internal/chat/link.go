package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"carechat/internal/models"
)

var (
	ErrNotConnected     = errors.New("not connected")
	ErrRetriesExhausted = errors.New("reconnection attempts exhausted")
)

// Status is the connection state of a session.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusClosed:
		return "closed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

type linkObserver interface {
	linkStatus(status Status)
	linkEvent(env models.Envelope)
}

// link owns the single relay channel of a session: it dials with a bounded
// number of fixed-delay retries, reads until the channel drops, and starts
// over. After the retries run out it stops without surfacing anything else.
type link struct {
	dialer   Dialer
	clientID string
	retries  int
	delay    time.Duration
	observer linkObserver

	mu   sync.Mutex
	conn Conn
}

func (l *link) run(ctx context.Context) {
	for {
		conn, err := l.connect(ctx)
		if err != nil {
			if ctx.Err() == nil {
				slog.Error("giving up on chat server", "client_id", l.clientID, "error", err)
			}
			return
		}

		l.setConn(conn)
		slog.Info("connected to chat server", "client_id", l.clientID)
		l.observer.linkStatus(StatusConnected)

		err = l.read(ctx, conn)

		// Closing first unblocks a write stuck on a dead socket, which holds l.mu.
		_ = conn.Close()
		l.setConn(nil)
		if ctx.Err() != nil {
			return
		}
		slog.Warn("disconnected from chat server", "client_id", l.clientID, "error", err)
		l.observer.linkStatus(StatusDisconnected)
	}
}

func (l *link) connect(ctx context.Context) (Conn, error) {
	for attempt := 0; ; attempt++ {
		l.observer.linkStatus(StatusConnecting)

		conn, err := l.dialer.Dial(ctx, l.clientID)
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("chat connection error", "event", models.EventConnectError, "client_id", l.clientID, "attempt", attempt+1, "error", err)

		if attempt >= l.retries {
			return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt+1, err)
		}

		timer := time.NewTimer(l.delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

func (l *link) read(ctx context.Context, conn Conn) error {
	// Unblock ReadJSON when the session goes away.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var env models.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return err
		}
		l.observer.linkEvent(env)
	}
}

func (l *link) setConn(conn Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conn = conn
}

// emit writes one envelope. Writes are serialised because a websocket
// allows a single concurrent writer.
func (l *link) emit(env models.Envelope) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return ErrNotConnected
	}
	return l.conn.WriteJSON(env)
}
