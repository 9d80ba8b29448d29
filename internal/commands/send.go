package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"carechat/internal/chat"
	"carechat/internal/config"
	"carechat/internal/models"
)

var ErrNotDelivered = errors.New("message was not confirmed by the relay")

// Send connects to the relay, sends one message and waits until the relay
// echoes it back, or until timeout.
func Send(ctx context.Context, cfg *config.ClientConfig, text string, out io.Writer, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := SessionOptions(cfg)
	opts.KeepEchoDuplicates = false
	opts.SimulateTyping = false
	session := chat.New(chat.NewWebsocketDialer(cfg.RelayURL), opts)
	if err := session.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = session.Close() }()

	if err := waitFor(ctx, session, func(s chat.State) bool { return s.Connected }); err != nil {
		return fmt.Errorf("failed to connect to %s: %w. Is the relay running?", cfg.RelayURL, err)
	}

	msg, ok := session.SendMessage(text)
	if !ok {
		return fmt.Errorf("nothing to send")
	}

	var delivered models.ChatMessage
	err := waitFor(ctx, session, func(s chat.State) bool {
		for _, m := range s.Messages {
			if m.ID == msg.ID && !m.Pending() {
				delivered = m
				return true
			}
		}
		return false
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotDelivered, err)
	}

	fmt.Fprintf(out, "Message sent\n")
	fmt.Fprintf(out, "Relay ID:   %s\n", delivered.ServerID)
	fmt.Fprintf(out, "Sender:     %s\n", delivered.Sender)
	fmt.Fprintf(out, "Client ID:  %s\n", session.ClientID())
	return nil
}

func waitFor(ctx context.Context, session *chat.Session, cond func(chat.State) bool) error {
	for {
		if cond(session.Snapshot()) {
			return nil
		}
		select {
		case _, ok := <-session.Updates():
			if !ok {
				return chat.ErrClosed
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
