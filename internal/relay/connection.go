package relay

import (
	"context"
	"errors"
	"sync"

	"carechat/internal/models"
)

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

type messageHub interface {
	Join(peer Peer) chan models.Envelope
	Leave(peerID string)
	Dispatch(from Peer, env models.Envelope)
}

// Connection pumps frames between one websocket and the hub until either
// side fails or the context is cancelled.
type Connection struct {
	ws         wsConnection
	hub        messageHub
	peer       Peer
	fromClient chan models.Envelope
	fromServer chan models.Envelope
	errorCh    chan error
}

func NewConnection(
	hub messageHub,
	ws wsConnection,
	peer Peer,
) *Connection {
	return &Connection{
		ws:         ws,
		hub:        hub,
		peer:       peer,
		fromClient: make(chan models.Envelope),
		fromServer: hub.Join(peer),
		errorCh:    make(chan error, 2),
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		close(c.fromClient)
		close(c.errorCh)
		c.hub.Leave(c.peer.ID)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpMessages(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	_ = c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpMessages(ctx context.Context) error {
	for {
		var env models.Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			return err
		}
		select {
		case c.fromClient <- env:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case env := <-c.fromClient:
			c.hub.Dispatch(c.peer, env)
		case env, ok := <-c.fromServer:
			if !ok {
				// Hub shut down or dropped us.
				return nil
			}
			if err := c.ws.WriteJSON(env); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}
