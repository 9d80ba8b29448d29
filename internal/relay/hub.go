package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"

	"carechat/internal/models"
)

const peerQueueSize = 100

var ErrInvalidMessage = errors.New("invalid message")

// Peer is one live connection. ID is unique per connection; ClientID is the
// caller-supplied userId and is only used for tagging.
type Peer struct {
	ID       string
	ClientID string
}

type peerState struct {
	peer Peer
	ch   chan models.Envelope
}

// Hub fans every inbound chat message out to all connected peers.
// Broadcasts run under a single lock, so every peer observes the
// relay's receipt order.
type Hub struct {
	peers   map[string]*peerState
	stamper *Stamper

	mu sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		peers:   make(map[string]*peerState),
		stamper: NewStamper(),
	}
}

func (h *Hub) Join(peer Peer) chan models.Envelope {
	h.mu.Lock()
	defer h.mu.Unlock()

	if p, ok := h.peers[peer.ID]; ok {
		return p.ch
	}

	ch := make(chan models.Envelope, peerQueueSize)
	h.peers[peer.ID] = &peerState{peer: peer, ch: ch}
	slog.Info("client connected", "client_id", peer.ClientID, "conn_id", peer.ID, "clients", len(h.peers))
	return ch
}

func (h *Hub) Leave(peerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.peers[peerID]
	if !ok {
		return
	}
	close(p.ch)
	delete(h.peers, peerID)
	slog.Info("client disconnected", "client_id", p.peer.ClientID, "conn_id", peerID, "clients", len(h.peers))
}

// Shutdown closes every peer queue, which makes their connections wind down.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, p := range h.peers {
		close(p.ch)
		delete(h.peers, id)
	}
}

func (h *Hub) Dispatch(from Peer, env models.Envelope) {
	switch env.Event {
	case models.EventMessage:
		if err := validateMessage(env.Data); err != nil {
			slog.Warn("dropping message", "client_id", from.ClientID, "error", err)
			return
		}
		h.broadcastMessage(*env.Data)
	case models.EventTyping, models.EventStopTyping:
		h.forward(from, models.Envelope{Event: env.Event, From: from.ClientID})
	default:
		slog.Debug("ignoring event", "client_id", from.ClientID, "event", env.Event)
	}
}

func (h *Hub) broadcastMessage(payload models.MessagePayload) {
	if payload.Attachments == nil {
		payload.Attachments = []models.Attachment{}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.stamper.Stamp(&payload)
	for _, p := range h.peers {
		// Each peer gets its own copy of the attachment slice.
		msg := payload
		msg.Attachments = slices.Clone(payload.Attachments)
		h.send(p, models.Envelope{Event: models.EventMessage, Data: &msg})
	}
}

func (h *Hub) forward(from Peer, env models.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, p := range h.peers {
		if id == from.ID {
			continue
		}
		h.send(p, env)
	}
}

func (h *Hub) send(p *peerState, env models.Envelope) {
	select {
	case p.ch <- env:
	default:
		slog.Warn("client queue full, dropping event", "client_id", p.peer.ClientID, "event", env.Event)
	}
}

// Clients returns the client ids of all live connections, sorted.
func (h *Hub) Clients() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids := make([]string, 0, len(h.peers))
	for _, p := range h.peers {
		ids = append(ids, p.peer.ClientID)
	}
	sort.Strings(ids)
	return ids
}

func validateMessage(p *models.MessagePayload) error {
	if p == nil {
		return fmt.Errorf("%w: missing payload", ErrInvalidMessage)
	}
	if !p.Sender.Valid() {
		return fmt.Errorf("%w: unknown sender %q", ErrInvalidMessage, p.Sender)
	}
	if strings.TrimSpace(p.Text) == "" && len(p.Attachments) == 0 {
		return fmt.Errorf("%w: empty message", ErrInvalidMessage)
	}
	for i, a := range p.Attachments {
		if !a.Type.Valid() {
			return fmt.Errorf("%w: attachment %d has unknown type %q", ErrInvalidMessage, i, a.Type)
		}
		if a.URL == "" {
			return fmt.Errorf("%w: attachment %d has no url", ErrInvalidMessage, i)
		}
	}
	return nil
}
