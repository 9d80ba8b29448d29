package models

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
)

// Sender identifies which side of the support channel wrote a message.
type Sender string

const (
	SenderUser       Sender = "user"
	SenderPharmacist Sender = "pharmacist"
)

func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderPharmacist
}

type AttachmentType string

const (
	AttachmentTypeImage    AttachmentType = "image"
	AttachmentTypeDocument AttachmentType = "document"
)

func (t AttachmentType) Valid() bool {
	return t == AttachmentTypeImage || t == AttachmentTypeDocument
}

// Attachment references file bytes that live outside the message.
// URL is either an ephemeral "blob:" reference or a durable locator
// returned by the attachment API.
type Attachment struct {
	Type AttachmentType `json:"type"`
	URL  string         `json:"url"`
	Name string         `json:"name,omitempty"`
}

// ChatMessage is an entry of a session's message log.
type ChatMessage struct {
	ID          string       `json:"id"`
	ServerID    string       `json:"serverId,omitempty"` // Relay-assigned id, empty until the echo arrives
	Text        string       `json:"text"`
	Sender      Sender       `json:"sender"`
	Timestamp   time.Time    `json:"timestamp"`
	Attachments []Attachment `json:"attachments"`
}

// Pending reports whether a locally sent message is still waiting for its relay echo.
func (m ChatMessage) Pending() bool {
	return m.ServerID == ""
}

// MessagePayload is the body of a "message" event on the wire.
// Clients fill Text, Sender, Attachments and ClientID; the relay adds ID and Timestamp.
type MessagePayload struct {
	ID          string       `json:"id,omitempty"`
	ClientID    string       `json:"clientId,omitempty"` // Correlates the relay echo with the optimistic entry
	Text        string       `json:"text"`
	Sender      Sender       `json:"sender"`
	Attachments []Attachment `json:"attachments"`
	Timestamp   string       `json:"timestamp,omitempty"` // RFC 3339
}

type EventType string

const (
	EventMessage    EventType = "message"
	EventTyping     EventType = "typing"
	EventStopTyping EventType = "stopTyping"

	// Transport lifecycle, raised locally by the client and never sent on the wire.
	EventConnect      EventType = "connect"
	EventDisconnect   EventType = "disconnect"
	EventConnectError EventType = "connect_error"
)

// Envelope is a single websocket frame in either direction.
type Envelope struct {
	Event EventType       `json:"event"`
	Data  *MessagePayload `json:"data,omitempty"`
	From  string          `json:"from,omitempty"` // Set by the relay on forwarded typing events
}

// AttachmentInfo describes an uploaded attachment.
type AttachmentInfo struct {
	ID       string         `json:"id"`
	URL      string         `json:"url"`
	Type     AttachmentType `json:"type"`
	Name     string         `json:"name,omitempty"`
	MimeType string         `json:"mimeType"`
	Size     int64          `json:"size"`
}

type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// TimestampLayout is the wire format of relay timestamps (ISO 8601, millisecond precision).
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"
