package journal

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies what happened on the managed channel.
type Kind string

const (
	KindOpen      Kind = "open"
	KindClose     Kind = "close"
	KindError     Kind = "error"
	KindMessage   Kind = "message"
	KindReconnect Kind = "reconnect"
	KindGiveUp    Kind = "give_up"
)

// Entry is one recorded lifecycle event or inbound message.
type Entry struct {
	ID      uuid.UUID `json:"id"`
	Session string    `json:"session"`
	Kind    Kind      `json:"kind"`
	Attempt int       `json:"attempt,omitempty"` // reconnect and give_up only
	Payload []byte    `json:"payload,omitempty"` // message only
	Error   string    `json:"error,omitempty"`   // close and error only
	At      time.Time `json:"at"`
}
