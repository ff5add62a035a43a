package syncmsg

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// CoordinatorID is the origin used for messages produced by the coordinator itself.
const CoordinatorID = "coordinator"

var (
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrInvalidMessage     = errors.New("invalid message")
)

// Payload is implemented only by the variants in this package.
type Payload interface {
	messageType() MessageType
}

type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"typ"`
	Origin    string      `json:"org"`
	Timestamp time.Time   `json:"ts"`
	Data      Payload     `json:"dat"`
}

func newMessage(origin string, data Payload) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Type:      data.messageType(),
		Origin:    origin,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Validate checks the envelope against its payload.
func (m *Message) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil", ErrInvalidMessage)
	}
	if m.Data == nil {
		return fmt.Errorf("%w: %s without payload", ErrInvalidMessage, m.Type)
	}
	if m.Data.messageType() != m.Type {
		return fmt.Errorf("%w: tag %s carries %T", ErrInvalidMessage, m.Type, m.Data)
	}
	if m.Origin == "" {
		return fmt.Errorf("%w: missing origin", ErrInvalidMessage)
	}

	switch data := m.Data.(type) {
	case *Connect:
		if data.PeerID == "" {
			return fmt.Errorf("%w: connect without peer id", ErrInvalidMessage)
		}
	case *FileChanged:
		if !data.Operation.Valid() {
			return fmt.Errorf("%w: operation %q", ErrInvalidMessage, data.Operation)
		}
		if data.Record.Path == "" {
			return fmt.Errorf("%w: file change without path", ErrInvalidMessage)
		}
		if data.Operation == OpMove && data.OldPath == "" {
			return fmt.Errorf("%w: move without old path", ErrInvalidMessage)
		}
	case *Heartbeat, *Error, *PeerJoined, *PeerLeft:
	}
	return nil
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var temp struct {
		ID        string          `json:"id"`
		Type      MessageType     `json:"typ"`
		Origin    string          `json:"org"`
		Timestamp time.Time       `json:"ts"`
		Data      json.RawMessage `json:"dat"`
	}
	if err := json.Unmarshal(data, &temp); err != nil {
		return err
	}

	payload, err := NewPayload(temp.Type)
	if err != nil {
		return err
	}
	if len(temp.Data) > 0 && string(temp.Data) != "null" {
		if err := json.Unmarshal(temp.Data, payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", temp.Type, err)
		}
	}

	m.ID = temp.ID
	m.Type = temp.Type
	m.Origin = temp.Origin
	m.Timestamp = temp.Timestamp
	m.Data = payload
	return nil
}

func (m *Message) String() string {
	return fmt.Sprintf("%s(%s from %s)", m.Type, m.ID, m.Origin)
}
