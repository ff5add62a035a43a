package syncmsg

import "fmt"

type MessageType uint16

const (
	MsgConnect MessageType = iota
	MsgHeartbeat
	MsgFileChanged
	MsgError
	MsgPeerJoined
	MsgPeerLeft
)

func (t MessageType) String() string {
	switch t {
	case MsgConnect:
		return "CONNECT"
	case MsgHeartbeat:
		return "HEARTBEAT"
	case MsgFileChanged:
		return "FILE_CHANGED"
	case MsgError:
		return "ERROR"
	case MsgPeerJoined:
		return "PEER_JOINED"
	case MsgPeerLeft:
		return "PEER_LEFT"
	default:
		return fmt.Sprintf("???(%d)", t)
	}
}

// NewPayload returns an empty payload for t, ready to be decoded into.
// This is the single place that maps a wire tag to its variant.
func NewPayload(t MessageType) (Payload, error) {
	switch t {
	case MsgConnect:
		return &Connect{}, nil
	case MsgHeartbeat:
		return &Heartbeat{}, nil
	case MsgFileChanged:
		return &FileChanged{}, nil
	case MsgError:
		return &Error{}, nil
	case MsgPeerJoined:
		return &PeerJoined{}, nil
	case MsgPeerLeft:
		return &PeerLeft{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessageType, t)
	}
}
