package wsproto

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"
	"github.com/openmined/peersync/internal/syncmsg"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	HeaderEncodings = "X-Sync-WS-Encodings"
	HeaderEncoding  = "X-Sync-WS-Encoding"
)

// Encoding selects the wire format of websocket frames.
type Encoding uint8

const (
	EncodingJSON Encoding = iota
	EncodingMsgPack
)

func (e Encoding) String() string {
	switch e {
	case EncodingMsgPack:
		return "msgpack"
	default:
		return "json"
	}
}

const (
	magic0  = byte('P')
	magic1  = byte('S')
	version = byte(1)
)

var ErrBadEnvelope = errors.New("binary frame missing envelope")

// PreferredEncoding picks the first known entry of a comma separated list
// such as "msgpack,json". Unknown or empty lists fall back to JSON.
func PreferredEncoding(list string) Encoding {
	for _, p := range strings.Split(list, ",") {
		switch strings.ToLower(strings.TrimSpace(p)) {
		case "msgpack":
			return EncodingMsgPack
		case "json":
			return EncodingJSON
		}
	}
	return EncodingJSON
}

// Marshal encodes msg for the wire. JSON goes out as a text frame, msgpack as
// a binary frame prefixed with [magic][magic][version][encoding].
func Marshal(msg *syncmsg.Message, enc Encoding) (websocket.MessageType, []byte, error) {
	if enc == EncodingJSON {
		data, err := json.Marshal(msg)
		return websocket.MessageText, data, err
	}

	payload, err := marshalMsgpack(msg)
	if err != nil {
		return websocket.MessageBinary, nil, err
	}

	buf := make([]byte, 4+len(payload))
	buf[0], buf[1], buf[2], buf[3] = magic0, magic1, version, byte(enc)
	copy(buf[4:], payload)
	return websocket.MessageBinary, buf, nil
}

// Unmarshal decodes a frame and reports the encoding it arrived in.
func Unmarshal(typ websocket.MessageType, data []byte) (*syncmsg.Message, Encoding, error) {
	switch typ {
	case websocket.MessageText:
		var msg syncmsg.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, EncodingJSON, err
		}
		return &msg, EncodingJSON, nil

	case websocket.MessageBinary:
		if len(data) < 4 || data[0] != magic0 || data[1] != magic1 {
			return nil, EncodingMsgPack, ErrBadEnvelope
		}
		if data[2] != version {
			return nil, EncodingMsgPack, fmt.Errorf("unsupported envelope version: %d", data[2])
		}
		enc := Encoding(data[3])
		switch enc {
		case EncodingMsgPack:
			msg, err := unmarshalMsgpack(data[4:])
			return msg, enc, err
		case EncodingJSON:
			var msg syncmsg.Message
			if err := json.Unmarshal(data[4:], &msg); err != nil {
				return nil, enc, err
			}
			return &msg, enc, nil
		default:
			return nil, enc, fmt.Errorf("unknown encoding: %d", enc)
		}

	default:
		return nil, EncodingJSON, fmt.Errorf("unsupported websocket message type: %v", typ)
	}
}

type wireMessage struct {
	ID        string              `msgpack:"id"`
	Type      syncmsg.MessageType `msgpack:"typ"`
	Origin    string              `msgpack:"org"`
	Timestamp time.Time           `msgpack:"ts"`
	Data      []byte              `msgpack:"dat"`
}

func marshalMsgpack(msg *syncmsg.Message) ([]byte, error) {
	if msg.Data == nil {
		return nil, fmt.Errorf("%s: nil payload", msg.Type)
	}
	dat, err := msgpack.Marshal(msg.Data)
	if err != nil {
		return nil, fmt.Errorf("%s payload: %w", msg.Type, err)
	}

	return msgpack.Marshal(&wireMessage{
		ID:        msg.ID,
		Type:      msg.Type,
		Origin:    msg.Origin,
		Timestamp: msg.Timestamp,
		Data:      dat,
	})
}

func unmarshalMsgpack(payload []byte) (*syncmsg.Message, error) {
	var w wireMessage
	if err := msgpack.Unmarshal(payload, &w); err != nil {
		return nil, err
	}

	data, err := syncmsg.NewPayload(w.Type)
	if err != nil {
		return nil, err
	}
	if err := msgpack.Unmarshal(w.Data, data); err != nil {
		return nil, fmt.Errorf("%s payload: %w", w.Type, err)
	}

	return &syncmsg.Message{
		ID:        w.ID,
		Type:      w.Type,
		Origin:    w.Origin,
		Timestamp: w.Timestamp,
		Data:      data,
	}, nil
}
