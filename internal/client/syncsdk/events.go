package syncsdk

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"
	"github.com/openmined/peersync/internal/wsproto"
)

const (
	eventsPath             = "/api/v1/events"
	wsClientMaxMessageSize = 1 << 20 // 1MB
	wsAcceptEncodings      = "msgpack,json"
)

// EventsAPI opens realtime connections to the coordinator. Reconnecting is
// the caller's decision; every Dial yields a fresh connection.
type EventsAPI struct {
	baseURL string
	peerID  string
}

func newEventsAPI(baseURL, peerID string) *EventsAPI {
	return &EventsAPI{baseURL: baseURL, peerID: peerID}
}

func (e *EventsAPI) Dial(ctx context.Context) (*EventsConn, error) {
	wsURL, err := e.fullURL()
	if err != nil {
		return nil, fmt.Errorf("sdk: events: %w", err)
	}

	headers := http.Header{}
	headers.Set(HeaderUserAgent, UserAgent)
	headers.Set(wsproto.HeaderEncodings, wsAcceptEncodings)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return nil, fmt.Errorf("sdk: events: failed to connect to %s: %w", wsURL, err)
	}
	conn.SetReadLimit(wsClientMaxMessageSize)

	enc := wsproto.EncodingJSON
	if resp != nil {
		enc = wsproto.PreferredEncoding(resp.Header.Get(wsproto.HeaderEncoding))
	}

	c := newEventsConn(conn, enc)
	c.start(ctx)
	slog.Info("events connected", "url", wsURL, "encoding", enc)
	return c, nil
}

func (e *EventsAPI) fullURL() (string, error) {
	base, err := url.JoinPath(e.baseURL, eventsPath)
	if err != nil {
		return "", fmt.Errorf("failed to join path: %w", err)
	}
	q := url.Values{}
	q.Set("peerId", e.peerID)
	return toWebsocketURL(base + "?" + q.Encode()), nil
}

func toWebsocketURL(u string) string {
	if strings.HasPrefix(u, "https://") {
		return "wss://" + u[len("https://"):]
	} else if strings.HasPrefix(u, "http://") {
		return "ws://" + u[len("http://"):]
	}
	return u
}
