package syncsdk

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/openmined/peersync/internal/syncmsg"
	"github.com/openmined/peersync/internal/wsproto"
)

const (
	wsClientChannelSize  = 256
	wsClientPingPeriod   = 15 * time.Second
	wsClientPingTimeout  = 5 * time.Second
	wsClientWriteTimeout = 5 * time.Second
)

// EventsConn is one realtime connection. Reads are delivered on Messages;
// writes go straight to the socket so the caller sees every send failure.
type EventsConn struct {
	conn      *websocket.Conn
	encoding  wsproto.Encoding
	msgRx     chan *syncmsg.Message
	closed    chan struct{}
	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newEventsConn(conn *websocket.Conn, enc wsproto.Encoding) *EventsConn {
	return &EventsConn{
		conn:     conn,
		encoding: enc,
		msgRx:    make(chan *syncmsg.Message, wsClientChannelSize),
		closed:   make(chan struct{}),
		closing:  make(chan struct{}),
	}
}

func (c *EventsConn) start(ctx context.Context) {
	// the dial context may be short lived
	ctx = context.WithoutCancel(ctx)
	c.wg.Add(2)
	go c.readLoop(ctx)
	go c.pingLoop(ctx)
}

func (c *EventsConn) Encoding() wsproto.Encoding {
	return c.encoding
}

func (c *EventsConn) Messages() <-chan *syncmsg.Message {
	return c.msgRx
}

// Done is closed once the connection is gone, for whatever reason.
func (c *EventsConn) Done() <-chan struct{} {
	return c.closed
}

func (c *EventsConn) Send(ctx context.Context, msg *syncmsg.Message) error {
	select {
	case <-c.closing:
		return ErrEventsNotConnected
	default:
	}

	typ, payload, err := wsproto.Marshal(msg, c.encoding)
	if err != nil {
		return err
	}

	ctxWrite, cancel := context.WithTimeout(ctx, wsClientWriteTimeout)
	defer cancel()
	if err := c.conn.Write(ctxWrite, typ, payload); err != nil {
		return err
	}

	slog.Debug("socket SEND", "id", msg.ID, "type", msg.Type)
	return nil
}

func (c *EventsConn) Close() {
	c.closeConnection(websocket.StatusNormalClosure, "shutdown")
	<-c.closed
}

func (c *EventsConn) closeConnection(status websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.closing)
		go func() {
			c.conn.Close(status, reason)
			c.wg.Wait()
			close(c.msgRx)
			close(c.closed)
		}()
	})
}

func (c *EventsConn) readLoop(ctx context.Context) {
	defer func() {
		slog.Debug("socket reader shutdown")
		c.wg.Done()
		c.closeConnection(websocket.StatusNormalClosure, "shutdown")
	}()

	for {
		typ, raw, err := c.conn.Read(ctx)
		if err != nil {
			if !isWSExpectedCloseError(err) {
				slog.Warn("socket RECV", "error", err)
			}
			return
		}

		msg, _, err := wsproto.Unmarshal(typ, raw)
		if err != nil {
			slog.Warn("socket RECV decode", "error", err)
			continue
		}

		select {
		case <-c.closing:
			return
		case c.msgRx <- msg:
		}
	}
}

func (c *EventsConn) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(wsClientPingPeriod)
	defer func() {
		ticker.Stop()
		c.wg.Done()
	}()

	for {
		select {
		case <-c.closing:
			return
		case <-ticker.C:
			ctxPing, cancel := context.WithTimeout(ctx, wsClientPingTimeout)
			err := c.conn.Ping(ctxPing)
			cancel()
			if err != nil {
				slog.Warn("socket PING", "error", err)
				c.closeConnection(websocket.StatusGoingAway, "ping failed")
				return
			}
		}
	}
}

func isWSExpectedCloseError(err error) bool {
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, net.ErrClosed)
}
