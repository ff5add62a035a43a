package hub

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
	"github.com/openmined/peersync/internal/utils"
	"github.com/openmined/peersync/internal/wsproto"
)

const (
	writeTimeout   = 20 * time.Second
	sendQueueSize  = 256
	shutdownReason = "shutdown"
)

var (
	ErrConnClosed    = errors.New("connection closed")
	ErrSendQueueFull = errors.New("send queue full")
)

// WebsocketConn is a peer connection with a bounded outbound queue drained
// by its own writer goroutine.
type WebsocketConn struct {
	ConnID   string
	PeerID   string
	Encoding wsproto.Encoding

	conn      *websocket.Conn
	msgTx     chan *syncmsg.Message
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewWebsocketConn(conn *websocket.Conn, peerID string, enc wsproto.Encoding) *WebsocketConn {
	return &WebsocketConn{
		ConnID:   utils.TokenHex(4),
		PeerID:   peerID,
		Encoding: enc,
		conn:     conn,
		msgTx:    make(chan *syncmsg.Message, sendQueueSize),
		done:     make(chan struct{}),
	}
}

func (c *WebsocketConn) Send(msg *syncmsg.Message) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.msgTx <- msg:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (c *WebsocketConn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close(websocket.StatusNormalClosure, shutdownReason)
		slog.Debug("hub conn closed", "connId", c.ConnID, "peerId", c.PeerID)
	})
}

// Serve pumps the connection until either direction fails or ctx ends.
// Every decoded message is handed to inbound.
func (c *WebsocketConn) Serve(ctx context.Context, inbound func(*syncmsg.Message)) {
	slog.Debug("hub conn start", "connId", c.ConnID, "peerId", c.PeerID, "encoding", c.Encoding)

	c.wg.Add(1)
	go c.writeLoop(ctx)
	c.readLoop(ctx, inbound)

	c.Close()
	c.wg.Wait()
}

func (c *WebsocketConn) readLoop(ctx context.Context, inbound func(*syncmsg.Message)) {
	defer slog.Debug("hub conn reader shutdown", "connId", c.ConnID)

	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				// closed by peer or by us
			} else if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusNoStatusRcvd && status != websocket.StatusGoingAway {
				slog.Warn("hub conn reader", "connId", c.ConnID, "peerId", c.PeerID, "error", err)
			}
			return
		}

		msg, _, err := wsproto.Unmarshal(typ, data)
		if err != nil {
			slog.Warn("hub conn decode", "connId", c.ConnID, "peerId", c.PeerID, "error", err)
			if err := c.Send(syncmsg.NewError(syncmsg.ErrCodeBadMessage, "", err.Error())); err != nil {
				return
			}
			continue
		}

		inbound(msg)
	}
}

func (c *WebsocketConn) writeLoop(ctx context.Context) {
	defer func() {
		slog.Debug("hub conn writer shutdown", "connId", c.ConnID)
		c.wg.Done()
		c.Close()
	}()

	for {
		select {
		case msg := <-c.msgTx:
			typ, data, err := wsproto.Marshal(msg, c.Encoding)
			if err != nil {
				slog.Error("hub conn encode", "connId", c.ConnID, "msgId", msg.ID, "msgType", msg.Type, "error", err)
				continue
			}

			ctxWrite, cancel := context.WithTimeout(ctx, writeTimeout)
			err = c.conn.Write(ctxWrite, typ, data)
			cancel()
			if err != nil {
				slog.Error("hub conn writer", "connId", c.ConnID, "msgId", msg.ID, "msgType", msg.Type, "error", err)
				return
			}
			slog.Debug("hub conn writer", "connId", c.ConnID, "msgId", msg.ID, "msgType", msg.Type)

		case <-c.done:
			return

		case <-ctx.Done():
			return
		}
	}
}
