package hub

import (
	"time"

	"github.com/openmined/peersync/internal/syncmsg"
)

// Conn is the outbound half of a peer connection as seen by the hub.
// Send must not block; a full or closed connection reports an error.
type Conn interface {
	Send(msg *syncmsg.Message) error
	Close()
}

// PeerSession is owned by the hub goroutine and never handed out.
type PeerSession struct {
	PeerID      string
	Name        string
	SyncRoot    string
	Addr        string
	ConnectedAt time.Time
	LastSeen    time.Time

	conn Conn
}

// PeerInfo is a point in time copy of a PeerSession.
type PeerInfo struct {
	PeerID      string    `json:"peerId"`
	Name        string    `json:"name"`
	SyncRoot    string    `json:"syncRoot"`
	Addr        string    `json:"addr"`
	ConnectedAt time.Time `json:"connectedAt"`
	LastSeen    time.Time `json:"lastSeen"`
}

func (s *PeerSession) info() PeerInfo {
	return PeerInfo{
		PeerID:      s.PeerID,
		Name:        s.Name,
		SyncRoot:    s.SyncRoot,
		Addr:        s.Addr,
		ConnectedAt: s.ConnectedAt,
		LastSeen:    s.LastSeen,
	}
}
