package syncapi

import (
	"time"

	"github.com/openmined/peersync/internal/server/hub"
	"github.com/openmined/peersync/internal/server/metastore"
	"github.com/openmined/peersync/internal/syncmsg"
)

type RegisterRequest struct {
	PeerID   string `json:"peerId" binding:"required"`
	Name     string `json:"name" binding:"required"`
	SyncRoot string `json:"syncRoot"`
}

type RegisterResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type SyncRequest struct {
	PeerID string                `json:"peerId" binding:"required"`
	Files  []*syncmsg.FileRecord `json:"files"`
}

type PeerStatus struct {
	metastore.Peer
	Online   bool      `json:"online"`
	Addr     string    `json:"addr,omitempty"`
	LastSeen time.Time `json:"lastSeen,omitzero"`
}

func (s *PeerStatus) setLive(info hub.PeerInfo) {
	s.Online = true
	s.Addr = info.Addr
	s.LastSeen = info.LastSeen
}
