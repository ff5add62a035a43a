package metastore

import (
	"context"
	"fmt"
	"time"
)

// Peer is a registered peer. Registration survives restarts; liveness is
// tracked separately by the hub.
type Peer struct {
	PeerID       string    `json:"peerId"`
	Name         string    `json:"name"`
	SyncRoot     string    `json:"syncRoot"`
	RegisteredAt time.Time `json:"registeredAt"`
	LastSyncAt   time.Time `json:"lastSyncAt,omitzero"`
}

type dbPeer struct {
	PeerID       string `db:"peer_id"`
	Name         string `db:"name"`
	SyncRoot     string `db:"sync_root"`
	RegisteredAt int64  `db:"registered_at"`
	LastSyncAt   int64  `db:"last_sync_at"`
}

func (p *dbPeer) toPeer() *Peer {
	peer := &Peer{
		PeerID:       p.PeerID,
		Name:         p.Name,
		SyncRoot:     p.SyncRoot,
		RegisteredAt: time.Unix(0, p.RegisteredAt).UTC(),
	}
	if p.LastSyncAt > 0 {
		peer.LastSyncAt = time.Unix(0, p.LastSyncAt).UTC()
	}
	return peer
}

// RegisterPeer inserts the peer or refreshes its name and root. The original
// registration time is kept.
func (s *Store) RegisterPeer(ctx context.Context, peerID, name, syncRoot string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO peers (peer_id, name, sync_root, registered_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(peer_id) DO UPDATE SET name = excluded.name, sync_root = excluded.sync_root`,
		peerID, name, syncRoot, s.clock.Now().UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("register peer %s: %w", peerID, err)
	}
	return nil
}

// MarkSynced records that the peer just completed a reconciliation.
func (s *Store) MarkSynced(ctx context.Context, peerID string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE peers SET last_sync_at = ? WHERE peer_id = ?",
		s.clock.Now().UTC().UnixNano(), peerID)
	if err != nil {
		return fmt.Errorf("mark synced %s: %w", peerID, err)
	}
	return nil
}

func (s *Store) ListPeers(ctx context.Context) ([]*Peer, error) {
	var rows []dbPeer
	if err := s.db.SelectContext(ctx, &rows, "SELECT peer_id, name, sync_root, registered_at, last_sync_at FROM peers ORDER BY peer_id"); err != nil {
		return nil, fmt.Errorf("list peers: %w", err)
	}
	peers := make([]*Peer, 0, len(rows))
	for i := range rows {
		peers = append(peers, rows[i].toPeer())
	}
	return peers, nil
}
