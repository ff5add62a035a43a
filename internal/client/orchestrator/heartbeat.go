package orchestrator

import (
	"context"
	"log/slog"

	"github.com/openmined/peersync/internal/syncmsg"
)

// heartbeat sends one HEARTBEAT per interval. It returns ErrConnectionDead
// after maxHeartbeatFailures sends fail in a row, or nil once ctx is done.
func (o *Orchestrator) heartbeat(ctx context.Context, stream EventStream) error {
	ticker := o.clock.NewTicker(o.cfg.HeartbeatInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			seq := o.seq.Add(1)
			if err := stream.Send(ctx, syncmsg.NewHeartbeat(o.cfg.PeerID, seq)); err != nil {
				failures++
				slog.Warn("heartbeat send failed", "seq", seq, "failures", failures, "error", err)
				if failures >= maxHeartbeatFailures {
					return ErrConnectionDead
				}
				continue
			}
			failures = 0
		}
	}
}
