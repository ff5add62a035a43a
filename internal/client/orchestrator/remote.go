package orchestrator

import (
	"context"
	"log/slog"

	"github.com/openmined/peersync/internal/syncmsg"
)

// OnRemoteNotification applies a message from the coordinator. Changes that
// originated here are dropped so they never loop back.
func (o *Orchestrator) OnRemoteNotification(ctx context.Context, msg *syncmsg.Message) {
	switch data := msg.Data.(type) {
	case *syncmsg.FileChanged:
		ev, _ := msg.ChangeEvent()
		if err := o.applyRemote(ctx, ev); err != nil {
			slog.Warn("sync remote change failed", "op", ev.Operation, "path", ev.Path(), "origin", ev.OriginPeerID, "error", err)
		}
	case *syncmsg.PeerJoined:
		slog.Info("peer joined", "peerId", data.PeerID, "name", data.Name)
	case *syncmsg.PeerLeft:
		slog.Info("peer left", "peerId", data.PeerID, "reason", data.Reason)
	case *syncmsg.Error:
		slog.Warn("coordinator error", "code", data.Code, "path", data.Path, "message", data.Message)
	case *syncmsg.Heartbeat:
		slog.Debug("heartbeat ack", "seq", data.Seq)
	case *syncmsg.Connect:
		slog.Debug("connect ack", "peerId", data.PeerID)
	}
}

func (o *Orchestrator) applyRemote(ctx context.Context, ev syncmsg.ChangeEvent) error {
	if ev.OriginPeerID == o.cfg.PeerID {
		slog.Debug("sync echo dropped", "op", ev.Operation, "path", ev.Path())
		return nil
	}

	rel := ev.Path()
	if o.watcher.ShouldIgnore(rel) {
		return nil
	}

	switch ev.Operation {
	case syncmsg.OpCreate, syncmsg.OpUpdate:
		if ev.Record.IsDirectory {
			return nil
		}
		_, err := o.pull(ctx, ev.Record)
		return err

	case syncmsg.OpDelete:
		_, err := o.removeLocal(rel)
		return err

	case syncmsg.OpMove:
		if !o.watcher.ShouldIgnore(ev.OldPath) {
			if _, err := o.removeLocal(ev.OldPath); err != nil {
				return err
			}
		}
		_, err := o.pull(ctx, ev.Record)
		return err
	}
	return nil
}
