package syncmsg

import (
	"fmt"
	"time"
)

type Operation string

const (
	OpCreate Operation = "CREATE"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
	OpMove   Operation = "MOVE"
)

func (o Operation) Valid() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete, OpMove:
		return true
	default:
		return false
	}
}

func ParseOperation(s string) (Operation, error) {
	op := Operation(s)
	if !op.Valid() {
		return "", fmt.Errorf("unknown operation %q", s)
	}
	return op, nil
}

// ChangeEvent is a stabilized change to a single path. It is consumed once
// and never mutated.
type ChangeEvent struct {
	Operation    Operation
	Record       *FileRecord
	OriginPeerID string
	Timestamp    time.Time
	// OldPath is only set for OpMove
	OldPath string
}

func (e ChangeEvent) Path() string {
	if e.Record == nil {
		return ""
	}
	return e.Record.Path
}
