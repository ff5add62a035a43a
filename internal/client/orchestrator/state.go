package orchestrator

// State of the peer's connection to the coordinator.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateRegistered
	StateSyncingInitial
	StateLive
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateRegistered:
		return "REGISTERED"
	case StateSyncingInitial:
		return "SYNCING_INITIAL"
	case StateLive:
		return "LIVE"
	default:
		return "UNKNOWN"
	}
}
