package sync

// State is a stage of a sync run.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateWindowSelection
	StateFetching
	StateNormalizing
	StateClassifying
	StatePersisting
	StateCheckpointing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateWindowSelection:
		return "window-selection"
	case StateFetching:
		return "fetching"
	case StateNormalizing:
		return "normalizing"
	case StateClassifying:
		return "classifying"
	case StatePersisting:
		return "persisting"
	case StateCheckpointing:
		return "checkpointing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
