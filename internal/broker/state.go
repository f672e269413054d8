package broker

// State is a broker lifecycle phase. Transitions only move forward:
// Uninitialized → Running → ShuttingDown → Stopped.
type State int32

const (
	Uninitialized State = iota
	Running
	ShuttingDown
	Stopped
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Running:
		return "running"
	case ShuttingDown:
		return "shutting_down"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}
