package session

// Status is the lifecycle state of a [Session].
//
// Valid transitions:
//
//	idle ──start──▶ connecting ──▶ connected ──▶ listening
//	any non-idle ──failure──▶ error ──start──▶ connecting (after cleanup)
//	any ──end / transport close──▶ idle
//
// Capture and playback are only active in connected and listening.
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusConnected
	StatusListening
	StatusError
)

// String returns the lowercase name used in logs and diagnostics.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusListening:
		return "listening"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// live reports whether capture and playback may run in this state.
func (s Status) live() bool {
	return s == StatusConnected || s == StatusListening
}
