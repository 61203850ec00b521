package realtime

// State is the connection state of a Manager
type State int32

const (
	// Disconnected means no socket exists. A reconnect may be pending.
	Disconnected State = iota
	// Connecting means a dial is in flight
	Connecting
	// Open means the socket is established and frames are flowing
	Open
	// Closing means teardown has started
	Closing
)

// String returns the state name
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}
