package tcpserver

// State is the lifecycle state of a Server.
type State int

const (
	Stopped   State = iota // No listener
	Listening              // Bound, accept loop not started
	Accepting              // Accept loop pulling new connections
	Paused                 // Accept loop running but not accepting
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "Stopped"
	case Listening:
		return "Listening"
	case Accepting:
		return "Accepting"
	case Paused:
		return "Paused"
	default:
		return "Unknown"
	}
}
