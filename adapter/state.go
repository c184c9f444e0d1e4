package adapter

// State adapter 连接状态机的状态。
type State int

const (
	Disconnected State = iota
	Connecting
	Authenticating
	Connected
	Reconnecting
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Authenticating:
		return "AUTHENTICATING"
	case Connected:
		return "CONNECTED"
	case Reconnecting:
		return "RECONNECTING"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Terminal Closed 是唯一终态，只能通过新建 adapter 走出。
func (s State) Terminal() bool {
	return s == Closed
}
