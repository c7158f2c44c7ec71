package wifi

import (
	"fmt"
	"net"
	"time"
)

type State int

const (
	Idle State = iota
	ConnectingSTA
	Connected
	APFallback
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ConnectingSTA:
		return "connecting_sta"
	case Connected:
		return "connected"
	case APFallback:
		return "ap_fallback"
	default:
		return "unknown"
	}
}

// Transition describes one state change. Retry is the counter after the
// change.
type Transition struct {
	Time   time.Time
	From   State
	To     State
	Retry  int
	Reason string
}

// Status is a read-only snapshot of the connection state.
type Status struct {
	State       State
	Retry       int
	SSID        string
	Addr        net.IP
	ConnectedAt time.Time
	APActive    bool
}

// Uptime is the time spent connected, zero when not connected.
func (s Status) Uptime(now time.Time) time.Duration {
	if s.State != Connected || s.ConnectedAt.IsZero() {
		return 0
	}
	return now.Sub(s.ConnectedAt)
}

// FormatUptime renders d as HH:MM:SS. Hours are not wrapped at 24.
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs/60)%60, secs%60)
}
