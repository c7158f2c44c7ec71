// Package radio describes the wireless driver the provisioning daemon
// drives. The driver reports link changes asynchronously on its event
// channel; every other call returns once the request has been handed to the
// hardware.
package radio

import (
	"context"
	"net"
)

// Driver is the wireless radio and its IP stack.
type Driver interface {
	// StartSTA configures the station role for the given network.
	StartSTA(ctx context.Context, creds Credentials) error
	// Connect starts a join. The outcome arrives as an Event.
	Connect(ctx context.Context) error
	// StopSTA aborts any join and releases station state.
	StopSTA(ctx context.Context) error

	StartAP(ctx context.Context, cfg APConfig) error
	StopAP(ctx context.Context) error

	Scan(ctx context.Context) ([]Network, error)
	Events() <-chan Event

	HardwareAddr() net.HardwareAddr
	Addr() net.IP
}

type Credentials struct {
	SSID     string
	Password string
}

type APConfig struct {
	SSID       string
	Password   string
	Address    net.IP
	Channel    int
	MaxClients int
}

// Network is one access point seen by a scan. Signal is in dBm.
type Network struct {
	SSID   string
	Signal int
}

type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventGotAddress
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventGotAddress:
		return "got_address"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind   EventKind
	Reason string
	Addr   net.IP
}
