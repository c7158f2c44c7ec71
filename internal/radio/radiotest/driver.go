// Package radiotest provides a scriptable radio.Driver for tests.
package radiotest

import (
	"context"
	"net"
	"sync"

	"codeberg.org/mutker/wifiprovd/internal/radio"
)

// Driver records every call and lets tests inject events and scan results.
type Driver struct {
	events chan radio.Event

	mu          sync.Mutex
	calls       []string
	networks    []radio.Network
	scanErr     error
	startAPErr  error
	connectErr  error
	gate        chan struct{}
	scanStarted chan struct{}
	onConnect   func(attempt int)
	connects    int
	creds       radio.Credentials
	apActive    int
}

func New() *Driver {
	return &Driver{
		events:      make(chan radio.Event, 64),
		scanStarted: make(chan struct{}, 16),
	}
}

// SetNetworks sets what the next scans return.
func (d *Driver) SetNetworks(networks []radio.Network, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.networks = networks
	d.scanErr = err
}

// BlockScans makes Scan wait until the returned release func is called.
func (d *Driver) BlockScans() (release func()) {
	gate := make(chan struct{})

	d.mu.Lock()
	d.gate = gate
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { close(gate) })
	}
}

// ScanStarted receives a value each time a scan begins.
func (d *Driver) ScanStarted() <-chan struct{} {
	return d.scanStarted
}

// OnConnect installs a hook run on every Connect call, with the 1-based
// attempt number.
func (d *Driver) OnConnect(fn func(attempt int)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onConnect = fn
}

func (d *Driver) FailStartAP(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.startAPErr = err
}

func (d *Driver) FailConnect(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connectErr = err
}

// Emit pushes an event to the consumer.
func (d *Driver) Emit(ev radio.Event) {
	d.events <- ev
}

func (d *Driver) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// Count reports how many times the named method was called.
func (d *Driver) Count(method string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, c := range d.calls {
		if c == method {
			n++
		}
	}
	return n
}

// ActiveAPs reports how many AP instances are up.
func (d *Driver) ActiveAPs() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.apActive
}

func (d *Driver) LastCredentials() radio.Credentials {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.creds
}

func (d *Driver) record(method string) {
	d.mu.Lock()
	d.calls = append(d.calls, method)
	d.mu.Unlock()
}

func (d *Driver) StartSTA(_ context.Context, creds radio.Credentials) error {
	d.record("StartSTA")

	d.mu.Lock()
	d.creds = creds
	d.mu.Unlock()

	return nil
}

func (d *Driver) Connect(_ context.Context) error {
	d.record("Connect")

	d.mu.Lock()
	d.connects++
	attempt := d.connects
	hook := d.onConnect
	err := d.connectErr
	d.mu.Unlock()

	if err != nil {
		return err
	}
	if hook != nil {
		hook(attempt)
	}

	return nil
}

func (d *Driver) StopSTA(_ context.Context) error {
	d.record("StopSTA")
	return nil
}

func (d *Driver) StartAP(_ context.Context, _ radio.APConfig) error {
	d.record("StartAP")

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.startAPErr != nil {
		return d.startAPErr
	}
	d.apActive++

	return nil
}

func (d *Driver) StopAP(_ context.Context) error {
	d.record("StopAP")

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.apActive > 0 {
		d.apActive--
	}

	return nil
}

func (d *Driver) Scan(ctx context.Context) ([]radio.Network, error) {
	d.record("Scan")

	d.mu.Lock()
	gate := d.gate
	d.mu.Unlock()

	select {
	case d.scanStarted <- struct{}{}:
	default:
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.scanErr != nil {
		return nil, d.scanErr
	}
	return append([]radio.Network(nil), d.networks...), nil
}

func (d *Driver) Events() <-chan radio.Event {
	return d.events
}

func (*Driver) HardwareAddr() net.HardwareAddr {
	return net.HardwareAddr{0x24, 0x6f, 0x28, 0xaa, 0xbb, 0xcc}
}

func (*Driver) Addr() net.IP {
	return net.IPv4(192, 168, 1, 50).To4()
}

var _ radio.Driver = (*Driver)(nil)
