package radio

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/wifiprovd/internal/errors"
	"codeberg.org/mutker/wifiprovd/internal/logger"
)

const (
	apConnectionName = "wifiprovd-ap"
	eventBufferSize  = 16
	joinWaitSeconds  = 15
	linkPollInterval = 5 * time.Second
)

// commandRunner executes an external program and returns its combined
// output.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// NMCLI drives a NetworkManager managed interface through the nmcli tool.
type NMCLI struct {
	iface  string
	run    commandRunner
	logger logger.Logger
	events chan Event

	mu     sync.Mutex
	creds  *Credentials
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewNMCLI(iface string, log logger.Logger) *NMCLI {
	return newNMCLI(iface, execRunner, log)
}

func newNMCLI(iface string, run commandRunner, log logger.Logger) *NMCLI {
	return &NMCLI{
		iface:  iface,
		run:    run,
		logger: log,
		events: make(chan Event, eventBufferSize),
	}
}

func (n *NMCLI) Events() <-chan Event {
	return n.events
}

func (n *NMCLI) StartSTA(ctx context.Context, creds Credentials) error {
	if _, err := n.nmcli(ctx, "radio", "wifi", "on"); err != nil {
		return err
	}

	n.mu.Lock()
	n.creds = &creds
	n.mu.Unlock()

	return nil
}

// Connect launches the join in the background and reports the result as
// events. It returns once the request is accepted.
func (n *NMCLI) Connect(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.creds == nil {
		return errors.New().New(ErrNotStarted)
	}
	if n.cancel != nil {
		n.cancel()
	}

	joinCtx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	creds := *n.creds

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.join(joinCtx, creds)
	}()

	return nil
}

func (n *NMCLI) join(ctx context.Context, creds Credentials) {
	args := []string{"--wait", strconv.Itoa(joinWaitSeconds), "device", "wifi", "connect", creds.SSID}
	if creds.Password != "" {
		args = append(args, "password", creds.Password)
	}
	args = append(args, "ifname", n.iface)

	if _, err := n.nmcli(ctx, args...); err != nil {
		if ctx.Err() != nil {
			return
		}
		n.emit(Event{Kind: EventDisconnected, Reason: err.Error()})
		return
	}

	n.emit(Event{Kind: EventConnected})

	addr := n.Addr()
	n.emit(Event{Kind: EventGotAddress, Addr: addr})

	n.watchLink(ctx)
}

// watchLink polls the device state until the link drops or ctx ends.
func (n *NMCLI) watchLink(ctx context.Context) {
	ticker := time.NewTicker(linkPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			out, err := n.nmcli(ctx, "-g", "GENERAL.STATE", "device", "show", n.iface)
			if ctx.Err() != nil {
				return
			}
			if err != nil || !bytes.HasPrefix(bytes.TrimSpace(out), []byte("100")) {
				n.emit(Event{Kind: EventDisconnected, Reason: "link lost"})
				return
			}
		}
	}
}

func (n *NMCLI) StopSTA(ctx context.Context) error {
	n.mu.Lock()
	if n.cancel != nil {
		n.cancel()
		n.cancel = nil
	}
	n.creds = nil
	n.mu.Unlock()

	n.wg.Wait()

	// Disconnecting an idle device fails; the station is released either way.
	if _, err := n.nmcli(ctx, "device", "disconnect", n.iface); err != nil {
		n.logger.Debug().Err(err).Msg("Device already disconnected")
	}

	return nil
}

func (n *NMCLI) StartAP(ctx context.Context, cfg APConfig) error {
	_, err := n.nmcli(ctx,
		"device", "wifi", "hotspot",
		"ifname", n.iface,
		"con-name", apConnectionName,
		"ssid", cfg.SSID,
		"password", cfg.Password,
		"band", "bg",
		"channel", strconv.Itoa(cfg.Channel),
	)
	if err != nil {
		return err
	}

	if cfg.Address != nil {
		_, err = n.nmcli(ctx,
			"connection", "modify", apConnectionName,
			"ipv4.method", "shared",
			"ipv4.addresses", cfg.Address.String()+"/24",
		)
		if err != nil {
			return err
		}
		if _, err := n.nmcli(ctx, "connection", "up", apConnectionName); err != nil {
			return err
		}
	}

	n.logger.Debug().
		Str("ssid", cfg.SSID).
		Int("channel", cfg.Channel).
		Int("max_clients", cfg.MaxClients).
		Msg("Hotspot configured")

	return nil
}

func (n *NMCLI) StopAP(ctx context.Context) error {
	_, err := n.nmcli(ctx, "connection", "down", apConnectionName)
	return err
}

func (n *NMCLI) Scan(ctx context.Context) ([]Network, error) {
	out, err := n.nmcli(ctx,
		"-t", "-f", "SSID,SIGNAL",
		"device", "wifi", "list",
		"--rescan", "yes",
		"ifname", n.iface,
	)
	if err != nil {
		return nil, err
	}

	return parseScan(out), nil
}

func (n *NMCLI) HardwareAddr() net.HardwareAddr {
	iface, err := net.InterfaceByName(n.iface)
	if err != nil {
		return nil
	}
	return iface.HardwareAddr
}

func (n *NMCLI) Addr() net.IP {
	iface, err := net.InterfaceByName(n.iface)
	if err != nil {
		return nil
	}

	addrs, err := iface.Addrs()
	if err != nil {
		return nil
	}

	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok {
			if ip4 := ipnet.IP.To4(); ip4 != nil {
				return ip4
			}
		}
	}

	return nil
}

func (n *NMCLI) emit(ev Event) {
	select {
	case n.events <- ev:
	default:
		n.logger.Warn().Stringer("event", ev.Kind).Msg("Radio event dropped, consumer too slow")
	}
}

func (n *NMCLI) nmcli(ctx context.Context, args ...string) ([]byte, error) {
	out, err := n.run(ctx, "nmcli", args...)
	if err != nil {
		return out, errors.New().WithData(ErrCommandFailed, struct {
			Command string
			Output  string
			Error   string
		}{
			Command: redactArgs(args),
			Output:  strings.TrimSpace(string(out)),
			Error:   err.Error(),
		})
	}
	return out, nil
}

// redactArgs renders an nmcli command line with password values masked.
func redactArgs(args []string) string {
	masked := make([]string, len(args))
	copy(masked, args)
	for i := 0; i < len(masked)-1; i++ {
		if masked[i] == "password" {
			masked[i+1] = fmt.Sprintf("<%d bytes>", len(masked[i+1]))
			i++
		}
	}
	return strings.Join(masked, " ")
}

// parseScan reads nmcli terse output, where fields are separated by ':' and
// literal colons in an SSID are escaped as '\:'. Hidden networks are
// skipped.
func parseScan(out []byte) []Network {
	var networks []Network

	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}

		idx := strings.LastIndex(line, ":")
		if idx <= 0 {
			continue
		}

		ssid := strings.ReplaceAll(line[:idx], `\:`, ":")
		ssid = strings.ReplaceAll(ssid, `\\`, `\`)
		if ssid == "" {
			continue
		}

		quality, err := strconv.Atoi(line[idx+1:])
		if err != nil {
			continue
		}

		networks = append(networks, Network{SSID: ssid, Signal: qualityToDBm(quality)})
	}

	return networks
}

// qualityToDBm maps NetworkManager's 0..100 signal quality onto the
// -100..-50 dBm range.
func qualityToDBm(quality int) int {
	switch {
	case quality <= 0:
		return -100
	case quality >= 100:
		return -50
	default:
		return quality/2 - 100
	}
}
