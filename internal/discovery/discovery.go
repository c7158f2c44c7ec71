// Package discovery advertises the portal over mDNS while the station link
// is up.
package discovery

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"codeberg.org/mutker/wifiprovd/internal/errors"
	"codeberg.org/mutker/wifiprovd/internal/logger"
	"codeberg.org/mutker/wifiprovd/internal/wifi"
	"github.com/grandcat/zeroconf"
)

const (
	DefaultService = "_http._tcp"
	DefaultDomain  = "local."
)

type Config struct {
	Instance  string
	Service   string
	Domain    string
	Port      int
	Interface string
	Text      []string
}

func (c Config) Validate() error {
	errFactory := errors.New()
	if c.Instance == "" || c.Service == "" || c.Domain == "" {
		return errFactory.WithMessage(ErrInvalidConfig, "instance, service and domain are required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errFactory.WithMessage(ErrInvalidConfig, "port out of range")
	}
	return nil
}

type registration interface {
	Shutdown()
}

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (registration, error)

func zeroconfRegister(instance, service, domain string, port int, text []string, ifaces []net.Interface) (registration, error) {
	return zeroconf.Register(instance, service, domain, port, text, ifaces)
}

// Advertiser follows the connection state: it registers the service when
// the device reaches Connected and withdraws it on any other state.
type Advertiser struct {
	cfg      Config
	register registerFunc
	logger   logger.Logger

	mu     sync.Mutex
	active registration

	want atomic.Bool
	wake chan struct{}
}

func New(cfg Config, log logger.Logger) (*Advertiser, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Advertiser{
		cfg:      cfg,
		register: zeroconfRegister,
		logger:   log,
		wake:     make(chan struct{}, 1),
	}, nil
}

// Transition implements wifi.Observer. It only records the desired state;
// Run does the registration work off the state machine's lock.
func (a *Advertiser) Transition(t wifi.Transition) {
	a.want.Store(t.To == wifi.Connected)
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// Run reconciles the advertisement with the last observed state until ctx
// is canceled, then withdraws it.
func (a *Advertiser) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			a.Stop()
			return
		case <-a.wake:
		}

		if a.want.Load() {
			if err := a.Start(); err != nil {
				a.logger.Warn().Err(err).Msg("mDNS advertisement failed")
			}
		} else {
			a.Stop()
		}
	}
}

// Start registers the service. Calling it while registered is a no-op.
func (a *Advertiser) Start() error {
	errFactory := errors.New()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active != nil {
		return nil
	}

	var ifaces []net.Interface
	if a.cfg.Interface != "" {
		iface, err := net.InterfaceByName(a.cfg.Interface)
		if err != nil {
			a.logger.Debug().Err(err).Str("interface", a.cfg.Interface).Msg("Interface lookup failed, advertising on all interfaces")
		} else {
			ifaces = []net.Interface{*iface}
		}
	}

	reg, err := a.register(a.cfg.Instance, a.cfg.Service, a.cfg.Domain, a.cfg.Port, a.cfg.Text, ifaces)
	if err != nil {
		return errFactory.Wrap(ErrRegister, err)
	}
	a.active = reg

	a.logger.Info().
		Str("instance", a.cfg.Instance).
		Str("service", a.cfg.Service).
		Int("port", a.cfg.Port).
		Msg("Advertising portal over mDNS")

	return nil
}

// Stop withdraws the service if it is registered.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active == nil {
		return
	}
	a.active.Shutdown()
	a.active = nil
	a.logger.Info().Str("instance", a.cfg.Instance).Msg("Withdrew mDNS advertisement")
}

func (a *Advertiser) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active != nil
}
