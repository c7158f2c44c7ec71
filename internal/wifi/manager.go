// Package wifi owns the station/access point mode of the device. It drives
// station joins with a bounded retry budget and falls back to the access
// point when a join cannot complete.
package wifi

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/wifiprovd/internal/credentials"
	"codeberg.org/mutker/wifiprovd/internal/errors"
	"codeberg.org/mutker/wifiprovd/internal/logger"
	"codeberg.org/mutker/wifiprovd/internal/metrics"
	"codeberg.org/mutker/wifiprovd/internal/radio"
)

const (
	DefaultMaxRetry       = 5
	DefaultConnectTimeout = 20 * time.Second
)

// Surface is the user facing configuration interface. Activate must be
// idempotent; captive selects the access point flavour with DNS capture.
type Surface interface {
	Activate(ctx context.Context, captive bool) error
}

// Observer is told about every state change, in order, while the state
// lock is held. Observers must not call back into the Manager.
type Observer interface {
	Transition(t Transition)
}

type ObserverFunc func(t Transition)

func (f ObserverFunc) Transition(t Transition) { f(t) }

// CredentialSource yields the network to join.
type CredentialSource interface {
	Load(ctx context.Context) (credentials.Credentials, error)
}

type Config struct {
	MaxRetry       int
	ConnectTimeout time.Duration
	AP             radio.APConfig
}

type Option func(*Manager)

func WithSurface(s Surface) Option {
	return func(m *Manager) { m.surface = s }
}

func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observers = append(m.observers, o) }
}

func WithMetrics(c metrics.Collector) Option {
	return func(m *Manager) { m.metrics = c }
}

type action int

const (
	actNone action = iota
	actReconnect
	actFallback
)

type Manager struct {
	cfg       Config
	radio     radio.Driver
	creds     CredentialSource
	surface   Surface
	observers []Observer
	metrics   metrics.Collector
	logger    logger.Logger

	// Lock order: connectMu, apMu, mu.
	connectMu sync.Mutex
	apMu      sync.Mutex
	apActive  atomic.Bool

	mu          sync.Mutex
	state       State
	retry       int
	ssid        string
	addr        net.IP
	connectedAt time.Time
	waiter      chan error
	// cycleTimer bounds a connecting cycle nobody awaits; cycle tags it.
	cycleTimer *time.Timer
	cycle      uint64
	running    bool
	stop       chan struct{}
	wg         sync.WaitGroup
}

func New(cfg Config, drv radio.Driver, creds CredentialSource, log logger.Logger, opts ...Option) *Manager {
	if cfg.MaxRetry < 0 {
		cfg.MaxRetry = DefaultMaxRetry
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}

	m := &Manager{
		cfg:     cfg,
		radio:   drv,
		creds:   creds,
		metrics: metrics.Noop(),
		logger:  log,
		state:   Idle,
	}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Init starts consuming radio events. It is a no-op when already running.
func (m *Manager) Init(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.running = true
	m.stop = make(chan struct{})

	m.wg.Add(1)
	go m.consume(ctx, m.stop)
}

// Close stops the event consumer and waits for background work.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.running {
		m.running = false
		close(m.stop)
	}
	m.stopCycleTimerLocked()
	m.mu.Unlock()

	m.wg.Wait()
}

// Boot runs the start-up decision: join the stored network if there is
// one, otherwise bring up the access point. It fails only when the device
// ends up with neither link.
func (m *Manager) Boot(ctx context.Context) error {
	err := m.AttemptConnect(ctx)
	switch {
	case err == nil:
		return nil
	case errors.HasCode(err, ErrNoCredentials):
		m.logger.Info().Msg("No saved credentials found, starting access point")
		return m.StartAP(ctx)
	case errors.HasCode(err, ErrCanceled):
		return err
	}

	m.logger.Warn().Err(err).Msg("Failed to join network, running access point")
	if !m.Snapshot().APActive {
		return m.StartAP(ctx)
	}

	return nil
}

// AttemptConnect joins the stored network and blocks until the link is up,
// the retry budget is spent, or the connect timeout elapses. On failure the
// station is released and the access point started before returning.
func (m *Manager) AttemptConnect(ctx context.Context) error {
	errFactory := errors.New()

	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	creds, err := m.creds.Load(ctx)
	if err != nil {
		return errFactory.Wrap(ErrNoCredentials, err)
	}
	if !creds.Present() {
		return errFactory.New(ErrNoCredentials)
	}

	waiter := make(chan error, 1)

	m.mu.Lock()
	switch m.state {
	case Connected:
		m.mu.Unlock()
		return nil
	case ConnectingSTA:
		// A reconnect cycle is already running; wait for its outcome.
		m.waiter = waiter
		m.mu.Unlock()
		return m.await(ctx, waiter)
	}
	m.waiter = waiter
	m.ssid = creds.SSID
	m.transitionLocked(ConnectingSTA, 0, "connect requested")
	m.mu.Unlock()

	m.metrics.ConnectAttempt()
	m.logger.Info().
		Str("ssid", creds.SSID).
		Int("password_len", len(creds.Password)).
		Msg("Connecting to WiFi")

	if err := m.stopAP(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to stop access point before join")
	}

	if err := m.radio.StartSTA(ctx, radio.Credentials{SSID: creds.SSID, Password: creds.Password}); err != nil {
		m.abort(ctx, errFactory.Wrap(ErrRadio, err), "station start failed")
	} else if err := m.radio.Connect(ctx); err != nil {
		m.abort(ctx, errFactory.Wrap(ErrRadio, err), "connect request failed")
	}

	return m.await(ctx, waiter)
}

// await blocks for the outcome of the current cycle and performs the
// fallback when it failed.
func (m *Manager) await(ctx context.Context, waiter chan error) error {
	errFactory := errors.New()

	waitCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	var err error
	select {
	case err = <-waiter:
	case <-waitCtx.Done():
		m.mu.Lock()
		if m.waiter != waiter {
			// Resolved while the timer fired.
			m.mu.Unlock()
			err = <-waiter
			break
		}
		m.waiter = nil
		if ctx.Err() != nil {
			err = errFactory.Wrap(ErrCanceled, ctx.Err())
		} else {
			err = errFactory.WithData(ErrTimeout, m.cfg.ConnectTimeout.String())
		}
		if m.state == ConnectingSTA {
			m.transitionLocked(APFallback, 0, string(errors.CodeOf(err)))
		}
		m.mu.Unlock()
	}

	if err == nil {
		m.logger.Info().Str("addr", m.Snapshot().Addr.String()).Msg("Connected to WiFi")
		if m.surface != nil {
			if err := m.surface.Activate(ctx, false); err != nil {
				m.logger.ErrorWithCode(errFactory.Wrap(ErrStartPortal, err)).Msg("Failed to start configuration portal")
			}
		}
		return nil
	}

	m.logger.Error().Err(err).Msg("WiFi connection failed")

	if errors.HasCode(err, ErrCanceled) {
		m.releaseSTA(context.WithoutCancel(ctx))
		return err
	}

	m.fallback(ctx)

	return err
}

// StartAP brings up the access point and the captive surface. Calling it
// again while the access point runs only re-activates the surface.
func (m *Manager) StartAP(ctx context.Context) error {
	errFactory := errors.New()

	m.apMu.Lock()
	defer m.apMu.Unlock()

	m.mu.Lock()
	if m.state != APFallback {
		m.transitionLocked(APFallback, 0, "access point requested")
	}
	m.mu.Unlock()

	if !m.apActive.Load() {
		if err := m.radio.StartAP(ctx, m.cfg.AP); err != nil {
			return errFactory.Wrap(ErrStartAP, err)
		}
		m.apActive.Store(true)

		m.logger.Info().
			Str("ssid", m.cfg.AP.SSID).
			Int("channel", m.cfg.AP.Channel).
			Int("max_clients", m.cfg.AP.MaxClients).
			Msg("WiFi access point started")
	}

	if m.surface != nil {
		if err := m.surface.Activate(ctx, true); err != nil {
			return errFactory.Wrap(ErrStartPortal, err)
		}
	}

	return nil
}

func (m *Manager) stopAP(ctx context.Context) error {
	m.apMu.Lock()
	defer m.apMu.Unlock()

	if !m.apActive.Load() {
		return nil
	}
	m.apActive.Store(false)

	return m.radio.StopAP(ctx)
}

func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == Connected
}

func (m *Manager) IsAPFallback() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == APFallback
}

func (m *Manager) Snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Status{
		State:       m.state,
		Retry:       m.retry,
		SSID:        m.ssid,
		Addr:        m.addr,
		ConnectedAt: m.connectedAt,
		APActive:    m.apActive.Load(),
	}
}

func (m *Manager) consume(ctx context.Context, stop chan struct{}) {
	defer m.wg.Done()

	events := m.radio.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.handle(ctx, ev)
		}
	}
}

func (m *Manager) handle(ctx context.Context, ev radio.Event) {
	act := actNone

	m.mu.Lock()
	switch ev.Kind {
	case radio.EventConnected:
		m.logger.Debug().Str("state", m.state.String()).Msg("Link associated, waiting for address")

	case radio.EventGotAddress:
		if m.state != ConnectingSTA {
			break
		}
		m.addr = ev.Addr
		m.connectedAt = time.Now()
		m.transitionLocked(Connected, 0, "got address")
		if m.waiter != nil {
			m.waiter <- nil
			m.waiter = nil
		}

	case radio.EventDisconnected:
		switch m.state {
		case ConnectingSTA:
			if m.retry < m.cfg.MaxRetry {
				m.transitionLocked(ConnectingSTA, m.retry+1, ev.Reason)
				m.logger.Info().
					Int("attempt", m.retry).
					Int("max_retry", m.cfg.MaxRetry).
					Msg("Retry connecting to WiFi")
				act = actReconnect
				break
			}
			err := errors.New().WithData(ErrRetriesExhausted, m.cfg.MaxRetry)
			if !m.endCycleLocked(err, "retries exhausted: "+ev.Reason) {
				act = actFallback
			}
		case Connected:
			m.addr = nil
			m.transitionLocked(ConnectingSTA, 0, "link lost: "+ev.Reason)
			m.armCycleTimerLocked(ctx)
			act = actReconnect
		}
	}
	m.mu.Unlock()

	switch act {
	case actReconnect:
		if err := m.radio.Connect(ctx); err != nil {
			m.abort(ctx, errors.New().Wrap(ErrRadio, err), "reconnect request failed")
		}
	case actFallback:
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.fallback(ctx)
		}()
	}
}

// abort ends the current connecting cycle with err. Without a waiting
// AttemptConnect the fallback runs in the background.
func (m *Manager) abort(ctx context.Context, err error, reason string) {
	m.mu.Lock()
	waited := m.endCycleLocked(err, reason)
	m.mu.Unlock()

	if !waited {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.fallback(ctx)
		}()
	}
}

// endCycleLocked moves a connecting cycle to APFallback and hands err to a
// waiting AttemptConnect. It reports whether a waiter took the result.
func (m *Manager) endCycleLocked(err error, reason string) bool {
	if m.state != ConnectingSTA {
		return true
	}

	m.transitionLocked(APFallback, 0, reason)

	if m.waiter == nil {
		return false
	}
	m.waiter <- err
	m.waiter = nil

	return true
}

// fallback releases the station role completely, then starts the access
// point.
func (m *Manager) fallback(ctx context.Context) {
	m.releaseSTA(ctx)

	if err := m.StartAP(ctx); err != nil {
		m.logger.ErrorWithCode(errors.New().Wrap(ErrStartAP, err)).Msg("Failed to start access point")
	}
}

func (m *Manager) releaseSTA(ctx context.Context) {
	m.logger.Info().Msg("Stopping WiFi station for cleanup")

	if err := m.radio.StopSTA(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to stop WiFi station")
	}

	m.mu.Lock()
	m.addr = nil
	m.connectedAt = time.Time{}
	m.mu.Unlock()
}

// armCycleTimerLocked bounds the current connecting cycle by the connect
// timeout. Expiry ends the cycle like a timed out AttemptConnect.
func (m *Manager) armCycleTimerLocked(ctx context.Context) {
	m.stopCycleTimerLocked()
	if !m.running {
		return
	}

	gen := m.cycle
	m.wg.Add(1)
	m.cycleTimer = time.AfterFunc(m.cfg.ConnectTimeout, func() {
		defer m.wg.Done()
		m.cycleExpired(ctx, gen)
	})
}

func (m *Manager) stopCycleTimerLocked() {
	m.cycle++
	if m.cycleTimer == nil {
		return
	}
	if m.cycleTimer.Stop() {
		m.wg.Done()
	}
	m.cycleTimer = nil
}

func (m *Manager) cycleExpired(ctx context.Context, gen uint64) {
	m.mu.Lock()
	if gen != m.cycle || m.state != ConnectingSTA {
		m.mu.Unlock()
		return
	}
	m.cycleTimer = nil

	err := errors.New().WithData(ErrTimeout, m.cfg.ConnectTimeout.String())
	waited := m.endCycleLocked(err, string(ErrTimeout))
	m.mu.Unlock()

	m.logger.Error().Err(err).Msg("WiFi reconnect timed out")
	if !waited {
		m.fallback(ctx)
	}
}

// transitionLocked changes state and retry counter together. m.mu must be
// held.
func (m *Manager) transitionLocked(to State, retry int, reason string) {
	t := Transition{
		Time:   time.Now(),
		From:   m.state,
		To:     to,
		Retry:  retry,
		Reason: reason,
	}

	m.state = to
	m.retry = retry
	if to != ConnectingSTA && m.cycleTimer != nil {
		m.stopCycleTimerLocked()
	}
	if to != Connected {
		m.connectedAt = time.Time{}
	}

	m.logger.Debug().
		Str("from", t.From.String()).
		Str("to", t.To.String()).
		Int("retry", retry).
		Str("reason", reason).
		Msg("Connection state changed")

	m.metrics.StateChanged(t.From.String(), t.To.String(), retry)
	for _, o := range m.observers {
		o.Transition(t)
	}
}
