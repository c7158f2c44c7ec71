package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/wifiprovd/internal/errors"
	"codeberg.org/mutker/wifiprovd/internal/logger"
	"codeberg.org/mutker/wifiprovd/internal/wifi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistration struct {
	mu   sync.Mutex
	shut int
}

func (f *fakeRegistration) Shutdown() {
	f.mu.Lock()
	f.shut++
	f.mu.Unlock()
}

type fakeRegistrar struct {
	mu    sync.Mutex
	calls []Config
	regs  []*fakeRegistration
	err   error
}

func (f *fakeRegistrar) register(instance, service, domain string, port int, text []string, _ []net.Interface) (registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, Config{Instance: instance, Service: service, Domain: domain, Port: port, Text: text})
	reg := &fakeRegistration{}
	f.regs = append(f.regs, reg)
	return reg, nil
}

func (f *fakeRegistrar) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestAdvertiser(t *testing.T) (*Advertiser, *fakeRegistrar) {
	t.Helper()
	a, err := New(Config{
		Instance: "wifiprovd-246F28AABBCC",
		Service:  DefaultService,
		Domain:   DefaultDomain,
		Port:     80,
		Text:     []string{"path=/"},
	}, logger.With("discovery-test"))
	require.NoError(t, err)

	reg := &fakeRegistrar{}
	a.register = reg.register
	return a, reg
}

func TestStartStop(t *testing.T) {
	a, reg := newTestAdvertiser(t)

	require.NoError(t, a.Start())
	require.NoError(t, a.Start())
	assert.True(t, a.Active())
	require.Equal(t, 1, reg.count())
	assert.Equal(t, "_http._tcp", reg.calls[0].Service)
	assert.Equal(t, 80, reg.calls[0].Port)
	assert.Equal(t, []string{"path=/"}, reg.calls[0].Text)

	a.Stop()
	a.Stop()
	assert.False(t, a.Active())
	assert.Equal(t, 1, reg.regs[0].shut)
}

func TestStartFailure(t *testing.T) {
	a, reg := newTestAdvertiser(t)
	reg.err = fmt.Errorf("multicast unavailable")

	err := a.Start()
	assert.True(t, errors.HasCode(err, ErrRegister))
	assert.False(t, a.Active())
}

func TestFollowsConnectionState(t *testing.T) {
	a, reg := newTestAdvertiser(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()

	a.Transition(wifi.Transition{From: wifi.ConnectingSTA, To: wifi.Connected})
	require.Eventually(t, a.Active, time.Second, 5*time.Millisecond)

	a.Transition(wifi.Transition{From: wifi.Connected, To: wifi.ConnectingSTA})
	require.Eventually(t, func() bool { return !a.Active() }, time.Second, 5*time.Millisecond)

	a.Transition(wifi.Transition{From: wifi.ConnectingSTA, To: wifi.Connected})
	require.Eventually(t, a.Active, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, reg.count())

	cancel()
	<-done
	assert.False(t, a.Active())
}

func TestConfigValidate(t *testing.T) {
	_, err := New(Config{Service: DefaultService, Domain: DefaultDomain, Port: 80}, logger.With("discovery-test"))
	assert.True(t, errors.HasCode(err, ErrInvalidConfig))

	_, err = New(Config{Instance: "x", Service: DefaultService, Domain: DefaultDomain}, logger.With("discovery-test"))
	assert.True(t, errors.HasCode(err, ErrInvalidConfig))
}
