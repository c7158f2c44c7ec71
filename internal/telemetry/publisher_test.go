package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/wifiprovd/internal/errors"
	"codeberg.org/mutker/wifiprovd/internal/logger"
	"codeberg.org/mutker/wifiprovd/internal/wifi"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMAC = net.HardwareAddr{0x24, 0x6f, 0x28, 0xaa, 0xbb, 0xcc}

type fixedStatus struct {
	mu sync.Mutex
	st wifi.Status
}

func (f *fixedStatus) Snapshot() wifi.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st
}

func (f *fixedStatus) set(st wifi.Status) {
	f.mu.Lock()
	f.st = st
	f.mu.Unlock()
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

// startBroker runs an embedded broker on loopback and returns its URL.
func startBroker(t *testing.T) string {
	t.Helper()

	server := mochi.New(&mochi.Options{InlineClient: true})
	require.NoError(t, server.AddHook(new(auth.AllowHook), nil))

	addr := fmt.Sprintf("127.0.0.1:%d", freePort(t))
	tcp := listeners.NewTCP(listeners.Config{ID: "tcp", Address: addr})
	require.NoError(t, server.AddListener(tcp))
	require.NoError(t, server.Serve())
	t.Cleanup(func() { _ = server.Close() })

	return "tcp://" + addr
}

type received struct {
	mu   sync.Mutex
	msgs map[string][]byte
}

func (r *received) get(topic string) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.msgs[topic]
	return b, ok
}

// subscribe attaches a plain client to the broker and records the last
// payload seen per topic.
func subscribe(t *testing.T, broker, filter string) *received {
	t.Helper()

	r := &received{msgs: make(map[string][]byte)}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID("observer")
	client := mqtt.NewClient(opts)

	token := client.Connect()
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())
	t.Cleanup(func() { client.Disconnect(100) })

	token = client.Subscribe(filter, qos, func(_ mqtt.Client, msg mqtt.Message) {
		r.mu.Lock()
		r.msgs[msg.Topic()] = append([]byte(nil), msg.Payload()...)
		r.mu.Unlock()
	})
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())

	return r
}

func testConfig(broker string) Config {
	cfg := DefaultConfig()
	cfg.Broker = broker
	cfg.Interval = 100 * time.Millisecond
	cfg.ConnectTimeout = 2 * time.Second
	return cfg
}

func TestPublisherHeartbeat(t *testing.T) {
	broker := startBroker(t)
	rec := subscribe(t, broker, "devices/#")

	connectedAt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	status := &fixedStatus{st: wifi.Status{
		State:       wifi.Connected,
		SSID:        "HomeNet",
		Addr:        net.IPv4(192, 168, 1, 50),
		ConnectedAt: connectedAt,
	}}

	p, err := New(testConfig(broker), status, testMAC, logger.With("telemetry-test"))
	require.NoError(t, err)
	p.now = func() time.Time { return connectedAt.Add(time.Hour + 2*time.Minute + 3*time.Second) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	prefix := "devices/24:6F:28:AA:BB:CC/"
	require.Eventually(t, func() bool {
		_, ok := rec.get(prefix + TopicInfo)
		return ok
	}, 5*time.Second, 20*time.Millisecond)

	mac, _ := rec.get(prefix + TopicMAC)
	assert.Equal(t, "24:6F:28:AA:BB:CC", string(mac))
	ip, _ := rec.get(prefix + TopicIP)
	assert.Equal(t, "192.168.1.50", string(ip))
	uptime, _ := rec.get(prefix + TopicUptime)
	assert.Equal(t, "01:02:03", string(uptime))

	raw, _ := rec.get(prefix + TopicInfo)
	var info Info
	require.NoError(t, json.Unmarshal(raw, &info))
	assert.Equal(t, Info{MAC: "24:6F:28:AA:BB:CC", IP: "192.168.1.50", Uptime: 3723, Online: true}, info)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestPublishOnceRequiresStationLink(t *testing.T) {
	broker := startBroker(t)
	status := &fixedStatus{st: wifi.Status{State: wifi.APFallback, APActive: true}}

	p, err := New(testConfig(broker), status, testMAC, logger.With("telemetry-test"))
	require.NoError(t, err)
	defer p.Close()

	err = p.PublishOnce()
	assert.True(t, errors.HasCode(err, ErrNotConnected))

	status.set(wifi.Status{State: wifi.Connected, Addr: net.IPv4(10, 0, 0, 2)})
	err = p.PublishOnce()
	assert.True(t, errors.HasCode(err, ErrPublish), "broker was never dialed")
}

func TestRunReturnsOnCancelWhileBrokerUnreachable(t *testing.T) {
	cfg := testConfig(fmt.Sprintf("tcp://127.0.0.1:%d", freePort(t)))
	p, err := New(cfg, &fixedStatus{}, testMAC, logger.With("telemetry-test"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after the context expired")
	}
}

func TestTopicLayout(t *testing.T) {
	cfg := testConfig("tcp://127.0.0.1:1883")
	cfg.TopicPrefix = "fleet"
	p, err := New(cfg, &fixedStatus{}, testMAC, logger.With("telemetry-test"))
	require.NoError(t, err)

	assert.Equal(t, "fleet/24:6F:28:AA:BB:CC/uptime", p.Topic(TopicUptime))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"empty broker", func(c *Config) { c.Broker = "" }},
		{"broker without host", func(c *Config) { c.Broker = "itbir.com" }},
		{"empty prefix", func(c *Config) { c.TopicPrefix = "" }},
		{"zero interval", func(c *Config) { c.Interval = 0 }},
		{"zero publish timeout", func(c *Config) { c.PublishTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig("tcp://itbir.com:1883")
			tt.modify(&cfg)
			err := cfg.Validate()
			assert.True(t, errors.HasCode(err, ErrInvalidConfig))
		})
	}

	assert.NoError(t, testConfig("tcp://itbir.com:1883").Validate())

	_, err := New(testConfig("tcp://itbir.com:1883"), &fixedStatus{}, nil, logger.With("telemetry-test"))
	assert.True(t, errors.HasCode(err, ErrInvalidConfig))
}
