package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/wifiprovd/internal/errors"
	"codeberg.org/mutker/wifiprovd/internal/logger"
	"codeberg.org/mutker/wifiprovd/internal/wifi"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// QoS 1, at least once.
const qos = 1

type Publisher struct {
	cfg    Config
	status StatusSource
	mac    string
	client mqtt.Client
	logger logger.Logger
	now    func() time.Time

	// kick is signalled by the on-connect handler.
	kick      chan struct{}
	closeOnce sync.Once
}

func New(cfg Config, status StatusSource, hw net.HardwareAddr, log logger.Logger) (*Publisher, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if status == nil || len(hw) == 0 {
		return nil, errFactory.WithMessage(ErrInvalidConfig, "status source and hardware address are required")
	}

	p := &Publisher{
		cfg:    cfg,
		status: status,
		mac:    strings.ToUpper(hw.String()),
		logger: log,
		now:    time.Now,
		kick:   make(chan struct{}, 1),
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "wifiprovd-" + strings.ReplaceAll(p.mac, ":", "")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(waitStep)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		p.logger.Info().Str("broker", cfg.Broker).Msg("Connected to MQTT broker")
		select {
		case p.kick <- struct{}{}:
		default:
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.logger.Warn().Err(err).Msg("MQTT connection lost")
	})
	p.client = mqtt.NewClient(opts)

	return p, nil
}

// Topic returns the full topic for one subtopic of this device.
func (p *Publisher) Topic(sub string) string {
	return fmt.Sprintf("%s/%s/%s", p.cfg.TopicPrefix, p.mac, sub)
}

// Run connects to the broker and publishes the heartbeat on every connect
// and every interval until ctx is canceled. Nothing is published unless the
// station link is up.
func (p *Publisher) Run(ctx context.Context) error {
	errFactory := errors.New()
	defer p.Close()

	token := p.client.Connect()
	for !token.WaitTimeout(waitStep) {
		if ctx.Err() != nil {
			return nil
		}
		p.logger.Debug().Str("broker", p.cfg.Broker).Msg("Waiting for MQTT broker")
	}
	if err := token.Error(); err != nil {
		return errFactory.Wrap(ErrConnect, err)
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.kick:
		case <-ticker.C:
		}

		if err := p.PublishOnce(); err != nil {
			if errors.HasCode(err, ErrNotConnected) {
				p.logger.Debug().Msg("Skipping heartbeat, station link is down")
				continue
			}
			p.logger.Warn().Err(err).Msg("Heartbeat publish failed")
		}
	}
}

// PublishOnce sends the MAC, IP, uptime and info documents.
func (p *Publisher) PublishOnce() error {
	errFactory := errors.New()

	st := p.status.Snapshot()
	if st.State != wifi.Connected {
		return errFactory.New(ErrNotConnected)
	}
	if !p.client.IsConnectionOpen() {
		return errFactory.WithMessage(ErrPublish, "broker connection is not open")
	}

	ip := ""
	if st.Addr != nil {
		ip = st.Addr.String()
	}
	uptime := st.Uptime(p.now())

	info, err := json.Marshal(Info{
		MAC:    p.mac,
		IP:     ip,
		Uptime: int64(uptime / time.Second),
		Online: true,
	})
	if err != nil {
		return errFactory.Wrap(ErrPublish, err)
	}

	messages := []struct {
		sub     string
		payload []byte
	}{
		{TopicMAC, []byte(p.mac)},
		{TopicIP, []byte(ip)},
		{TopicUptime, []byte(wifi.FormatUptime(uptime))},
		{TopicInfo, info},
	}

	for _, m := range messages {
		topic := p.Topic(m.sub)
		token := p.client.Publish(topic, qos, false, m.payload)
		if !token.WaitTimeout(p.cfg.PublishTimeout) {
			return errFactory.WithMessage(ErrPublish, "timed out publishing "+topic)
		}
		if err := token.Error(); err != nil {
			return errFactory.Wrap(ErrPublish, err)
		}
	}

	p.logger.Debug().
		Str("ip", ip).
		Str("uptime", wifi.FormatUptime(uptime)).
		Msg("Published heartbeat")

	return nil
}

// Close disconnects from the broker and stops pending connect retries.
// Safe to call more than once.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		p.client.Disconnect(250)
	})
}
