package telemetry

import (
	"net/url"
	"time"

	"codeberg.org/mutker/wifiprovd/internal/errors"
)

const (
	defaultTopicPrefix    = "devices"
	defaultInterval       = 60 * time.Second
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second
	waitStep              = 3 * time.Second
)

type Config struct {
	Broker         string
	ClientID       string
	TopicPrefix    string
	Interval       time.Duration
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		TopicPrefix:    defaultTopicPrefix,
		Interval:       defaultInterval,
		ConnectTimeout: defaultConnectTimeout,
		PublishTimeout: defaultPublishTimeout,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.Broker == "" {
		return errFactory.WithMessage(ErrInvalidConfig, "broker is required")
	}
	u, err := url.Parse(c.Broker)
	if err != nil || u.Host == "" {
		return errFactory.WithMessage(ErrInvalidConfig, "broker must be a URL such as tcp://host:1883")
	}
	if c.TopicPrefix == "" {
		return errFactory.WithMessage(ErrInvalidConfig, "topic prefix is required")
	}
	if c.Interval <= 0 || c.ConnectTimeout <= 0 || c.PublishTimeout <= 0 {
		return errFactory.WithMessage(ErrInvalidConfig, "durations must be positive")
	}
	return nil
}
