package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/wifiprovd/internal/config"
	"codeberg.org/mutker/wifiprovd/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "wifiprovd.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad(t *testing.T) {
	configPath := writeConfig(t, `
interface = "wlan1"
verbose = true

[ap]
ssid = "Garage-Setup"
password = "supersecret"
address = "10.0.0.1"

[wifi]
max_retry = 3
connect_timeout = "15s"

[telemetry]
enabled = false
`)

	t.Setenv("WIFIPROVD_CONFIG", configPath)

	cfg, err := config.Load(config.WithArgs(nil))
	require.NoError(t, err)

	assert.Equal(t, "wlan1", cfg.Interface)
	assert.True(t, cfg.Verbose)
	assert.Equal(t, "Garage-Setup", cfg.AP.SSID)
	assert.Equal(t, "supersecret", cfg.AP.Password)
	assert.Equal(t, "10.0.0.1", cfg.APAddress().String())
	assert.Equal(t, 3, cfg.WiFi.MaxRetry)
	assert.Equal(t, 15*time.Second, cfg.WiFi.ConnectTimeout)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("WIFIPROVD_CONFIG", "")

	cfg, err := config.Load(config.WithArgs(nil))
	require.NoError(t, err, "Failed to load config")

	assert.Equal(t, "wlan0", cfg.Interface)
	assert.Equal(t, "WiFi-Setup", cfg.AP.SSID)
	assert.Equal(t, "192.168.4.1", cfg.AP.Address)
	assert.Equal(t, 1, cfg.AP.Channel)
	assert.Equal(t, 4, cfg.AP.MaxClients)
	assert.Equal(t, 53, cfg.DNS.Port)
	assert.Equal(t, 60*time.Second, cfg.DNS.TTL)
	assert.Equal(t, 3*time.Second, cfg.DNS.ReadTimeout)
	assert.Equal(t, 80, cfg.HTTP.Port)
	assert.Equal(t, 5, cfg.WiFi.MaxRetry)
	assert.Equal(t, 20*time.Second, cfg.WiFi.ConnectTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Portal.RestartDelay)
	assert.Equal(t, 20, cfg.Scan.Limit)
	assert.Equal(t, 60*time.Second, cfg.Telemetry.Interval)
	assert.Equal(t, "devices", cfg.Telemetry.TopicPrefix)
	assert.False(t, cfg.Debug)
	assert.False(t, cfg.Reset)
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	configPath := writeConfig(t, `
This is not a valid TOML file
`)

	_, err := config.Load(config.WithArgs(nil), config.WithConfigFile(configPath))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrReadConfig))
	assert.Contains(t, err.Error(), "Failed to read configuration")
}

func TestFlagsOverrideFile(t *testing.T) {
	configPath := writeConfig(t, `
interface = "wlan1"

[http]
port = 8080
`)

	cfg, err := config.Load(
		config.WithConfigFile(configPath),
		config.WithArgs([]string{"--interface", "wlan2", "--http-port", "9090", "--reset", "--debug"}),
	)
	require.NoError(t, err)

	assert.Equal(t, "wlan2", cfg.Interface)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.True(t, cfg.Reset)
	assert.True(t, cfg.Debug)
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("WIFIPROVD_CONFIG", "")
	t.Setenv("WIFIPROVD_WIFI_MAX_RETRY", "2")

	cfg, err := config.Load(config.WithArgs(nil))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.WiFi.MaxRetry)
}

func TestResetIsFlagOnly(t *testing.T) {
	configPath := writeConfig(t, `
reset = true
`)
	t.Setenv("WIFIPROVD_CONFIG", configPath)
	t.Setenv("WIFIPROVD_RESET", "true")

	cfg, err := config.Load(config.WithArgs(nil))
	require.NoError(t, err)
	assert.False(t, cfg.Reset, "reset from file or environment must be ignored")

	cfg, err = config.Load(config.WithArgs([]string{"--reset"}))
	require.NoError(t, err)
	assert.True(t, cfg.Reset)
}

func TestUnknownFlag(t *testing.T) {
	_, err := config.Load(config.WithArgs([]string{"--no-such-flag"}))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrBindFlags))
}

func TestValidate(t *testing.T) {
	valid := func() *config.Config {
		return &config.Config{
			Interface: "wlan0",
			AP:        config.APConfig{SSID: "WiFi-Setup", Password: "12345678", Address: "192.168.4.1", Channel: 1, MaxClients: 4},
			DNS:       config.DNSConfig{Port: 53, TTL: time.Minute, ReadTimeout: 3 * time.Second},
			HTTP:      config.HTTPConfig{Port: 80},
			Store:     config.StoreConfig{Path: "/tmp/nvs.db"},
			WiFi:      config.WiFiConfig{MaxRetry: 5, ConnectTimeout: 20 * time.Second},
			Scan:      config.ScanConfig{Limit: 20},
		}
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*config.Config)
		field  string
	}{
		{"short ap password", func(c *config.Config) { c.AP.Password = "short" }, "ap.password"},
		{"ipv6 ap address", func(c *config.Config) { c.AP.Address = "fe80::1" }, "ap.address"},
		{"negative retries", func(c *config.Config) { c.WiFi.MaxRetry = -1 }, "wifi.max_retry"},
		{"zero timeout", func(c *config.Config) { c.WiFi.ConnectTimeout = 0 }, "wifi.connect_timeout"},
		{"scan limit too high", func(c *config.Config) { c.Scan.Limit = 21 }, "scan.limit"},
		{"telemetry without broker", func(c *config.Config) {
			c.Telemetry = config.TelemetryConfig{Enabled: true, Interval: time.Minute}
		}, "telemetry.broker"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.ErrInvalidConfig))

			var verr config.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field())
		})
	}
}
