package config

import (
	"net"
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/wifiprovd/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultEnvPrefix  = "WIFIPROVD"
	DefaultConfigName = "wifiprovd"
	DefaultConfigDir  = "/etc"

	// Upper bound on scan results kept by the portal.
	MaxScanLimit = 20
	// WPA2 requires at least 8 characters.
	minAPPasswordLen = 8
)

type APConfig struct {
	SSID       string `mapstructure:"ssid"`
	Password   string `mapstructure:"password"`
	Address    string `mapstructure:"address"`
	Channel    int    `mapstructure:"channel"`
	MaxClients int    `mapstructure:"max_clients"`
}

type DNSConfig struct {
	Port        int           `mapstructure:"port"`
	TTL         time.Duration `mapstructure:"ttl"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

type HTTPConfig struct {
	Port int `mapstructure:"port"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type WiFiConfig struct {
	MaxRetry       int           `mapstructure:"max_retry"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type PortalConfig struct {
	RestartDelay time.Duration `mapstructure:"restart_delay"`
}

type ScanConfig struct {
	Limit int `mapstructure:"limit"`
}

type TelemetryConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Broker      string        `mapstructure:"broker"`
	Interval    time.Duration `mapstructure:"interval"`
	TopicPrefix string        `mapstructure:"topic_prefix"`
}

type DiscoveryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type HistoryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type Config struct {
	Interface string          `mapstructure:"interface"`
	AP        APConfig        `mapstructure:"ap"`
	DNS       DNSConfig       `mapstructure:"dns"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Store     StoreConfig     `mapstructure:"store"`
	WiFi      WiFiConfig      `mapstructure:"wifi"`
	Portal    PortalConfig    `mapstructure:"portal"`
	Scan      ScanConfig      `mapstructure:"scan"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	History   HistoryConfig   `mapstructure:"history"`
	Debug     bool            `mapstructure:"debug"`
	Verbose   bool            `mapstructure:"verbose"`
	// Reset is command-line only so a restart never repeats it.
	Reset bool `mapstructure:"-"`
}

var defaults = map[string]interface{}{
	"interface":              "wlan0",
	"ap.ssid":                "WiFi-Setup",
	"ap.password":            "12345678",
	"ap.address":             "192.168.4.1",
	"ap.channel":             1,
	"ap.max_clients":         4,
	"dns.port":               53,
	"dns.ttl":                60 * time.Second,
	"dns.read_timeout":       3 * time.Second,
	"http.port":              80,
	"store.path":             "/var/lib/wifiprovd/nvs.db",
	"wifi.max_retry":         5,
	"wifi.connect_timeout":   20 * time.Second,
	"portal.restart_delay":   500 * time.Millisecond,
	"scan.limit":             MaxScanLimit,
	"telemetry.enabled":      true,
	"telemetry.broker":       "tcp://itbir.com:1883",
	"telemetry.interval":     60 * time.Second,
	"telemetry.topic_prefix": "devices",
	"discovery.enabled":      true,
	"history.enabled":        true,
	"debug":                  false,
	"verbose":                false,
}

// Load reads configuration from defaults, the TOML config file, the
// environment and command line flags, in increasing order of precedence.
func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{
		envPrefix: DefaultEnvPrefix,
		args:      os.Args[1:],
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// Define flags
	fs := pflag.NewFlagSet("wifiprovd", pflag.ContinueOnError)
	configFlag := fs.String("config", "", "Path to the configuration file")
	fs.Bool("debug", false, "Enable debugging mode")
	fs.Bool("verbose", false, "Enable verbose logging")
	fs.Bool("reset", false, "Clear stored WiFi credentials before starting")
	fs.String("interface", defaults["interface"].(string), "Wireless interface to manage")
	fs.Int("http-port", defaults["http.port"].(int), "Port of the configuration portal")
	fs.Int("dns-port", defaults["dns.port"].(int), "Port of the captive DNS responder")
	fs.String("store", defaults["store.path"].(string), "Path to the credential store")

	// Parse flags
	if err := fs.Parse(o.args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	bindings := map[string]string{
		"debug":      "debug",
		"verbose":    "verbose",
		"interface":  "interface",
		"http.port":  "http-port",
		"dns.port":   "dns-port",
		"store.path": "store",
	}
	for key, name := range bindings {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Load configuration from file
	configPath := o.configPath
	if *configFlag != "" {
		configPath = *configFlag
	}
	if configPath == "" {
		configPath = os.Getenv(o.envPrefix + "_CONFIG")
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("toml")
		v.AddConfigPath(DefaultConfigDir)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, errFactory.Wrap(errors.ErrReadConfig, err)
			}
		}
	}

	// Unmarshal the configuration
	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	reset, err := fs.GetBool("reset")
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}
	config.Reset = reset

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the loaded values against the limits the daemon relies on.
func (c *Config) Validate() error {
	errFactory := errors.New()
	invalid := func(field string, value interface{}, reason string) error {
		return errFactory.Wrap(errors.ErrInvalidConfig, &fieldError{field: field, value: value, reason: reason})
	}

	switch {
	case c.Interface == "":
		return invalid("interface", c.Interface, "must not be empty")
	case c.AP.SSID == "" || len(c.AP.SSID) > 32:
		return invalid("ap.ssid", c.AP.SSID, "must be 1 to 32 bytes")
	case len(c.AP.Password) < minAPPasswordLen || len(c.AP.Password) > 64:
		return invalid("ap.password", "***", "must be 8 to 64 bytes")
	case net.ParseIP(c.AP.Address).To4() == nil:
		return invalid("ap.address", c.AP.Address, "must be an IPv4 address")
	case c.AP.Channel < 1 || c.AP.Channel > 14:
		return invalid("ap.channel", c.AP.Channel, "must be between 1 and 14")
	case c.AP.MaxClients < 1:
		return invalid("ap.max_clients", c.AP.MaxClients, "must be positive")
	case c.DNS.Port < 0 || c.DNS.Port > 65535:
		return invalid("dns.port", c.DNS.Port, "out of range")
	case c.DNS.TTL <= 0:
		return invalid("dns.ttl", c.DNS.TTL, "must be positive")
	case c.DNS.ReadTimeout <= 0:
		return invalid("dns.read_timeout", c.DNS.ReadTimeout, "must be positive")
	case c.HTTP.Port < 0 || c.HTTP.Port > 65535:
		return invalid("http.port", c.HTTP.Port, "out of range")
	case c.Store.Path == "":
		return invalid("store.path", c.Store.Path, "must not be empty")
	case c.WiFi.MaxRetry < 0:
		return invalid("wifi.max_retry", c.WiFi.MaxRetry, "must not be negative")
	case c.WiFi.ConnectTimeout <= 0:
		return invalid("wifi.connect_timeout", c.WiFi.ConnectTimeout, "must be positive")
	case c.Portal.RestartDelay < 0:
		return invalid("portal.restart_delay", c.Portal.RestartDelay, "must not be negative")
	case c.Scan.Limit < 1 || c.Scan.Limit > MaxScanLimit:
		return invalid("scan.limit", c.Scan.Limit, "must be between 1 and 20")
	case c.Telemetry.Enabled && c.Telemetry.Broker == "":
		return invalid("telemetry.broker", c.Telemetry.Broker, "required when telemetry is enabled")
	case c.Telemetry.Enabled && c.Telemetry.Interval <= 0:
		return invalid("telemetry.interval", c.Telemetry.Interval, "must be positive")
	}

	return nil
}

// APAddress returns the parsed access point address.
func (c *Config) APAddress() net.IP {
	return net.ParseIP(c.AP.Address).To4()
}
