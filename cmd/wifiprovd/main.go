package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"codeberg.org/mutker/wifiprovd/internal/config"
	"codeberg.org/mutker/wifiprovd/internal/credentials"
	"codeberg.org/mutker/wifiprovd/internal/discovery"
	"codeberg.org/mutker/wifiprovd/internal/dnsserver"
	"codeberg.org/mutker/wifiprovd/internal/errors"
	"codeberg.org/mutker/wifiprovd/internal/history"
	"codeberg.org/mutker/wifiprovd/internal/logger"
	"codeberg.org/mutker/wifiprovd/internal/metrics"
	"codeberg.org/mutker/wifiprovd/internal/pid"
	"codeberg.org/mutker/wifiprovd/internal/portal"
	"codeberg.org/mutker/wifiprovd/internal/radio"
	"codeberg.org/mutker/wifiprovd/internal/restart"
	"codeberg.org/mutker/wifiprovd/internal/scan"
	"codeberg.org/mutker/wifiprovd/internal/storage"
	"codeberg.org/mutker/wifiprovd/internal/telemetry"
	"codeberg.org/mutker/wifiprovd/internal/wifi"
	"github.com/prometheus/client_golang/prometheus"
)

const shutdownTimeout = 5 * time.Second

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Debug, cfg.Verbose, logger.IsService())
	logger.Debug().Msg("Config loaded")
}

// daemon holds everything that has to be released on shutdown, in the
// reverse order of construction.
type daemon struct {
	pidFile   *pid.File
	store     *storage.Store
	history   history.Recorder
	manager   *wifi.Manager
	dns       *dnsserver.Responder
	portal    *portal.Server
	restarter *restart.Restarter
	advertise *discovery.Advertiser
	radio     radio.Driver
	creds     *credentials.Store
	metrics   *metrics.Prometheus
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	d, err := setup()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize")
	}

	restartRequested, err := run(ctx, d)
	d.shutdown()
	if err != nil {
		logger.Error().Err(err).Msg("Device has neither station link nor access point")
		os.Exit(1)
	}

	if restartRequested {
		logger.Info().Msg("Restarting to apply new credentials")
		if err := restart.Exec(); err != nil {
			logger.Fatal().Err(err).Msg("failed to restart")
		}
	}

	logger.Info().Msg("Exiting...")
}

func setup() (*daemon, error) {
	d := &daemon{}

	pidFile, err := pid.Acquire(pid.DefaultPath)
	if err != nil {
		return nil, err
	}
	d.pidFile = pidFile

	storeCfg := storage.DefaultConfig()
	storeCfg.DBPath = cfg.Store.Path
	d.store, err = storage.Open(storeCfg, logger.With("storage"))
	if err != nil {
		d.shutdown()
		return nil, err
	}

	d.creds = credentials.NewStore(d.store, logger.With("credentials"))
	if cfg.Reset {
		if err := d.creds.Clear(context.Background()); err != nil {
			d.shutdown()
			return nil, err
		}
	}

	historyCfg := history.DefaultConfig()
	historyCfg.Enabled = cfg.History.Enabled
	d.history, err = history.New(d.store.DB(), historyCfg, logger.With("history"))
	if err != nil {
		d.shutdown()
		return nil, err
	}

	d.metrics = metrics.NewPrometheus(prometheus.NewRegistry())
	d.radio = radio.NewNMCLI(cfg.Interface, logger.With("radio"))
	d.restarter = restart.New(logger.With("restart"))

	d.dns, err = dnsserver.New(dnsserver.Config{
		Answer:      cfg.APAddress(),
		Port:        cfg.DNS.Port,
		TTL:         cfg.DNS.TTL,
		ReadTimeout: cfg.DNS.ReadTimeout,
	}, d.metrics, logger.With("dns"))
	if err != nil {
		d.shutdown()
		return nil, err
	}

	observers := []wifi.Option{
		wifi.WithObserver(recordTransitions(d.history)),
	}
	if cfg.Discovery.Enabled {
		d.advertise = newAdvertiser(d.radio.HardwareAddr())
		if d.advertise != nil {
			observers = append(observers, wifi.WithObserver(d.advertise))
		}
	}

	// The portal needs the manager for status, and the manager activates
	// the portal, so the surface is filled in after both exist.
	surface := &portal.Surface{DNS: d.dns}

	d.manager = wifi.New(wifi.Config{
		MaxRetry:       cfg.WiFi.MaxRetry,
		ConnectTimeout: cfg.WiFi.ConnectTimeout,
		AP: radio.APConfig{
			SSID:       cfg.AP.SSID,
			Password:   cfg.AP.Password,
			Address:    cfg.APAddress(),
			Channel:    cfg.AP.Channel,
			MaxClients: cfg.AP.MaxClients,
		},
	}, d.radio, d.creds, logger.With("wifi"),
		append(observers, wifi.WithSurface(surface), wifi.WithMetrics(d.metrics))...,
	)

	d.portal, err = portal.New(portal.Config{
		Addr:         ":" + strconv.Itoa(cfg.HTTP.Port),
		APAddress:    cfg.APAddress(),
		RestartDelay: cfg.Portal.RestartDelay,
	}, portal.Deps{
		Scanner:     scan.NewCache(d.radio, cfg.Scan.Limit, d.metrics, logger.With("scan")),
		Credentials: d.creds,
		Status:      d.manager,
		Device:      d.radio,
		Restarter:   d.restarter,
		History:     d.history,
		Metrics:     d.metrics,
	}, logger.With("portal"))
	if err != nil {
		d.shutdown()
		return nil, err
	}
	surface.Server = d.portal

	return d, nil
}

// run boots the state machine and blocks until a signal or a scheduled
// restart. It reports whether a restart was requested.
func run(ctx context.Context, d *daemon) (bool, error) {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	if d.advertise != nil {
		go d.advertise.Run(runCtx)
	}

	d.manager.Init(runCtx)
	if err := d.manager.Boot(runCtx); err != nil {
		if errors.HasCode(err, wifi.ErrCanceled) {
			return false, nil
		}
		return false, err
	}

	if d.manager.IsAPFallback() {
		printBanner()
	}

	if cfg.Telemetry.Enabled && d.manager.IsConnected() {
		startTelemetry(runCtx, d)
	}

	select {
	case <-ctx.Done():
		return false, nil
	case <-d.restarter.Requested():
		return true, nil
	}
}

func (d *daemon) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if d.portal != nil {
		if err := d.portal.Shutdown(ctx); err != nil {
			logger.Warn().Err(err).Msg("failed to stop portal")
		}
	}
	if d.dns != nil {
		d.dns.Stop()
	}
	if d.manager != nil {
		d.manager.Close()
	}
	if d.history != nil {
		if err := d.history.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to flush connection history")
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close store")
		}
	}
	if d.pidFile != nil {
		if err := d.pidFile.Release(); err != nil {
			logger.Warn().Err(err).Msg("failed to remove PID file")
		}
	}
}

func recordTransitions(rec history.Recorder) wifi.Observer {
	return wifi.ObserverFunc(func(t wifi.Transition) {
		err := rec.Record(history.Entry{
			Time:   t.Time,
			From:   t.From.String(),
			To:     t.To.String(),
			Retry:  t.Retry,
			Reason: t.Reason,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("failed to record transition")
		}
	})
}

func newAdvertiser(hw net.HardwareAddr) *discovery.Advertiser {
	mac := strings.ToUpper(hw.String())
	instance := "wifiprovd"
	if mac != "" {
		instance += "-" + strings.ReplaceAll(mac, ":", "")
	}

	a, err := discovery.New(discovery.Config{
		Instance:  instance,
		Service:   discovery.DefaultService,
		Domain:    discovery.DefaultDomain,
		Port:      cfg.HTTP.Port,
		Interface: cfg.Interface,
		Text:      []string{"path=/", "mac=" + mac},
	}, logger.With("discovery"))
	if err != nil {
		logger.Warn().Err(err).Msg("mDNS advertisement disabled")
		return nil
	}
	return a
}

func startTelemetry(ctx context.Context, d *daemon) {
	telemetryCfg := telemetry.DefaultConfig()
	telemetryCfg.Broker = cfg.Telemetry.Broker
	telemetryCfg.Interval = cfg.Telemetry.Interval
	telemetryCfg.TopicPrefix = cfg.Telemetry.TopicPrefix

	pub, err := telemetry.New(telemetryCfg, d.manager, d.radio.HardwareAddr(), logger.With("telemetry"))
	if err != nil {
		logger.Warn().Err(err).Msg("Heartbeat disabled")
		return
	}

	go func() {
		if err := pub.Run(ctx); err != nil {
			logger.Warn().Err(err).Msg("Heartbeat stopped")
		}
	}()
}

func printBanner() {
	fmt.Println("==================================================")
	fmt.Println("WiFi setup mode")
	fmt.Printf("  Network:  %s\n", cfg.AP.SSID)
	fmt.Printf("  Password: %s\n", cfg.AP.Password)
	fmt.Printf("  Portal:   http://%s/\n", cfg.APAddress())
	fmt.Println("==================================================")
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
