// Package scan caches wireless scan results and makes sure only one scan
// runs on the radio at a time.
package scan

import (
	"context"
	"sort"
	"sync"

	"codeberg.org/mutker/wifiprovd/internal/errors"
	"codeberg.org/mutker/wifiprovd/internal/logger"
	"codeberg.org/mutker/wifiprovd/internal/metrics"
	"codeberg.org/mutker/wifiprovd/internal/radio"
)

type Outcome int

const (
	Cached Outcome = iota
	InProgress
	Fresh
	Empty
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Cached:
		return "cached"
	case InProgress:
		return "in_progress"
	case Fresh:
		return "fresh"
	case Empty:
		return "empty"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the answer to one Scan call. Networks is a private copy.
type Result struct {
	Outcome  Outcome
	Networks []radio.Network
	Err      error
}

// Scanner is the radio primitive behind the cache.
type Scanner interface {
	Scan(ctx context.Context) ([]radio.Network, error)
}

type Cache struct {
	scanner Scanner
	limit   int
	metrics metrics.Collector
	logger  logger.Logger

	mu       sync.Mutex
	results  []radio.Network
	inFlight bool
}

func NewCache(scanner Scanner, limit int, m metrics.Collector, log logger.Logger) *Cache {
	if m == nil {
		m = metrics.Noop()
	}
	return &Cache{scanner: scanner, limit: limit, metrics: m, logger: log}
}

// Scan returns cached results unless force is set or none exist, in which
// case it scans. A caller arriving while a scan runs gets InProgress
// immediately and should poll again.
func (c *Cache) Scan(ctx context.Context, force bool) Result {
	res := c.scan(ctx, force)
	c.metrics.ScanFinished(res.Outcome.String())
	return res
}

func (c *Cache) scan(ctx context.Context, force bool) Result {
	errFactory := errors.New()

	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return Result{Outcome: InProgress, Err: errFactory.New(ErrRadioBusy)}
	}
	if !force && len(c.results) > 0 {
		networks := clone(c.results)
		c.mu.Unlock()
		return Result{Outcome: Cached, Networks: networks}
	}
	c.inFlight = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
	}()

	c.logger.Debug().Bool("force", force).Msg("Starting WiFi scan")

	found, err := c.scanner.Scan(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("WiFi scan failed")
		return Result{Outcome: Failed, Err: errFactory.Wrap(ErrRadioFault, err)}
	}

	networks := clone(found)
	sort.SliceStable(networks, func(i, j int) bool {
		return networks[i].Signal > networks[j].Signal
	})
	if len(networks) > c.limit {
		networks = networks[:c.limit]
	}

	c.mu.Lock()
	c.results = networks
	c.mu.Unlock()

	c.logger.Info().Int("found", len(found)).Int("kept", len(networks)).Msg("WiFi scan completed")

	if len(networks) == 0 {
		return Result{Outcome: Empty}
	}
	return Result{Outcome: Fresh, Networks: clone(networks)}
}

// Snapshot returns the cached results without scanning.
func (c *Cache) Snapshot() []radio.Network {
	c.mu.Lock()
	defer c.mu.Unlock()
	return clone(c.results)
}

// Scanning reports whether a scan is in flight.
func (c *Cache) Scanning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

func clone(n []radio.Network) []radio.Network {
	if n == nil {
		return nil
	}
	return append([]radio.Network(nil), n...)
}
