package scan_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/wifiprovd/internal/errors"
	"codeberg.org/mutker/wifiprovd/internal/logger"
	"codeberg.org/mutker/wifiprovd/internal/radio"
	"codeberg.org/mutker/wifiprovd/internal/radio/radiotest"
	"codeberg.org/mutker/wifiprovd/internal/scan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var homeNetworks = []radio.Network{
	{SSID: "Neighbour", Signal: -80},
	{SSID: "HomeNet", Signal: -45},
	{SSID: "Cafe", Signal: -67},
}

func newCache(d *radiotest.Driver, limit int) *scan.Cache {
	return scan.NewCache(d, limit, nil, logger.With("scan"))
}

func waitScanStarted(t *testing.T, d *radiotest.Driver) {
	t.Helper()
	select {
	case <-d.ScanStarted():
	case <-time.After(2 * time.Second):
		t.Fatal("scan never started")
	}
}

func TestConcurrentCallersGetInProgress(t *testing.T) {
	d := radiotest.New()
	d.SetNetworks(homeNetworks, nil)
	release := d.BlockScans()
	c := newCache(d, 20)
	ctx := context.Background()

	first := make(chan scan.Result, 1)
	go func() { first <- c.Scan(ctx, false) }()
	waitScanStarted(t, d)

	var wg sync.WaitGroup
	results := make([]scan.Result, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Scan(ctx, false)
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, scan.InProgress, r.Outcome)
		assert.True(t, errors.HasCode(r.Err, scan.ErrRadioBusy))
	}

	release()
	fresh := <-first
	require.Equal(t, scan.Fresh, fresh.Outcome)
	assert.Equal(t, 1, d.Count("Scan"), "exactly one physical scan")

	cached := c.Scan(ctx, false)
	assert.Equal(t, scan.Cached, cached.Outcome)
	assert.Equal(t, fresh.Networks, cached.Networks)

	again := c.Scan(ctx, false)
	assert.Equal(t, cached.Networks, again.Networks, "reads do not mutate the cache")
	assert.Equal(t, 1, d.Count("Scan"))
}

func TestResultsSortedBySignal(t *testing.T) {
	d := radiotest.New()
	d.SetNetworks(homeNetworks, nil)

	res := newCache(d, 20).Scan(context.Background(), false)
	require.Equal(t, scan.Fresh, res.Outcome)
	assert.Equal(t, []radio.Network{
		{SSID: "HomeNet", Signal: -45},
		{SSID: "Cafe", Signal: -67},
		{SSID: "Neighbour", Signal: -80},
	}, res.Networks)
}

func TestResultsTruncatedToLimit(t *testing.T) {
	d := radiotest.New()
	many := make([]radio.Network, 30)
	for i := range many {
		many[i] = radio.Network{SSID: fmt.Sprintf("net-%02d", i), Signal: -40 - i}
	}
	d.SetNetworks(many, nil)

	res := newCache(d, 20).Scan(context.Background(), false)
	require.Equal(t, scan.Fresh, res.Outcome)
	assert.Len(t, res.Networks, 20)
	assert.Equal(t, "net-00", res.Networks[0].SSID)
	assert.Equal(t, "net-19", res.Networks[19].SSID)
}

func TestForceRescans(t *testing.T) {
	d := radiotest.New()
	d.SetNetworks(homeNetworks, nil)
	c := newCache(d, 20)
	ctx := context.Background()

	require.Equal(t, scan.Fresh, c.Scan(ctx, false).Outcome)

	d.SetNetworks([]radio.Network{{SSID: "Other", Signal: -50}}, nil)
	res := c.Scan(ctx, true)
	require.Equal(t, scan.Fresh, res.Outcome)
	assert.Equal(t, "Other", res.Networks[0].SSID)
	assert.Equal(t, 2, d.Count("Scan"))
}

func TestEmptyScan(t *testing.T) {
	d := radiotest.New()
	c := newCache(d, 20)

	res := c.Scan(context.Background(), false)
	assert.Equal(t, scan.Empty, res.Outcome)
	assert.Empty(t, res.Networks)

	// nothing cached, so the next call scans again
	assert.Equal(t, scan.Empty, c.Scan(context.Background(), false).Outcome)
	assert.Equal(t, 2, d.Count("Scan"))
}

func TestFailedScanClearsInFlight(t *testing.T) {
	d := radiotest.New()
	d.SetNetworks(nil, fmt.Errorf("radio fault"))
	c := newCache(d, 20)
	ctx := context.Background()

	res := c.Scan(ctx, false)
	assert.Equal(t, scan.Failed, res.Outcome)
	assert.True(t, errors.HasCode(res.Err, scan.ErrRadioFault))
	assert.False(t, c.Scanning())

	d.SetNetworks(homeNetworks, nil)
	assert.Equal(t, scan.Fresh, c.Scan(ctx, false).Outcome)
}

func TestFailedScanKeepsPreviousResults(t *testing.T) {
	d := radiotest.New()
	d.SetNetworks(homeNetworks, nil)
	c := newCache(d, 20)
	ctx := context.Background()

	require.Equal(t, scan.Fresh, c.Scan(ctx, false).Outcome)

	d.SetNetworks(nil, fmt.Errorf("radio fault"))
	assert.Equal(t, scan.Failed, c.Scan(ctx, true).Outcome)
	assert.Len(t, c.Snapshot(), 3)
}

func TestCanceledScanClearsInFlight(t *testing.T) {
	d := radiotest.New()
	d.SetNetworks(homeNetworks, nil)
	d.BlockScans()
	c := newCache(d, 20)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan scan.Result, 1)
	go func() { done <- c.Scan(ctx, false) }()
	waitScanStarted(t, d)
	assert.True(t, c.Scanning())

	cancel()
	res := <-done
	assert.Equal(t, scan.Failed, res.Outcome)
	assert.False(t, c.Scanning())
}

func TestSnapshotIsACopy(t *testing.T) {
	d := radiotest.New()
	d.SetNetworks(homeNetworks, nil)
	c := newCache(d, 20)

	c.Scan(context.Background(), false)
	snap := c.Snapshot()
	snap[0].SSID = "mutated"

	assert.NotEqual(t, "mutated", c.Snapshot()[0].SSID)
}
