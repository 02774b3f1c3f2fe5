package source

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/skobkin/statbar/internal/metrics"
	"github.com/skobkin/statbar/internal/rate"
)

// DefaultRescanInterval is how often the set of active interfaces is refreshed.
const DefaultRescanInterval = 10 * time.Second

// Network reports aggregate receive/transmit throughput over active interfaces.
type Network struct {
	host   Host
	clock  Clock
	rescan time.Duration
	logger *slog.Logger

	ifaces   []string
	scanned  time.Time
	reprime  bool
	download rate.Counter
	upload   rate.Counter
}

// NewNetwork initialises the network source: enumerates active interfaces and
// primes both counters.
func NewNetwork(ctx context.Context, host Host, clock Clock, rescan time.Duration, logger *slog.Logger) (*Network, error) {
	if host == nil {
		return nil, &InitError{Kind: metrics.KindNetwork, Err: fmt.Errorf("nil host")}
	}
	if rescan <= 0 {
		rescan = DefaultRescanInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	n := &Network{
		host:   host,
		clock:  clockOrDefault(clock),
		rescan: rescan,
		logger: logger,
	}

	ifaces, err := host.ActiveInterfaces(ctx)
	if err != nil {
		return nil, &InitError{Kind: metrics.KindNetwork, Err: fmt.Errorf("enumerate interfaces: %w", err)}
	}
	n.ifaces = ifaces
	n.scanned = n.clock()

	received, sent, err := host.InterfaceBytes(ctx, n.ifaces)
	if err != nil {
		return nil, &InitError{Kind: metrics.KindNetwork, Err: err}
	}
	now := n.clock()
	n.download.Prime(received, now)
	n.upload.Prime(sent, now)
	return n, nil
}

func (n *Network) Kind() metrics.Kind { return metrics.KindNetwork }

func (n *Network) Sample(ctx context.Context) (metrics.Sample, error) {
	if n.maybeRescan(ctx) {
		n.reprime = true
	}

	received, sent, err := n.host.InterfaceBytes(ctx, n.ifaces)
	if err != nil {
		return metrics.Sample{}, readError("interface counters", err)
	}
	now := n.clock()

	if n.reprime {
		// Sums over a different interface set are not comparable. The flag
		// outlives failed reads until a baseline over the new set exists.
		n.download.Prime(received, now)
		n.upload.Prime(sent, now)
		n.reprime = false
		return metrics.NetworkSample(metrics.Network{}), nil
	}

	return metrics.NetworkSample(metrics.Network{
		DownMBs: n.download.Observe(received, now),
		UpMBs:   n.upload.Observe(sent, now),
	}), nil
}

func (n *Network) maybeRescan(ctx context.Context) bool {
	now := n.clock()
	if now.Sub(n.scanned) < n.rescan {
		return false
	}
	n.scanned = now

	ifaces, err := n.host.ActiveInterfaces(ctx)
	if err != nil {
		n.logger.Debug("interface rescan failed, keeping previous set", "err", err)
		return false
	}
	if slices.Equal(ifaces, n.ifaces) {
		return false
	}
	n.logger.Info("active interfaces changed", "before", n.ifaces, "after", ifaces)
	n.ifaces = ifaces
	return true
}

// Interfaces returns the interfaces currently summed.
func (n *Network) Interfaces() []string {
	return slices.Clone(n.ifaces)
}

// Close drops the rate state.
func (n *Network) Close() error {
	n.download.Reset()
	n.upload.Reset()
	return nil
}
