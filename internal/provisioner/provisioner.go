// Package provisioner creates upcoming daily history partitions ahead of
// time.
//
// Each cycle ensures the partition for the current UTC day and the next
// LookaheadDays days. Partitions that already exist are left untouched, so a
// cycle is idempotent and a failed cycle is simply retried on the next tick.
package provisioner

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/djlord-it/easy-watcher/internal/history"
)

// PartitionEnsurer creates a partition unless it already exists.
type PartitionEnsurer interface {
	EnsurePartition(ctx context.Context, name string) error
}

// MetricsSink defines the interface for recording provisioner metrics.
// All methods must be non-blocking.
type MetricsSink interface {
	ProvisionCompleted(partitions int, err error)
}

// Config holds provisioner configuration.
type Config struct {
	// Interval is how often the provisioner runs.
	// Default: 1 hour.
	Interval time.Duration

	// LookaheadDays is how many days after today to provision.
	// Default: 1.
	LookaheadDays int
}

// DefaultConfig returns the default provisioner configuration.
func DefaultConfig() Config {
	return Config{
		Interval:      time.Hour,
		LookaheadDays: 1,
	}
}

type Provisioner struct {
	config  Config
	store   PartitionEnsurer
	logger  *zap.SugaredLogger
	clock   clock.WithTicker
	metrics MetricsSink // optional, nil = disabled
}

func New(config Config, store PartitionEnsurer, logger *zap.SugaredLogger) *Provisioner {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.LookaheadDays < 0 {
		config.LookaheadDays = 0
	}
	return &Provisioner{
		config: config,
		store:  store,
		logger: logger,
		clock:  clock.RealClock{},
	}
}

func (p *Provisioner) WithClock(c clock.WithTicker) *Provisioner {
	p.clock = c
	return p
}

func (p *Provisioner) WithMetrics(sink MetricsSink) *Provisioner {
	p.metrics = sink
	return p
}

// Run provisions immediately, then on every interval until ctx is cancelled.
func (p *Provisioner) Run(ctx context.Context) {
	ticker := p.clock.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.logger.Infow("provisioner: started", "interval", p.config.Interval, "lookahead_days", p.config.LookaheadDays)

	_ = p.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Infow("provisioner: stopped")
			return
		case <-ticker.C():
			_ = p.RunCycle(ctx)
		}
	}
}

// RunCycle ensures every partition in the window and returns the first
// error. Remaining partitions are still attempted after a failure.
func (p *Provisioner) RunCycle(ctx context.Context) error {
	names := Partitions(p.clock.Now(), p.config.LookaheadDays)

	var (
		firstErr error
		ensured  int
	)
	for _, name := range names {
		if ctx.Err() != nil {
			if firstErr == nil {
				firstErr = ctx.Err()
			}
			break
		}
		if err := p.store.EnsurePartition(ctx, name); err != nil {
			p.logger.Errorw("provisioner: ensure partition failed", "partition", name, "error", err)
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "provision %s", name)
			}
			continue
		}
		ensured++
	}

	if p.metrics != nil {
		p.metrics.ProvisionCompleted(ensured, firstErr)
	}
	if firstErr == nil {
		p.logger.Debugw("provisioner: cycle complete", "partitions", ensured)
	}
	return firstErr
}

// Partitions lists the partition names for the UTC day of now and the
// following lookahead days, in order.
func Partitions(now time.Time, lookahead int) []string {
	day := now.UTC()
	out := make([]string, 0, lookahead+1)
	for i := 0; i <= lookahead; i++ {
		out = append(out, history.PartitionName(day.AddDate(0, 0, i)))
	}
	return out
}
