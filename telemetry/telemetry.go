// Package telemetry keeps windowed counters for the figures shown next to
// the remote screen: bandwidth, tiles, cache hits, compression ratio.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Kind selects how a counter turns its samples into a window value.
type Kind uint8

const (
	// Rate is the sum of the samples per second of window.
	Rate Kind = iota
	// Total is the sum of the samples.
	Total
	// Average is the mean of the samples, 0 without samples.
	Average
)

func (k Kind) String() string {
	switch k {
	case Rate:
		return "rate"
	case Total:
		return "total"
	case Average:
		return "average"
	}
	return fmt.Sprintf("unknown(%d)", uint8(k))
}

// A Counter accumulates samples for the current window.
type Counter struct {
	name string
	kind Kind

	mu      sync.Mutex
	sum     float64
	samples int
}

// Name returns the name given to Registry.Counter.
func (c *Counter) Name() string { return c.name }

// Add records a sample.
func (c *Counter) Add(v float64) {
	c.mu.Lock()
	c.sum += v
	c.samples++
	c.mu.Unlock()
}

// close ends the window, returning its value, and starts a new one.
func (c *Counter) close(window time.Duration) Reading {
	c.mu.Lock()
	sum, samples := c.sum, c.samples
	c.sum, c.samples = 0, 0
	c.mu.Unlock()

	r := Reading{Name: c.name, Kind: c.kind, Samples: samples}
	switch c.kind {
	case Rate:
		if window > 0 {
			r.Value = sum / window.Seconds()
		}
	case Total:
		r.Value = sum
	case Average:
		if samples > 0 {
			r.Value = sum / float64(samples)
		}
	}
	return r
}

// A Reading is the value of one counter over one window.
type Reading struct {
	Name    string
	Kind    Kind
	Value   float64
	Samples int
}

// A Registry owns a set of counters and closes their windows together.
type Registry struct {
	logger *slog.Logger

	mu       sync.Mutex
	counters []*Counter
	start    time.Time
}

// NewRegistry returns an empty registry whose first window starts now. A
// nil logger discards log output.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{logger: logger, start: time.Now()}
}

// Counter returns the counter with the given name, creating it with kind
// if needed.
func (r *Registry) Counter(name string, kind Kind) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.counters {
		if c.name == name {
			return c
		}
	}
	c := &Counter{name: name, kind: kind}
	r.counters = append(r.counters, c)
	return c
}

// Flush closes the current window at now and returns one reading per
// counter, in creation order.
func (r *Registry) Flush(now time.Time) []Reading {
	r.mu.Lock()
	window := now.Sub(r.start)
	r.start = now
	counters := append([]*Counter(nil), r.counters...)
	r.mu.Unlock()

	readings := make([]Reading, len(counters))
	for i, c := range counters {
		readings[i] = c.close(window)
	}
	return readings
}

// Run closes a window every interval until ctx is done, passing the
// readings to report.
func (r *Registry) Run(ctx context.Context, interval time.Duration, report func([]Reading)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			readings := r.Flush(now)
			if r.logger.Enabled(ctx, slog.LevelDebug) {
				attrs := make([]any, 0, 2*len(readings))
				for _, reading := range readings {
					attrs = append(attrs, reading.Name, reading.Value)
				}
				r.logger.Debug("telemetry", attrs...)
			}
			if report != nil {
				report(readings)
			}
		}
	}
}
