package timectrl

import (
	"context"
	"strings"
	"sync"
	"time"
)

// SimClock gives read access to simulation time.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
}

// Mode describes how the TimeController follows simulation time.
type Mode int

const (
	// RealTime waits on the wall clock for every simulated interval.
	RealTime Mode = iota
	// Accelerated advances as soon as asked.
	Accelerated
)

func (m Mode) String() string {
	switch m {
	case RealTime:
		return "realtime"
	case Accelerated:
		return "accelerated"
	default:
		return "unknown"
	}
}

// ParseMode maps "realtime" and "accelerated", in any case, to a Mode;
// anything else is RealTime.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), "accelerated") {
		return Accelerated
	}
	return RealTime
}

// TimeController paces a replay along recorded simulation stamps and
// notifies registered listeners whenever simulation time moves.
// It implements SimClock.
type TimeController struct {
	mu   sync.RWMutex
	Mode Mode

	// Rate scales real-time pacing; 2 replays twice as fast. Zero means 1.
	Rate float64

	currentTime time.Time
	started     bool

	listeners []func(time.Time)

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewTimeController constructs a controller in the given mode.
func NewTimeController(mode Mode) *TimeController {
	return &TimeController{
		Mode:  mode,
		sleep: sleepContext,
	}
}

// Now returns the current simulation time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// AddListener registers a callback invoked after every advance.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	tc.listeners = append(tc.listeners, fn)
	tc.mu.Unlock()
}

// Advance moves simulation time to simTime. In RealTime mode it first waits
// for the simulated interval since the previous advance. The first advance
// and any backwards step (a simulation reset) do not wait.
func (tc *TimeController) Advance(ctx context.Context, simTime time.Time) error {
	tc.mu.RLock()
	prev, started, mode, rate := tc.currentTime, tc.started, tc.Mode, tc.Rate
	tc.mu.RUnlock()

	if mode == RealTime && started && simTime.After(prev) {
		wait := simTime.Sub(prev)
		if rate > 0 {
			wait = time.Duration(float64(wait) / rate)
		}
		if err := tc.sleep(ctx, wait); err != nil {
			return err
		}
	}

	tc.mu.Lock()
	tc.currentTime = simTime
	tc.started = true
	listeners := append([]func(time.Time){}, tc.listeners...)
	tc.mu.Unlock()

	for _, fn := range listeners {
		fn(simTime)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
