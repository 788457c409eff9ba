package timectrl

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAdvanceAcceleratedDoesNotWait(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(Accelerated)
	tc.sleep = func(context.Context, time.Duration) error {
		t.Fatalf("accelerated controller slept")
		return nil
	}

	for i := 0; i < 3; i++ {
		if err := tc.Advance(context.Background(), start.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("Advance: %v", err)
		}
	}
	if got, want := tc.Now(), start.Add(2*time.Second); !got.Equal(want) {
		t.Fatalf("Now() = %v, want %v", got, want)
	}
}

func TestAdvanceRealTimeWaitsForSimulatedInterval(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(RealTime)
	tc.Rate = 2
	var waits []time.Duration
	tc.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	steps := []time.Time{
		start,
		start.Add(100 * time.Millisecond),
		start.Add(300 * time.Millisecond),
		start, // reset
	}
	for _, s := range steps {
		if err := tc.Advance(context.Background(), s); err != nil {
			t.Fatalf("Advance(%v): %v", s, err)
		}
	}

	want := []time.Duration{50 * time.Millisecond, 100 * time.Millisecond}
	if len(waits) != len(want) {
		t.Fatalf("waits = %v, want %v", waits, want)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Fatalf("waits[%d] = %v, want %v", i, waits[i], want[i])
		}
	}
}

func TestAdvanceNotifiesListeners(t *testing.T) {
	tc := NewTimeController(Accelerated)
	var seen []time.Time
	tc.AddListener(func(t time.Time) { seen = append(seen, t) })

	at := time.Unix(10, 0)
	if err := tc.Advance(context.Background(), at); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if len(seen) != 1 || !seen[0].Equal(at) {
		t.Fatalf("listener saw %v, want [%v]", seen, at)
	}
}

func TestAdvanceHonoursCancellation(t *testing.T) {
	tc := NewTimeController(RealTime)
	ctx, cancel := context.WithCancel(context.Background())

	if err := tc.Advance(ctx, time.Unix(0, 0)); err != nil {
		t.Fatalf("first Advance: %v", err)
	}
	cancel()
	err := tc.Advance(ctx, time.Unix(60, 0))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Advance after cancel = %v, want context.Canceled", err)
	}
	if got := tc.Now(); !got.Equal(time.Unix(0, 0)) {
		t.Fatalf("Now() = %v, want unchanged", got)
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
	}{
		{"accelerated", Accelerated},
		{"Accelerated", Accelerated},
		{" ACCELERATED ", Accelerated},
		{"realtime", RealTime},
		{"RealTime", RealTime},
		{"", RealTime},
		{"fast", RealTime},
	}
	for _, tt := range tests {
		if got := ParseMode(tt.in); got != tt.want {
			t.Errorf("ParseMode(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if Accelerated.String() != "accelerated" {
		t.Fatalf("Accelerated.String() = %q", Accelerated.String())
	}
}
