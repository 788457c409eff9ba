package transport

import (
	"context"
	"testing"
	"time"

	"github.com/signalsfoundry/framebridge/model"
)

type hubMetricsStub struct {
	subscribers int
	dropped     int
}

func (m *hubMetricsStub) SetWatchSubscribers(n int) { m.subscribers = n }
func (m *hubMetricsStub) RecordWatchDropped()       { m.dropped++ }

func edgesFor(children ...string) []model.TransformEdge {
	out := make([]model.TransformEdge, len(children))
	for i, c := range children {
		out[i] = model.TransformEdge{Parent: "gazebo_world", Child: c}
	}
	return out
}

func TestHubFansOutWithPrefixFilter(t *testing.T) {
	metrics := &hubMetricsStub{}
	hub := NewHub(4, WithHubMetrics(metrics))

	all, cancelAll := hub.Subscribe("")
	defer cancelAll()
	carts, cancelCarts := hub.Subscribe("cart_1")
	defer cancelCarts()

	if metrics.subscribers != 2 {
		t.Fatalf("subscribers = %d, want 2", metrics.subscribers)
	}

	stamp := time.Unix(1, 0)
	if err := hub.Publish(context.Background(), stamp, edgesFor("cart_1::wheel", "arm_2::shoulder")); err != nil {
		t.Fatalf("Publish error: %v", err)
	}

	got := <-all.C
	if len(got.Edges) != 2 || !got.Stamp.Equal(stamp) {
		t.Fatalf("unfiltered batch = %+v, want 2 edges at %v", got, stamp)
	}
	got = <-carts.C
	if len(got.Edges) != 1 || got.Edges[0].Child != "cart_1::wheel" {
		t.Fatalf("filtered batch = %+v, want only cart_1::wheel", got.Edges)
	}
}

func TestHubSkipsEmptyFilteredBatch(t *testing.T) {
	hub := NewHub(1)
	sub, cancel := hub.Subscribe("forklift")
	defer cancel()

	_ = hub.Publish(context.Background(), time.Unix(1, 0), edgesFor("cart_1::wheel"))

	select {
	case b := <-sub.C:
		t.Fatalf("received %+v, want nothing", b)
	default:
	}
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	metrics := &hubMetricsStub{}
	hub := NewHub(1, WithHubMetrics(metrics))
	sub, cancel := hub.Subscribe("")
	defer cancel()

	for i := 0; i < 3; i++ {
		if err := hub.Publish(context.Background(), time.Unix(int64(i), 0), edgesFor("a::b")); err != nil {
			t.Fatalf("Publish error: %v", err)
		}
	}
	if metrics.dropped != 2 {
		t.Fatalf("dropped = %d, want 2", metrics.dropped)
	}
	first := <-sub.C
	if !first.Stamp.Equal(time.Unix(0, 0)) {
		t.Fatalf("kept batch stamp = %v, want the first one", first.Stamp)
	}
}

func TestHubCloseEndsSubscriptions(t *testing.T) {
	hub := NewHub(0)
	sub, cancel := hub.Subscribe("")
	hub.Close()
	cancel()

	if _, ok := <-sub.C; ok {
		t.Fatalf("subscription channel still open after Close")
	}
	if hub.Len() != 0 {
		t.Fatalf("Len = %d, want 0", hub.Len())
	}

	late, _ := hub.Subscribe("")
	if _, ok := <-late.C; ok {
		t.Fatalf("subscription after Close is open")
	}
}
