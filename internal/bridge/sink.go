package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/signalsfoundry/framebridge/model"
)

// Sink receives the edges of one broadcast snapshot.
type Sink interface {
	Publish(ctx context.Context, stamp time.Time, edges []model.TransformEdge) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, stamp time.Time, edges []model.TransformEdge) error

// Publish implements Sink.
func (f SinkFunc) Publish(ctx context.Context, stamp time.Time, edges []model.TransformEdge) error {
	return f(ctx, stamp, edges)
}

// MultiSink publishes to every sink in order and joins their errors.
type MultiSink []Sink

// Publish implements Sink.
func (m MultiSink) Publish(ctx context.Context, stamp time.Time, edges []model.TransformEdge) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, stamp, edges); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
