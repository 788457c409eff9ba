package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/signalsfoundry/framebridge/internal/logging"
	"github.com/signalsfoundry/framebridge/model"
)

const maxLineBytes = 16 << 20

// Pacer advances replay time; timectrl.TimeController implements it.
type Pacer interface {
	Advance(ctx context.Context, simTime time.Time) error
}

// ReplayStats summarises a replay.
type ReplayStats struct {
	Sent     int
	Rejected int
}

// ReplayJSONL reads one link-states document per line from r and sends the
// snapshots to out in order. Undecodable lines are logged and skipped. A nil
// pacer replays as fast as out accepts.
func ReplayJSONL(ctx context.Context, r io.Reader, out chan<- model.PoseSnapshot, pacer Pacer, log logging.Logger) (ReplayStats, error) {
	if log == nil {
		log = logging.Noop()
	}
	var stats ReplayStats

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}
		snap, err := DecodeSnapshot(data)
		if err != nil {
			stats.Rejected++
			log.Warn(ctx, "skipping replay line", logging.Int("line", line), logging.Err(err))
			continue
		}
		if pacer != nil {
			if err := pacer.Advance(ctx, snap.Stamp); err != nil {
				return stats, err
			}
		}
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case out <- snap:
			stats.Sent++
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("read replay line %d: %w", line+1, err)
	}
	return stats, nil
}

// JSONLSink writes each broadcast batch as one JSON line. It implements
// bridge.Sink.
type JSONLSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewJSONLSink writes to w.
func NewJSONLSink(w io.Writer) *JSONLSink {
	return &JSONLSink{w: w}
}

// Publish implements bridge.Sink.
func (s *JSONLSink) Publish(_ context.Context, stamp time.Time, edges []model.TransformEdge) error {
	if s == nil || s.w == nil {
		return errors.New("jsonl sink has no writer")
	}
	data, err := EncodeEdges(stamp, edges)
	if err != nil {
		return fmt.Errorf("encode edges: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(data); err != nil {
		return fmt.Errorf("write edges: %w", err)
	}
	return nil
}
