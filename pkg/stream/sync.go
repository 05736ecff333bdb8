package stream

import (
	"context"
	"errors"
	"fmt"
)

// Params configures one sync execution.
type Params struct {
	// Source yields the raw operation stream.
	Source Stream

	// Links are applied in order between source and destination. Links
	// closer to the source see raw provider data; links closer to the
	// destination see standardized data.
	Links []Link

	// Destination is the terminal stage. It is itself a transformer so
	// destination providers can batch writes and emit metaUpdate
	// operations after a flush.
	Destination Link

	// Watch keeps the run alive past the first commit: the source is a
	// subscription and success means "no error", not termination.
	// Cancelling the context detaches a watch run cleanly.
	Watch bool
}

// Stats summarizes one sync execution. Counts, never raw data.
type Stats struct {
	// Data is the number of data operations accepted at the destination.
	Data int
	// Dropped is the number of data operations filtered by the link
	// chain before reaching the destination.
	Dropped int
	// Commits is the number of checkpoint markers observed.
	Commits int
}

func (s *Stats) String() string {
	return fmt.Sprintf("%d data, %d dropped, %d commits", s.Data, s.Dropped, s.Commits)
}

// countStream counts data operations passing a point in the chain.
type countStream struct {
	Stream
	data int
}

func (s *countStream) Next() bool {
	if !s.Stream.Next() {
		return false
	}
	if s.Stream.Value().Kind == KindData {
		s.data++
	}
	return true
}

// Sync drives the composed pipeline to completion and returns run
// statistics. Any link or destination error aborts the run; operations
// already accepted by the destination up to the last commit are
// considered durable. No retry is attempted here — retry is a provider
// responsibility inside sourceSync/destinationSync.
func Sync(ctx context.Context, p Params) (*Stats, error) {
	if p.Source == nil {
		return nil, errors.New("sync: source is required")
	}
	if p.Destination == nil {
		return nil, errors.New("sync: destination is required")
	}

	atSource := &countStream{Stream: WithContext(ctx, p.Source)}
	tail := Compose(atSource, p.Links...)
	out := p.Destination(tail)
	defer out.Close()

	stats := &Stats{}
	for out.Next() {
		switch out.Value().Kind {
		case KindData:
			stats.Data++
		case KindCommit:
			stats.Commits++
		}
	}
	if err := out.Err(); err != nil {
		if p.Watch && errors.Is(err, context.Canceled) {
			// A watch subscription only ends by cancellation; treat a
			// clean detach as success.
			stats.Dropped = atSource.data - stats.Data
			return stats, nil
		}
		return nil, err
	}

	stats.Dropped = atSource.data - stats.Data
	if stats.Dropped < 0 {
		stats.Dropped = 0
	}
	return stats, nil
}
