// Package mem provides in-memory source and destination providers.
// They back the engine's tests and the CLI demo pipeline: the source
// replays a fixed operation sequence, the destination collects accepted
// records into an inspectable sink.
package mem

import (
	"context"
	"sync"

	"github.com/finsync/sync-core/pkg/provider"
	"github.com/finsync/sync-core/pkg/stream"
)

// Sink collects everything a destination accepted.
type Sink struct {
	mu      sync.Mutex
	records []stream.DataPayload
	commits int
}

// NewSink creates an empty sink.
func NewSink() *Sink { return &Sink{} }

// Records returns the accepted data payloads in arrival order.
func (s *Sink) Records() []stream.DataPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]stream.DataPayload, len(s.records))
	copy(out, s.records)
	return out
}

// Commits returns the number of commit markers observed.
func (s *Sink) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

func (s *Sink) accept(data *stream.DataPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, *data)
}

func (s *Sink) commit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits++
}

// Source builds a source-only provider replaying the given operations.
func Source(name string, ops ...stream.Operation) *provider.Provider {
	return &provider.Provider{
		Name:           name,
		SourceEntities: []string{"account", "transaction"},
		SourceSync: func(ctx context.Context, req provider.SourceSyncRequest) (stream.Stream, error) {
			return stream.FromOperations(ops...), nil
		},
	}
}

// Destination builds a destination-only provider writing into sink.
func Destination(name string, sink *Sink) *provider.Provider {
	return &provider.Provider{
		Name: name,
		DestinationSync: func(ctx context.Context, req provider.DestinationSyncRequest) (stream.Link, error) {
			return stream.HandlersLink(stream.Handlers{
				Data: func(op stream.Operation) ([]stream.Operation, error) {
					sink.accept(op.Data)
					return []stream.Operation{op}, nil
				},
				Commit: func(op stream.Operation) ([]stream.Operation, error) {
					sink.commit()
					return []stream.Operation{op}, nil
				},
			}), nil
		},
	}
}
