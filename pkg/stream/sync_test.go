package stream_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsync/sync-core/pkg/stream"
)

// collect is a terminal stage counting what the destination accepted.
type collect struct {
	data    int
	commits int
}

func (c *collect) link(in stream.Stream) stream.Stream {
	return stream.HandlersLink(stream.Handlers{
		Data: func(op stream.Operation) ([]stream.Operation, error) {
			c.data++
			return []stream.Operation{op}, nil
		},
		Commit: func(op stream.Operation) ([]stream.Operation, error) {
			c.commits++
			return []stream.Operation{op}, nil
		},
	})(in)
}

func TestSync_CountsDataAndCommits(t *testing.T) {
	sink := &collect{}
	stats, err := stream.Sync(context.Background(), stream.Params{
		Source: stream.FromOperations(
			stream.Data("t1", "transaction", nil),
			stream.Data("t2", "transaction", nil),
			stream.Commit(),
		),
		Destination: sink.link,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Data)
	assert.Equal(t, 1, stats.Commits)
	assert.Equal(t, 0, stats.Dropped)
	assert.Equal(t, 2, sink.data)
	assert.Equal(t, 1, sink.commits)
}

func TestSync_DroppedReflectsFiltering(t *testing.T) {
	sink := &collect{}
	onlyTransactions := stream.MapData(func(d *stream.DataPayload) (*stream.DataPayload, error) {
		if d.EntityName != "transaction" {
			return nil, nil
		}
		return d, nil
	})

	stats, err := stream.Sync(context.Background(), stream.Params{
		Source: stream.FromOperations(
			stream.Data("t1", "transaction", nil),
			stream.Data("a1", "account", nil),
			stream.Data("a2", "account", nil),
			stream.Commit(),
		),
		Links:       []stream.Link{onlyTransactions},
		Destination: sink.link,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Data)
	assert.Equal(t, 2, stats.Dropped)
	assert.Equal(t, 1, stats.Commits)
}

func TestSync_DestinationErrorAborts(t *testing.T) {
	boom := errors.New("disk full")
	failing := stream.HandlersLink(stream.Handlers{
		Commit: func(op stream.Operation) ([]stream.Operation, error) {
			return nil, boom
		},
	})

	_, err := stream.Sync(context.Background(), stream.Params{
		Source: stream.FromOperations(
			stream.Data("t1", "transaction", nil),
			stream.Commit(),
		),
		Destination: failing,
	})
	assert.ErrorIs(t, err, boom)
}

func TestSync_RequiresSourceAndDestination(t *testing.T) {
	_, err := stream.Sync(context.Background(), stream.Params{Destination: func(in stream.Stream) stream.Stream { return in }})
	require.Error(t, err)

	_, err = stream.Sync(context.Background(), stream.Params{Source: stream.Empty()})
	require.Error(t, err)
}

func TestSync_WatchTreatsCancelAsSuccess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	emitted := 0
	subscription := stream.FromFunc(func() (stream.Operation, bool, error) {
		emitted++
		if emitted == 5 {
			cancel()
		}
		return stream.Data(fmt.Sprintf("t%d", emitted), "transaction", nil), true, nil
	})

	sink := &collect{}
	stats, err := stream.Sync(ctx, stream.Params{
		Source:      subscription,
		Destination: sink.link,
		Watch:       true,
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.Data, 4)
}

func TestSync_NonWatchCancelIsError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := stream.Sync(ctx, stream.Params{
		Source:      stream.FromOperations(stream.Data("t1", "transaction", nil)),
		Destination: func(in stream.Stream) stream.Stream { return in },
	})
	assert.ErrorIs(t, err, context.Canceled)
}

// Large batches must arrive complete: the pull model only requests the
// next operation after the previous one cleared the whole chain, so
// volume alone can never truncate a run.
func TestSync_LargeVolumeLossless(t *testing.T) {
	const total = 100_000
	const batch = 1000

	emitted := 0
	committed := false
	source := stream.FromFunc(func() (stream.Operation, bool, error) {
		if emitted < total {
			emitted++
			op := stream.Data(fmt.Sprintf("txn-%06d", emitted), "transaction", map[string]any{"seq": emitted})
			return op, true, nil
		}
		if !committed {
			committed = true
			return stream.Commit(), true, nil
		}
		return stream.Operation{}, false, nil
	})

	// Interior checkpoints every batch records.
	n := 0
	checkpoints := stream.HandlersLink(stream.Handlers{
		Data: func(op stream.Operation) ([]stream.Operation, error) {
			n++
			if n%batch == 0 {
				return []stream.Operation{op, stream.Commit()}, nil
			}
			return []stream.Operation{op}, nil
		},
	})

	sink := &collect{}
	stats, err := stream.Sync(context.Background(), stream.Params{
		Source:      source,
		Links:       []stream.Link{checkpoints},
		Destination: sink.link,
	})
	require.NoError(t, err)
	assert.Equal(t, total, stats.Data)
	assert.Equal(t, total, sink.data)
	assert.Equal(t, 0, stats.Dropped)
	assert.Equal(t, total/batch+1, stats.Commits)
}

func TestStats_String(t *testing.T) {
	s := &stream.Stats{Data: 3, Dropped: 1, Commits: 2}
	assert.Equal(t, "3 data, 1 dropped, 2 commits", s.String())
}
