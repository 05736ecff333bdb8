package fs_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsync/sync-core/internal/provider/fs"
	"github.com/finsync/sync-core/pkg/provider"
	"github.com/finsync/sync-core/pkg/stream"
)

func drain(t *testing.T, s stream.Stream) []stream.Operation {
	t.Helper()
	var out []stream.Operation
	for s.Next() {
		out = append(out, s.Value())
	}
	require.NoError(t, s.Err())
	require.NoError(t, s.Close())
	return out
}

func TestParseSettings_RequiresBasePath(t *testing.T) {
	p := fs.Provider()
	_, err := p.SettingsSchema(map[string]any{})
	require.Error(t, err)
}

func TestDestinationThenSource_RoundTrip(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	p := fs.Provider()

	dest, err := p.DestinationSync(ctx, provider.DestinationSyncRequest{
		Settings: map[string]any{"basePath": base},
	})
	require.NoError(t, err)

	drain(t, dest(stream.FromOperations(
		stream.Data("t1", "transaction", map[string]any{"amount": 12.5}),
		stream.Data("a1", "account", map[string]any{"name": "Checking"}),
		stream.Commit(),
	)))

	raw, err := os.ReadFile(filepath.Join(base, "transaction", "t1.json"))
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, 12.5, doc["amount"])

	src, err := p.SourceSync(ctx, provider.SourceSyncRequest{
		Settings: map[string]any{"basePath": base},
	})
	require.NoError(t, err)
	ops := drain(t, src)

	require.Len(t, ops, 3, "two records and one commit")
	assert.Equal(t, "a1", ops[0].Data.ID, "walk order is path order")
	assert.Equal(t, "account", ops[0].Data.EntityName)
	assert.Equal(t, "t1", ops[1].Data.ID)
	assert.Equal(t, stream.KindCommit, ops[2].Kind)
}

func TestSource_MissingTreeYieldsBareCommit(t *testing.T) {
	src, err := fs.Provider().SourceSync(context.Background(), provider.SourceSyncRequest{
		Settings: map[string]any{"basePath": filepath.Join(t.TempDir(), "absent")},
	})
	require.NoError(t, err)
	ops := drain(t, src)
	require.Len(t, ops, 1)
	assert.Equal(t, stream.KindCommit, ops[0].Kind)
}

func TestDestination_OverwriteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	p := fs.Provider()

	for i := 0; i < 2; i++ {
		dest, err := p.DestinationSync(ctx, provider.DestinationSyncRequest{
			Settings: map[string]any{"basePath": base},
		})
		require.NoError(t, err)
		drain(t, dest(stream.FromOperations(
			stream.Data("t1", "transaction", map[string]any{"amount": 1.0}),
			stream.Commit(),
		)))
	}

	entries, err := os.ReadDir(filepath.Join(base, "transaction"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
