package meta_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsync/sync-core/internal/meta"
	"github.com/finsync/sync-core/pkg/kvstore"
	"github.com/finsync/sync-core/pkg/stream"
)

func drainLink(t *testing.T, link stream.Link, ops ...stream.Operation) []stream.Operation {
	t.Helper()
	s := link(stream.FromOperations(ops...))
	var out []stream.Operation
	for s.Next() {
		out = append(out, s.Value())
	}
	require.NoError(t, s.Err())
	require.NoError(t, s.Close())
	return out
}

func TestPostSourceLink_PatchesSettingsAndPersistsInstitution(t *testing.T) {
	ctx := context.Background()
	svc := meta.NewService(kvstore.NewMemoryStore(), nil)

	out := drainLink(t, svc.PostSourceLink(ctx),
		stream.ConnUpdate("conn_brick_bca",
			map[string]any{"cursor": "2026-08"},
			map[string]any{"name": "Bank Central Asia"},
		),
		stream.Data("t1", "transaction", nil),
		stream.Commit(),
	)

	require.Len(t, out, 3, "connUpdate passes through, nothing is filtered")
	assert.Equal(t, stream.KindConnUpdate, out[0].Kind)

	conn, err := svc.Get(ctx, "conn_brick_bca")
	require.NoError(t, err)
	assert.Equal(t, "2026-08", conn["settings"].(map[string]any)["cursor"])
	assert.Equal(t, "ins_brick_bca", conn["institutionId"])

	ins, err := svc.Get(ctx, "ins_brick_bca")
	require.NoError(t, err)
	assert.Equal(t, "Bank Central Asia", ins["external"].(map[string]any)["name"])
}

func TestPostSourceLink_NoInstitutionNoRecord(t *testing.T) {
	ctx := context.Background()
	svc := meta.NewService(kvstore.NewMemoryStore(), nil)

	drainLink(t, svc.PostSourceLink(ctx),
		stream.ConnUpdate("conn_fs_a", map[string]any{"cursor": "x"}, nil),
	)

	conn, err := svc.Get(ctx, "conn_fs_a")
	require.NoError(t, err)
	_, hasInstitution := conn["institutionId"]
	assert.False(t, hasInstitution)

	entries, err := svc.ListInstitutions(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPostDestinationLink_PatchesConnectionAndPipeline(t *testing.T) {
	ctx := context.Background()
	svc := meta.NewService(kvstore.NewMemoryStore(), nil)

	out := drainLink(t, svc.PostDestinationLink(ctx, "pipe_1"),
		stream.MetaUpdate("conn_pg_dest",
			map[string]any{"lastBatch": "b9"},
			map[string]any{"since": "2026-08-01"},
			map[string]any{"table": "raw_entity"},
		),
	)
	require.Len(t, out, 1)

	conn, err := svc.Get(ctx, "conn_pg_dest")
	require.NoError(t, err)
	assert.Equal(t, "b9", conn["settings"].(map[string]any)["lastBatch"])

	pipe, err := svc.Get(ctx, "pipe_1")
	require.NoError(t, err)
	source := pipe["source"].(map[string]any)
	assert.Equal(t, "2026-08-01", source["options"].(map[string]any)["since"])
	dest := pipe["destination"].(map[string]any)
	assert.Equal(t, "raw_entity", dest["options"].(map[string]any)["table"])
}

func TestPostDestinationLink_EphemeralPipelineSkipsPipelinePatch(t *testing.T) {
	ctx := context.Background()
	svc := meta.NewService(kvstore.NewMemoryStore(), nil)

	drainLink(t, svc.PostDestinationLink(ctx, ""),
		stream.MetaUpdate("conn_pg_dest", map[string]any{"lastBatch": "b1"},
			map[string]any{"since": "x"}, nil),
	)

	conn, err := svc.Get(ctx, "conn_pg_dest")
	require.NoError(t, err)
	assert.Equal(t, "b1", conn["settings"].(map[string]any)["lastBatch"])

	entries, err := svc.Store().List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no pipeline record appears")
	assert.Equal(t, "conn_pg_dest", entries[0].ID)
}

func TestPersistInstitutions_StoresEveryRecord(t *testing.T) {
	ctx := context.Background()
	svc := meta.NewService(kvstore.NewMemoryStore(), nil)

	out := drainLink(t, svc.PersistInstitutions(ctx),
		stream.Data("ins_brick_bca", "institution", map[string]any{
			"external": map[string]any{"name": "BCA"},
		}),
		stream.Data("ins_brick_bni", "institution", map[string]any{
			"external": map[string]any{"name": "BNI"},
		}),
		stream.Commit(),
	)
	require.Len(t, out, 3)

	entries, err := svc.ListInstitutions(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
