package objstore_test

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsync/sync-core/internal/provider/objstore"
	"github.com/finsync/sync-core/pkg/provider"
	"github.com/finsync/sync-core/pkg/stream"
)

func TestParseSettings(t *testing.T) {
	p := objstore.Provider()

	_, err := p.SettingsSchema(map[string]any{"endpoint": "localhost:9000"})
	require.Error(t, err, "all credentials are mandatory")

	parsed, err := p.SettingsSchema(map[string]any{
		"endpoint":  "localhost:9000",
		"accessKey": "ak",
		"secretKey": "sk",
		"bucket":    "batches",
	})
	require.NoError(t, err)
	assert.Equal(t, "batches", parsed["prefix"])
	assert.Equal(t, false, parsed["useSSL"])
}

// envSettings reads MinIO coordinates from the environment, skipping
// when unset.
func envSettings(t *testing.T) map[string]any {
	t.Helper()
	endpoint := os.Getenv("SYNC_TEST_MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("SYNC_TEST_MINIO_ENDPOINT not set")
	}
	return map[string]any{
		"endpoint":  endpoint,
		"accessKey": os.Getenv("SYNC_TEST_MINIO_ACCESS_KEY"),
		"secretKey": os.Getenv("SYNC_TEST_MINIO_SECRET_KEY"),
		"bucket":    "sync-test",
		"prefix":    "batches",
	}
}

func TestDestination_Integration_OneObjectPerCommit(t *testing.T) {
	settings := envSettings(t)
	ctx := context.Background()

	client, err := minio.New(settings["endpoint"].(string), &minio.Options{
		Creds: credentials.NewStaticV4(
			settings["accessKey"].(string), settings["secretKey"].(string), ""),
	})
	require.NoError(t, err)
	bucket := settings["bucket"].(string)
	exists, err := client.BucketExists(ctx, bucket)
	require.NoError(t, err)
	if !exists {
		require.NoError(t, client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))
	}

	dest, err := objstore.Provider().DestinationSync(ctx, provider.DestinationSyncRequest{
		Settings: settings,
	})
	require.NoError(t, err)

	out := dest(stream.FromOperations(
		stream.Data("t1", "transaction", map[string]any{"amount": 1.0}),
		stream.Data("t2", "transaction", map[string]any{"amount": 2.0}),
		stream.Commit(),
	))
	for out.Next() {
	}
	require.NoError(t, out.Err())
	require.NoError(t, out.Close())

	var keys []string
	for obj := range client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix: "batches/", Recursive: true,
	}) {
		require.NoError(t, obj.Err)
		keys = append(keys, obj.Key)
	}
	require.NotEmpty(t, keys)

	// The newest object holds both records as JSON lines.
	last := keys[len(keys)-1]
	t.Cleanup(func() { client.RemoveObject(ctx, bucket, last, minio.RemoveObjectOptions{}) })
	body, err := client.GetObject(ctx, bucket, last, minio.GetObjectOptions{})
	require.NoError(t, err)
	defer body.Close()

	var lines int
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		assert.Equal(t, "transaction", rec["entityName"])
		lines++
	}
	assert.Equal(t, 2, lines)
}
