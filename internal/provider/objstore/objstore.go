// Package objstore implements the object-storage destination provider.
// Each committed batch is written as one JSON-lines object, so the
// bucket holds a durable record per checkpoint rather than per entity.
package objstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/finsync/sync-core/pkg/provider"
	"github.com/finsync/sync-core/pkg/stream"
)

const Name = "objstore"

// Provider builds the object-storage destination. Settings:
//
//	endpoint  - S3-compatible endpoint host:port (required)
//	accessKey - credential id (required)
//	secretKey - credential secret (required)
//	bucket    - target bucket (required)
//	prefix    - object key prefix (default "batches")
//	useSSL    - TLS toggle (default false)
func Provider() *provider.Provider {
	return &provider.Provider{
		Name:            Name,
		SettingsSchema:  parseSettings,
		DestinationSync: destinationSync,
	}
}

func parseSettings(raw map[string]any) (map[string]any, error) {
	out := map[string]any{"prefix": "batches", "useSSL": false}
	for _, key := range []string{"endpoint", "accessKey", "secretKey", "bucket"} {
		v, _ := raw[key].(string)
		if v == "" {
			return nil, fmt.Errorf("objstore settings: %s is required", key)
		}
		out[key] = v
	}
	if v, ok := raw["prefix"].(string); ok && v != "" {
		out["prefix"] = v
	}
	if v, ok := raw["useSSL"].(bool); ok {
		out["useSSL"] = v
	}
	return out, nil
}

func destinationSync(ctx context.Context, req provider.DestinationSyncRequest) (stream.Link, error) {
	endpoint, _ := req.Settings["endpoint"].(string)
	accessKey, _ := req.Settings["accessKey"].(string)
	secretKey, _ := req.Settings["secretKey"].(string)
	bucket, _ := req.Settings["bucket"].(string)
	prefix, _ := req.Settings["prefix"].(string)
	useSSL, _ := req.Settings["useSSL"].(bool)

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("objstore destination: client: %w", err)
	}

	w := &writer{ctx: ctx, client: client, bucket: bucket, prefix: prefix}
	return w.link, nil
}

type record struct {
	ID         string         `json:"id"`
	EntityName string         `json:"entityName"`
	Entity     map[string]any `json:"entity"`
}

// writer buffers records and uploads one object per commit marker.
type writer struct {
	ctx     context.Context
	client  *minio.Client
	bucket  string
	prefix  string
	pending []record
	batch   int
}

func (w *writer) link(in stream.Stream) stream.Stream {
	return stream.HandlersLink(stream.Handlers{
		Data: func(op stream.Operation) ([]stream.Operation, error) {
			w.pending = append(w.pending, record{
				ID:         op.Data.ID,
				EntityName: op.Data.EntityName,
				Entity:     op.Data.Entity,
			})
			return []stream.Operation{op}, nil
		},
		Commit: func(op stream.Operation) ([]stream.Operation, error) {
			if err := w.flush(); err != nil {
				return nil, err
			}
			return []stream.Operation{op}, nil
		},
	})(in)
}

func (w *writer) flush() error {
	if len(w.pending) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range w.pending {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("objstore destination: encode %s: %w", rec.ID, err)
		}
	}

	w.batch++
	key := fmt.Sprintf("%s/%s-%04d.jsonl", w.prefix, time.Now().UTC().Format("20060102T150405"), w.batch)
	_, err := w.client.PutObject(w.ctx, w.bucket, key, &buf, int64(buf.Len()), minio.PutObjectOptions{
		ContentType: "application/x-ndjson",
	})
	if err != nil {
		return fmt.Errorf("objstore destination: put %s: %w", key, err)
	}
	w.pending = w.pending[:0]
	return nil
}
