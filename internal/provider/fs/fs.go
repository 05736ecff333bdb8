// Package fs implements the filesystem provider: entities live as
// pretty-printed JSON documents under <basePath>/<entityName>/<id>.json.
// It serves as both a source (reading the tree back as a stream) and a
// destination (persisting data operations as files).
package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/finsync/sync-core/pkg/provider"
	"github.com/finsync/sync-core/pkg/stream"
)

const Name = "fs"

// Provider builds the filesystem provider.
func Provider() *provider.Provider {
	return &provider.Provider{
		Name:           Name,
		SettingsSchema: parseSettings,
		SourceEntities: []string{"account", "transaction", "commodity"},
		SourceSync:     sourceSync,
		DestinationSync: func(ctx context.Context, req provider.DestinationSyncRequest) (stream.Link, error) {
			basePath, _ := req.Settings["basePath"].(string)
			if basePath == "" {
				return nil, fmt.Errorf("fs destination: basePath is required")
			}
			return destinationLink(basePath), nil
		},
	}
}

func parseSettings(raw map[string]any) (map[string]any, error) {
	basePath, _ := raw["basePath"].(string)
	if basePath == "" {
		return nil, fmt.Errorf("fs settings: basePath is required")
	}
	return map[string]any{"basePath": basePath}, nil
}

type fileRef struct {
	entityName string
	id         string
	path       string
}

// sourceSync walks the tree and replays each document as a data
// operation, trailed by a single commit.
func sourceSync(ctx context.Context, req provider.SourceSyncRequest) (stream.Stream, error) {
	basePath, _ := req.Settings["basePath"].(string)
	if basePath == "" {
		return nil, fmt.Errorf("fs source: basePath is required")
	}

	var refs []fileRef
	entries, err := os.ReadDir(basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return stream.FromOperations(stream.Commit()), nil
		}
		return nil, err
	}
	for _, dir := range entries {
		if !dir.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(basePath, dir.Name()))
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
				continue
			}
			refs = append(refs, fileRef{
				entityName: dir.Name(),
				id:         strings.TrimSuffix(f.Name(), ".json"),
				path:       filepath.Join(basePath, dir.Name(), f.Name()),
			})
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].path < refs[j].path })

	pos := 0
	committed := false
	return stream.FromFunc(func() (stream.Operation, bool, error) {
		if err := ctx.Err(); err != nil {
			return stream.Operation{}, false, err
		}
		if pos < len(refs) {
			ref := refs[pos]
			pos++
			raw, err := os.ReadFile(ref.path)
			if err != nil {
				return stream.Operation{}, false, err
			}
			var entity map[string]any
			if err := json.Unmarshal(raw, &entity); err != nil {
				return stream.Operation{}, false, fmt.Errorf("decode %s: %w", ref.path, err)
			}
			return stream.Data(ref.id, ref.entityName, entity), true, nil
		}
		if !committed {
			committed = true
			return stream.Commit(), true, nil
		}
		return stream.Operation{}, false, nil
	}), nil
}

// destinationLink writes every data operation to disk as it arrives;
// commit is a pass-through marker since each write is already durable.
func destinationLink(basePath string) stream.Link {
	return stream.HandlersLink(stream.Handlers{
		Data: func(op stream.Operation) ([]stream.Operation, error) {
			dir := filepath.Join(basePath, op.Data.EntityName)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
			raw, err := json.MarshalIndent(op.Data.Entity, "", "  ")
			if err != nil {
				return nil, err
			}
			path := filepath.Join(dir, op.Data.ID+".json")
			if err := os.WriteFile(path, raw, 0o644); err != nil {
				return nil, err
			}
			return []stream.Operation{op}, nil
		},
	})
}
