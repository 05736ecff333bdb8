// Package meta persists the engine's durable entities — integrations,
// connections, pipelines, institutions — through the kvstore boundary,
// and supplies the two links that checkpoint sync runs as a side
// effect.
package meta

import (
	"context"
	"log/slog"
	"strings"

	"github.com/finsync/sync-core/pkg/ids"
	"github.com/finsync/sync-core/pkg/kvstore"
)

// Service wraps a kvstore.Store with entity-aware accessors.
type Service struct {
	store  kvstore.Store
	logger *slog.Logger
}

// NewService creates a meta service over the given store.
func NewService(store kvstore.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// Store exposes the underlying kv store.
func (s *Service) Store() kvstore.Store { return s.store }

// Get returns the document under id, nil when absent.
func (s *Service) Get(ctx context.Context, id string) (map[string]any, error) {
	return s.store.Get(ctx, id)
}

// Set stores (or with nil data deletes) the document under id.
func (s *Service) Set(ctx context.Context, id string, data map[string]any) error {
	return s.store.Set(ctx, id, data)
}

// Patch deep-merges partial into the document under id. An empty
// partial is a no-op: no read, no write. Uses the backend's native
// Patch when available, read-merge-write otherwise.
func (s *Service) Patch(ctx context.Context, id string, partial map[string]any) error {
	if len(partial) == 0 {
		return nil
	}
	if patcher, ok := s.store.(kvstore.Patcher); ok {
		return patcher.Patch(ctx, id, partial)
	}
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, id, kvstore.Merge(current, partial))
}

// Close flushes backends with a commit hook, then releases them.
func (s *Service) Close() error {
	if committer, ok := s.store.(kvstore.Committer); ok {
		if err := committer.Commit(context.Background()); err != nil {
			return err
		}
	}
	if closer, ok := s.store.(kvstore.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (s *Service) listByPrefix(ctx context.Context, prefix string) ([]kvstore.Entry, error) {
	entries, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []kvstore.Entry
	for _, e := range entries {
		if strings.HasPrefix(e.ID, prefix+"_") {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListConnections returns stored connections, optionally filtered by
// ledger.
func (s *Service) ListConnections(ctx context.Context, ledgerID string) ([]kvstore.Entry, error) {
	entries, err := s.listByPrefix(ctx, ids.PrefixConnection)
	if err != nil {
		return nil, err
	}
	if ledgerID == "" {
		return entries, nil
	}
	var out []kvstore.Entry
	for _, e := range entries {
		if asString(e.Data["ledgerId"]) == ledgerID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListInstitutions returns stored institutions. With ids given, only
// those entries are returned.
func (s *Service) ListInstitutions(ctx context.Context, only ...string) ([]kvstore.Entry, error) {
	entries, err := s.listByPrefix(ctx, ids.PrefixInstitution)
	if err != nil {
		return nil, err
	}
	if len(only) == 0 {
		return entries, nil
	}
	want := make(map[string]bool, len(only))
	for _, id := range only {
		want[id] = true
	}
	var out []kvstore.Entry
	for _, e := range entries {
		if want[e.ID] {
			out = append(out, e)
		}
	}
	return out, nil
}

// SearchInstitutions matches stored institutions against keywords. An
// empty query returns everything.
func (s *Service) SearchInstitutions(ctx context.Context, keywords string) ([]kvstore.Entry, error) {
	entries, err := s.listByPrefix(ctx, ids.PrefixInstitution)
	if err != nil {
		return nil, err
	}
	keywords = strings.TrimSpace(strings.ToLower(keywords))
	if keywords == "" {
		return entries, nil
	}
	var out []kvstore.Entry
	for _, e := range entries {
		if institutionMatches(e, keywords) {
			out = append(out, e)
		}
	}
	return out, nil
}

func institutionMatches(e kvstore.Entry, keywords string) bool {
	if strings.Contains(strings.ToLower(e.ID), keywords) {
		return true
	}
	if std, ok := e.Data["standard"].(map[string]any); ok {
		if strings.Contains(strings.ToLower(asString(std["name"])), keywords) {
			return true
		}
	}
	if ext, ok := e.Data["external"].(map[string]any); ok {
		for _, v := range ext {
			if sv, ok := v.(string); ok && strings.Contains(strings.ToLower(sv), keywords) {
				return true
			}
		}
	}
	return false
}

// FindPipelines returns stored pipelines bound to the connection on
// either side.
func (s *Service) FindPipelines(ctx context.Context, connectionID string) ([]kvstore.Entry, error) {
	entries, err := s.listByPrefix(ctx, ids.PrefixPipeline)
	if err != nil {
		return nil, err
	}
	var out []kvstore.Entry
	for _, e := range entries {
		if sideConnectionID(e.Data, "source") == connectionID ||
			sideConnectionID(e.Data, "destination") == connectionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func sideConnectionID(doc map[string]any, side string) string {
	m, ok := doc[side].(map[string]any)
	if !ok {
		return ""
	}
	return asString(m["id"])
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
