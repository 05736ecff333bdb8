// Package kvstore is the durable key/value persistence boundary the
// engine records integrations, connections, pipelines, and institutions
// through. Backends implement Store; Patch, Commit, and Close are
// optional extensions discovered by interface assertion.
package kvstore

import "context"

// Entry pairs an id with its stored document.
type Entry struct {
	ID   string
	Data map[string]any
}

// Store is the minimal persistence contract.
type Store interface {
	// Get returns the document under id, or nil when absent.
	Get(ctx context.Context, id string) (map[string]any, error)

	// List returns all entries ordered by id.
	List(ctx context.Context) ([]Entry, error)

	// Set stores data under id. Nil data deletes the entry.
	Set(ctx context.Context, id string, data map[string]any) error
}

// Patcher is an optional deep-partial update. Backends without it get a
// read-merge-write fallback.
type Patcher interface {
	Patch(ctx context.Context, id string, partial map[string]any) error
}

// Committer is an optional flush hook.
type Committer interface {
	Commit(ctx context.Context) error
}

// Closer releases backend resources.
type Closer interface {
	Close() error
}

// Merge deep-merges src into a copy of dst. Maps merge recursively;
// any other value in src replaces the value in dst.
func Merge(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		sub, ok := v.(map[string]any)
		if !ok {
			out[k] = v
			continue
		}
		cur, ok := out[k].(map[string]any)
		if !ok {
			out[k] = Merge(nil, sub)
			continue
		}
		out[k] = Merge(cur, sub)
	}
	return out
}
