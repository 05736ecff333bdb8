// Package postgres implements the Postgres destination provider.
// Data operations are buffered per batch and flushed as a single
// transaction when the commit marker arrives, so a failed or truncated
// stream leaves no partial batch behind.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/finsync/sync-core/pkg/provider"
	"github.com/finsync/sync-core/pkg/stream"
)

const Name = "postgres"

const defaultTable = "raw_entity"

// Provider builds the Postgres destination. Settings:
//
//	databaseUrl - connection string (required)
//	table       - target table (default "raw_entity")
func Provider() *provider.Provider {
	return &provider.Provider{
		Name:            Name,
		SettingsSchema:  parseSettings,
		DestinationSync: destinationSync,
	}
}

func parseSettings(raw map[string]any) (map[string]any, error) {
	databaseURL, _ := raw["databaseUrl"].(string)
	if databaseURL == "" {
		return nil, fmt.Errorf("postgres settings: databaseUrl is required")
	}
	out := map[string]any{"databaseUrl": databaseURL, "table": defaultTable}
	if v, ok := raw["table"].(string); ok && v != "" {
		out["table"] = v
	}
	return out, nil
}

func destinationSync(ctx context.Context, req provider.DestinationSyncRequest) (stream.Link, error) {
	databaseURL, _ := req.Settings["databaseUrl"].(string)
	table, _ := req.Settings["table"].(string)
	if table == "" {
		table = defaultTable
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres destination: open: %w", err)
	}
	if err := ensureTable(ctx, db, table); err != nil {
		db.Close()
		return nil, err
	}

	w := &writer{ctx: ctx, db: db, table: table}
	return w.link, nil
}

func ensureTable(ctx context.Context, db *sql.DB, table string) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
		id TEXT NOT NULL,
		entity_name TEXT NOT NULL,
		entity JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (entity_name, id)
	)`, table)
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("postgres destination: ensure table: %w", err)
	}
	return nil
}

// writer accumulates data operations until commit, then writes them in
// one transaction. Uncommitted rows are never written.
type writer struct {
	ctx     context.Context
	db      *sql.DB
	table   string
	pending []stream.DataPayload
}

func (w *writer) link(in stream.Stream) stream.Stream {
	piped := stream.HandlersLink(stream.Handlers{
		Data: func(op stream.Operation) ([]stream.Operation, error) {
			w.pending = append(w.pending, *op.Data)
			return []stream.Operation{op}, nil
		},
		Commit: func(op stream.Operation) ([]stream.Operation, error) {
			if err := w.flush(); err != nil {
				return nil, err
			}
			return []stream.Operation{op}, nil
		},
	})(in)
	return &closingStream{Stream: piped, db: w.db}
}

func (w *writer) flush() error {
	if len(w.pending) == 0 {
		return nil
	}
	tx, err := w.db.BeginTx(w.ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres destination: begin: %w", err)
	}
	defer tx.Rollback()

	upsert := fmt.Sprintf(`INSERT INTO %q (id, entity_name, entity, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (entity_name, id)
		DO UPDATE SET entity = EXCLUDED.entity, updated_at = now()`, w.table)
	for _, data := range w.pending {
		raw, err := json.Marshal(data.Entity)
		if err != nil {
			return fmt.Errorf("postgres destination: encode %s: %w", data.ID, err)
		}
		if _, err := tx.ExecContext(w.ctx, upsert, data.ID, data.EntityName, raw); err != nil {
			return fmt.Errorf("postgres destination: upsert %s: %w", data.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres destination: commit: %w", err)
	}
	w.pending = w.pending[:0]
	return nil
}

// closingStream ties the connection pool's lifetime to the stream's.
type closingStream struct {
	stream.Stream
	db *sql.DB
}

func (s *closingStream) Close() error {
	err := s.Stream.Close()
	if cerr := s.db.Close(); err == nil {
		err = cerr
	}
	return err
}
