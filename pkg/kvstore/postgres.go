package kvstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store backed by a single jsonb table.
type PostgresStore struct {
	db    *sql.DB
	table string
}

// NewPostgresStore connects to Postgres and ensures the schema exists.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("database url is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return NewPostgresStoreWithDB(db)
}

// NewPostgresStoreWithDB reuses an existing *sql.DB.
func NewPostgresStoreWithDB(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	s := &PostgresStore{db: db, table: "meta"}
	if err := s.ensureTable(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureTable() error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id text PRIMARY KEY,
  data jsonb NOT NULL,
  updated_at timestamptz NOT NULL DEFAULT now()
);
`, s.table)
	_, err := s.db.Exec(ddl)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (map[string]any, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT data FROM %s WHERE id=$1`, s.table), id).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}
	return doc, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT id, data FROM %s ORDER BY id`, s.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", id, err)
		}
		entries = append(entries, Entry{ID: id, Data: doc})
	}
	return entries, rows.Err()
}

func (s *PostgresStore) Set(ctx context.Context, id string, data map[string]any) error {
	if data == nil {
		_, err := s.db.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE id=$1`, s.table), id)
		return err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", id, err)
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (id, data) VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`, s.table),
		id, raw)
	return err
}

// Patch deep-merges partial into the stored document inside a
// transaction. jsonb's || operator merges shallowly, so the merge
// happens here instead.
func (s *PostgresStore) Patch(ctx context.Context, id string, partial map[string]any) error {
	if len(partial) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var raw []byte
	var current map[string]any
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT data FROM %s WHERE id=$1 FOR UPDATE`, s.table), id).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		current = map[string]any{}
	case err != nil:
		return err
	default:
		if err := json.Unmarshal(raw, &current); err != nil {
			return fmt.Errorf("decode %s: %w", id, err)
		}
	}

	merged, err := json.Marshal(Merge(current, partial))
	if err != nil {
		return fmt.Errorf("encode %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (id, data) VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`, s.table),
		id, merged); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
