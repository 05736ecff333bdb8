// Package csvfile implements the spreadsheet source provider: rows of
// a CSV file become data operations, one logical batch per file,
// terminated by a commit.
package csvfile

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/finsync/sync-core/pkg/provider"
	"github.com/finsync/sync-core/pkg/stream"
)

const Name = "csvfile"

var entities = []string{"account", "transaction"}

// Provider builds the CSV source provider. Settings:
//
//	path       - CSV file with a header row (required)
//	entityName - entity variant for every row, one of the declared
//	             variants (default "transaction")
//	idColumn   - column holding the record id (default "id")
func Provider() *provider.Provider {
	return &provider.Provider{
		Name:           Name,
		SettingsSchema: parseSettings,
		SourceEntities: entities,
		SourceSync:     sourceSync,
	}
}

func parseSettings(raw map[string]any) (map[string]any, error) {
	path, _ := raw["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("csvfile settings: path is required")
	}
	out := map[string]any{"path": path, "entityName": "transaction", "idColumn": "id"}
	if v, ok := raw["entityName"].(string); ok && v != "" {
		declared := false
		for _, name := range entities {
			if name == v {
				declared = true
				break
			}
		}
		if !declared {
			return nil, fmt.Errorf("csvfile settings: entityName %q is not one of %v", v, entities)
		}
		out["entityName"] = v
	}
	if v, ok := raw["idColumn"].(string); ok && v != "" {
		out["idColumn"] = v
	}
	return out, nil
}

func sourceSync(ctx context.Context, req provider.SourceSyncRequest) (stream.Stream, error) {
	path, _ := req.Settings["path"].(string)
	entityName, _ := req.Settings["entityName"].(string)
	idColumn, _ := req.Settings["idColumn"].(string)
	if entityName == "" {
		entityName = "transaction"
	}
	if idColumn == "" {
		idColumn = "id"
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("csvfile source: %w", err)
	}
	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("csvfile source: reading header: %w", err)
	}

	row := 0
	committed := false
	pull := func() (stream.Operation, bool, error) {
		if err := ctx.Err(); err != nil {
			return stream.Operation{}, false, err
		}
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			if !committed {
				committed = true
				return stream.Commit(), true, nil
			}
			return stream.Operation{}, false, nil
		}
		if err != nil {
			return stream.Operation{}, false, fmt.Errorf("csvfile source: row %d: %w", row+1, err)
		}
		row++

		entity := make(map[string]any, len(header))
		id := ""
		for i, col := range header {
			if i >= len(record) {
				break
			}
			entity[col] = record[i]
			if col == idColumn {
				id = record[i]
			}
		}
		if id == "" {
			id = fmt.Sprintf("row-%d", row)
		}
		return stream.Data(id, entityName, entity), true, nil
	}

	return &closingStream{Stream: stream.FromFunc(pull), closer: file}, nil
}

// closingStream releases the underlying file when the stream closes.
type closingStream struct {
	stream.Stream
	closer io.Closer
}

func (s *closingStream) Close() error {
	err := s.Stream.Close()
	if cerr := s.closer.Close(); err == nil {
		err = cerr
	}
	return err
}
