package meta

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/finsync/sync-core/pkg/ids"
	"github.com/finsync/sync-core/pkg/stream"
)

// PostSourceLink persists connection updates emitted by the source.
// On connUpdate it patches the connection's settings under the
// operation id and records any carried institution; the operation
// passes through unchanged. Side-effecting, non-filtering.
func (s *Service) PostSourceLink(ctx context.Context) stream.Link {
	return stream.HandlersLink(stream.Handlers{
		ConnUpdate: func(op stream.Operation) ([]stream.Operation, error) {
			up := op.ConnUpdate
			partial := map[string]any{}
			if len(up.Settings) > 0 {
				partial["settings"] = up.Settings
			}
			if len(up.Institution) > 0 {
				insID := ids.SwapPrefix(up.ID, ids.PrefixInstitution)
				if err := s.Set(ctx, insID, map[string]any{"external": up.Institution}); err != nil {
					return nil, err
				}
				partial["institutionId"] = insID
			}
			s.logger.Debug("postSource patch", "connection", up.ID, "keys", mapKeys(up.Settings))
			if err := s.Patch(ctx, up.ID, partial); err != nil {
				return nil, err
			}
			return []stream.Operation{op}, nil
		},
	})
}

// PostDestinationLink persists destination-side checkpoints. On
// metaUpdate it patches the connection settings under the operation id
// and, when the pipeline is durable, the pipeline's stored sync options.
// Both patches are issued concurrently — they touch disjoint keys — and
// the operation is forwarded only after both complete.
func (s *Service) PostDestinationLink(ctx context.Context, pipelineID string) stream.Link {
	return stream.HandlersLink(stream.Handlers{
		MetaUpdate: func(op stream.Operation) ([]stream.Operation, error) {
			up := op.MetaUpdate
			s.logger.Debug("postDestination patch",
				"connection", up.ID, "pipeline", pipelineID,
				"settings", mapKeys(up.Settings),
				"sourceOptions", mapKeys(up.SourceSyncOptions),
				"destinationOptions", mapKeys(up.DestinationSyncOptions))

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return s.Patch(gctx, up.ID, settingsPartial(up.Settings))
			})
			if pipelineID != "" {
				g.Go(func() error {
					return s.Patch(gctx, pipelineID, pipelinePartial(up))
				})
			}
			if err := g.Wait(); err != nil {
				return nil, err
			}
			return []stream.Operation{op}, nil
		},
	})
}

// PersistInstitutions is the destination stage used by syncMetadata:
// every data operation is stored whole under its institution id.
func (s *Service) PersistInstitutions(ctx context.Context) stream.Link {
	return stream.HandlersLink(stream.Handlers{
		Data: func(op stream.Operation) ([]stream.Operation, error) {
			if err := s.Set(ctx, op.Data.ID, op.Data.Entity); err != nil {
				return nil, err
			}
			return []stream.Operation{op}, nil
		},
	})
}

func settingsPartial(settings map[string]any) map[string]any {
	if len(settings) == 0 {
		return nil
	}
	return map[string]any{"settings": settings}
}

func pipelinePartial(up *stream.MetaUpdatePayload) map[string]any {
	partial := map[string]any{}
	if len(up.SourceSyncOptions) > 0 {
		partial["source"] = map[string]any{"options": up.SourceSyncOptions}
	}
	if len(up.DestinationSyncOptions) > 0 {
		partial["destination"] = map[string]any{"options": up.DestinationSyncOptions}
	}
	return partial
}

func mapKeys(m map[string]any) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
