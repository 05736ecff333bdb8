package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/finsync/sync-core/pkg/ids"
	"github.com/finsync/sync-core/pkg/provider"
	"github.com/finsync/sync-core/pkg/stream"
)

// SyncMetadata runs metaSync for one integration (by id) or for all
// default integrations when id is empty. Provider streams are merged
// concurrently; institution results are persisted through the meta
// store. Returns a human-readable count summary.
func (e *Engine) SyncMetadata(ctx context.Context, integrationID string) (string, error) {
	var integrations []*Integration
	if integrationID != "" {
		integ, err := e.ResolveIntegration(ctx, IntegrationInput{ID: integrationID})
		if err != nil {
			return "", err
		}
		integrations = []*Integration{integ}
	} else {
		var err error
		integrations, err = e.DefaultIntegrations(ctx)
		if err != nil {
			return "", err
		}
	}

	var sources []stream.Stream
	for _, integ := range integrations {
		if !integ.Provider.HasMetaSync() {
			continue
		}
		src, err := integ.Provider.MetaSync(ctx, integ.Config)
		if err != nil {
			return "", fmt.Errorf("metaSync %s: %w", integ.ProviderName, err)
		}
		sources = append(sources, stream.Compose(src, institutionLink(integ.Provider)))
	}
	if len(sources) == 0 {
		return fmt.Sprintf("Synced 0 institutions from %d providers", len(integrations)), nil
	}

	stats, err := stream.Sync(ctx, stream.Params{
		Source:      stream.Merge(ctx, sources...),
		Destination: e.meta.PersistInstitutions(ctx),
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Synced %d institutions from %d providers", stats.Data, len(integrations)), nil
}

// institutionLink rewrites provider-native institution data operations
// into stored institution records: prefixed id, entity wrapped as
// {external, standard}.
func institutionLink(p *provider.Provider) stream.Link {
	return stream.MapData(func(data *stream.DataPayload) (*stream.DataPayload, error) {
		id := data.ID
		if !strings.HasPrefix(id, ids.PrefixInstitution+"_") {
			id = ids.New(ids.PrefixInstitution, p.Name, id)
		}
		entity := map[string]any{"external": data.Entity}
		if p.StandardMappers != nil && p.StandardMappers.Institution != nil {
			if std := p.StandardMappers.Institution(data.Entity); std != nil {
				entity["standard"] = map[string]any{
					"name":    std.Name,
					"logoUrl": std.LogoURL,
					"url":     std.URL,
				}
			}
		}
		return &stream.DataPayload{ID: id, EntityName: "institution", Entity: entity}, nil
	})
}

// SyncConnection resolves the pipelines bound to a connection — stored
// ones, else a synthesized default — and runs each. A connection with
// an already-open source stream (minted by postConnect or a webhook)
// feeds that stream to the pipeline instead of re-opening the session.
// Pipelines run sequentially: an injected stream is consumable once.
func (e *Engine) SyncConnection(ctx context.Context, conn *Connection) error {
	entries, err := e.meta.FindPipelines(ctx, conn.ID)
	if err != nil {
		return err
	}

	var inputs []PipelineInput
	for _, entry := range entries {
		inputs = append(inputs, pipelineInputFromEntry(entry.ID, entry.Data))
	}
	if len(inputs) == 0 && e.getDefaultPipeline != nil {
		if in := e.getDefaultPipeline(conn); in != nil {
			inputs = append(inputs, *in)
		}
	}
	if len(inputs) == 0 {
		e.logger.Info("no pipelines for connection", "connection", conn.ID)
		return nil
	}

	for _, in := range inputs {
		pipe, err := e.ResolvePipeline(ctx, in)
		if err != nil {
			return err
		}
		if pipe.Source.Connection.ID == conn.ID && conn.source != nil {
			pipe.Source.Connection.source = conn.source
			conn.source = nil
		}
		if _, err := e.SyncPipeline(ctx, pipe); err != nil {
			return err
		}
	}
	return nil
}

// SyncPipeline executes one pipeline run: open (or adopt) the source
// stream, compose the persistence links around the effective link
// chain, drive the executor, and return run statistics.
//
// Chain shape, source to destination:
//
//	source |> postSourceLink |> caller links |> mapEntity |> destinationSync |> postDestinationLink
func (e *Engine) SyncPipeline(ctx context.Context, pipe *Pipeline) (*stream.Stats, error) {
	srcConn := pipe.Source.Connection
	destConn := pipe.Destination.Connection
	srcProvider := srcConn.Integration.Provider
	destProvider := destConn.Integration.Provider

	source := srcConn.source
	if source == nil {
		if !srcProvider.IsSource() {
			return nil, newError(CodeNotASource, srcProvider.Name, srcConn.ID,
				fmt.Errorf("%s is not a source", srcProvider.Name))
		}
		var err error
		source, err = srcProvider.SourceSync(ctx, provider.SourceSyncRequest{
			Config:   srcConn.Integration.Config,
			Settings: srcConn.Settings,
			Options:  pipe.Source.Options,
		})
		if err != nil {
			return nil, fmt.Errorf("sourceSync %s: %w", srcProvider.Name, err)
		}
	}

	if !destProvider.IsDestination() {
		return nil, newError(CodeNotADestination, destProvider.Name, destConn.ID,
			fmt.Errorf("%s is not a destination", destProvider.Name))
	}
	destLink, err := destProvider.DestinationSync(ctx, provider.DestinationSyncRequest{
		Config:   destConn.Integration.Config,
		Settings: destConn.Settings,
		Options:  pipe.Destination.Options,
	})
	if err != nil {
		return nil, fmt.Errorf("destinationSync %s: %w", destProvider.Name, err)
	}

	links := pipe.Links
	if e.getLinksForPipeline != nil {
		// A hook yielding nil leaves the pipeline's own links in place.
		if override := e.getLinksForPipeline(pipe); override != nil {
			links = override
		}
	}
	// The mapping stage sits at the tail of the caller chain so the
	// destination only ever observes mapped entity variants.
	if mapLink := srcProvider.MapEntityLink(); mapLink != nil {
		links = append(append([]stream.Link{}, links...), mapLink)
	}

	postSource := e.meta.PostSourceLink(ctx)
	postDestination := e.meta.PostDestinationLink(ctx, pipe.ID)

	runID := ids.NewRandom(ids.PrefixRun)
	e.logger.Info("pipeline run starting", "run", runID,
		"pipeline", pipe.ID, "source", srcConn.ID, "destination", destConn.ID, "watch", pipe.Watch)

	stats, err := stream.Sync(ctx, stream.Params{
		Source: stream.Compose(source, postSource),
		Links:  links,
		Destination: func(in stream.Stream) stream.Stream {
			return postDestination(destLink(in))
		},
		Watch: pipe.Watch,
	})
	if err != nil {
		e.logger.Error("pipeline run failed", "run", runID, "pipeline", pipe.ID, "error", err)
		return nil, err
	}
	e.logger.Info("pipeline run finished", "run", runID, "pipeline", pipe.ID, "stats", stats.String())
	return stats, nil
}
