// Package engine is the pipeline orchestration core: it owns the
// provider registry, wires meta-store checkpoint links around
// caller-supplied links, executes pipelines, and exposes the connect
// and webhook lifecycle.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/finsync/sync-core/internal/meta"
	"github.com/finsync/sync-core/pkg/ids"
	"github.com/finsync/sync-core/pkg/kvstore"
	"github.com/finsync/sync-core/pkg/provider"
	"github.com/finsync/sync-core/pkg/stream"
)

// Config assembles an engine. Providers and the store are mandatory;
// hooks and defaults are optional.
type Config struct {
	// Providers is the ordered provider list; duplicate names fail
	// construction.
	Providers []*provider.Provider

	// Store is the meta-store backend.
	Store kvstore.Store

	// LinkMap resolves stored pipeline link names into links.
	LinkMap map[string]stream.Link

	// GetLinksForPipeline overrides the link chain per execution. A nil
	// hook, or a hook returning nil, leaves the pipeline's own links in
	// place.
	GetLinksForPipeline func(p *Pipeline) []stream.Link

	// GetDefaultPipeline synthesizes a pipeline for connections with no
	// stored one.
	GetDefaultPipeline func(conn *Connection) *PipelineInput

	// DefaultIntegrations declares configured integrations explicitly.
	DefaultIntegrations []IntegrationInput

	// DefaultIntegrationConfigs is the map form: provider name to
	// config. Normalized into the explicit list at construction.
	DefaultIntegrationConfigs map[string]map[string]any

	Logger *slog.Logger
}

// Engine orchestrates pipeline runs over registered providers.
type Engine struct {
	registry *provider.Registry
	meta     *meta.Service
	linkMap  map[string]stream.Link
	defaults []IntegrationInput

	getLinksForPipeline func(p *Pipeline) []stream.Link
	getDefaultPipeline  func(conn *Connection) *PipelineInput

	logger *slog.Logger
}

// New validates the configuration and builds an engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("engine: store is required")
	}
	registry, err := provider.NewRegistry(cfg.Providers...)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	defaults := make([]IntegrationInput, 0, len(cfg.DefaultIntegrations)+len(cfg.DefaultIntegrationConfigs))
	defaults = append(defaults, cfg.DefaultIntegrations...)
	for name, config := range cfg.DefaultIntegrationConfigs {
		defaults = append(defaults, IntegrationInput{
			ID:           ids.New(ids.PrefixIntegration, name, ""),
			ProviderName: name,
			Config:       config,
		})
	}
	for _, in := range defaults {
		name := in.ProviderName
		if name == "" {
			name, _ = ids.ProviderName(in.ID)
		}
		if _, err := registry.Require(name); err != nil {
			return nil, fmt.Errorf("engine: default integration %s: %w", in.ID, err)
		}
	}

	return &Engine{
		registry:            registry,
		meta:                meta.NewService(cfg.Store, logger),
		linkMap:             cfg.LinkMap,
		defaults:            defaults,
		getLinksForPipeline: cfg.GetLinksForPipeline,
		getDefaultPipeline:  cfg.GetDefaultPipeline,
		logger:              logger,
	}, nil
}

// Meta exposes the meta service, mainly for tests and the CLI.
func (e *Engine) Meta() *meta.Service { return e.meta }

// Registry exposes the provider registry.
func (e *Engine) Registry() *provider.Registry { return e.registry }

// Health reports liveness.
func (e *Engine) Health() string {
	return "ok " + time.Now().UTC().Format(time.RFC3339)
}

// Close releases the meta-store backend.
func (e *Engine) Close() error { return e.meta.Close() }

// ListIntegrations enumerates the configured integrations, annotated
// with capability flags derived from the provider bundles. Filter may
// be "source", "destination", or empty for all.
func (e *Engine) ListIntegrations(ctx context.Context, filter string) ([]IntegrationSummary, error) {
	integrations, err := e.DefaultIntegrations(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]IntegrationSummary, 0, len(integrations))
	for _, integ := range integrations {
		summary := IntegrationSummary{
			ID:            integ.ID,
			Provider:      integ.ProviderName,
			IsSource:      integ.Provider.IsSource(),
			IsDestination: integ.Provider.IsDestination(),
		}
		switch filter {
		case "":
		case "source":
			if !summary.IsSource {
				continue
			}
		case "destination":
			if !summary.IsDestination {
				continue
			}
		default:
			return nil, fmt.Errorf("unknown integration filter: %s", filter)
		}
		out = append(out, summary)
	}
	return out, nil
}

// SearchInstitutions joins stored institution records against the
// configured integrations of their providers. Records whose provider
// cannot map them to the standardized shape are excluded with a logged
// diagnostic rather than failing the search.
func (e *Engine) SearchInstitutions(ctx context.Context, keywords string) ([]InstitutionResult, error) {
	entries, err := e.meta.SearchInstitutions(ctx, keywords)
	if err != nil {
		return nil, err
	}
	integrations, err := e.DefaultIntegrations(ctx)
	if err != nil {
		return nil, err
	}
	byProvider := map[string][]*Integration{}
	for _, integ := range integrations {
		byProvider[integ.ProviderName] = append(byProvider[integ.ProviderName], integ)
	}

	var out []InstitutionResult
	for _, entry := range entries {
		_, providerName, externalID := ids.Split(entry.ID)
		p, ok := e.registry.Get(providerName)
		if !ok {
			e.logger.Warn("institution has no registered provider", "id", entry.ID)
			continue
		}
		standard := standardInstitution(p, entry.Data)
		if standard == nil {
			e.logger.Warn("institution cannot be standardized", "id", entry.ID, "provider", providerName)
			continue
		}
		for _, integ := range byProvider[providerName] {
			out = append(out, InstitutionResult{
				Institution: InstitutionSummary{
					ID:         entry.ID,
					ExternalID: externalID,
					Name:       standard.Name,
					LogoURL:    standard.LogoURL,
					URL:        standard.URL,
				},
				IntegrationID: integ.ID,
			})
		}
	}
	return out, nil
}

// ListConnections joins stored connections with their cached
// institution records. An absent institution yields a nil institution,
// not an error.
func (e *Engine) ListConnections(ctx context.Context, ledgerID string) ([]ConnectionSummary, error) {
	connections, err := e.meta.ListConnections(ctx, ledgerID)
	if err != nil {
		return nil, err
	}
	var insIDs []string
	for _, c := range connections {
		if id, ok := c.Data["institutionId"].(string); ok && id != "" {
			insIDs = append(insIDs, id)
		}
	}
	institutions := map[string]kvstore.Entry{}
	if len(insIDs) > 0 {
		entries, err := e.meta.ListInstitutions(ctx, insIDs...)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			institutions[entry.ID] = entry
		}
	}

	out := make([]ConnectionSummary, 0, len(connections))
	for _, c := range connections {
		_, providerName, externalID := ids.Split(c.ID)
		p, _ := e.registry.Get(providerName)

		summary := ConnectionSummary{ID: c.ID, ExternalID: externalID, DisplayName: externalID}
		settings, _ := c.Data["settings"].(map[string]any)
		if p != nil && p.StandardMappers != nil && p.StandardMappers.Connection != nil {
			if std := p.StandardMappers.Connection(settings); std != nil {
				if std.DisplayName != "" {
					summary.DisplayName = std.DisplayName
				}
				summary.Status = std.Status
			}
		}
		if insID, ok := c.Data["institutionId"].(string); ok && insID != "" {
			if entry, ok := institutions[insID]; ok {
				if standard := standardInstitution(p, entry.Data); standard != nil {
					_, _, insExternal := ids.Split(insID)
					summary.Institution = &InstitutionSummary{
						ID:         insID,
						ExternalID: insExternal,
						Name:       standard.Name,
						LogoURL:    standard.LogoURL,
						URL:        standard.URL,
					}
				}
			}
		}
		out = append(out, summary)
	}
	return out, nil
}

// standardInstitution maps a stored institution record through the
// provider's standard mapper, preferring the cached standard form.
func standardInstitution(p *provider.Provider, data map[string]any) *provider.StandardInstitution {
	if std, ok := data["standard"].(map[string]any); ok {
		name, _ := std["name"].(string)
		if name != "" {
			logo, _ := std["logoUrl"].(string)
			url, _ := std["url"].(string)
			return &provider.StandardInstitution{Name: name, LogoURL: logo, URL: url}
		}
	}
	if p == nil || p.StandardMappers == nil || p.StandardMappers.Institution == nil {
		return nil
	}
	external, _ := data["external"].(map[string]any)
	return p.StandardMappers.Institution(external)
}
