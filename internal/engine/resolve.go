package engine

import (
	"context"
	"fmt"

	"github.com/finsync/sync-core/pkg/ids"
	"github.com/finsync/sync-core/pkg/stream"
)

// ResolveIntegration hydrates an integration input into a fully-typed
// integration: provider looked up by name, config found from explicit
// input, the stored record, or the default-integration declarations,
// then validated against the provider's config schema.
func (e *Engine) ResolveIntegration(ctx context.Context, in IntegrationInput) (*Integration, error) {
	name := in.ProviderName
	if name == "" && in.ID != "" {
		name, _ = ids.ProviderName(in.ID)
	}
	if name == "" {
		return nil, newError(CodeNoIntegration, "", in.ID, fmt.Errorf("integration input has neither provider name nor id"))
	}
	p, err := e.registry.Require(name)
	if err != nil {
		return nil, newError(CodeUnknownProvider, name, in.ID, err)
	}

	config := in.Config
	if config == nil && in.ID != "" {
		stored, err := e.meta.Get(ctx, in.ID)
		if err != nil {
			return nil, err
		}
		if stored != nil {
			config, _ = stored["config"].(map[string]any)
		}
	}
	if config == nil {
		config = e.defaultConfigFor(name, in.ID)
	}
	if config == nil && e.defaultFor(name, in.ID) == nil {
		return nil, newError(CodeNoIntegration, name, in.ID,
			fmt.Errorf("no integration found for provider %s", name))
	}

	parsed, err := p.ConfigSchema.Parse(config)
	if err != nil {
		return nil, newError(CodeInvalidConfig, name, in.ID, err)
	}

	id := in.ID
	if id == "" {
		id = ids.New(ids.PrefixIntegration, name, "")
	}
	return &Integration{ID: id, ProviderName: name, Config: parsed, Provider: p}, nil
}

// defaultFor finds a default integration declaration by exact id match
// or by provider name.
func (e *Engine) defaultFor(name, id string) *IntegrationInput {
	for i := range e.defaults {
		d := &e.defaults[i]
		if id != "" && d.ID == id {
			return d
		}
		dName := d.ProviderName
		if dName == "" {
			dName, _ = ids.ProviderName(d.ID)
		}
		if dName == name {
			return d
		}
	}
	return nil
}

func (e *Engine) defaultConfigFor(name, id string) map[string]any {
	if d := e.defaultFor(name, id); d != nil {
		return d.Config
	}
	return nil
}

// DefaultIntegrations resolves every declared default integration.
func (e *Engine) DefaultIntegrations(ctx context.Context) ([]*Integration, error) {
	out := make([]*Integration, 0, len(e.defaults))
	for _, in := range e.defaults {
		integ, err := e.ResolveIntegration(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("initializing integration %s: %w", in.ID, err)
		}
		out = append(out, integ)
	}
	return out, nil
}

// ResolveConnection hydrates a connection input. The integration must
// resolve; settings are parsed against the provider's settings schema
// and invalid settings are a hard failure.
func (e *Engine) ResolveConnection(ctx context.Context, in ConnectionInput) (*Connection, error) {
	if in.ID == "" {
		return nil, newError(CodeInvalidSettings, "", "", fmt.Errorf("connection input requires an id"))
	}
	providerName, err := ids.ProviderName(in.ID)
	if err != nil {
		return nil, newError(CodeUnknownProvider, "", in.ID, err)
	}

	stored, err := e.meta.Get(ctx, in.ID)
	if err != nil {
		return nil, err
	}

	merged := ConnectionInput{
		ID:            in.ID,
		IntegrationID: in.IntegrationID,
		Settings:      in.Settings,
		EnvName:       in.EnvName,
		LedgerID:      in.LedgerID,
	}
	institutionID := ""
	if stored != nil {
		if merged.IntegrationID == "" {
			merged.IntegrationID, _ = stored["integrationId"].(string)
		}
		if merged.Settings == nil {
			merged.Settings, _ = stored["settings"].(map[string]any)
		}
		if merged.EnvName == "" {
			merged.EnvName, _ = stored["envName"].(string)
		}
		if merged.LedgerID == "" {
			merged.LedgerID, _ = stored["ledgerId"].(string)
		}
		institutionID, _ = stored["institutionId"].(string)
	}

	integ, err := e.ResolveIntegration(ctx, IntegrationInput{
		ID:           merged.IntegrationID,
		ProviderName: providerName,
	})
	if err != nil {
		return nil, err
	}

	settings, err := integ.Provider.SettingsSchema.Parse(merged.Settings)
	if err != nil {
		return nil, newError(CodeInvalidSettings, providerName, in.ID, err)
	}

	return &Connection{
		ID:            in.ID,
		IntegrationID: integ.ID,
		Settings:      settings,
		EnvName:       merged.EnvName,
		LedgerID:      merged.LedgerID,
		InstitutionID: institutionID,
		Integration:   integ,
	}, nil
}

// ResolvePipeline hydrates a pipeline input, merging any stored record
// under the same id, resolving both sides, and materializing the link
// chain from the engine's link map.
func (e *Engine) ResolvePipeline(ctx context.Context, in PipelineInput) (*Pipeline, error) {
	if in.ID != "" {
		stored, err := e.meta.Get(ctx, in.ID)
		if err != nil {
			return nil, err
		}
		if stored != nil {
			in = mergePipelineInput(in, stored)
		}
	}

	source, err := e.ResolveConnection(ctx, in.Source.Connection)
	if err != nil {
		return nil, fmt.Errorf("pipeline %s source: %w", in.ID, err)
	}
	destination, err := e.ResolveConnection(ctx, in.Destination.Connection)
	if err != nil {
		return nil, fmt.Errorf("pipeline %s destination: %w", in.ID, err)
	}

	links := make([]stream.Link, 0, len(in.LinkNames))
	for _, name := range in.LinkNames {
		link, ok := e.linkMap[name]
		if !ok {
			return nil, newError(CodeInvalidPipeline, "", in.ID, fmt.Errorf("unknown link: %s", name))
		}
		links = append(links, link)
	}

	return &Pipeline{
		ID:          in.ID,
		Source:      &PipelineSide{Connection: source, Options: in.Source.Options},
		Destination: &PipelineSide{Connection: destination, Options: in.Destination.Options},
		Links:       links,
		Watch:       in.Watch,
	}, nil
}

// mergePipelineInput overlays a stored pipeline record under explicit
// input; explicit fields win.
func mergePipelineInput(in PipelineInput, stored map[string]any) PipelineInput {
	mergeSide := func(side *PipelineSideInput, key string) {
		doc, ok := stored[key].(map[string]any)
		if !ok {
			return
		}
		if side.Connection.ID == "" {
			side.Connection.ID, _ = doc["id"].(string)
		}
		if side.Options == nil {
			side.Options, _ = doc["options"].(map[string]any)
		}
	}
	mergeSide(&in.Source, "source")
	mergeSide(&in.Destination, "destination")

	if len(in.LinkNames) == 0 {
		if raw, ok := stored["links"].([]any); ok {
			for _, v := range raw {
				if name, ok := v.(string); ok {
					in.LinkNames = append(in.LinkNames, name)
				}
			}
		}
	}
	if !in.Watch {
		if w, ok := stored["watch"].(bool); ok {
			in.Watch = w
		}
	}
	return in
}

// pipelineInputFromEntry converts a stored pipeline document into an
// input for resolution.
func pipelineInputFromEntry(id string, doc map[string]any) PipelineInput {
	in := PipelineInput{ID: id}
	return mergePipelineInput(in, doc)
}
