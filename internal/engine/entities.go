package engine

import (
	"github.com/finsync/sync-core/pkg/provider"
	"github.com/finsync/sync-core/pkg/stream"
)

// Integration is a configured instance of a provider: credentials and
// environment, without a specific connected account. Config has already
// been validated against the provider's schema.
type Integration struct {
	ID           string
	ProviderName string
	Config       map[string]any
	Provider     *provider.Provider
}

// Connection is a live, account-scoped instance of an integration.
type Connection struct {
	ID            string
	IntegrationID string
	Settings      map[string]any
	EnvName       string
	LedgerID      string
	InstitutionID string
	Integration   *Integration

	// source is the already-open operation stream for connect- or
	// webhook-triggered syncs, so those runs do not re-open the
	// provider session. Nil for stored connections.
	source stream.Stream
}

// PipelineSide pairs a resolved connection with its sync options.
type PipelineSide struct {
	Connection *Connection
	Options    map[string]any
}

// Pipeline is a standing directive to move data from one connection to
// another through an ordered link chain.
type Pipeline struct {
	ID          string
	Source      *PipelineSide
	Destination *PipelineSide
	Links       []stream.Link
	Watch       bool
}

// IntegrationInput identifies an integration before resolution: an id,
// a provider name, or both, with optional explicit config.
type IntegrationInput struct {
	ID           string
	ProviderName string
	Config       map[string]any
}

// ConnectionInput identifies a connection before resolution.
type ConnectionInput struct {
	ID            string
	IntegrationID string
	Settings      map[string]any
	EnvName       string
	LedgerID      string
}

// PipelineSideInput identifies one side of a pipeline.
type PipelineSideInput struct {
	Connection ConnectionInput
	Options    map[string]any
}

// PipelineInput identifies a pipeline before resolution. LinkNames are
// resolved through the engine's link map.
type PipelineInput struct {
	ID          string
	Source      PipelineSideInput
	Destination PipelineSideInput
	LinkNames   []string
	Watch       bool
}

// IntegrationSummary is the listing shape, with capability flags
// derived from the provider bundle rather than stored data.
type IntegrationSummary struct {
	ID            string
	Provider      string
	IsSource      bool
	IsDestination bool
}

// InstitutionSummary is the standardized institution listing shape.
type InstitutionSummary struct {
	ID         string
	ExternalID string
	Name       string
	LogoURL    string
	URL        string
}

// InstitutionResult joins a searchable institution with an integration
// able to connect to it.
type InstitutionResult struct {
	Institution   InstitutionSummary
	IntegrationID string
}

// ConnectionSummary joins a stored connection with its standardized
// shape and cached institution record, when present.
type ConnectionSummary struct {
	ID          string
	ExternalID  string
	DisplayName string
	Status      string
	Institution *InstitutionSummary
}
