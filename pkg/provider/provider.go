// Package provider defines the polymorphic capability bundle every
// connector implements, and the registry the engine resolves them from.
//
// A provider is a record of explicit nullable function slots rather
// than an interface hierarchy: call sites check slot presence before
// invoking, so a provider may implement any subset of source,
// destination, metaSync, connect, webhook, and revoke capabilities.
package provider

import (
	"context"
	"net/http"
	"net/url"

	"github.com/finsync/sync-core/pkg/stream"
)

// SchemaFunc validates and hydrates a raw document, returning the
// parsed form. Nil schemas accept anything as-is.
type SchemaFunc func(raw map[string]any) (map[string]any, error)

// Parse applies a schema when present, passing raw through otherwise.
func (f SchemaFunc) Parse(raw map[string]any) (map[string]any, error) {
	if f == nil {
		if raw == nil {
			return map[string]any{}, nil
		}
		return raw, nil
	}
	return f(raw)
}

// SourceSyncRequest carries the resolved inputs for a source stream.
type SourceSyncRequest struct {
	Config   map[string]any
	Settings map[string]any
	Options  map[string]any
}

// DestinationSyncRequest carries the resolved inputs for a destination
// stage.
type DestinationSyncRequest struct {
	Config   map[string]any
	Settings map[string]any
	Options  map[string]any
}

// ConnectContext identifies the ledger and environment a connect
// handshake runs in. The engine never owns UI state; the context is the
// message boundary between the two connect phases.
type ConnectContext struct {
	LedgerID    string
	EnvName     string
	RedirectURL string
}

// ConnectedSource is minted by PostConnect: a live provider session
// with its already-open source stream.
type ConnectedSource struct {
	ExternalID  string
	Settings    map[string]any
	Institution map[string]any
	LedgerID    string
	EnvName     string
	// Source is the open operation stream for this session, consumed by
	// the connect-triggered sync without re-opening the session.
	Source stream.Stream
	// TriggerSync asks the engine to sync this source immediately.
	TriggerSync bool
}

// WebhookInput is the raw inbound webhook, parsed against the
// provider's webhook schema before delegation.
type WebhookInput struct {
	Headers http.Header
	Query   url.Values
	Body    map[string]any
}

// WebhookResult is the provider's webhook outcome: a response body for
// the caller plus any connected sources to sync as a side effect.
type WebhookResult struct {
	Response         map[string]any
	ConnectedSources []ConnectedSource
}

// StandardInstitution is the standardized institution shape used by
// listing and search operations.
type StandardInstitution struct {
	Name    string
	LogoURL string
	URL     string
}

// StandardConnection is the standardized connection shape.
type StandardConnection struct {
	DisplayName string
	Status      string
}

// StandardMappers map provider-native shapes into standardized ones.
// A nil mapper or a nil mapping result excludes the record from
// standardized listings.
type StandardMappers struct {
	Institution func(external map[string]any) *StandardInstitution
	Connection  func(settings map[string]any) *StandardConnection
}

// Provider is a named capability bundle. Only Name is mandatory.
type Provider struct {
	Name string

	// Schemas, applied at load time rather than use time.
	ConfigSchema        SchemaFunc
	SettingsSchema      SchemaFunc
	ConnectOutputSchema SchemaFunc
	WebhookSchema       func(in WebhookInput) (WebhookInput, error)

	// SourceEntities declares the entity variants SourceSync may emit.
	// Without a SourceMapEntity, the mapping stage filters data
	// operations against this list.
	SourceEntities []string

	// SourceSync produces a lazy operation stream terminated by a
	// commit per logical batch. Transient upstream errors are retried
	// inside the provider; unrecoverable ones terminate the stream.
	SourceSync func(ctx context.Context, req SourceSyncRequest) (stream.Stream, error)

	// DestinationSync returns the terminal pipeline stage. It is a
	// transformer, not a callback, so destinations can batch writes and
	// emit metaUpdate operations after a flush.
	DestinationSync func(ctx context.Context, req DestinationSyncRequest) (stream.Link, error)

	// SourceMapEntity maps a provider-native data payload into the
	// standard shape. Returning nil drops the record: unmapped entity
	// variants are filtered, never forwarded raw.
	SourceMapEntity func(data *stream.DataPayload) (*stream.DataPayload, error)

	// MetaSync refreshes the institution catalog, independent of any
	// connection. Emits data operations whose entities are
	// provider-native institution records.
	MetaSync func(ctx context.Context, config map[string]any) (stream.Stream, error)

	// PreConnect and PostConnect form the two-phase connect handshake.
	PreConnect  func(ctx context.Context, config map[string]any, connectCtx ConnectContext) (map[string]any, error)
	PostConnect func(ctx context.Context, output map[string]any, config map[string]any, connectCtx ConnectContext) (*ConnectedSource, error)

	HandleWebhook    func(ctx context.Context, input WebhookInput, config map[string]any) (*WebhookResult, error)
	RevokeConnection func(ctx context.Context, settings, config map[string]any) error

	StandardMappers *StandardMappers
}

// IsSource reports whether the provider can open source streams.
func (p *Provider) IsSource() bool { return p != nil && p.SourceSync != nil }

// IsDestination reports whether the provider can act as a sink.
func (p *Provider) IsDestination() bool { return p != nil && p.DestinationSync != nil }

// HasMetaSync reports whether the provider refreshes institutions.
func (p *Provider) HasMetaSync() bool { return p != nil && p.MetaSync != nil }

// MapEntityLink returns the mapping stage for this provider's data.
// With a SourceMapEntity, the mapper decides what survives. With only
// declared SourceEntities, undeclared variants are dropped, never
// forwarded raw. A provider declaring neither gets no mapping stage.
func (p *Provider) MapEntityLink() stream.Link {
	if p == nil {
		return nil
	}
	if p.SourceMapEntity != nil {
		return stream.MapData(p.SourceMapEntity)
	}
	if len(p.SourceEntities) == 0 {
		return nil
	}
	declared := make(map[string]bool, len(p.SourceEntities))
	for _, name := range p.SourceEntities {
		declared[name] = true
	}
	return stream.MapData(func(data *stream.DataPayload) (*stream.DataPayload, error) {
		if !declared[data.EntityName] {
			return nil, nil
		}
		return data, nil
	})
}
