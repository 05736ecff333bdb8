package engine

import (
	"context"
	"fmt"

	"github.com/finsync/sync-core/pkg/ids"
	"github.com/finsync/sync-core/pkg/provider"
	"github.com/finsync/sync-core/pkg/stream"
)

// Connect lifecycle status strings.
const (
	ConnectStatusNoop    = "noop"
	ConnectStatusSuccess = "connection success"
)

// PreConnect begins the two-phase connect handshake: it returns the
// provider's opaque challenge descriptor for the out-of-band UI or
// redirect step. Providers without a preConnect slot yield nil.
func (e *Engine) PreConnect(ctx context.Context, integ *Integration, connectCtx provider.ConnectContext) (map[string]any, error) {
	if integ.Provider.PreConnect == nil {
		return nil, nil
	}
	return integ.Provider.PreConnect(ctx, integ.Config, connectCtx)
}

// PostConnect completes the handshake: it parses the raw connect output
// against the provider's schema, asks the provider to mint a connected
// source, synthesizes the connection, and runs the triggered sync.
// Returns only after both the mint and the sync finish. A provider
// without postConnect or a connect-output schema is a no-op and
// triggers no sync.
func (e *Engine) PostConnect(ctx context.Context, rawOutput map[string]any, integ *Integration, connectCtx provider.ConnectContext) (string, error) {
	p := integ.Provider
	if p.PostConnect == nil || p.ConnectOutputSchema == nil {
		return ConnectStatusNoop, nil
	}

	output, err := p.ConnectOutputSchema(rawOutput)
	if err != nil {
		return "", newError(CodeInvalidConnectOutput, p.Name, integ.ID, err)
	}
	e.logger.Info("connect started", "provider", p.Name)

	cs, err := p.PostConnect(ctx, output, integ.Config, connectCtx)
	if err != nil {
		return "", fmt.Errorf("postConnect %s: %w", p.Name, err)
	}

	conn, err := e.connectionFromSource(ctx, integ, cs, connectCtx)
	if err != nil {
		return "", err
	}
	if err := e.SyncConnection(ctx, conn); err != nil {
		return "", err
	}
	e.logger.Info("connect finished", "provider", p.Name, "connection", conn.ID)
	return ConnectStatusSuccess, nil
}

// connectionFromSource synthesizes a Connection from a minted connected
// source. The open source stream is led by a connUpdate so the
// persistence link records the connection before any data flows.
func (e *Engine) connectionFromSource(ctx context.Context, integ *Integration, cs *provider.ConnectedSource, connectCtx provider.ConnectContext) (*Connection, error) {
	settings, err := integ.Provider.SettingsSchema.Parse(cs.Settings)
	if err != nil {
		return nil, newError(CodeInvalidSettings, integ.ProviderName, integ.ID, err)
	}

	envName := cs.EnvName
	if envName == "" {
		envName = connectCtx.EnvName
	}
	ledgerID := cs.LedgerID
	if ledgerID == "" {
		ledgerID = connectCtx.LedgerID
	}

	conn := &Connection{
		ID:            ids.New(ids.PrefixConnection, integ.ProviderName, cs.ExternalID),
		IntegrationID: integ.ID,
		Settings:      settings,
		EnvName:       envName,
		LedgerID:      ledgerID,
		Integration:   integ,
	}

	opening := stream.ConnUpdate(conn.ID, settings, cs.Institution)
	if cs.Source != nil {
		conn.source = stream.Prepend(cs.Source, opening)
	} else {
		conn.source = stream.FromOperations(opening, stream.Commit())
	}
	// Seed the stored record before the sync: resolving the default
	// pipeline re-reads the connection from the store, so settings must
	// already be there. The postSource link keeps them fresh from then on.
	seed := map[string]any{
		"integrationId": conn.IntegrationID,
		"settings":      settings,
		"envName":       conn.EnvName,
		"ledgerId":      conn.LedgerID,
	}
	if err := e.meta.Patch(ctx, conn.ID, seed); err != nil {
		return nil, err
	}
	return conn, nil
}

// HandleWebhook validates the inbound webhook against the provider's
// schema and delegates. A provider that declares no webhook handler
// makes this a logged no-op, not an error. Connected sources the
// handler asks to sync are synced before returning.
func (e *Engine) HandleWebhook(ctx context.Context, integ *Integration, input provider.WebhookInput) (map[string]any, error) {
	p := integ.Provider
	if p.HandleWebhook == nil || p.WebhookSchema == nil {
		e.logger.Warn("provider does not handle webhooks", "provider", p.Name)
		return nil, nil
	}

	parsed, err := p.WebhookSchema(input)
	if err != nil {
		return nil, newError(CodeInvalidWebhook, p.Name, integ.ID, err)
	}
	result, err := p.HandleWebhook(ctx, parsed, integ.Config)
	if err != nil {
		return nil, fmt.Errorf("handleWebhook %s: %w", p.Name, err)
	}
	if result == nil {
		return nil, nil
	}

	for i := range result.ConnectedSources {
		cs := &result.ConnectedSources[i]
		if !cs.TriggerSync {
			continue
		}
		conn, err := e.connectionFromSource(ctx, integ, cs, provider.ConnectContext{
			LedgerID: cs.LedgerID,
			EnvName:  cs.EnvName,
		})
		if err != nil {
			return nil, err
		}
		if err := e.SyncConnection(ctx, conn); err != nil {
			return nil, err
		}
	}
	return result.Response, nil
}

// RevokeConnection delegates revocation to the provider; providers
// without the capability make this a no-op.
func (e *Engine) RevokeConnection(ctx context.Context, conn *Connection) error {
	p := conn.Integration.Provider
	if p.RevokeConnection == nil {
		e.logger.Info("provider has no revoke support", "provider", p.Name, "connection", conn.ID)
		return nil
	}
	return p.RevokeConnection(ctx, conn.Settings, conn.Integration.Config)
}
