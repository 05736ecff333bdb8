// Package brick implements the Brick bank-aggregator provider: a
// paginated, rate-limited HTTP source with a two-phase connect
// handshake (public token exchanged for an access token), webhook
// handling that mints a connection and triggers a sync, and an
// institution catalog for metaSync.
package brick

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/finsync/sync-core/pkg/provider"
	"github.com/finsync/sync-core/pkg/stream"
)

const Name = "brick"

const defaultPageSize = 100

// Transport can be overridden in tests to point at a stub server.
var Transport http.RoundTripper

// Provider builds the Brick provider. Config:
//
//	apiUrl      - API base url (required)
//	secrets     - env name -> public token used by preConnect
//	redirectUrl - where the connect widget sends the user back
func Provider() *provider.Provider {
	return &provider.Provider{
		Name:                Name,
		ConfigSchema:        parseConfig,
		SettingsSchema:      parseSettings,
		ConnectOutputSchema: parseConnectOutput,
		WebhookSchema:       parseWebhook,
		SourceEntities:      []string{"account", "transaction"},
		SourceSync:          sourceSync,
		SourceMapEntity:     mapEntity,
		MetaSync:            metaSync,
		PreConnect:          preConnect,
		PostConnect:         postConnect,
		HandleWebhook:       handleWebhook,
		RevokeConnection:    revokeConnection,
		StandardMappers: &provider.StandardMappers{
			Institution: mapInstitution,
			Connection: func(settings map[string]any) *provider.StandardConnection {
				return &provider.StandardConnection{DisplayName: "Brick account", Status: "healthy"}
			},
		},
	}
}

func parseConfig(raw map[string]any) (map[string]any, error) {
	apiURL, _ := raw["apiUrl"].(string)
	if apiURL == "" {
		return nil, fmt.Errorf("brick config: apiUrl is required")
	}
	out := map[string]any{"apiUrl": apiURL}
	if secrets, ok := raw["secrets"].(map[string]any); ok {
		out["secrets"] = secrets
	}
	if redirect, ok := raw["redirectUrl"].(string); ok {
		out["redirectUrl"] = redirect
	}
	return out, nil
}

func parseSettings(raw map[string]any) (map[string]any, error) {
	token, _ := raw["accessToken"].(string)
	if token == "" {
		return nil, fmt.Errorf("brick settings: accessToken is required")
	}
	return map[string]any{"accessToken": token}, nil
}

func parseConnectOutput(raw map[string]any) (map[string]any, error) {
	token, _ := raw["publicToken"].(string)
	if token == "" {
		return nil, fmt.Errorf("brick connect output: publicToken is required")
	}
	return map[string]any{"publicToken": token}, nil
}

func parseWebhook(in provider.WebhookInput) (provider.WebhookInput, error) {
	token, _ := in.Body["accessToken"].(string)
	if token == "" {
		return provider.WebhookInput{}, fmt.Errorf("brick webhook: accessToken is required")
	}
	return in, nil
}

func clientFrom(config, settings map[string]any) *client {
	apiURL, _ := config["apiUrl"].(string)
	token := ""
	if settings != nil {
		token, _ = settings["accessToken"].(string)
	}
	return newClient(apiURL, token, Transport)
}

type listPage struct {
	Data []map[string]any `json:"data"`
	// LastPage marks the final page of a listing.
	LastPage bool `json:"lastPage"`
}

// sourceSync pages through accounts, then transactions, and closes the
// batch with a single commit.
func sourceSync(ctx context.Context, req provider.SourceSyncRequest) (stream.Stream, error) {
	c := clientFrom(req.Config, req.Settings)

	type phase struct {
		path   string
		entity string
		idKey  string
	}
	phases := []phase{
		{path: "/v1/accounts", entity: "account", idKey: "accountId"},
		{path: "/v1/transactions", entity: "transaction", idKey: "referenceId"},
	}

	phaseIdx, pageNum := 0, 1
	// Buffered items keep the phase they were fetched under; phaseIdx
	// may already point past it once the last page arrives.
	bufPhase := 0
	var buffered []map[string]any
	committed := false

	pull := func() (stream.Operation, bool, error) {
		for {
			if len(buffered) > 0 {
				item := buffered[0]
				buffered = buffered[1:]
				ph := phases[bufPhase]
				id, _ := item[ph.idKey].(string)
				return stream.Data(id, ph.entity, item), true, nil
			}
			if phaseIdx >= len(phases) {
				if !committed {
					committed = true
					return stream.Commit(), true, nil
				}
				return stream.Operation{}, false, nil
			}

			var page listPage
			if err := c.page(ctx, phases[phaseIdx].path, pageNum, defaultPageSize, &page); err != nil {
				return stream.Operation{}, false, err
			}
			buffered = page.Data
			bufPhase = phaseIdx
			if page.LastPage || len(page.Data) == 0 {
				phaseIdx++
				pageNum = 1
			} else {
				pageNum++
			}
		}
	}
	return stream.FromFunc(pull), nil
}

// mapEntity standardizes native Brick shapes. Anything else is dropped,
// never forwarded raw.
func mapEntity(data *stream.DataPayload) (*stream.DataPayload, error) {
	switch data.EntityName {
	case "account":
		a := data.Entity
		return &stream.DataPayload{
			ID:         data.ID,
			EntityName: "account",
			Entity: map[string]any{
				"name":            a["accountHolder"],
				"type":            "asset/digital_wallet",
				"institutionName": a["type"],
				"currency":        a["currency"],
				"balance":         a["balance"],
			},
		}, nil
	case "transaction":
		t := data.Entity
		amount, _ := t["amount"].(float64)
		if dir, _ := t["direction"].(string); dir == "out" {
			amount = -amount
		}
		return &stream.DataPayload{
			ID:         data.ID,
			EntityName: "transaction",
			Entity: map[string]any{
				"date":        t["date"],
				"description": t["description"],
				"accountId":   t["accountId"],
				"amount":      amount,
				"currency":    t["currency"],
				"category":    t["category"],
			},
		}, nil
	}
	return nil, nil
}

// metaSync streams the institution catalog.
func metaSync(ctx context.Context, config map[string]any) (stream.Stream, error) {
	c := clientFrom(config, nil)
	pageNum := 1
	var buffered []map[string]any
	done := false

	pull := func() (stream.Operation, bool, error) {
		for {
			if len(buffered) > 0 {
				item := buffered[0]
				buffered = buffered[1:]
				id, _ := item["institutionId"].(string)
				return stream.Data(id, "institution", item), true, nil
			}
			if done {
				return stream.Operation{}, false, nil
			}
			var page listPage
			if err := c.page(ctx, "/v1/institutions", pageNum, defaultPageSize, &page); err != nil {
				return stream.Operation{}, false, err
			}
			buffered = page.Data
			if page.LastPage || len(page.Data) == 0 {
				done = true
			} else {
				pageNum++
			}
		}
	}
	return stream.FromFunc(pull), nil
}

func mapInstitution(external map[string]any) *provider.StandardInstitution {
	if external == nil {
		return nil
	}
	name, _ := external["name"].(string)
	if name == "" {
		return nil
	}
	logo, _ := external["logo"].(string)
	url, _ := external["url"].(string)
	return &provider.StandardInstitution{Name: name, LogoURL: logo, URL: url}
}

// preConnect hands the widget its public token and redirect url.
func preConnect(ctx context.Context, config map[string]any, connectCtx provider.ConnectContext) (map[string]any, error) {
	publicToken := ""
	if secrets, ok := config["secrets"].(map[string]any); ok {
		publicToken, _ = secrets[connectCtx.EnvName].(string)
	}
	redirect, _ := config["redirectUrl"].(string)
	if redirect == "" {
		redirect = connectCtx.RedirectURL
	}
	return map[string]any{"publicToken": publicToken, "redirectUrl": redirect}, nil
}

// postConnect exchanges the public token for an access token and opens
// the source stream for the new session.
func postConnect(ctx context.Context, output, config map[string]any, connectCtx provider.ConnectContext) (*provider.ConnectedSource, error) {
	c := clientFrom(config, nil)
	var token struct {
		AccessToken string `json:"accessToken"`
	}
	if err := c.postJSON(ctx, "/v1/auth/token", map[string]any{"publicToken": output["publicToken"]}, &token); err != nil {
		return nil, err
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("brick postConnect: empty access token")
	}
	settings := map[string]any{"accessToken": token.AccessToken}

	source, err := sourceSync(ctx, provider.SourceSyncRequest{Config: config, Settings: settings})
	if err != nil {
		return nil, err
	}
	return &provider.ConnectedSource{
		ExternalID: fingerprint(token.AccessToken),
		Settings:   settings,
		Source:     source,
	}, nil
}

// handleWebhook turns a connect-widget callback into a connected source
// and asks the engine to sync it.
func handleWebhook(ctx context.Context, input provider.WebhookInput, config map[string]any) (*provider.WebhookResult, error) {
	token, _ := input.Body["accessToken"].(string)
	ledgerID, _ := input.Body["userId"].(string)
	settings := map[string]any{"accessToken": token}

	source, err := sourceSync(ctx, provider.SourceSyncRequest{Config: config, Settings: settings})
	if err != nil {
		return nil, err
	}
	return &provider.WebhookResult{
		Response: map[string]any{"status": "ok"},
		ConnectedSources: []provider.ConnectedSource{{
			ExternalID:  fingerprint(token),
			Settings:    settings,
			LedgerID:    ledgerID,
			Source:      source,
			TriggerSync: true,
		}},
	}, nil
}

func revokeConnection(ctx context.Context, settings, config map[string]any) error {
	c := clientFrom(config, settings)
	return c.postJSON(ctx, "/v1/auth/revoke", map[string]any{}, nil)
}

// fingerprint derives a stable external id from an access token without
// storing the token in the id.
func fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}
