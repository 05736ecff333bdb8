// Command syncctl drives the sync engine from the terminal: listing
// integrations and connections, searching institutions, and running
// metadata and pipeline syncs.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/finsync/sync-core/internal/config"
	"github.com/finsync/sync-core/internal/engine"
	"github.com/finsync/sync-core/internal/provider/brick"
	"github.com/finsync/sync-core/internal/provider/csvfile"
	"github.com/finsync/sync-core/internal/provider/fs"
	"github.com/finsync/sync-core/internal/provider/objstore"
	"github.com/finsync/sync-core/internal/provider/postgres"
	"github.com/finsync/sync-core/pkg/kvstore"
	"github.com/finsync/sync-core/pkg/provider"
	"github.com/finsync/sync-core/pkg/stream"
)

var rootCmd = &cobra.Command{
	Use:           "syncctl",
	Short:         "Operate the financial data sync engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "syncctl:", err)
		os.Exit(1)
	}
}

// newEngine assembles an engine from environment configuration. The
// caller owns Close.
func newEngine(ctx context.Context) (*engine.Engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))

	var store kvstore.Store
	if cfg.DatabaseURL != "" {
		pg, err := kvstore.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("opening meta store: %w", err)
		}
		store = pg
	} else {
		store = kvstore.NewMemoryStore()
	}

	providers := []*provider.Provider{
		brick.Provider(),
		fs.Provider(),
		csvfile.Provider(),
		postgres.Provider(),
		objstore.Provider(),
	}

	defaults := make([]engine.IntegrationInput, 0, len(cfg.Integrations))
	for name, doc := range cfg.Integrations {
		defaults = append(defaults, engine.IntegrationInput{ProviderName: name, Config: doc})
	}

	return engine.New(engine.Config{
		Providers:           providers,
		Store:               store,
		DefaultIntegrations: defaults,
		LinkMap: map[string]stream.Link{
			"log": stream.Log(logger, "operation"),
		},
		Logger: logger,
	})
}

func logLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// withEngine wraps a command body with engine setup and teardown.
func withEngine(run func(ctx context.Context, cmd *cobra.Command, e *engine.Engine, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := newEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()
		return run(ctx, cmd, e, args)
	}
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check engine health",
	RunE: withEngine(func(ctx context.Context, cmd *cobra.Command, e *engine.Engine, args []string) error {
		cmd.Println(e.Health())
		return nil
	}),
}

var integrationsFilter string

var integrationsCmd = &cobra.Command{
	Use:   "integrations",
	Short: "List configured integrations",
	RunE: withEngine(func(ctx context.Context, cmd *cobra.Command, e *engine.Engine, args []string) error {
		items, err := e.ListIntegrations(ctx, integrationsFilter)
		if err != nil {
			return err
		}
		for _, it := range items {
			caps := []string{}
			if it.IsSource {
				caps = append(caps, "source")
			}
			if it.IsDestination {
				caps = append(caps, "destination")
			}
			cmd.Printf("%s\t%s\t%s\n", it.ID, it.Provider, strings.Join(caps, ","))
		}
		return nil
	}),
}

var institutionsCmd = &cobra.Command{
	Use:   "institutions [keywords]",
	Short: "Search the cached institution catalog",
	Args:  cobra.MaximumNArgs(1),
	RunE: withEngine(func(ctx context.Context, cmd *cobra.Command, e *engine.Engine, args []string) error {
		keywords := ""
		if len(args) > 0 {
			keywords = args[0]
		}
		results, err := e.SearchInstitutions(ctx, keywords)
		if err != nil {
			return err
		}
		for _, r := range results {
			cmd.Printf("%s\t%s\t(via %s)\n", r.Institution.ID, r.Institution.Name, r.IntegrationID)
		}
		cmd.Printf("%d institutions\n", len(results))
		return nil
	}),
}

var connectionsLedger string

var connectionsCmd = &cobra.Command{
	Use:   "connections",
	Short: "List stored connections",
	RunE: withEngine(func(ctx context.Context, cmd *cobra.Command, e *engine.Engine, args []string) error {
		conns, err := e.ListConnections(ctx, connectionsLedger)
		if err != nil {
			return err
		}
		for _, c := range conns {
			name := c.DisplayName
			if c.Institution != nil && c.Institution.Name != "" {
				name = c.Institution.Name
			}
			cmd.Printf("%s\t%s\t%s\n", c.ID, name, c.Status)
		}
		return nil
	}),
}

var syncMetadataCmd = &cobra.Command{
	Use:   "sync-metadata [integration-id]",
	Short: "Refresh the institution catalog",
	Args:  cobra.MaximumNArgs(1),
	RunE: withEngine(func(ctx context.Context, cmd *cobra.Command, e *engine.Engine, args []string) error {
		integrationID := ""
		if len(args) > 0 {
			integrationID = args[0]
		}
		msg, err := e.SyncMetadata(ctx, integrationID)
		if err != nil {
			return err
		}
		cmd.Println(msg)
		return nil
	}),
}

var syncConnectionCmd = &cobra.Command{
	Use:   "sync-connection <connection-id>",
	Short: "Run every pipeline attached to a connection",
	Args:  cobra.ExactArgs(1),
	RunE: withEngine(func(ctx context.Context, cmd *cobra.Command, e *engine.Engine, args []string) error {
		conn, err := e.ResolveConnection(ctx, engine.ConnectionInput{ID: args[0]})
		if err != nil {
			return err
		}
		if err := e.SyncConnection(ctx, conn); err != nil {
			return err
		}
		cmd.Printf("connection %s synced\n", conn.ID)
		return nil
	}),
}

var (
	pipelineSourceID string
	pipelineDestID   string
	pipelineLinks    []string
	pipelineWatch    bool
	pipelineTimeout  time.Duration
)

var syncPipelineCmd = &cobra.Command{
	Use:   "sync-pipeline",
	Short: "Run a single pipeline between two connections",
	RunE: withEngine(func(ctx context.Context, cmd *cobra.Command, e *engine.Engine, args []string) error {
		if pipelineTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, pipelineTimeout)
			defer cancel()
		}
		pipe, err := e.ResolvePipeline(ctx, engine.PipelineInput{
			Source:      engine.PipelineSideInput{Connection: engine.ConnectionInput{ID: pipelineSourceID}},
			Destination: engine.PipelineSideInput{Connection: engine.ConnectionInput{ID: pipelineDestID}},
			LinkNames:   pipelineLinks,
			Watch:       pipelineWatch,
		})
		if err != nil {
			return err
		}
		stats, err := e.SyncPipeline(ctx, pipe)
		if err != nil {
			return err
		}
		cmd.Println(stats.String())
		return nil
	}),
}

var webhookBodyFile string

var webhookCmd = &cobra.Command{
	Use:   "webhook <integration-id>",
	Short: "Replay a provider webhook payload",
	Long:  "Feeds a JSON webhook body, from --body or stdin, to the integration's provider as if the provider had delivered it.",
	Args:  cobra.ExactArgs(1),
	RunE: withEngine(func(ctx context.Context, cmd *cobra.Command, e *engine.Engine, args []string) error {
		integ, err := e.ResolveIntegration(ctx, engine.IntegrationInput{ID: args[0]})
		if err != nil {
			return err
		}
		var raw []byte
		if webhookBodyFile != "" {
			raw, err = os.ReadFile(webhookBodyFile)
		} else {
			raw, err = io.ReadAll(cmd.InOrStdin())
		}
		if err != nil {
			return err
		}
		var body map[string]any
		if err := json.Unmarshal(raw, &body); err != nil {
			return fmt.Errorf("parsing webhook body: %w", err)
		}
		resp, err := e.HandleWebhook(ctx, integ, provider.WebhookInput{Body: body})
		if err != nil {
			return err
		}
		if resp == nil {
			cmd.Println("no webhook handler")
			return nil
		}
		out, err := json.Marshal(resp)
		if err != nil {
			return err
		}
		cmd.Println(string(out))
		return nil
	}),
}

var revokeCmd = &cobra.Command{
	Use:   "revoke <connection-id>",
	Short: "Revoke a connection with its provider",
	Args:  cobra.ExactArgs(1),
	RunE: withEngine(func(ctx context.Context, cmd *cobra.Command, e *engine.Engine, args []string) error {
		conn, err := e.ResolveConnection(ctx, engine.ConnectionInput{ID: args[0]})
		if err != nil {
			return err
		}
		if err := e.RevokeConnection(ctx, conn); err != nil {
			return err
		}
		cmd.Printf("connection %s revoked\n", conn.ID)
		return nil
	}),
}

func init() {
	integrationsCmd.Flags().StringVar(&integrationsFilter, "type", "", "filter by capability: source or destination")
	connectionsCmd.Flags().StringVar(&connectionsLedger, "ledger", "", "only connections for this ledger id")

	syncPipelineCmd.Flags().StringVar(&pipelineSourceID, "source-id", "", "source connection id")
	syncPipelineCmd.Flags().StringVar(&pipelineDestID, "destination-id", "", "destination connection id")
	syncPipelineCmd.Flags().StringSliceVar(&pipelineLinks, "link", nil, "named link to apply, in order")
	syncPipelineCmd.Flags().BoolVar(&pipelineWatch, "watch", false, "keep the stream open until interrupted")
	syncPipelineCmd.Flags().DurationVar(&pipelineTimeout, "timeout", 0, "abort the run after this duration")
	syncPipelineCmd.MarkFlagRequired("source-id")
	syncPipelineCmd.MarkFlagRequired("destination-id")

	webhookCmd.Flags().StringVar(&webhookBodyFile, "body", "", "file holding the JSON webhook body; stdin when omitted")

	rootCmd.AddCommand(
		healthCmd,
		integrationsCmd,
		institutionsCmd,
		connectionsCmd,
		syncMetadataCmd,
		syncConnectionCmd,
		syncPipelineCmd,
		webhookCmd,
		revokeCmd,
	)
}
