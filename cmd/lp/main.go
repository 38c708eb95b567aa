package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"leadpilot/internal/app"
	"leadpilot/internal/batch"
	"leadpilot/internal/config"
	"leadpilot/internal/db"
	"leadpilot/internal/domain"
	"leadpilot/internal/engine"
	"leadpilot/internal/lookup"
	"leadpilot/internal/migrate"
	"leadpilot/internal/oracle"
	"leadpilot/internal/repo"
	"leadpilot/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "lp",
	Short: "LeadPilot CLI",
	Long: `LeadPilot proposes CRM actions and applies them under per-tenant autonomy rules.
Core concepts:
- Proposal: a suggested CRM action (tag, message, task, ...) waiting for a decision.
- Autonomy tier: per action type, whether proposals auto-approve or wait for a human.
- Dispatch: applying an approved proposal's payload to contacts, messages, tasks.
- Suppression: action types a tenant keeps dismissing stop being proposed.
- Enrichment: background batch jobs that fill in contact details via the AI oracle.
- Discovery: business search that checks stored records and a cache before paying
  for an external lookup.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("LEADPILOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("tenant", "", "tenant id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("tenant", rootCmd.PersistentFlags().Lookup("tenant"))
}

func registerCommands() {
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(proposalCmd())
	rootCmd.AddCommand(autonomyCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(enrichCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(contactCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func tenantCmd() *cobra.Command {
	tnt := &cobra.Command{Use: "tenant", Short: "Manage tenants"}
	tnt.AddCommand(tenantInitCmd())
	tnt.AddCommand(tenantConfigShowCmd())
	tnt.AddCommand(tenantConfigImportCmd())
	return tnt
}

func tenantInitCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a tenant with default config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				cfg := config.Default(id)
				if err := r.UpsertTenantConfig(ctx, id, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "tenant id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func tenantConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show tenant config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				cfg, err := e.Repo.GetTenantConfig(ctx, tenantID)
				if err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	return cmd
}

func tenantConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "config-import",
		Short: "Import tenant config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(filePath)
			if err != nil {
				return err
			}
			tenantID := cfg.Tenant.ID
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if tenantID == "" {
					tenantID = viper.GetString("tenant")
				}
				if tenantID == "" {
					return fmt.Errorf("tenant id missing from file and --tenant")
				}
				if err := r.UpsertTenantConfig(ctx, tenantID, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func proposalCmd() *cobra.Command {
	prp := &cobra.Command{Use: "proposal", Short: "Manage action proposals"}
	prp.AddCommand(proposalListCmd())
	prp.AddCommand(proposalCreateCmd())
	prp.AddCommand(proposalGetCmd())
	prp.AddCommand(proposalApproveCmd())
	prp.AddCommand(proposalDismissCmd())
	prp.AddCommand(proposalBulkCmd("bulk-approve", "Approve several pending proposals"))
	prp.AddCommand(proposalBulkCmd("bulk-dismiss", "Dismiss several pending proposals"))
	prp.AddCommand(proposalUndoCmd())
	return prp
}

func proposalListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List proposals, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				items, err := e.Repo.ListProposals(ctx, repo.ProposalFilters{
					TenantID: tenantID,
					Status:   status,
					Limit:    limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Status", "Title", "Contact", "Source", "Created"})
				for _, p := range items {
					contact := ""
					if p.ContactName != nil {
						contact = *p.ContactName
					} else if p.ContactID != nil {
						contact = *p.ContactID
					}
					tw.AppendRow(table.Row{p.ID, p.Type, p.Status, p.Title, contact, p.Source, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (pending, approved, dismissed, auto_approved)")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows")
	return cmd
}

func proposalCreateCmd() *cobra.Command {
	var actionType, title, description, module, contactID, contactName, payload string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a proposal (auto-approves when the tier allows)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				p, err := e.Create(ctx, engine.CreateOptions{
					TenantID:    tenantID,
					Type:        actionType,
					Title:       title,
					Description: description,
					Module:      module,
					ContactID:   contactID,
					ContactName: contactName,
					PayloadJSON: payload,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&actionType, "type", "", "action type")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&module, "module", "", "CRM module")
	cmd.Flags().StringVar(&contactID, "contact-id", "", "contact id")
	cmd.Flags().StringVar(&contactName, "contact-name", "", "contact name")
	cmd.Flags().StringVar(&payload, "payload", "", "payload JSON")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func proposalGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string) error {
				p, err := e.Repo.GetProposal(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func proposalApproveCmd() *cobra.Command {
	var payload string
	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a pending proposal and dispatch its action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				var override *string
				if cmd.Flags().Changed("payload") {
					override = &payload
				}
				p, err := e.Approve(ctx, tenantID, args[0], override, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&payload, "payload", "", "replacement payload JSON")
	return cmd
}

func proposalDismissCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dismiss <id>",
		Short: "Dismiss a pending proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				p, err := e.Dismiss(ctx, tenantID, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func proposalBulkCmd(use, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <id>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				actor := viper.GetString("actor-id")
				var res engine.BulkResult
				var err error
				if use == "bulk-approve" {
					res, err = e.BulkApprove(ctx, tenantID, args, actor)
				} else {
					res, err = e.BulkDismiss(ctx, tenantID, args, actor)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	return cmd
}

func proposalUndoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "undo <id>",
		Short: "Undo an auto-approved proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				p, err := e.Undo(ctx, tenantID, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func autonomyCmd() *cobra.Command {
	aut := &cobra.Command{Use: "autonomy", Short: "Autonomy tiers per action type"}
	aut.AddCommand(autonomyListCmd())
	aut.AddCommand(autonomySetCmd())
	return aut
}

func autonomyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the effective tier for every action type",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				cfg := e.TenantConfig(ctx, tenantID)
				items, err := e.Autonomy.Settings(ctx, cfg, tenantID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Action Type", "Tier"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ActionType, s.Tier})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func autonomySetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <action-type> <tier>",
		Short: "Override the tier for one action type",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				s, err := e.Autonomy.SetTier(ctx, tenantID, domain.ActionType(args[0]), domain.Tier(args[1]))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Per-type resolution counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				items, err := e.Repo.ListStats(ctx, tenantID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Action Type", "Approved", "Dismissed", "Auto-Approved"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ActionType, s.ApprovedCount, s.DismissedCount, s.AutoApprovedCount})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func analyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run proactive proposal generation for the tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				res, err := e.Analyze(ctx, tenantID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if res.Skipped {
					fmt.Println("skipped: cooldown window has not elapsed")
					return nil
				}
				return printJSONOrTable(res)
			})
		},
	}
	return cmd
}

func enrichCmd() *cobra.Command {
	var contactIDs []string
	var wait bool
	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Submit a batch contact enrichment job",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				runner := batch.NewRunner(e.Repo, e.Oracle, e.Logger)
				runner.Config = func(ctx context.Context, tenant string) *config.Config {
					return e.TenantConfig(ctx, tenant)
				}
				jobID, err := runner.Submit(ctx, tenantID, contactIDs)
				if err != nil {
					return err
				}
				if !wait {
					return printJSONOrTable(map[string]string{"job_id": jobID})
				}
				for {
					job, err := runner.Poll(jobID)
					if err != nil {
						return err
					}
					if job.Status != domain.BatchProcessing {
						return printJSONOrTable(job)
					}
					fmt.Printf("processed %d/%d\n", job.Processed, job.Total)
					time.Sleep(time.Second)
				}
			})
		},
	}
	cmd.Flags().StringSliceVar(&contactIDs, "contacts", nil, "contact ids to enrich")
	cmd.Flags().BoolVar(&wait, "wait", true, "wait for the job to finish")
	_ = cmd.MarkFlagRequired("contacts")
	return cmd
}

func searchCmd() *cobra.Command {
	var kind string
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Business discovery through the cascading lookup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				searcher := lookup.NewSearcher(e.Repo, lookup.OracleProvider{Client: e.Oracle}, nil, e.Logger)
				searcher.Config = func(ctx context.Context, tenant string) *config.Config {
					return e.TenantConfig(ctx, tenant)
				}
				res, err := searcher.Search(ctx, tenantID, kind, args[0], limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("%s (via %s)\n", res.ResultText, res.Layer)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Name", "Website", "Phone", "Detail"})
				for _, entry := range res.Entries {
					tw.AppendRow(table.Row{entry.Name, entry.Website, entry.Phone, entry.Detail})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "business", "search kind")
	cmd.Flags().IntVar(&limit, "limit", 10, "max results")
	return cmd
}

func contactCmd() *cobra.Command {
	cnt := &cobra.Command{Use: "contact", Short: "Manage contacts"}
	cnt.AddCommand(contactAddCmd())
	cnt.AddCommand(contactListCmd())
	cnt.AddCommand(contactShowCmd())
	return cnt
}

func contactAddCmd() *cobra.Command {
	var name, email, phone, status string
	var score int
	var tags []string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a contact",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				c, err := e.CreateContact(ctx, tenantID, domain.Contact{
					Name:      name,
					Email:     email,
					Phone:     phone,
					Status:    status,
					LeadScore: score,
					Tags:      tags,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "contact name")
	cmd.Flags().StringVar(&email, "email", "", "email")
	cmd.Flags().StringVar(&phone, "phone", "", "phone")
	cmd.Flags().StringVar(&status, "status", "", "pipeline status")
	cmd.Flags().IntVar(&score, "score", 0, "lead score")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "tags")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func contactListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List contacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				items, err := e.Repo.ListContacts(ctx, tenantID, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Score", "Tags", "Company"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.Name, c.Status, c.LeadScore, strings.Join(c.Tags, ","), c.Company})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows")
	return cmd
}

func contactShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a contact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				c, err := e.Repo.GetContact(ctx, tenantID, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "API keys for the HTTP server"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyDeleteCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Mint an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				secret := uuid.New().String()
				k := domain.APIKey{
					ID:        uuid.New().String(),
					ActorID:   viper.GetString("actor-id"),
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, k); err != nil {
					return err
				}
				// Shown once; only the hash is stored.
				return printJSONOrTable(map[string]string{"id": k.ID, "key": secret})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				events, err := e.Repo.LatestEvents(ctx, n, tenantID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer logger.Sync()
			r := repo.Repo{DB: conn}
			tenantID, cfg, err := app.ResolveTenantAndConfig(cmd.Context(), viper.GetString("tenant"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, oracleFromEnv(), logger)
			runner := batch.NewRunner(e.Repo, e.Oracle, logger)
			runner.Config = func(ctx context.Context, tenant string) *config.Config {
				return e.TenantConfig(ctx, tenant)
			}
			runner.StartSweeper(cmd.Context(), cfg.BatchSweepInterval(), cfg.BatchRetention())
			searcher := lookup.NewSearcher(e.Repo, lookup.OracleProvider{Client: e.Oracle}, nil, logger)
			searcher.Config = runner.Config
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("LEADPILOT_JWT_SECRET"), Logger: logger}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("LEADPILOT_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{
				Engine:   e,
				Batch:    runner,
				Search:   searcher,
				BasePath: basePath,
				Auth:     authCfg,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			logger.Info("serving LeadPilot API",
				zap.String("addr", addr),
				zap.String("base_path", basePath),
				zap.String("default_tenant", tenantID))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8787", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func oracleFromEnv() oracle.Client {
	key := os.Getenv("LEADPILOT_OPENAI_API_KEY")
	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}
	if key == "" {
		return oracle.Disabled{}
	}
	client, err := oracle.NewOpenAIClient(key, os.Getenv("LEADPILOT_ORACLE_MODEL"))
	if err != nil {
		return oracle.Disabled{}
	}
	return client
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine, string) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	tenantID, _, err := app.ResolveTenantAndConfig(ctx, viper.GetString("tenant"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, oracleFromEnv(), zap.NewNop())
	return fn(ctx, e, tenantID)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
