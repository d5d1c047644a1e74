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

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"warboard/internal/classify"
	"warboard/internal/config"
	"warboard/internal/db"
	"warboard/internal/domain"
	"warboard/internal/engine"
	"warboard/internal/migrate"
	"warboard/internal/notify"
	"warboard/internal/server"
	"warboard/internal/store"
	"warboard/internal/tracker"
)

var rootCmd = &cobra.Command{
	Use:   "wb",
	Short: "Warboard CLI",
	Long: `Warboard keeps an approval-gated mirror of your tracker.
- Mirror: a local SQLite copy of tracker items, refreshed by 'wb sync' and webhooks.
- Suggestions: classified chat messages and coaching nudges that wait for a human decision.
- Execution: approved suggestions and 'wb cmd' batches update the tracker, the mirror, and the audit log together.
- Scans: 'wb scan stalled' and 'wb scan billing' surface stuck work and billing gaps.`,
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
	viper.SetEnvPrefix("WARBOARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(itemsCmd())
	rootCmd.AddCommand(suggestionsCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(commandCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage board config",
		Long:  "Config is the rulebook (warboard.yml): tracker credentials, project aliases, coaching caps, stalled thresholds, and billing budgets.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var boardID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default warboard.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(boardID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&boardID, "board", "main", "board identifier")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate warboard.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	}
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Pull a full tracker snapshot and reconcile the mirror",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Reconcile(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Synced %d items across %d projects\n", res.Synced, res.Projects)
				return nil
			})
		},
	}
}

func itemsCmd() *cobra.Command {
	items := &cobra.Command{Use: "items", Short: "Inspect mirrored work items"}
	items.AddCommand(itemsListCmd())
	items.AddCommand(itemsShowCmd())
	items.AddCommand(itemsArchiveCmd())
	return items
}

func itemsListCmd() *cobra.Command {
	var f store.ItemFilter
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List mirrored items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f.Status = domain.Status(strings.ToUpper(status))
				items, err := e.Store.ListItems(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Project", "Title", "Status", "Priority", "Assignee", "Hours"})
				for _, it := range items {
					assignee := ""
					if it.Assignee != nil {
						assignee = *it.Assignee
					}
					tw.AppendRow(table.Row{it.ID, it.ProjectID, it.Title, it.Status, it.Priority, assignee, it.HoursLogged})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Assignee, "assignee", "", "assignee filter")
	cmd.Flags().BoolVar(&f.IncludeArchived, "archived", false, "include archived items")
	return cmd
}

func itemsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <item-id>",
		Short: "Show one mirrored item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				item, err := e.Store.GetItem(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(item)
			})
		},
	}
	return cmd
}

func itemsArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive <item-id>",
		Short: "Archive an item on the board (the tracker is never touched)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor := viper.GetString("actor-id")
				if err := e.ArchiveItem(ctx, args[0], "archived by "+actor, domain.SourceWarboard); err != nil {
					return err
				}
				fmt.Printf("Archived %s\n", args[0])
				return nil
			})
		},
	}
	return cmd
}

func suggestionsCmd() *cobra.Command {
	sg := &cobra.Command{Use: "suggestions", Short: "Review and resolve suggestions"}
	sg.AddCommand(suggestionsListCmd())
	sg.AddCommand(suggestionsIngestCmd())
	sg.AddCommand(suggestionsResolveCmd())
	return sg
}

func suggestionsListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List suggestions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sgs, err := e.Store.ListSuggestions(ctx, domain.SuggestionStatus(status), limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(sgs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Kind", "Confidence", "Status", "Title", "Project"})
				for _, s := range sgs {
					title := ""
					if s.Title != nil {
						title = *s.Title
					}
					project := ""
					if s.ProjectID != nil {
						project = *s.ProjectID
					}
					tw.AppendRow(table.Row{s.ID, s.Kind, s.Confidence, s.Status, title, project})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (pending, approved, rejected, ...)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func suggestionsIngestCmd() *cobra.Command {
	var channel, author string
	cmd := &cobra.Command{
		Use:   "ingest <message>",
		Short: "Classify a free-text message into a suggestion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sg, err := e.IngestMessage(ctx, engine.MessageInput{
					Source:  domain.SourceChat,
					Channel: channel,
					Author:  author,
					Message: args[0],
				})
				if err != nil {
					return err
				}
				return printJSON(sg)
			})
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "", "origin channel")
	cmd.Flags().StringVar(&author, "author", "", "message author")
	return cmd
}

func suggestionsResolveCmd() *cobra.Command {
	var action, title, priority, assignee string
	cmd := &cobra.Command{
		Use:   "resolve <suggestion-id>",
		Short: "Apply a decision to a pending suggestion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var edits *store.SuggestionEdits
				if title != "" || priority != "" || assignee != "" {
					edits = &store.SuggestionEdits{}
					if title != "" {
						edits.Title = &title
					}
					if priority != "" {
						p := strings.ToUpper(priority)
						edits.Priority = &p
					}
					if assignee != "" {
						edits.Assignee = &assignee
					}
				}
				sg, err := e.ResolveSuggestion(ctx, args[0], domain.ResolutionAction(action), edits, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(sg)
			})
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "approve, edit, reject, send, or snooze")
	cmd.Flags().StringVar(&title, "title", "", "edited title (with --action edit)")
	cmd.Flags().StringVar(&priority, "priority", "", "edited priority (with --action edit)")
	cmd.Flags().StringVar(&assignee, "assignee", "", "edited assignee (with --action edit)")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func auditCmd() *cobra.Command {
	var itemID string
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entries, err := e.Audit.Recent(ctx, itemID, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Action", "Source", "Item", "Detail"})
				for _, en := range entries {
					tw.AppendRow(table.Row{en.TS, en.Action, en.Source, en.ItemID, en.Detail})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&itemID, "item", "", "filter by item id")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func scanCmd() *cobra.Command {
	scan := &cobra.Command{Use: "scan", Short: "Run board intelligence scans"}
	scan.AddCommand(scanStalledCmd())
	scan.AddCommand(scanBillingCmd())
	scan.AddCommand(scanCoachingCmd())
	scan.AddCommand(scanFollowupsCmd())
	scan.AddCommand(scanDigestCmd())
	scan.AddCommand(scanMuteCmd())
	return scan
}

func scanFollowupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "followups",
		Short: "Post stalled items as follow-up suggestions for approval",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				posted, err := e.PostFollowUps(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Posted %d follow-ups for approval\n", posted)
				return nil
			})
		},
	}
}

func scanDigestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "digest",
		Short: "Stage the daily digest for approval",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sg, err := e.PostDigest(ctx)
				if err != nil {
					return err
				}
				if sg.ID == "" {
					fmt.Println("Nothing to report")
					return nil
				}
				fmt.Printf("Digest %s staged for approval\n", sg.ID)
				return nil
			})
		},
	}
}

func scanStalledCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stalled",
		Short: "Items stuck waiting on a client or without updates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				flagged, err := e.DetectStalled(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(flagged)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Item", "Title", "Status", "Days", "Reason"})
				for _, s := range flagged {
					tw.AppendRow(table.Row{s.ItemID, s.Title, s.Status, s.DaysStale, s.Reason})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func scanBillingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "billing",
		Short: "Billing gaps and budget warnings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				flags, err := e.DetectBillingGaps(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(flags)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Severity", "Type", "Project", "Item", "Detail"})
				for _, f := range flags {
					tw.AppendRow(table.Row{f.Severity, f.Type, f.ProjectID, f.ItemID, f.Detail})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func scanCoachingCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "coaching",
		Short: "Detect coaching nudges and post them for approval",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if dryRun {
					nudges, err := e.DetectNudges(ctx)
					if err != nil {
						return err
					}
					return printJSON(nudges)
				}
				posted, err := e.PostNudges(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Posted %d nudges for approval\n", posted)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "detect without posting")
	return cmd
}

func scanMuteCmd() *cobra.Command {
	var member, nudgeType string
	cmd := &cobra.Command{
		Use:   "mute",
		Short: "Silence one nudge type for a member",
		RunE: func(cmd *cobra.Command, args []string) error {
			if member == "" || nudgeType == "" {
				return fmt.Errorf("--member and --type are required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.MuteNudges(ctx, member, nudgeType); err != nil {
					return err
				}
				fmt.Printf("Muted %s nudges for %s\n", nudgeType, member)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&member, "member", "", "member id")
	cmd.Flags().StringVar(&nudgeType, "type", "", "nudge type (missing_time, stalled_task, workflow_skip)")
	return cmd
}

func commandCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cmd <message>",
		Short: "Run a natural-language board command",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Command(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Println(res.Message)
				fmt.Printf("updates=%d creates=%d skips=%d failures=%d\n",
					res.Changes.Updates, res.Changes.Creates, res.Changes.Skips, res.Changes.Failures)
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				authCfg := server.AuthConfig{JWTSecret: os.Getenv("WARBOARD_JWT_SECRET")}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("WARBOARD_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Warboard API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	if cfg.Tracker.Token != "" {
		e.Tracker = tracker.NewClient(cfg)
	}
	if cfg.Notify.Token != "" {
		e.Notifier = notify.NewClient(cfg)
	}
	if cfg.Classifier.Token != "" {
		e.Classifier = classify.NewClient(cfg)
	}
	return fn(ctx, e)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
