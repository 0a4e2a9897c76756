package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"intentgate/internal/app"
	"intentgate/internal/config"
	"intentgate/internal/db"
	"intentgate/internal/domain"
	"intentgate/internal/engine"
	"intentgate/internal/migrate"
	"intentgate/internal/repo"
	"intentgate/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ig",
	Short: "Intentgate CLI",
	Long: `Intentgate governs autonomous coding agents with intent contracts and
bounded execution loops.
Core concepts:
- Intent contract: what the agent is allowed to build, frozen before work
  starts. A frozen contract cannot change; actions that would break it are
  recorded as violations and blocked.
- Execution loop: one bounded run against a frozen contract. Ceilings on
  time, actions, cost, and iterations pause the loop instead of letting it
  run away.
- Workflow: the ordered delivery pipeline (interpret -> plan -> code ->
  test -> deploy). Steps advance one at a time; a failure stops the line.
- Ledgers: every executed action and every pause is an append-only row,
  view with 'ig loop actions' / 'ig loop pauses'.
- Event log: diary of everything that happened, view with 'ig log tail'.`,
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
	viper.SetEnvPrefix("INTENTGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindEnv("project", "INTENTGATE_PROJECT", "INTENTGATE_DEFAULT_PROJECT")
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("project", "", "project id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(intentCmd())
	rootCmd.AddCommand(loopCmd())
	rootCmd.AddCommand(workflowCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUseCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				return printJSONOrDump(items)
			})
		},
	}
	return cmd
}

func projectCreateCmd() *cobra.Command {
	var id, name, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
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
			cfg := config.Default(id)
			e := engine.New(conn, cfg)
			p, err := e.InitProject(cmd.Context(), id, name, desc, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			return printJSONOrDump(p)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id")
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := viper.GetString("project")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if target == "" {
					target = e.Config.Project.ID
				}
				p, err := e.Repo.GetProject(ctx, target)
				if err != nil {
					return err
				}
				return printJSONOrDump(p)
			})
		},
	}
	return cmd
}

func projectUseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use <id>",
		Short: "Set current project for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := strings.TrimSpace(args[0])
			if projectID == "" {
				return fmt.Errorf("project id is required")
			}
			workspace := viper.GetString("workspace")
			if err := setEnvValue(filepath.Join(workspace, ".env"), "INTENTGATE_DEFAULT_PROJECT", projectID); err != nil {
				return err
			}
			fmt.Printf("Set INTENTGATE_DEFAULT_PROJECT=%s in %s/.env\n", projectID, workspace)
			return nil
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect project config",
		Long:  "Config is the rulebook (stored in DB): project identity, loop ceilings, the violation vocabulary, and the workflow step catalog. Import from intentgate.yml if desired.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrDump(e.Config)
			})
		},
	}
	return cmd
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import project config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			cfg, err := config.FromYAML(data)
			if err != nil {
				return err
			}
			projectID := cfg.Project.ID
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if projectID == "" {
					projectID = e.Config.Project.ID
				}
				if err := e.Repo.UpsertProjectConfig(ctx, projectID, cfg); err != nil {
					return err
				}
				return printJSONOrDump(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Config.Validate()
			})
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func intentCmd() *cobra.Command {
	in := &cobra.Command{
		Use:   "intent",
		Short: "Manage intent contracts",
		Long:  "Intent contracts flow draft -> validated -> frozen -> completed/cancelled. Only drafts are editable; freezing stamps a content hash and turns on action gating.",
	}
	in.AddCommand(intentCreateCmd())
	in.AddCommand(intentUpdateCmd())
	in.AddCommand(intentValidateCmd())
	in.AddCommand(intentFreezeCmd())
	in.AddCommand(intentShowCmd())
	in.AddCommand(intentListCmd())
	in.AddCommand(intentVerifyCmd())
	in.AddCommand(intentCheckActionCmd())
	in.AddCommand(intentViolationsCmd())
	in.AddCommand(intentCompleteCmd())
	in.AddCommand(intentCancelCmd())
	return in
}

func intentCreateCmd() *cobra.Command {
	var opts engine.IntentCreateOptions
	var constraints, features []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an intent contract",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			opts.Constraints = constraints
			opts.MainFeatures = features
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if opts.ProjectID == "" {
					opts.ProjectID = e.Config.Project.ID
				}
				in, err := e.CreateIntent(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrDump(in)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "intent id (optional, UUID if omitted)")
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&opts.IntentType, "type", "", "intent type (create, improve, understand)")
	cmd.Flags().StringVar(&opts.ProductName, "product-name", "", "product name")
	cmd.Flags().StringVar(&opts.ProductDescription, "product-description", "", "product description")
	cmd.Flags().StringVar(&opts.BusinessGoal, "business-goal", "", "business goal")
	cmd.Flags().StringVar(&opts.TargetAudience, "target-audience", "", "target audience")
	cmd.Flags().StringVar(&opts.SuccessCriteria, "success-criteria", "", "success criteria")
	cmd.Flags().StringArrayVar(&constraints, "constraint", []string{}, "constraint (repeatable)")
	cmd.Flags().StringVar(&opts.RiskLevel, "risk-level", "", "risk level (minimal, low, medium, high)")
	cmd.Flags().StringArrayVar(&features, "feature", []string{}, "main feature (repeatable)")
	cmd.Flags().StringVar(&opts.AdditionalContext, "context", "", "additional context")
	cmd.Flags().StringVar(&opts.RepositoryURL, "repository-url", "", "repository URL")
	_ = cmd.MarkFlagRequired("product-name")
	return cmd
}

func intentUpdateCmd() *cobra.Command {
	var productName, productDescription, businessGoal, targetAudience, successCriteria, riskLevel, additionalContext, repositoryURL string
	var constraints, features []string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a draft intent contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.IntentUpdateOptions{
				ID:      args[0],
				ActorID: viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("product-name") {
				opts.ProductName = &productName
			}
			if cmd.Flags().Changed("product-description") {
				opts.ProductDescription = &productDescription
			}
			if cmd.Flags().Changed("business-goal") {
				opts.BusinessGoal = &businessGoal
			}
			if cmd.Flags().Changed("target-audience") {
				opts.TargetAudience = &targetAudience
			}
			if cmd.Flags().Changed("success-criteria") {
				opts.SuccessCriteria = &successCriteria
			}
			if cmd.Flags().Changed("risk-level") {
				opts.RiskLevel = &riskLevel
			}
			if cmd.Flags().Changed("context") {
				opts.AdditionalContext = &additionalContext
			}
			if cmd.Flags().Changed("repository-url") {
				opts.RepositoryURL = &repositoryURL
			}
			if cmd.Flags().Changed("constraint") {
				opts.Constraints = constraints
			}
			if cmd.Flags().Changed("feature") {
				opts.MainFeatures = features
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				in, err := e.UpdateIntent(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrDump(in)
			})
		},
	}
	cmd.Flags().StringVar(&productName, "product-name", "", "product name")
	cmd.Flags().StringVar(&productDescription, "product-description", "", "product description")
	cmd.Flags().StringVar(&businessGoal, "business-goal", "", "business goal")
	cmd.Flags().StringVar(&targetAudience, "target-audience", "", "target audience")
	cmd.Flags().StringVar(&successCriteria, "success-criteria", "", "success criteria")
	cmd.Flags().StringArrayVar(&constraints, "constraint", []string{}, "replace constraints (repeatable)")
	cmd.Flags().StringVar(&riskLevel, "risk-level", "", "risk level")
	cmd.Flags().StringArrayVar(&features, "feature", []string{}, "replace main features (repeatable)")
	cmd.Flags().StringVar(&additionalContext, "context", "", "additional context")
	cmd.Flags().StringVar(&repositoryURL, "repository-url", "", "repository URL")
	return cmd
}

func intentValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <id>",
		Short: "Validate an intent contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				in, err := e.ValidateIntent(ctx, id, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrDump(in)
			})
		},
	}
	return cmd
}

func intentFreezeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "freeze <id>",
		Short: "Freeze a validated intent contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				in, err := e.FreezeIntent(ctx, id, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrDump(in)
			})
		},
	}
	return cmd
}

func intentShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Show an intent contract (latest when id is omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var in domain.IntentContract
				var err error
				if len(args) == 1 {
					in, err = e.Repo.GetIntent(ctx, args[0])
				} else {
					in, err = e.Repo.LatestProjectIntent(ctx, e.Config.Project.ID)
				}
				if err != nil {
					return err
				}
				return printJSONOrDump(in)
			})
		},
	}
	return cmd
}

func intentListCmd() *cobra.Command {
	var f repo.IntentFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List intent contracts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.ProjectID == "" {
					f.ProjectID = e.Config.Project.ID
				}
				items, err := e.Repo.ListIntents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Product", "Type", "Status", "Risk", "Created"})
				for _, in := range items {
					tw.AppendRow(table.Row{in.ID, in.ProductName, in.IntentType, in.Status, in.RiskLevel, in.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	return cmd
}

func intentVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <id>",
		Short: "Verify a frozen contract against its stored hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.VerifyIntent(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrDump(v)
			})
		},
	}
	return cmd
}

func intentCheckActionCmd() *cobra.Command {
	var action string
	cmd := &cobra.Command{
		Use:   "check-action <id>",
		Short: "Check an action against a frozen contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if action == "" {
				return fmt.Errorf("--action required")
			}
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				check, err := e.CheckIntentAction(ctx, id, action, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrDump(check)
			})
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "action description")
	return cmd
}

func intentViolationsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "violations <id>",
		Short: "List recorded violations for an intent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListViolations(ctx, id, limit, 0)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Action", "Constraint", "Disposition", "At"})
				for _, v := range items {
					tw.AppendRow(table.Row{v.ID, v.AttemptedAction, v.ViolatedConstraint, v.Disposition, v.OccurredAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "n", 50, "max violations")
	return cmd
}

func intentCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete a frozen intent contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				in, err := e.CompleteIntent(ctx, id, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrDump(in)
			})
		},
	}
	return cmd
}

func intentCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel an intent contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				in, err := e.CancelIntent(ctx, id, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrDump(in)
			})
		},
	}
	return cmd
}

func loopCmd() *cobra.Command {
	lp := &cobra.Command{
		Use:   "loop",
		Short: "Manage execution loops",
		Long:  "Execution loops are bounded runs against a frozen intent: pending -> running <-> paused -> completed/cancelled/failed. Ceilings on time, actions, cost, and iterations pause the loop; every action and pause lands in an append-only ledger.",
	}
	lp.AddCommand(loopCreateCmd())
	lp.AddCommand(loopStartCmd())
	lp.AddCommand(loopPauseCmd())
	lp.AddCommand(loopResumeCmd())
	lp.AddCommand(loopRecordCmd())
	lp.AddCommand(loopIterateCmd())
	lp.AddCommand(loopCheckLimitsCmd())
	lp.AddCommand(loopCheckActionCmd())
	lp.AddCommand(loopProgressCmd())
	lp.AddCommand(loopCompleteCmd())
	lp.AddCommand(loopCancelCmd())
	lp.AddCommand(loopShowCmd())
	lp.AddCommand(loopListCmd())
	lp.AddCommand(loopActionsCmd())
	lp.AddCommand(loopPausesCmd())
	return lp
}

func loopCreateCmd() *cobra.Command {
	var opts engine.LoopCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an execution loop for a frozen intent",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.IntentID == "" {
				return fmt.Errorf("--intent required")
			}
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if opts.ProjectID == "" {
					opts.ProjectID = e.Config.Project.ID
				}
				l, err := e.CreateLoop(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrDump(l)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "loop id (optional, UUID if omitted)")
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&opts.IntentID, "intent", "", "frozen intent id")
	cmd.Flags().IntVar(&opts.MaxTimeMinutes, "max-time", 0, "time ceiling in minutes (0 uses config)")
	cmd.Flags().IntVar(&opts.MaxActions, "max-actions", 0, "action ceiling (0 uses config)")
	cmd.Flags().Float64Var(&opts.MaxCostUSD, "max-cost", 0, "cost ceiling in USD (0 uses config)")
	cmd.Flags().IntVar(&opts.MaxIterationsBeforePause, "max-iterations", 0, "iterations per pause checkpoint (0 uses config)")
	return cmd
}

func loopStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <id>",
		Short: "Start a pending loop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.StartLoop(ctx, id, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrDump(l)
			})
		},
	}
	return cmd
}

func loopPauseCmd() *cobra.Command {
	var reason, message, pausedBy, actionRequired string
	cmd := &cobra.Command{
		Use:   "pause <id>",
		Short: "Pause a running loop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if reason == "" {
				return fmt.Errorf("--reason required")
			}
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.PauseLoop(ctx, id, reason, message, pausedBy, actionRequired, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrDump(l)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "pause reason")
	cmd.Flags().StringVar(&message, "message", "", "human-readable detail")
	cmd.Flags().StringVar(&pausedBy, "paused-by", "", "who paused (defaults to system)")
	cmd.Flags().StringVar(&actionRequired, "action-required", "", "what is needed to resume")
	return cmd
}

func loopResumeCmd() *cobra.Command {
	var userResponse string
	cmd := &cobra.Command{
		Use:   "resume <id>",
		Short: "Resume a paused loop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.ResumeLoop(ctx, id, userResponse, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrDump(l)
			})
		},
	}
	cmd.Flags().StringVar(&userResponse, "response", "", "operator response recorded on the pause")
	return cmd
}

func loopRecordCmd() *cobra.Command {
	var opts engine.LoopActionOptions
	var failed bool
	cmd := &cobra.Command{
		Use:   "record <id>",
		Short: "Record an executed action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.ActionType == "" {
				return fmt.Errorf("--type required")
			}
			opts.LoopID = args[0]
			opts.Success = !failed
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.RecordAction(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrDump(a)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ActionType, "type", "", "action type")
	cmd.Flags().StringVar(&opts.Description, "description", "", "what was done")
	cmd.Flags().StringVar(&opts.AgentID, "agent-id", "", "agent that executed the action")
	cmd.Flags().BoolVar(&failed, "failed", false, "mark the action as failed")
	cmd.Flags().StringVar(&opts.Result, "result", "", "result summary")
	cmd.Flags().StringVar(&opts.Error, "error", "", "error detail")
	cmd.Flags().Float64Var(&opts.CostUSD, "cost", 0, "cost in USD")
	cmd.Flags().IntVar(&opts.DurationSeconds, "duration", 0, "duration in seconds")
	return cmd
}

func loopIterateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "iterate <id>",
		Short: "Advance the loop's iteration counter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.AdvanceIteration(ctx, id, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrDump(l)
			})
		},
	}
	return cmd
}

func loopCheckLimitsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check-limits <id>",
		Short: "Probe the loop's ceilings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				st, err := e.CheckLimits(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrDump(st)
			})
		},
	}
	return cmd
}

func loopCheckActionCmd() *cobra.Command {
	var action string
	cmd := &cobra.Command{
		Use:   "check-action <id>",
		Short: "Check an action against the loop's intent contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if action == "" {
				return fmt.Errorf("--action required")
			}
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				check, err := e.CheckLoopAction(ctx, id, action, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrDump(check)
			})
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "action description")
	return cmd
}

func loopProgressCmd() *cobra.Command {
	var progress float64
	var phase, nextAction string
	cmd := &cobra.Command{
		Use:   "progress <id>",
		Short: "Update loop progress fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.LoopProgressOptions{
				LoopID:  args[0],
				ActorID: viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("percent") {
				opts.ProgressPercentage = &progress
			}
			if cmd.Flags().Changed("phase") {
				opts.CurrentPhase = &phase
			}
			if cmd.Flags().Changed("next-action") {
				opts.NextAction = &nextAction
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.UpdateLoopProgress(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrDump(l)
			})
		},
	}
	cmd.Flags().Float64Var(&progress, "percent", 0, "progress percentage")
	cmd.Flags().StringVar(&phase, "phase", "", "current phase")
	cmd.Flags().StringVar(&nextAction, "next-action", "", "planned next action")
	return cmd
}

func loopCompleteCmd() *cobra.Command {
	var result, artifactsJSON string
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete a loop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.CompleteLoop(ctx, id, result, artifactsJSON, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrDump(l)
			})
		},
	}
	cmd.Flags().StringVar(&result, "result", "", "result summary")
	cmd.Flags().StringVar(&artifactsJSON, "artifacts-json", "", "artifacts JSON")
	return cmd
}

func loopCancelCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a loop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.CancelLoop(ctx, id, reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrDump(l)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "cancellation reason")
	return cmd
}

func loopShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a loop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.Repo.GetLoop(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrDump(l)
			})
		},
	}
	return cmd
}

func loopListCmd() *cobra.Command {
	var f repo.LoopFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List loops",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.ProjectID == "" {
					f.ProjectID = e.Config.Project.ID
				}
				items, err := e.Repo.ListLoops(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Intent", "Status", "Actions", "Cost", "Iterations", "Pauses"})
				for _, l := range items {
					tw.AppendRow(table.Row{l.ID, l.IntentID, l.Status, fmt.Sprintf("%d/%d", l.ActionsExecuted, l.MaxActions), fmt.Sprintf("%.2f/%.2f", l.CostAccumulatedUSD, l.MaxCostUSD), l.IterationsExecuted, l.PauseCount})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&f.IntentID, "intent", "", "intent filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	return cmd
}

func loopActionsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "actions <id>",
		Short: "List the loop's action ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListLoopActions(ctx, id, limit, 0)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Success", "Cost", "Duration", "At"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.ActionType, a.Success, a.CostUSD, a.DurationSeconds, a.OccurredAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "n", 50, "max actions")
	return cmd
}

func loopPausesCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "pauses <id>",
		Short: "List the loop's pause ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListLoopPauses(ctx, id, limit, 0)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Reason", "Paused By", "Paused At", "Resumed At"})
				for _, p := range items {
					resumed := ""
					if p.ResumedAt != nil {
						resumed = *p.ResumedAt
					}
					tw.AppendRow(table.Row{p.ID, p.Reason, p.PausedBy, p.PausedAt, resumed})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "n", 50, "max pauses")
	return cmd
}

func workflowCmd() *cobra.Command {
	wf := &cobra.Command{
		Use:   "workflow",
		Short: "Manage workflows",
		Long:  "Workflows run an ordered step pipeline: pending -> in_progress -> completed/failed. Exactly one step is actionable at a time; a failed step stops the line without skipping.",
	}
	wf.AddCommand(workflowCreateCmd())
	wf.AddCommand(workflowStartCmd())
	wf.AddCommand(workflowAdvanceCmd())
	wf.AddCommand(workflowRollbackCmd())
	wf.AddCommand(workflowShowCmd())
	wf.AddCommand(workflowStepsCmd())
	wf.AddCommand(workflowNextCmd())
	wf.AddCommand(workflowStatusCmd())
	wf.AddCommand(workflowListCmd())
	return wf
}

func workflowCreateCmd() *cobra.Command {
	var opts engine.WorkflowCreateOptions
	var steps []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a workflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			opts.StepKinds = steps
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if opts.ProjectID == "" {
					opts.ProjectID = e.Config.Project.ID
				}
				w, created, err := e.CreateWorkflow(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrDump(map[string]any{"workflow": w, "steps": created})
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "workflow id (optional, UUID if omitted)")
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&opts.Name, "name", "", "workflow name")
	cmd.Flags().StringArrayVar(&steps, "step", []string{}, "step kind in order (repeatable, defaults to config catalog)")
	return cmd
}

func workflowStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <id>",
		Short: "Start a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.StartWorkflow(ctx, id, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrDump(w)
			})
		},
	}
	return cmd
}

func workflowAdvanceCmd() *cobra.Command {
	var failed bool
	var errorMessage, outputJSON string
	cmd := &cobra.Command{
		Use:   "advance <id>",
		Short: "Settle the current step and advance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.AdvanceWorkflow(ctx, id, !failed, errorMessage, outputJSON, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrDump(res)
			})
		},
	}
	cmd.Flags().BoolVar(&failed, "failed", false, "settle the current step as failed")
	cmd.Flags().StringVar(&errorMessage, "error", "", "failure detail")
	cmd.Flags().StringVar(&outputJSON, "output-json", "", "step output JSON")
	return cmd
}

func workflowRollbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollback <id>",
		Short: "Roll back a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.RollbackWorkflow(ctx, id, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrDump(w)
			})
		},
	}
	return cmd
}

func workflowShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.Repo.GetWorkflow(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrDump(w)
			})
		},
	}
	return cmd
}

func workflowStepsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "steps <id>",
		Short: "List workflow steps in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				steps, err := e.Repo.ListWorkflowSteps(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(steps)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "Step", "Status", "Started", "Completed"})
				for _, s := range steps {
					started := ""
					if s.StartedAt != nil {
						started = *s.StartedAt
					}
					completed := ""
					if s.CompletedAt != nil {
						completed = *s.CompletedAt
					}
					tw.AppendRow(table.Row{s.StepOrder, s.StepKind, s.Status, started, completed})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func workflowNextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "next <id>",
		Short: "Show the workflow's current actionable step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.NextStep(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrDump(s)
			})
		},
	}
	return cmd
}

func workflowStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Workflow progress summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				st, err := e.GetWorkflowStatus(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrDump(st)
			})
		},
	}
	return cmd
}

func workflowListCmd() *cobra.Command {
	var f repo.WorkflowFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.ProjectID == "" {
					f.ProjectID = e.Config.Project.ID
				}
				items, err := e.Repo.ListWorkflows(ctx, f)
				if err != nil {
					return err
				}
				return printJSONOrDump(items)
			})
		},
	}
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	return cmd
}

func apikeyCmd() *cobra.Command {
	ak := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	ak.AddCommand(apikeyCreateCmd())
	ak.AddCommand(apikeyListCmd())
	ak.AddCommand(apikeyRevokeCmd())
	return ak
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				secret := uuid.NewString()
				key := domain.APIKey{
					ID:        uuid.NewString(),
					ActorID:   viper.GetString("actor-id"),
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := r.InsertAPIKey(ctx, tx, key); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				// The secret is shown once and never stored.
				return printJSONOrDump(map[string]any{"id": key.ID, "actor_id": key.ActorID, "name": key.Name, "key": secret})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrDump(items)
			})
		},
	}
	return cmd
}

func apikeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, id)
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: contract transitions, loop actions, pauses, violations, and more.",
	}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.Config.Project.ID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrDump(events)
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
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveProjectAndConfig(cmd.Context(), workspace, viper.GetString("project"), viper.GetString("actor-id"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("INTENTGATE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("INTENTGATE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
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
			fmt.Printf("Serving Intentgate API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

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
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveProjectAndConfig(ctx, workspace, viper.GetString("project"), viper.GetString("actor-id"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
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
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
}

func printJSONOrDump(v any) error {
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

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
