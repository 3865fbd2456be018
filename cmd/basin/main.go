package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
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

	"basin/internal/app"
	"basin/internal/config"
	"basin/internal/db"
	"basin/internal/domain"
	"basin/internal/lp"
	"basin/internal/migrate"
	"basin/internal/repo"
	"basin/internal/server"
	"basin/internal/solver"
)

var rootCmd = &cobra.Command{
	Use:   "basin",
	Short: "Basin CLI",
	Long: `Basin builds the hydraulic constraint set of a power system scenario,
hands it to an LP solver and reports the dispatch it finds.
- Scenario: a directory with basin.yml and the CSV input tables
  (nodes, connections, reservoirs, projects, timepoints).
- Build: assemble every flow, volume and pump variable plus the
  mass-balance, capacity and boundary constraints, written in LP format.
- Solve: run the configured solver command and store per-entity results.
- Check: verify an externally produced solution against a fresh build.
- Runs and results live in the .basin workspace database.`,
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
	viper.SetEnvPrefix("BASIN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().StringP("scenario", "s", "", "scenario directory (defaults to workspace)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("scenario", rootCmd.PersistentFlags().Lookup("scenario"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(scenarioCmd())
	rootCmd.AddCommand(buildCmd())
	rootCmd.AddCommand(solveCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(keysCmd())
}

func scenarioCmd() *cobra.Command {
	scn := &cobra.Command{
		Use:   "scenario",
		Short: "Manage scenarios",
	}
	scn.AddCommand(scenarioInitCmd())
	scn.AddCommand(scenarioValidateCmd())
	return scn
}

func scenarioInitCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default basin.yml into the scenario directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := scenarioDir()
			if name == "" {
				abs, err := filepath.Abs(dir)
				if err != nil {
					return err
				}
				name = filepath.Base(abs)
			}
			path := config.Path(dir)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(name)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "scenario name (defaults to directory name)")
	return cmd
}

func scenarioValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the scenario inputs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				net, err := a.LoadNetwork()
				if err != nil {
					return err
				}
				tps := 0
				for _, ts := range net.Timeseries {
					tps += len(ts.Timepoints)
				}
				out := map[string]any{
					"scenario":    a.Config.Scenario.Name,
					"nodes":       len(net.Nodes),
					"connections": len(net.Connections),
					"reservoirs":  len(net.Reservoirs),
					"projects":    len(net.Projects),
					"timepoints":  tps,
					"chains":      net.Chains,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Scenario %s: %d nodes, %d connections, %d reservoirs, %d projects, %d timepoints\n",
					a.Config.Scenario.Name, len(net.Nodes), len(net.Connections), len(net.Reservoirs), len(net.Projects), tps)
				for _, ch := range net.Chains {
					fmt.Printf("  series chain: %s\n", strings.Join(ch.Connections, " -> "))
				}
				return nil
			})
		},
	}
	return cmd
}

func buildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Assemble the constraint set and write it in LP format",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				run, err := a.Build(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(run.Run)
				}
				fmt.Printf("Run %s: %d variables, %d rows\n", run.ID, run.Variables, run.Rows)
				fmt.Printf("LP written to %s\n", run.LPPath)
				return nil
			})
		},
	}
	return cmd
}

func solveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "solve",
		Short: "Build and solve the scenario with the configured solver",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				run, violations, err := a.Solve(ctx)
				if errors.Is(err, solver.ErrInfeasible) {
					fmt.Printf("Run %s: infeasible\n", run.ID)
					return err
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"run": run.Run, "violations": violations})
				}
				fmt.Printf("Run %s: solved, %d variables, %d rows\n", run.ID, run.Variables, run.Rows)
				printViolations(violations)
				return nil
			})
		},
	}
	return cmd
}

func checkCmd() *cobra.Command {
	var solPath string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify a solution file against a fresh build",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				run, violations, err := a.ImportSolution(ctx, solPath)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"run": run.Run, "violations": violations})
				}
				fmt.Printf("Run %s: checked against %d rows\n", run.ID, run.Rows)
				printViolations(violations)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&solPath, "solution", "", "path to solution CSV (variable,value)")
	_ = cmd.MarkFlagRequired("solution")
	return cmd
}

func printViolations(violations []lp.Violation) {
	if len(violations) == 0 {
		fmt.Println("No violations.")
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Row", "Detail", "Amount"})
	for _, v := range violations {
		tw.AppendRow(table.Row{v.Row, v.Detail, fmt.Sprintf("%g", v.Amount)})
	}
	tw.Render()
}

func runCmd() *cobra.Command {
	run := &cobra.Command{
		Use:   "run",
		Short: "Inspect runs",
	}
	run.AddCommand(runListCmd())
	run.AddCommand(runShowCmd())
	return run
}

func runListCmd() *cobra.Command {
	var scenario string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				runs, err := r.ListRuns(ctx, scenario)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(runs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Scenario", "Status", "Vars", "Rows", "Created"})
				for _, run := range runs {
					tw.AppendRow(table.Row{run.ID, run.Scenario, run.Status, run.Variables, run.Rows, run.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&scenario, "scenario-name", "", "filter by scenario name")
	return cmd
}

func runShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				run, err := r.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(run)
			})
		},
	}
	return cmd
}

func reportCmd() *cobra.Command {
	var runID, kind, entity string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Report solved values of a run",
		Long:  "Solved values by kind: flow and spill per connection (m3/s), volume per reservoir (Mm3), power, pump and pump_load per project (MW, m3/s, MW). Defaults to the latest run.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if runID == "" {
					latest, err := r.LatestRun(ctx, "")
					if err != nil {
						if errors.Is(err, repo.ErrNotFound) {
							return fmt.Errorf("no runs recorded; run basin solve first")
						}
						return err
					}
					runID = latest.ID
				}
				values, err := r.Results(ctx, runID, kind, entity)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(values)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Kind", "Entity", "Timepoint", "Value"})
				for _, v := range values {
					tw.AppendRow(table.Row{v.Kind, v.EntityID, v.TimepointID, fmt.Sprintf("%g", v.Value)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id (defaults to latest)")
	cmd.Flags().StringVar(&kind, "kind", "", "flow, spill, volume, power, pump or pump_load")
	cmd.Flags().StringVar(&entity, "entity", "", "filter by entity id")
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
	var evtType, runID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, runID, evtType, "", "")
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&runID, "run", "", "run id filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var noAuth bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Open(viper.GetString("workspace"), scenarioDir())
			if err != nil {
				return err
			}
			defer a.Close()
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("BASIN_JWT_SECRET"), Disabled: noAuth}
			if authCfg.JWTSecret == "" && !noAuth {
				return fmt.Errorf("BASIN_JWT_SECRET is required for bearer auth (or pass --no-auth for a local workspace)")
			}
			handler, err := server.New(server.Config{App: a, BasePath: basePath, Auth: authCfg})
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
			fmt.Printf("Serving Basin API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&noAuth, "no-auth", false, "disable authentication (local use only)")
	return cmd
}

func keysCmd() *cobra.Command {
	keys := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
	}
	keys.AddCommand(keysCreateCmd())
	keys.AddCommand(keysListCmd())
	keys.AddCommand(keysDeleteCmd())
	return keys
}

func keysCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (the secret is printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				raw := make([]byte, 24)
				if _, err := rand.Read(raw); err != nil {
					return err
				}
				secret := "bsk_" + hex.EncodeToString(raw)
				key := domain.APIKey{
					ID:      uuid.NewString(),
					Name:    name,
					KeyHash: repo.HashAPIKey(secret),
				}
				if err := r.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": key.ID, "name": key.Name, "key": secret})
				}
				fmt.Printf("Created key %s\n", key.ID)
				fmt.Printf("Secret (store it now, it is not shown again): %s\n", secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func keysListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func keysDeleteCmd() *cobra.Command {
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

// --- helpers ---

func scenarioDir() string {
	if dir := viper.GetString("scenario"); dir != "" {
		return dir
	}
	return viper.GetString("workspace")
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(viper.GetString("workspace"), scenarioDir())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
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
