package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"basin/internal/config"
	"basin/internal/db"
	"basin/internal/domain"
	"basin/internal/events"
	"basin/internal/hydro"
	"basin/internal/inputs"
	"basin/internal/lp"
	"basin/internal/migrate"
	"basin/internal/repo"
	"basin/internal/solver"
)

// App wires the scenario inputs, the workspace store and the solver together
// for the CLI and the HTTP API.
type App struct {
	Workspace string
	Scenario  string // scenario directory holding basin.yml and the input tables
	Config    *config.Config
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
}

// Open loads the scenario config and opens the workspace store, applying
// pending migrations.
func Open(workspace, scenarioDir string) (*App, error) {
	if scenarioDir == "" {
		scenarioDir = workspace
	}
	cfg, err := config.Load(scenarioDir)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return &App{
		Workspace: workspace,
		Scenario:  scenarioDir,
		Config:    cfg,
		DB:        conn,
		Repo:      repo.Repo{DB: conn},
		Events:    events.Writer{DB: conn},
	}, nil
}

func (a *App) Close() error {
	if a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

// LoadNetwork reads the input tables and validates the topology.
func (a *App) LoadNetwork() (*hydro.Network, error) {
	scn, err := inputs.Load(a.Config.InputsDir(a.Scenario), a.Config.Scenario.Name)
	if err != nil {
		return nil, err
	}
	return hydro.NewNetwork(scn)
}

// BuildProblem assembles the constraint set from the scenario inputs. When
// balance is non-nil it receives the power and pump-load terms.
func (a *App) BuildProblem(balance hydro.BalanceSink) (*hydro.Build, error) {
	net, err := a.LoadNetwork()
	if err != nil {
		return nil, err
	}
	return hydro.BuildProblem(net, hydro.BuildOptions{
		SpillPenalty:        a.Config.Spillage.Penalty,
		FinalVolumeFraction: a.Config.Boundary.FinalVolumeFraction,
		Balance:             balance,
	})
}

func (a *App) runDir(runID string) string {
	return filepath.Join(a.Workspace, ".basin", "runs", runID)
}

func newRunID(scenario string, t time.Time) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("basin:"+scenario+":"+t.Format(time.RFC3339Nano))).String()
}

// Build assembles the problem, writes it in LP format under the workspace and
// records a run with status "built".
func (a *App) Build(ctx context.Context) (Run, error) {
	b, err := a.BuildProblem(nil)
	if err != nil {
		return Run{}, err
	}
	now := time.Now().UTC()
	runID := newRunID(a.Config.Scenario.Name, now)
	dir := a.runDir(runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Run{}, err
	}
	lpPath := filepath.Join(dir, "problem.lp")
	if err := solver.WriteProblem(lpPath, b.Problem); err != nil {
		return Run{}, fmt.Errorf("write problem: %w", err)
	}
	run := Run{Run: domain.Run{
		ID:        runID,
		Scenario:  a.Config.Scenario.Name,
		Status:    "built",
		LPPath:    lpPath,
		Variables: b.Problem.NumVars(),
		Rows:      b.Problem.NumRows(),
		CreatedAt: now.Format(time.RFC3339),
		UpdatedAt: now.Format(time.RFC3339),
	}}
	if err := a.recordRun(ctx, run, "run.built", nil); err != nil {
		return Run{}, err
	}
	run.Build = b
	return run, nil
}

// Solve builds the problem, hands it to the configured solver, verifies the
// returned point and stores the per-entity results.
func (a *App) Solve(ctx context.Context) (Run, []lp.Violation, error) {
	b, err := a.BuildProblem(nil)
	if err != nil {
		return Run{}, nil, err
	}
	now := time.Now().UTC()
	runID := newRunID(a.Config.Scenario.Name, now)
	dir := a.runDir(runID)

	pt, lpPath, err := solver.Solve(ctx, b.Problem, solver.Options{
		Command: a.Config.Solver.Command,
		WorkDir: dir,
	})
	run := Run{Run: domain.Run{
		ID:        runID,
		Scenario:  a.Config.Scenario.Name,
		LPPath:    lpPath,
		Variables: b.Problem.NumVars(),
		Rows:      b.Problem.NumRows(),
		CreatedAt: now.Format(time.RFC3339),
		UpdatedAt: now.Format(time.RFC3339),
	}, Build: b}
	if errors.Is(err, solver.ErrInfeasible) {
		run.Status = "infeasible"
		if recErr := a.recordRun(ctx, run, "run.infeasible", nil); recErr != nil {
			return Run{}, nil, recErr
		}
		return run, nil, err
	}
	if err != nil {
		return Run{}, nil, err
	}

	violations := b.Problem.Check(pt, a.Config.Solver.Tolerance)
	run.Status = "solved"
	results := b.Results(runID, pt)
	payload := events.EventPayload{
		"variables":  run.Variables,
		"rows":       run.Rows,
		"violations": len(violations),
	}
	if err := a.recordRunWithResults(ctx, run, results, "run.solved", payload); err != nil {
		return Run{}, nil, err
	}
	return run, violations, nil
}

// ImportSolution checks an externally produced solution file against a fresh
// build of the scenario and stores the derived results.
func (a *App) ImportSolution(ctx context.Context, solPath string) (Run, []lp.Violation, error) {
	b, err := a.BuildProblem(nil)
	if err != nil {
		return Run{}, nil, err
	}
	f, err := os.Open(solPath)
	if err != nil {
		return Run{}, nil, err
	}
	pt, err := lp.ParseSolution(f)
	f.Close()
	if err != nil {
		return Run{}, nil, fmt.Errorf("parse solution %s: %w", solPath, err)
	}
	return a.CheckPoint(ctx, b, pt)
}

// CheckPoint verifies a candidate point against a built problem, records a
// run with status "checked" and stores the derived results.
func (a *App) CheckPoint(ctx context.Context, b *hydro.Build, pt lp.Point) (Run, []lp.Violation, error) {
	if unknown := b.Problem.UnknownVars(pt); len(unknown) > 0 {
		return Run{}, nil, fmt.Errorf("solution names unknown variables: %v", unknown)
	}
	violations := b.Problem.Check(pt, a.Config.Solver.Tolerance)
	now := time.Now().UTC()
	runID := newRunID(a.Config.Scenario.Name, now)
	run := Run{Run: domain.Run{
		ID:        runID,
		Scenario:  a.Config.Scenario.Name,
		Status:    "checked",
		Variables: b.Problem.NumVars(),
		Rows:      b.Problem.NumRows(),
		CreatedAt: now.Format(time.RFC3339),
		UpdatedAt: now.Format(time.RFC3339),
	}, Build: b}
	results := b.Results(runID, pt)
	payload := events.EventPayload{"violations": len(violations)}
	if err := a.recordRunWithResults(ctx, run, results, "solution.imported", payload); err != nil {
		return Run{}, nil, err
	}
	return run, violations, nil
}

func (a *App) recordRun(ctx context.Context, run Run, evtType string, payload events.EventPayload) error {
	return a.recordRunWithResults(ctx, run, nil, evtType, payload)
}

func (a *App) recordRunWithResults(ctx context.Context, run Run, results []domain.ResultValue, evtType string, payload events.EventPayload) error {
	tx, err := a.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := a.Repo.InsertRun(ctx, tx, run.Run); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	if len(results) > 0 {
		if err := a.Repo.ReplaceResults(ctx, tx, run.ID, results); err != nil {
			return fmt.Errorf("store results: %w", err)
		}
	}
	if payload == nil {
		payload = events.EventPayload{"variables": run.Variables, "rows": run.Rows}
	}
	if err := a.Events.Append(ctx, tx, evtType, run.ID, "run", run.ID, payload); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return tx.Commit()
}
