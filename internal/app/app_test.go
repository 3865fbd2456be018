package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"basin/internal/lp"
	"basin/internal/solver"
)

// testWorkspace lays out a one-connection scenario: a source node with a
// steady 10 m3/s inflow feeding a sink through a single turbine.
func testWorkspace(t *testing.T, solverCmd string) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"timepoints.csv":        "timepoint_id,timeseries,duration_hrs\nt1,day,1\n",
		"water_nodes.csv":       "node_id,is_sink,constant_inflow\na,0,10\ns,1,\n",
		"water_connections.csv": "connection_id,from_node,to_node,max_flow\nc,a,s,50\n",
		"reservoirs.csv":        "reservoir_id,node_id,min_volume,max_volume\n",
		"hydro_projects.csv":    "project_id,connection_id,load_zone,efficiency\np,c,z,1\n",
	}
	files["basin.yml"] = fmt.Sprintf("scenario:\n  name: demo\nsolver:\n  command: %q\n", solverCmd)
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func openApp(t *testing.T, workspace string) *App {
	t.Helper()
	a, err := Open(workspace, "")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func fakeSolver(t *testing.T, body string) string {
	t.Helper()
	script := filepath.Join(t.TempDir(), "solver.sh")
	content := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(script, []byte(content), 0o755); err != nil {
		t.Fatal(err)
	}
	return "/bin/sh " + script + " {lp} {sol}"
}

func TestBuildRecordsRun(t *testing.T) {
	a := openApp(t, testWorkspace(t, ""))
	ctx := context.Background()

	run, err := a.Build(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != "built" {
		t.Fatalf("status = %q", run.Status)
	}
	if run.Variables != 1 || run.Rows != 2 {
		t.Fatalf("problem size = %d vars, %d rows", run.Variables, run.Rows)
	}
	if _, err := os.Stat(run.LPPath); err != nil {
		t.Fatalf("problem file not written: %v", err)
	}

	stored, err := a.Repo.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != "built" || stored.Scenario != "demo" {
		t.Fatalf("stored run = %+v", stored)
	}

	evts, err := a.Repo.LatestEvents(ctx, 10, run.ID, "run.built", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 1 {
		t.Fatalf("events = %+v", evts)
	}
}

func TestSolveStoresResults(t *testing.T) {
	cmd := fakeSolver(t, `printf 'variable,value\nflow.c.t1,10\n' > "$2"`)
	a := openApp(t, testWorkspace(t, cmd))
	ctx := context.Background()

	run, violations, err := a.Solve(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != "solved" {
		t.Fatalf("status = %q", run.Status)
	}
	if len(violations) != 0 {
		t.Fatalf("violations = %+v", violations)
	}

	results, err := a.Repo.Results(ctx, run.ID, "", "")
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]float64{}
	for _, v := range results {
		got[v.Kind+"/"+v.EntityID] = v.Value
	}
	if got["flow/c"] != 10 || got["power/p"] != 10 {
		t.Fatalf("results = %v", got)
	}

	evts, err := a.Repo.LatestEvents(ctx, 10, run.ID, "run.solved", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 1 || !strings.Contains(evts[0].Payload, `"violations":0`) {
		t.Fatalf("events = %+v", evts)
	}
}

func TestSolveWithoutSolverCommand(t *testing.T) {
	a := openApp(t, testWorkspace(t, ""))
	_, _, err := a.Solve(context.Background())
	if !errors.Is(err, solver.ErrNoSolver) {
		t.Fatalf("err = %v, want ErrNoSolver", err)
	}
}

func TestSolveRecordsInfeasibleRun(t *testing.T) {
	cmd := fakeSolver(t, `printf 'infeasible\n' > "$2"`)
	a := openApp(t, testWorkspace(t, cmd))
	ctx := context.Background()

	run, _, err := a.Solve(ctx)
	if !errors.Is(err, solver.ErrInfeasible) {
		t.Fatalf("err = %v, want ErrInfeasible", err)
	}
	if run.Status != "infeasible" {
		t.Fatalf("status = %q", run.Status)
	}
	stored, err := a.Repo.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != "infeasible" {
		t.Fatalf("stored run = %+v", stored)
	}
}

func TestImportSolution(t *testing.T) {
	a := openApp(t, testWorkspace(t, ""))
	ctx := context.Background()

	solPath := filepath.Join(t.TempDir(), "solution.csv")
	if err := os.WriteFile(solPath, []byte("variable,value\nflow.c.t1,10\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run, violations, err := a.ImportSolution(ctx, solPath)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != "checked" || len(violations) != 0 {
		t.Fatalf("run = %+v violations = %+v", run.Run, violations)
	}

	// An out-of-balance point is recorded but flagged.
	if err := os.WriteFile(solPath, []byte("variable,value\nflow.c.t1,4\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, violations, err = a.ImportSolution(ctx, solPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(violations) == 0 {
		t.Fatal("out-of-balance point passed the check")
	}
}

func TestCheckPointRejectsUnknownVariables(t *testing.T) {
	a := openApp(t, testWorkspace(t, ""))
	b, err := a.BuildProblem(nil)
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = a.CheckPoint(context.Background(), b, lp.Point{"bogus": 1})
	if err == nil || !strings.Contains(err.Error(), "unknown variables") {
		t.Fatalf("err = %v", err)
	}
}

func TestRunIDsAreUniquePerBuild(t *testing.T) {
	a := openApp(t, testWorkspace(t, ""))
	r1, err := a.Build(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	r2, err := a.Build(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if r1.ID == r2.ID {
		t.Fatal("distinct builds share a run id")
	}
}
