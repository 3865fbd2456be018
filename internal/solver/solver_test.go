package solver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"basin/internal/lp"
)

func smallProblem(t *testing.T) *lp.Problem {
	t.Helper()
	p := lp.NewProblem("t")
	if err := p.AddVar("x", 0, 10); err != nil {
		t.Fatal(err)
	}
	return p
}

// fakeSolver writes a shell script that receives the problem and solution
// paths and returns a command string invoking it.
func fakeSolver(t *testing.T, body string) string {
	t.Helper()
	script := filepath.Join(t.TempDir(), "solver.sh")
	content := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(script, []byte(content), 0o755); err != nil {
		t.Fatal(err)
	}
	return "/bin/sh " + script + " {lp} {sol}"
}

func TestSolveRequiresCommand(t *testing.T) {
	_, _, err := Solve(context.Background(), smallProblem(t), Options{})
	if !errors.Is(err, ErrNoSolver) {
		t.Fatalf("err = %v, want ErrNoSolver", err)
	}
}

func TestSolveRunsCommandAndParsesSolution(t *testing.T) {
	cmd := fakeSolver(t, `test -s "$1" || exit 1
printf 'variable,value\nx,7\n' > "$2"`)
	dir := t.TempDir()
	pt, lpPath, err := Solve(context.Background(), smallProblem(t), Options{Command: cmd, WorkDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if pt["x"] != 7 {
		t.Fatalf("point = %v", pt)
	}
	if lpPath != filepath.Join(dir, "problem.lp") {
		t.Fatalf("lp path = %s", lpPath)
	}
	data, err := os.ReadFile(lpPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "0 <= x <= 10") {
		t.Fatalf("serialized problem:\n%s", data)
	}
}

func TestSolveDetectsInfeasible(t *testing.T) {
	cmd := fakeSolver(t, `printf 'infeasible\n' > "$2"`)
	_, lpPath, err := Solve(context.Background(), smallProblem(t), Options{Command: cmd, WorkDir: t.TempDir()})
	if !errors.Is(err, ErrInfeasible) {
		t.Fatalf("err = %v, want ErrInfeasible", err)
	}
	if lpPath == "" {
		t.Fatal("lp path lost on infeasible result")
	}
}

func TestSolveReportsCommandFailure(t *testing.T) {
	cmd := fakeSolver(t, `echo boom >&2
exit 3`)
	_, _, err := Solve(context.Background(), smallProblem(t), Options{Command: cmd, WorkDir: t.TempDir()})
	if err == nil || !strings.Contains(err.Error(), "solver command failed") {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Fatalf("solver output not surfaced: %v", err)
	}
}

func TestSolveMissingSolutionFile(t *testing.T) {
	cmd := fakeSolver(t, `exit 0`)
	_, _, err := Solve(context.Background(), smallProblem(t), Options{Command: cmd, WorkDir: t.TempDir()})
	if err == nil || !strings.Contains(err.Error(), "solver wrote no solution file") {
		t.Fatalf("err = %v", err)
	}
}

func TestWriteProblem(t *testing.T) {
	path := filepath.Join(t.TempDir(), "problem.lp")
	if err := WriteProblem(path, smallProblem(t)); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "\\ Problem: t\n") {
		t.Fatalf("serialized problem:\n%s", data)
	}
}
