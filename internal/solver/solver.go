// Package solver hands the assembled problem to an external LP solver and
// reads its answer back. The solver is an opaque subprocess configured in
// basin.yml; this package never inspects or repairs the model, it only
// serializes, runs and parses.
package solver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"basin/internal/lp"
)

// ErrInfeasible is returned when the external solver reports that no
// feasible point exists. Diagnosis by constraint relaxation is the job of an
// external collaborator, not this package.
var ErrInfeasible = errors.New("solver reports the problem is infeasible")

// ErrNoSolver is returned when basin.yml configures no solver command.
var ErrNoSolver = errors.New("no solver command configured")

type Options struct {
	// Command is the solver invocation with {lp} and {sol} placeholders.
	Command string
	// WorkDir receives problem.lp and solution.csv.
	WorkDir string
}

// WriteProblem serializes the problem to path in LP format.
func WriteProblem(path string, p *lp.Problem) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := lp.WriteLP(f, p); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Solve writes the problem, runs the configured solver and parses the
// solution table it produced. A solution file whose first cell is
// "infeasible" signals ErrInfeasible.
func Solve(ctx context.Context, p *lp.Problem, opts Options) (lp.Point, string, error) {
	if strings.TrimSpace(opts.Command) == "" {
		return nil, "", ErrNoSolver
	}
	workDir := opts.WorkDir
	if workDir == "" {
		workDir = "."
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, "", err
	}
	lpPath := filepath.Join(workDir, "problem.lp")
	solPath := filepath.Join(workDir, "solution.csv")
	if err := WriteProblem(lpPath, p); err != nil {
		return nil, "", fmt.Errorf("write problem: %w", err)
	}

	parts := strings.Fields(opts.Command)
	args := make([]string, 0, len(parts)-1)
	for _, part := range parts[1:] {
		part = strings.ReplaceAll(part, "{lp}", lpPath)
		part = strings.ReplaceAll(part, "{sol}", solPath)
		args = append(args, part)
	}
	cmd := exec.CommandContext(ctx, parts[0], args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return nil, lpPath, fmt.Errorf("solver command failed: %w: %s", err, strings.TrimSpace(out.String()))
	}

	f, err := os.Open(solPath)
	if err != nil {
		return nil, lpPath, fmt.Errorf("solver wrote no solution file: %w", err)
	}
	defer f.Close()
	head := make([]byte, 10)
	n, _ := f.Read(head)
	if strings.HasPrefix(strings.ToLower(string(head[:n])), "infeasible") {
		return nil, lpPath, ErrInfeasible
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, lpPath, err
	}
	pt, err := lp.ParseSolution(f)
	if err != nil {
		return nil, lpPath, err
	}
	return pt, lpPath, nil
}
