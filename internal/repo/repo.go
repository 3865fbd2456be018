package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"basin/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertRun(ctx context.Context, tx *sql.Tx, run domain.Run) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO runs(id,scenario,status,lp_path,variables,rows,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		run.ID, run.Scenario, run.Status, nullable(run.LPPath), run.Variables, run.Rows, run.CreatedAt, run.UpdatedAt)
	return err
}

func (r Repo) GetRun(ctx context.Context, id string) (domain.Run, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,scenario,status,COALESCE(lp_path,''),variables,rows,created_at,updated_at FROM runs WHERE id=?`, id)
	var run domain.Run
	err := row.Scan(&run.ID, &run.Scenario, &run.Status, &run.LPPath, &run.Variables, &run.Rows, &run.CreatedAt, &run.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.Run{}, ErrNotFound
	}
	return run, err
}

// LatestRun returns the most recent run, optionally filtered by scenario.
func (r Repo) LatestRun(ctx context.Context, scenario string) (domain.Run, error) {
	query := `SELECT id,scenario,status,COALESCE(lp_path,''),variables,rows,created_at,updated_at FROM runs`
	var args []any
	if scenario != "" {
		query += ` WHERE scenario=?`
		args = append(args, scenario)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT 1`
	row := r.DB.QueryRowContext(ctx, query, args...)
	var run domain.Run
	err := row.Scan(&run.ID, &run.Scenario, &run.Status, &run.LPPath, &run.Variables, &run.Rows, &run.CreatedAt, &run.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.Run{}, ErrNotFound
	}
	return run, err
}

func (r Repo) ListRuns(ctx context.Context, scenario string) ([]domain.Run, error) {
	query := `SELECT id,scenario,status,COALESCE(lp_path,''),variables,rows,created_at,updated_at FROM runs`
	var args []any
	if scenario != "" {
		query += ` WHERE scenario=?`
		args = append(args, scenario)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Run
	for rows.Next() {
		var run domain.Run
		if err := rows.Scan(&run.ID, &run.Scenario, &run.Status, &run.LPPath, &run.Variables, &run.Rows, &run.CreatedAt, &run.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (r Repo) UpdateRunStatus(ctx context.Context, tx *sql.Tx, id, status, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE runs SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteRun(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM runs WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceResults swaps the stored result values of a run in one transaction.
func (r Repo) ReplaceResults(ctx context.Context, tx *sql.Tx, runID string, values []domain.ResultValue) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM results WHERE run_id=?`, runID); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO results(run_id,kind,entity_id,timepoint_id,value) VALUES (?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, v := range values {
		if v.RunID != runID {
			return fmt.Errorf("result for run %s mixed into run %s", v.RunID, runID)
		}
		if _, err := stmt.ExecContext(ctx, v.RunID, v.Kind, v.EntityID, v.TimepointID, v.Value); err != nil {
			return err
		}
	}
	return nil
}

// Results returns stored values for a run, optionally filtered by kind and
// entity, ordered for stable display.
func (r Repo) Results(ctx context.Context, runID, kind, entityID string) ([]domain.ResultValue, error) {
	query := `SELECT run_id,kind,entity_id,timepoint_id,value FROM results WHERE run_id=?`
	args := []any{runID}
	if kind != "" {
		query += ` AND kind=?`
		args = append(args, kind)
	}
	if entityID != "" {
		query += ` AND entity_id=?`
		args = append(args, entityID)
	}
	query += ` ORDER BY kind, entity_id, rowid`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ResultValue
	for rows.Next() {
		var v domain.ResultValue
		if err := rows.Scan(&v.RunID, &v.Kind, &v.EntityID, &v.TimepointID, &v.Value); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// LatestEvents returns recent events, newest first, with optional filters.
func (r Repo) LatestEvents(ctx context.Context, n int, runID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	query := `SELECT id,ts,type,COALESCE(run_id,''),entity_kind,COALESCE(entity_id,''),payload_json FROM events`
	var conds []string
	var args []any
	if runID != "" {
		conds = append(conds, "run_id=?")
		args = append(args, runID)
	}
	if evtType != "" {
		conds = append(conds, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		conds = append(conds, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		conds = append(conds, "entity_id=?")
		args = append(args, entityID)
	}
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, n)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.RunID, &e.EntityKind, &e.EntityID, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
