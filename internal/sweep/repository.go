package sweep

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tublink/tublink-core/internal/gateway"
	"github.com/tublink/tublink-core/internal/infrastructure/database"
)

// Repository persists sweep results and run bookkeeping in SQLite.
// Result rows are keyed (spa_id, zone, mode, level), so saving an
// already-tested unit overwrites the earlier verdict.
type Repository struct {
	db *database.DB
}

// NewRepository wraps an open database handle.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// SaveResult upserts one unit verdict. Skipped units are not persisted:
// they carry no verdict and must be retested.
func (r *Repository) SaveResult(ctx context.Context, res UnitResult) error {
	if res.Outcome == OutcomeSkipped {
		return nil
	}

	var sample sql.NullString
	if res.Sample != nil {
		data, err := json.Marshal(res.Sample)
		if err != nil {
			return fmt.Errorf("encoding sample: %w", err)
		}
		sample = sql.NullString{String: string(data), Valid: true}
	}

	supported := 0
	if res.Outcome == OutcomeSupported {
		supported = 1
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO capability_results (spa_id, zone, mode, level, supported, sample, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (spa_id, zone, mode, level) DO UPDATE SET
			supported  = excluded.supported,
			sample     = excluded.sample,
			updated_at = excluded.updated_at`,
		res.SpaID, res.Key.Zone, res.Key.Mode, res.Key.Level,
		supported, sample, res.UpdatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving sweep result: %w", err)
	}
	return nil
}

// LoadResults returns every recorded verdict for a spa, keyed for
// resume checks.
func (r *Repository) LoadResults(ctx context.Context, spaID string) (map[UnitKey]UnitResult, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT zone, mode, level, supported, sample, updated_at
		FROM capability_results
		WHERE spa_id = ?`, spaID)
	if err != nil {
		return nil, fmt.Errorf("loading sweep results: %w", err)
	}
	defer rows.Close()

	out := make(map[UnitKey]UnitResult)
	for rows.Next() {
		var (
			res       UnitResult
			supported int
			sample    sql.NullString
			updatedAt string
		)
		res.SpaID = spaID
		if err := rows.Scan(&res.Key.Zone, &res.Key.Mode, &res.Key.Level, &supported, &sample, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning sweep result: %w", err)
		}
		res.Outcome = OutcomeUnsupported
		if supported == 1 {
			res.Outcome = OutcomeSupported
		}
		if sample.Valid {
			var rgb gateway.RGB
			if err := json.Unmarshal([]byte(sample.String), &rgb); err == nil {
				res.Sample = &rgb
			}
		}
		if ts, err := time.Parse(time.RFC3339, updatedAt); err == nil {
			res.UpdatedAt = ts
		}
		out[res.Key] = res
	}
	return out, rows.Err()
}

// CreateRun records the start of a sweep.
func (r *Repository) CreateRun(ctx context.Context, runID, spaID string, total int, started time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sweep_runs (id, spa_id, status, total_units, completed_units, started_at)
		VALUES (?, ?, ?, ?, 0, ?)`,
		runID, spaID, string(RunRunning), total, started.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("recording sweep run: %w", err)
	}
	return nil
}

// UpdateRun refreshes a run's totals as phases reshape the plan.
func (r *Repository) UpdateRun(ctx context.Context, runID string, total, completed int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sweep_runs SET total_units = ?, completed_units = ? WHERE id = ?`,
		total, completed, runID)
	if err != nil {
		return fmt.Errorf("updating sweep run: %w", err)
	}
	return nil
}

// FinishRun marks a run terminal.
func (r *Repository) FinishRun(ctx context.Context, runID string, status RunStatus, completed int, finished time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sweep_runs SET status = ?, completed_units = ?, finished_at = ? WHERE id = ?`,
		string(status), completed, finished.UTC().Format(time.RFC3339), runID)
	if err != nil {
		return fmt.Errorf("finishing sweep run: %w", err)
	}
	return nil
}

// LastRun returns the most recent run for a spa, or nil when none
// exists.
func (r *Repository) LastRun(ctx context.Context, spaID string) (*Summary, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, status, total_units, completed_units, started_at, COALESCE(finished_at, '')
		FROM sweep_runs
		WHERE spa_id = ?
		ORDER BY started_at DESC
		LIMIT 1`, spaID)

	var (
		s        Summary
		started  string
		finished string
		status   string
	)
	err := row.Scan(&s.RunID, &status, &s.TotalUnits, &s.Completed, &started, &finished)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading last sweep run: %w", err)
	}
	s.SpaID = spaID
	s.Status = RunStatus(status)
	if ts, err := time.Parse(time.RFC3339, started); err == nil {
		s.Started = ts
	}
	if finished != "" {
		if ts, err := time.Parse(time.RFC3339, finished); err == nil {
			s.Finished = ts
		}
	}
	return &s, nil
}
