package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/talentbruecke/matchengine/internal/domain"
)

// WeightRepo implements domain.WeightRepository.
type WeightRepo struct{ Pool PgxPool }

// NewWeightRepo constructs a WeightRepo with the given pool.
func NewWeightRepo(p PgxPool) *WeightRepo { return &WeightRepo{Pool: p} }

const weightCols = `component, job_category, weight, default_weight, adjustments, adjusted_at`

func scanWeight(row rowScanner) (domain.ScoringWeight, error) {
	var w domain.ScoringWeight
	if err := row.Scan(&w.Component, &w.JobCategory, &w.Weight, &w.DefaultWeight, &w.Adjustments, &w.AdjustedAt); err != nil {
		return domain.ScoringWeight{}, err
	}
	return w, nil
}

// ForCategory returns the weight rows for a category, falling back to the
// global rows when the category has none. A nil category selects global.
func (r *WeightRepo) ForCategory(ctx domain.Context, category *string) ([]domain.ScoringWeight, error) {
	tracer := otel.Tracer("repo.weights")
	ctx, span := tracer.Start(ctx, "weights.ForCategory")
	defer span.End()

	if category != nil {
		ws, err := r.query(ctx, "weight.for_category",
			`SELECT `+weightCols+` FROM match_v2_scoring_weights WHERE job_category = $1 ORDER BY component`, *category)
		if err != nil {
			return nil, err
		}
		if len(ws) > 0 {
			return ws, nil
		}
	}
	return r.query(ctx, "weight.for_category",
		`SELECT `+weightCols+` FROM match_v2_scoring_weights WHERE job_category IS NULL ORDER BY component`)
}

// CopyGlobalToCategory seeds category rows from the current global rows.
// Existing category rows are left alone.
func (r *WeightRepo) CopyGlobalToCategory(ctx domain.Context, category string) error {
	tracer := otel.Tracer("repo.weights")
	ctx, span := tracer.Start(ctx, "weights.CopyGlobalToCategory")
	defer span.End()
	q := `INSERT INTO match_v2_scoring_weights (component, job_category, weight, default_weight, adjustments, adjusted_at)
	      SELECT component, $1, weight, default_weight, 0, NULL
	      FROM match_v2_scoring_weights WHERE job_category IS NULL
	      ON CONFLICT (component, job_category) DO NOTHING`
	if _, err := r.Pool.Exec(ctx, q, category); err != nil {
		return fmt.Errorf("op=weight.copy_global: %w", err)
	}
	return nil
}

// SaveAll replaces the weight values for one selector in a single
// transaction so readers never observe a half-written set.
func (r *WeightRepo) SaveAll(ctx domain.Context, category *string, weights []domain.ScoringWeight) error {
	tracer := otel.Tracer("repo.weights")
	ctx, span := tracer.Start(ctx, "weights.SaveAll")
	defer span.End()

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("op=weight.save_all begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := `INSERT INTO match_v2_scoring_weights (component, job_category, weight, default_weight, adjustments, adjusted_at)
	      VALUES ($1, $2, $3, $4, $5, $6)
	      ON CONFLICT (component, job_category) DO UPDATE SET
	        weight = EXCLUDED.weight,
	        adjustments = EXCLUDED.adjustments,
	        adjusted_at = EXCLUDED.adjusted_at`
	for _, w := range weights {
		if _, err := tx.Exec(ctx, q, w.Component, category, w.Weight, w.DefaultWeight, w.Adjustments, w.AdjustedAt); err != nil {
			return fmt.Errorf("op=weight.save_all component=%s: %w", w.Component, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=weight.save_all commit: %w", err)
	}
	return nil
}

// ResetAll restores defaults on the global rows and drops all per-category
// rows.
func (r *WeightRepo) ResetAll(ctx domain.Context) error {
	tracer := otel.Tracer("repo.weights")
	ctx, span := tracer.Start(ctx, "weights.ResetAll")
	defer span.End()

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("op=weight.reset_all begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if _, err := tx.Exec(ctx, `DELETE FROM match_v2_scoring_weights WHERE job_category IS NOT NULL`); err != nil {
		return fmt.Errorf("op=weight.reset_all delete: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE match_v2_scoring_weights SET weight = default_weight, adjustments = 0, adjusted_at = NULL`); err != nil {
		return fmt.Errorf("op=weight.reset_all update: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=weight.reset_all commit: %w", err)
	}
	return nil
}

// Changed returns weights that drifted from their default, most recently
// adjusted first.
func (r *WeightRepo) Changed(ctx domain.Context, limit int) ([]domain.ScoringWeight, error) {
	tracer := otel.Tracer("repo.weights")
	ctx, span := tracer.Start(ctx, "weights.Changed")
	defer span.End()
	return r.query(ctx, "weight.changed",
		`SELECT `+weightCols+` FROM match_v2_scoring_weights
		 WHERE weight <> default_weight
		 ORDER BY adjusted_at DESC NULLS LAST
		 LIMIT $1`, limit)
}

func (r *WeightRepo) query(ctx domain.Context, op, q string, args ...any) ([]domain.ScoringWeight, error) {
	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=%s: %w", op, err)
	}
	defer rows.Close()
	var out []domain.ScoringWeight
	for rows.Next() {
		w, err := scanWeight(rows)
		if err != nil {
			return nil, fmt.Errorf("op=%s scan: %w", op, err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
