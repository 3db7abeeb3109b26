package postgres

import (
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/talentbruecke/matchengine/internal/domain"
)

// TrainingRepo implements domain.TrainingRepository. The table is
// append-only; there is no update path.
type TrainingRepo struct{ Pool PgxPool }

// NewTrainingRepo constructs a TrainingRepo with the given pool.
func NewTrainingRepo(p PgxPool) *TrainingRepo { return &TrainingRepo{Pool: p} }

const trainingCols = `id, match_id, features, outcome, source, rejection_reason, job_category, created_at`

func scanTrainingDatum(row rowScanner) (domain.TrainingDatum, error) {
	var (
		d       domain.TrainingDatum
		outcome string
	)
	if err := row.Scan(&d.ID, &d.MatchID, &d.Features, &outcome, &d.Source,
		&d.RejectionReason, &d.JobCategory, &d.CreatedAt); err != nil {
		return domain.TrainingDatum{}, err
	}
	d.Outcome = domain.Outcome(outcome)
	return d, nil
}

// Append inserts one training row and returns its id.
func (r *TrainingRepo) Append(ctx domain.Context, d domain.TrainingDatum) (string, error) {
	tracer := otel.Tracer("repo.training")
	ctx, span := tracer.Start(ctx, "training.Append")
	defer span.End()
	id := d.ID
	if id == "" {
		id = uuid.New().String()
	}
	q := `INSERT INTO match_v2_training_data (id, match_id, features, outcome, source, rejection_reason, job_category)
	      VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.Pool.Exec(ctx, q, id, d.MatchID, d.Features, string(d.Outcome), d.Source, d.RejectionReason, d.JobCategory)
	if err != nil {
		return "", fmt.Errorf("op=training.append: %w", err)
	}
	return id, nil
}

// Count returns the number of rows, scoped to a category when non-nil.
func (r *TrainingRepo) Count(ctx domain.Context, category *string) (int, error) {
	tracer := otel.Tracer("repo.training")
	ctx, span := tracer.Start(ctx, "training.Count")
	defer span.End()
	var n int
	var err error
	if category != nil {
		err = r.Pool.QueryRow(ctx,
			`SELECT count(*) FROM match_v2_training_data WHERE job_category = $1`, *category).Scan(&n)
	} else {
		err = r.Pool.QueryRow(ctx, `SELECT count(*) FROM match_v2_training_data`).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("op=training.count: %w", err)
	}
	return n, nil
}

// RecentByOutcome returns the newest rows with the given outcome.
func (r *TrainingRepo) RecentByOutcome(ctx domain.Context, outcome domain.Outcome, category *string, limit int) ([]domain.TrainingDatum, error) {
	tracer := otel.Tracer("repo.training")
	ctx, span := tracer.Start(ctx, "training.RecentByOutcome")
	defer span.End()
	q := `SELECT ` + trainingCols + ` FROM match_v2_training_data
	      WHERE outcome = $1 AND ($2::text IS NULL OR job_category = $2)
	      ORDER BY created_at DESC
	      LIMIT $3`
	return r.query(ctx, "training.recent_by_outcome", q, string(outcome), category, limit)
}

// Recent returns the newest rows regardless of outcome.
func (r *TrainingRepo) Recent(ctx domain.Context, limit int) ([]domain.TrainingDatum, error) {
	tracer := otel.Tracer("repo.training")
	ctx, span := tracer.Start(ctx, "training.Recent")
	defer span.End()
	q := `SELECT ` + trainingCols + ` FROM match_v2_training_data ORDER BY created_at DESC LIMIT $1`
	return r.query(ctx, "training.recent", q, limit)
}

// CountsByOutcome returns row counts per outcome.
func (r *TrainingRepo) CountsByOutcome(ctx domain.Context) (map[domain.Outcome]int, error) {
	tracer := otel.Tracer("repo.training")
	ctx, span := tracer.Start(ctx, "training.CountsByOutcome")
	defer span.End()
	rows, err := r.Pool.Query(ctx, `SELECT outcome, count(*) FROM match_v2_training_data GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("op=training.counts_by_outcome: %w", err)
	}
	defer rows.Close()
	out := map[domain.Outcome]int{}
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("op=training.counts_by_outcome scan: %w", err)
		}
		out[domain.Outcome(outcome)] = n
	}
	return out, rows.Err()
}

// RejectionHistogram counts rows per non-empty rejection reason.
func (r *TrainingRepo) RejectionHistogram(ctx domain.Context) (map[string]int, error) {
	tracer := otel.Tracer("repo.training")
	ctx, span := tracer.Start(ctx, "training.RejectionHistogram")
	defer span.End()
	return r.histogram(ctx, "training.rejection_histogram",
		`SELECT rejection_reason, count(*) FROM match_v2_training_data
		 WHERE rejection_reason <> '' GROUP BY rejection_reason`)
}

// CategoryCounts counts rows per job category.
func (r *TrainingRepo) CategoryCounts(ctx domain.Context) (map[string]int, error) {
	tracer := otel.Tracer("repo.training")
	ctx, span := tracer.Start(ctx, "training.CategoryCounts")
	defer span.End()
	return r.histogram(ctx, "training.category_counts",
		`SELECT job_category, count(*) FROM match_v2_training_data GROUP BY job_category`)
}

func (r *TrainingRepo) histogram(ctx domain.Context, op, q string) (map[string]int, error) {
	rows, err := r.Pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("op=%s: %w", op, err)
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("op=%s scan: %w", op, err)
		}
		out[key] = n
	}
	return out, rows.Err()
}

func (r *TrainingRepo) query(ctx domain.Context, op, q string, args ...any) ([]domain.TrainingDatum, error) {
	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=%s: %w", op, err)
	}
	defer rows.Close()
	var out []domain.TrainingDatum
	for rows.Next() {
		d, err := scanTrainingDatum(rows)
		if err != nil {
			return nil, fmt.Errorf("op=%s scan: %w", op, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
