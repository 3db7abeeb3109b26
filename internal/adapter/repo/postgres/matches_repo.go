package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/paulmach/orb"
	"go.opentelemetry.io/otel"

	"github.com/talentbruecke/matchengine/internal/domain"
)

// MatchRepo implements domain.MatchRepository. Writes are per-match
// sessions so a failing pair never rolls back its whole batch.
type MatchRepo struct{ Pool PgxPool }

// NewMatchRepo constructs a MatchRepo with the given pool.
func NewMatchRepo(p PgxPool) *MatchRepo { return &MatchRepo{Pool: p} }

const matchCols = `m.id, m.job_id, m.candidate_id, m.ai_score, m.score, m.pre_score,
	m.breakdown, m.distance_km, m.drive_minutes_car, m.drive_minutes_transit,
	m.method, m.status, m.ai_explanation, m.ai_strengths, m.ai_weaknesses,
	m.ai_recommendation, m.wow_flag, m.wow_reason, m.user_feedback, m.feedback_note,
	m.rejection_reason, m.created_at, m.matched_at, m.ai_checked_at, m.feedback_at, m.placed_at`

func scanMatch(row rowScanner) (domain.Match, error) {
	var (
		m              domain.Match
		method, status string
		breakdown      []byte
	)
	if err := row.Scan(
		&m.ID, &m.JobID, &m.CandidateID, &m.AIScore, &m.Score, &m.PreScore,
		&breakdown, &m.DistanceKM, &m.DriveCarMin, &m.DriveTransitMin,
		&method, &status, &m.AIExplanation, &m.AIStrengths, &m.AIWeaknesses,
		&m.AIRecommendation, &m.WowFlag, &m.WowReason, &m.UserFeedback, &m.FeedbackNote,
		&m.RejectionReason, &m.CreatedAt, &m.MatchedAt, &m.AICheckedAt, &m.FeedbackAt, &m.PlacedAt,
	); err != nil {
		return domain.Match{}, err
	}
	m.Method = domain.MatchMethod(method)
	m.Status = domain.MatchStatus(status)
	if len(breakdown) > 0 {
		_ = json.Unmarshal(breakdown, &m.Breakdown)
	}
	return m, nil
}

// Get loads a match by id.
func (r *MatchRepo) Get(ctx domain.Context, id string) (domain.Match, error) {
	tracer := otel.Tracer("repo.matches")
	ctx, span := tracer.Start(ctx, "matches.Get")
	defer span.End()
	q := `SELECT ` + matchCols + ` FROM matches m WHERE m.id=$1`
	m, err := scanMatch(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Match{}, fmt.Errorf("op=match.get: %w", domain.ErrNotFound)
		}
		return domain.Match{}, fmt.Errorf("op=match.get: %w", err)
	}
	return m, nil
}

// GetByPair loads a match by its (job, candidate) key.
func (r *MatchRepo) GetByPair(ctx domain.Context, jobID, candidateID string) (domain.Match, error) {
	tracer := otel.Tracer("repo.matches")
	ctx, span := tracer.Start(ctx, "matches.GetByPair")
	defer span.End()
	q := `SELECT ` + matchCols + ` FROM matches m WHERE m.job_id=$1 AND m.candidate_id=$2`
	m, err := scanMatch(r.Pool.QueryRow(ctx, q, jobID, candidateID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Match{}, fmt.Errorf("op=match.get_by_pair: %w", domain.ErrNotFound)
		}
		return domain.Match{}, fmt.Errorf("op=match.get_by_pair: %w", err)
	}
	return m, nil
}

// Upsert creates the match with status new, or refreshes score, breakdown
// and matched_at on the existing pair row. Workflow fields survive.
func (r *MatchRepo) Upsert(ctx domain.Context, u domain.MatchUpsert) (domain.Match, error) {
	tracer := otel.Tracer("repo.matches")
	ctx, span := tracer.Start(ctx, "matches.Upsert")
	defer span.End()

	breakdown, err := json.Marshal(u.Breakdown)
	if err != nil {
		return domain.Match{}, fmt.Errorf("op=match.upsert marshal: %w", err)
	}
	now := time.Now().UTC()
	q := `INSERT INTO matches (id, job_id, candidate_id, ai_score, score, pre_score, breakdown,
	        distance_km, method, status, created_at, matched_at)
	      VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'new', $10, $10)
	      ON CONFLICT (job_id, candidate_id) DO UPDATE SET
	        ai_score = EXCLUDED.ai_score,
	        score = EXCLUDED.score,
	        pre_score = EXCLUDED.pre_score,
	        breakdown = EXCLUDED.breakdown,
	        distance_km = COALESCE(EXCLUDED.distance_km, matches.distance_km),
	        method = EXCLUDED.method,
	        matched_at = EXCLUDED.matched_at
	      RETURNING id`
	var id string
	if err := r.Pool.QueryRow(ctx, q, uuid.New().String(), u.JobID, u.CandidateID,
		u.AIScore, u.Score, u.PreScore, breakdown, u.DistanceKM, string(u.Method), now).Scan(&id); err != nil {
		return domain.Match{}, fmt.Errorf("op=match.upsert: %w", err)
	}
	return r.Get(ctx, id)
}

// UpsertAssessment upserts the pair and writes the verdict fields. Status
// new is bumped to ai_checked; later workflow states stay untouched.
func (r *MatchRepo) UpsertAssessment(ctx domain.Context, jobID, candidateID string, method domain.MatchMethod, distanceKM *float64, a domain.AssessmentUpdate) (domain.Match, error) {
	tracer := otel.Tracer("repo.matches")
	ctx, span := tracer.Start(ctx, "matches.UpsertAssessment")
	defer span.End()

	now := time.Now().UTC()
	q := `INSERT INTO matches (id, job_id, candidate_id, ai_score, pre_score, distance_km, method,
	        status, ai_explanation, ai_strengths, ai_weaknesses, ai_recommendation,
	        wow_flag, wow_reason, created_at, matched_at, ai_checked_at)
	      VALUES ($1, $2, $3, $4, $5, $6, $7, 'ai_checked', $8, $9, $10, $11, $12, $13, $14, $14, $14)
	      ON CONFLICT (job_id, candidate_id) DO UPDATE SET
	        ai_score = EXCLUDED.ai_score,
	        pre_score = EXCLUDED.pre_score,
	        distance_km = COALESCE(EXCLUDED.distance_km, matches.distance_km),
	        method = EXCLUDED.method,
	        status = CASE WHEN matches.status = 'new' THEN 'ai_checked' ELSE matches.status END,
	        ai_explanation = EXCLUDED.ai_explanation,
	        ai_strengths = EXCLUDED.ai_strengths,
	        ai_weaknesses = EXCLUDED.ai_weaknesses,
	        ai_recommendation = EXCLUDED.ai_recommendation,
	        wow_flag = EXCLUDED.wow_flag,
	        wow_reason = EXCLUDED.wow_reason,
	        ai_checked_at = EXCLUDED.ai_checked_at
	      RETURNING id`
	var id string
	if err := r.Pool.QueryRow(ctx, q, uuid.New().String(), jobID, candidateID,
		a.AIScore, a.PreScore, distanceKM, string(method),
		a.Explanation, a.Strengths, a.Weaknesses, a.Recommendation,
		a.WowFlag, a.WowReason, now).Scan(&id); err != nil {
		return domain.Match{}, fmt.Errorf("op=match.upsert_assessment: %w", err)
	}
	return r.Get(ctx, id)
}

// UpdateDriveTime stores drive minutes on the pair row.
func (r *MatchRepo) UpdateDriveTime(ctx domain.Context, jobID, candidateID string, carMin, transitMin *int) error {
	tracer := otel.Tracer("repo.matches")
	ctx, span := tracer.Start(ctx, "matches.UpdateDriveTime")
	defer span.End()
	_, err := r.Pool.Exec(ctx,
		`UPDATE matches SET drive_minutes_car=$3, drive_minutes_transit=$4 WHERE job_id=$1 AND candidate_id=$2`,
		jobID, candidateID, carMin, transitMin)
	if err != nil {
		return fmt.Errorf("op=match.update_drive_time: %w", err)
	}
	return nil
}

// UpdateFeedback stores the recruiter verdict on a match.
func (r *MatchRepo) UpdateFeedback(ctx domain.Context, id string, feedback, note, rejectionReason string, at time.Time) error {
	tracer := otel.Tracer("repo.matches")
	ctx, span := tracer.Start(ctx, "matches.UpdateFeedback")
	defer span.End()
	tag, err := r.Pool.Exec(ctx,
		`UPDATE matches SET user_feedback=$2, feedback_note=$3, rejection_reason=$4, feedback_at=$5 WHERE id=$1`,
		id, feedback, note, rejectionReason, at)
	if err != nil {
		return fmt.Errorf("op=match.update_feedback: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=match.update_feedback: %w", domain.ErrNotFound)
	}
	return nil
}

// EligiblePairsWithin joins every eligible candidate with every eligible
// job within radiusKM, skipping pairs that already carry a match of
// excludeMethod. Both sides need coordinates.
func (r *MatchRepo) EligiblePairsWithin(ctx domain.Context, radiusKM float64, excludeMethod domain.MatchMethod) ([]domain.GeoPair, error) {
	tracer := otel.Tracer("repo.matches")
	ctx, span := tracer.Start(ctx, "matches.EligiblePairsWithin")
	defer span.End()

	q := `SELECT c.id, j.id, c.lat, c.lon, j.lat, j.lon, c.postal_code, j.postal_code,
	        ST_Distance(ST_MakePoint(c.lon, c.lat)::geography, ST_MakePoint(j.lon, j.lat)::geography) / 1000.0 AS distance_km,
	        array_prepend(c.role, c.secondary_roles),
	        array_prepend(j.role, j.secondary_roles)
	      FROM candidates c
	      CROSS JOIN jobs j
	      WHERE ` + candidateEligible + ` AND ` + jobEligible + `
	        AND c.lat IS NOT NULL AND j.lat IS NOT NULL
	        AND ST_Distance(ST_MakePoint(c.lon, c.lat)::geography, ST_MakePoint(j.lon, j.lat)::geography) / 1000.0 <= $1
	        AND ($2 = '' OR NOT EXISTS (
	            SELECT 1 FROM matches m WHERE m.job_id = j.id AND m.candidate_id = c.id AND m.method = $2))
	      ORDER BY distance_km`
	rows, err := r.Pool.Query(ctx, q, radiusKM, string(excludeMethod))
	if err != nil {
		return nil, fmt.Errorf("op=match.eligible_pairs_within: %w", err)
	}
	defer rows.Close()
	var out []domain.GeoPair
	for rows.Next() {
		var (
			p                      domain.GeoPair
			cLat, cLon, jLat, jLon float64
		)
		if err := rows.Scan(&p.CandidateID, &p.JobID, &cLat, &cLon, &jLat, &jLon,
			&p.CandidatePLZ, &p.JobPLZ, &p.DistanceKM, &p.CandidateRoles, &p.JobRoles); err != nil {
			return nil, fmt.Errorf("op=match.eligible_pairs_within scan: %w", err)
		}
		p.CandidatePoint = orb.Point{cLon, cLat}
		p.JobPoint = orb.Point{jLon, jLat}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteByCandidates removes all matches of the given candidates.
func (r *MatchRepo) DeleteByCandidates(ctx domain.Context, candidateIDs []string) (int, error) {
	tracer := otel.Tracer("repo.matches")
	ctx, span := tracer.Start(ctx, "matches.DeleteByCandidates")
	defer span.End()
	if len(candidateIDs) == 0 {
		return 0, nil
	}
	tag, err := r.Pool.Exec(ctx, `DELETE FROM matches WHERE candidate_id = ANY($1)`, candidateIDs)
	if err != nil {
		return 0, fmt.Errorf("op=match.delete_by_candidates: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteByMethod removes all matches produced by one pipeline method.
func (r *MatchRepo) DeleteByMethod(ctx domain.Context, method domain.MatchMethod) (int, error) {
	tracer := otel.Tracer("repo.matches")
	ctx, span := tracer.Start(ctx, "matches.DeleteByMethod")
	defer span.End()
	tag, err := r.Pool.Exec(ctx, `DELETE FROM matches WHERE method = $1`, string(method))
	if err != nil {
		return 0, fmt.Errorf("op=match.delete_by_method: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// MissingDistance returns matches without a stored distance whose two
// endpoints both have coordinates.
func (r *MatchRepo) MissingDistance(ctx domain.Context, limit int) ([]domain.Match, error) {
	tracer := otel.Tracer("repo.matches")
	ctx, span := tracer.Start(ctx, "matches.MissingDistance")
	defer span.End()
	q := `SELECT ` + matchCols + ` FROM matches m
	      JOIN candidates c ON c.id = m.candidate_id
	      JOIN jobs j ON j.id = m.job_id
	      WHERE m.distance_km IS NULL AND c.lat IS NOT NULL AND j.lat IS NOT NULL
	      LIMIT $1`
	rows, err := r.Pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("op=match.missing_distance: %w", err)
	}
	defer rows.Close()
	var out []domain.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("op=match.missing_distance scan: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SetDistance stores a computed distance on a match.
func (r *MatchRepo) SetDistance(ctx domain.Context, id string, km float64) error {
	tracer := otel.Tracer("repo.matches")
	ctx, span := tracer.Start(ctx, "matches.SetDistance")
	defer span.End()
	_, err := r.Pool.Exec(ctx, `UPDATE matches SET distance_km=$2 WHERE id=$1`, id, km)
	if err != nil {
		return fmt.Errorf("op=match.set_distance: %w", err)
	}
	return nil
}

// DeleteFarUnassessed removes matches beyond maxKM that never got an LLM
// assessment.
func (r *MatchRepo) DeleteFarUnassessed(ctx domain.Context, maxKM float64) (int, error) {
	tracer := otel.Tracer("repo.matches")
	ctx, span := tracer.Start(ctx, "matches.DeleteFarUnassessed")
	defer span.End()
	tag, err := r.Pool.Exec(ctx,
		`DELETE FROM matches WHERE distance_km > $1 AND ai_checked_at IS NULL`, maxKM)
	if err != nil {
		return 0, fmt.Errorf("op=match.delete_far_unassessed: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
