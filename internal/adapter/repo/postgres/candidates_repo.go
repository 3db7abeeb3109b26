package postgres

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/paulmach/orb"
	"github.com/pgvector/pgvector-go"
	"go.opentelemetry.io/otel"

	"github.com/talentbruecke/matchengine/internal/domain"
)

// CandidateRepo implements domain.CandidateRepository.
type CandidateRepo struct{ Pool PgxPool }

// NewCandidateRepo constructs a CandidateRepo with the given pool.
func NewCandidateRepo(p PgxPool) *CandidateRepo { return &CandidateRepo{Pool: p} }

const candidateCols = `c.id, c.lat, c.lon, c.postal_code, c.city, c.category, c.role,
	c.secondary_roles, c.classification, c.work_history, c.education, c.further_education,
	c.languages, c.skills, c.it_skills, c.erp_systems, c.seniority_level, c.trajectory,
	c.years_experience, c.current_role, c.structured_skills,
	c.current_role_embedding, c.full_history_embedding,
	c.hidden, c.deleted_at, c.synced_at, c.categorized_at, c.classified_at`

// candidateEligible is the SQL form of Candidate.Eligible.
const candidateEligible = `NOT c.hidden AND c.deleted_at IS NULL`

type rowScanner interface{ Scan(dest ...any) error }

func scanCandidate(row rowScanner, extra ...any) (domain.Candidate, error) {
	var (
		c          domain.Candidate
		lat, lon   *float64
		role       string
		trajectory string
		cre, fhe   *pgvector.Vector
	)
	dest := []any{
		&c.ID, &lat, &lon, &c.PostalCode, &c.City, &c.Category, &role,
		&c.SecondaryRoles, &c.Classification, &c.WorkHistory, &c.Education, &c.FurtherEducation,
		&c.Languages, &c.Skills, &c.ITSkills, &c.ERPSystems, &c.SeniorityLevel, &trajectory,
		&c.YearsExperience, &c.CurrentRole, &c.StructuredSkills,
		&cre, &fhe,
		&c.Hidden, &c.DeletedAt, &c.SyncedAt, &c.CategorizedAt, &c.ClassifiedAt,
	}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return domain.Candidate{}, err
	}
	c.Point = pointFrom(lat, lon)
	c.Role = domain.RoleKey(role)
	c.Trajectory = domain.Trajectory(trajectory)
	c.CurrentRoleEmbedding = vecSlice(cre)
	c.FullHistoryEmbedding = vecSlice(fhe)
	return c, nil
}

func pointFrom(lat, lon *float64) *orb.Point {
	if lat == nil || lon == nil {
		return nil
	}
	pt := orb.Point{*lon, *lat}
	return &pt
}

func vecSlice(v *pgvector.Vector) []float32 {
	if v == nil {
		return nil
	}
	return v.Slice()
}

func roleStrings(roles []domain.RoleKey) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, string(r))
	}
	return out
}

// Get loads a candidate by id.
func (r *CandidateRepo) Get(ctx domain.Context, id string) (domain.Candidate, error) {
	tracer := otel.Tracer("repo.candidates")
	ctx, span := tracer.Start(ctx, "candidates.Get")
	defer span.End()
	q := `SELECT ` + candidateCols + ` FROM candidates c WHERE c.id=$1`
	c, err := scanCandidate(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Candidate{}, fmt.Errorf("op=candidate.get: %w", domain.ErrNotFound)
		}
		return domain.Candidate{}, fmt.Errorf("op=candidate.get: %w", err)
	}
	return c, nil
}

// StructuredFilter runs the hard filter: eligible, classified, seniority
// within spread of the job level, hotlist category when the job carries
// one, and within MaxDistanceKM unless either side lacks coordinates.
// Candidates with an embedding sort first, then newest.
func (r *CandidateRepo) StructuredFilter(ctx domain.Context, job domain.Job, p domain.StructuredFilterParams) ([]domain.Candidate, error) {
	tracer := otel.Tracer("repo.candidates")
	ctx, span := tracer.Start(ctx, "candidates.StructuredFilter")
	defer span.End()

	var jobLat, jobLon *float64
	if job.Point != nil {
		jobLat, jobLon = &job.Point[1], &job.Point[0]
	}
	q := `SELECT ` + candidateCols + `
		FROM candidates c
		WHERE ` + candidateEligible + `
		  AND c.classified_at IS NOT NULL
		  AND abs(c.seniority_level - $1) <= $2
		  AND ($3 = '' OR c.category = $3)
		  AND ($4::float8 IS NULL OR c.lat IS NULL
		       OR ST_Distance(ST_MakePoint(c.lon, c.lat)::geography, ST_MakePoint($5, $4)::geography) / 1000.0 <= $6)
		ORDER BY (c.current_role_embedding IS NOT NULL) DESC, c.created_at DESC
		LIMIT $7`
	rows, err := r.Pool.Query(ctx, q, job.SeniorityLevel, p.LevelSpread, job.Category, jobLat, jobLon, p.MaxDistanceKM, p.Cap)
	if err != nil {
		return nil, fmt.Errorf("op=candidate.structured_filter: %w", err)
	}
	defer rows.Close()
	var out []domain.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("op=candidate.structured_filter scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CompatibleNearJob returns eligible classified candidates holding one of
// roles, ordered by ascending distance. skipGeo is set for remote jobs and
// jobs without coordinates.
func (r *CandidateRepo) CompatibleNearJob(ctx domain.Context, job domain.Job, roles []domain.RoleKey, maxKM float64, limit int) ([]domain.CandidateDistance, error) {
	tracer := otel.Tracer("repo.candidates")
	ctx, span := tracer.Start(ctx, "candidates.CompatibleNearJob")
	defer span.End()

	var jobLat, jobLon *float64
	if job.Point != nil {
		jobLat, jobLon = &job.Point[1], &job.Point[0]
	}
	skipGeo := job.Point == nil || job.WorkArrangement == domain.ArrangementRemote
	q := `SELECT ` + candidateCols + `,
		CASE WHEN c.lat IS NOT NULL AND $1::float8 IS NOT NULL
		     THEN ST_Distance(ST_MakePoint(c.lon, c.lat)::geography, ST_MakePoint($2, $1)::geography) / 1000.0
		END AS distance_km
		FROM candidates c
		WHERE ` + candidateEligible + `
		  AND c.classified_at IS NOT NULL
		  AND c.role = ANY($3)
		  AND ($4 OR (c.lat IS NOT NULL
		       AND ST_Distance(ST_MakePoint(c.lon, c.lat)::geography, ST_MakePoint($2, $1)::geography) / 1000.0 <= $5))
		ORDER BY distance_km ASC NULLS LAST
		LIMIT $6`
	rows, err := r.Pool.Query(ctx, q, jobLat, jobLon, roleStrings(roles), skipGeo, maxKM, limit)
	if err != nil {
		return nil, fmt.Errorf("op=candidate.compatible_near_job: %w", err)
	}
	defer rows.Close()
	var out []domain.CandidateDistance
	for rows.Next() {
		var dist *float64
		c, err := scanCandidate(rows, &dist)
		if err != nil {
			return nil, fmt.Errorf("op=candidate.compatible_near_job scan: %w", err)
		}
		out = append(out, domain.CandidateDistance{Candidate: c, DistanceKM: dist})
	}
	return out, rows.Err()
}

// MissingCoordinates returns eligible candidates that have a postal code
// but no point yet.
func (r *CandidateRepo) MissingCoordinates(ctx domain.Context, limit int) ([]domain.Candidate, error) {
	tracer := otel.Tracer("repo.candidates")
	ctx, span := tracer.Start(ctx, "candidates.MissingCoordinates")
	defer span.End()
	q := `SELECT ` + candidateCols + ` FROM candidates c
		WHERE ` + candidateEligible + ` AND c.lat IS NULL AND c.postal_code <> ''
		ORDER BY c.created_at
		LIMIT $1`
	return r.queryCandidates(ctx, "candidate.missing_coordinates", q, limit)
}

// SetPoint stores the geocoded point.
func (r *CandidateRepo) SetPoint(ctx domain.Context, id string, pt orb.Point) error {
	tracer := otel.Tracer("repo.candidates")
	ctx, span := tracer.Start(ctx, "candidates.SetPoint")
	defer span.End()
	_, err := r.Pool.Exec(ctx, `UPDATE candidates SET lat=$2, lon=$3 WHERE id=$1`, id, pt.Lat(), pt.Lon())
	if err != nil {
		return fmt.Errorf("op=candidate.set_point: %w", err)
	}
	return nil
}

// StaleCategorized returns eligible candidates never categorized or synced
// after their last categorization.
func (r *CandidateRepo) StaleCategorized(ctx domain.Context, limit int) ([]domain.Candidate, error) {
	tracer := otel.Tracer("repo.candidates")
	ctx, span := tracer.Start(ctx, "candidates.StaleCategorized")
	defer span.End()
	q := `SELECT ` + candidateCols + ` FROM candidates c
		WHERE ` + candidateEligible + `
		  AND (c.categorized_at IS NULL OR (c.synced_at IS NOT NULL AND c.synced_at > c.categorized_at))
		ORDER BY c.created_at
		LIMIT $1`
	return r.queryCandidates(ctx, "candidate.stale_categorized", q, limit)
}

// MarkCategorized stamps the categorization time.
func (r *CandidateRepo) MarkCategorized(ctx domain.Context, id string, at time.Time) error {
	tracer := otel.Tracer("repo.candidates")
	ctx, span := tracer.Start(ctx, "candidates.MarkCategorized")
	defer span.End()
	_, err := r.Pool.Exec(ctx, `UPDATE candidates SET categorized_at=$2 WHERE id=$1`, id, at)
	if err != nil {
		return fmt.Errorf("op=candidate.mark_categorized: %w", err)
	}
	return nil
}

// StaleClassified returns candidates of a category needing (re)classification.
func (r *CandidateRepo) StaleClassified(ctx domain.Context, category string, limit int) ([]domain.Candidate, error) {
	tracer := otel.Tracer("repo.candidates")
	ctx, span := tracer.Start(ctx, "candidates.StaleClassified")
	defer span.End()
	q := `SELECT ` + candidateCols + ` FROM candidates c
		WHERE ` + candidateEligible + ` AND c.category = $1
		  AND (c.classified_at IS NULL OR (c.synced_at IS NOT NULL AND c.synced_at > c.classified_at))
		ORDER BY c.created_at
		LIMIT $2`
	return r.queryCandidates(ctx, "candidate.stale_classified", q, category, limit)
}

// MarkClassified stores the classified role list. The first role becomes
// primary, the rest secondary.
func (r *CandidateRepo) MarkClassified(ctx domain.Context, id string, roles []string, at time.Time) error {
	tracer := otel.Tracer("repo.candidates")
	ctx, span := tracer.Start(ctx, "candidates.MarkClassified")
	defer span.End()
	primary := ""
	secondary := []string{}
	if len(roles) > 0 {
		primary = roles[0]
		secondary = roles[1:]
	}
	_, err := r.Pool.Exec(ctx,
		`UPDATE candidates SET role=$2, secondary_roles=$3, classified_at=$4 WHERE id=$1`,
		id, primary, secondary, at)
	if err != nil {
		return fmt.Errorf("op=candidate.mark_classified: %w", err)
	}
	return nil
}

func (r *CandidateRepo) queryCandidates(ctx domain.Context, op, q string, args ...any) ([]domain.Candidate, error) {
	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=%s: %w", op, err)
	}
	defer rows.Close()
	var out []domain.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("op=%s scan: %w", op, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
