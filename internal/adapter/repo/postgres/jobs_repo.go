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

// JobRepo implements domain.JobRepository.
type JobRepo struct{ Pool PgxPool }

// NewJobRepo constructs a JobRepo with the given pool.
func NewJobRepo(p PgxPool) *JobRepo { return &JobRepo{Pool: p} }

const jobCols = `j.id, j.lat, j.lon, j.postal_code, j.city, j.category, j.title, j.company,
	j.description, j.role, j.secondary_roles, j.classification, j.quality, j.required_skills,
	j.role_embedding, j.seniority_level, j.industry, j.company_size, j.employment_type,
	j.work_arrangement, j.profile_created_at, j.deleted_at, j.expires_at, j.synced_at,
	j.categorized_at`

// jobEligible is the SQL form of Job.Eligible.
const jobEligible = `j.deleted_at IS NULL
	AND (j.expires_at IS NULL OR j.expires_at > now())
	AND j.quality IN ('high', 'medium')`

func scanJob(row rowScanner) (domain.Job, error) {
	var (
		j             domain.Job
		lat, lon      *float64
		role, quality string
		arrangement   string
		emb           *pgvector.Vector
		categorizedAt *time.Time
	)
	if err := row.Scan(
		&j.ID, &lat, &lon, &j.PostalCode, &j.City, &j.Category, &j.Title, &j.Company,
		&j.Description, &role, &j.SecondaryRoles, &j.Classification, &quality, &j.RequiredSkills,
		&emb, &j.SeniorityLevel, &j.Industry, &j.CompanySize, &j.EmploymentType,
		&arrangement, &j.ProfileCreatedAt, &j.DeletedAt, &j.ExpiresAt, &j.SyncedAt,
		&categorizedAt,
	); err != nil {
		return domain.Job{}, err
	}
	j.Point = pointFrom(lat, lon)
	j.Role = domain.RoleKey(role)
	j.Quality = domain.Quality(quality)
	j.WorkArrangement = domain.WorkArrangement(arrangement)
	j.RoleEmbedding = vecSlice(emb)
	return j, nil
}

// Get loads a job by id.
func (r *JobRepo) Get(ctx domain.Context, id string) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Get")
	defer span.End()
	q := `SELECT ` + jobCols + ` FROM jobs j WHERE j.id=$1`
	j, err := scanJob(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Job{}, fmt.Errorf("op=job.get: %w", domain.ErrNotFound)
		}
		return domain.Job{}, fmt.Errorf("op=job.get: %w", err)
	}
	return j, nil
}

// EligibleByCategory returns eligible jobs in a category, newest profile
// first. With a non-empty missingMethod only jobs that do not yet carry a
// match of that method are returned.
func (r *JobRepo) EligibleByCategory(ctx domain.Context, category string, missingMethod domain.MatchMethod, limit int) ([]domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.EligibleByCategory")
	defer span.End()
	q := `SELECT ` + jobCols + ` FROM jobs j
		WHERE ` + jobEligible + `
		  AND ($1 = '' OR j.category = $1)
		  AND ($2 = '' OR NOT EXISTS (
		      SELECT 1 FROM matches m WHERE m.job_id = j.id AND m.method = $2))
		ORDER BY j.profile_created_at DESC NULLS LAST
		LIMIT $3`
	return r.queryJobs(ctx, "job.eligible_by_category", q, category, string(missingMethod), limit)
}

// NearCandidate returns eligible role-compatible jobs within maxKM of the
// candidate. Remote jobs always qualify.
func (r *JobRepo) NearCandidate(ctx domain.Context, c domain.Candidate, roles []domain.RoleKey, maxKM float64, limit int) ([]domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.NearCandidate")
	defer span.End()

	var candLat, candLon *float64
	if c.Point != nil {
		candLat, candLon = &c.Point[1], &c.Point[0]
	}
	q := `SELECT ` + jobCols + ` FROM jobs j
		WHERE ` + jobEligible + `
		  AND j.role = ANY($1)
		  AND (j.work_arrangement = 'remote'
		       OR (j.lat IS NOT NULL AND $2::float8 IS NOT NULL
		           AND ST_Distance(ST_MakePoint(j.lon, j.lat)::geography, ST_MakePoint($3, $2)::geography) / 1000.0 <= $4))
		ORDER BY j.profile_created_at DESC NULLS LAST
		LIMIT $5`
	return r.queryJobs(ctx, "job.near_candidate", q, roleStrings(roles), candLat, candLon, maxKM, limit)
}

// MissingCoordinates returns eligible jobs with a postal code but no point.
func (r *JobRepo) MissingCoordinates(ctx domain.Context, limit int) ([]domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.MissingCoordinates")
	defer span.End()
	q := `SELECT ` + jobCols + ` FROM jobs j
		WHERE j.deleted_at IS NULL AND j.lat IS NULL AND j.postal_code <> ''
		ORDER BY j.created_at
		LIMIT $1`
	return r.queryJobs(ctx, "job.missing_coordinates", q, limit)
}

// SetPoint stores the geocoded point.
func (r *JobRepo) SetPoint(ctx domain.Context, id string, pt orb.Point) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.SetPoint")
	defer span.End()
	_, err := r.Pool.Exec(ctx, `UPDATE jobs SET lat=$2, lon=$3 WHERE id=$1`, id, pt.Lat(), pt.Lon())
	if err != nil {
		return fmt.Errorf("op=job.set_point: %w", err)
	}
	return nil
}

// StaleCategorized returns jobs never categorized or synced after their
// last categorization.
func (r *JobRepo) StaleCategorized(ctx domain.Context, limit int) ([]domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.StaleCategorized")
	defer span.End()
	q := `SELECT ` + jobCols + ` FROM jobs j
		WHERE j.deleted_at IS NULL
		  AND (j.categorized_at IS NULL OR (j.synced_at IS NOT NULL AND j.synced_at > j.categorized_at))
		ORDER BY j.created_at
		LIMIT $1`
	return r.queryJobs(ctx, "job.stale_categorized", q, limit)
}

// MarkCategorized stamps the categorization time.
func (r *JobRepo) MarkCategorized(ctx domain.Context, id string, at time.Time) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.MarkCategorized")
	defer span.End()
	_, err := r.Pool.Exec(ctx, `UPDATE jobs SET categorized_at=$2 WHERE id=$1`, id, at)
	if err != nil {
		return fmt.Errorf("op=job.mark_categorized: %w", err)
	}
	return nil
}

func (r *JobRepo) queryJobs(ctx domain.Context, op, q string, args ...any) ([]domain.Job, error) {
	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=%s: %w", op, err)
	}
	defer rows.Close()
	var out []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("op=%s scan: %w", op, err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
