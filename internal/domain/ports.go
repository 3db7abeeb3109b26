package domain

import (
	"time"

	"github.com/paulmach/orb"
)

// CandidateDistance pairs a candidate with its spheroid distance to a job,
// in kilometers. Distance is nil when either side lacks coordinates.
type CandidateDistance struct {
	Candidate  Candidate
	DistanceKM *float64
}

// GeoPair is one candidate/job pair emitted by the geo filter, joined with
// coordinates, distance and the role-label lists of both sides.
type GeoPair struct {
	CandidateID    string
	JobID          string
	CandidatePoint orb.Point
	JobPoint       orb.Point
	CandidatePLZ   string
	JobPLZ         string
	DistanceKM     float64
	CandidateRoles []string
	JobRoles       []string
}

// StructuredFilterParams bounds the hard SQL filter of the structured
// pipeline.
type StructuredFilterParams struct {
	MaxDistanceKM float64
	LevelSpread   int
	Cap           int
}

// CandidateRepository loads candidates and runs the filter queries the
// pipelines depend on.
type CandidateRepository interface {
	Get(ctx Context, id string) (Candidate, error)
	// StructuredFilter implements the structured pipeline's hard filter:
	// eligible, classified, level within spread, hotlist category when
	// set, within MaxDistanceKM or missing coordinates; ordered
	// embedding-present-first then newest profile; capped.
	StructuredFilter(ctx Context, job Job, p StructuredFilterParams) ([]Candidate, error)
	// CompatibleNearJob returns eligible classified candidates whose role
	// is in roles, within maxKM of the job when it has coordinates and is
	// not remote, ordered by ascending distance, at most limit.
	CompatibleNearJob(ctx Context, job Job, roles []RoleKey, maxKM float64, limit int) ([]CandidateDistance, error)
	MissingCoordinates(ctx Context, limit int) ([]Candidate, error)
	SetPoint(ctx Context, id string, pt orb.Point) error
	StaleCategorized(ctx Context, limit int) ([]Candidate, error)
	MarkCategorized(ctx Context, id string, at time.Time) error
	StaleClassified(ctx Context, category string, limit int) ([]Candidate, error)
	MarkClassified(ctx Context, id string, roles []string, at time.Time) error
}

// JobRepository loads jobs and the job sets the batch drivers iterate.
type JobRepository interface {
	Get(ctx Context, id string) (Job, error)
	// EligibleByCategory returns eligible jobs in a category. When
	// missingMethod is non-empty only jobs without a match of that
	// method are returned.
	EligibleByCategory(ctx Context, category string, missingMethod MatchMethod, limit int) ([]Job, error)
	// NearCandidate returns eligible jobs within maxKM of the candidate,
	// role-compatible with roles, for reverse evaluation.
	NearCandidate(ctx Context, c Candidate, roles []RoleKey, maxKM float64, limit int) ([]Job, error)
	MissingCoordinates(ctx Context, limit int) ([]Job, error)
	SetPoint(ctx Context, id string, pt orb.Point) error
	StaleCategorized(ctx Context, limit int) ([]Job, error)
	MarkCategorized(ctx Context, id string, at time.Time) error
}

// MatchUpsert carries the fields a pipeline writes on create-or-update.
type MatchUpsert struct {
	JobID       string
	CandidateID string
	Score       float64
	AIScore     float64
	PreScore    *float64
	Breakdown   Breakdown
	DistanceKM  *float64
	Method      MatchMethod
}

// AssessmentUpdate carries the LLM verdict fields.
type AssessmentUpdate struct {
	AIScore        float64
	PreScore       float64
	Explanation    string
	Strengths      []string
	Weaknesses     []string
	Recommendation string
	WowFlag        bool
	WowReason      string
}

// MatchRepository persists matches. Upserts are keyed by
// (job_id, candidate_id) under a uniqueness constraint.
type MatchRepository interface {
	Get(ctx Context, id string) (Match, error)
	GetByPair(ctx Context, jobID, candidateID string) (Match, error)
	// Upsert creates the match with status new or refreshes score,
	// breakdown and matched_at on an existing row.
	Upsert(ctx Context, u MatchUpsert) (Match, error)
	// UpsertAssessment upserts the pair and writes the verdict fields;
	// status new is bumped to ai_checked.
	UpsertAssessment(ctx Context, jobID, candidateID string, method MatchMethod, distanceKM *float64, a AssessmentUpdate) (Match, error)
	UpdateDriveTime(ctx Context, jobID, candidateID string, carMin, transitMin *int) error
	UpdateFeedback(ctx Context, id string, feedback, note, rejectionReason string, at time.Time) error
	// EligiblePairsWithin is the geo filter: every eligible candidate x
	// eligible job pair with coordinates within radiusKM that does not
	// already carry a match of excludeMethod.
	EligiblePairsWithin(ctx Context, radiusKM float64, excludeMethod MatchMethod) ([]GeoPair, error)
	DeleteByCandidates(ctx Context, candidateIDs []string) (int, error)
	DeleteByMethod(ctx Context, method MatchMethod) (int, error)
	// MissingDistance returns matches with null distance whose endpoints
	// both have coordinates.
	MissingDistance(ctx Context, limit int) ([]Match, error)
	SetDistance(ctx Context, id string, km float64) error
	// DeleteFarUnassessed removes matches beyond maxKM that carry no LLM
	// assessment.
	DeleteFarUnassessed(ctx Context, maxKM float64) (int, error)
}

// WeightRepository stores scoring weights per (component, category).
type WeightRepository interface {
	// ForCategory returns the weight rows for a category selector,
	// falling back to global rows when the category has none.
	ForCategory(ctx Context, category *string) ([]ScoringWeight, error)
	// CopyGlobalToCategory seeds category rows from the global rows.
	CopyGlobalToCategory(ctx Context, category string) error
	// SaveAll atomically replaces the weight values for one selector.
	SaveAll(ctx Context, category *string, weights []ScoringWeight) error
	ResetAll(ctx Context) error
	Changed(ctx Context, limit int) ([]ScoringWeight, error)
}

// TrainingRepository is append-only: no update path exists by contract.
type TrainingRepository interface {
	Append(ctx Context, d TrainingDatum) (string, error)
	Count(ctx Context, category *string) (int, error)
	// RecentByOutcome returns the most recent rows with the given
	// outcome, newest first, scoped to category when non-nil.
	RecentByOutcome(ctx Context, outcome Outcome, category *string, limit int) ([]TrainingDatum, error)
	Recent(ctx Context, limit int) ([]TrainingDatum, error)
	CountsByOutcome(ctx Context) (map[Outcome]int, error)
	RejectionHistogram(ctx Context) (map[string]int, error)
	CategoryCounts(ctx Context) (map[string]int, error)
}

// RuleRepository stores learned rules.
type RuleRepository interface {
	Active(ctx Context, t RuleType) ([]LearnedRule, error)
	Counts(ctx Context) (map[RuleType]int, error)
}

// ChatUsage is the token usage of one chat call.
type ChatUsage struct {
	InputTokens  int
	OutputTokens int
}

// ChatClient is the LLM boundary. ChatJSON must request a JSON response
// format and return the raw content string.
type ChatClient interface {
	ChatJSON(ctx Context, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, ChatUsage, error)
}

// Geocoder resolves a free-text address. found=false means not-found, not
// an error.
type Geocoder interface {
	Lookup(ctx Context, address string) (pt orb.Point, found bool, err error)
}

// Notifier sends a short text to the external channel.
type Notifier interface {
	Send(ctx Context, text string) error
}
