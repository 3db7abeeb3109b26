// Package domain holds the core entities, the role taxonomy, and the ports
// implemented by adapters. It stays free of transport and storage concerns.
package domain

import (
	"context"
	"time"

	"github.com/paulmach/orb"
)

// Context aliases context.Context so ports read naturally in this package.
type Context = context.Context

// Trajectory describes the direction of a candidate's career.
type Trajectory string

const (
	TrajectoryEntry      Trajectory = "einstieg"
	TrajectoryLateral    Trajectory = "lateral"
	TrajectoryAscending  Trajectory = "aufsteigend"
	TrajectoryDescending Trajectory = "absteigend"
)

// Quality labels a job posting. Anything outside the closed set is rejected
// at ingest.
type Quality string

const (
	QualityHigh   Quality = "high"
	QualityMedium Quality = "medium"
	QualityLow    Quality = "low"
)

// ValidQuality reports whether q is a member of the closed quality set.
func ValidQuality(q Quality) bool {
	return q == QualityHigh || q == QualityMedium || q == QualityLow
}

// WorkArrangement describes where the work happens.
type WorkArrangement string

const (
	ArrangementOnSite WorkArrangement = "vor_ort"
	ArrangementHybrid WorkArrangement = "hybrid"
	ArrangementRemote WorkArrangement = "remote"
)

// Skill importance, recency and proficiency values used by structured skills.
const (
	ImportanceEssential = "essential"
	ImportancePreferred = "preferred"

	RecencyCurrent  = "aktuell"
	RecencyRecent   = "kuerzlich"
	RecencyOutdated = "veraltet"

	ProficiencyBasic    = "grundkenntnisse"
	ProficiencyAdvanced = "fortgeschritten"
	ProficiencyExpert   = "experte"
)

// StructuredSkill is one classified skill with grading metadata.
type StructuredSkill struct {
	Skill       string `json:"skill"`
	Importance  string `json:"importance"`
	Recency     string `json:"recency,omitempty"`
	Proficiency string `json:"proficiency,omitempty"`
}

// WorkEntry is one station of a candidate's work history.
type WorkEntry struct {
	Position    string `json:"position"`
	Company     string `json:"company"`
	Start       string `json:"start"`
	End         string `json:"end"`
	Description string `json:"description"`
}

// Candidate is an applicant profile. Identity fields (name, contact data)
// live outside this struct on purpose: nothing in the matching core needs
// them, and the prompt builders must not see them.
type Candidate struct {
	ID               string
	Point            *orb.Point // WGS84, nil when not geocoded
	PostalCode       string
	City             string
	Category         string
	Role             RoleKey
	SecondaryRoles   []string
	Classification   map[string]any
	WorkHistory      []WorkEntry
	Education        []string
	FurtherEducation []string
	Languages        []string
	Skills           []string
	ITSkills         []string
	ERPSystems       []string
	SeniorityLevel   int // 1..6
	Trajectory       Trajectory
	YearsExperience  float64
	CurrentRole      string
	StructuredSkills []StructuredSkill
	// 384-dim embeddings; nil when not yet computed.
	CurrentRoleEmbedding []float32
	FullHistoryEmbedding []float32
	Hidden               bool
	DeletedAt            *time.Time
	SyncedAt             *time.Time
	CategorizedAt        *time.Time
	ClassifiedAt         *time.Time
}

// Eligible reports whether the candidate may participate in matching.
func (c Candidate) Eligible() bool { return !c.Hidden && c.DeletedAt == nil }

// Job is a classified opening.
type Job struct {
	ID               string
	Point            *orb.Point
	PostalCode       string
	City             string
	Category         string
	Title            string
	Company          string
	Description      string
	Role             RoleKey
	SecondaryRoles   []string
	Classification   map[string]any
	Quality          Quality
	RequiredSkills   []StructuredSkill
	RoleEmbedding    []float32
	SeniorityLevel   int
	Industry         string
	CompanySize      string
	EmploymentType   string
	WorkArrangement  WorkArrangement
	ProfileCreatedAt *time.Time
	DeletedAt        *time.Time
	ExpiresAt        *time.Time
	SyncedAt         *time.Time
}

// Eligible reports whether the job may participate in matching: not
// deleted, not expired, and quality high or medium.
func (j Job) Eligible(now time.Time) bool {
	if j.DeletedAt != nil {
		return false
	}
	if j.ExpiresAt != nil && j.ExpiresAt.Before(now) {
		return false
	}
	return j.Quality == QualityHigh || j.Quality == QualityMedium
}

// MatchMethod tags which pipeline produced a match.
type MatchMethod string

const (
	MethodStructuredV2 MatchMethod = "structured_v2"
	MethodPipelineV3   MatchMethod = "pipeline_v3"
	MethodV5RoleGeo    MatchMethod = "v5_role_geo"
	MethodProximity    MatchMethod = "proximity"
)

// MatchStatus is the workflow state of a match.
type MatchStatus string

const (
	MatchNew       MatchStatus = "new"
	MatchAIChecked MatchStatus = "ai_checked"
	MatchPresented MatchStatus = "presented"
	MatchRejected  MatchStatus = "rejected"
	MatchPlaced    MatchStatus = "placed"
)

// AI recommendation values written by the deep evaluation.
const (
	RecommendPresent = "vorstellen"
	RecommendObserve = "beobachten"
	RecommendNoFit   = "nicht_passend"
)

// Breakdown is the serialized component-score map attached to a match.
// Numeric entries are component scores in [0,1]; non-numeric entries carry
// provenance detail (matched role labels, scoring_version).
type Breakdown map[string]any

// Float returns the numeric entry for key, if present and numeric.
func (b Breakdown) Float(key string) (float64, bool) {
	v, ok := b[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

// Match is a persisted (job, candidate) pair. Uniqueness on the pair is
// enforced by the store.
type Match struct {
	ID          string
	JobID       string
	CandidateID string

	// AIScore is canonical on [0,1]; Score is the structured total on
	// [0,100]. PreScore mirrors AIScore*100 for legacy readers only.
	AIScore  float64
	Score    float64
	PreScore *float64

	Breakdown  Breakdown
	DistanceKM *float64
	// Drive times in minutes.
	DriveCarMin     *int
	DriveTransitMin *int

	Method MatchMethod
	Status MatchStatus

	AIExplanation    string
	AIStrengths      []string
	AIWeaknesses     []string
	AIRecommendation string
	WowFlag          bool
	WowReason        string

	UserFeedback    string
	FeedbackNote    string
	RejectionReason string

	CreatedAt   time.Time
	MatchedAt   *time.Time
	AICheckedAt *time.Time
	FeedbackAt  *time.Time
	PlacedAt    *time.Time
}

// Feedback outcome values on a match record.
const (
	FeedbackGood         = "good"
	FeedbackBadDistance  = "bad_distance"
	FeedbackBadSkills    = "bad_skills"
	FeedbackBadSeniority = "bad_seniority"
	FeedbackMaybe        = "maybe"
	FeedbackPresent      = "vorstellen"
	FeedbackLater        = "spaeter"
	FeedbackDecline      = "ablehnen"
)

// Outcome classifies a training datum.
type Outcome string

const (
	OutcomeGood    Outcome = "good"
	OutcomeBad     Outcome = "bad"
	OutcomeNeutral Outcome = "neutral"
)

// TrainingDatum is an append-only audit row for one feedback event.
type TrainingDatum struct {
	ID              string
	MatchID         string
	Features        map[string]float64
	Outcome         Outcome
	Source          string
	RejectionReason string
	JobCategory     string
	CreatedAt       time.Time
}

// ScoringWeight is one row per (component, category-or-global).
// Invariant: per selector, weights sum to 100 +/- 0.1 and each lies in
// [2, 50] after any adjustment.
type ScoringWeight struct {
	Component     string
	JobCategory   *string // nil = global
	Weight        float64
	DefaultWeight float64
	Adjustments   int
	AdjustedAt    *time.Time
}

// RuleType enumerates learned-rule kinds.
type RuleType string

const (
	RuleAssociation    RuleType = "association"
	RuleDecisionTree   RuleType = "decision_tree"
	RuleWeightOverride RuleType = "weight_override"
	RuleExclusion      RuleType = "exclusion"
)

// RuleCondition is the closed condition grammar for learned rules. No
// general predicate language, by contract.
type RuleCondition struct {
	HasSkills []string `json:"has_skills,omitempty"`
	MinLevel  *int     `json:"min_level,omitempty"`
	MaxLevel  *int     `json:"max_level,omitempty"`
	MinYears  *float64 `json:"min_years,omitempty"`
}

// LearnedRule is a declarative condition/action document.
type LearnedRule struct {
	ID         string
	Type       RuleType
	Condition  RuleCondition
	Boost      float64
	Confidence float64
	Support    int
	Active     bool
	CreatedAt  time.Time
}
