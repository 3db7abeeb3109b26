package pipeline

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/talentbruecke/matchengine/internal/domain"
	"github.com/talentbruecke/matchengine/internal/observability"
	"github.com/talentbruecke/matchengine/internal/scoring"
)

// Structured pipeline limits.
const (
	structuredCap     = 2000
	structuredTopN    = 50
	structuredSpread  = 2
	progressEvery     = 10
	maxRecordedErrors = 20
)

// StructuredConfig carries the structured pipeline tunables.
type StructuredConfig struct {
	MaxDistanceKM float64
	Category      string // batch scope, e.g. FINANCE
}

// Structured is the three-layer per-job pipeline: hard SQL filter, scoring,
// learned-rule boost.
type Structured struct {
	candidates domain.CandidateRepository
	jobs       domain.JobRepository
	matches    domain.MatchRepository
	weights    *scoring.WeightSource
	rules      domain.RuleRepository
	status     *Registry
	cfg        StructuredConfig
}

// NewStructured constructs the structured pipeline.
func NewStructured(candidates domain.CandidateRepository, jobs domain.JobRepository, matches domain.MatchRepository, weights *scoring.WeightSource, rules domain.RuleRepository, status *Registry, cfg StructuredConfig) *Structured {
	return &Structured{
		candidates: candidates,
		jobs:       jobs,
		matches:    matches,
		weights:    weights,
		rules:      rules,
		status:     status,
		cfg:        cfg,
	}
}

// ScoredCandidate is one ranked entry of a structured run.
type ScoredCandidate struct {
	CandidateID string           `json:"candidate_id"`
	Score       float64          `json:"score"`
	Rank        int              `json:"rank"`
	DistanceKM  *float64         `json:"distance_km,omitempty"`
	Breakdown   domain.Breakdown `json:"breakdown"`
}

// JobResult summarizes one per-job run.
type JobResult struct {
	JobID      string            `json:"job_id"`
	Filtered   int               `json:"filtered"`
	Scored     int               `json:"scored"`
	Persisted  int               `json:"persisted"`
	Candidates []ScoredCandidate `json:"candidates"`
	Errors     []string          `json:"errors,omitempty"`
}

// RunForJob runs the three layers for one job and upserts the surviving
// matches.
func (p *Structured) RunForJob(ctx domain.Context, jobID string) (JobResult, error) {
	job, err := p.jobs.Get(ctx, jobID)
	if err != nil {
		return JobResult{}, err
	}
	if !job.Eligible(time.Now().UTC()) {
		return JobResult{JobID: jobID}, fmt.Errorf("op=structured.run job=%s not eligible: %w", jobID, domain.ErrPrecondition)
	}

	candidates, err := p.candidates.StructuredFilter(ctx, job, domain.StructuredFilterParams{
		MaxDistanceKM: p.cfg.MaxDistanceKM,
		LevelSpread:   structuredSpread,
		Cap:           structuredCap,
	})
	if err != nil {
		return JobResult{}, err
	}

	weights, err := p.weights.Load(ctx, job.Category)
	if err != nil {
		return JobResult{}, err
	}
	rules, err := p.rules.Active(ctx, domain.RuleAssociation)
	if err != nil {
		return JobResult{}, err
	}

	res := JobResult{JobID: jobID, Filtered: len(candidates)}
	type scored struct {
		candidate domain.Candidate
		result    scoring.Result
		distance  *float64
	}
	var survivors []scored
	for _, c := range candidates {
		dist := pairDistanceKM(c.Point, job.Point)
		r, ok := scoring.Score(c, job, dist, weights)
		if !ok {
			continue
		}
		survivors = append(survivors, scored{candidate: c, result: r, distance: dist})
	}
	res.Scored = len(survivors)

	sortScored := func() {
		sort.SliceStable(survivors, func(i, j int) bool {
			return survivors[i].result.Total > survivors[j].result.Total
		})
	}
	sortScored()
	if len(survivors) > structuredTopN {
		survivors = survivors[:structuredTopN]
	}

	// Learned-rule boost on the surviving set, then re-rank.
	for i := range survivors {
		adjusted, keep := scoring.ApplyRules(survivors[i].result.Total, survivors[i].candidate, rules)
		if !keep {
			survivors[i].result.Total = -1 // drop marker, sorted out below
			continue
		}
		survivors[i].result.Total = adjusted
	}
	sortScored()
	for len(survivors) > 0 && survivors[len(survivors)-1].result.Total < 0 {
		survivors = survivors[:len(survivors)-1]
	}

	for rank, s := range survivors {
		bd := s.result.Breakdown
		bd["rank"] = rank + 1
		m, err := p.matches.Upsert(ctx, domain.MatchUpsert{
			JobID:       job.ID,
			CandidateID: s.candidate.ID,
			Score:       s.result.Total,
			AIScore:     s.result.Total / 100,
			Breakdown:   bd,
			DistanceKM:  s.distance,
			Method:      domain.MethodStructuredV2,
		})
		if err != nil {
			res.recordError(fmt.Sprintf("candidate %s: %v", s.candidate.ID, err))
			continue
		}
		res.Persisted++
		observability.MatchesPersistedTotal.WithLabelValues(string(domain.MethodStructuredV2)).Inc()
		observability.MatchScoreHistogram.Observe(s.result.Total)
		res.Candidates = append(res.Candidates, ScoredCandidate{
			CandidateID: s.candidate.ID,
			Score:       s.result.Total,
			Rank:        rank + 1,
			DistanceKM:  s.distance,
			Breakdown:   m.Breakdown,
		})
	}
	return res, nil
}

// BatchResult summarizes a batch run over many jobs.
type BatchResult struct {
	JobsProcessed int      `json:"jobs_processed"`
	JobsMatched   int      `json:"jobs_matched"`
	Persisted     int      `json:"persisted"`
	Errors        []string `json:"errors,omitempty"`
}

// RunBatch processes the given jobs sequentially, or every eligible job of
// the configured category still lacking a structured match when jobIDs is
// empty. Progress is published every ten jobs; per-job failures are
// recorded and do not abort the batch.
func (p *Structured) RunBatch(ctx domain.Context, jobIDs []string) (BatchResult, error) {
	if err := p.status.Acquire(KindStructured); err != nil {
		return BatchResult{}, err
	}
	defer p.status.Release(KindStructured)
	start := time.Now()

	if len(jobIDs) == 0 {
		jobs, err := p.jobs.EligibleByCategory(ctx, p.cfg.Category, domain.MethodStructuredV2, structuredCap)
		if err != nil {
			observability.PipelineRunsTotal.WithLabelValues(string(KindStructured), "error").Inc()
			return BatchResult{}, err
		}
		for _, j := range jobs {
			jobIDs = append(jobIDs, j.ID)
		}
	}

	var res BatchResult
	for i, id := range jobIDs {
		jr, err := p.RunForJob(ctx, id)
		res.JobsProcessed++
		if err != nil {
			res.recordError(fmt.Sprintf("job %s: %v", id, err))
		} else if jr.Persisted > 0 {
			res.JobsMatched++
			res.Persisted += jr.Persisted
		}
		if (i+1)%progressEvery == 0 || i == len(jobIDs)-1 {
			p.status.Publish(KindStructured, map[string]any{
				"phase":          "matching",
				"jobs_total":     len(jobIDs),
				"jobs_processed": res.JobsProcessed,
				"jobs_matched":   res.JobsMatched,
				"persisted":      res.Persisted,
				"errors":         len(res.Errors),
			})
		}
	}
	p.status.Publish(KindStructured, map[string]any{
		"phase":          "done",
		"jobs_total":     len(jobIDs),
		"jobs_processed": res.JobsProcessed,
		"jobs_matched":   res.JobsMatched,
		"persisted":      res.Persisted,
		"errors":         len(res.Errors),
	})
	observability.PipelineRunsTotal.WithLabelValues(string(KindStructured), "ok").Inc()
	observability.PipelineDuration.WithLabelValues(string(KindStructured)).Observe(time.Since(start).Seconds())
	slog.Info("structured batch finished",
		slog.Int("jobs", res.JobsProcessed),
		slog.Int("matched", res.JobsMatched),
		slog.Int("persisted", res.Persisted),
		slog.Int("errors", len(res.Errors)))
	return res, nil
}

func (r *JobResult) recordError(msg string) {
	if len(r.Errors) < maxRecordedErrors {
		r.Errors = append(r.Errors, msg)
	}
}

func (r *BatchResult) recordError(msg string) {
	if len(r.Errors) < maxRecordedErrors {
		r.Errors = append(r.Errors, msg)
	}
}

// pairDistanceKM computes the great-circle distance when both sides have
// coordinates.
func pairDistanceKM(a, b *orb.Point) *float64 {
	if a == nil || b == nil {
		return nil
	}
	km := geo.Distance(*a, *b) / 1000
	return &km
}
