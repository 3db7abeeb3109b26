package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/talentbruecke/matchengine/internal/adapter/ai"
	"github.com/talentbruecke/matchengine/internal/domain"
	"github.com/talentbruecke/matchengine/internal/observability"
)

// LLM call contract.
const (
	llmTemperature   = 0.2
	llmMaxTokens     = 1000
	llmMaxCandidates = 20
	llmMaxReverse    = 30
)

// LLMGateConfig carries the deep-evaluation tunables.
type LLMGateConfig struct {
	GateDistanceKM   float64 // hard radius unless the job is remote
	ScoreMin         float64 // persistence threshold on [0,1]
	Concurrency      int     // parallel outstanding LLM calls
	Category         string
	InputUSDPerMTok  float64
	OutputUSDPerMTok float64
}

// LLMGate spends one LLM call per candidate the role-and-distance gate has
// approved and persists only verdicts at or above the threshold.
type LLMGate struct {
	candidates domain.CandidateRepository
	jobs       domain.JobRepository
	matches    domain.MatchRepository
	chat       domain.ChatClient
	status     *Registry
	cfg        LLMGateConfig
}

// NewLLMGate constructs the deep-evaluation pipeline.
func NewLLMGate(candidates domain.CandidateRepository, jobs domain.JobRepository, matches domain.MatchRepository, chat domain.ChatClient, status *Registry, cfg LLMGateConfig) *LLMGate {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	return &LLMGate{
		candidates: candidates,
		jobs:       jobs,
		matches:    matches,
		chat:       chat,
		status:     status,
		cfg:        cfg,
	}
}

// EvalResult summarizes one per-job evaluation.
type EvalResult struct {
	JobID        string   `json:"job_id"`
	Considered   int      `json:"considered"`
	Persisted    int      `json:"persisted"`
	BelowMin     int      `json:"below_min"`
	InputTokens  int      `json:"input_tokens"`
	OutputTokens int      `json:"output_tokens"`
	CostUSD      float64  `json:"cost_usd"`
	Errors       []string `json:"errors,omitempty"`
}

func (r *EvalResult) recordError(msg string) {
	if len(r.Errors) < maxRecordedErrors {
		r.Errors = append(r.Errors, msg)
	}
}

// gateJob checks the per-job preconditions. A failing job yields an empty
// result with the errors array populated, never a batch abort.
func gateJob(j domain.Job) error {
	switch {
	case !j.Role.Valid():
		return fmt.Errorf("no valid role key: %w", domain.ErrPrecondition)
	case j.Quality == domain.QualityLow:
		return fmt.Errorf("quality low: %w", domain.ErrPrecondition)
	case j.DeletedAt != nil:
		return fmt.Errorf("deleted: %w", domain.ErrPrecondition)
	case len(j.Classification) == 0:
		return fmt.Errorf("not classified: %w", domain.ErrPrecondition)
	}
	return nil
}

// RunForJob evaluates up to 20 gate-approved candidates for one job.
func (p *LLMGate) RunForJob(ctx domain.Context, jobID string) (EvalResult, error) {
	res := EvalResult{JobID: jobID}
	job, err := p.jobs.Get(ctx, jobID)
	if err != nil {
		return res, err
	}
	if err := gateJob(job); err != nil {
		res.recordError(fmt.Sprintf("job %s: %v", jobID, err))
		return res, nil
	}

	roles := domain.Roles().CompatibleCandidateRoles(job.Role)
	pairs, err := p.candidates.CompatibleNearJob(ctx, job, roles, p.cfg.GateDistanceKM, llmMaxCandidates)
	if err != nil {
		return res, err
	}
	res.Considered = len(pairs)
	p.evaluatePairs(ctx, job, pairs, &res)
	return res, nil
}

// RunForCandidate is the reverse mode: one fixed candidate against up to 30
// nearby role-compatible jobs.
func (p *LLMGate) RunForCandidate(ctx domain.Context, candidateID string) (EvalResult, error) {
	res := EvalResult{}
	c, err := p.candidates.Get(ctx, candidateID)
	if err != nil {
		return res, err
	}
	if !c.Eligible() || c.ClassifiedAt == nil {
		res.recordError(fmt.Sprintf("candidate %s: not eligible: %v", candidateID, domain.ErrPrecondition))
		return res, nil
	}
	jobRoles := domain.Roles().AllowedJobRoles(c.Role)
	jobs, err := p.jobs.NearCandidate(ctx, c, jobRoles, p.cfg.GateDistanceKM, llmMaxReverse)
	if err != nil {
		return res, err
	}
	for _, job := range jobs {
		if err := gateJob(job); err != nil {
			continue
		}
		res.Considered++
		dist := pairDistanceKM(c.Point, job.Point)
		p.evaluatePairs(ctx, job, []domain.CandidateDistance{{Candidate: c, DistanceKM: dist}}, &res)
	}
	return res, nil
}

// evaluatePairs fans the LLM calls out under the semaphore and folds the
// verdicts into res.
func (p *LLMGate) evaluatePairs(ctx domain.Context, job domain.Job, pairs []domain.CandidateDistance, res *EvalResult) {
	sem := make(chan struct{}, p.cfg.Concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, pair := range pairs {
		wg.Add(1)
		go func(pair domain.CandidateDistance) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			verdict, usage, err := p.evaluateOne(ctx, job, pair.Candidate)
			mu.Lock()
			defer mu.Unlock()
			res.InputTokens += usage.InputTokens
			res.OutputTokens += usage.OutputTokens
			if err != nil {
				// Missing credential is graceful degradation, not an error.
				if !errors.Is(err, domain.ErrNoAPIKey) {
					res.recordError(fmt.Sprintf("candidate %s: %v", pair.Candidate.ID, err))
				}
				return
			}
			if verdict.Score < p.cfg.ScoreMin {
				res.BelowMin++
				return
			}
			preScore := math.Round(verdict.Score*100*10) / 10
			_, err = p.matches.UpsertAssessment(ctx, job.ID, pair.Candidate.ID, domain.MethodPipelineV3, pair.DistanceKM, domain.AssessmentUpdate{
				AIScore:        verdict.Score,
				PreScore:       preScore,
				Explanation:    verdict.Explanation,
				Strengths:      verdict.Strengths,
				Weaknesses:     verdict.Weaknesses,
				Recommendation: verdict.Recommendation,
				WowFlag:        verdict.Wow,
				WowReason:      verdict.WowReason,
			})
			if err != nil {
				res.recordError(fmt.Sprintf("candidate %s: %v", pair.Candidate.ID, err))
				return
			}
			res.Persisted++
			observability.MatchesPersistedTotal.WithLabelValues(string(domain.MethodPipelineV3)).Inc()
		}(pair)
	}
	wg.Wait()
	res.CostUSD = ai.CostUSD(res.InputTokens, res.OutputTokens, p.cfg.InputUSDPerMTok, p.cfg.OutputUSDPerMTok)
}

// evaluateOne issues a single chat call and parses the verdict.
func (p *LLMGate) evaluateOne(ctx domain.Context, job domain.Job, c domain.Candidate) (ai.Verdict, domain.ChatUsage, error) {
	system, user := ai.BuildEvaluationPrompt(job, ai.FactsFromCandidate(c))
	raw, usage, err := p.chat.ChatJSON(ctx, system, user, llmMaxTokens, llmTemperature)
	if err != nil {
		return ai.Verdict{}, usage, err
	}
	verdict, err := ai.ParseVerdict(raw)
	if err != nil {
		return ai.Verdict{}, usage, err
	}
	return verdict, usage, nil
}

// BatchEvalResult aggregates a deep-evaluation batch.
type BatchEvalResult struct {
	JobsProcessed int      `json:"jobs_processed"`
	JobsMatched   int      `json:"jobs_matched"`
	Persisted     int      `json:"persisted"`
	InputTokens   int      `json:"input_tokens"`
	OutputTokens  int      `json:"output_tokens"`
	CostUSD       float64  `json:"cost_usd"`
	Errors        []string `json:"errors,omitempty"`
}

func (r *BatchEvalResult) recordError(msg string) {
	if len(r.Errors) < maxRecordedErrors {
		r.Errors = append(r.Errors, msg)
	}
}

// RunBatch evaluates the given jobs, or every eligible category job still
// lacking a pipeline_v3 match when jobIDs is empty.
func (p *LLMGate) RunBatch(ctx domain.Context, jobIDs []string) (BatchEvalResult, error) {
	if err := p.status.Acquire(KindLLMGate); err != nil {
		return BatchEvalResult{}, err
	}
	defer p.status.Release(KindLLMGate)
	start := time.Now()

	if len(jobIDs) == 0 {
		jobs, err := p.jobs.EligibleByCategory(ctx, p.cfg.Category, domain.MethodPipelineV3, structuredCap)
		if err != nil {
			observability.PipelineRunsTotal.WithLabelValues(string(KindLLMGate), "error").Inc()
			return BatchEvalResult{}, err
		}
		for _, j := range jobs {
			jobIDs = append(jobIDs, j.ID)
		}
	}

	var res BatchEvalResult
	for i, id := range jobIDs {
		jr, err := p.RunForJob(ctx, id)
		res.JobsProcessed++
		res.InputTokens += jr.InputTokens
		res.OutputTokens += jr.OutputTokens
		if err != nil {
			res.recordError(fmt.Sprintf("job %s: %v", id, err))
		} else {
			if jr.Persisted > 0 {
				res.JobsMatched++
				res.Persisted += jr.Persisted
			}
			for _, e := range jr.Errors {
				res.recordError(e)
			}
		}
		if (i+1)%progressEvery == 0 || i == len(jobIDs)-1 {
			p.status.Publish(KindLLMGate, map[string]any{
				"phase":          "evaluating",
				"jobs_total":     len(jobIDs),
				"jobs_processed": res.JobsProcessed,
				"jobs_matched":   res.JobsMatched,
				"persisted":      res.Persisted,
				"errors":         len(res.Errors),
			})
		}
	}
	res.CostUSD = ai.CostUSD(res.InputTokens, res.OutputTokens, p.cfg.InputUSDPerMTok, p.cfg.OutputUSDPerMTok)
	p.status.Publish(KindLLMGate, map[string]any{
		"phase":          "done",
		"jobs_total":     len(jobIDs),
		"jobs_processed": res.JobsProcessed,
		"jobs_matched":   res.JobsMatched,
		"persisted":      res.Persisted,
		"cost_usd":       res.CostUSD,
		"errors":         len(res.Errors),
	})
	observability.PipelineRunsTotal.WithLabelValues(string(KindLLMGate), "ok").Inc()
	observability.PipelineDuration.WithLabelValues(string(KindLLMGate)).Observe(time.Since(start).Seconds())
	slog.Info("llm gate batch finished",
		slog.Int("jobs", res.JobsProcessed),
		slog.Int("persisted", res.Persisted),
		slog.Int("input_tokens", res.InputTokens),
		slog.Int("output_tokens", res.OutputTokens))
	return res, nil
}
