package pipeline

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/talentbruecke/matchengine/internal/domain"
	"github.com/talentbruecke/matchengine/internal/observability"
)

// Per-step work bounds so a single run stays deadline-friendly.
const (
	geocodeLimit    = 200
	categorizeLimit = 500
	classifyLimit   = 500
	distanceLimit   = 1000
)

// Classifier is the external categorization/classification boundary. It
// owns the category and role columns; the orchestrator only drives it and
// stamps the bookkeeping timestamps.
type Classifier interface {
	CategorizeCandidate(ctx domain.Context, c domain.Candidate) error
	CategorizeJob(ctx domain.Context, j domain.Job) error
	ClassifyRoles(ctx domain.Context, c domain.Candidate) ([]string, error)
}

// OrchestratorConfig carries the orchestrator tunables.
type OrchestratorConfig struct {
	Category string  // classification scope, e.g. FINANCE
	MaxKM    float64 // purge radius for unassessed matches
}

// Orchestrator runs the six post-sync maintenance steps in order. Each
// step contributes a typed summary to the aggregate report; a failing step
// is captured and does not abort the rest.
type Orchestrator struct {
	candidates domain.CandidateRepository
	jobs       domain.JobRepository
	matches    domain.MatchRepository
	geocoder   domain.Geocoder
	classifier Classifier
	structured *Structured
	status     *Registry
	cfg        OrchestratorConfig
}

// NewOrchestrator constructs the orchestrator.
func NewOrchestrator(candidates domain.CandidateRepository, jobs domain.JobRepository, matches domain.MatchRepository, geocoder domain.Geocoder, classifier Classifier, structured *Structured, status *Registry, cfg OrchestratorConfig) *Orchestrator {
	return &Orchestrator{
		candidates: candidates,
		jobs:       jobs,
		matches:    matches,
		geocoder:   geocoder,
		classifier: classifier,
		structured: structured,
		status:     status,
		cfg:        cfg,
	}
}

// StepResult is one step's contribution to the run report.
type StepResult struct {
	Name      string `json:"name"`
	Processed int    `json:"processed"`
	Changed   int    `json:"changed"`
	Error     string `json:"error,omitempty"`
}

// Report aggregates one orchestrator run.
type Report struct {
	Steps      []StepResult `json:"steps"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// Run executes the six steps. A second run while one is active returns
// ErrAlreadyRunning.
func (o *Orchestrator) Run(ctx domain.Context) (Report, error) {
	if err := o.status.Acquire(KindOrchestrator); err != nil {
		return Report{}, err
	}
	defer o.status.Release(KindOrchestrator)

	report := Report{StartedAt: time.Now().UTC()}
	var changedCandidates []string

	steps := []struct {
		name string
		fn   func() (StepResult, error)
	}{
		{"geocode", o.stepGeocode(ctx)},
		{"categorize", o.stepCategorize(ctx)},
		{"classify", func() (StepResult, error) {
			r, changed, err := o.stepClassify(ctx)
			changedCandidates = changed
			return r, err
		}},
		{"purge_changed", func() (StepResult, error) { return o.stepPurgeChanged(ctx, changedCandidates) }},
		{"distance_refresh", func() (StepResult, error) { return o.stepDistanceRefresh(ctx) }},
		{"prematch", func() (StepResult, error) { return o.stepPrematch(ctx) }},
	}
	for i, s := range steps {
		res, err := s.fn()
		res.Name = s.name
		if err != nil {
			res.Error = err.Error()
		}
		report.Steps = append(report.Steps, res)
		o.status.Publish(KindOrchestrator, map[string]any{
			"phase":       s.name,
			"steps_done":  i + 1,
			"steps_total": len(steps),
		})
		slog.Info("orchestrator step finished",
			slog.String("step", s.name),
			slog.Int("processed", res.Processed),
			slog.Int("changed", res.Changed),
			slog.String("error", res.Error))
	}
	report.FinishedAt = time.Now().UTC()
	o.status.Publish(KindOrchestrator, map[string]any{"phase": "done", "steps_done": len(steps), "steps_total": len(steps)})
	observability.PipelineRunsTotal.WithLabelValues(string(KindOrchestrator), "ok").Inc()
	return report, nil
}

// stepGeocode resolves coordinates for candidates and jobs that have a
// postal code but no point yet.
func (o *Orchestrator) stepGeocode(ctx domain.Context) func() (StepResult, error) {
	return func() (StepResult, error) {
		var res StepResult
		cands, err := o.candidates.MissingCoordinates(ctx, geocodeLimit)
		if err != nil {
			return res, err
		}
		for _, c := range cands {
			res.Processed++
			pt, found, err := o.geocoder.Lookup(ctx, joinAddress(c.PostalCode, c.City))
			if err != nil || !found {
				continue
			}
			if err := o.candidates.SetPoint(ctx, c.ID, pt); err == nil {
				res.Changed++
			}
		}
		jobs, err := o.jobs.MissingCoordinates(ctx, geocodeLimit)
		if err != nil {
			return res, err
		}
		for _, j := range jobs {
			res.Processed++
			pt, found, err := o.geocoder.Lookup(ctx, joinAddress(j.PostalCode, j.City))
			if err != nil || !found {
				continue
			}
			if err := o.jobs.SetPoint(ctx, j.ID, pt); err == nil {
				res.Changed++
			}
		}
		return res, nil
	}
}

// stepCategorize re-categorizes entities synced after their last
// categorization.
func (o *Orchestrator) stepCategorize(ctx domain.Context) func() (StepResult, error) {
	return func() (StepResult, error) {
		var res StepResult
		now := time.Now().UTC()
		cands, err := o.candidates.StaleCategorized(ctx, categorizeLimit)
		if err != nil {
			return res, err
		}
		for _, c := range cands {
			res.Processed++
			if err := o.classifier.CategorizeCandidate(ctx, c); err != nil {
				continue
			}
			if err := o.candidates.MarkCategorized(ctx, c.ID, now); err == nil {
				res.Changed++
			}
		}
		jobs, err := o.jobs.StaleCategorized(ctx, categorizeLimit)
		if err != nil {
			return res, err
		}
		for _, j := range jobs {
			res.Processed++
			if err := o.classifier.CategorizeJob(ctx, j); err != nil {
				continue
			}
			if err := o.jobs.MarkCategorized(ctx, j.ID, now); err == nil {
				res.Changed++
			}
		}
		return res, nil
	}
}

// stepClassify reclassifies stale candidates of the configured category and
// records which ones changed their role set.
func (o *Orchestrator) stepClassify(ctx domain.Context) (StepResult, []string, error) {
	var res StepResult
	var changed []string
	now := time.Now().UTC()
	cands, err := o.candidates.StaleClassified(ctx, o.cfg.Category, classifyLimit)
	if err != nil {
		return res, nil, err
	}
	for _, c := range cands {
		res.Processed++
		roles, err := o.classifier.ClassifyRoles(ctx, c)
		if err != nil {
			continue
		}
		if err := o.candidates.MarkClassified(ctx, c.ID, roles, now); err != nil {
			continue
		}
		if roleSetChanged(c, roles) {
			changed = append(changed, c.ID)
			res.Changed++
		}
	}
	return res, changed, nil
}

// stepPurgeChanged deletes the matches of candidates whose role set
// changed; their old matches are presumed invalid.
func (o *Orchestrator) stepPurgeChanged(ctx domain.Context, changed []string) (StepResult, error) {
	var res StepResult
	res.Processed = len(changed)
	if len(changed) == 0 {
		return res, nil
	}
	n, err := o.matches.DeleteByCandidates(ctx, changed)
	if err != nil {
		return res, err
	}
	res.Changed = n
	return res, nil
}

// stepDistanceRefresh fills missing match distances and purges far matches
// without an LLM assessment.
func (o *Orchestrator) stepDistanceRefresh(ctx domain.Context) (StepResult, error) {
	var res StepResult
	missing, err := o.matches.MissingDistance(ctx, distanceLimit)
	if err != nil {
		return res, err
	}
	for _, m := range missing {
		res.Processed++
		c, err := o.candidates.Get(ctx, m.CandidateID)
		if err != nil {
			continue
		}
		j, err := o.jobs.Get(ctx, m.JobID)
		if err != nil {
			continue
		}
		dist := pairDistanceKM(c.Point, j.Point)
		if dist == nil {
			continue
		}
		if err := o.matches.SetDistance(ctx, m.ID, *dist); err == nil {
			res.Changed++
		}
	}
	deleted, err := o.matches.DeleteFarUnassessed(ctx, o.cfg.MaxKM)
	if err != nil {
		return res, err
	}
	res.Changed += deleted
	return res, nil
}

// stepPrematch triggers structured pre-match generation for the category.
func (o *Orchestrator) stepPrematch(ctx domain.Context) (StepResult, error) {
	var res StepResult
	batch, err := o.structured.RunBatch(ctx, nil)
	if err != nil {
		return res, err
	}
	res.Processed = batch.JobsProcessed
	res.Changed = batch.Persisted
	if len(batch.Errors) > 0 {
		return res, fmt.Errorf("%d job errors, first: %s", len(batch.Errors), batch.Errors[0])
	}
	return res, nil
}

func joinAddress(postal, city string) string {
	return strings.TrimSpace(postal + " " + city)
}

// roleSetChanged compares the stored role set against the freshly
// classified one, order-insensitively.
func roleSetChanged(c domain.Candidate, roles []string) bool {
	old := map[string]struct{}{}
	if c.Role != domain.RoleNone {
		old[string(c.Role)] = struct{}{}
	}
	for _, r := range c.SecondaryRoles {
		old[strings.ToLower(strings.TrimSpace(r))] = struct{}{}
	}
	fresh := map[string]struct{}{}
	for _, r := range roles {
		fresh[strings.ToLower(strings.TrimSpace(r))] = struct{}{}
	}
	if len(old) != len(fresh) {
		return true
	}
	for k := range fresh {
		if _, ok := old[k]; !ok {
			return true
		}
	}
	return false
}
