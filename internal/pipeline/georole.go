package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/talentbruecke/matchengine/internal/adapter/ai"
	"github.com/talentbruecke/matchengine/internal/domain"
	"github.com/talentbruecke/matchengine/internal/drivetime"
	"github.com/talentbruecke/matchengine/internal/observability"
)

// Runner phases, published in order.
const (
	PhaseIdle       = "idle"
	PhaseStarting   = "starting"
	PhaseGeoFilter  = "geo_filter"
	PhaseRoleFilter = "role_filter"
	PhaseDriveTime  = "drive_time"
	PhaseSaving     = "saving"
	PhaseTelegram   = "telegram"
	PhaseDone       = "done"
)

// GeoRoleConfig carries the runner tunables.
type GeoRoleConfig struct {
	RadiusKM            float64
	NotifyMaxCarMin     int
	NotifyMaxTransitMin int
	AssessConcurrency   int // parallel assessment calls; 0 disables assessment
}

// GeoRole is the five-phase background runner producing v5_role_geo
// matches. One run at a time; a stop flag is consulted at phase
// boundaries, and a requested pause makes the runner wait for an explicit
// continue at each boundary.
type GeoRole struct {
	matches domain.MatchRepository
	drive   *drivetime.Service
	notify  domain.Notifier
	assess  domain.ChatClient // nil disables the assessment step
	status  *Registry
	cfg     GeoRoleConfig

	mu         sync.Mutex
	phase      string
	waiting    bool
	pauseNext  bool
	stopped    bool
	counters   map[string]int
	continueCh chan struct{}
	stopCh     chan struct{}
}

// NewGeoRole constructs the runner.
func NewGeoRole(matches domain.MatchRepository, drive *drivetime.Service, notify domain.Notifier, assess domain.ChatClient, status *Registry, cfg GeoRoleConfig) *GeoRole {
	if cfg.AssessConcurrency <= 0 {
		cfg.AssessConcurrency = 3
	}
	return &GeoRole{
		matches: matches,
		drive:   drive,
		notify:  notify,
		assess:  assess,
		status:  status,
		cfg:     cfg,
		phase:   PhaseIdle,
	}
}

// Start launches a run in the background. A second start while one is
// active returns ErrAlreadyRunning; the live snapshot stays readable via
// Status.
func (g *GeoRole) Start(ctx context.Context) error {
	if err := g.status.Acquire(KindGeoRole); err != nil {
		return err
	}
	g.mu.Lock()
	g.phase = PhaseStarting
	g.waiting = false
	g.stopped = false
	g.counters = map[string]int{}
	g.continueCh = make(chan struct{}, 1)
	g.stopCh = make(chan struct{})
	g.mu.Unlock()
	g.publish(PhaseStarting)

	go func() {
		defer g.status.Release(KindGeoRole)
		g.run(ctx)
	}()
	return nil
}

// Stop requests a graceful stop at the next phase boundary (or wakes a
// waiting runner).
func (g *GeoRole) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped || g.stopCh == nil {
		g.stopped = true
		return
	}
	g.stopped = true
	close(g.stopCh)
}

// Continue releases a runner waiting at a phase boundary.
func (g *GeoRole) Continue() {
	g.mu.Lock()
	ch := g.continueCh
	g.mu.Unlock()
	if ch != nil {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// RequestPause makes the runner wait for Continue at every following phase
// boundary.
func (g *GeoRole) RequestPause() {
	g.mu.Lock()
	g.pauseNext = true
	g.mu.Unlock()
}

// ResumeMode clears the pause request.
func (g *GeoRole) ResumeMode() {
	g.mu.Lock()
	g.pauseNext = false
	g.mu.Unlock()
}

// Status returns the latest published snapshot.
func (g *GeoRole) Status() map[string]any {
	return g.status.Snapshot(KindGeoRole)
}

func (g *GeoRole) publish(phase string, extra ...map[string]any) {
	g.mu.Lock()
	g.phase = phase
	snap := map[string]any{
		"phase":                phase,
		"waiting_for_continue": g.waiting,
		"stopped":              g.stopped,
	}
	for k, v := range g.counters {
		snap[k] = v
	}
	g.mu.Unlock()
	for _, m := range extra {
		for k, v := range m {
			snap[k] = v
		}
	}
	g.status.Publish(KindGeoRole, snap)
}

func (g *GeoRole) count(key string, delta int) {
	g.mu.Lock()
	g.counters[key] += delta
	g.mu.Unlock()
}

// boundary is consulted after each phase. It returns false when the run
// must terminate. With a pause requested it publishes <phase>_done with
// waiting_for_continue=true and blocks until Continue, Stop or context
// cancellation.
func (g *GeoRole) boundary(ctx context.Context, phase string) bool {
	g.mu.Lock()
	stopped := g.stopped
	pause := g.pauseNext
	g.mu.Unlock()
	if stopped || ctx.Err() != nil {
		return false
	}
	if !pause {
		return true
	}

	g.mu.Lock()
	g.waiting = true
	g.mu.Unlock()
	g.publish(phase + "_done")
	defer func() {
		g.mu.Lock()
		g.waiting = false
		g.mu.Unlock()
	}()
	select {
	case <-g.continueCh:
		return true
	case <-g.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}

// pairMatch is one surviving pair with its matched role labels.
type pairMatch struct {
	pair    domain.GeoPair
	matched []string
	drive   drivetime.Result
}

func (g *GeoRole) run(ctx context.Context) {
	start := time.Now()

	// Phase 1: geo filter.
	g.publish(PhaseGeoFilter)
	pairs, err := g.matches.EligiblePairsWithin(ctx, g.cfg.RadiusKM, domain.MethodV5RoleGeo)
	if err != nil {
		g.count("errors", 1)
		slog.Error("geo filter failed", slog.Any("error", err))
		g.finish(start, "error")
		return
	}
	g.count("geo_pairs_found", len(pairs))
	if !g.boundary(ctx, PhaseGeoFilter) {
		g.finish(start, "stopped")
		return
	}

	// Phase 2: role filter.
	g.publish(PhaseRoleFilter)
	var surviving []pairMatch
	for _, p := range pairs {
		matched := matchRoleLabels(p.CandidateRoles, p.JobRoles)
		if len(matched) == 0 {
			continue
		}
		surviving = append(surviving, pairMatch{pair: p, matched: matched})
	}
	g.count("role_matches", len(surviving))
	if !g.boundary(ctx, PhaseRoleFilter) {
		g.finish(start, "stopped")
		return
	}

	// Phase 3: drive time, batched per job.
	g.publish(PhaseDriveTime)
	byJob := map[string][]int{}
	for i, pm := range surviving {
		byJob[pm.pair.JobID] = append(byJob[pm.pair.JobID], i)
	}
	for _, idxs := range byJob {
		first := surviving[idxs[0]].pair
		batch := make([]drivetime.BatchCandidate, 0, len(idxs))
		for _, i := range idxs {
			batch = append(batch, drivetime.BatchCandidate{
				ID:    surviving[i].pair.CandidateID,
				Point: surviving[i].pair.CandidatePoint,
				PLZ:   surviving[i].pair.CandidatePLZ,
			})
		}
		results := g.drive.BatchDriveTimes(ctx, first.JobPoint, first.JobPLZ, batch)
		for _, i := range idxs {
			surviving[i].drive = results[surviving[i].pair.CandidateID]
		}
		g.count("drive_time_jobs", 1)
	}
	if !g.boundary(ctx, PhaseDriveTime) {
		g.finish(start, "stopped")
		return
	}

	// Phase 4: persist.
	g.publish(PhaseSaving)
	var persisted []domain.Match
	for _, pm := range surviving {
		dist := pm.pair.DistanceKM
		m, err := g.matches.Upsert(ctx, domain.MatchUpsert{
			JobID:       pm.pair.JobID,
			CandidateID: pm.pair.CandidateID,
			Breakdown: domain.Breakdown{
				"matched_roles":   pm.matched,
				"candidate_roles": pm.pair.CandidateRoles,
				"job_roles":       pm.pair.JobRoles,
			},
			DistanceKM: &dist,
			Method:     domain.MethodV5RoleGeo,
		})
		if err != nil {
			g.count("errors", 1)
			continue
		}
		if pm.drive.Status == drivetime.StatusOK || pm.drive.Status == drivetime.StatusSamePLZ {
			car, transit := pm.drive.CarMin, pm.drive.TransitMin
			if err := g.matches.UpdateDriveTime(ctx, pm.pair.JobID, pm.pair.CandidateID, &car, &transit); err != nil {
				g.count("errors", 1)
			}
			m.DriveCarMin, m.DriveTransitMin = &car, &transit
		}
		persisted = append(persisted, m)
		g.count("matches_saved", 1)
		observability.MatchesPersistedTotal.WithLabelValues(string(domain.MethodV5RoleGeo)).Inc()
	}
	if g.assess != nil {
		g.assessMatches(ctx, persisted)
	}
	if !g.boundary(ctx, PhaseSaving) {
		g.finish(start, "stopped")
		return
	}

	// Phase 5: notify.
	g.publish(PhaseTelegram)
	for _, m := range persisted {
		if m.DriveCarMin == nil || m.DriveTransitMin == nil {
			continue
		}
		if *m.DriveCarMin > g.cfg.NotifyMaxCarMin || *m.DriveTransitMin > g.cfg.NotifyMaxTransitMin {
			continue
		}
		text := fmt.Sprintf("Neues Match: Kandidat %s und Stelle %s (%.1f km, Auto %d min, OePNV %d min)",
			m.CandidateID, m.JobID, deref(m.DistanceKM), *m.DriveCarMin, *m.DriveTransitMin)
		if err := g.notify.Send(ctx, text); err != nil {
			g.count("errors", 1)
			continue
		}
		g.count("notifications_sent", 1)
	}
	g.finish(start, "ok")
}

func (g *GeoRole) finish(start time.Time, outcome string) {
	g.publish(PhaseDone, map[string]any{"outcome": outcome})
	observability.PipelineRunsTotal.WithLabelValues(string(KindGeoRole), outcome).Inc()
	observability.PipelineDuration.WithLabelValues(string(KindGeoRole)).Observe(time.Since(start).Seconds())
}

// assessMatches runs the optional LLM assessment over the freshly saved
// matches under a small semaphore.
func (g *GeoRole) assessMatches(ctx context.Context, matches []domain.Match) {
	sem := make(chan struct{}, g.cfg.AssessConcurrency)
	var wg sync.WaitGroup
	for _, m := range matches {
		wg.Add(1)
		go func(m domain.Match) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			system, user := assessmentPrompt(m)
			raw, _, err := g.assess.ChatJSON(ctx, system, user, llmMaxTokens, llmTemperature)
			if err != nil {
				if !errors.Is(err, domain.ErrNoAPIKey) {
					g.count("errors", 1)
				}
				return
			}
			verdict, err := ai.ParseVerdict(raw)
			if err != nil {
				g.count("errors", 1)
				return
			}
			_, err = g.matches.UpsertAssessment(ctx, m.JobID, m.CandidateID, domain.MethodV5RoleGeo, m.DistanceKM, domain.AssessmentUpdate{
				AIScore:        verdict.Score,
				PreScore:       verdict.Score * 100,
				Explanation:    verdict.Explanation,
				Strengths:      verdict.Strengths,
				Weaknesses:     verdict.Weaknesses,
				Recommendation: verdict.Recommendation,
				WowFlag:        verdict.Wow,
				WowReason:      verdict.WowReason,
			})
			if err != nil {
				g.count("errors", 1)
				return
			}
			g.count("assessed", 1)
		}(m)
	}
	wg.Wait()
}

func assessmentPrompt(m domain.Match) (system, user string) {
	system = "Du bewertest kurz die Passung eines bereits geografisch und fachlich vorgefilterten Matches. " +
		"Antworte als JSON mit score (0.0-1.0), explanation, strengths, weaknesses, risks, recommendation."
	// The breakdown comes back from the DB as JSON, so the role list may be
	// []any rather than []string.
	var roles []string
	switch v := m.Breakdown["matched_roles"].(type) {
	case []string:
		roles = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				roles = append(roles, s)
			}
		}
	}
	user = fmt.Sprintf("Match auf Rollenebene: %s. Entfernung: %.1f km.", strings.Join(roles, ", "), deref(m.DistanceKM))
	return system, user
}

// matchRoleLabels intersects the two label lists; when the intersection is
// empty it falls back to the directional compatibility rules on the parsed
// role keys.
func matchRoleLabels(candidateRoles, jobRoles []string) []string {
	// Unclassified entities carry empty labels; those never count as a match.
	seen := map[string]struct{}{}
	for _, c := range candidateRoles {
		norm := strings.ToLower(strings.TrimSpace(c))
		if norm == "" {
			continue
		}
		seen[norm] = struct{}{}
	}
	var matched []string
	for _, j := range jobRoles {
		norm := strings.ToLower(strings.TrimSpace(j))
		if norm == "" {
			continue
		}
		if _, ok := seen[norm]; ok {
			matched = append(matched, j)
		}
	}
	if len(matched) > 0 {
		return matched
	}
	for _, c := range candidateRoles {
		ck := domain.ParseRole(c)
		if ck == domain.RoleNone {
			continue
		}
		for _, j := range jobRoles {
			jk := domain.ParseRole(j)
			if jk == domain.RoleNone {
				continue
			}
			if domain.Roles().Compatible(ck, jk) {
				matched = append(matched, j)
			}
		}
	}
	return matched
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
