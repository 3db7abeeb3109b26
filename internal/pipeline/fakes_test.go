package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"github.com/talentbruecke/matchengine/internal/domain"
	"github.com/talentbruecke/matchengine/internal/drivetime"
	"github.com/talentbruecke/matchengine/internal/scoring"
)

// Hand-rolled port fakes shared by the pipeline tests.

// jsonRoundtrip stores a breakdown the way the postgres repo does: written
// as JSON, read back as map[string]any with []any slices.
func jsonRoundtrip(b domain.Breakdown) domain.Breakdown {
	if b == nil {
		return nil
	}
	raw, err := json.Marshal(b)
	if err != nil {
		panic(err)
	}
	var out domain.Breakdown
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(err)
	}
	return out
}

type fakeCandidates struct {
	byID       map[string]domain.Candidate
	filtered   []domain.Candidate
	near       []domain.CandidateDistance
	missing    []domain.Candidate
	missingErr error
	staleCat   []domain.Candidate
	staleClass []domain.Candidate

	mu          sync.Mutex
	points      map[string]orb.Point
	categorized []string
	classified  map[string][]string
}

func newFakeCandidates(cands ...domain.Candidate) *fakeCandidates {
	f := &fakeCandidates{
		byID:       map[string]domain.Candidate{},
		points:     map[string]orb.Point{},
		classified: map[string][]string{},
	}
	for _, c := range cands {
		f.byID[c.ID] = c
	}
	return f
}

func (f *fakeCandidates) Get(_ domain.Context, id string) (domain.Candidate, error) {
	c, ok := f.byID[id]
	if !ok {
		return domain.Candidate{}, fmt.Errorf("candidate %s: %w", id, domain.ErrNotFound)
	}
	return c, nil
}

func (f *fakeCandidates) StructuredFilter(_ domain.Context, _ domain.Job, _ domain.StructuredFilterParams) ([]domain.Candidate, error) {
	return f.filtered, nil
}

func (f *fakeCandidates) CompatibleNearJob(_ domain.Context, _ domain.Job, _ []domain.RoleKey, _ float64, _ int) ([]domain.CandidateDistance, error) {
	return f.near, nil
}

func (f *fakeCandidates) MissingCoordinates(_ domain.Context, _ int) ([]domain.Candidate, error) {
	return f.missing, f.missingErr
}

func (f *fakeCandidates) SetPoint(_ domain.Context, id string, pt orb.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points[id] = pt
	return nil
}

func (f *fakeCandidates) StaleCategorized(_ domain.Context, _ int) ([]domain.Candidate, error) {
	return f.staleCat, nil
}

func (f *fakeCandidates) MarkCategorized(_ domain.Context, id string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.categorized = append(f.categorized, id)
	return nil
}

func (f *fakeCandidates) StaleClassified(_ domain.Context, _ string, _ int) ([]domain.Candidate, error) {
	return f.staleClass, nil
}

func (f *fakeCandidates) MarkClassified(_ domain.Context, id string, roles []string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.classified[id] = roles
	return nil
}

type fakeJobs struct {
	byID     map[string]domain.Job
	eligible []domain.Job
	near     []domain.Job
	missing  []domain.Job
	staleCat []domain.Job

	mu          sync.Mutex
	points      map[string]orb.Point
	categorized []string
}

func newFakeJobs(jobs ...domain.Job) *fakeJobs {
	f := &fakeJobs{byID: map[string]domain.Job{}, points: map[string]orb.Point{}}
	for _, j := range jobs {
		f.byID[j.ID] = j
	}
	return f
}

func (f *fakeJobs) Get(_ domain.Context, id string) (domain.Job, error) {
	j, ok := f.byID[id]
	if !ok {
		return domain.Job{}, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	return j, nil
}

func (f *fakeJobs) EligibleByCategory(_ domain.Context, _ string, _ domain.MatchMethod, _ int) ([]domain.Job, error) {
	return f.eligible, nil
}

func (f *fakeJobs) NearCandidate(_ domain.Context, _ domain.Candidate, _ []domain.RoleKey, _ float64, _ int) ([]domain.Job, error) {
	return f.near, nil
}

func (f *fakeJobs) MissingCoordinates(_ domain.Context, _ int) ([]domain.Job, error) {
	return f.missing, nil
}

func (f *fakeJobs) SetPoint(_ domain.Context, id string, pt orb.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points[id] = pt
	return nil
}

func (f *fakeJobs) StaleCategorized(_ domain.Context, _ int) ([]domain.Job, error) {
	return f.staleCat, nil
}

func (f *fakeJobs) MarkCategorized(_ domain.Context, id string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.categorized = append(f.categorized, id)
	return nil
}

type fakeMatches struct {
	mu         sync.Mutex
	seq        int
	byPair     map[string]domain.Match
	assessed   map[string]domain.AssessmentUpdate
	driveTimes map[string][2]int
	geoPairs   []domain.GeoPair
	geoErr     error
	deleted    [][]string
	missing    []domain.Match
	distances  map[string]float64
	farDeleted int
	farMaxKM   []float64
}

func newFakeMatches() *fakeMatches {
	return &fakeMatches{
		byPair:     map[string]domain.Match{},
		assessed:   map[string]domain.AssessmentUpdate{},
		driveTimes: map[string][2]int{},
		distances:  map[string]float64{},
	}
}

func matchKey(jobID, candidateID string) string { return jobID + "|" + candidateID }

func (f *fakeMatches) Get(_ domain.Context, id string) (domain.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.byPair {
		if m.ID == id {
			return m, nil
		}
	}
	return domain.Match{}, fmt.Errorf("match %s: %w", id, domain.ErrNotFound)
}

func (f *fakeMatches) GetByPair(_ domain.Context, jobID, candidateID string) (domain.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byPair[matchKey(jobID, candidateID)]
	if !ok {
		return domain.Match{}, fmt.Errorf("pair %s/%s: %w", jobID, candidateID, domain.ErrNotFound)
	}
	return m, nil
}

func (f *fakeMatches) Upsert(_ domain.Context, u domain.MatchUpsert) (domain.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := matchKey(u.JobID, u.CandidateID)
	m, ok := f.byPair[key]
	if !ok {
		f.seq++
		m = domain.Match{
			ID:          fmt.Sprintf("m-%d", f.seq),
			JobID:       u.JobID,
			CandidateID: u.CandidateID,
			Status:      domain.MatchNew,
			CreatedAt:   time.Now().UTC(),
		}
	}
	m.Score = u.Score
	m.AIScore = u.AIScore
	m.PreScore = u.PreScore
	m.Breakdown = jsonRoundtrip(u.Breakdown)
	if u.DistanceKM != nil {
		m.DistanceKM = u.DistanceKM
	}
	m.Method = u.Method
	now := time.Now().UTC()
	m.MatchedAt = &now
	f.byPair[key] = m
	return m, nil
}

func (f *fakeMatches) UpsertAssessment(_ domain.Context, jobID, candidateID string, method domain.MatchMethod, distanceKM *float64, a domain.AssessmentUpdate) (domain.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := matchKey(jobID, candidateID)
	m, ok := f.byPair[key]
	if !ok {
		f.seq++
		m = domain.Match{ID: fmt.Sprintf("m-%d", f.seq), JobID: jobID, CandidateID: candidateID, Status: domain.MatchNew}
	}
	if m.Status == domain.MatchNew {
		m.Status = domain.MatchAIChecked
	}
	m.Method = method
	if distanceKM != nil {
		m.DistanceKM = distanceKM
	}
	m.AIScore = a.AIScore
	pre := a.PreScore
	m.PreScore = &pre
	m.AIExplanation = a.Explanation
	m.AIRecommendation = a.Recommendation
	f.byPair[key] = m
	f.assessed[key] = a
	return m, nil
}

func (f *fakeMatches) UpdateDriveTime(_ domain.Context, jobID, candidateID string, carMin, transitMin *int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.driveTimes[matchKey(jobID, candidateID)] = [2]int{*carMin, *transitMin}
	return nil
}

func (f *fakeMatches) UpdateFeedback(_ domain.Context, id string, feedback, note, rejectionReason string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, m := range f.byPair {
		if m.ID == id {
			m.UserFeedback = feedback
			m.FeedbackNote = note
			m.RejectionReason = rejectionReason
			m.FeedbackAt = &at
			f.byPair[k] = m
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeMatches) EligiblePairsWithin(_ domain.Context, _ float64, _ domain.MatchMethod) ([]domain.GeoPair, error) {
	return f.geoPairs, f.geoErr
}

func (f *fakeMatches) DeleteByCandidates(_ domain.Context, candidateIDs []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, candidateIDs)
	n := 0
	for key, m := range f.byPair {
		for _, id := range candidateIDs {
			if m.CandidateID == id {
				delete(f.byPair, key)
				n++
				break
			}
		}
	}
	return n, nil
}

func (f *fakeMatches) DeleteByMethod(_ domain.Context, method domain.MatchMethod) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for key, m := range f.byPair {
		if m.Method == method {
			delete(f.byPair, key)
			n++
		}
	}
	return n, nil
}

func (f *fakeMatches) MissingDistance(_ domain.Context, _ int) ([]domain.Match, error) {
	return f.missing, nil
}

func (f *fakeMatches) SetDistance(_ domain.Context, id string, km float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.distances[id] = km
	return nil
}

func (f *fakeMatches) DeleteFarUnassessed(_ domain.Context, maxKM float64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.farMaxKM = append(f.farMaxKM, maxKM)
	return f.farDeleted, nil
}

func (f *fakeMatches) saved() []domain.Match {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Match, 0, len(f.byPair))
	for _, m := range f.byPair {
		out = append(out, m)
	}
	return out
}

type fakeRules struct {
	rules []domain.LearnedRule
}

func (f *fakeRules) Active(_ domain.Context, _ domain.RuleType) ([]domain.LearnedRule, error) {
	return f.rules, nil
}

func (f *fakeRules) Counts(_ domain.Context) (map[domain.RuleType]int, error) {
	out := map[domain.RuleType]int{}
	for _, r := range f.rules {
		out[r.Type]++
	}
	return out, nil
}

// fakeWeights serves the factory defaults as global rows.
type fakeWeights struct {
	mu     sync.Mutex
	copies []string
}

func (f *fakeWeights) ForCategory(_ domain.Context, _ *string) ([]domain.ScoringWeight, error) {
	var rows []domain.ScoringWeight
	for comp, w := range scoring.DefaultWeights() {
		rows = append(rows, domain.ScoringWeight{Component: comp, Weight: w, DefaultWeight: w})
	}
	return rows, nil
}

func (f *fakeWeights) CopyGlobalToCategory(_ domain.Context, category string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copies = append(f.copies, category)
	return nil
}

func (f *fakeWeights) SaveAll(_ domain.Context, _ *string, _ []domain.ScoringWeight) error {
	return nil
}

func (f *fakeWeights) ResetAll(_ domain.Context) error { return nil }

func (f *fakeWeights) Changed(_ domain.Context, _ int) ([]domain.ScoringWeight, error) {
	return nil, nil
}

type fakeChat struct {
	mu    sync.Mutex
	calls int
	reply string
	err   error
}

func (f *fakeChat) ChatJSON(_ domain.Context, _, _ string, _ int, _ float64) (string, domain.ChatUsage, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return "", domain.ChatUsage{}, f.err
	}
	return f.reply, domain.ChatUsage{InputTokens: 100, OutputTokens: 50}, nil
}

func (f *fakeChat) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeNotifier) Send(_ domain.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeNotifier) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

// fakeMatrix answers every destination with fixed durations.
type fakeMatrix struct {
	carSec     int
	transitSec int
}

func (f *fakeMatrix) Route(_ context.Context, _ orb.Point, dests []orb.Point, mode string, _ *time.Time) ([]drivetime.Element, error) {
	out := make([]drivetime.Element, len(dests))
	sec := f.carSec
	if mode == drivetime.ModeTransit {
		sec = f.transitSec
	}
	for i := range dests {
		out[i] = drivetime.Element{DurationSec: sec, DistanceMeters: 12000, Status: "OK"}
	}
	return out, nil
}

type fakeGeocoder struct {
	pts map[string]orb.Point
}

func (f *fakeGeocoder) Lookup(_ domain.Context, address string) (orb.Point, bool, error) {
	pt, ok := f.pts[address]
	return pt, ok, nil
}

type fakeClassifier struct {
	mu          sync.Mutex
	roles       map[string][]string
	categorized []string
}

func (f *fakeClassifier) CategorizeCandidate(_ domain.Context, c domain.Candidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.categorized = append(f.categorized, c.ID)
	return nil
}

func (f *fakeClassifier) CategorizeJob(_ domain.Context, j domain.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.categorized = append(f.categorized, j.ID)
	return nil
}

func (f *fakeClassifier) ClassifyRoles(_ domain.Context, c domain.Candidate) ([]string, error) {
	return f.roles[c.ID], nil
}

// Fixtures. Coordinates are around Hamburg.

func hamburgPoint() *orb.Point {
	pt := orb.Point{9.993, 53.551}
	return &pt
}

func nearbyPoint() *orb.Point {
	pt := orb.Point{10.05, 53.58}
	return &pt
}

func testJob(id string, role domain.RoleKey) domain.Job {
	created := time.Now().UTC().Add(-24 * time.Hour)
	return domain.Job{
		ID:             id,
		Point:          hamburgPoint(),
		PostalCode:     "20095",
		City:           "Hamburg",
		Category:       "FINANCE",
		Title:          "Finanzbuchhalter (m/w/d)",
		Role:           role,
		Classification: map[string]any{"role": string(role)},
		Quality:        domain.QualityHigh,
		RequiredSkills: []domain.StructuredSkill{
			{Skill: "DATEV", Importance: domain.ImportanceEssential},
			{Skill: "Monatsabschluss", Importance: domain.ImportanceEssential},
		},
		SeniorityLevel:   3,
		ProfileCreatedAt: &created,
	}
}

func testCandidate(id string, role domain.RoleKey, level int) domain.Candidate {
	now := time.Now().UTC()
	return domain.Candidate{
		ID:             id,
		Point:          nearbyPoint(),
		PostalCode:     "22145",
		City:           "Hamburg",
		Category:       "FINANCE",
		Role:           role,
		Classification: map[string]any{"role": string(role)},
		StructuredSkills: []domain.StructuredSkill{
			{Skill: "DATEV", Importance: domain.ImportanceEssential, Recency: domain.RecencyCurrent, Proficiency: domain.ProficiencyAdvanced},
			{Skill: "Monatsabschluss", Importance: domain.ImportanceEssential, Recency: domain.RecencyCurrent},
		},
		ITSkills:        []string{"DATEV", "Excel"},
		SeniorityLevel:  level,
		Trajectory:      domain.TrajectoryLateral,
		YearsExperience: 8,
		CurrentRole:     "Finanzbuchhalter",
		ClassifiedAt:    &now,
	}
}
