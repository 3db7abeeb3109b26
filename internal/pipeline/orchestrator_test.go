package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentbruecke/matchengine/internal/domain"
	"github.com/talentbruecke/matchengine/internal/scoring"
)

func newOrchestratorFixture() (*Orchestrator, *fakeCandidates, *fakeJobs, *fakeMatches, *fakeClassifier) {
	candidates := newFakeCandidates()
	jobs := newFakeJobs()
	matches := newFakeMatches()
	classifier := &fakeClassifier{roles: map[string][]string{}}
	geocoder := &fakeGeocoder{pts: map[string]orb.Point{
		"20095 Hamburg": {9.993, 53.551},
		"22145 Hamburg": {10.05, 53.58},
		"10115 Berlin":  {13.388, 52.532},
	}}
	registry := NewRegistry()
	structured := NewStructured(candidates, jobs, matches,
		scoring.NewWeightSource(&fakeWeights{}), &fakeRules{}, registry,
		StructuredConfig{MaxDistanceKM: 60, Category: "FINANCE"})

	o := NewOrchestrator(candidates, jobs, matches, geocoder, classifier, structured, registry,
		OrchestratorConfig{Category: "FINANCE", MaxKM: 25})
	return o, candidates, jobs, matches, classifier
}

func TestOrchestratorRunsAllSteps(t *testing.T) {
	o, candidates, jobs, matches, classifier := newOrchestratorFixture()

	// Step 1 input: one candidate and one job without coordinates.
	noCoords := testCandidate("c-geo", domain.RoleFinanzbuchhalter, 3)
	noCoords.Point = nil
	candidates.missing = []domain.Candidate{noCoords}
	jobNoCoords := testJob("j-geo", domain.RoleFinanzbuchhalter)
	jobNoCoords.Point = nil
	jobNoCoords.PostalCode, jobNoCoords.City = "10115", "Berlin"
	jobs.missing = []domain.Job{jobNoCoords}

	// Step 2 input: stale categorization on both sides.
	candidates.staleCat = []domain.Candidate{testCandidate("c-cat", domain.RoleBuchhalter, 2)}
	jobs.staleCat = []domain.Job{testJob("j-cat", domain.RoleBuchhalter)}

	// Step 3 input: one candidate whose role set changes, one stable.
	changing := testCandidate("c-change", domain.RoleFinanzbuchhalter, 3)
	stable := testCandidate("c-stable", domain.RoleFinanzbuchhalter, 3)
	candidates.staleClass = []domain.Candidate{changing, stable}
	classifier.roles["c-change"] = []string{"bilanzbuchhalter"}
	classifier.roles["c-stable"] = []string{"finanzbuchhalter"}

	// Step 4 input: an old match of the changing candidate.
	_, err := matches.Upsert(context.Background(), domain.MatchUpsert{
		JobID: "j-old", CandidateID: "c-change", Method: domain.MethodStructuredV2,
	})
	require.NoError(t, err)

	// Step 5 input: a match missing its distance, endpoints known.
	mc := testCandidate("c-dist", domain.RoleFinanzbuchhalter, 3)
	mj := testJob("j-dist", domain.RoleFinanzbuchhalter)
	candidates.byID[mc.ID] = mc
	jobs.byID[mj.ID] = mj
	matches.missing = []domain.Match{{ID: "m-dist", JobID: "j-dist", CandidateID: "c-dist"}}
	matches.farDeleted = 2

	report, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Steps, 6)
	for _, s := range report.Steps {
		assert.Empty(t, s.Error, "step %s", s.Name)
	}

	geocode := report.Steps[0]
	assert.Equal(t, "geocode", geocode.Name)
	assert.Equal(t, 2, geocode.Processed)
	assert.Equal(t, 2, geocode.Changed)
	assert.Contains(t, candidates.points, "c-geo")
	assert.Equal(t, orb.Point{13.388, 52.532}, jobs.points["j-geo"])

	categorize := report.Steps[1]
	assert.Equal(t, 2, categorize.Processed)
	assert.Equal(t, []string{"c-cat"}, candidates.categorized)
	assert.Equal(t, []string{"j-cat"}, jobs.categorized)

	classify := report.Steps[2]
	assert.Equal(t, 2, classify.Processed)
	assert.Equal(t, 1, classify.Changed)
	assert.Equal(t, []string{"bilanzbuchhalter"}, candidates.classified["c-change"])

	purge := report.Steps[3]
	assert.Equal(t, 1, purge.Processed)
	assert.Equal(t, 1, purge.Changed)
	require.Len(t, matches.deleted, 1)
	assert.Equal(t, []string{"c-change"}, matches.deleted[0])

	distance := report.Steps[4]
	assert.Equal(t, 1, distance.Processed)
	assert.Equal(t, 3, distance.Changed, "one distance set plus two far matches purged")
	km, ok := matches.distances["m-dist"]
	require.True(t, ok)
	assert.InDelta(t, 5.0, km, 2.0)
	require.Len(t, matches.farMaxKM, 1)
	assert.Equal(t, 25.0, matches.farMaxKM[0])

	assert.Equal(t, "prematch", report.Steps[5].Name)
	assert.False(t, report.FinishedAt.Before(report.StartedAt))
}

func TestOrchestratorStepFailureDoesNotAbort(t *testing.T) {
	o, candidates, _, _, _ := newOrchestratorFixture()
	candidates.missingErr = errors.New("db down")

	report, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Steps, 6)

	assert.Equal(t, "geocode", report.Steps[0].Name)
	assert.Contains(t, report.Steps[0].Error, "db down")
	for _, s := range report.Steps[1:] {
		assert.Empty(t, s.Error, "step %s", s.Name)
	}
	assert.Equal(t, "prematch", report.Steps[5].Name)
}

func TestOrchestratorSingleInstance(t *testing.T) {
	o, _, _, _, _ := newOrchestratorFixture()
	require.NoError(t, o.status.Acquire(KindOrchestrator))
	defer o.status.Release(KindOrchestrator)

	_, err := o.Run(context.Background())
	require.ErrorIs(t, err, domain.ErrAlreadyRunning)
}

func TestRoleSetChanged(t *testing.T) {
	c := testCandidate("c-1", domain.RoleFinanzbuchhalter, 3)
	assert.False(t, roleSetChanged(c, []string{"finanzbuchhalter"}))
	assert.True(t, roleSetChanged(c, []string{"bilanzbuchhalter"}))
	assert.True(t, roleSetChanged(c, []string{"finanzbuchhalter", "lohnbuchhalter"}))

	c.SecondaryRoles = []string{"buchhalter"}
	assert.False(t, roleSetChanged(c, []string{"Buchhalter", "finanzbuchhalter"}))
}
