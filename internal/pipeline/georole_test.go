package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentbruecke/matchengine/internal/domain"
	"github.com/talentbruecke/matchengine/internal/drivetime"
)

func geoPair(jobID, candidateID string, candidateRoles, jobRoles []string) domain.GeoPair {
	return domain.GeoPair{
		CandidateID:    candidateID,
		JobID:          jobID,
		CandidatePoint: *nearbyPoint(),
		JobPoint:       *hamburgPoint(),
		CandidatePLZ:   "22145",
		JobPLZ:         "20095",
		DistanceKM:     5.4,
		CandidateRoles: candidateRoles,
		JobRoles:       jobRoles,
	}
}

func testDriveService() *drivetime.Service {
	// 1500s driving and 1560s transit round to 25 and 26 minutes.
	return drivetime.New(&fakeMatrix{carSec: 1500, transitSec: 1560}, drivetime.NewMemoryCache(), false,
		drivetime.WithSleep(func(time.Duration) {}))
}

func newGeoRoleFixture(matches *fakeMatches, assess domain.ChatClient) (*GeoRole, *fakeNotifier, *Registry) {
	notify := &fakeNotifier{}
	registry := NewRegistry()
	g := NewGeoRole(matches, testDriveService(), notify, assess, registry, GeoRoleConfig{
		RadiusKM:            27,
		NotifyMaxCarMin:     60,
		NotifyMaxTransitMin: 30,
	})
	return g, notify, registry
}

func waitForSnapshot(t *testing.T, g *GeoRole, pred func(map[string]any) bool) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap := g.Status()
		if pred(snap) {
			return snap
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("snapshot condition not reached, last: %v", g.Status())
	return nil
}

func waitForIdle(t *testing.T, registry *Registry) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !registry.Running(KindGeoRole) {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("runner did not release its slot")
}

func TestGeoRoleRunPersistsAndNotifies(t *testing.T) {
	matches := newFakeMatches()
	matches.geoPairs = []domain.GeoPair{
		geoPair("j-1", "c-1", []string{"Finanzbuchhalter/in"}, []string{"Finanzbuchhalter/in"}),
		geoPair("j-1", "c-2", []string{"Lohnbuchhalter/in"}, []string{"Finanzbuchhalter/in"}),
	}
	g, notify, registry := newGeoRoleFixture(matches, nil)

	require.NoError(t, g.Start(context.Background()))
	snap := waitForSnapshot(t, g, func(s map[string]any) bool { return s["phase"] == PhaseDone })
	waitForIdle(t, registry)

	assert.Equal(t, "ok", snap["outcome"])
	assert.Equal(t, 2, snap["geo_pairs_found"])
	assert.Equal(t, 1, snap["role_matches"])
	assert.Equal(t, 1, snap["matches_saved"])
	assert.Equal(t, 1, snap["notifications_sent"])

	m, err := matches.GetByPair(context.Background(), "j-1", "c-1")
	require.NoError(t, err)
	assert.Equal(t, domain.MethodV5RoleGeo, m.Method)
	require.NotNil(t, m.DistanceKM)
	assert.InDelta(t, 5.4, *m.DistanceKM, 0.001)
	assert.Equal(t, []any{"Finanzbuchhalter/in"}, m.Breakdown["matched_roles"],
		"stored breakdown reads back as generic JSON values")

	drive, ok := matches.driveTimes[matchKey("j-1", "c-1")]
	require.True(t, ok)
	assert.Equal(t, [2]int{25, 26}, drive)

	texts := notify.sent()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "c-1")
	assert.Contains(t, texts[0], "j-1")

	_, err = matches.GetByPair(context.Background(), "j-1", "c-2")
	assert.ErrorIs(t, err, domain.ErrNotFound, "role-incompatible pair must not be persisted")
}

func TestGeoRoleSkipsNotificationAboveTransitLimit(t *testing.T) {
	matches := newFakeMatches()
	matches.geoPairs = []domain.GeoPair{
		geoPair("j-1", "c-1", []string{"Finanzbuchhalter/in"}, []string{"Finanzbuchhalter/in"}),
	}
	notify := &fakeNotifier{}
	registry := NewRegistry()
	// 2700s transit rounds to 45 minutes, above the 30 minute limit.
	drive := drivetime.New(&fakeMatrix{carSec: 1500, transitSec: 2700}, drivetime.NewMemoryCache(), false,
		drivetime.WithSleep(func(time.Duration) {}))
	g := NewGeoRole(matches, drive, notify, nil, registry, GeoRoleConfig{
		RadiusKM:            27,
		NotifyMaxCarMin:     60,
		NotifyMaxTransitMin: 30,
	})

	require.NoError(t, g.Start(context.Background()))
	snap := waitForSnapshot(t, g, func(s map[string]any) bool { return s["phase"] == PhaseDone })
	waitForIdle(t, registry)

	assert.Equal(t, 1, snap["matches_saved"])
	assert.Empty(t, notify.sent())
}

func TestGeoRolePauseAndContinue(t *testing.T) {
	matches := newFakeMatches()
	matches.geoPairs = []domain.GeoPair{
		geoPair("j-1", "c-1", []string{"Finanzbuchhalter/in"}, []string{"Finanzbuchhalter/in"}),
	}
	g, _, registry := newGeoRoleFixture(matches, nil)

	g.RequestPause()
	require.NoError(t, g.Start(context.Background()))

	snap := waitForSnapshot(t, g, func(s map[string]any) bool {
		return s["phase"] == PhaseGeoFilter+"_done" && s["waiting_for_continue"] == true
	})
	assert.Equal(t, 1, snap["geo_pairs_found"])
	assert.Nil(t, snap["matches_saved"], "nothing may be persisted while paused after the geo filter")
	assert.Empty(t, matches.saved())

	g.ResumeMode()
	g.Continue()

	snap = waitForSnapshot(t, g, func(s map[string]any) bool { return s["phase"] == PhaseDone })
	waitForIdle(t, registry)
	assert.Equal(t, "ok", snap["outcome"])
	assert.Equal(t, 1, snap["matches_saved"])
	require.Len(t, matches.saved(), 1)
}

func TestGeoRoleStopWhilePaused(t *testing.T) {
	matches := newFakeMatches()
	matches.geoPairs = []domain.GeoPair{
		geoPair("j-1", "c-1", []string{"Finanzbuchhalter/in"}, []string{"Finanzbuchhalter/in"}),
	}
	g, _, registry := newGeoRoleFixture(matches, nil)

	g.RequestPause()
	require.NoError(t, g.Start(context.Background()))
	waitForSnapshot(t, g, func(s map[string]any) bool {
		return s["phase"] == PhaseGeoFilter+"_done" && s["waiting_for_continue"] == true
	})

	g.Stop()
	snap := waitForSnapshot(t, g, func(s map[string]any) bool { return s["phase"] == PhaseDone })
	waitForIdle(t, registry)

	assert.Equal(t, "stopped", snap["outcome"])
	assert.Empty(t, matches.saved())
}

func TestGeoRoleSecondStartRejected(t *testing.T) {
	matches := newFakeMatches()
	matches.geoPairs = []domain.GeoPair{
		geoPair("j-1", "c-1", []string{"Finanzbuchhalter/in"}, []string{"Finanzbuchhalter/in"}),
	}
	g, _, registry := newGeoRoleFixture(matches, nil)

	g.RequestPause()
	require.NoError(t, g.Start(context.Background()))
	waitForSnapshot(t, g, func(s map[string]any) bool { return s["waiting_for_continue"] == true })

	err := g.Start(context.Background())
	require.ErrorIs(t, err, domain.ErrAlreadyRunning)

	g.Stop()
	waitForIdle(t, registry)
}

func TestGeoRoleGeoFilterErrorFinishesRun(t *testing.T) {
	matches := newFakeMatches()
	matches.geoErr = errors.New("db unavailable")
	g, _, registry := newGeoRoleFixture(matches, nil)

	require.NoError(t, g.Start(context.Background()))
	snap := waitForSnapshot(t, g, func(s map[string]any) bool { return s["phase"] == PhaseDone })
	waitForIdle(t, registry)

	assert.Equal(t, "error", snap["outcome"])
	assert.Equal(t, 1, snap["errors"])
}

func TestGeoRoleAssessmentStep(t *testing.T) {
	matches := newFakeMatches()
	matches.geoPairs = []domain.GeoPair{
		geoPair("j-1", "c-1", []string{"Finanzbuchhalter/in"}, []string{"Finanzbuchhalter/in"}),
	}
	chat := &fakeChat{reply: passingVerdict}
	g, _, registry := newGeoRoleFixture(matches, chat)

	require.NoError(t, g.Start(context.Background()))
	snap := waitForSnapshot(t, g, func(s map[string]any) bool { return s["phase"] == PhaseDone })
	waitForIdle(t, registry)

	assert.Equal(t, 1, snap["assessed"])
	assert.Equal(t, 1, chat.callCount())

	m, err := matches.GetByPair(context.Background(), "j-1", "c-1")
	require.NoError(t, err)
	assert.Equal(t, domain.MatchAIChecked, m.Status)
	assert.InDelta(t, 0.82, m.AIScore, 0.001)
}

func TestGeoRoleFallsBackToCompatibilityRules(t *testing.T) {
	// No shared label, but bilanzbuchhalter may serve finanzbuchhalter jobs.
	matched := matchRoleLabels([]string{"Bilanzbuchhalter/in"}, []string{"Finanzbuchhalter/in"})
	require.Len(t, matched, 1)
	assert.Equal(t, "Finanzbuchhalter/in", matched[0])

	assert.Empty(t, matchRoleLabels([]string{"Lohnbuchhalter/in"}, []string{"Finanzbuchhalter/in"}))
}

func TestMatchRoleLabelsIgnoresEmptyLabels(t *testing.T) {
	assert.Empty(t, matchRoleLabels([]string{""}, []string{""}))
	assert.Empty(t, matchRoleLabels([]string{"  "}, []string{" "}))
	assert.Empty(t, matchRoleLabels([]string{"", "Lohnbuchhalter/in"}, []string{""}))

	matched := matchRoleLabels([]string{"", "Finanzbuchhalter/in"}, []string{"Finanzbuchhalter/in", ""})
	assert.Equal(t, []string{"Finanzbuchhalter/in"}, matched)
}

func TestGeoRoleSkipsUnclassifiedPairs(t *testing.T) {
	// Both sides within radius but never classified: role arrays carry only
	// the empty main-role label.
	matches := newFakeMatches()
	matches.geoPairs = []domain.GeoPair{
		geoPair("j-1", "c-1", []string{""}, []string{""}),
	}
	g, notify, registry := newGeoRoleFixture(matches, nil)

	require.NoError(t, g.Start(context.Background()))
	snap := waitForSnapshot(t, g, func(s map[string]any) bool { return s["phase"] == PhaseDone })
	waitForIdle(t, registry)

	assert.Equal(t, 1, snap["geo_pairs_found"])
	assert.Equal(t, 0, snap["role_matches"])
	assert.Empty(t, matches.saved())
	assert.Empty(t, notify.sent())
	_, err := matches.GetByPair(context.Background(), "j-1", "c-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAssessmentPromptReadsStoredBreakdown(t *testing.T) {
	dist := 5.4
	m := domain.Match{
		DistanceKM: &dist,
		Breakdown: jsonRoundtrip(domain.Breakdown{
			"matched_roles": []string{"Finanzbuchhalter/in"},
		}),
	}
	_, user := assessmentPrompt(m)
	assert.Contains(t, user, "Finanzbuchhalter/in")
	assert.Contains(t, user, "5.4 km")
}
