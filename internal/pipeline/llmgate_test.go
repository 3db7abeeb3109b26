package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentbruecke/matchengine/internal/domain"
)

const passingVerdict = `{
	"score": 0.82,
	"explanation": "Langjaehrige Erfahrung in der Finanzbuchhaltung mit DATEV.",
	"strengths": ["DATEV", "Monatsabschluss"],
	"weaknesses": ["Keine Konzernerfahrung"],
	"risks": [],
	"recommendation": "vorstellen",
	"wow": false,
	"wow_reason": ""
}`

const failingVerdict = `{
	"score": 0.3,
	"explanation": "Profil passt fachlich nur am Rand.",
	"strengths": [],
	"weaknesses": ["Kaum Buchhaltungserfahrung"],
	"risks": [],
	"recommendation": "nicht_passend",
	"wow": false,
	"wow_reason": ""
}`

func newGateFixture(chat domain.ChatClient) (*LLMGate, *fakeCandidates, *fakeJobs, *fakeMatches) {
	job := testJob("j-1", domain.RoleFinanzbuchhalter)
	cand := testCandidate("c-1", domain.RoleFinanzbuchhalter, 3)
	dist := 12.0

	candidates := newFakeCandidates(cand)
	candidates.near = []domain.CandidateDistance{{Candidate: cand, DistanceKM: &dist}}
	jobs := newFakeJobs(job)
	matches := newFakeMatches()

	p := NewLLMGate(candidates, jobs, matches, chat, NewRegistry(), LLMGateConfig{
		GateDistanceKM:   30,
		ScoreMin:         0.5,
		Concurrency:      2,
		Category:         "FINANCE",
		InputUSDPerMTok:  0.15,
		OutputUSDPerMTok: 0.60,
	})
	return p, candidates, jobs, matches
}

func TestLLMGatePersistsAboveThreshold(t *testing.T) {
	chat := &fakeChat{reply: passingVerdict}
	p, _, _, matches := newGateFixture(chat)

	res, err := p.RunForJob(context.Background(), "j-1")
	require.NoError(t, err)

	assert.Equal(t, 1, res.Considered)
	assert.Equal(t, 1, res.Persisted)
	assert.Zero(t, res.BelowMin)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 100, res.InputTokens)
	assert.Equal(t, 50, res.OutputTokens)
	assert.Greater(t, res.CostUSD, 0.0)

	m, err := matches.GetByPair(context.Background(), "j-1", "c-1")
	require.NoError(t, err)
	assert.Equal(t, domain.MethodPipelineV3, m.Method)
	assert.Equal(t, domain.MatchAIChecked, m.Status)
	assert.InDelta(t, 0.82, m.AIScore, 0.001)
	require.NotNil(t, m.PreScore)
	assert.InDelta(t, 82.0, *m.PreScore, 0.001)
	assert.Equal(t, "vorstellen", m.AIRecommendation)
}

func TestLLMGateDiscardsBelowThreshold(t *testing.T) {
	chat := &fakeChat{reply: failingVerdict}
	p, _, _, matches := newGateFixture(chat)

	res, err := p.RunForJob(context.Background(), "j-1")
	require.NoError(t, err)

	assert.Equal(t, 1, res.BelowMin)
	assert.Zero(t, res.Persisted)
	assert.Empty(t, matches.saved())
}

func TestLLMGateMissingKeyDegradesGracefully(t *testing.T) {
	chat := &fakeChat{err: domain.ErrNoAPIKey}
	p, _, _, matches := newGateFixture(chat)

	res, err := p.RunForJob(context.Background(), "j-1")
	require.NoError(t, err)

	assert.Empty(t, res.Errors, "a missing credential is not an error")
	assert.Zero(t, res.Persisted)
	assert.Empty(t, matches.saved())

	batch, err := p.RunBatch(context.Background(), []string{"j-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, batch.JobsProcessed)
	assert.Zero(t, batch.JobsMatched)
	assert.Empty(t, batch.Errors)
}

func TestLLMGateRejectsLowQualityJob(t *testing.T) {
	chat := &fakeChat{reply: passingVerdict}
	p, _, jobs, _ := newGateFixture(chat)
	low := testJob("j-low", domain.RoleFinanzbuchhalter)
	low.Quality = domain.QualityLow
	jobs.byID["j-low"] = low

	res, err := p.RunForJob(context.Background(), "j-low")
	require.NoError(t, err)

	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "quality low")
	assert.Zero(t, res.Considered)
	assert.Zero(t, chat.callCount(), "gated jobs must not spend LLM calls")
}

func TestLLMGateRejectsUnclassifiedJob(t *testing.T) {
	chat := &fakeChat{reply: passingVerdict}
	p, _, jobs, _ := newGateFixture(chat)
	bare := testJob("j-bare", domain.RoleFinanzbuchhalter)
	bare.Classification = nil
	jobs.byID["j-bare"] = bare

	res, err := p.RunForJob(context.Background(), "j-bare")
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Zero(t, chat.callCount())
}

func TestLLMGateReverseMode(t *testing.T) {
	chat := &fakeChat{reply: passingVerdict}
	p, candidates, jobs, matches := newGateFixture(chat)
	jobs.near = []domain.Job{jobs.byID["j-1"]}
	cand, err := candidates.Get(context.Background(), "c-1")
	require.NoError(t, err)

	res, err := p.RunForCandidate(context.Background(), cand.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Considered)
	assert.Equal(t, 1, res.Persisted)
	m, err := matches.GetByPair(context.Background(), "j-1", "c-1")
	require.NoError(t, err)
	assert.Equal(t, domain.MethodPipelineV3, m.Method)
}

func TestLLMGateReverseModeSkipsHiddenCandidate(t *testing.T) {
	chat := &fakeChat{reply: passingVerdict}
	p, candidates, _, _ := newGateFixture(chat)
	hidden := testCandidate("c-hidden", domain.RoleFinanzbuchhalter, 3)
	hidden.Hidden = true
	candidates.byID["c-hidden"] = hidden

	res, err := p.RunForCandidate(context.Background(), "c-hidden")
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Zero(t, chat.callCount())
}

func TestLLMGateBatchSingleInstance(t *testing.T) {
	p, _, _, _ := newGateFixture(&fakeChat{reply: passingVerdict})
	require.NoError(t, p.status.Acquire(KindLLMGate))
	defer p.status.Release(KindLLMGate)

	_, err := p.RunBatch(context.Background(), []string{"j-1"})
	require.ErrorIs(t, err, domain.ErrAlreadyRunning)
}
