// Package learning turns recruiter feedback into scoring-weight
// adjustments and exposes the learning analytics.
package learning

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/talentbruecke/matchengine/internal/domain"
	"github.com/talentbruecke/matchengine/internal/observability"
)

// Stage labels for the adjustment strategy chosen by corpus size.
const (
	StageColdStart   = "cold_start"
	StageMicro       = "micro_adjustment"
	StageCorrelation = "correlation"
)

// Corpus-size thresholds for stage selection.
const (
	microThreshold       = 20
	correlationThreshold = 80
	correlationWindow    = 500
	correlationMinSide   = 10
)

// Config bounds the adjustment math.
type Config struct {
	MicroRate float64 // micro-adjustment rate per feedback
	WeightMin float64
	WeightMax float64
}

// DefaultConfig mirrors the production tunables.
func DefaultConfig() Config {
	return Config{MicroRate: 0.008, WeightMin: 2, WeightMax: 50}
}

// Service consumes feedback events and maintains the weight store.
type Service struct {
	matches  domain.MatchRepository
	training domain.TrainingRepository
	weights  domain.WeightRepository
	rules    domain.RuleRepository
	cfg      Config
}

// New constructs the learning service.
func New(matches domain.MatchRepository, training domain.TrainingRepository, weights domain.WeightRepository, rules domain.RuleRepository, cfg Config) *Service {
	return &Service{matches: matches, training: training, weights: weights, rules: rules, cfg: cfg}
}

// FeedbackInput is one recruiter verdict on a match.
type FeedbackInput struct {
	MatchID         string
	Feedback        string // one of the domain feedback values
	Note            string
	RejectionReason string
	JobCategory     string
	Source          string
}

// FeedbackResult reports what the intake did.
type FeedbackResult struct {
	TrainingID string         `json:"training_id"`
	Outcome    domain.Outcome `json:"outcome"`
	Stage      string         `json:"stage"`
	Adjusted   bool           `json:"adjusted"`
	CorpusSize int            `json:"corpus_size"`
}

// OutcomeForFeedback maps a raw feedback value onto the training outcome.
func OutcomeForFeedback(feedback string) (domain.Outcome, bool) {
	switch feedback {
	case domain.FeedbackGood, domain.FeedbackPresent:
		return domain.OutcomeGood, true
	case domain.FeedbackBadDistance, domain.FeedbackBadSkills, domain.FeedbackBadSeniority, domain.FeedbackDecline:
		return domain.OutcomeBad, true
	case domain.FeedbackMaybe, domain.FeedbackLater:
		return domain.OutcomeNeutral, true
	}
	return "", false
}

// StageForCorpus returns the strategy label for a corpus of size n.
func StageForCorpus(n int) string {
	switch {
	case n < microThreshold:
		return StageColdStart
	case n < correlationThreshold:
		return StageMicro
	default:
		return StageCorrelation
	}
}

// RecordFeedback snapshots the match breakdown into an append-only training
// row, copies the verdict onto the match, and runs the weight adjustment
// appropriate for the current corpus size.
func (s *Service) RecordFeedback(ctx domain.Context, in FeedbackInput) (FeedbackResult, error) {
	outcome, ok := OutcomeForFeedback(in.Feedback)
	if !ok {
		return FeedbackResult{}, fmt.Errorf("op=learning.record_feedback feedback=%q: %w", in.Feedback, domain.ErrInvalidArgument)
	}

	m, err := s.matches.Get(ctx, in.MatchID)
	if err != nil {
		return FeedbackResult{}, err
	}

	datum := domain.TrainingDatum{
		MatchID:         m.ID,
		Features:        featureSnapshot(m.Breakdown),
		Outcome:         outcome,
		Source:          in.Source,
		RejectionReason: in.RejectionReason,
		JobCategory:     in.JobCategory,
	}
	trainingID, err := s.training.Append(ctx, datum)
	if err != nil {
		return FeedbackResult{}, err
	}
	observability.FeedbackEventsTotal.WithLabelValues(string(outcome)).Inc()

	if m.UserFeedback == "" {
		if err := s.matches.UpdateFeedback(ctx, m.ID, in.Feedback, in.Note, in.RejectionReason, time.Now().UTC()); err != nil {
			return FeedbackResult{}, err
		}
	}

	var category *string
	if in.JobCategory != "" {
		category = &in.JobCategory
	}
	n, err := s.training.Count(ctx, category)
	if err != nil {
		return FeedbackResult{}, err
	}
	stage := StageForCorpus(n)

	adjusted := false
	if stage != StageColdStart && outcome != domain.OutcomeNeutral {
		adjusted, err = s.adjust(ctx, stage, outcome, datum.Features, category)
		if err != nil {
			return FeedbackResult{}, err
		}
	}
	if adjusted {
		observability.WeightAdjustmentsTotal.WithLabelValues(stage).Inc()
	}
	slog.Info("feedback recorded",
		slog.String("match_id", m.ID),
		slog.String("outcome", string(outcome)),
		slog.String("stage", stage),
		slog.Bool("adjusted", adjusted),
		slog.Int("corpus_size", n))

	return FeedbackResult{
		TrainingID: trainingID,
		Outcome:    outcome,
		Stage:      stage,
		Adjusted:   adjusted,
		CorpusSize: n,
	}, nil
}

// featureSnapshot keeps the numeric breakdown entries.
func featureSnapshot(b domain.Breakdown) map[string]float64 {
	out := map[string]float64{}
	for k := range b {
		if v, ok := b.Float(k); ok {
			out[k] = v
		}
	}
	return out
}
