package learning

import (
	"github.com/talentbruecke/matchengine/internal/domain"
)

// componentWindow bounds the component-performance aggregation.
const componentWindow = 200

// ComponentPerformance compares a component's average value on good vs bad
// outcomes over the recent window.
type ComponentPerformance struct {
	Component  string  `json:"component"`
	AvgGood    float64 `json:"avg_good"`
	AvgBad     float64 `json:"avg_bad"`
	Separation float64 `json:"separation"`
}

// Stats is the compact learning overview.
type Stats struct {
	TotalFeedback int                     `json:"total_feedback"`
	Good          int                     `json:"good"`
	Bad           int                     `json:"bad"`
	Neutral       int                     `json:"neutral"`
	Stage         string                  `json:"stage"`
	Components    []ComponentPerformance  `json:"components"`
	RuleCounts    map[domain.RuleType]int `json:"rule_counts"`
}

// ExtendedStats adds the drill-down views.
type ExtendedStats struct {
	RejectionReasons map[string]int         `json:"rejection_reasons"`
	CategoryCounts   map[string]int         `json:"category_counts"`
	ChangedWeights   []domain.ScoringWeight `json:"changed_weights"`
	RecentFeedback   []domain.TrainingDatum `json:"recent_feedback"`
}

// Stats aggregates totals, the active stage and the component separation
// table.
func (s *Service) Stats(ctx domain.Context) (Stats, error) {
	counts, err := s.training.CountsByOutcome(ctx)
	if err != nil {
		return Stats{}, err
	}
	total := counts[domain.OutcomeGood] + counts[domain.OutcomeBad] + counts[domain.OutcomeNeutral]

	goods, err := s.training.RecentByOutcome(ctx, domain.OutcomeGood, nil, componentWindow)
	if err != nil {
		return Stats{}, err
	}
	bads, err := s.training.RecentByOutcome(ctx, domain.OutcomeBad, nil, componentWindow)
	if err != nil {
		return Stats{}, err
	}
	weights, err := s.weights.ForCategory(ctx, nil)
	if err != nil {
		return Stats{}, err
	}
	components := make([]ComponentPerformance, 0, len(weights))
	for _, w := range weights {
		avgGood := componentAverage(goods, w.Component)
		avgBad := componentAverage(bads, w.Component)
		components = append(components, ComponentPerformance{
			Component:  w.Component,
			AvgGood:    avgGood,
			AvgBad:     avgBad,
			Separation: avgGood - avgBad,
		})
	}
	ruleCounts, err := s.rules.Counts(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		TotalFeedback: total,
		Good:          counts[domain.OutcomeGood],
		Bad:           counts[domain.OutcomeBad],
		Neutral:       counts[domain.OutcomeNeutral],
		Stage:         StageForCorpus(total),
		Components:    components,
		RuleCounts:    ruleCounts,
	}, nil
}

// ExtendedStats returns the drill-down analytics.
func (s *Service) ExtendedStats(ctx domain.Context) (ExtendedStats, error) {
	rejections, err := s.training.RejectionHistogram(ctx)
	if err != nil {
		return ExtendedStats{}, err
	}
	categories, err := s.training.CategoryCounts(ctx)
	if err != nil {
		return ExtendedStats{}, err
	}
	changed, err := s.weights.Changed(ctx, 50)
	if err != nil {
		return ExtendedStats{}, err
	}
	recent, err := s.training.Recent(ctx, 20)
	if err != nil {
		return ExtendedStats{}, err
	}
	return ExtendedStats{
		RejectionReasons: rejections,
		CategoryCounts:   categories,
		ChangedWeights:   changed,
		RecentFeedback:   recent,
	}, nil
}

// ResetWeights restores every selector to its defaults.
func (s *Service) ResetWeights(ctx domain.Context) error {
	return s.weights.ResetAll(ctx)
}
