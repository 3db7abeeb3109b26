package learning

import (
	"math"
	"time"

	"github.com/talentbruecke/matchengine/internal/domain"
)

// adjust applies the stage-appropriate adjustment to the selector's
// weights. Category selectors are seeded from the global rows on first
// use.
func (s *Service) adjust(ctx domain.Context, stage string, outcome domain.Outcome, features map[string]float64, category *string) (bool, error) {
	if category != nil {
		if err := s.weights.CopyGlobalToCategory(ctx, *category); err != nil {
			return false, err
		}
	}
	weights, err := s.weights.ForCategory(ctx, category)
	if err != nil {
		return false, err
	}
	if len(weights) == 0 {
		return false, nil
	}

	var changed bool
	switch stage {
	case StageMicro:
		changed = s.microAdjust(weights, outcome, features)
	case StageCorrelation:
		changed, err = s.correlationAdjust(ctx, weights, category)
		if err != nil {
			return false, err
		}
	}
	if !changed {
		return false, nil
	}

	s.normalize(weights)
	now := time.Now().UTC()
	for i := range weights {
		weights[i].Adjustments++
		weights[i].AdjustedAt = &now
	}
	if err := s.weights.SaveAll(ctx, category, weights); err != nil {
		return false, err
	}
	return true, nil
}

// microAdjust rewards components scoring above the breakdown mean on good
// outcomes and penalizes them on bad ones.
func (s *Service) microAdjust(weights []domain.ScoringWeight, outcome domain.Outcome, features map[string]float64) bool {
	var sum float64
	var n int
	for _, w := range weights {
		if v, ok := features[w.Component]; ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return false
	}
	mean := sum / float64(n)

	sign := 1.0
	if outcome == domain.OutcomeBad {
		sign = -1.0
	}
	changed := false
	for i := range weights {
		v, ok := features[weights[i].Component]
		if !ok {
			continue
		}
		delta := sign * s.cfg.MicroRate * (v - mean) * weights[i].Weight
		if delta != 0 {
			weights[i].Weight += delta
			changed = true
		}
	}
	return changed
}

// correlationAdjust moves weights 80/20 toward a target proportional to
// each component's separation power over the recent corpus. Requires at
// least correlationMinSide samples on each side; otherwise no adjustment.
func (s *Service) correlationAdjust(ctx domain.Context, weights []domain.ScoringWeight, category *string) (bool, error) {
	goods, err := s.training.RecentByOutcome(ctx, domain.OutcomeGood, category, correlationWindow)
	if err != nil {
		return false, err
	}
	bads, err := s.training.RecentByOutcome(ctx, domain.OutcomeBad, category, correlationWindow)
	if err != nil {
		return false, err
	}
	if len(goods) < correlationMinSide || len(bads) < correlationMinSide {
		return false, nil
	}

	targets := make(map[string]float64, len(weights))
	var targetSum float64
	for _, w := range weights {
		sep := componentAverage(goods, w.Component) - componentAverage(bads, w.Component)
		t := math.Max(0.01, sep)
		targets[w.Component] = t
		targetSum += t
	}
	if targetSum == 0 {
		return false, nil
	}
	for i := range weights {
		target := targets[weights[i].Component] / targetSum * 100
		weights[i].Weight = 0.8*weights[i].Weight + 0.2*target
	}
	return true, nil
}

func componentAverage(rows []domain.TrainingDatum, component string) float64 {
	var sum float64
	var n int
	for _, r := range rows {
		if v, ok := r.Features[component]; ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// normalize clamps every weight to the configured bounds and rescales the
// set to sum to 100. Clamping and rescaling alternate until both hold.
func (s *Service) normalize(weights []domain.ScoringWeight) {
	for iter := 0; iter < 10; iter++ {
		var sum float64
		for i := range weights {
			weights[i].Weight = clamp(weights[i].Weight, s.cfg.WeightMin, s.cfg.WeightMax)
			sum += weights[i].Weight
		}
		if sum == 0 {
			return
		}
		if math.Abs(sum-100) <= 0.01 {
			return
		}
		factor := 100 / sum
		for i := range weights {
			weights[i].Weight *= factor
		}
	}
	for i := range weights {
		weights[i].Weight = clamp(weights[i].Weight, s.cfg.WeightMin, s.cfg.WeightMax)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
