package scoring

import (
	"fmt"
	"log/slog"

	"github.com/talentbruecke/matchengine/internal/domain"
)

// WeightSource loads the weight set for a job category, falling back to the
// global rows and seeding category rows on first use.
type WeightSource struct {
	Repo domain.WeightRepository
}

// NewWeightSource constructs a WeightSource over the given repository.
func NewWeightSource(repo domain.WeightRepository) *WeightSource {
	return &WeightSource{Repo: repo}
}

// Load returns the component weight map for category. An empty category
// selects the global rows. On first use of a new category the global rows
// are copied into category-specific rows.
func (s *WeightSource) Load(ctx domain.Context, category string) (map[string]float64, error) {
	var sel *string
	if category != "" {
		sel = &category
	}
	rows, err := s.Repo.ForCategory(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("op=weights.load: %w", err)
	}
	if len(rows) == 0 {
		return DefaultWeights(), nil
	}
	// ForCategory falls back to global rows when the category has none;
	// seed the category so future adjustments are scoped to it.
	if sel != nil && rows[0].JobCategory == nil {
		if err := s.Repo.CopyGlobalToCategory(ctx, category); err != nil {
			slog.Warn("seeding category weights failed", slog.String("category", category), slog.Any("error", err))
		}
	}
	out := make(map[string]float64, len(rows))
	for _, r := range rows {
		out[r.Component] = r.Weight
	}
	return out, nil
}
