package postgres

import (
	"fmt"

	"go.opentelemetry.io/otel"

	"github.com/talentbruecke/matchengine/internal/domain"
)

// RuleRepo implements domain.RuleRepository.
type RuleRepo struct{ Pool PgxPool }

// NewRuleRepo constructs a RuleRepo with the given pool.
func NewRuleRepo(p PgxPool) *RuleRepo { return &RuleRepo{Pool: p} }

// Active returns the active rules of one type.
func (r *RuleRepo) Active(ctx domain.Context, t domain.RuleType) ([]domain.LearnedRule, error) {
	tracer := otel.Tracer("repo.rules")
	ctx, span := tracer.Start(ctx, "rules.Active")
	defer span.End()
	q := `SELECT id, rule_type, condition, boost, confidence, support, active, created_at
	      FROM match_v2_learned_rules
	      WHERE rule_type = $1 AND active
	      ORDER BY confidence DESC`
	rows, err := r.Pool.Query(ctx, q, string(t))
	if err != nil {
		return nil, fmt.Errorf("op=rule.active: %w", err)
	}
	defer rows.Close()
	var out []domain.LearnedRule
	for rows.Next() {
		var (
			rule     domain.LearnedRule
			ruleType string
		)
		if err := rows.Scan(&rule.ID, &ruleType, &rule.Condition, &rule.Boost,
			&rule.Confidence, &rule.Support, &rule.Active, &rule.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=rule.active scan: %w", err)
		}
		rule.Type = domain.RuleType(ruleType)
		out = append(out, rule)
	}
	return out, rows.Err()
}

// Counts returns active-rule counts per type.
func (r *RuleRepo) Counts(ctx domain.Context) (map[domain.RuleType]int, error) {
	tracer := otel.Tracer("repo.rules")
	ctx, span := tracer.Start(ctx, "rules.Counts")
	defer span.End()
	rows, err := r.Pool.Query(ctx,
		`SELECT rule_type, count(*) FROM match_v2_learned_rules WHERE active GROUP BY rule_type`)
	if err != nil {
		return nil, fmt.Errorf("op=rule.counts: %w", err)
	}
	defer rows.Close()
	out := map[domain.RuleType]int{}
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("op=rule.counts scan: %w", err)
		}
		out[domain.RuleType(t)] = n
	}
	return out, rows.Err()
}
