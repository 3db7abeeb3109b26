package scoring

import (
	"strings"

	"github.com/talentbruecke/matchengine/internal/domain"
)

// ConditionHolds evaluates a learned rule's condition against a candidate.
// The grammar is closed: has_skills subset, min/max level, min years.
func ConditionHolds(cond domain.RuleCondition, c domain.Candidate) bool {
	if len(cond.HasSkills) > 0 {
		have := candidateSkillSet(c)
		for _, want := range cond.HasSkills {
			if _, ok := have[strings.ToLower(strings.TrimSpace(want))]; !ok {
				return false
			}
		}
	}
	if cond.MinLevel != nil && c.SeniorityLevel < *cond.MinLevel {
		return false
	}
	if cond.MaxLevel != nil && c.SeniorityLevel > *cond.MaxLevel {
		return false
	}
	if cond.MinYears != nil && c.YearsExperience < *cond.MinYears {
		return false
	}
	return true
}

// ApplyRules adjusts a structured total with the active learned rules.
// Association rules add boost*confidence; exclusion rules drop the match.
// The returned total is clamped to [0,100]; keep=false means excluded.
func ApplyRules(total float64, c domain.Candidate, rules []domain.LearnedRule) (adjusted float64, keep bool) {
	adjusted = total
	for _, r := range rules {
		if !r.Active || !ConditionHolds(r.Condition, c) {
			continue
		}
		switch r.Type {
		case domain.RuleExclusion:
			return 0, false
		case domain.RuleAssociation:
			adjusted += r.Boost * r.Confidence
		}
	}
	if adjusted < 0 {
		adjusted = 0
	}
	if adjusted > 100 {
		adjusted = 100
	}
	return adjusted, true
}

func candidateSkillSet(c domain.Candidate) map[string]struct{} {
	set := make(map[string]struct{}, len(c.Skills)+len(c.ITSkills)+len(c.StructuredSkills))
	add := func(s string) {
		n := strings.ToLower(strings.TrimSpace(s))
		if n != "" {
			set[n] = struct{}{}
		}
	}
	for _, s := range c.Skills {
		add(s)
	}
	for _, s := range c.ITSkills {
		add(s)
	}
	for _, s := range c.ERPSystems {
		add(s)
	}
	for _, s := range c.StructuredSkills {
		add(s.Skill)
	}
	return set
}
