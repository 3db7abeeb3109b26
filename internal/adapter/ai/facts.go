// Package ai implements the LLM boundary: chat clients, the PII-safe prompt
// builders, and verdict parsing.
package ai

import (
	"fmt"
	"strings"

	"github.com/talentbruecke/matchengine/internal/domain"
)

// CandidateFacts carries only professional facts. Prompt builders accept
// this type and nothing else, so names, contact data and street addresses
// cannot reach an LLM input by construction.
type CandidateFacts struct {
	RoleLabel        string
	CurrentRole      string
	SeniorityLevel   int
	YearsExperience  float64
	Trajectory       string
	WorkHistory      []domain.WorkEntry
	Education        []string
	FurtherEducation []string
	Skills           []string
	ITSkills         []string
	ERPSystems       []string
	Languages        []string
	Summary          string
}

// FactsFromCandidate projects the professional subset of a candidate.
func FactsFromCandidate(c domain.Candidate) CandidateFacts {
	return CandidateFacts{
		RoleLabel:        c.Role.Label(),
		CurrentRole:      c.CurrentRole,
		SeniorityLevel:   c.SeniorityLevel,
		YearsExperience:  c.YearsExperience,
		Trajectory:       string(c.Trajectory),
		WorkHistory:      c.WorkHistory,
		Education:        c.Education,
		FurtherEducation: c.FurtherEducation,
		Skills:           c.Skills,
		ITSkills:         c.ITSkills,
		ERPSystems:       c.ERPSystems,
		Languages:        c.Languages,
		Summary:          classificationSummary(c.Classification),
	}
}

func classificationSummary(cl map[string]any) string {
	if cl == nil {
		return ""
	}
	if s, ok := cl["summary"].(string); ok {
		return s
	}
	return ""
}

func (f CandidateFacts) renderWorkHistory() string {
	if len(f.WorkHistory) == 0 {
		return "keine Angaben"
	}
	var b strings.Builder
	for _, w := range f.WorkHistory {
		fmt.Fprintf(&b, "- %s bei %s (%s bis %s)", w.Position, w.Company, w.Start, orDash(w.End))
		if w.Description != "" {
			fmt.Fprintf(&b, ": %s", w.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "heute"
	}
	return s
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "keine Angaben"
	}
	return strings.Join(items, ", ")
}
