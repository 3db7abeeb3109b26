package ai

import (
	"fmt"
	"strings"

	"github.com/talentbruecke/matchengine/internal/domain"
)

// evaluationSystemPrompt instructs the model to answer strict JSON on the
// verdict schema. German, because job texts and profiles are German.
const evaluationSystemPrompt = `Du bist ein erfahrener Personalberater fuer Finanz- und Rechnungswesen.
Du bewertest, wie gut ein anonymisiertes Kandidatenprofil zu einer Stellenausschreibung passt.
Antworte ausschliesslich mit einem JSON-Objekt in genau diesem Schema:
{
  "score": 0.0,
  "explanation": "string",
  "strengths": ["string"],
  "weaknesses": ["string"],
  "risks": ["string"],
  "recommendation": "vorstellen|beobachten|nicht_passend",
  "wow": false,
  "wow_reason": "string"
}
score liegt zwischen 0.0 und 1.0. Maximal drei Eintraege je Liste.
Bewerte nur fachliche Passung: Aufgaben, Software, Seniorität, Branche.`

// BuildEvaluationPrompt renders the deep-evaluation prompt for one job and
// one candidate. The work history goes in untruncated.
func BuildEvaluationPrompt(j domain.Job, f CandidateFacts) (system, user string) {
	var b strings.Builder
	b.WriteString("## Stelle\n")
	fmt.Fprintf(&b, "Position: %s\nUnternehmen: %s\nRolle: %s\nLevel: %d\n", j.Title, j.Company, j.Role.Label(), j.SeniorityLevel)
	if j.Industry != "" {
		fmt.Fprintf(&b, "Branche: %s\n", j.Industry)
	}
	if j.WorkArrangement != "" {
		fmt.Fprintf(&b, "Arbeitsmodell: %s\n", j.WorkArrangement)
	}
	b.WriteString("\nStellenbeschreibung:\n")
	b.WriteString(j.Description)
	b.WriteString("\n\n## Kandidatenprofil (anonymisiert)\n")
	fmt.Fprintf(&b, "Rolle: %s\nAktuelle Taetigkeit: %s\nLevel: %d\nBerufserfahrung: %.0f Jahre\n",
		f.RoleLabel, f.CurrentRole, f.SeniorityLevel, f.YearsExperience)
	b.WriteString("\nBeruflicher Werdegang:\n")
	b.WriteString(f.renderWorkHistory())
	fmt.Fprintf(&b, "\nAusbildung: %s\n", joinOrNone(f.Education))
	fmt.Fprintf(&b, "Weiterbildung: %s\n", joinOrNone(f.FurtherEducation))
	fmt.Fprintf(&b, "Fachkenntnisse: %s\n", joinOrNone(f.Skills))
	fmt.Fprintf(&b, "IT-Kenntnisse: %s\n", joinOrNone(f.ITSkills))
	fmt.Fprintf(&b, "ERP-Systeme: %s\n", joinOrNone(f.ERPSystems))
	fmt.Fprintf(&b, "Sprachen: %s\n", joinOrNone(f.Languages))
	if f.Summary != "" {
		fmt.Fprintf(&b, "Zusammenfassung: %s\n", f.Summary)
	}
	return evaluationSystemPrompt, b.String()
}
