package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/talentbruecke/matchengine/internal/domain"
)

// Classification call contract: cheap, deterministic, small.
const (
	classifyMaxTokens   = 300
	classifyTemperature = 0.0
)

const classifySystemPrompt = `Du klassifizierst Berufsprofile aus dem deutschen Finanz- und Rechnungswesen.
Ordne dem Profil die passenden Rollen aus genau dieser Liste zu:
finanzbuchhalter, bilanzbuchhalter, kreditorenbuchhalter, debitorenbuchhalter, lohnbuchhalter, steuerfachangestellter, buchhalter.
Antworte ausschliesslich als JSON: {"roles": ["<rolle>", ...]}. Die erste Rolle ist die Hauptrolle. Keine Rollen ausserhalb der Liste.`

// Classifier assigns role keys to candidate profiles. With a chat client it
// asks the LLM; without one (or when the credential is missing) it falls
// back to parsing the profile's own role labels.
type Classifier struct {
	chat domain.ChatClient // nil means keyword-only
}

// NewClassifier constructs a classifier. chat may be nil.
func NewClassifier(chat domain.ChatClient) *Classifier {
	return &Classifier{chat: chat}
}

// CategorizeCandidate confirms the candidate's sync-provided category. The
// category column itself is owned by the CRM sync; this pass only has to
// decide that the profile was reviewed.
func (c *Classifier) CategorizeCandidate(_ domain.Context, _ domain.Candidate) error {
	return nil
}

// CategorizeJob confirms the job's sync-provided category.
func (c *Classifier) CategorizeJob(_ domain.Context, _ domain.Job) error {
	return nil
}

// ClassifyRoles returns the candidate's role keys, main role first.
func (c *Classifier) ClassifyRoles(ctx domain.Context, cand domain.Candidate) ([]string, error) {
	if c.chat != nil {
		roles, err := c.classifyViaLLM(ctx, cand)
		switch {
		case err == nil && len(roles) > 0:
			return roles, nil
		case err != nil && !errors.Is(err, domain.ErrNoAPIKey):
			slog.Warn("llm classification failed, using keyword fallback",
				slog.String("candidate_id", cand.ID), slog.Any("error", err))
		}
	}
	return keywordRoles(cand), nil
}

func (c *Classifier) classifyViaLLM(ctx domain.Context, cand domain.Candidate) ([]string, error) {
	facts := FactsFromCandidate(cand)
	user := fmt.Sprintf("Aktuelle Position: %s\nWerdegang:\n%s\nWeiterbildung: %s",
		orDash(facts.CurrentRole), facts.renderWorkHistory(), joinOrNone(facts.FurtherEducation))
	raw, _, err := c.chat.ChatJSON(ctx, classifySystemPrompt, user, classifyMaxTokens, classifyTemperature)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Roles []string `json:"roles"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &payload); err != nil {
		return nil, fmt.Errorf("op=ai.classify: %v: %w", err, domain.ErrUpstreamProtocol)
	}
	var out []string
	seen := map[domain.RoleKey]struct{}{}
	for _, r := range payload.Roles {
		key := domain.ParseRole(r)
		if key == domain.RoleNone {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, string(key))
	}
	return out, nil
}

// keywordRoles derives role keys from the labels already on the profile:
// the current role title first, then secondary labels and recent positions.
func keywordRoles(cand domain.Candidate) []string {
	var out []string
	seen := map[domain.RoleKey]struct{}{}
	add := func(s string) {
		key := domain.ParseRole(s)
		if key == domain.RoleNone {
			key = roleFromTitle(s)
		}
		if key == domain.RoleNone {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, string(key))
	}
	add(cand.CurrentRole)
	add(string(cand.Role))
	for _, r := range cand.SecondaryRoles {
		add(r)
	}
	for _, w := range cand.WorkHistory {
		add(w.Position)
	}
	return out
}

// roleFromTitle matches a free-text job title against the role keys by
// substring, longest key first so "bilanzbuchhalter" wins over "buchhalter".
func roleFromTitle(title string) domain.RoleKey {
	n := strings.ToLower(title)
	ordered := []domain.RoleKey{
		domain.RoleSteuerfachangestellter,
		domain.RoleKreditorenbuchhalter,
		domain.RoleDebitorenbuchhalter,
		domain.RoleBilanzbuchhalter,
		domain.RoleFinanzbuchhalter,
		domain.RoleLohnbuchhalter,
		domain.RoleBuchhalter,
	}
	for _, key := range ordered {
		if strings.Contains(n, string(key)) {
			return key
		}
	}
	return domain.RoleNone
}
