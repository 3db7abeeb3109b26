package domain

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// RoleKey is the normalized lowercase identifier for a finance/accounting
// role. The set is closed; unknown labels map to RoleNone.
type RoleKey string

const (
	RoleNone                   RoleKey = ""
	RoleFinanzbuchhalter       RoleKey = "finanzbuchhalter"
	RoleBilanzbuchhalter       RoleKey = "bilanzbuchhalter"
	RoleKreditorenbuchhalter   RoleKey = "kreditorenbuchhalter"
	RoleDebitorenbuchhalter    RoleKey = "debitorenbuchhalter"
	RoleLohnbuchhalter         RoleKey = "lohnbuchhalter"
	RoleSteuerfachangestellter RoleKey = "steuerfachangestellter"
	RoleBuchhalter             RoleKey = "buchhalter"
)

// AllRoles lists every member of the closed role set.
var AllRoles = []RoleKey{
	RoleFinanzbuchhalter,
	RoleBilanzbuchhalter,
	RoleKreditorenbuchhalter,
	RoleDebitorenbuchhalter,
	RoleLohnbuchhalter,
	RoleSteuerfachangestellter,
	RoleBuchhalter,
}

// roleLabels maps human-readable labels (data edge) to keys. Consumers of
// labels are limited to notification text and LLM prompts.
var roleLabels = map[RoleKey]string{
	RoleFinanzbuchhalter:       "Finanzbuchhalter/in",
	RoleBilanzbuchhalter:       "Bilanzbuchhalter/in",
	RoleKreditorenbuchhalter:   "Kreditorenbuchhalter/in",
	RoleDebitorenbuchhalter:    "Debitorenbuchhalter/in",
	RoleLohnbuchhalter:         "Lohnbuchhalter/in",
	RoleSteuerfachangestellter: "Steuerfachangestellte/r",
	RoleBuchhalter:             "Buchhalter/in",
}

// Label returns the human-readable label for a role key.
func (r RoleKey) Label() string {
	if l, ok := roleLabels[r]; ok {
		return l
	}
	return string(r)
}

// Valid reports whether r is a member of the closed role set.
func (r RoleKey) Valid() bool {
	_, ok := roleLabels[r]
	return ok
}

// ParseRole translates a label or key form into a RoleKey. Unknown input
// yields RoleNone.
func ParseRole(s string) RoleKey {
	n := strings.ToLower(strings.TrimSpace(s))
	n = strings.TrimSuffix(n, "/in")
	n = strings.TrimSuffix(n, "/r")
	for k, label := range roleLabels {
		if n == string(k) || strings.EqualFold(s, label) {
			return k
		}
	}
	return RoleNone
}

//go:embed roles.yaml
var rolesYAML []byte

// DegradeRule is one directional degraded-but-acceptable pairing.
type DegradeRule struct {
	From          RoleKey `yaml:"from"`
	To            RoleKey `yaml:"to"`
	Similarity    float64 `yaml:"similarity"`
	Bidirectional bool    `yaml:"bidirectional"`
}

// RoleTable is the versioned compatibility resource: per candidate role the
// allowed job roles, plus the degrade rule set.
type RoleTable struct {
	Version int                   `yaml:"version"`
	Allowed map[RoleKey][]RoleKey `yaml:"allowed"`
	Degrade []DegradeRule         `yaml:"degrade"`
}

var (
	roleTableOnce sync.Once
	roleTable     *RoleTable
	roleTableErr  error
)

// Roles returns the embedded compatibility table, parsed once per process.
func Roles() *RoleTable {
	roleTableOnce.Do(func() {
		var t RoleTable
		if err := yaml.Unmarshal(rolesYAML, &t); err != nil {
			roleTableErr = fmt.Errorf("op=roles.parse: %w", err)
			return
		}
		roleTable = &t
	})
	if roleTableErr != nil {
		panic(roleTableErr)
	}
	return roleTable
}

// AllowedJobRoles returns the job roles a candidate role may be considered
// for.
func (t *RoleTable) AllowedJobRoles(candidate RoleKey) []RoleKey {
	return t.Allowed[candidate]
}

// CompatibleCandidateRoles is the reverse lookup: for a job role, every
// candidate role that lists it among its allowed job roles.
func (t *RoleTable) CompatibleCandidateRoles(job RoleKey) []RoleKey {
	var out []RoleKey
	for _, cand := range AllRoles {
		for _, jr := range t.Allowed[cand] {
			if jr == job {
				out = append(out, cand)
				break
			}
		}
	}
	return out
}

// Similarity returns the role-compatibility score for a (candidate, job)
// pair: 1.0 for a direct match, the degrade-rule value for a degraded
// pairing, 0 when the pair is excluded.
func (t *RoleTable) Similarity(candidate, job RoleKey) float64 {
	if candidate == RoleNone || job == RoleNone {
		return 0
	}
	if candidate == job {
		return 1.0
	}
	allowed := false
	for _, jr := range t.Allowed[candidate] {
		if jr == job {
			allowed = true
			break
		}
	}
	best := 0.0
	for _, r := range t.Degrade {
		if (r.From == candidate && r.To == job) ||
			(r.Bidirectional && r.From == job && r.To == candidate) {
			if r.Similarity > best {
				best = r.Similarity
			}
		}
	}
	if best > 0 {
		return best
	}
	if allowed {
		// Allowed without an explicit degrade value: acceptable but
		// below a direct match.
		return 0.8
	}
	return 0
}

// Compatible reports whether the pair may be emitted as a match at all.
func (t *RoleTable) Compatible(candidate, job RoleKey) bool {
	return t.Similarity(candidate, job) > 0
}
