package scoring

import (
	"math"
	"strings"

	"github.com/talentbruecke/matchengine/internal/domain"
)

// ScoringVersion tags every breakdown this engine writes.
const ScoringVersion = "v2.3"

// Component names as they appear in breakdowns and the weight store.
const (
	ComponentSkillOverlap  = "skill_overlap"
	ComponentSeniorityFit  = "seniority_fit"
	ComponentEmbeddingSim  = "embedding_sim"
	ComponentCareerFit     = "career_fit"
	ComponentSoftwareMatch = "software_match"
	ComponentLocationBonus = "location_bonus"
	ComponentRoleGated     = "role_gated"
)

// WeightedComponents are the components participating in the weighted sum.
// role_gated acts as a hard gate and is recorded in the breakdown only.
var WeightedComponents = []string{
	ComponentSkillOverlap,
	ComponentSeniorityFit,
	ComponentEmbeddingSim,
	ComponentCareerFit,
	ComponentSoftwareMatch,
	ComponentLocationBonus,
}

// DefaultWeights returns the factory weight set, summing to 100.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		ComponentSkillOverlap:  35,
		ComponentSeniorityFit:  20,
		ComponentEmbeddingSim:  20,
		ComponentCareerFit:     10,
		ComponentSoftwareMatch: 10,
		ComponentLocationBonus: 5,
	}
}

// neutral sub-score used when an input side is missing.
const neutralEmbeddingScore = 0.3

// Result is one scored pair.
type Result struct {
	Total     float64 // [0,100]
	Breakdown domain.Breakdown
}

// Score computes the component sub-scores and their weighted total for a
// candidate/job pair. ok=false means the pair is role-excluded and must not
// be emitted as a match.
func Score(c domain.Candidate, j domain.Job, distanceKM *float64, weights map[string]float64) (Result, bool) {
	roleGated := domain.Roles().Similarity(c.Role, j.Role)
	if roleGated == 0 {
		return Result{}, false
	}

	components := map[string]float64{
		ComponentSkillOverlap:  skillOverlap(c.StructuredSkills, j.RequiredSkills),
		ComponentSeniorityFit:  seniorityFit(c.SeniorityLevel, j.SeniorityLevel),
		ComponentEmbeddingSim:  embeddingSim(c.CurrentRoleEmbedding, j.RoleEmbedding),
		ComponentCareerFit:     careerFit(c.Trajectory, c.SeniorityLevel, j.SeniorityLevel),
		ComponentSoftwareMatch: softwareMatch(c, j),
		ComponentLocationBonus: locationBonus(c.City, j.City, distanceKM),
		ComponentRoleGated:     roleGated,
	}

	var sum, wsum float64
	for _, name := range WeightedComponents {
		w := weights[name]
		if w <= 0 {
			continue
		}
		sum += components[name] * w
		wsum += w
	}
	total := 0.0
	if wsum > 0 {
		total = sum / wsum * 100
	}

	bd := domain.Breakdown{"scoring_version": ScoringVersion}
	for k, v := range components {
		bd[k] = round3(v)
	}
	return Result{Total: round1(total), Breakdown: bd}, true
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }

// skillOverlap scores the candidate's structured skills against the job's
// required skills. Essential and preferred requirements are scored
// separately and combined 70/30; a missing side defaults to 0.5.
func skillOverlap(candidate []domain.StructuredSkill, required []domain.StructuredSkill) float64 {
	var essential, preferred []domain.StructuredSkill
	for _, s := range required {
		if s.Importance == domain.ImportancePreferred {
			preferred = append(preferred, s)
		} else {
			essential = append(essential, s)
		}
	}
	ratio := func(part []domain.StructuredSkill) float64 {
		if len(part) == 0 || len(candidate) == 0 {
			return 0.5
		}
		var sum float64
		for _, want := range part {
			sum += bestSkillMatch(want.Skill, candidate)
		}
		return sum / float64(len(part))
	}
	return 0.7*ratio(essential) + 0.3*ratio(preferred)
}

// bestSkillMatch finds the strongest candidate skill for one requirement:
// 1.0 exact (case-insensitive, trimmed), 0.8 substring either direction,
// scaled by recency, with a capped expert boost.
func bestSkillMatch(want string, candidate []domain.StructuredSkill) float64 {
	wantN := strings.ToLower(strings.TrimSpace(want))
	if wantN == "" {
		return 0
	}
	best := 0.0
	for _, have := range candidate {
		haveN := strings.ToLower(strings.TrimSpace(have.Skill))
		if haveN == "" {
			continue
		}
		base := 0.0
		switch {
		case haveN == wantN:
			base = 1.0
		case strings.Contains(haveN, wantN) || strings.Contains(wantN, haveN):
			base = 0.8
		default:
			continue
		}
		switch have.Recency {
		case domain.RecencyRecent:
			base *= 0.7
		case domain.RecencyOutdated:
			base *= 0.3
		}
		if have.Proficiency == domain.ProficiencyExpert {
			base = math.Min(base*1.1, 1.0)
		}
		if base > best {
			best = base
		}
	}
	return best
}

func seniorityFit(candidate, job int) float64 {
	gap := candidate - job
	switch {
	case gap == 0:
		return 1.0
	case gap == -1:
		return 0.75 // one level below: room to grow
	case gap == 1:
		return 0.65 // one level above: overqualified
	case gap == -2 || gap == 2:
		return 0.3
	default:
		return 0
	}
}

func embeddingSim(candidate, job []float32) float64 {
	if len(candidate) == 0 || len(job) == 0 {
		return neutralEmbeddingScore
	}
	return NormalizeSimilarity(CosineSimilarity(candidate, job))
}

func careerFit(tr domain.Trajectory, candidateLevel, jobLevel int) float64 {
	gap := jobLevel - candidateLevel
	switch tr {
	case domain.TrajectoryAscending:
		switch {
		case gap == 1:
			return 1.0
		case gap == 0:
			return 0.8
		case gap == -1:
			return 0.4
		case gap >= 2:
			return 0.3
		default:
			return 0.2
		}
	case domain.TrajectoryLateral:
		switch {
		case gap == 0:
			return 0.9
		case gap == 1 || gap == -1:
			return 0.6
		default:
			return 0.3
		}
	case domain.TrajectoryDescending:
		if gap <= 0 {
			return 0.5
		}
		return 0.2
	case domain.TrajectoryEntry:
		if jobLevel <= 2 {
			return 0.8
		}
		return 0.2
	default:
		return 0.5
	}
}

// Ecosystem detection by keyword substring over skill lists.
type ecosystem uint8

const (
	ecoDATEV ecosystem = 1 << iota
	ecoSAP
)

func detectEcosystems(items []string) ecosystem {
	var e ecosystem
	for _, s := range items {
		n := strings.ToLower(s)
		if strings.Contains(n, "datev") {
			e |= ecoDATEV
		}
		if strings.Contains(n, "sap") || strings.Contains(n, "s/4") || strings.Contains(n, "s4hana") {
			e |= ecoSAP
		}
	}
	return e
}

// softwareMatch compares the candidate's software ecosystem with the job's
// essential requirement. Preferred-only requirements never penalize.
func softwareMatch(c domain.Candidate, j domain.Job) float64 {
	var jobItems []string
	for _, s := range j.RequiredSkills {
		if s.Importance != domain.ImportancePreferred {
			jobItems = append(jobItems, s.Skill)
		}
	}
	jobEco := detectEcosystems(jobItems)
	if jobEco == 0 {
		return 0.5
	}
	candItems := make([]string, 0, len(c.ITSkills)+len(c.ERPSystems)+len(c.Skills))
	candItems = append(candItems, c.ITSkills...)
	candItems = append(candItems, c.ERPSystems...)
	candItems = append(candItems, c.Skills...)
	for _, s := range c.StructuredSkills {
		candItems = append(candItems, s.Skill)
	}
	candEco := detectEcosystems(candItems)
	if candEco == 0 {
		return 0.3
	}
	if candEco&jobEco != 0 {
		return 1.0
	}
	return 0.3
}

// metroAreas groups cities that share a commuting region. Used only when no
// distance is known for the pair.
var metroAreas = map[string]string{
	"hamburg":           "hamburg",
	"norderstedt":       "hamburg",
	"pinneberg":         "hamburg",
	"wedel":             "hamburg",
	"ahrensburg":        "hamburg",
	"reinbek":           "hamburg",
	"berlin":            "berlin",
	"potsdam":           "berlin",
	"muenchen":          "muenchen",
	"münchen":           "muenchen",
	"unterschleissheim": "muenchen",
	"garching":          "muenchen",
	"frankfurt":         "rhein-main",
	"frankfurt am main": "rhein-main",
	"offenbach":         "rhein-main",
	"eschborn":          "rhein-main",
	"bad homburg":       "rhein-main",
	"koeln":             "rheinland",
	"köln":              "rheinland",
	"duesseldorf":       "rheinland",
	"düsseldorf":        "rheinland",
	"leverkusen":        "rheinland",
	"neuss":             "rheinland",
}

func locationBonus(candidateCity, jobCity string, distanceKM *float64) float64 {
	if distanceKM != nil {
		d := *distanceKM
		switch {
		case d <= 15:
			return 1.0
		case d <= 30:
			return 0.7
		case d <= 60:
			return 0.4
		default:
			return 0
		}
	}
	cc := strings.ToLower(strings.TrimSpace(candidateCity))
	jc := strings.ToLower(strings.TrimSpace(jobCity))
	if cc == "" || jc == "" {
		return 0.3
	}
	if cc == jc {
		return 1.0
	}
	if m1, ok := metroAreas[cc]; ok {
		if m2, ok2 := metroAreas[jc]; ok2 && m1 == m2 {
			return 0.5
		}
	}
	return 0
}
