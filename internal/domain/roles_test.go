package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentbruecke/matchengine/internal/domain"
)

func TestRoles_TableParses(t *testing.T) {
	tbl := domain.Roles()
	require.NotNil(t, tbl)
	assert.Equal(t, 3, tbl.Version)
	assert.NotEmpty(t, tbl.Allowed)
	assert.NotEmpty(t, tbl.Degrade)
}

func TestParseRole(t *testing.T) {
	assert.Equal(t, domain.RoleBilanzbuchhalter, domain.ParseRole("Bilanzbuchhalter/in"))
	assert.Equal(t, domain.RoleLohnbuchhalter, domain.ParseRole("lohnbuchhalter"))
	assert.Equal(t, domain.RoleSteuerfachangestellter, domain.ParseRole("Steuerfachangestellte/r"))
	assert.Equal(t, domain.RoleNone, domain.ParseRole("Geschaeftsfuehrer"))
	assert.Equal(t, domain.RoleNone, domain.ParseRole(""))
}

func TestRoleTable_Similarity(t *testing.T) {
	tbl := domain.Roles()

	// Direct match.
	assert.Equal(t, 1.0, tbl.Similarity(domain.RoleFinanzbuchhalter, domain.RoleFinanzbuchhalter))

	// Degraded pairings carry a positive but below-unity value.
	s := tbl.Similarity(domain.RoleSteuerfachangestellter, domain.RoleBuchhalter)
	assert.Greater(t, s, 0.0)
	assert.Less(t, s, 1.0)

	// Bidirectional degrade applies both ways.
	a := tbl.Similarity(domain.RoleBilanzbuchhalter, domain.RoleFinanzbuchhalter)
	b := tbl.Similarity(domain.RoleFinanzbuchhalter, domain.RoleBilanzbuchhalter)
	assert.Greater(t, a, 0.0)
	assert.Greater(t, b, 0.0)

	// Payroll clerk against a general bookkeeping job is excluded.
	assert.Zero(t, tbl.Similarity(domain.RoleLohnbuchhalter, domain.RoleFinanzbuchhalter))
	assert.False(t, tbl.Compatible(domain.RoleLohnbuchhalter, domain.RoleFinanzbuchhalter))

	// Missing role key on either side never matches.
	assert.Zero(t, tbl.Similarity(domain.RoleNone, domain.RoleBuchhalter))
	assert.Zero(t, tbl.Similarity(domain.RoleBuchhalter, domain.RoleNone))
}

func TestRoleTable_ReverseLookup(t *testing.T) {
	tbl := domain.Roles()
	cands := tbl.CompatibleCandidateRoles(domain.RoleBuchhalter)
	assert.Contains(t, cands, domain.RoleSteuerfachangestellter)
	assert.Contains(t, cands, domain.RoleKreditorenbuchhalter)
	assert.NotContains(t, cands, domain.RoleLohnbuchhalter)
}

func TestJob_Eligible(t *testing.T) {
	now := time.Now().UTC()
	j := domain.Job{Quality: domain.QualityHigh}
	assert.True(t, j.Eligible(now))
	j.Quality = domain.QualityLow
	assert.False(t, j.Eligible(now))
	j.Quality = domain.QualityMedium
	del := now
	j.DeletedAt = &del
	assert.False(t, j.Eligible(now))
}
