package syncevents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentbruecke/matchengine/internal/domain"
)

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"entity":"candidate","id":"c-1","action":"updated"}`))
	require.NoError(t, err)
	assert.Equal(t, "candidate", ev.Entity)
	assert.Equal(t, "c-1", ev.ID)
	assert.Equal(t, "updated", ev.Action)
}

func TestParseEventRejectsMalformed(t *testing.T) {
	_, err := ParseEvent([]byte(`not json`))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = ParseEvent([]byte(`{"action":"updated"}`))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}
