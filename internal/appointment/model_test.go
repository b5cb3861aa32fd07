package appointment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	allowed := map[Status][]Status{
		StatusRequested: {StatusApproved, StatusDeclined},
		StatusApproved:  {StatusCompleted, StatusCancelled},
	}

	all := []Status{StatusRequested, StatusApproved, StatusDeclined, StatusCompleted, StatusCancelled}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, next := range allowed[from] {
				if next == to {
					want = true
				}
			}
			assert.Equal(t, want, CanTransition(from, to), "transition %s -> %s", from, to)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, IsTerminal(StatusRequested))
	assert.False(t, IsTerminal(StatusApproved))
	assert.True(t, IsTerminal(StatusDeclined))
	assert.True(t, IsTerminal(StatusCompleted))
	assert.True(t, IsTerminal(StatusCancelled))
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("approved")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, s)

	_, err = ParseStatus("confirmed")
	assert.Error(t, err)

	_, err = ParseStatus("")
	assert.Error(t, err)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("online")
	require.NoError(t, err)
	assert.Equal(t, ModeOnline, m)

	m, err = ParseMode("onsite")
	require.NoError(t, err)
	assert.Equal(t, ModeOnsite, m)

	_, err = ParseMode("hybrid")
	assert.Error(t, err)
}

func TestParseRole(t *testing.T) {
	for _, role := range []string{"admin", "faculty", "student"} {
		r, err := ParseRole(role)
		require.NoError(t, err)
		assert.Equal(t, Role(role), r)
	}

	_, err := ParseRole("teacher")
	assert.Error(t, err)
}
