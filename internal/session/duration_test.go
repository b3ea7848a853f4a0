package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-interviewer/internal/domain"
)

func TestParseDuration(t *testing.T) {
	t.Parallel()
	cases := map[string]time.Duration{
		"5 min":      5 * time.Minute,
		"15 Min":     15 * time.Minute,
		"30min":      30 * time.Minute,
		"45 minutes": 45 * time.Minute,
		"1 hour":     time.Hour,
		" 2 hours ":  2 * time.Hour,
	}
	for in, want := range cases {
		got, err := ParseDuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestParseDuration_Rejects(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"", "soon", "0 min", "half an hour", "30", "-5 min", "4 hours", "181 min",
		"2562048 hours", "153722868 min", "99999999999999999999 min"} {
		_, err := ParseDuration(in)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument, in)
	}
}

func TestParseDuration_UpperBoundInclusive(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"180 min", "3 hours"} {
		d, err := ParseDuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, MaxInterviewDuration, d, in)
	}
}
