package rps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveAllPairs(t *testing.T) {
	cases := []struct {
		a, b Move
		want Outcome
	}{
		{Rock, Rock, OutcomeDraw},
		{Rock, Paper, OutcomeBWins},
		{Rock, Scissors, OutcomeAWins},
		{Paper, Rock, OutcomeAWins},
		{Paper, Paper, OutcomeDraw},
		{Paper, Scissors, OutcomeBWins},
		{Scissors, Rock, OutcomeBWins},
		{Scissors, Paper, OutcomeAWins},
		{Scissors, Scissors, OutcomeDraw},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, Resolve(tc.a, tc.b), "%s vs %s", tc.a, tc.b)
	}
}

func TestResolveSymmetry(t *testing.T) {
	for _, a := range Moves {
		for _, b := range Moves {
			forward := Resolve(a, b)
			backward := Resolve(b, a)
			switch forward {
			case OutcomeDraw:
				assert.Equal(t, OutcomeDraw, backward)
			case OutcomeAWins:
				assert.Equal(t, OutcomeBWins, backward)
			case OutcomeBWins:
				assert.Equal(t, OutcomeAWins, backward)
			}
		}
	}
}

func TestCycleIsExact(t *testing.T) {
	// Each move beats exactly one other and is beaten by exactly one other.
	for _, m := range Moves {
		var beatsCount, beatenCount int
		for _, other := range Moves {
			if m.Beats(other) {
				beatsCount++
			}
			if other.Beats(m) {
				beatenCount++
			}
		}
		assert.Equal(t, 1, beatsCount, "%s should beat exactly one move", m)
		assert.Equal(t, 1, beatenCount, "%s should be beaten by exactly one move", m)
		assert.False(t, m.Beats(m))
	}
}

func TestParseMove(t *testing.T) {
	m, err := ParseMove("rock")
	require.NoError(t, err)
	assert.Equal(t, Rock, m)

	_, err = ParseMove("lizard")
	assert.ErrorIs(t, err, ErrInvalidMove)

	_, err = ParseMove("")
	assert.ErrorIs(t, err, ErrInvalidMove)
}
