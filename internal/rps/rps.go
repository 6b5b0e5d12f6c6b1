package rps

// Move is one of the three playable hand shapes
type Move string

const (
	Rock     Move = "rock"
	Paper    Move = "paper"
	Scissors Move = "scissors"
)

// Outcome is the result of resolving two moves
type Outcome string

const (
	OutcomeDraw  Outcome = "draw"
	OutcomeAWins Outcome = "a_wins"
	OutcomeBWins Outcome = "b_wins"
)

// beats is the authoritative cyclic relation: each move beats exactly one
// other. Kept as a lookup so the rule is auditable rather than derived.
var beats = map[Move]Move{
	Rock:     Scissors,
	Paper:    Rock,
	Scissors: Paper,
}

// Moves lists the legal moves in a stable order.
var Moves = []Move{Rock, Paper, Scissors}

// Valid reports whether m is a legal move.
func (m Move) Valid() bool {
	_, ok := beats[m]
	return ok
}

// Beats reports whether m beats other under the fixed relation.
func (m Move) Beats(other Move) bool {
	return beats[m] == other
}

// ParseMove converts a raw string into a Move
func ParseMove(s string) (Move, error) {
	m := Move(s)
	if !m.Valid() {
		return "", ErrInvalidMove
	}
	return m, nil
}

// Resolve computes the outcome of a single round. It is pure and total over
// legal moves; callers validate inputs via ParseMove first.
func Resolve(a, b Move) Outcome {
	if a == b {
		return OutcomeDraw
	}
	if a.Beats(b) {
		return OutcomeAWins
	}
	return OutcomeBWins
}

// Errors
var ErrInvalidMove = &MoveError{"invalid move: must be rock, paper or scissors"}

type MoveError struct {
	msg string
}

func (e *MoveError) Error() string {
	return e.msg
}
