package match

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rps-arena/internal/clock"
	"github.com/rps-arena/internal/rps"
	"github.com/rps-arena/internal/statemachine"
)

// Match lifecycle states. All status changes go through the shared
// statemachine so every entity's history uses one format.
const (
	StatusWaitingForPlayers statemachine.State = "waiting_for_players"
	StatusWaitingForMoves   statemachine.State = "waiting_for_moves"
	StatusCompleted         statemachine.State = "completed"
	StatusCancelled         statemachine.State = "cancelled"
	StatusTimeout           statemachine.State = "timeout"
)

// Round lifecycle states.
const (
	RoundCollecting statemachine.State = "collecting"
	RoundResolved   statemachine.State = "resolved"
	RoundExpired    statemachine.State = "expired"
	RoundAbandoned  statemachine.State = "abandoned"
)

// MatchType distinguishes how a match was created
type MatchType string

const (
	TypeQuick      MatchType = "quick"
	TypeTournament MatchType = "tournament"
	TypePractice   MatchType = "practice"
)

// Result represents the outcome of a match
type Result string

const (
	ResultPlayer1Win Result = "player1_win"
	ResultPlayer2Win Result = "player2_win"
	ResultDraw       Result = "draw"
)

// RoundWinner designates which side took a round
type RoundWinner string

const (
	RoundPlayer1 RoundWinner = "player1"
	RoundPlayer2 RoundWinner = "player2"
	RoundDraw    RoundWinner = "draw"
)

// RoundOutcome is one resolved round. Never mutated after creation.
type RoundOutcome struct {
	Number      int         `json:"number"`
	Player1Move rps.Move    `json:"player1Move"`
	Player2Move rps.Move    `json:"player2Move"`
	Winner      RoundWinner `json:"winner"`
}

// Score is the running round-win tally. Values never decrease.
type Score struct {
	Player1 int `json:"player1"`
	Player2 int `json:"player2"`
}

// Match is one best-of-N contest between two players. All mutation happens
// under the per-match mutex, so submit/join/timeout are serialized per match.
type Match struct {
	ID      string
	Type    MatchType
	BestOf  int
	Player1 string
	Player2 string

	rounds  []RoundOutcome
	score   Score
	p1Move  *rps.Move
	p2Move  *rps.Move
	winner  string
	result  Result
	decided bool

	CreatedAt     time.Time
	StartedAt     time.Time
	CompletedAt   time.Time
	MoveTimeout   time.Duration
	moveTimeoutAt time.Time

	life *statemachine.Machine
	clk  clock.Clock
	mu   sync.RWMutex
}

// RegisterLifecycles installs the match and round transition tables on the
// shared machine. Call once at startup before creating matches.
func RegisterLifecycles(m *statemachine.Machine) {
	m.Define(statemachine.EntityMatch, statemachine.Table{
		StatusWaitingForPlayers: {StatusWaitingForMoves, StatusCancelled, StatusTimeout},
		StatusWaitingForMoves:   {StatusCompleted, StatusCancelled, StatusTimeout},
		StatusCompleted:         {},
		StatusCancelled:         {},
		StatusTimeout:           {},
	})
	m.Define(statemachine.EntityRound, statemachine.Table{
		RoundCollecting: {RoundResolved, RoundExpired, RoundAbandoned},
		RoundResolved:   {},
		RoundExpired:    {},
		RoundAbandoned:  {},
	})
}

// New creates a match waiting for a second player.
func New(player1 string, typ MatchType, bestOf int, moveTimeout time.Duration, life *statemachine.Machine, clk clock.Clock) (*Match, error) {
	if bestOf < 1 || bestOf%2 == 0 {
		return nil, ErrBadBestOf
	}

	m := &Match{
		ID:          uuid.New().String(),
		Type:        typ,
		BestOf:      bestOf,
		Player1:     player1,
		CreatedAt:   clk.Now(),
		MoveTimeout: moveTimeout,
		life:        life,
		clk:         clk,
	}
	if err := life.Initialize(statemachine.EntityMatch, m.ID, StatusWaitingForPlayers); err != nil {
		return nil, err
	}
	return m, nil
}

// NewWithPlayers creates a match with both participants known, already
// collecting moves. Used when bracket progression instantiates matches.
func NewWithPlayers(player1, player2 string, typ MatchType, bestOf int, moveTimeout time.Duration, life *statemachine.Machine, clk clock.Clock) (*Match, error) {
	if player1 == player2 {
		return nil, ErrSelfPlay
	}
	m, err := New(player1, typ, bestOf, moveTimeout, life, clk)
	if err != nil {
		return nil, err
	}
	m.Player2 = player2
	now := clk.Now()
	m.StartedAt = now
	m.moveTimeoutAt = now.Add(moveTimeout)
	if err := life.Transition(statemachine.EntityMatch, m.ID, StatusWaitingForMoves, "players assigned"); err != nil {
		return nil, err
	}
	m.startRound(1)
	return m, nil
}

// Status returns the current lifecycle state.
func (m *Match) Status() statemachine.State {
	state, _ := m.life.Current(statemachine.EntityMatch, m.ID)
	return state
}

// Join adds the second player and starts collecting moves for round 1.
func (m *Match) Join(player string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Status() != StatusWaitingForPlayers {
		return ErrInvalidState
	}
	if player == m.Player1 {
		return ErrSelfPlay
	}
	if m.Player2 != "" {
		return ErrAlreadyFull
	}

	m.Player2 = player
	now := m.clk.Now()
	m.StartedAt = now
	m.moveTimeoutAt = now.Add(m.MoveTimeout)
	if err := m.life.Transition(statemachine.EntityMatch, m.ID, StatusWaitingForMoves, fmt.Sprintf("%s joined", player)); err != nil {
		return err
	}
	m.startRound(1)
	return nil
}

// SubmitOutcome reports what a successful move submission did.
type SubmitOutcome struct {
	RoundResolved bool
	Round         *RoundOutcome
	MatchOver     bool
	Winner        string
	Result        Result
	Score         Score
}

// SubmitMove records a player's move for the pending round. When both moves
// are present the round resolves; the match completes as soon as one side
// reaches the clinch threshold.
func (m *Match) SubmitMove(player string, move rps.Move) (SubmitOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !move.Valid() {
		return SubmitOutcome{}, rps.ErrInvalidMove
	}
	if m.Status() != StatusWaitingForMoves {
		return SubmitOutcome{}, ErrInvalidState
	}
	if player != m.Player1 && player != m.Player2 {
		return SubmitOutcome{}, ErrNotAParticipant
	}

	// A move is valid strictly before the deadline; at the instant of the
	// deadline the timeout policy takes over.
	now := m.clk.Now()
	if !now.Before(m.moveTimeoutAt) {
		// Detecting expiry transitions the match; the caller surfaces
		// ErrExpired while the timeout policy decides the outcome.
		m.applyTimeoutLocked(now)
		return SubmitOutcome{}, ErrExpired
	}

	if player == m.Player1 {
		if m.p1Move != nil {
			return SubmitOutcome{}, ErrDuplicateMove
		}
		m.p1Move = &move
	} else {
		if m.p2Move != nil {
			return SubmitOutcome{}, ErrDuplicateMove
		}
		m.p2Move = &move
	}

	if m.p1Move == nil || m.p2Move == nil {
		return SubmitOutcome{Score: m.score}, nil
	}

	round := m.resolveRoundLocked()
	out := SubmitOutcome{
		RoundResolved: true,
		Round:         &round,
		Score:         m.score,
	}

	needed := (m.BestOf + 1) / 2
	if m.score.Player1 >= needed || m.score.Player2 >= needed {
		m.decided = true
		m.CompletedAt = now
		if m.score.Player1 >= needed {
			m.winner = m.Player1
			m.result = ResultPlayer1Win
		} else {
			m.winner = m.Player2
			m.result = ResultPlayer2Win
		}
		if err := m.life.Transition(statemachine.EntityMatch, m.ID, StatusCompleted, "clinch reached"); err != nil {
			return SubmitOutcome{}, err
		}
		out.MatchOver = true
		out.Winner = m.winner
		out.Result = m.result
		return out, nil
	}

	// Next round: clear the move slots and extend the deadline.
	m.p1Move = nil
	m.p2Move = nil
	m.moveTimeoutAt = now.Add(m.MoveTimeout)
	m.startRound(len(m.rounds) + 1)
	return out, nil
}

// resolveRoundLocked computes and appends the pending round outcome.
func (m *Match) resolveRoundLocked() RoundOutcome {
	round := RoundOutcome{
		Number:      len(m.rounds) + 1,
		Player1Move: *m.p1Move,
		Player2Move: *m.p2Move,
	}
	switch rps.Resolve(*m.p1Move, *m.p2Move) {
	case rps.OutcomeAWins:
		round.Winner = RoundPlayer1
		m.score.Player1++
	case rps.OutcomeBWins:
		round.Winner = RoundPlayer2
		m.score.Player2++
	default:
		round.Winner = RoundDraw
	}
	m.rounds = append(m.rounds, round)
	m.finishRound(round.Number, RoundResolved)
	return round
}

// TimeoutOutcome reports what HandleTimeout decided.
type TimeoutOutcome struct {
	Applied         bool
	AlreadyTerminal bool
	Status          statemachine.State
	Winner          string
	Result          Result
}

// HandleTimeout applies the move-deadline policy: a sole submitter wins the
// match outright; otherwise the match times out with no result. Calling it on
// a terminal match is a no-op reporting the terminal state.
func (m *Match) HandleTimeout() (TimeoutOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := m.Status()
	switch status {
	case StatusCompleted, StatusCancelled, StatusTimeout:
		return TimeoutOutcome{AlreadyTerminal: true, Status: status, Winner: m.winner, Result: m.result}, nil
	case StatusWaitingForMoves:
	default:
		return TimeoutOutcome{}, ErrInvalidState
	}

	now := m.clk.Now()
	if now.Before(m.moveTimeoutAt) {
		return TimeoutOutcome{}, ErrInvalidState
	}

	m.applyTimeoutLocked(now)
	return TimeoutOutcome{Applied: true, Status: StatusTimeout, Winner: m.winner, Result: m.result}, nil
}

// applyTimeoutLocked commits the timeout decision. Natural completion cannot
// race it: both paths run under the match mutex, and a completed match never
// reaches here.
func (m *Match) applyTimeoutLocked(now time.Time) {
	m.CompletedAt = now

	reason := "move deadline expired"
	if m.p1Move != nil && m.p2Move == nil {
		m.winner = m.Player1
		m.result = ResultPlayer1Win
		reason = "opponent never moved"
	} else if m.p2Move != nil && m.p1Move == nil {
		m.winner = m.Player2
		m.result = ResultPlayer2Win
		reason = "opponent never moved"
	}

	if err := m.life.Transition(statemachine.EntityMatch, m.ID, StatusTimeout, reason); err != nil {
		// The table allows timeout from both waiting states, so this
		// only fires on a programming error.
		return
	}
	m.finishRound(len(m.rounds)+1, RoundExpired)
}

// Cancel moves a non-terminal match to cancelled. On an already terminal
// match it leaves state untouched and reports ErrAlreadyTerminal.
func (m *Match) Cancel(reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.Status() {
	case StatusCompleted, StatusCancelled, StatusTimeout:
		return ErrAlreadyTerminal
	}

	m.CompletedAt = m.clk.Now()
	if err := m.life.Transition(statemachine.EntityMatch, m.ID, StatusCancelled, reason); err != nil {
		return err
	}
	m.finishRound(len(m.rounds)+1, RoundAbandoned)
	return nil
}

// startRound opens the round entity for auditing. The pending round is always
// the single un-resolved one.
func (m *Match) startRound(number int) {
	m.life.Initialize(statemachine.EntityRound, m.roundID(number), RoundCollecting)
}

// finishRound closes the pending round entity if it exists.
func (m *Match) finishRound(number int, state statemachine.State) {
	m.life.Transition(statemachine.EntityRound, m.roundID(number), state, "")
}

func (m *Match) roundID(number int) string {
	return fmt.Sprintf("%s:%d", m.ID, number)
}

// HasParticipant reports whether player is one of the two sides.
func (m *Match) HasParticipant(player string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return player == m.Player1 || (m.Player2 != "" && player == m.Player2)
}

// MoveDeadline returns the current round's deadline.
func (m *Match) MoveDeadline() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.moveTimeoutAt
}

// Duration returns match length in seconds, live or final.
func (m *Match) Duration() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.StartedAt.IsZero() {
		return 0
	}
	if m.CompletedAt.IsZero() {
		return int(m.clk.Now().Sub(m.StartedAt).Seconds())
	}
	return int(m.CompletedAt.Sub(m.StartedAt).Seconds())
}

// State is a read-only snapshot for serialization.
type State struct {
	ID            string             `json:"id"`
	Type          MatchType          `json:"type"`
	Status        statemachine.State `json:"status"`
	Player1       string             `json:"player1"`
	Player2       string             `json:"player2,omitempty"`
	BestOf        int                `json:"bestOf"`
	Rounds        []RoundOutcome     `json:"rounds"`
	Score         Score              `json:"score"`
	Winner        string             `json:"winner,omitempty"`
	Result        Result             `json:"result,omitempty"`
	RoundNumber   int                `json:"roundNumber"`
	MoveDeadline  time.Time          `json:"moveDeadline,omitempty"`
	Player1Moved  bool               `json:"player1Moved"`
	Player2Moved  bool               `json:"player2Moved"`
	CreatedAt     time.Time          `json:"createdAt"`
	StartedAt     time.Time          `json:"startedAt,omitempty"`
	CompletedAt   time.Time          `json:"completedAt,omitempty"`
	DurationSecs  int                `json:"durationSeconds"`
}

// GetState returns the current snapshot.
func (m *Match) GetState() *State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rounds := make([]RoundOutcome, len(m.rounds))
	copy(rounds, m.rounds)

	s := &State{
		ID:           m.ID,
		Type:         m.Type,
		Status:       m.Status(),
		Player1:      m.Player1,
		Player2:      m.Player2,
		BestOf:       m.BestOf,
		Rounds:       rounds,
		Score:        m.score,
		Winner:       m.winner,
		Result:       m.result,
		RoundNumber:  len(m.rounds) + 1,
		MoveDeadline: m.moveTimeoutAt,
		Player1Moved: m.p1Move != nil,
		Player2Moved: m.p2Move != nil,
		CreatedAt:    m.CreatedAt,
		StartedAt:    m.StartedAt,
		CompletedAt:  m.CompletedAt,
	}
	if !m.StartedAt.IsZero() {
		end := m.CompletedAt
		if end.IsZero() {
			end = m.clk.Now()
		}
		s.DurationSecs = int(end.Sub(m.StartedAt).Seconds())
	}
	return s
}

// Errors
var (
	ErrInvalidState    = &MatchError{"operation not valid in the match's current state"}
	ErrNotAParticipant = &MatchError{"player is not a participant in this match"}
	ErrSelfPlay        = &MatchError{"a player cannot play against themselves"}
	ErrAlreadyFull     = &MatchError{"match already has two players"}
	ErrDuplicateMove   = &MatchError{"player already moved this round"}
	ErrExpired         = &MatchError{"move deadline has passed"}
	ErrAlreadyTerminal = &MatchError{"match already reached a terminal state"}
	ErrBadBestOf       = &MatchError{"bestOf must be an odd integer >= 1"}
	ErrNotFound        = &MatchError{"match not found"}
)

type MatchError struct {
	msg string
}

func (e *MatchError) Error() string {
	return e.msg
}
