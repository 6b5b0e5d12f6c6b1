package arena

import (
	"log"
	"sync"
	"time"

	"github.com/rps-arena/internal/clock"
	"github.com/rps-arena/internal/match"
	"github.com/rps-arena/internal/rps"
	"github.com/rps-arena/internal/statemachine"
)

// OpenMatchTimeout is how long a quick match may wait for an opponent before
// it is cancelled.
const OpenMatchTimeout = 2 * time.Minute

// Arena owns every live match: quick matches players open themselves and
// tournament matches created by bracket progression. Quick matches also get a
// player index so a player can hold at most one at a time, mirroring how the
// original quick-play flow tracked users.
type Arena struct {
	active       map[string]*match.Match // matchID -> match
	quickPlayers map[string]string       // username -> matchID, quick matches only
	mu           sync.Mutex

	life        *statemachine.Machine
	clk         clock.Clock
	bestOf      int
	moveTimeout time.Duration

	onMatchCreated   func(m *match.Match)
	onMatchStarted   func(m *match.Match)
	onMoveAccepted   func(m *match.Match, player string, move rps.Move, roundNumber int)
	onRoundCompleted func(m *match.Match, round match.RoundOutcome)
	onMatchEnded     func(m *match.Match)
}

// New creates an arena. bestOf is the default round count for quick matches.
func New(life *statemachine.Machine, clk clock.Clock, bestOf int, moveTimeout time.Duration) *Arena {
	return &Arena{
		active:       make(map[string]*match.Match),
		quickPlayers: make(map[string]string),
		life:         life,
		clk:          clk,
		bestOf:       bestOf,
		moveTimeout:  moveTimeout,
	}
}

// SetOnMatchCreated sets the callback for each newly registered match.
func (a *Arena) SetOnMatchCreated(callback func(m *match.Match)) {
	a.onMatchCreated = callback
}

// SetOnMoveAccepted sets the callback for each accepted move submission.
func (a *Arena) SetOnMoveAccepted(callback func(m *match.Match, player string, move rps.Move, roundNumber int)) {
	a.onMoveAccepted = callback
}

// SetOnMatchStarted sets the callback for when both players are present.
func (a *Arena) SetOnMatchStarted(callback func(m *match.Match)) {
	a.onMatchStarted = callback
}

// SetOnRoundCompleted sets the callback for each resolved round.
func (a *Arena) SetOnRoundCompleted(callback func(m *match.Match, round match.RoundOutcome)) {
	a.onRoundCompleted = callback
}

// SetOnMatchEnded sets the callback for any terminal match state.
func (a *Arena) SetOnMatchEnded(callback func(m *match.Match)) {
	a.onMatchEnded = callback
}

// CreateMatch opens a quick match waiting for an opponent. A player holds at
// most one quick match at a time.
func (a *Arena) CreateMatch(player string, bestOf int) (*match.Match, error) {
	if bestOf == 0 {
		bestOf = a.bestOf
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if id, exists := a.quickPlayers[player]; exists {
		if _, ok := a.active[id]; ok {
			return nil, ErrAlreadyInMatch
		}
		delete(a.quickPlayers, player)
	}

	m, err := match.New(player, match.TypeQuick, bestOf, a.moveTimeout, a.life, a.clk)
	if err != nil {
		return nil, err
	}

	a.active[m.ID] = m
	a.quickPlayers[player] = m.ID
	log.Printf("[Arena] Quick match created: ID=%s, player=%s, bestOf=%d", m.ID, player, bestOf)
	if a.onMatchCreated != nil {
		go a.onMatchCreated(m)
	}
	return m, nil
}

// JoinMatch adds player to the identified open match.
func (a *Arena) JoinMatch(matchID, player string) (*match.Match, error) {
	a.mu.Lock()
	m, ok := a.active[matchID]
	if !ok {
		a.mu.Unlock()
		return nil, match.ErrNotFound
	}
	if id, exists := a.quickPlayers[player]; exists && id != matchID {
		if _, live := a.active[id]; live {
			a.mu.Unlock()
			return nil, ErrAlreadyInMatch
		}
	}
	a.mu.Unlock()

	if err := m.Join(player); err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.quickPlayers[player] = m.ID
	a.mu.Unlock()

	if a.onMatchStarted != nil {
		go a.onMatchStarted(m)
	}
	return m, nil
}

// QuickJoin finds any open quick match the player did not create and joins
// it, the way the original join flow picked the first waiting game.
func (a *Arena) QuickJoin(player string) (*match.Match, error) {
	a.mu.Lock()
	var open *match.Match
	for _, m := range a.active {
		if m.Type == match.TypeQuick && m.Status() == match.StatusWaitingForPlayers && m.Player1 != player {
			open = m
			break
		}
	}
	a.mu.Unlock()

	if open == nil {
		return nil, ErrNoOpenMatch
	}
	return a.JoinMatch(open.ID, player)
}

// CreateTournamentMatch registers a match with both players already seated.
// Tournament matches bypass the quick-player index since bracket scheduling,
// not the player, owns their lifecycle.
func (a *Arena) CreateTournamentMatch(player1, player2 string, bestOf int) (*match.Match, error) {
	m, err := match.NewWithPlayers(player1, player2, match.TypeTournament, bestOf, a.moveTimeout, a.life, a.clk)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.active[m.ID] = m
	a.mu.Unlock()

	log.Printf("[Arena] Tournament match created: ID=%s, %s vs %s", m.ID, player1, player2)
	if a.onMatchCreated != nil {
		go a.onMatchCreated(m)
	}
	if a.onMatchStarted != nil {
		go a.onMatchStarted(m)
	}
	return m, nil
}

// SubmitMove relays a move to the match and handles the fallout: round
// callbacks, and retirement of the match when it completes. A move that
// arrives past the deadline reports ErrExpired after the timeout policy runs.
func (a *Arena) SubmitMove(matchID, player string, move rps.Move) (match.SubmitOutcome, error) {
	m := a.GetMatch(matchID)
	if m == nil {
		return match.SubmitOutcome{}, match.ErrNotFound
	}

	out, err := m.SubmitMove(player, move)
	if err != nil {
		if err == match.ErrExpired {
			a.retire(m)
		}
		return match.SubmitOutcome{}, err
	}

	if a.onMoveAccepted != nil {
		n := m.GetState().RoundNumber
		if out.RoundResolved {
			n = out.Round.Number
		}
		go a.onMoveAccepted(m, player, move, n)
	}
	if out.RoundResolved && a.onRoundCompleted != nil {
		go a.onRoundCompleted(m, *out.Round)
	}
	if out.MatchOver {
		a.retire(m)
	}
	return out, nil
}

// CancelMatch cancels a live match. Terminal matches report ErrAlreadyTerminal.
func (a *Arena) CancelMatch(matchID, reason string) error {
	m := a.GetMatch(matchID)
	if m == nil {
		return match.ErrNotFound
	}
	if err := m.Cancel(reason); err != nil {
		return err
	}
	a.retire(m)
	return nil
}

// HandleTimeout applies the deadline policy to one match.
func (a *Arena) HandleTimeout(matchID string) (match.TimeoutOutcome, error) {
	m := a.GetMatch(matchID)
	if m == nil {
		return match.TimeoutOutcome{}, match.ErrNotFound
	}
	out, err := m.HandleTimeout()
	if err != nil {
		return out, err
	}
	if out.Applied {
		a.retire(m)
	}
	return out, nil
}

// SweepTimeouts expires every match past its deadline: open matches nobody
// joined get cancelled, in-progress matches run the timeout policy. Returns
// how many matches were retired. The scheduler calls this periodically.
func (a *Arena) SweepTimeouts() int {
	now := a.clk.Now()

	a.mu.Lock()
	candidates := make([]*match.Match, 0, len(a.active))
	for _, m := range a.active {
		candidates = append(candidates, m)
	}
	a.mu.Unlock()

	swept := 0
	for _, m := range candidates {
		switch m.Status() {
		case match.StatusWaitingForPlayers:
			if now.Sub(m.CreatedAt) >= OpenMatchTimeout {
				if err := m.Cancel("no opponent joined"); err == nil {
					a.retire(m)
					swept++
				}
			}
		case match.StatusWaitingForMoves:
			if !now.Before(m.MoveDeadline()) {
				out, err := m.HandleTimeout()
				if err == nil && out.Applied {
					a.retire(m)
					swept++
				}
			}
		}
	}

	if swept > 0 {
		log.Printf("[Arena] Timeout sweep retired %d matches", swept)
	}
	return swept
}

// retire removes a terminal match from the registry and fires the end
// callback exactly once.
func (a *Arena) retire(m *match.Match) {
	a.mu.Lock()
	if _, ok := a.active[m.ID]; !ok {
		a.mu.Unlock()
		return
	}
	delete(a.active, m.ID)
	if a.quickPlayers[m.Player1] == m.ID {
		delete(a.quickPlayers, m.Player1)
	}
	if m.Player2 != "" && a.quickPlayers[m.Player2] == m.ID {
		delete(a.quickPlayers, m.Player2)
	}
	a.mu.Unlock()

	if a.onMatchEnded != nil {
		go a.onMatchEnded(m)
	}
}

// GetMatch returns a live match by ID
func (a *Arena) GetMatch(matchID string) *match.Match {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active[matchID]
}

// GetMatchByPlayer returns the player's live quick match
func (a *Arena) GetMatchByPlayer(player string) *match.Match {
	a.mu.Lock()
	defer a.mu.Unlock()

	if matchID, exists := a.quickPlayers[player]; exists {
		return a.active[matchID]
	}
	return nil
}

// ActiveCount returns the number of live matches
func (a *Arena) ActiveCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.active)
}

// OpenCount returns the number of matches waiting for an opponent
func (a *Arena) OpenCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	count := 0
	for _, m := range a.active {
		if m.Status() == match.StatusWaitingForPlayers {
			count++
		}
	}
	return count
}

// Errors
var (
	ErrAlreadyInMatch = &ArenaError{"player already has a live quick match"}
	ErrNoOpenMatch    = &ArenaError{"no open match available to join"}
)

type ArenaError struct {
	msg string
}

func (e *ArenaError) Error() string {
	return e.msg
}
