package tournament

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rps-arena/internal/arena"
	"github.com/rps-arena/internal/bracket"
	"github.com/rps-arena/internal/clock"
	"github.com/rps-arena/internal/match"
	"github.com/rps-arena/internal/statemachine"
	"github.com/rps-arena/internal/storage"
)

// Tournament lifecycle states.
const (
	StatusRegistration statemachine.State = "registration"
	StatusInProgress   statemachine.State = "in_progress"
	StatusCompleted    statemachine.State = "completed"
	StatusCancelled    statemachine.State = "cancelled"
)

// Player participation states within a tournament.
const (
	PlayerRegistered statemachine.State = "registered"
	PlayerCompeting  statemachine.State = "competing"
	PlayerEliminated statemachine.State = "eliminated"
	PlayerChampion   statemachine.State = "champion"
	PlayerWithdrawn  statemachine.State = "withdrawn"
)

// Spectator states.
const (
	SpectatorWatching statemachine.State = "watching"
	SpectatorLeft     statemachine.State = "left"
)

// RegisterLifecycles installs the tournament, player and spectator transition
// tables on the shared machine. Call once at startup.
func RegisterLifecycles(m *statemachine.Machine) {
	m.Define(statemachine.EntityTournament, statemachine.Table{
		StatusRegistration: {StatusInProgress, StatusCancelled},
		StatusInProgress:   {StatusCompleted, StatusCancelled},
		StatusCompleted:    {},
		StatusCancelled:    {},
	})
	m.Define(statemachine.EntityPlayer, statemachine.Table{
		PlayerRegistered: {PlayerCompeting, PlayerWithdrawn},
		PlayerCompeting:  {PlayerEliminated, PlayerChampion},
		PlayerEliminated: {},
		PlayerChampion:   {},
		PlayerWithdrawn:  {PlayerRegistered},
	})
	m.Define(statemachine.EntitySpectator, statemachine.Table{
		SpectatorWatching: {SpectatorLeft},
		SpectatorLeft:     {SpectatorWatching},
	})
}

// Tournament is one bracketed competition.
type Tournament struct {
	ID        string
	Name      string
	Format    bracket.Type
	Seeding   bracket.Seeding
	BestOf    int
	BracketID string

	players    []bracket.Entrant
	spectators map[string]bool
	winner     string

	CreatedAt   time.Time
	CompletedAt time.Time
}

// Manager orchestrates tournaments: registration, bracket generation, match
// scheduling through the arena, and progression on match results.
type Manager struct {
	tournaments map[string]*Tournament
	matchIndex  map[string]string // matchID -> tournamentID
	mu          sync.Mutex

	arena *arena.Arena
	store storage.Store
	prog  *bracket.Progression
	life  *statemachine.Machine
	clk   clock.Clock

	onAdvance   func(t *Tournament, matchID string, adv *bracket.Advance)
	onCompleted func(t *Tournament)
}

// NewManager creates a tournament manager over the given collaborators.
func NewManager(a *arena.Arena, store storage.Store, life *statemachine.Machine, clk clock.Clock) *Manager {
	return &Manager{
		tournaments: make(map[string]*Tournament),
		matchIndex:  make(map[string]string),
		arena:       a,
		store:       store,
		prog:        bracket.NewProgression(store),
		life:        life,
		clk:         clk,
	}
}

// SetOnAdvance sets the callback fired after each recorded result.
func (mg *Manager) SetOnAdvance(callback func(t *Tournament, matchID string, adv *bracket.Advance)) {
	mg.onAdvance = callback
}

// SetOnCompleted sets the callback fired when a tournament finishes.
func (mg *Manager) SetOnCompleted(callback func(t *Tournament)) {
	mg.onCompleted = callback
}

// Create opens a tournament for registration.
func (mg *Manager) Create(ctx context.Context, name string, format bracket.Type, seeding bracket.Seeding, bestOf int) (*Tournament, error) {
	if bestOf == 0 {
		bestOf = 3
	}
	if bestOf < 1 || bestOf%2 == 0 {
		return nil, match.ErrBadBestOf
	}
	if format != bracket.SingleElimination && format != bracket.DoubleElimination {
		return nil, bracket.ErrUnknownType
	}

	t := &Tournament{
		ID:         uuid.New().String(),
		Name:       name,
		Format:     format,
		Seeding:    seeding,
		BestOf:     bestOf,
		spectators: make(map[string]bool),
		CreatedAt:  mg.clk.Now(),
	}
	if err := mg.life.Initialize(statemachine.EntityTournament, t.ID, StatusRegistration); err != nil {
		return nil, err
	}

	mg.mu.Lock()
	mg.tournaments[t.ID] = t
	mg.mu.Unlock()

	if err := mg.store.SaveTournament(ctx, mg.record(t)); err != nil {
		log.Printf("[Tournament] Error saving tournament %s: %v", t.ID, err)
	}

	log.Printf("[Tournament] Created: ID=%s, name=%q, format=%s", t.ID, name, format)
	return t, nil
}

// Register adds a player during the registration phase. Strength feeds
// standard and snake seeding.
func (mg *Manager) Register(ctx context.Context, tournamentID, player string, strength float64) error {
	t, err := mg.get(tournamentID)
	if err != nil {
		return err
	}
	if mg.Status(tournamentID) != StatusRegistration {
		return ErrRegistrationClosed
	}

	mg.mu.Lock()
	for _, e := range t.players {
		if e.Player == player {
			mg.mu.Unlock()
			return ErrAlreadyRegistered
		}
	}

	// The lifecycle commits before the entrant list so a failed transition
	// never leaves a phantom entrant. A withdrawn player re-enters through
	// the withdrawn -> registered edge.
	id := playerEntityID(tournamentID, player)
	if cur, ok := mg.life.Current(statemachine.EntityPlayer, id); ok && cur == PlayerWithdrawn {
		err = mg.life.Transition(statemachine.EntityPlayer, id, PlayerRegistered, "re-registered")
	} else if !ok {
		err = mg.life.Initialize(statemachine.EntityPlayer, id, PlayerRegistered)
	} else {
		err = statemachine.ErrInvalidTransition
	}
	if err != nil {
		mg.mu.Unlock()
		return err
	}
	t.players = append(t.players, bracket.Entrant{Player: player, Strength: strength})
	mg.mu.Unlock()

	if err := mg.store.SaveTournament(ctx, mg.record(t)); err != nil {
		log.Printf("[Tournament] Error saving tournament %s: %v", t.ID, err)
	}
	return nil
}

// Withdraw removes a player during registration.
func (mg *Manager) Withdraw(ctx context.Context, tournamentID, player string) error {
	t, err := mg.get(tournamentID)
	if err != nil {
		return err
	}
	if mg.Status(tournamentID) != StatusRegistration {
		return ErrRegistrationClosed
	}

	mg.mu.Lock()
	found := false
	for i, e := range t.players {
		if e.Player == player {
			t.players = append(t.players[:i], t.players[i+1:]...)
			found = true
			break
		}
	}
	mg.mu.Unlock()
	if !found {
		return ErrNotRegistered
	}

	mg.life.Transition(statemachine.EntityPlayer, playerEntityID(tournamentID, player), PlayerWithdrawn, "withdrew during registration")
	if err := mg.store.SaveTournament(ctx, mg.record(t)); err != nil {
		log.Printf("[Tournament] Error saving tournament %s: %v", t.ID, err)
	}
	return nil
}

// Start closes registration, generates the bracket and launches every
// immediately playable match.
func (mg *Manager) Start(ctx context.Context, tournamentID string) error {
	t, err := mg.get(tournamentID)
	if err != nil {
		return err
	}

	mg.mu.Lock()
	entrants := append([]bracket.Entrant(nil), t.players...)
	mg.mu.Unlock()

	if len(entrants) < 2 {
		return bracket.ErrTooFewEntrants
	}

	b, err := bracket.Generate(entrants, t.Format, bracket.Options{Seeding: t.Seeding})
	if err != nil {
		return err
	}
	if err := mg.store.SaveBracket(ctx, b, 0); err != nil {
		return fmt.Errorf("error saving bracket: %w", err)
	}

	if err := mg.life.Transition(statemachine.EntityTournament, t.ID, StatusInProgress, "bracket generated"); err != nil {
		return err
	}

	mg.mu.Lock()
	t.BracketID = b.ID
	mg.mu.Unlock()

	for _, e := range entrants {
		mg.life.Transition(statemachine.EntityPlayer, playerEntityID(t.ID, e.Player), PlayerCompeting, "tournament started")
	}

	log.Printf("[Tournament] Started: ID=%s, %d entrants, bracket size %d", t.ID, len(entrants), b.Size)
	if err := mg.launchReady(ctx, t, b.ReadySlots()); err != nil {
		return err
	}
	if err := mg.store.SaveTournament(ctx, mg.record(t)); err != nil {
		log.Printf("[Tournament] Error saving tournament %s: %v", t.ID, err)
	}
	return nil
}

// Cancel aborts a tournament that has not completed.
func (mg *Manager) Cancel(ctx context.Context, tournamentID, reason string) error {
	t, err := mg.get(tournamentID)
	if err != nil {
		return err
	}
	switch mg.Status(tournamentID) {
	case StatusCompleted, StatusCancelled:
		return ErrAlreadyTerminal
	}
	if err := mg.life.Transition(statemachine.EntityTournament, t.ID, StatusCancelled, reason); err != nil {
		return err
	}

	mg.mu.Lock()
	var abandoned []string
	for matchID, tid := range mg.matchIndex {
		if tid == t.ID {
			abandoned = append(abandoned, matchID)
		}
	}
	mg.mu.Unlock()

	for _, matchID := range abandoned {
		mg.arena.CancelMatch(matchID, "tournament cancelled")
	}

	if err := mg.store.SaveTournament(ctx, mg.record(t)); err != nil {
		log.Printf("[Tournament] Error saving tournament %s: %v", t.ID, err)
	}
	return nil
}

// HandleMatchResult feeds one finished tournament match into bracket
// progression and launches any matches that became playable. A match that
// timed out with no submitter, or was cancelled, advances a BYE instead of a
// winner so the downstream opponent walks over.
func (mg *Manager) HandleMatchResult(ctx context.Context, m *match.Match) error {
	mg.mu.Lock()
	tournamentID, ok := mg.matchIndex[m.ID]
	mg.mu.Unlock()
	if !ok {
		return ErrUnknownMatch
	}

	t, err := mg.get(tournamentID)
	if err != nil {
		return err
	}

	state := m.GetState()
	adv, err := mg.prog.RecordResult(ctx, t.BracketID, m.ID, state.Winner)
	if err != nil {
		// The match stays linked so a retry can record the result.
		return err
	}

	mg.mu.Lock()
	delete(mg.matchIndex, m.ID)
	mg.mu.Unlock()

	if mg.onAdvance != nil {
		go mg.onAdvance(t, m.ID, adv)
	}

	if err := mg.launchReady(ctx, t, adv.Ready); err != nil {
		return err
	}
	if adv.Completed {
		return mg.complete(ctx, t, adv.Champion)
	}
	return nil
}

// launchReady creates an arena match for each playable slot and binds it to
// the bracket.
func (mg *Manager) launchReady(ctx context.Context, t *Tournament, slots []*bracket.Slot) error {
	for _, slot := range slots {
		m, err := mg.arena.CreateTournamentMatch(slot.Home.Player, slot.Away.Player, t.BestOf)
		if err != nil {
			return fmt.Errorf("error creating match for slot %s/%d/%d: %w", slot.Side, slot.Round, slot.Index, err)
		}

		mg.mu.Lock()
		mg.matchIndex[m.ID] = t.ID
		mg.mu.Unlock()

		if _, err := mg.prog.AttachMatch(ctx, t.BracketID, slot.Ref(), m.ID); err != nil {
			return err
		}
	}
	return nil
}

// complete finishes the tournament and settles every player's final state.
func (mg *Manager) complete(ctx context.Context, t *Tournament, champion string) error {
	if err := mg.life.Transition(statemachine.EntityTournament, t.ID, StatusCompleted, fmt.Sprintf("champion: %s", champion)); err != nil {
		return err
	}

	mg.mu.Lock()
	t.winner = champion
	t.CompletedAt = mg.clk.Now()
	players := append([]bracket.Entrant(nil), t.players...)
	mg.mu.Unlock()

	for _, e := range players {
		id := playerEntityID(t.ID, e.Player)
		if e.Player == champion {
			mg.life.Transition(statemachine.EntityPlayer, id, PlayerChampion, "won the tournament")
		} else {
			mg.life.Transition(statemachine.EntityPlayer, id, PlayerEliminated, "tournament over")
		}
	}

	if err := mg.store.SaveTournament(ctx, mg.record(t)); err != nil {
		log.Printf("[Tournament] Error saving tournament %s: %v", t.ID, err)
	}

	log.Printf("[Tournament] Completed: ID=%s, champion=%s", t.ID, champion)
	if mg.onCompleted != nil {
		go mg.onCompleted(t)
	}
	return nil
}

// AddSpectator registers a watcher on the tournament.
func (mg *Manager) AddSpectator(tournamentID, spectator string) error {
	t, err := mg.get(tournamentID)
	if err != nil {
		return err
	}

	mg.mu.Lock()
	defer mg.mu.Unlock()
	if t.spectators[spectator] {
		return nil
	}

	// Lifecycle first, so a failed transition never leaves the spectator
	// counted. A returning watcher re-enters through left -> watching.
	id := spectatorEntityID(tournamentID, spectator)
	if cur, ok := mg.life.Current(statemachine.EntitySpectator, id); ok && cur == SpectatorLeft {
		err = mg.life.Transition(statemachine.EntitySpectator, id, SpectatorWatching, "rejoined")
	} else if !ok {
		err = mg.life.Initialize(statemachine.EntitySpectator, id, SpectatorWatching)
	} else {
		err = statemachine.ErrInvalidTransition
	}
	if err != nil {
		return err
	}
	t.spectators[spectator] = true
	return nil
}

// RemoveSpectator drops a watcher.
func (mg *Manager) RemoveSpectator(tournamentID, spectator string) error {
	t, err := mg.get(tournamentID)
	if err != nil {
		return err
	}

	mg.mu.Lock()
	present := t.spectators[spectator]
	delete(t.spectators, spectator)
	mg.mu.Unlock()
	if !present {
		return nil
	}

	return mg.life.Transition(statemachine.EntitySpectator, spectatorEntityID(tournamentID, spectator), SpectatorLeft, "")
}

// Status returns the tournament's lifecycle state.
func (mg *Manager) Status(tournamentID string) statemachine.State {
	state, _ := mg.life.Current(statemachine.EntityTournament, tournamentID)
	return state
}

// Get returns a live tournament by id.
func (mg *Manager) Get(tournamentID string) (*Tournament, error) {
	return mg.get(tournamentID)
}

// Bracket loads the tournament's bracket document.
func (mg *Manager) Bracket(ctx context.Context, tournamentID string) (*bracket.Bracket, error) {
	t, err := mg.get(tournamentID)
	if err != nil {
		return nil, err
	}
	if t.BracketID == "" {
		return nil, ErrNotStarted
	}
	return mg.store.GetBracket(ctx, t.BracketID)
}

// IsTournamentMatch reports whether a live match belongs to a tournament.
func (mg *Manager) IsTournamentMatch(matchID string) (string, bool) {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	tournamentID, ok := mg.matchIndex[matchID]
	return tournamentID, ok
}

func (mg *Manager) get(tournamentID string) (*Tournament, error) {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	t, ok := mg.tournaments[tournamentID]
	if !ok {
		return nil, ErrTournamentNotFound
	}
	return t, nil
}

// record builds the persistence row for a tournament.
func (mg *Manager) record(t *Tournament) *storage.TournamentRecord {
	mg.mu.Lock()
	defer mg.mu.Unlock()

	players := make([]string, len(t.players))
	for i, e := range t.players {
		players[i] = e.Player
	}
	return &storage.TournamentRecord{
		ID:          t.ID,
		Name:        t.Name,
		Format:      string(t.Format),
		Status:      string(mg.statusLocked(t.ID)),
		BracketID:   t.BracketID,
		Winner:      t.winner,
		Players:     players,
		CreatedAt:   t.CreatedAt,
		CompletedAt: t.CompletedAt,
	}
}

func (mg *Manager) statusLocked(tournamentID string) statemachine.State {
	state, _ := mg.life.Current(statemachine.EntityTournament, tournamentID)
	return state
}

// State is a read-only tournament snapshot for serialization.
type State struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Format      bracket.Type       `json:"format"`
	Status      statemachine.State `json:"status"`
	BestOf      int                `json:"bestOf"`
	Players     []string           `json:"players"`
	Spectators  int                `json:"spectators"`
	BracketID   string             `json:"bracketId,omitempty"`
	Winner      string             `json:"winner,omitempty"`
	CreatedAt   time.Time          `json:"createdAt"`
	CompletedAt time.Time          `json:"completedAt,omitempty"`
}

// GetState returns the tournament snapshot.
func (mg *Manager) GetState(tournamentID string) (*State, error) {
	t, err := mg.get(tournamentID)
	if err != nil {
		return nil, err
	}

	mg.mu.Lock()
	defer mg.mu.Unlock()
	players := make([]string, len(t.players))
	for i, e := range t.players {
		players[i] = e.Player
	}
	return &State{
		ID:          t.ID,
		Name:        t.Name,
		Format:      t.Format,
		Status:      mg.statusLocked(t.ID),
		BestOf:      t.BestOf,
		Players:     players,
		Spectators:  len(t.spectators),
		BracketID:   t.BracketID,
		Winner:      t.winner,
		CreatedAt:   t.CreatedAt,
		CompletedAt: t.CompletedAt,
	}, nil
}

// List returns snapshots of every live tournament.
func (mg *Manager) List() []*State {
	mg.mu.Lock()
	ids := make([]string, 0, len(mg.tournaments))
	for id := range mg.tournaments {
		ids = append(ids, id)
	}
	mg.mu.Unlock()

	out := make([]*State, 0, len(ids))
	for _, id := range ids {
		if s, err := mg.GetState(id); err == nil {
			out = append(out, s)
		}
	}
	return out
}

func playerEntityID(tournamentID, player string) string {
	return fmt.Sprintf("%s:%s", tournamentID, player)
}

func spectatorEntityID(tournamentID, spectator string) string {
	return fmt.Sprintf("%s:%s", tournamentID, spectator)
}

// Errors
var (
	ErrTournamentNotFound = &TournamentError{"tournament not found"}
	ErrRegistrationClosed = &TournamentError{"tournament is not accepting registrations"}
	ErrAlreadyRegistered  = &TournamentError{"player already registered"}
	ErrNotRegistered      = &TournamentError{"player is not registered"}
	ErrNotStarted         = &TournamentError{"tournament has not started"}
	ErrAlreadyTerminal    = &TournamentError{"tournament already reached a terminal state"}
	ErrUnknownMatch       = &TournamentError{"match does not belong to any tournament"}
)

type TournamentError struct {
	msg string
}

func (e *TournamentError) Error() string {
	return e.msg
}
