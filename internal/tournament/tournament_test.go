package tournament

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rps-arena/internal/arena"
	"github.com/rps-arena/internal/bracket"
	"github.com/rps-arena/internal/clock"
	"github.com/rps-arena/internal/match"
	"github.com/rps-arena/internal/rps"
	"github.com/rps-arena/internal/statemachine"
	"github.com/rps-arena/internal/storage"
)

type fixture struct {
	mgr   *Manager
	arena *arena.Arena
	store *storage.MemoryStore
	life  *statemachine.Machine
	clk   *clock.Fake
}

func newFixture() *fixture {
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	life := statemachine.New(clk)
	match.RegisterLifecycles(life)
	RegisterLifecycles(life)
	store := storage.NewMemoryStore()
	a := arena.New(life, clk, 3, 30*time.Second)
	return &fixture{
		mgr:   NewManager(a, store, life, clk),
		arena: a,
		store: store,
		life:  life,
		clk:   clk,
	}
}

func (f *fixture) liveMatches() []string {
	f.mgr.mu.Lock()
	defer f.mgr.mu.Unlock()
	out := make([]string, 0, len(f.mgr.matchIndex))
	for id := range f.mgr.matchIndex {
		out = append(out, id)
	}
	return out
}

// playMatch has player1 beat player2 in straight rounds, then feeds the
// result back into the manager.
func (f *fixture) playMatch(t *testing.T, ctx context.Context, matchID string) {
	t.Helper()
	m := f.arena.GetMatch(matchID)
	require.NotNil(t, m)

	for m.Status() == match.StatusWaitingForMoves {
		_, err := f.arena.SubmitMove(matchID, m.Player1, rps.Rock)
		require.NoError(t, err)
		_, err = f.arena.SubmitMove(matchID, m.Player2, rps.Scissors)
		require.NoError(t, err)
	}
	require.NoError(t, f.mgr.HandleMatchResult(ctx, m))
}

func registerFour(t *testing.T, ctx context.Context, f *fixture) *Tournament {
	t.Helper()
	tn, err := f.mgr.Create(ctx, "Friday Cup", bracket.SingleElimination, bracket.SeedingStandard, 3)
	require.NoError(t, err)

	for i, player := range []string{"alice", "bob", "carol", "dave"} {
		require.NoError(t, f.mgr.Register(ctx, tn.ID, player, float64(4-i)))
	}
	return tn
}

func TestRegistrationPhase(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	tn := registerFour(t, ctx, f)

	assert.Equal(t, StatusRegistration, f.mgr.Status(tn.ID))
	assert.ErrorIs(t, f.mgr.Register(ctx, tn.ID, "alice", 1), ErrAlreadyRegistered)

	require.NoError(t, f.mgr.Withdraw(ctx, tn.ID, "dave"))
	assert.ErrorIs(t, f.mgr.Withdraw(ctx, tn.ID, "dave"), ErrNotRegistered)
	require.NoError(t, f.mgr.Register(ctx, tn.ID, "erin", 0))

	require.NoError(t, f.mgr.Start(ctx, tn.ID))
	assert.Equal(t, StatusInProgress, f.mgr.Status(tn.ID))
	assert.ErrorIs(t, f.mgr.Register(ctx, tn.ID, "frank", 0), ErrRegistrationClosed)
}

func TestWithdrawnPlayerCanReRegister(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	tn := registerFour(t, ctx, f)

	require.NoError(t, f.mgr.Withdraw(ctx, tn.ID, "alice"))
	require.NoError(t, f.mgr.Register(ctx, tn.ID, "alice", 4))

	got, _ := f.life.Current(statemachine.EntityPlayer, playerEntityID(tn.ID, "alice"))
	assert.Equal(t, PlayerRegistered, got)

	// The entrant list holds alice exactly once.
	state, err := f.mgr.GetState(tn.ID)
	require.NoError(t, err)
	count := 0
	for _, p := range state.Players {
		if p == "alice" {
			count++
		}
	}
	assert.Equal(t, 1, count)

	require.NoError(t, f.mgr.Start(ctx, tn.ID))
	got, _ = f.life.Current(statemachine.EntityPlayer, playerEntityID(tn.ID, "alice"))
	assert.Equal(t, PlayerCompeting, got)
}

func TestStartNeedsTwoPlayers(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	tn, err := f.mgr.Create(ctx, "Empty Cup", bracket.SingleElimination, bracket.SeedingStandard, 3)
	require.NoError(t, err)
	require.NoError(t, f.mgr.Register(ctx, tn.ID, "alice", 0))

	assert.ErrorIs(t, f.mgr.Start(ctx, tn.ID), bracket.ErrTooFewEntrants)
}

func TestSingleEliminationPlaysToChampion(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	tn := registerFour(t, ctx, f)
	require.NoError(t, f.mgr.Start(ctx, tn.ID))

	// Four players, full bracket: both semifinals playable at once.
	semis := f.liveMatches()
	require.Len(t, semis, 2)

	for _, id := range semis {
		f.playMatch(t, ctx, id)
	}

	finals := f.liveMatches()
	require.Len(t, finals, 1)
	f.playMatch(t, ctx, finals[0])

	assert.Equal(t, StatusCompleted, f.mgr.Status(tn.ID))

	state, err := f.mgr.GetState(tn.ID)
	require.NoError(t, err)
	require.NotEmpty(t, state.Winner)

	// Persisted record reflects the final standing.
	rec, err := f.store.GetTournament(ctx, tn.ID)
	require.NoError(t, err)
	assert.Equal(t, string(StatusCompleted), rec.Status)
	assert.Equal(t, state.Winner, rec.Winner)

	// Player entities settle into champion/eliminated.
	champState, _ := f.life.Current(statemachine.EntityPlayer, playerEntityID(tn.ID, state.Winner))
	assert.Equal(t, PlayerChampion, champState)
	for _, player := range state.Players {
		if player == state.Winner {
			continue
		}
		got, _ := f.life.Current(statemachine.EntityPlayer, playerEntityID(tn.ID, player))
		assert.Equal(t, PlayerEliminated, got)
	}
}

func TestDoubleEliminationPlaysToChampion(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	tn, err := f.mgr.Create(ctx, "Revenge Cup", bracket.DoubleElimination, bracket.SeedingStandard, 1)
	require.NoError(t, err)
	for i, player := range []string{"alice", "bob", "carol", "dave"} {
		require.NoError(t, f.mgr.Register(ctx, tn.ID, player, float64(4-i)))
	}
	require.NoError(t, f.mgr.Start(ctx, tn.ID))

	for rounds := 0; f.mgr.Status(tn.ID) != StatusCompleted; rounds++ {
		require.Less(t, rounds, 16, "tournament never completed")
		live := f.liveMatches()
		require.NotEmpty(t, live)
		f.playMatch(t, ctx, live[0])
	}

	state, err := f.mgr.GetState(tn.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, state.Winner)
}

func TestTimeoutWalkoverAdvancesBye(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	tn := registerFour(t, ctx, f)
	require.NoError(t, f.mgr.Start(ctx, tn.ID))

	semis := f.liveMatches()
	require.Len(t, semis, 2)

	// Neither player moves in the first semifinal: the slot becomes a
	// walkover and its half of the final turns into a BYE.
	dead := f.arena.GetMatch(semis[0])
	f.clk.Advance(time.Minute)
	out, err := dead.HandleTimeout()
	require.NoError(t, err)
	require.True(t, out.Applied)
	assert.Empty(t, out.Winner)
	require.NoError(t, f.mgr.HandleMatchResult(ctx, dead))

	// The second semifinal's deadline also passed with no moves.
	alive := f.arena.GetMatch(semis[1])
	_, err = alive.HandleTimeout()
	require.NoError(t, err)
	require.NoError(t, f.mgr.HandleMatchResult(ctx, alive))

	// Both semifinals produced no winner, so the whole bracket resolves to
	// a walkover with no champion.
	assert.Equal(t, StatusCompleted, f.mgr.Status(tn.ID))
	state, err := f.mgr.GetState(tn.ID)
	require.NoError(t, err)
	assert.Empty(t, state.Winner)
}

func TestSoleSubmitterAdvancesFromTimeout(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	tn := registerFour(t, ctx, f)
	require.NoError(t, f.mgr.Start(ctx, tn.ID))

	semis := f.liveMatches()
	require.Len(t, semis, 2)

	first := f.arena.GetMatch(semis[0])
	_, err := f.arena.SubmitMove(first.ID, first.Player1, rps.Rock)
	require.NoError(t, err)

	f.clk.Advance(time.Minute)
	out, err := first.HandleTimeout()
	require.NoError(t, err)
	assert.Equal(t, first.Player1, out.Winner)
	require.NoError(t, f.mgr.HandleMatchResult(ctx, first))

	second := f.arena.GetMatch(semis[1])
	_, err = second.HandleTimeout()
	require.NoError(t, err)
	require.NoError(t, f.mgr.HandleMatchResult(ctx, second))

	// The sole submitter meets a BYE in the final and takes the title.
	assert.Equal(t, StatusCompleted, f.mgr.Status(tn.ID))
	state, err := f.mgr.GetState(tn.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Player1, state.Winner)
}

func TestSpectatorLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	tn := registerFour(t, ctx, f)

	require.NoError(t, f.mgr.AddSpectator(tn.ID, "watcher"))
	// Watching twice is harmless.
	require.NoError(t, f.mgr.AddSpectator(tn.ID, "watcher"))

	state, err := f.mgr.GetState(tn.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, state.Spectators)

	require.NoError(t, f.mgr.RemoveSpectator(tn.ID, "watcher"))
	got, _ := f.life.Current(statemachine.EntitySpectator, spectatorEntityID(tn.ID, "watcher"))
	assert.Equal(t, SpectatorLeft, got)

	// A watcher who left can come back, and the count stays at one.
	require.NoError(t, f.mgr.AddSpectator(tn.ID, "watcher"))
	got, _ = f.life.Current(statemachine.EntitySpectator, spectatorEntityID(tn.ID, "watcher"))
	assert.Equal(t, SpectatorWatching, got)

	state, err = f.mgr.GetState(tn.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, state.Spectators)

	require.NoError(t, f.mgr.RemoveSpectator(tn.ID, "watcher"))
}

func TestCancelAbandonsLiveMatches(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	tn := registerFour(t, ctx, f)
	require.NoError(t, f.mgr.Start(ctx, tn.ID))

	semis := f.liveMatches()
	require.Len(t, semis, 2)
	m := f.arena.GetMatch(semis[0])

	require.NoError(t, f.mgr.Cancel(ctx, tn.ID, "venue closed"))
	assert.Equal(t, StatusCancelled, f.mgr.Status(tn.ID))
	assert.Equal(t, match.StatusCancelled, m.Status())

	// Cancelling again is reported as terminal, not an invalid transition.
	assert.ErrorIs(t, f.mgr.Cancel(ctx, tn.ID, "again"), ErrAlreadyTerminal)
}

func TestCancelAfterCompletionIsTerminal(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	tn := registerFour(t, ctx, f)
	require.NoError(t, f.mgr.Start(ctx, tn.ID))

	for f.mgr.Status(tn.ID) != StatusCompleted {
		live := f.liveMatches()
		require.NotEmpty(t, live)
		f.playMatch(t, ctx, live[0])
	}

	assert.ErrorIs(t, f.mgr.Cancel(ctx, tn.ID, "too late"), ErrAlreadyTerminal)
	assert.Equal(t, StatusCompleted, f.mgr.Status(tn.ID))
}

// flakyStore fails a configured number of bracket saves before recovering.
type flakyStore struct {
	*storage.MemoryStore
	failSaves int
}

func (s *flakyStore) SaveBracket(ctx context.Context, b *bracket.Bracket, expectedVersion int) error {
	if s.failSaves > 0 {
		s.failSaves--
		return errors.New("store unavailable")
	}
	return s.MemoryStore.SaveBracket(ctx, b, expectedVersion)
}

func TestResultStaysLinkedWhenStoreFails(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	life := statemachine.New(clk)
	match.RegisterLifecycles(life)
	RegisterLifecycles(life)
	flaky := &flakyStore{MemoryStore: storage.NewMemoryStore()}
	a := arena.New(life, clk, 3, 30*time.Second)
	mgr := NewManager(a, flaky, life, clk)

	tn, err := mgr.Create(ctx, "Flaky Cup", bracket.SingleElimination, bracket.SeedingStandard, 1)
	require.NoError(t, err)
	require.NoError(t, mgr.Register(ctx, tn.ID, "alice", 2))
	require.NoError(t, mgr.Register(ctx, tn.ID, "bob", 1))
	require.NoError(t, mgr.Start(ctx, tn.ID))

	var final *match.Match
	mgr.mu.Lock()
	for id := range mgr.matchIndex {
		final = a.GetMatch(id)
	}
	mgr.mu.Unlock()
	require.NotNil(t, final)

	_, err = a.SubmitMove(final.ID, final.Player1, rps.Rock)
	require.NoError(t, err)
	_, err = a.SubmitMove(final.ID, final.Player2, rps.Scissors)
	require.NoError(t, err)

	// A failed save must not unlink the match from its tournament.
	flaky.failSaves = 1
	require.Error(t, mgr.HandleMatchResult(ctx, final))
	_, linked := mgr.IsTournamentMatch(final.ID)
	assert.True(t, linked)

	// A retry records the result and finishes the tournament.
	require.NoError(t, mgr.HandleMatchResult(ctx, final))
	assert.Equal(t, StatusCompleted, mgr.Status(tn.ID))
	state, err := mgr.GetState(tn.ID)
	require.NoError(t, err)
	assert.Equal(t, final.Player1, state.Winner)
}
