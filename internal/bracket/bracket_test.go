package bracket

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entrants(n int) []Entrant {
	out := make([]Entrant, n)
	for i := 0; i < n; i++ {
		// Strength descends with seed number: p1 is the strongest.
		out[i] = Entrant{Player: fmt.Sprintf("p%d", i+1), Strength: float64(n - i)}
	}
	return out
}

func TestGenerateSizing(t *testing.T) {
	cases := []struct {
		n, size, rounds, byes int
	}{
		{2, 2, 1, 0},
		{3, 4, 2, 1},
		{4, 4, 2, 0},
		{5, 8, 3, 3},
		{7, 8, 3, 1},
		{8, 8, 3, 0},
		{9, 16, 4, 7},
	}

	for _, tc := range cases {
		b, err := Generate(entrants(tc.n), SingleElimination, Options{})
		require.NoError(t, err)
		assert.Equal(t, tc.size, b.Size, "n=%d", tc.n)
		assert.Equal(t, tc.rounds, b.Rounds, "n=%d", tc.n)
		assert.Equal(t, tc.byes, b.ByeCount(), "n=%d", tc.n)
	}

	_, err := Generate(entrants(1), SingleElimination, Options{})
	assert.ErrorIs(t, err, ErrTooFewEntrants)
}

func TestSeedingIsAPermutation(t *testing.T) {
	for _, seeding := range []Seeding{SeedingStandard, SeedingRandom, SeedingSnake} {
		for _, n := range []int{2, 3, 5, 8, 13} {
			b, err := Generate(entrants(n), SingleElimination, Options{
				Seeding: seeding,
				Rand:    rand.New(rand.NewSource(42)),
			})
			require.NoError(t, err)

			seen := map[string]int{}
			byes := 0
			for _, s := range b.Slots {
				if s.Round != 1 {
					continue
				}
				for _, occ := range []Occupant{s.Home, s.Away} {
					if occ.Bye {
						byes++
					} else {
						seen[occ.Player]++
					}
				}
			}

			assert.Len(t, seen, n, "seeding=%s n=%d", seeding, n)
			for player, count := range seen {
				assert.Equal(t, 1, count, "seeding=%s n=%d player=%s", seeding, n, player)
			}
			assert.Equal(t, b.Size-n, byes, "seeding=%s n=%d", seeding, n)
		}
	}
}

func TestStandardSeedingPairsTopAgainstBottom(t *testing.T) {
	b, err := Generate(entrants(8), SingleElimination, Options{Seeding: SeedingStandard})
	require.NoError(t, err)

	first := b.Slot(SideWinners, 1, 0)
	assert.Equal(t, "p1", first.Home.Player)
	assert.Equal(t, "p8", first.Away.Player)

	second := b.Slot(SideWinners, 1, 1)
	assert.Equal(t, "p2", second.Home.Player)
	assert.Equal(t, "p7", second.Away.Player)
}

func TestFiveEntrantScenario(t *testing.T) {
	// 5 entrants: bracket of 8, 3 BYEs, exactly one playable round-1 match,
	// and round 2 fully occupied before it starts.
	b, err := Generate(entrants(5), SingleElimination, Options{Seeding: SeedingStandard})
	require.NoError(t, err)

	assert.Equal(t, 8, b.Size)
	assert.Equal(t, 3, b.ByeCount())

	var playable, autoAdvanced int
	for i := 0; i < 4; i++ {
		s := b.Slot(SideWinners, 1, i)
		if s.Done {
			autoAdvanced++
			assert.NotEmpty(t, s.Winner.Player, "bye winners are real players")
		} else {
			playable++
		}
	}
	assert.Equal(t, 1, playable)
	assert.Equal(t, 3, autoAdvanced)

	// 3 auto-advances landed in round 2; the 4th half waits on the real match.
	assert.Equal(t, 3, round2Occupants(b))

	store := newMemStore()
	store.put(b)
	prog := NewProgression(store)

	var real *Slot
	for _, s := range b.ReadySlots() {
		if s.Round == 1 {
			real = s
		}
	}
	require.NotNil(t, real)
	ctx := context.Background()
	_, err = prog.AttachMatch(ctx, b.ID, real.Ref(), "m1")
	require.NoError(t, err)
	_, err = prog.RecordResult(ctx, b.ID, "m1", real.Home.Player)
	require.NoError(t, err)

	after, err := store.GetBracket(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, round2Occupants(after), "round 2 fully occupied once round 1 resolves")
}

func round2Occupants(b *Bracket) int {
	n := 0
	for i := 0; i < 2; i++ {
		s := b.Slot(SideWinners, 2, i)
		if !s.Home.Empty() {
			n++
		}
		if !s.Away.Empty() {
			n++
		}
	}
	return n
}

func TestBracketSurvivesJSONRoundTrip(t *testing.T) {
	// The store persists brackets as JSON documents; routing must survive.
	b, err := Generate(entrants(6), DoubleElimination, Options{Seeding: SeedingStandard})
	require.NoError(t, err)

	data, err := json.Marshal(b)
	require.NoError(t, err)

	var restored Bracket
	require.NoError(t, json.Unmarshal(data, &restored))
	assert.Equal(t, len(b.Slots), len(restored.Slots))
	assert.NotNil(t, restored.Slot(SideWinners, 1, 0).WinnerTo)
}

// memStore is a minimal conditional-save store for progression tests.
type memStore struct {
	mu sync.Mutex
	b  map[string]string
}

func newMemStore() *memStore {
	return &memStore{b: make(map[string]string)}
}

func (s *memStore) put(b *Bracket) {
	data, _ := json.Marshal(b)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.b[b.ID] = string(data)
}

func (s *memStore) GetBracket(_ context.Context, id string) (*Bracket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.b[id]
	if !ok {
		return nil, fmt.Errorf("bracket %s not found", id)
	}
	var b Bracket
	if err := json.Unmarshal([]byte(data), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *memStore) SaveBracket(_ context.Context, b *Bracket, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var current Bracket
	if data, ok := s.b[b.ID]; ok {
		if err := json.Unmarshal([]byte(data), &current); err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return ErrVersionConflict
		}
	}
	b.Version = expectedVersion + 1
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	s.b[b.ID] = string(data)
	return nil
}

// runBracket drives a bracket to completion, returning loss counts per
// player. pickWinner chooses between a slot's two players.
func runBracket(t *testing.T, store *memStore, id string, pickWinner func(home, away string) string) (string, map[string]int) {
	t.Helper()
	ctx := context.Background()
	prog := NewProgression(store)
	losses := map[string]int{}

	for step := 0; step < 256; step++ {
		b, err := store.GetBracket(ctx, id)
		require.NoError(t, err)
		if b.Status == StatusCompleted {
			return b.Winner, losses
		}

		ready := b.ReadySlots()
		require.NotEmpty(t, ready, "bracket stalled: not completed but no playable slots")

		slot := ready[0]
		matchID := fmt.Sprintf("match-%d", step)
		_, err = prog.AttachMatch(ctx, id, slot.Ref(), matchID)
		require.NoError(t, err)

		winner := pickWinner(slot.Home.Player, slot.Away.Player)
		loser := slot.Home.Player
		if loser == winner {
			loser = slot.Away.Player
		}
		losses[loser]++

		_, err = prog.RecordResult(ctx, id, matchID, winner)
		require.NoError(t, err)
	}
	t.Fatal("bracket did not complete")
	return "", nil
}

func firstAlphabetically(home, away string) string {
	if home < away {
		return home
	}
	return away
}

func TestSingleEliminationPlaysOut(t *testing.T) {
	for n := 2; n <= 16; n++ {
		b, err := Generate(entrants(n), SingleElimination, Options{Seeding: SeedingStandard})
		require.NoError(t, err)
		store := newMemStore()
		store.put(b)

		champion, losses := runBracket(t, store, b.ID, firstAlphabetically)
		require.NotEmpty(t, champion, "n=%d", n)

		assert.Zero(t, losses[champion], "n=%d", n)
		assert.Len(t, losses, n-1, "n=%d: every other entrant lost exactly once", n)
		for player, count := range losses {
			assert.Equal(t, 1, count, "n=%d player=%s", n, player)
		}
	}
}

func TestDoubleEliminationTwoLossInvariant(t *testing.T) {
	// Every entrant except the champion accumulates exactly two losses,
	// for all entrant counts and several winner orderings.
	rng := rand.New(rand.NewSource(7))
	pickers := map[string]func(home, away string) string{
		"alphabetical": firstAlphabetically,
		"reverse": func(home, away string) string {
			if home > away {
				return home
			}
			return away
		},
		"random": func(home, away string) string {
			if rng.Intn(2) == 0 {
				return home
			}
			return away
		},
	}

	for name, pick := range pickers {
		for n := 2; n <= 16; n++ {
			b, err := Generate(entrants(n), DoubleElimination, Options{Seeding: SeedingStandard})
			require.NoError(t, err)
			store := newMemStore()
			store.put(b)

			champion, losses := runBracket(t, store, b.ID, pick)
			require.NotEmpty(t, champion, "picker=%s n=%d", name, n)

			assert.LessOrEqual(t, losses[champion], 1, "picker=%s n=%d champion", name, n)
			delete(losses, champion)
			assert.Len(t, losses, n-1, "picker=%s n=%d", name, n)
			for player, count := range losses {
				assert.Equal(t, 2, count, "picker=%s n=%d player=%s", name, n, player)
			}
		}
	}
}

func TestRecordResultIsIdempotent(t *testing.T) {
	ctx := context.Background()
	b, err := Generate(entrants(4), SingleElimination, Options{Seeding: SeedingStandard})
	require.NoError(t, err)
	store := newMemStore()
	store.put(b)
	prog := NewProgression(store)

	slot := b.ReadySlots()[0]
	_, err = prog.AttachMatch(ctx, b.ID, slot.Ref(), "m1")
	require.NoError(t, err)

	first, err := prog.RecordResult(ctx, b.ID, "m1", slot.Home.Player)
	require.NoError(t, err)

	second, err := prog.RecordResult(ctx, b.ID, "m1", slot.Home.Player)
	require.NoError(t, err)
	assert.Empty(t, second.Ready, "duplicate completion advances nothing")
	assert.Equal(t, first.Completed, second.Completed)
}

func TestDoubleWalkoverPropagatesBye(t *testing.T) {
	ctx := context.Background()
	b, err := Generate(entrants(4), SingleElimination, Options{Seeding: SeedingStandard})
	require.NoError(t, err)
	store := newMemStore()
	store.put(b)
	prog := NewProgression(store)

	slots := b.ReadySlots()
	require.Len(t, slots, 2)
	_, err = prog.AttachMatch(ctx, b.ID, slots[0].Ref(), "m1")
	require.NoError(t, err)
	_, err = prog.AttachMatch(ctx, b.ID, slots[1].Ref(), "m2")
	require.NoError(t, err)

	// m1 times out with no submitter on either side: its winner half
	// becomes a BYE, so m2's winner should take the final automatically.
	_, err = prog.RecordResult(ctx, b.ID, "m1", "")
	require.NoError(t, err)

	adv, err := prog.RecordResult(ctx, b.ID, "m2", slots[1].Home.Player)
	require.NoError(t, err)
	assert.True(t, adv.Completed)
	assert.Equal(t, slots[1].Home.Player, adv.Champion)
}

func TestConcurrentSlotClaim(t *testing.T) {
	// Two matches completing "simultaneously" into the same next-round
	// slot: exactly one caller must observe the slot become ready.
	for trial := 0; trial < 25; trial++ {
		ctx := context.Background()
		b, err := Generate(entrants(4), SingleElimination, Options{Seeding: SeedingStandard})
		require.NoError(t, err)
		store := newMemStore()
		store.put(b)
		prog := NewProgression(store)

		slots := b.ReadySlots()
		require.Len(t, slots, 2)
		winners := make([]string, 2)
		for i, s := range slots {
			_, err = prog.AttachMatch(ctx, b.ID, s.Ref(), fmt.Sprintf("m%d", i))
			require.NoError(t, err)
			winners[i] = s.Home.Player
		}

		results := make([]*Advance, 2)
		errs := make([]error, 2)
		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = prog.RecordResult(ctx, b.ID, fmt.Sprintf("m%d", i), winners[i])
			}(i)
		}
		wg.Wait()
		require.NoError(t, errs[0])
		require.NoError(t, errs[1])

		readyCount := len(results[0].Ready) + len(results[1].Ready)
		assert.Equal(t, 1, readyCount, "exactly one caller creates the final")

		final, err := store.GetBracket(ctx, b.ID)
		require.NoError(t, err)
		finalSlot := final.Slot(SideWinners, 2, 0)
		occupants := map[string]bool{finalSlot.Home.Player: true, finalSlot.Away.Player: true}
		assert.True(t, occupants[winners[0]] && occupants[winners[1]],
			"both winners present regardless of arrival order")
	}
}
