package bracket

import (
	"math/rand"
	"sort"

	"github.com/google/uuid"
)

// Type selects the elimination structure
type Type string

const (
	SingleElimination Type = "single_elimination"
	DoubleElimination Type = "double_elimination"
)

// Seeding selects how entrants are ordered into round-1 slots
type Seeding string

const (
	SeedingStandard Seeding = "standard"
	SeedingRandom   Seeding = "random"
	SeedingSnake    Seeding = "snake"
)

// Status of the bracket as a whole
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Side distinguishes the winners bracket, the losers bracket and the grand
// final in double elimination. Single elimination only uses SideWinners.
type Side string

const (
	SideWinners    Side = "winners"
	SideLosers     Side = "losers"
	SideGrandFinal Side = "grand_final"
)

// Half names one of the two positions in a slot.
type Half string

const (
	HalfHome Half = "home"
	HalfAway Half = "away"
)

// Entrant is a player with an optional strength score used by seeding.
type Entrant struct {
	Player   string  `json:"player"`
	Strength float64 `json:"strength,omitempty"`
}

// Occupant fills half of a slot: a player, a BYE, or nothing yet.
type Occupant struct {
	Player string `json:"player,omitempty"`
	Bye    bool   `json:"bye,omitempty"`
}

// Empty reports whether the half is still unassigned.
func (o Occupant) Empty() bool {
	return o.Player == "" && !o.Bye
}

// SlotRef addresses one half of a slot for routing.
type SlotRef struct {
	Side  Side `json:"side"`
	Round int  `json:"round"`
	Index int  `json:"index"`
	Half  Half `json:"half"`
}

// Slot is a position in the bracket awaiting two occupants. WinnerTo and
// LoserTo are fixed at generation time, so final occupancy is deterministic
// regardless of which feeder match finishes first.
type Slot struct {
	Side     Side     `json:"side"`
	Round    int      `json:"round"`
	Index    int      `json:"index"`
	Home     Occupant `json:"home"`
	Away     Occupant `json:"away"`
	WinnerTo *SlotRef `json:"winnerTo,omitempty"`
	LoserTo  *SlotRef `json:"loserTo,omitempty"`
	MatchID  string   `json:"matchId,omitempty"`
	Done     bool     `json:"done"`
	Winner   Occupant `json:"winner"`
}

// Ready reports whether the slot has two real players and no match yet.
func (s *Slot) Ready() bool {
	return !s.Done && s.MatchID == "" &&
		s.Home.Player != "" && s.Away.Player != ""
}

// Bracket is the elimination topology for one tournament.
type Bracket struct {
	ID       string   `json:"id"`
	Type     Type     `json:"type"`
	Size     int      `json:"size"`
	Rounds   int      `json:"rounds"`
	Entrants []string `json:"entrants"`
	Slots    []*Slot  `json:"slots"`
	Status   Status   `json:"status"`
	Winner   string   `json:"winner,omitempty"`

	// Version supports the store's conditional save. The store bumps it.
	Version int `json:"version"`
}

// Options tunes generation. Rand is only consulted by random seeding; a nil
// Rand falls back to the global source.
type Options struct {
	Seeding Seeding
	Rand    *rand.Rand
}

// Generate seeds the entrants into a bracket skeleton with BYE padding and
// precomputed winner/loser routing, then auto-resolves every BYE pairing.
func Generate(entrants []Entrant, typ Type, opts Options) (*Bracket, error) {
	if len(entrants) < 2 {
		return nil, ErrTooFewEntrants
	}
	if typ != SingleElimination && typ != DoubleElimination {
		return nil, ErrUnknownType
	}

	size := nextPowerOfTwo(len(entrants))
	rounds := log2(size)

	seeds, err := arrange(entrants, size, opts)
	if err != nil {
		return nil, err
	}

	b := &Bracket{
		ID:     uuid.New().String(),
		Type:   typ,
		Size:   size,
		Rounds: rounds,
		Status: StatusInProgress,
	}
	for _, e := range entrants {
		b.Entrants = append(b.Entrants, e.Player)
	}

	b.buildWinnersSide(seeds)
	if typ == DoubleElimination {
		b.buildLosersSide()
	}
	b.resolveByes()
	return b, nil
}

// arrange produces the padded seed order: a permutation of the entrants
// followed by BYEs, per the seeding policy.
func arrange(entrants []Entrant, size int, opts Options) ([]Occupant, error) {
	ordered := make([]Entrant, len(entrants))
	copy(ordered, entrants)

	switch opts.Seeding {
	case SeedingStandard, "":
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].Strength > ordered[j].Strength
		})
	case SeedingRandom:
		shuffle := rand.Shuffle
		if opts.Rand != nil {
			shuffle = opts.Rand.Shuffle
		}
		shuffle(len(ordered), func(i, j int) {
			ordered[i], ordered[j] = ordered[j], ordered[i]
		})
	case SeedingSnake:
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].Strength > ordered[j].Strength
		})
		// Snake pairs neighbours: with the i / size-1-i pairing rule,
		// placing ranks (2i, 2i+1) at positions (i, size-1-i) puts
		// adjacent strengths into the same round-1 slot.
		padded := padWithByes(ordered, size)
		snaked := make([]Occupant, size)
		for i := 0; i < size/2; i++ {
			snaked[i] = padded[2*i]
			snaked[size-1-i] = padded[2*i+1]
		}
		return snaked, nil
	default:
		return nil, ErrUnknownSeeding
	}

	return padWithByes(ordered, size), nil
}

func padWithByes(ordered []Entrant, size int) []Occupant {
	out := make([]Occupant, size)
	for i := range out {
		if i < len(ordered) {
			out[i] = Occupant{Player: ordered[i].Player}
		} else {
			out[i] = Occupant{Bye: true}
		}
	}
	return out
}

// buildWinnersSide lays out all winners-bracket slots. Round 1 pairs seed i
// against seed size-1-i; later rounds start empty.
func (b *Bracket) buildWinnersSide(seeds []Occupant) {
	for r := 1; r <= b.Rounds; r++ {
		count := b.Size >> uint(r)
		for i := 0; i < count; i++ {
			s := &Slot{Side: SideWinners, Round: r, Index: i}
			if r < b.Rounds {
				s.WinnerTo = &SlotRef{Side: SideWinners, Round: r + 1, Index: i / 2, Half: halfForIndex(i)}
			}
			b.Slots = append(b.Slots, s)
		}
	}

	for i := 0; i < b.Size/2; i++ {
		s := b.Slot(SideWinners, 1, i)
		s.Home = seeds[i]
		s.Away = seeds[b.Size-1-i]
	}
}

// buildLosersSide adds the losers bracket and grand final, and rewires the
// winners side's loser routing. Losers of winners round 1 pair up in losers
// round 1; losers of winners round r >= 2 enter losers round 2(r-1) against
// the survivor of the preceding losers round.
//
// The grand final has two slots. Round 2 is the bracket reset: it is only
// played when the losers-bracket finalist takes round 1, so the winners-side
// finalist, like everyone else, is out only after a second loss.
func (b *Bracket) buildLosersSide() {
	gf1 := &Slot{
		Side: SideGrandFinal, Round: 1, Index: 0,
		WinnerTo: &SlotRef{Side: SideGrandFinal, Round: 2, Index: 0, Half: HalfHome},
		LoserTo:  &SlotRef{Side: SideGrandFinal, Round: 2, Index: 0, Half: HalfAway},
	}
	gf2 := &Slot{Side: SideGrandFinal, Round: 2, Index: 0}

	final := b.Slot(SideWinners, b.Rounds, 0)
	final.WinnerTo = &SlotRef{Side: SideGrandFinal, Round: 1, Index: 0, Half: HalfHome}

	if b.Rounds == 1 {
		// Two entrants: the winners final loser goes straight to the
		// grand final.
		final.LoserTo = &SlotRef{Side: SideGrandFinal, Round: 1, Index: 0, Half: HalfAway}
		b.Slots = append(b.Slots, gf1, gf2)
		return
	}

	losersRounds := 2 * (b.Rounds - 1)
	for lr := 1; lr <= losersRounds; lr++ {
		count := b.losersRoundSize(lr)
		for i := 0; i < count; i++ {
			s := &Slot{Side: SideLosers, Round: lr, Index: i}
			if lr == losersRounds {
				s.WinnerTo = &SlotRef{Side: SideGrandFinal, Round: 1, Index: 0, Half: HalfAway}
			} else if lr%2 == 1 {
				// Minor round: winner meets the next dropping
				// winners-side loser.
				s.WinnerTo = &SlotRef{Side: SideLosers, Round: lr + 1, Index: i, Half: HalfHome}
			} else {
				s.WinnerTo = &SlotRef{Side: SideLosers, Round: lr + 1, Index: i / 2, Half: halfForIndex(i)}
			}
			b.Slots = append(b.Slots, s)
		}
	}
	b.Slots = append(b.Slots, gf1, gf2)

	// Winners round 1 losers pair up in losers round 1.
	for i := 0; i < b.Size/2; i++ {
		s := b.Slot(SideWinners, 1, i)
		s.LoserTo = &SlotRef{Side: SideLosers, Round: 1, Index: i / 2, Half: halfForIndex(i)}
	}
	// Winners round r >= 2 losers drop into the matching major round.
	for r := 2; r <= b.Rounds; r++ {
		count := b.Size >> uint(r)
		for i := 0; i < count; i++ {
			s := b.Slot(SideWinners, r, i)
			s.LoserTo = &SlotRef{Side: SideLosers, Round: 2 * (r - 1), Index: i, Half: HalfAway}
		}
	}
}

// losersRoundSize returns the number of slots in losers round lr.
func (b *Bracket) losersRoundSize(lr int) int {
	k := (lr + 1) / 2
	return b.Size >> uint(k+1)
}

// Slot returns the slot at the given coordinates, or nil.
func (b *Bracket) Slot(side Side, round, index int) *Slot {
	for _, s := range b.Slots {
		if s.Side == side && s.Round == round && s.Index == index {
			return s
		}
	}
	return nil
}

// SlotByMatch returns the slot a match was created for, or nil.
func (b *Bracket) SlotByMatch(matchID string) *Slot {
	for _, s := range b.Slots {
		if s.MatchID == matchID {
			return s
		}
	}
	return nil
}

// ReadySlots lists slots with two real players and no match yet.
func (b *Bracket) ReadySlots() []*Slot {
	var out []*Slot
	for _, s := range b.Slots {
		if s.Ready() {
			out = append(out, s)
		}
	}
	return out
}

// ByeCount returns how many round-1 halves were padded with BYEs.
func (b *Bracket) ByeCount() int {
	return b.Size - len(b.Entrants)
}

// resolveByes auto-advances any slot with a BYE half, cascading until the
// bracket settles. A BYE never wins against a player; BYE vs BYE propagates a
// BYE so downstream opponents also auto-advance.
func (b *Bracket) resolveByes() {
	for changed := true; changed; {
		changed = false
		for _, s := range b.Slots {
			if s.Done || s.Home.Empty() || s.Away.Empty() {
				continue
			}
			if !s.Home.Bye && !s.Away.Bye {
				continue
			}

			var winner, loser Occupant
			switch {
			case s.Home.Bye && s.Away.Bye:
				winner, loser = Occupant{Bye: true}, Occupant{Bye: true}
			case s.Home.Bye:
				winner, loser = s.Away, Occupant{Bye: true}
			default:
				winner, loser = s.Home, Occupant{Bye: true}
			}

			s.Done = true
			s.Winner = winner
			b.route(s.WinnerTo, winner)
			b.route(s.LoserTo, loser)
			changed = true
		}
	}
	b.settleGrandFinal()
	b.checkCompletion()
}

// settleGrandFinal skips the bracket reset when the winners-side finalist
// wins grand final round 1: they are still undefeated, so round 2 resolves
// immediately in their favor.
func (b *Bracket) settleGrandFinal() {
	if b.Type != DoubleElimination {
		return
	}
	gf1 := b.Slot(SideGrandFinal, 1, 0)
	gf2 := b.Slot(SideGrandFinal, 2, 0)
	if gf1 == nil || gf2 == nil || !gf1.Done || gf2.Done {
		return
	}
	if gf1.Winner.Player != "" && gf1.Winner.Player == gf1.Home.Player {
		gf2.Done = true
		gf2.Winner = gf1.Winner
	}
}

// route places an occupant into the referenced slot half.
func (b *Bracket) route(ref *SlotRef, occ Occupant) {
	if ref == nil {
		return
	}
	s := b.Slot(ref.Side, ref.Round, ref.Index)
	if s == nil {
		return
	}
	if ref.Half == HalfHome {
		s.Home = occ
	} else {
		s.Away = occ
	}
}

// finalSlot is the slot whose winner takes the bracket.
func (b *Bracket) finalSlot() *Slot {
	if b.Type == DoubleElimination {
		return b.Slot(SideGrandFinal, 2, 0)
	}
	return b.Slot(SideWinners, b.Rounds, 0)
}

// checkCompletion marks the bracket completed once the final slot resolves.
func (b *Bracket) checkCompletion() {
	f := b.finalSlot()
	if f != nil && f.Done {
		b.Status = StatusCompleted
		b.Winner = f.Winner.Player
	}
}

func halfForIndex(i int) Half {
	if i%2 == 0 {
		return HalfHome
	}
	return HalfAway
}

func nextPowerOfTwo(n int) int {
	size := 1
	for size < n {
		size <<= 1
	}
	return size
}

func log2(n int) int {
	r := 0
	for n > 1 {
		n >>= 1
		r++
	}
	return r
}

// Errors
var (
	ErrTooFewEntrants = &BracketError{"a bracket needs at least two entrants"}
	ErrUnknownType    = &BracketError{"unknown bracket type"}
	ErrUnknownSeeding = &BracketError{"unknown seeding policy"}
)

type BracketError struct {
	msg string
}

func (e *BracketError) Error() string {
	return e.msg
}
