package bracket

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// Store is the persistence collaborator for brackets. SaveBracket must only
// succeed when the stored version still matches expectedVersion, returning
// ErrVersionConflict otherwise; that conditional save is what makes slot
// claims atomic under concurrent match completions.
type Store interface {
	GetBracket(ctx context.Context, id string) (*Bracket, error)
	SaveBracket(ctx context.Context, b *Bracket, expectedVersion int) error
}

// ErrVersionConflict is returned by stores when a conditional save loses the
// race. The progression engine retries it internally.
var ErrVersionConflict = &BracketError{"bracket was modified concurrently"}

// ErrUnknownMatch is returned when a result references no bracket slot.
var ErrUnknownMatch = &BracketError{"match is not bound to any bracket slot"}

// claimRetries bounds internal retries on version conflicts. Conflicts are
// rare by construction, so exhausting this indicates a real inconsistency.
const claimRetries = 5

// Progression consumes match results and advances bracket occupants.
type Progression struct {
	store Store
}

// NewProgression creates a progression engine over the given store.
func NewProgression(store Store) *Progression {
	return &Progression{store: store}
}

// Advance describes what a recorded result changed.
type Advance struct {
	// Ready lists slots that now hold two real players and need a match.
	Ready []*Slot
	// Completed is set when the result decided the whole bracket.
	Completed bool
	Champion  string
}

// RecordResult applies a finished match to its bracket: the winner moves to
// the next slot half, the loser drops to the losers bracket (double
// elimination) or out. An empty winner means the match produced no result (a
// double walkover); both routes then receive a BYE so downstream opponents
// auto-advance. Recording the same match twice is a no-op.
//
// The read-modify-conditional-save loop guarantees that of two concurrently
// completing matches feeding one slot, exactly one observes the slot become
// full and reports it ready.
func (p *Progression) RecordResult(ctx context.Context, bracketID, matchID, winner string) (*Advance, error) {
	for attempt := 0; attempt < claimRetries; attempt++ {
		b, err := p.store.GetBracket(ctx, bracketID)
		if err != nil {
			return nil, err
		}

		slot := b.SlotByMatch(matchID)
		if slot == nil {
			return nil, ErrUnknownMatch
		}
		if slot.Done {
			// Duplicate completion event.
			return &Advance{Completed: b.Status == StatusCompleted, Champion: b.Winner}, nil
		}

		readyBefore := slotKeys(b.ReadySlots())

		winOcc, loseOcc, err := slot.resultOccupants(winner)
		if err != nil {
			return nil, err
		}

		slot.Done = true
		slot.Winner = winOcc
		b.route(slot.WinnerTo, winOcc)
		b.route(slot.LoserTo, loseOcc)
		b.resolveByes()

		var ready []*Slot
		for _, s := range b.ReadySlots() {
			if !readyBefore[s.key()] {
				ready = append(ready, s)
			}
		}

		if err := p.store.SaveBracket(ctx, b, b.Version); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				log.Printf("[bracket] slot claim lost version race on bracket %s, retrying", bracketID)
				continue
			}
			return nil, err
		}

		return &Advance{
			Ready:     ready,
			Completed: b.Status == StatusCompleted,
			Champion:  b.Winner,
		}, nil
	}

	return nil, fmt.Errorf("bracket %s: %w after %d attempts", bracketID, ErrVersionConflict, claimRetries)
}

// AttachMatch binds a created match to its slot so later results can find it.
// Binding an already bound slot is a no-op reporting the existing id.
func (p *Progression) AttachMatch(ctx context.Context, bracketID string, ref SlotRef, matchID string) (string, error) {
	for attempt := 0; attempt < claimRetries; attempt++ {
		b, err := p.store.GetBracket(ctx, bracketID)
		if err != nil {
			return "", err
		}

		slot := b.Slot(ref.Side, ref.Round, ref.Index)
		if slot == nil {
			return "", ErrUnknownMatch
		}
		if slot.MatchID != "" {
			return slot.MatchID, nil
		}

		slot.MatchID = matchID
		if err := p.store.SaveBracket(ctx, b, b.Version); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				continue
			}
			return "", err
		}
		return matchID, nil
	}
	return "", fmt.Errorf("bracket %s: %w after %d attempts", bracketID, ErrVersionConflict, claimRetries)
}

// resultOccupants maps a winner name onto the slot's two occupants.
func (s *Slot) resultOccupants(winner string) (Occupant, Occupant, error) {
	switch winner {
	case "":
		return Occupant{Bye: true}, Occupant{Bye: true}, nil
	case s.Home.Player:
		return s.Home, s.Away, nil
	case s.Away.Player:
		return s.Away, s.Home, nil
	}
	return Occupant{}, Occupant{}, &BracketError{fmt.Sprintf("winner %q is not in slot %s/%d/%d", winner, s.Side, s.Round, s.Index)}
}

// Ref returns the slot's address (with no half).
func (s *Slot) Ref() SlotRef {
	return SlotRef{Side: s.Side, Round: s.Round, Index: s.Index}
}

func (s *Slot) key() string {
	return fmt.Sprintf("%s/%d/%d", s.Side, s.Round, s.Index)
}

func slotKeys(slots []*Slot) map[string]bool {
	keys := make(map[string]bool, len(slots))
	for _, s := range slots {
		keys[s.key()] = true
	}
	return keys
}
