package storage

import (
	"context"

	"github.com/rps-arena/internal/bracket"
	"github.com/rps-arena/internal/match"
)

// Store is the persistence surface the rest of the server depends on. The
// bracket methods satisfy bracket.Store, so a Store plugs straight into the
// progression engine.
type Store interface {
	SaveMatch(ctx context.Context, state *match.State) error
	GetMatch(ctx context.Context, id string) (*MatchRecord, error)
	GetRecentMatches(ctx context.Context, limit int) ([]MatchRecord, error)

	SaveTournament(ctx context.Context, rec *TournamentRecord) error
	GetTournament(ctx context.Context, id string) (*TournamentRecord, error)
	ListTournaments(ctx context.Context) ([]TournamentRecord, error)

	GetBracket(ctx context.Context, id string) (*bracket.Bracket, error)
	SaveBracket(ctx context.Context, b *bracket.Bracket, expectedVersion int) error

	SaveTransition(ctx context.Context, rec *TransitionRecord) error
	GetTransitions(ctx context.Context, entityType, entityID string) ([]TransitionRecord, error)

	GetLeaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error)
	GetPlayerStats(ctx context.Context, username string) (*PlayerStats, error)
	GetAnalytics(ctx context.Context) (*Analytics, error)

	Close()
}

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = &StorageError{"record not found"}

type StorageError struct {
	msg string
}

func (e *StorageError) Error() string {
	return e.msg
}
