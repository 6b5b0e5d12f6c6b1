package storage

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/rps-arena/internal/bracket"
	"github.com/rps-arena/internal/match"
)

// MemoryStore keeps everything in process memory. It backs the server when no
// database is configured and the tests everywhere else. Brackets get the same
// conditional-save contract as PostgresStore so progression behaves
// identically against either.
type MemoryStore struct {
	mu          sync.RWMutex
	matches     map[string]MatchRecord
	tournaments map[string]TournamentRecord
	brackets    map[string][]byte
	transitions []TransitionRecord
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	log.Println("Using in-memory storage (no database configured)")
	return &MemoryStore{
		matches:     make(map[string]MatchRecord),
		tournaments: make(map[string]TournamentRecord),
		brackets:    make(map[string][]byte),
	}
}

// SaveMatch stores a completed match. Duplicate saves keep the first record.
func (s *MemoryStore) SaveMatch(_ context.Context, state *match.State) error {
	roundsJSON, err := json.Marshal(state.Rounds)
	if err != nil {
		roundsJSON = []byte("[]")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.matches[state.ID]; ok {
		return nil
	}
	s.matches[state.ID] = MatchRecord{
		ID:              state.ID,
		MatchType:       string(state.Type),
		Player1:         state.Player1,
		Player2:         state.Player2,
		Winner:          state.Winner,
		Result:          string(state.Result),
		BestOf:          state.BestOf,
		RoundsPlayed:    len(state.Rounds),
		Rounds:          string(roundsJSON),
		ScorePlayer1:    state.Score.Player1,
		ScorePlayer2:    state.Score.Player2,
		DurationSeconds: state.DurationSecs,
		CreatedAt:       state.CreatedAt,
		CompletedAt:     state.CompletedAt,
	}
	return nil
}

// GetMatch returns one stored match by id
func (s *MemoryStore) GetMatch(_ context.Context, id string) (*MatchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.matches[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// GetRecentMatches returns the latest completed matches
func (s *MemoryStore) GetRecentMatches(_ context.Context, limit int) ([]MatchRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]MatchRecord, 0, len(s.matches))
	for _, rec := range s.matches {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CompletedAt.After(out[j].CompletedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SaveTournament upserts tournament metadata
func (s *MemoryStore) SaveTournament(_ context.Context, rec *TournamentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *rec
	stored.Players = append([]string(nil), rec.Players...)
	s.tournaments[rec.ID] = stored
	return nil
}

// GetTournament returns one tournament by id
func (s *MemoryStore) GetTournament(_ context.Context, id string) (*TournamentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.tournaments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// ListTournaments returns all tournaments, newest first
func (s *MemoryStore) ListTournaments(_ context.Context) ([]TournamentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TournamentRecord, 0, len(s.tournaments))
	for _, rec := range s.tournaments {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// GetBracket loads a bracket document
func (s *MemoryStore) GetBracket(_ context.Context, id string) (*bracket.Bracket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.brackets[id]
	if !ok {
		return nil, ErrNotFound
	}
	var b bracket.Bracket
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// SaveBracket writes a bracket document only if the stored version still
// matches expectedVersion.
func (s *MemoryStore) SaveBracket(_ context.Context, b *bracket.Bracket, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if data, ok := s.brackets[b.ID]; ok {
		var current bracket.Bracket
		if err := json.Unmarshal(data, &current); err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return bracket.ErrVersionConflict
		}
	} else if expectedVersion != 0 {
		return bracket.ErrVersionConflict
	}

	b.Version = expectedVersion + 1
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	s.brackets[b.ID] = data
	return nil
}

// SaveTransition appends one entity state change to the audit log
func (s *MemoryStore) SaveTransition(_ context.Context, rec *TransitionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitions = append(s.transitions, *rec)
	return nil
}

// GetTransitions returns the ordered state history of one entity
func (s *MemoryStore) GetTransitions(_ context.Context, entityType, entityID string) ([]TransitionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []TransitionRecord
	for _, rec := range s.transitions {
		if rec.EntityType == entityType && rec.EntityID == entityID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// GetLeaderboard returns the top players by wins
func (s *MemoryStore) GetLeaderboard(_ context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	tally := map[string]*LeaderboardEntry{}
	bump := func(username string) *LeaderboardEntry {
		e, ok := tally[username]
		if !ok {
			e = &LeaderboardEntry{Username: username}
			tally[username] = e
		}
		return e
	}

	for _, rec := range s.matches {
		for _, username := range []string{rec.Player1, rec.Player2} {
			e := bump(username)
			e.Matches++
			switch {
			case rec.Result == string(match.ResultDraw):
				e.Draws++
			case rec.Winner == username:
				e.Wins++
			case rec.Winner != "":
				e.Losses++
			}
		}
	}

	entries := make([]LeaderboardEntry, 0, len(tally))
	for _, e := range tally {
		if e.Matches > 0 {
			e.WinRate = float64(e.Wins) / float64(e.Matches) * 100
		}
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Wins != entries[j].Wins {
			return entries[i].Wins > entries[j].Wins
		}
		return entries[i].WinRate > entries[j].WinRate
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

// GetPlayerStats returns detailed statistics for a player
func (s *MemoryStore) GetPlayerStats(_ context.Context, username string) (*PlayerStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := PlayerStats{Username: username}
	totalDuration := 0
	for _, rec := range s.matches {
		if rec.Player1 != username && rec.Player2 != username {
			continue
		}
		stats.TotalMatches++
		totalDuration += rec.DurationSeconds
		switch {
		case rec.Result == string(match.ResultDraw):
			stats.Draws++
		case rec.Winner == username:
			stats.Wins++
		case rec.Winner != "":
			stats.Losses++
		}
	}
	for _, rec := range s.tournaments {
		if rec.Winner == username {
			stats.TournamentWins++
		}
	}
	if stats.TotalMatches > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.TotalMatches) * 100
		stats.AvgMatchLength = float64(totalDuration) / float64(stats.TotalMatches)
	}
	return &stats, nil
}

// GetAnalytics returns aggregated match analytics
func (s *MemoryStore) GetAnalytics(_ context.Context) (*Analytics, error) {
	now := time.Now()
	today := now.Truncate(24 * time.Hour)
	thisHour := now.Truncate(time.Hour)

	s.mu.RLock()
	defer s.mu.RUnlock()

	analytics := Analytics{}
	players := map[string]bool{}
	wins := map[string]int{}
	totalDuration := 0
	for _, rec := range s.matches {
		analytics.TotalMatches++
		players[rec.Player1] = true
		players[rec.Player2] = true
		totalDuration += rec.DurationSeconds
		if rec.MatchType == string(match.TypeTournament) {
			analytics.TournamentMatches++
		}
		if !rec.CreatedAt.Before(today) {
			analytics.MatchesToday++
		}
		if !rec.CreatedAt.Before(thisHour) {
			analytics.MatchesThisHour++
		}
		if rec.Winner != "" {
			wins[rec.Winner]++
		}
	}
	analytics.TotalPlayers = len(players)
	if analytics.TotalMatches > 0 {
		analytics.AvgMatchDuration = float64(totalDuration) / float64(analytics.TotalMatches)
	}
	best := 0
	for username, count := range wins {
		if count > best {
			best = count
			analytics.MostFrequentWinner = username
		}
	}
	return &analytics, nil
}

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() {}
