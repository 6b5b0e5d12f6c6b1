package storage

import (
	"time"
)

// MatchRecord is a finished match as stored in the database.
type MatchRecord struct {
	ID              string    `json:"id"`
	MatchType       string    `json:"matchType"`
	Player1         string    `json:"player1"`
	Player2         string    `json:"player2"`
	Winner          string    `json:"winner"`
	Result          string    `json:"result"`
	BestOf          int       `json:"bestOf"`
	RoundsPlayed    int       `json:"roundsPlayed"`
	Rounds          string    `json:"rounds"` // JSON string
	ScorePlayer1    int       `json:"scorePlayer1"`
	ScorePlayer2    int       `json:"scorePlayer2"`
	DurationSeconds int       `json:"durationSeconds"`
	CreatedAt       time.Time `json:"createdAt"`
	CompletedAt     time.Time `json:"completedAt"`
}

// TournamentRecord is tournament metadata as stored in the database. The
// bracket itself lives in its own versioned row.
type TournamentRecord struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Format      string    `json:"format"`
	Status      string    `json:"status"`
	BracketID   string    `json:"bracketId"`
	Winner      string    `json:"winner"`
	Players     []string  `json:"players"`
	CreatedAt   time.Time `json:"createdAt"`
	CompletedAt time.Time `json:"completedAt"`
}

// TransitionRecord is one entity state change kept for auditing.
type TransitionRecord struct {
	EntityType string    `json:"entityType"`
	EntityID   string    `json:"entityId"`
	FromState  string    `json:"fromState"`
	ToState    string    `json:"toState"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurredAt"`
}

// LeaderboardEntry represents a player's ranking
type LeaderboardEntry struct {
	Rank     int     `json:"rank"`
	Username string  `json:"username"`
	Wins     int     `json:"wins"`
	Losses   int     `json:"losses"`
	Draws    int     `json:"draws"`
	Matches  int     `json:"matches"`
	WinRate  float64 `json:"winRate"`
}

// PlayerStats represents detailed player statistics
type PlayerStats struct {
	Username        string  `json:"username"`
	Wins            int     `json:"wins"`
	Losses          int     `json:"losses"`
	Draws           int     `json:"draws"`
	TotalMatches    int     `json:"totalMatches"`
	WinRate         float64 `json:"winRate"`
	TournamentWins  int     `json:"tournamentWins"`
	AvgMatchLength  float64 `json:"avgMatchLength"`
}

// Analytics represents aggregated match analytics
type Analytics struct {
	TotalMatches       int     `json:"totalMatches"`
	TotalPlayers       int     `json:"totalPlayers"`
	AvgMatchDuration   float64 `json:"avgMatchDuration"`
	TournamentMatches  int     `json:"tournamentMatches"`
	MatchesToday       int     `json:"matchesToday"`
	MatchesThisHour    int     `json:"matchesThisHour"`
	MostFrequentWinner string  `json:"mostFrequentWinner"`
}
