package kafka

import (
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/IBM/sarama"

	"github.com/rps-arena/internal/match"
	"github.com/rps-arena/internal/rps"
)

const (
	TopicMatchEvents = "match-events"
)

// EventType represents the type of arena event
type EventType string

const (
	EventMatchCreated        EventType = "match_created"
	EventMatchStarted        EventType = "match_started"
	EventMoveAccepted        EventType = "move_accepted"
	EventRoundCompleted      EventType = "round_completed"
	EventMatchCompleted      EventType = "match_completed"
	EventMatchTimedOut       EventType = "match_timed_out"
	EventBracketAdvanced     EventType = "bracket_advanced"
	EventTournamentCompleted EventType = "tournament_completed"
)

// MatchEvent represents an arena event for analytics
type MatchEvent struct {
	Type      EventType `json:"type"`
	Key       string    `json:"key"` // match or tournament id
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// MatchCreatedData contains data for match creation events
type MatchCreatedData struct {
	MatchType string `json:"matchType"`
	Player1   string `json:"player1"`
	BestOf    int    `json:"bestOf"`
}

// MatchStartedData contains data for match start events
type MatchStartedData struct {
	MatchType string `json:"matchType"`
	Player1   string `json:"player1"`
	Player2   string `json:"player2"`
	BestOf    int    `json:"bestOf"`
}

// MoveAcceptedData contains data for accepted move submissions
type MoveAcceptedData struct {
	Player      string   `json:"player"`
	Move        rps.Move `json:"move"`
	RoundNumber int      `json:"roundNumber"`
}

// RoundCompletedData contains data for round resolution events
type RoundCompletedData struct {
	RoundNumber int      `json:"roundNumber"`
	Player1     string   `json:"player1"`
	Player2     string   `json:"player2"`
	Player1Move rps.Move `json:"player1Move"`
	Player2Move rps.Move `json:"player2Move"`
	Winner      string   `json:"winner"`
}

// MatchEndedData contains data for match completion and timeout events
type MatchEndedData struct {
	MatchType       string `json:"matchType"`
	Player1         string `json:"player1"`
	Player2         string `json:"player2"`
	Winner          string `json:"winner"`
	Result          string `json:"result"`
	RoundsPlayed    int    `json:"roundsPlayed"`
	DurationSeconds int    `json:"durationSeconds"`
}

// BracketAdvancedData contains data for bracket progression events
type BracketAdvancedData struct {
	TournamentID string `json:"tournamentId"`
	MatchID      string `json:"matchId"`
	NewMatches   int    `json:"newMatches"`
	Completed    bool   `json:"completed"`
}

// TournamentCompletedData contains data for tournament completion events
type TournamentCompletedData struct {
	Name     string `json:"name"`
	Format   string `json:"format"`
	Champion string `json:"champion"`
	Players  int    `json:"players"`
}

// Producer handles Kafka event production
type Producer struct {
	producer sarama.SyncProducer
	enabled  bool
}

// NewProducer creates a new Kafka producer
func NewProducer() (*Producer, error) {
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		brokers = "localhost:9092"
	}

	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3

	producer, err := sarama.NewSyncProducer([]string{brokers}, config)
	if err != nil {
		log.Printf("Kafka producer not available: %v (analytics disabled)", err)
		return &Producer{enabled: false}, nil
	}

	log.Println("Kafka producer connected")
	return &Producer{producer: producer, enabled: true}, nil
}

// EmitMatchCreated emits a match creation event
func (p *Producer) EmitMatchCreated(m *match.Match) {
	if !p.enabled {
		return
	}

	p.send(MatchEvent{
		Type:      EventMatchCreated,
		Key:       m.ID,
		Timestamp: time.Now(),
		Data: MatchCreatedData{
			MatchType: string(m.Type),
			Player1:   m.Player1,
			BestOf:    m.BestOf,
		},
	})
}

// EmitMoveAccepted emits an accepted move submission
func (p *Producer) EmitMoveAccepted(m *match.Match, player string, move rps.Move, roundNumber int) {
	if !p.enabled {
		return
	}

	p.send(MatchEvent{
		Type:      EventMoveAccepted,
		Key:       m.ID,
		Timestamp: time.Now(),
		Data: MoveAcceptedData{
			Player:      player,
			Move:        move,
			RoundNumber: roundNumber,
		},
	})
}

// EmitMatchStarted emits a match start event
func (p *Producer) EmitMatchStarted(m *match.Match) {
	if !p.enabled {
		return
	}

	state := m.GetState()
	p.send(MatchEvent{
		Type:      EventMatchStarted,
		Key:       state.ID,
		Timestamp: time.Now(),
		Data: MatchStartedData{
			MatchType: string(state.Type),
			Player1:   state.Player1,
			Player2:   state.Player2,
			BestOf:    state.BestOf,
		},
	})
}

// EmitRoundCompleted emits a round resolution event
func (p *Producer) EmitRoundCompleted(m *match.Match, round match.RoundOutcome) {
	if !p.enabled {
		return
	}

	winner := ""
	switch round.Winner {
	case match.RoundPlayer1:
		winner = m.Player1
	case match.RoundPlayer2:
		winner = m.Player2
	}

	p.send(MatchEvent{
		Type:      EventRoundCompleted,
		Key:       m.ID,
		Timestamp: time.Now(),
		Data: RoundCompletedData{
			RoundNumber: round.Number,
			Player1:     m.Player1,
			Player2:     m.Player2,
			Player1Move: round.Player1Move,
			Player2Move: round.Player2Move,
			Winner:      winner,
		},
	})
}

// EmitMatchEnded emits a completion or timeout event depending on how the
// match terminated.
func (p *Producer) EmitMatchEnded(m *match.Match) {
	if !p.enabled {
		return
	}

	state := m.GetState()
	eventType := EventMatchCompleted
	if state.Status == match.StatusTimeout {
		eventType = EventMatchTimedOut
	}

	p.send(MatchEvent{
		Type:      eventType,
		Key:       state.ID,
		Timestamp: time.Now(),
		Data: MatchEndedData{
			MatchType:       string(state.Type),
			Player1:         state.Player1,
			Player2:         state.Player2,
			Winner:          state.Winner,
			Result:          string(state.Result),
			RoundsPlayed:    len(state.Rounds),
			DurationSeconds: state.DurationSecs,
		},
	})
}

// EmitBracketAdvanced emits a bracket progression event
func (p *Producer) EmitBracketAdvanced(tournamentID, matchID string, newMatches int, completed bool) {
	if !p.enabled {
		return
	}

	p.send(MatchEvent{
		Type:      EventBracketAdvanced,
		Key:       tournamentID,
		Timestamp: time.Now(),
		Data: BracketAdvancedData{
			TournamentID: tournamentID,
			MatchID:      matchID,
			NewMatches:   newMatches,
			Completed:    completed,
		},
	})
}

// EmitTournamentCompleted emits a tournament completion event
func (p *Producer) EmitTournamentCompleted(tournamentID, name, format, champion string, players int) {
	if !p.enabled {
		return
	}

	p.send(MatchEvent{
		Type:      EventTournamentCompleted,
		Key:       tournamentID,
		Timestamp: time.Now(),
		Data: TournamentCompletedData{
			Name:     name,
			Format:   format,
			Champion: champion,
			Players:  players,
		},
	})
}

// send sends an event to Kafka
func (p *Producer) send(event MatchEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("Error marshaling event: %v", err)
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: TopicMatchEvents,
		Key:   sarama.StringEncoder(event.Key),
		Value: sarama.ByteEncoder(data),
	}

	_, _, err = p.producer.SendMessage(msg)
	if err != nil {
		log.Printf("Error sending event to Kafka: %v", err)
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// IsEnabled returns whether Kafka is enabled
func (p *Producer) IsEnabled() bool {
	return p.enabled
}
