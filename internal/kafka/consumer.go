package kafka

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"sync"

	"github.com/IBM/sarama"
)

// ArenaMetrics holds aggregated analytics data
type ArenaMetrics struct {
	TotalMatches     int64                     `json:"totalMatches"`
	TotalRounds      int64                     `json:"totalRounds"`
	TimedOutMatches  int64                     `json:"timedOutMatches"`
	TournamentsEnded int64                     `json:"tournamentsEnded"`
	TotalDuration    int64                     `json:"totalDuration"`
	WinCounts        map[string]int            `json:"winCounts"`
	MoveUsage        map[string]int            `json:"moveUsage"`
	MatchesPerHour   map[string]int            `json:"matchesPerHour"`
	PlayerStats      map[string]*PlayerMetrics `json:"playerStats"`
	mu               sync.RWMutex
}

// PlayerMetrics holds per-player analytics
type PlayerMetrics struct {
	Wins         int            `json:"wins"`
	Losses       int            `json:"losses"`
	Draws        int            `json:"draws"`
	TotalMatches int            `json:"totalMatches"`
	MoveUsage    map[string]int `json:"moveUsage"`
}

// Consumer handles Kafka event consumption for analytics
type Consumer struct {
	consumer sarama.ConsumerGroup
	metrics  *ArenaMetrics
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewConsumer creates a new Kafka consumer
func NewConsumer() (*Consumer, error) {
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		brokers = "localhost:9092"
	}

	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	config.Consumer.Offsets.Initial = sarama.OffsetOldest

	consumer, err := sarama.NewConsumerGroup([]string{brokers}, "analytics-consumer", config)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Consumer{
		consumer: consumer,
		metrics: &ArenaMetrics{
			WinCounts:      make(map[string]int),
			MoveUsage:      make(map[string]int),
			MatchesPerHour: make(map[string]int),
			PlayerStats:    make(map[string]*PlayerMetrics),
		},
		ctx:    ctx,
		cancel: cancel,
	}

	return c, nil
}

// Start begins consuming events
func (c *Consumer) Start() {
	go func() {
		for {
			if err := c.consumer.Consume(c.ctx, []string{TopicMatchEvents}, c); err != nil {
				log.Printf("Consumer error: %v", err)
			}
			if c.ctx.Err() != nil {
				return
			}
		}
	}()
	log.Println("Kafka consumer started")
}

// Setup is called at the beginning of a new session
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup is called at the end of a session
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages from a partition
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		c.processMessage(msg)
		session.MarkMessage(msg, "")
	}
	return nil
}

// processMessage handles a single event message
func (c *Consumer) processMessage(msg *sarama.ConsumerMessage) {
	var event MatchEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		log.Printf("Error unmarshaling event: %v", err)
		return
	}

	c.metrics.mu.Lock()
	defer c.metrics.mu.Unlock()

	switch event.Type {
	case EventMatchStarted:
		c.handleMatchStarted(event)
	case EventRoundCompleted:
		c.handleRoundCompleted(event)
	case EventMatchCompleted, EventMatchTimedOut:
		c.handleMatchEnded(event)
	case EventTournamentCompleted:
		c.metrics.TournamentsEnded++
	}
}

// player returns the metrics bucket for a player, creating it on first sight.
func (c *Consumer) player(username string) *PlayerMetrics {
	if username == "" {
		return nil
	}
	pm := c.metrics.PlayerStats[username]
	if pm == nil {
		pm = &PlayerMetrics{MoveUsage: make(map[string]int)}
		c.metrics.PlayerStats[username] = pm
	}
	return pm
}

// handleMatchStarted processes match start events
func (c *Consumer) handleMatchStarted(event MatchEvent) {
	data, ok := event.Data.(map[string]interface{})
	if !ok {
		return
	}

	c.metrics.TotalMatches++
	c.metrics.MatchesPerHour[event.Timestamp.Format("2006-01-02-15")]++

	if player1, ok := data["player1"].(string); ok {
		c.player(player1).TotalMatches++
	}
	if player2, ok := data["player2"].(string); ok {
		c.player(player2).TotalMatches++
	}
}

// handleRoundCompleted processes round resolution events
func (c *Consumer) handleRoundCompleted(event MatchEvent) {
	data, ok := event.Data.(map[string]interface{})
	if !ok {
		return
	}

	c.metrics.TotalRounds++

	record := func(playerKey, moveKey string) {
		player, _ := data[playerKey].(string)
		move, _ := data[moveKey].(string)
		if player == "" || move == "" {
			return
		}
		c.metrics.MoveUsage[move]++
		c.player(player).MoveUsage[move]++
	}
	record("player1", "player1Move")
	record("player2", "player2Move")
}

// handleMatchEnded processes completion and timeout events
func (c *Consumer) handleMatchEnded(event MatchEvent) {
	data, ok := event.Data.(map[string]interface{})
	if !ok {
		return
	}

	if event.Type == EventMatchTimedOut {
		c.metrics.TimedOutMatches++
	}

	winner, _ := data["winner"].(string)
	result, _ := data["result"].(string)
	player1, _ := data["player1"].(string)
	player2, _ := data["player2"].(string)

	for _, username := range []string{player1, player2} {
		pm := c.player(username)
		if pm == nil {
			continue
		}
		switch {
		case result == "draw":
			pm.Draws++
		case winner == username:
			pm.Wins++
		case winner != "":
			pm.Losses++
		}
	}
	if winner != "" {
		c.metrics.WinCounts[winner]++
	}

	if duration, ok := data["durationSeconds"].(float64); ok {
		c.metrics.TotalDuration += int64(duration)
	}
}

// GetMetrics returns a copy of the current metrics
func (c *Consumer) GetMetrics() *ArenaMetrics {
	c.metrics.mu.RLock()
	defer c.metrics.mu.RUnlock()

	out := &ArenaMetrics{
		TotalMatches:     c.metrics.TotalMatches,
		TotalRounds:      c.metrics.TotalRounds,
		TimedOutMatches:  c.metrics.TimedOutMatches,
		TournamentsEnded: c.metrics.TournamentsEnded,
		TotalDuration:    c.metrics.TotalDuration,
		WinCounts:        make(map[string]int),
		MoveUsage:        make(map[string]int),
		MatchesPerHour:   make(map[string]int),
		PlayerStats:      make(map[string]*PlayerMetrics),
	}

	for k, v := range c.metrics.WinCounts {
		out.WinCounts[k] = v
	}
	for k, v := range c.metrics.MoveUsage {
		out.MoveUsage[k] = v
	}
	for k, v := range c.metrics.MatchesPerHour {
		out.MatchesPerHour[k] = v
	}
	for k, v := range c.metrics.PlayerStats {
		moves := make(map[string]int, len(v.MoveUsage))
		for move, n := range v.MoveUsage {
			moves[move] = n
		}
		out.PlayerStats[k] = &PlayerMetrics{
			Wins:         v.Wins,
			Losses:       v.Losses,
			Draws:        v.Draws,
			TotalMatches: v.TotalMatches,
			MoveUsage:    moves,
		}
	}

	return out
}

// GetAverageMatchDuration returns the average match duration in seconds
func (c *Consumer) GetAverageMatchDuration() float64 {
	c.metrics.mu.RLock()
	defer c.metrics.mu.RUnlock()

	if c.metrics.TotalMatches == 0 {
		return 0
	}
	return float64(c.metrics.TotalDuration) / float64(c.metrics.TotalMatches)
}

// GetMostFrequentWinner returns the player with most wins
func (c *Consumer) GetMostFrequentWinner() string {
	c.metrics.mu.RLock()
	defer c.metrics.mu.RUnlock()

	maxWins := 0
	winner := ""
	for player, wins := range c.metrics.WinCounts {
		if wins > maxWins {
			maxWins = wins
			winner = player
		}
	}
	return winner
}

// Stop stops the consumer
func (c *Consumer) Stop() {
	c.cancel()
	c.consumer.Close()
}
