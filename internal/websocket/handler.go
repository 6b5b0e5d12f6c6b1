package websocket

import (
	"encoding/json"
	"log"

	"github.com/rps-arena/internal/arena"
	"github.com/rps-arena/internal/match"
	"github.com/rps-arena/internal/rps"
)

// Message types
const (
	TypeJoin         = "join"
	TypeMove         = "move"
	TypeWatch        = "watch"
	TypeWaiting      = "waiting"
	TypeMatched      = "matched"
	TypeState        = "state"
	TypeMatchStarted = "matchStarted"
	TypeRoundResult  = "roundResult"
	TypeMatchOver    = "matchOver"
	TypeError        = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type     string              `json:"type"`
	Username string              `json:"username,omitempty"`
	MatchID  string              `json:"matchId,omitempty"`
	Opponent string              `json:"opponent,omitempty"`
	State    *match.State        `json:"state,omitempty"`
	Round    *match.RoundOutcome `json:"round,omitempty"`
	Winner   string              `json:"winner,omitempty"`
	Reason   string              `json:"reason,omitempty"`
	Message  string              `json:"message,omitempty"`
}

// IncomingMessage represents a message from the client
type IncomingMessage struct {
	Type    string `json:"type"`
	Move    string `json:"move,omitempty"`
	MatchID string `json:"matchId,omitempty"`
	BestOf  int    `json:"bestOf,omitempty"`
}

// Handler processes WebSocket messages
type Handler struct {
	hub   *Hub
	arena *arena.Arena
}

// NewHandler creates a new message handler
func NewHandler(hub *Hub, a *arena.Arena) *Handler {
	return &Handler{
		hub:   hub,
		arena: a,
	}
}

// HandleMessage processes an incoming message
func (h *Handler) HandleMessage(client *Client, data []byte) {
	var msg IncomingMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("Error parsing message: %v", err)
		client.sendMessage(Message{Type: TypeError, Message: "Invalid message format"})
		return
	}

	switch msg.Type {
	case TypeJoin:
		h.handleJoin(client, msg.BestOf)
	case TypeMove:
		h.handleMove(client, msg.Move)
	case TypeWatch:
		h.handleWatch(client, msg.MatchID)
	default:
		client.sendMessage(Message{Type: TypeError, Message: "Unknown message type"})
	}
}

// handleJoin pairs the client with an open quick match, or opens one and
// waits for an opponent.
func (h *Handler) handleJoin(client *Client, bestOf int) {
	// Reattach to a live match first
	if existing := h.arena.GetMatchByPlayer(client.username); existing != nil {
		h.hub.RegisterToMatch(existing.ID, client)
		client.sendMessage(Message{
			Type:     TypeMatched,
			MatchID:  existing.ID,
			Opponent: opponentOf(existing, client.username),
			State:    existing.GetState(),
		})
		return
	}

	joined, err := h.arena.QuickJoin(client.username)
	if err == nil {
		h.hub.RegisterToMatch(joined.ID, client)
		state := joined.GetState()
		client.sendMessage(Message{
			Type:     TypeMatched,
			MatchID:  joined.ID,
			Opponent: opponentOf(joined, client.username),
			State:    state,
		})
		// The creator has been waiting; tell them too.
		h.hub.SendToClient(joined.Player1, Message{
			Type:     TypeMatched,
			MatchID:  joined.ID,
			Opponent: client.username,
			State:    state,
		})
		return
	}
	if err != arena.ErrNoOpenMatch {
		client.sendMessage(Message{Type: TypeError, Message: err.Error()})
		return
	}

	created, err := h.arena.CreateMatch(client.username, bestOf)
	if err != nil {
		client.sendMessage(Message{Type: TypeError, Message: err.Error()})
		return
	}

	h.hub.RegisterToMatch(created.ID, client)
	client.sendMessage(Message{
		Type:    TypeWaiting,
		MatchID: created.ID,
		Message: "Looking for opponent...",
	})
}

// handleMove handles a player submitting a move
func (h *Handler) handleMove(client *Client, moveText string) {
	if client.matchID == "" {
		client.sendMessage(Message{Type: TypeError, Message: "Not in a match"})
		return
	}

	move, err := rps.ParseMove(moveText)
	if err != nil {
		client.sendMessage(Message{Type: TypeError, Message: err.Error()})
		return
	}

	m := h.arena.GetMatch(client.matchID)
	if m == nil {
		client.sendMessage(Message{Type: TypeError, Message: "Match not found"})
		return
	}

	out, err := h.arena.SubmitMove(m.ID, client.username, move)
	if err != nil {
		client.sendMessage(Message{Type: TypeError, Message: err.Error()})
		return
	}

	// Round and match-over announcements ride the arena callbacks. A bare
	// submission keeps the move hidden and only updates the who-has-moved
	// flags.
	if !out.RoundResolved {
		h.hub.BroadcastMatchState(m)
	}
}

// handleWatch registers the client as a spectator of a live match
func (h *Handler) handleWatch(client *Client, matchID string) {
	m := h.arena.GetMatch(matchID)
	if m == nil {
		client.sendMessage(Message{Type: TypeError, Message: "Match not found"})
		return
	}

	h.hub.RegisterToMatch(matchID, client)
	client.sendMessage(Message{
		Type:    TypeState,
		MatchID: matchID,
		State:   m.GetState(),
	})
}

func opponentOf(m *match.Match, username string) string {
	if username == m.Player1 {
		return m.Player2
	}
	return m.Player1
}
