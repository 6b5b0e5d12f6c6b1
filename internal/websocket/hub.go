package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/rps-arena/internal/arena"
	"github.com/rps-arena/internal/match"
)

// Hub maintains the set of active clients and broadcasts match updates to
// players and spectators.
type Hub struct {
	// Registered clients by username
	clients map[string]*Client

	// Clients by match ID, players and spectators alike
	matchClients map[string]map[string]*Client

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Arena reference
	arena *arena.Arena

	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub(a *arena.Arena) *Hub {
	return &Hub{
		clients:      make(map[string]*Client),
		matchClients: make(map[string]map[string]*Client),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		arena:        a,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.username] = client
			h.mu.Unlock()
			log.Printf("Client registered: %s", client.username)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.username]; ok {
				delete(h.clients, client.username)
				close(client.send)
			}
			if client.matchID != "" {
				if watchers := h.matchClients[client.matchID]; watchers != nil {
					delete(watchers, client.username)
				}
			}
			h.mu.Unlock()
			log.Printf("Client unregistered: %s", client.username)
			// A player who stays away simply runs out the move
			// deadline; the timeout sweep settles the match.
		}
	}
}

// RegisterToMatch adds a client to a match's broadcast list
func (h *Hub) RegisterToMatch(matchID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.matchClients[matchID] == nil {
		h.matchClients[matchID] = make(map[string]*Client)
	}
	h.matchClients[matchID][client.username] = client
	client.matchID = matchID
}

// BroadcastMatchState sends the current match state to everyone watching
func (h *Hub) BroadcastMatchState(m *match.Match) {
	h.broadcastToMatch(m.ID, Message{
		Type:  TypeState,
		State: m.GetState(),
	})
}

// NotifyMatchStarted announces that both players are seated
func (h *Hub) NotifyMatchStarted(m *match.Match) {
	h.broadcastToMatch(m.ID, Message{
		Type:  TypeMatchStarted,
		State: m.GetState(),
	})
}

// NotifyRoundCompleted announces one resolved round
func (h *Hub) NotifyRoundCompleted(m *match.Match, round match.RoundOutcome) {
	h.broadcastToMatch(m.ID, Message{
		Type:  TypeRoundResult,
		Round: &round,
		State: m.GetState(),
	})
}

// NotifyMatchEnded announces a terminal match and schedules cleanup of its
// broadcast list.
func (h *Hub) NotifyMatchEnded(m *match.Match) {
	state := m.GetState()
	h.broadcastToMatch(m.ID, Message{
		Type:   TypeMatchOver,
		Winner: state.Winner,
		Reason: string(state.Status),
		State:  state,
	})

	// Clean up after a delay so late readers still get the final message.
	go func() {
		time.Sleep(5 * time.Second)
		h.mu.Lock()
		delete(h.matchClients, m.ID)
		h.mu.Unlock()
	}()
}

// broadcastToMatch sends a message to all clients watching a match
func (h *Hub) broadcastToMatch(matchID string, msg Message) {
	h.mu.RLock()
	clients := h.matchClients[matchID]
	h.mu.RUnlock()

	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Error marshaling message: %v", err)
		return
	}

	for username, client := range clients {
		select {
		case client.send <- data:
		default:
			log.Printf("[broadcast] Failed to send %s to %s - buffer full", msg.Type, username)
		}
	}
}

// SendToClient sends a message to a specific client
func (h *Hub) SendToClient(username string, msg Message) {
	h.mu.RLock()
	client, ok := h.clients[username]
	h.mu.RUnlock()

	if !ok {
		return
	}

	client.sendMessage(msg)
}

// GetClient returns a client by username
func (h *Hub) GetClient(username string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[username]
}
