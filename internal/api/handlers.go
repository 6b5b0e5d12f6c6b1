package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rps-arena/internal/arena"
	"github.com/rps-arena/internal/bracket"
	"github.com/rps-arena/internal/kafka"
	"github.com/rps-arena/internal/match"
	"github.com/rps-arena/internal/rps"
	"github.com/rps-arena/internal/storage"
	"github.com/rps-arena/internal/tournament"
)

// Handlers holds API handler dependencies
type Handlers struct {
	store       storage.Store
	arena       *arena.Arena
	tournaments *tournament.Manager
	producer    *kafka.Producer
	consumer    *kafka.Consumer
}

// NewHandlers creates a new API handlers instance
func NewHandlers(store storage.Store, a *arena.Arena, tm *tournament.Manager, producer *kafka.Producer, consumer *kafka.Consumer) *Handlers {
	return &Handlers{
		store:       store,
		arena:       a,
		tournaments: tm,
		producer:    producer,
		consumer:    consumer,
	}
}

// RegisterRoutes registers API routes
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Post("/matches", h.CreateMatch)
	r.Post("/matches/join", h.QuickJoin)
	r.Get("/matches/recent", h.GetRecentMatches)
	r.Get("/matches/{id}", h.GetMatch)
	r.Post("/matches/{id}/join", h.JoinMatch)
	r.Post("/matches/{id}/moves", h.SubmitMove)
	r.Post("/matches/{id}/cancel", h.CancelMatch)
	r.Get("/matches/{id}/history", h.GetMatchHistory)

	r.Post("/tournaments", h.CreateTournament)
	r.Get("/tournaments", h.ListTournaments)
	r.Get("/tournaments/{id}", h.GetTournament)
	r.Post("/tournaments/{id}/register", h.RegisterPlayer)
	r.Post("/tournaments/{id}/withdraw", h.WithdrawPlayer)
	r.Post("/tournaments/{id}/start", h.StartTournament)
	r.Post("/tournaments/{id}/cancel", h.CancelTournament)
	r.Get("/tournaments/{id}/bracket", h.GetBracket)
	r.Post("/tournaments/{id}/spectators", h.AddSpectator)
	r.Delete("/tournaments/{id}/spectators/{username}", h.RemoveSpectator)

	r.Get("/leaderboard", h.GetLeaderboard)
	r.Get("/stats/{username}", h.GetPlayerStats)
	r.Get("/analytics", h.GetAnalytics)
	r.Get("/status", h.GetStatus)
}

// CreateMatch opens a quick match waiting for an opponent
func (h *Handlers) CreateMatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Player string `json:"player"`
		BestOf int    `json:"bestOf"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Player == "" {
		http.Error(w, "player is required", http.StatusBadRequest)
		return
	}

	m, err := h.arena.CreateMatch(req.Player, req.BestOf)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, m.GetState())
}

// QuickJoin joins any open quick match
func (h *Handlers) QuickJoin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Player string `json:"player"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Player == "" {
		http.Error(w, "player is required", http.StatusBadRequest)
		return
	}

	m, err := h.arena.QuickJoin(req.Player)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, m.GetState())
}

// GetMatch returns a match, live or archived
func (h *Handlers) GetMatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if m := h.arena.GetMatch(id); m != nil {
		respondJSON(w, m.GetState())
		return
	}

	rec, err := h.store.GetMatch(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, rec)
}

// JoinMatch seats the second player in an open match
func (h *Handlers) JoinMatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Player string `json:"player"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	m, err := h.arena.JoinMatch(chi.URLParam(r, "id"), req.Player)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, m.GetState())
}

// SubmitMove records a player's move for the pending round
func (h *Handlers) SubmitMove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Player string `json:"player"`
		Move   string `json:"move"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	move, err := rps.ParseMove(req.Move)
	if err != nil {
		respondError(w, err)
		return
	}

	out, err := h.arena.SubmitMove(chi.URLParam(r, "id"), req.Player, move)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, out)
}

// CancelMatch cancels a live match
func (h *Handlers) CancelMatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = "cancelled via API"
	}

	if err := h.arena.CancelMatch(chi.URLParam(r, "id"), req.Reason); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "cancelled"})
}

// GetMatchHistory returns the match's recorded state transitions
func (h *Handlers) GetMatchHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.store.GetTransitions(r.Context(), "match", chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, history)
}

// GetRecentMatches returns the latest completed matches
func (h *Handlers) GetRecentMatches(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.GetRecentMatches(r.Context(), 20)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, records)
}

// CreateTournament opens a tournament for registration
func (h *Handlers) CreateTournament(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		Format  string `json:"format"`
		Seeding string `json:"seeding"`
		BestOf  int    `json:"bestOf"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	format := bracket.Type(req.Format)
	if format == "" {
		format = bracket.SingleElimination
	}

	t, err := h.tournaments.Create(r.Context(), req.Name, format, bracket.Seeding(req.Seeding), req.BestOf)
	if err != nil {
		respondError(w, err)
		return
	}

	state, err := h.tournaments.GetState(t.ID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, state)
}

// ListTournaments returns snapshots of every live tournament
func (h *Handlers) ListTournaments(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, h.tournaments.List())
}

// GetTournament returns one tournament snapshot
func (h *Handlers) GetTournament(w http.ResponseWriter, r *http.Request) {
	state, err := h.tournaments.GetState(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, state)
}

// RegisterPlayer adds a player during registration
func (h *Handlers) RegisterPlayer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Player   string  `json:"player"`
		Strength float64 `json:"strength"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Player == "" {
		http.Error(w, "player is required", http.StatusBadRequest)
		return
	}

	if err := h.tournaments.Register(r.Context(), chi.URLParam(r, "id"), req.Player, req.Strength); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "registered"})
}

// WithdrawPlayer removes a player during registration
func (h *Handlers) WithdrawPlayer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Player string `json:"player"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.tournaments.Withdraw(r.Context(), chi.URLParam(r, "id"), req.Player); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "withdrawn"})
}

// StartTournament generates the bracket and launches round one
func (h *Handlers) StartTournament(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.tournaments.Start(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}

	state, err := h.tournaments.GetState(id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, state)
}

// CancelTournament aborts a tournament
func (h *Handlers) CancelTournament(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = "cancelled via API"
	}

	if err := h.tournaments.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "cancelled"})
}

// GetBracket returns the tournament's bracket document
func (h *Handlers) GetBracket(w http.ResponseWriter, r *http.Request) {
	b, err := h.tournaments.Bracket(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, b)
}

// AddSpectator registers a watcher on a tournament
func (h *Handlers) AddSpectator(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Username == "" {
		http.Error(w, "username is required", http.StatusBadRequest)
		return
	}

	if err := h.tournaments.AddSpectator(chi.URLParam(r, "id"), req.Username); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "watching"})
}

// RemoveSpectator drops a watcher from a tournament
func (h *Handlers) RemoveSpectator(w http.ResponseWriter, r *http.Request) {
	err := h.tournaments.RemoveSpectator(chi.URLParam(r, "id"), chi.URLParam(r, "username"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "left"})
}

// GetLeaderboard returns the top players
func (h *Handlers) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.GetLeaderboard(r.Context(), 20)
	if err != nil {
		http.Error(w, "Failed to get leaderboard", http.StatusInternalServerError)
		return
	}
	respondJSON(w, entries)
}

// GetPlayerStats returns statistics for a specific player
func (h *Handlers) GetPlayerStats(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if username == "" {
		http.Error(w, "Username required", http.StatusBadRequest)
		return
	}

	stats, err := h.store.GetPlayerStats(r.Context(), username)
	if err != nil {
		http.Error(w, "Failed to get player stats", http.StatusInternalServerError)
		return
	}
	respondJSON(w, stats)
}

// GetAnalytics returns arena analytics
func (h *Handlers) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	dbAnalytics, err := h.store.GetAnalytics(r.Context())
	if err != nil {
		http.Error(w, "Failed to get analytics", http.StatusInternalServerError)
		return
	}

	response := map[string]interface{}{
		"database": dbAnalytics,
		"realtime": map[string]interface{}{
			"activeMatches": h.arena.ActiveCount(),
			"openMatches":   h.arena.OpenCount(),
			"kafkaEnabled":  h.producer.IsEnabled(),
		},
	}

	// Add Kafka metrics if available
	if h.consumer != nil {
		response["kafka"] = map[string]interface{}{
			"avgMatchDuration":   h.consumer.GetAverageMatchDuration(),
			"mostFrequentWinner": h.consumer.GetMostFrequentWinner(),
			"metrics":            h.consumer.GetMetrics(),
		}
	}

	respondJSON(w, response)
}

// GetStatus returns server status
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]interface{}{
		"status":        "ok",
		"activeMatches": h.arena.ActiveCount(),
		"openMatches":   h.arena.OpenCount(),
		"kafkaEnabled":  h.producer.IsEnabled(),
	})
}

// decodeBody parses a JSON request body, writing a 400 on failure
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

// respondError maps domain errors onto HTTP status codes
func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch err {
	case storage.ErrNotFound, match.ErrNotFound, tournament.ErrTournamentNotFound, tournament.ErrNotStarted:
		status = http.StatusNotFound
	case rps.ErrInvalidMove, match.ErrBadBestOf, bracket.ErrUnknownType, bracket.ErrUnknownSeeding, bracket.ErrTooFewEntrants:
		status = http.StatusBadRequest
	case match.ErrInvalidState, match.ErrSelfPlay, match.ErrAlreadyFull, match.ErrDuplicateMove,
		match.ErrExpired, match.ErrAlreadyTerminal,
		arena.ErrAlreadyInMatch, arena.ErrNoOpenMatch,
		tournament.ErrRegistrationClosed, tournament.ErrAlreadyRegistered, tournament.ErrNotRegistered:
		status = http.StatusConflict
	case match.ErrNotAParticipant:
		status = http.StatusForbidden
	}
	http.Error(w, err.Error(), status)
}
