package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-co-op/gocron/v2"
	"github.com/joho/godotenv"

	"github.com/rps-arena/internal/api"
	"github.com/rps-arena/internal/arena"
	"github.com/rps-arena/internal/bracket"
	"github.com/rps-arena/internal/clock"
	"github.com/rps-arena/internal/kafka"
	"github.com/rps-arena/internal/match"
	"github.com/rps-arena/internal/rps"
	"github.com/rps-arena/internal/statemachine"
	"github.com/rps-arena/internal/storage"
	"github.com/rps-arena/internal/tournament"
	"github.com/rps-arena/internal/websocket"
)

const sweepInterval = 10 * time.Second

func main() {
	// Load .env file if present
	_ = godotenv.Load()

	ctx := context.Background()

	// Initialize storage, falling back to memory when the database is down
	var store storage.Store
	pg, err := storage.NewPostgresStore(ctx)
	if err != nil {
		log.Printf("Warning: Database not available: %v", err)
		store = storage.NewMemoryStore()
	} else {
		store = pg
	}
	defer store.Close()

	// Initialize Kafka producer
	producer, err := kafka.NewProducer()
	if err != nil {
		log.Printf("Warning: Kafka producer not available: %v", err)
	}
	defer producer.Close()

	// Initialize Kafka consumer (optional)
	var consumer *kafka.Consumer
	if producer.IsEnabled() {
		consumer, err = kafka.NewConsumer()
		if err != nil {
			log.Printf("Warning: Kafka consumer not available: %v", err)
		} else {
			consumer.Start()
			defer consumer.Stop()
		}
	}

	// One state machine tracks every entity lifecycle
	clk := clock.System{}
	life := statemachine.New(clk)
	match.RegisterLifecycles(life)
	tournament.RegisterLifecycles(life)

	// Initialize the arena
	a := arena.New(life, clk, envInt("DEFAULT_BEST_OF", 3), envDuration("MOVE_TIMEOUT_SECONDS", 30*time.Second))

	// Initialize the tournament manager
	tournaments := tournament.NewManager(a, store, life, clk)

	// Initialize WebSocket hub
	hub := websocket.NewHub(a)

	// Wire arena events to Kafka, the hub, persistence and tournaments
	a.SetOnMatchCreated(func(m *match.Match) {
		producer.EmitMatchCreated(m)
	})
	a.SetOnMoveAccepted(func(m *match.Match, player string, move rps.Move, roundNumber int) {
		producer.EmitMoveAccepted(m, player, move, roundNumber)
	})
	a.SetOnMatchStarted(func(m *match.Match) {
		producer.EmitMatchStarted(m)
		hub.NotifyMatchStarted(m)
	})
	a.SetOnRoundCompleted(func(m *match.Match, round match.RoundOutcome) {
		producer.EmitRoundCompleted(m, round)
		hub.NotifyRoundCompleted(m, round)
	})
	a.SetOnMatchEnded(func(m *match.Match) {
		producer.EmitMatchEnded(m)
		hub.NotifyMatchEnded(m)

		ctx := context.Background()
		if err := store.SaveMatch(ctx, m.GetState()); err != nil {
			log.Printf("Error saving match %s: %v", m.ID, err)
		}
		for _, tr := range life.History(statemachine.EntityMatch, m.ID) {
			rec := &storage.TransitionRecord{
				EntityType: string(statemachine.EntityMatch),
				EntityID:   m.ID,
				FromState:  string(tr.From),
				ToState:    string(tr.To),
				Reason:     tr.Reason,
				OccurredAt: tr.At,
			}
			if err := store.SaveTransition(ctx, rec); err != nil {
				log.Printf("Error saving transition for match %s: %v", m.ID, err)
			}
		}

		if _, ok := tournaments.IsTournamentMatch(m.ID); ok {
			if err := tournaments.HandleMatchResult(ctx, m); err != nil {
				log.Printf("Error advancing bracket for match %s: %v", m.ID, err)
			}
		}
	})
	tournaments.SetOnAdvance(func(t *tournament.Tournament, matchID string, adv *bracket.Advance) {
		producer.EmitBracketAdvanced(t.ID, matchID, len(adv.Ready), adv.Completed)
	})
	tournaments.SetOnCompleted(func(t *tournament.Tournament) {
		state, err := tournaments.GetState(t.ID)
		if err != nil {
			return
		}
		producer.EmitTournamentCompleted(t.ID, t.Name, string(t.Format), state.Winner, len(state.Players))
	})

	// Start WebSocket hub
	go hub.Run()

	// Create message handler
	handler := websocket.NewHandler(hub, a)

	// Periodic timeout sweep: unjoined matches and expired move deadlines
	sched, err := gocron.NewScheduler()
	if err != nil {
		log.Fatalf("Scheduler error: %v", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(sweepInterval),
		gocron.NewTask(func() {
			if n := a.SweepTimeouts(); n > 0 {
				log.Printf("Timeout sweep settled %d matches", n)
			}
		}),
	)
	if err != nil {
		log.Fatalf("Scheduler error: %v", err)
	}
	sched.Start()
	defer func() { _ = sched.Shutdown() }()

	// Set up HTTP router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		apiHandlers := api.NewHandlers(store, a, tournaments, producer, consumer)
		apiHandlers.RegisterRoutes(r)
	})

	// WebSocket endpoint
	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		websocket.ServeWs(hub, handler, w, r)
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	// Get port from environment or default
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Create server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on port %s", port)
		log.Printf("WebSocket endpoint: ws://localhost:%s/ws", port)
		log.Printf("API endpoint: http://localhost:%s/api", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited properly")
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}
