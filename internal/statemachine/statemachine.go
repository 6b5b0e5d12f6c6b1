package statemachine

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/rps-arena/internal/clock"
)

// EntityType names a lifecycle tracked by the machine.
type EntityType string

const (
	EntityTournament EntityType = "tournament"
	EntityMatch      EntityType = "match"
	EntityRound      EntityType = "round"
	EntityPlayer     EntityType = "player"
	EntitySpectator  EntityType = "spectator"
)

// State is a lifecycle state value.
type State string

// Transition records one edge taken in an entity's history.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// Table declares the allowed edges for one entity type.
type Table map[State][]State

// Hook runs on entering or leaving a state. Hooks are best effort: a hook
// error is logged and the transition stands.
type Hook func(entityID string, from, to State) error

// Machine tracks current state and transition history for every registered
// entity. It is the single writer of state; other components request
// transitions and read.
type Machine struct {
	mu      sync.RWMutex
	tables  map[EntityType]Table
	states  map[entityKey]State
	history map[entityKey][]Transition
	entry   map[EntityType]map[State][]Hook
	exit    map[EntityType]map[State][]Hook
	clock   clock.Clock
}

type entityKey struct {
	entityType EntityType
	entityID   string
}

// New creates a machine with no tables registered.
func New(clk clock.Clock) *Machine {
	return &Machine{
		tables:  make(map[EntityType]Table),
		states:  make(map[entityKey]State),
		history: make(map[entityKey][]Transition),
		entry:   make(map[EntityType]map[State][]Hook),
		exit:    make(map[EntityType]map[State][]Hook),
		clock:   clk,
	}
}

// Define registers the transition table for an entity type. Calling it again
// replaces the previous table.
func (m *Machine) Define(entityType EntityType, table Table) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[entityType] = table
}

// OnEnter registers a hook fired after an entity enters the given state.
func (m *Machine) OnEnter(entityType EntityType, state State, hook Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entry[entityType] == nil {
		m.entry[entityType] = make(map[State][]Hook)
	}
	m.entry[entityType][state] = append(m.entry[entityType][state], hook)
}

// OnExit registers a hook fired after an entity leaves the given state.
func (m *Machine) OnExit(entityType EntityType, state State, hook Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exit[entityType] == nil {
		m.exit[entityType] = make(map[State][]Hook)
	}
	m.exit[entityType][state] = append(m.exit[entityType][state], hook)
}

// Initialize sets an entity's starting state and opens its history.
func (m *Machine) Initialize(entityType EntityType, entityID string, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tables[entityType]; !ok {
		return &TransitionError{fmt.Sprintf("no table defined for entity type %q", entityType)}
	}

	key := entityKey{entityType, entityID}
	if _, exists := m.states[key]; exists {
		return &TransitionError{fmt.Sprintf("%s %s already initialized", entityType, entityID)}
	}

	m.states[key] = state
	m.history[key] = []Transition{{From: "", To: state, At: m.clock.Now()}}
	return nil
}

// CanTransition reports whether the edge current -> next is allowed.
func (m *Machine) CanTransition(entityType EntityType, entityID string, next State) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	current, ok := m.states[entityKey{entityType, entityID}]
	if !ok {
		return false
	}
	return m.allowed(entityType, current, next)
}

// Transition moves an entity to the next state, appending to its history.
// Fails with ErrInvalidTransition when the table forbids the edge or the
// entity is unknown.
func (m *Machine) Transition(entityType EntityType, entityID string, next State, reason string) error {
	m.mu.Lock()

	key := entityKey{entityType, entityID}
	current, ok := m.states[key]
	if !ok {
		m.mu.Unlock()
		return ErrInvalidTransition
	}
	if !m.allowed(entityType, current, next) {
		m.mu.Unlock()
		return ErrInvalidTransition
	}

	m.states[key] = next
	m.history[key] = append(m.history[key], Transition{
		From:   current,
		To:     next,
		At:     m.clock.Now(),
		Reason: reason,
	})

	exitHooks := append([]Hook(nil), m.exit[entityType][current]...)
	entryHooks := append([]Hook(nil), m.entry[entityType][next]...)
	m.mu.Unlock()

	// Hooks run outside the lock and never roll back the transition.
	for _, h := range exitHooks {
		if err := h(entityID, current, next); err != nil {
			log.Printf("[statemachine] exit hook error for %s %s (%s -> %s): %v", entityType, entityID, current, next, err)
		}
	}
	for _, h := range entryHooks {
		if err := h(entityID, current, next); err != nil {
			log.Printf("[statemachine] entry hook error for %s %s (%s -> %s): %v", entityType, entityID, current, next, err)
		}
	}

	return nil
}

// Current returns an entity's current state.
func (m *Machine) Current(entityType EntityType, entityID string) (State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[entityKey{entityType, entityID}]
	return state, ok
}

// History returns a copy of an entity's transition history in order.
func (m *Machine) History(entityType EntityType, entityID string) []Transition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h := m.history[entityKey{entityType, entityID}]
	out := make([]Transition, len(h))
	copy(out, h)
	return out
}

// allowed checks the table under the caller's lock.
func (m *Machine) allowed(entityType EntityType, from, to State) bool {
	table, ok := m.tables[entityType]
	if !ok {
		return false
	}
	for _, s := range table[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Errors
var ErrInvalidTransition = &TransitionError{"transition not allowed"}

type TransitionError struct {
	msg string
}

func (e *TransitionError) Error() string {
	return e.msg
}
