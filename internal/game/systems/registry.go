// Package systems indexes the game types a worker hosts. Each runtime
// registers once under its stable game-type tag; transports and the
// lobby resolve rooms to a system through this registry.
package systems

import (
	"fmt"
	"strings"
	"sync"

	"github.com/louisbranch/parlor/internal/game/engine"
)

// System is the full capability surface for one game type: command
// execution plus room lifecycle. A single runtime provides both.
type System interface {
	engine.Engine
	engine.RoomService
}

// Registry manages registered game systems.
type Registry struct {
	mu      sync.RWMutex
	systems map[string]System
	order   []string
}

// NewRegistry creates an empty game system registry.
func NewRegistry() *Registry {
	return &Registry{systems: make(map[string]System)}
}

// Register adds a game system to the registry. Registration happens at
// wiring time, so mistakes panic instead of returning errors.
func (r *Registry) Register(system System) {
	if system == nil {
		panic("game system must not be nil")
	}
	gameType := strings.TrimSpace(system.GameType())
	if gameType == "" {
		panic("game system must define a game type")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.systems[gameType]; exists {
		panic(fmt.Sprintf("game system %s already registered", gameType))
	}
	r.systems[gameType] = system
	r.order = append(r.order, gameType)
}

// Get returns the game system for the given type, or nil if not found.
func (r *Registry) Get(gameType string) System {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.systems[gameType]
}

// MustGet returns the game system for the given type, or panics.
func (r *Registry) MustGet(gameType string) System {
	system := r.Get(gameType)
	if system == nil {
		panic(fmt.Sprintf("game system %s not registered", gameType))
	}

	return system
}

// Types returns the registered game types in registration order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.order))
	copy(out, r.order)

	return out
}

// All returns the registered systems in registration order.
func (r *Registry) All() []System {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]System, 0, len(r.order))
	for _, gameType := range r.order {
		out = append(out, r.systems[gameType])
	}

	return out
}
