package model

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

// Registry routes identifier-tagged updates to the leaf that owns them. The
// routing table is built once from the structure document and frozen
// thereafter — no dynamic registration (§3 Lifecycles).
type Registry struct {
	leaves  map[string]Leaf
	typing  map[string]string // diagnostic id -> "Type (Room) -> state" description
	dropped atomic.Int64
}

func newRegistry(typing map[string]string) *Registry {
	return &Registry{
		leaves: make(map[string]Leaf),
		typing: typing,
	}
}

// install adds leaf to the registry. Called only during two-phase
// construction (§9); registering the same identifier twice is a building
// error, mirroring the original's ValueError on duplicate registration.
func (r *Registry) install(leaf Leaf) error {
	if _, exists := r.leaves[leaf.ID()]; exists {
		return fmt.Errorf("model: identifier %s already registered", leaf.ID())
	}
	r.leaves[leaf.ID()] = leaf
	return nil
}

// Update routes value to the leaf registered under id. An id with no
// registered leaf is logged at info level, counted in Dropped, and
// classified ChangeNone — never an error (§4.6, §7, §8 scenario 6).
func (r *Registry) Update(id string, value float64) ChangeClass {
	leaf, ok := r.leaves[id]
	if !ok {
		r.dropped.Add(1)
		slog.Info("model: update for unregistered identifier", "id", id, "type", r.Describe(id))
		return ChangeNone
	}

	v := value
	slog.Debug("model: updating", "id", id, "value", value, "type", r.Describe(id))
	return leaf.Update(&v)
}

// Dropped reports how many updates have arrived for identifiers with no
// registered leaf.
func (r *Registry) Dropped() int64 {
	return r.dropped.Load()
}

// Describe returns the diagnostic "Type (Room) -> state" string for id, or
// "unknown" if the structure document never mentioned it.
func (r *Registry) Describe(id string) string {
	if d, ok := r.typing[id]; ok {
		return d
	}
	return "unknown"
}
