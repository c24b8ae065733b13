package command

import "strings"

// Registry resolves inbound action names to the canonical action of a
// game. Matching is case-insensitive and aliases map to the same
// canonical name, so "reveal" and "Click" can resolve identically.
type Registry struct {
	canonical map[string]string
	order     []string
}

// NewRegistry returns an empty action registry.
func NewRegistry() *Registry {
	return &Registry{canonical: make(map[string]string)}
}

// Register adds a canonical action and any number of aliases. Later
// registrations of the same name replace earlier ones.
func (r *Registry) Register(canonical string, aliases ...string) {
	key := strings.ToLower(canonical)
	if _, exists := r.canonical[key]; !exists {
		r.order = append(r.order, canonical)
	}
	r.canonical[key] = canonical

	for _, alias := range aliases {
		r.canonical[strings.ToLower(alias)] = canonical
	}
}

// Resolve maps an inbound action name to its canonical form. The second
// return is false when the action is unknown.
func (r *Registry) Resolve(action string) (string, bool) {
	canonical, ok := r.canonical[strings.ToLower(strings.TrimSpace(action))]

	return canonical, ok
}

// Actions lists canonical action names in registration order.
func (r *Registry) Actions() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)

	return out
}
