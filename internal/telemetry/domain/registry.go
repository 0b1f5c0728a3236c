package telemetry

import "sync"

// PlantRegistry tracks the set of known plant ids. When seeded with a fixed
// list it rejects unknown plants; an empty registry registers plants
// dynamically on first sight.
type PlantRegistry struct {
	mu      sync.RWMutex
	plants  map[string]struct{}
	dynamic bool
}

// NewPlantRegistry builds a registry. An empty plant list enables dynamic
// registration.
func NewPlantRegistry(plants []string) *PlantRegistry {
	r := &PlantRegistry{
		plants:  make(map[string]struct{}, len(plants)),
		dynamic: len(plants) == 0,
	}
	for _, id := range plants {
		if id != "" {
			r.plants[id] = struct{}{}
		}
	}
	return r
}

// Admit returns ErrUnknownPlant for unregistered plants in fixed mode, and
// registers unseen plants in dynamic mode.
func (r *PlantRegistry) Admit(plantID string) error {
	if plantID == "" {
		return ErrUnknownPlant
	}
	r.mu.RLock()
	_, ok := r.plants[plantID]
	r.mu.RUnlock()
	if ok {
		return nil
	}
	if !r.dynamic {
		return ErrUnknownPlant
	}
	r.mu.Lock()
	r.plants[plantID] = struct{}{}
	r.mu.Unlock()
	return nil
}

// Known reports whether a plant id has been registered.
func (r *PlantRegistry) Known(plantID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.plants[plantID]
	return ok
}

// List returns the registered plant ids.
func (r *PlantRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.plants))
	for id := range r.plants {
		out = append(out, id)
	}
	return out
}
