package events

import (
	"sync"
	"time"
)

// LoopInfo describes one running orchestration instance.
type LoopInfo struct {
	ID        string    `json:"id"`
	Task      string    `json:"task"`
	Agents    []string  `json:"agents"`
	StartedAt time.Time `json:"started_at"`
}

// Registry tracks active loops so the audience gate can reject messages
// addressed to loops that do not exist.
type Registry struct {
	mu    sync.RWMutex
	loops map[string]LoopInfo
}

// NewRegistry creates an empty loop registry.
func NewRegistry() *Registry {
	return &Registry{loops: make(map[string]LoopInfo)}
}

// Register adds a loop. Re-registering the same id overwrites its info.
func (r *Registry) Register(info LoopInfo) {
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loops[info.ID] = info
}

// Unregister removes a loop by id.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.loops, id)
}

// Contains reports whether the loop id is active.
func (r *Registry) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.loops[id]
	return ok
}

// Active returns a snapshot of the registered loops.
func (r *Registry) Active() []LoopInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]LoopInfo, 0, len(r.loops))
	for _, info := range r.loops {
		out = append(out, info)
	}
	return out
}

// Len returns how many loops are active.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.loops)
}
