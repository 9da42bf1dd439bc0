package session

import (
	"sync"

	"github.com/tunerproxy/tunerproxyd/internal/sharedtuner"
)

// Snapshot is the dashboard-facing view of one live session.
type Snapshot struct {
	ID         int64
	RemoteAddr string
	State      string
	DriverPath string
	Key        sharedtuner.ChannelKey
	HasTuner   bool
}

// Registry tracks every live session (for the admin surface) and the
// priority each active ChannelKey is currently held at (for preemption
// ranking in the tune procedure). All access is behind one RWMutex with
// writers kept short, per the shared-resource policy.
type Registry struct {
	mu         sync.RWMutex
	sessions   map[int64]*Session
	priorities map[sharedtuner.ChannelKey]int32
}

// NewRegistry returns an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions:   make(map[int64]*Session),
		priorities: make(map[sharedtuner.ChannelKey]int32),
	}
}

// Register adds a session to the registry.
func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.id] = s
}

// Unregister removes a session from the registry.
func (r *Registry) Unregister(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// SetPriority records the priority a key is currently held at, for
// preemption decisions against other sessions' tunings.
func (r *Registry) SetPriority(key sharedtuner.ChannelKey, priority int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.priorities[key] = priority
}

// ClearPriority removes a key's recorded priority once nothing holds it.
func (r *Registry) ClearPriority(key sharedtuner.ChannelKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.priorities, key)
}

// Priorities returns a snapshot copy of the key->priority map.
func (r *Registry) Priorities() map[sharedtuner.ChannelKey]int32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[sharedtuner.ChannelKey]int32, len(r.priorities))
	for k, v := range r.priorities {
		out[k] = v
	}
	return out
}

// Snapshots returns the current state of every registered session.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, Snapshot{
			ID:         s.id,
			RemoteAddr: s.remoteAddr,
			State:      s.state.String(),
			DriverPath: s.driverPath,
			Key:        s.key,
			HasTuner:   s.hasTuner,
		})
	}
	return out
}

// Shutdown requests the session with id disconnect, returning false if no
// such session is registered.
func (r *Registry) Shutdown(id int64) bool {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	s.RequestShutdown()
	return true
}

// ShutdownAll requests every registered session disconnect, for process
// shutdown.
func (r *Registry) ShutdownAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		s.RequestShutdown()
	}
}
