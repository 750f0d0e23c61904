package session

import (
	"fmt"
	"sync"
	"time"

	"aircast/internal/core/domain"
	"aircast/internal/core/ports"

	"go.uber.org/zap"
)

// StatusWaiting is reported while no listener is connected.
const StatusWaiting = "waiting for listeners"

type registryEntry struct {
	pc      ports.PeerConnection
	addedAt time.Time
}

// Registry owns the broadcaster's listener-id to peer-connection mapping.
// It is the only component that mutates the mapping; everyone else reads
// Count and Status. Entries never outlive CloseAll: an Add racing a
// shutdown closes the incoming connection instead of registering it.
type Registry struct {
	mu      sync.Mutex
	entries map[domain.ListenerID]*registryEntry
	closed  bool
	status  string

	onChange func(count int, status string)
	logger   *zap.SugaredLogger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *zap.SugaredLogger) *Registry {
	return &Registry{
		entries: make(map[domain.ListenerID]*registryEntry),
		status:  StatusWaiting,
		logger:  logger,
	}
}

// SetOnChange registers the observer invoked after every mutation.
func (r *Registry) SetOnChange(fn func(count int, status string)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Add registers a peer connection for id. It reports false, closing pc,
// when the registry is already shut down or id is already present.
func (r *Registry) Add(id domain.ListenerID, pc ports.PeerConnection) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.Infow("closing late-arriving peer after shutdown", "listener_id", id)
		pc.Close()
		return false
	}
	if _, exists := r.entries[id]; exists {
		r.mu.Unlock()
		r.logger.Warnw("duplicate registry add ignored", "listener_id", id)
		pc.Close()
		return false
	}
	r.entries[id] = &registryEntry{pc: pc, addedAt: time.Now()}
	count, status, fn := r.recomputeLocked()
	r.mu.Unlock()

	if fn != nil {
		fn(count, status)
	}
	return true
}

// Has reports whether an entry exists for id.
func (r *Registry) Has(id domain.ListenerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}

// Remove closes and drops the entry for id. It reports whether an entry
// existed and how long it had been registered.
func (r *Registry) Remove(id domain.ListenerID) (bool, time.Duration) {
	r.mu.Lock()
	entry, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return false, 0
	}
	delete(r.entries, id)
	count, status, fn := r.recomputeLocked()
	r.mu.Unlock()

	entry.pc.Close()
	if fn != nil {
		fn(count, status)
	}
	return true, time.Since(entry.addedAt)
}

// Count returns the number of registered peers.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Status returns the current aggregate status string.
func (r *Registry) Status() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// CloseAll closes every registered connection and marks the registry shut
// down; later Adds close their connection immediately.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	entries := r.entries
	r.entries = make(map[domain.ListenerID]*registryEntry)
	count, status, fn := r.recomputeLocked()
	r.mu.Unlock()

	for id, entry := range entries {
		if err := entry.pc.Close(); err != nil {
			r.logger.Warnw("error closing peer connection", "listener_id", id, "error", err)
		}
	}
	if fn != nil {
		fn(count, status)
	}
}

func (r *Registry) recomputeLocked() (int, string, func(count int, status string)) {
	count := len(r.entries)
	if count > 0 {
		r.status = fmt.Sprintf("broadcasting to %d listener(s)", count)
	} else {
		r.status = StatusWaiting
	}
	return count, r.status, r.onChange
}
