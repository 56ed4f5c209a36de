package merge

import (
	"errors"
	"fmt"
	"sync"
)

// ErrAlreadyRedirected is returned when an identity is recorded twice in one run.
var ErrAlreadyRedirected = errors.New("identity already redirected")

// Redirect maps the ID of a vertex retired by fusion to the vertex that
// replaced it. One Redirect lives for a single merge run and is shared by
// every rule applied in that run; entries are write-once.
type Redirect struct {
	mu      sync.RWMutex
	targets map[string]string
}

// NewRedirect creates an empty Redirect.
func NewRedirect() *Redirect {
	return &Redirect{targets: make(map[string]string)}
}

// Record notes that originalID was replaced by replacementID.
func (r *Redirect) Record(originalID, replacementID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.targets[originalID]; ok {
		return fmt.Errorf("%s -> %s (already -> %s): %w", originalID, replacementID, existing, ErrAlreadyRedirected)
	}
	r.targets[originalID] = replacementID
	return nil
}

// Lookup returns the direct replacement of id, if any.
func (r *Redirect) Lookup(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	target, ok := r.targets[id]
	return target, ok
}

// Resolve follows replacements from id to the vertex that currently stands
// for it. IDs that were never replaced resolve to themselves.
func (r *Redirect) Resolve(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// a vertex fused by one rule may itself be fused by a later one
	current := id
	for hops := 0; hops <= len(r.targets); hops++ {
		next, ok := r.targets[current]
		if !ok {
			return current
		}
		current = next
	}
	return current
}

// Len returns the number of recorded replacements.
func (r *Redirect) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.targets)
}
