package drive

import (
	"sync"

	"github.com/ardnew/umsh/hostsvc"
)

// Registry is the process-wide Drive Context Registry: an ordered
// collection of Drives plus one mutex serialising structural edits.
// Structural edits (Insert, Remove) happen exclusively from the Reactor;
// consumers only ever call Iterate, reading under the registry mutex and
// then acquiring the specific Drive's own mutex to operate on it.
//
// Discipline rule: any code path holding the registry mutex
// that also wants a specific Drive's mutex must take the Drive mutex after
// the registry mutex, and never the reverse. Remove acquires every Drive
// mutex in registry order before splicing, which is why consumers must never
// hold two Drive mutexes at once (see Iterate's doc).
type Registry struct {
	mu     sync.Mutex
	drives []*Drive
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Insert adds a newly constructed Drive. Callers (the Reactor) must already
// have established that at least one LUN mounted a filesystem.
func (r *Registry) Insert(d *Drive) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drives = append(r.drives, d)
}

// Remove splices out the Drive with the given interface identity, if
// present. It implements the removal protocol: acquire every Drive
// mutex in registry order (so any in-flight operation on any Drive
// completes first), release in reverse order, then splice. Returns the
// removed Drive so the caller can Close it outside the registry lock.
func (r *Registry) Remove(id hostsvc.InterfaceID) *Drive {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range r.drives {
		d.mu.Lock()
	}
	for i := len(r.drives) - 1; i >= 0; i-- {
		r.drives[i].mu.Unlock()
	}

	for i, d := range r.drives {
		if d.ID == id {
			r.drives = append(r.drives[:i:i], r.drives[i+1:]...)
			return d
		}
	}
	return nil
}

// Has reports whether a Drive with the given interface identity is
// currently registered.
func (r *Registry) Has(id hostsvc.InterfaceID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.drives {
		if d.ID == id {
			return true
		}
	}
	return false
}

// Count returns the number of registered Drives.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.drives)
}

// Iterate calls fn for every registered Drive under the registry mutex. fn
// must not itself call back into the Registry, and must acquire at most one
// Drive mutex at a time (the discipline rule above).
func (r *Registry) Iterate(fn func(*Drive)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.drives {
		fn(d)
	}
}

// InterfaceIDs snapshots the interface identities currently registered, for
// the Reactor's InterfaceStateChange diff against the host service's live
// enumeration.
func (r *Registry) InterfaceIDs() []hostsvc.InterfaceID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]hostsvc.InterfaceID, len(r.drives))
	for i, d := range r.drives {
		ids[i] = d.ID
	}
	return ids
}
