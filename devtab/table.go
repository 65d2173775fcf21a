package devtab

import (
	"fmt"
	"sync"
)

// Table is the process-wide virtual device-table: it hands out
// process-monotone device indices and builds the "ums<device_index>(<fs_slot>):"
// mount names that must stay unique across the process. It does not itself
// implement POSIX file or directory operations — the filesystem driver
// registers those under the name this package returns.
type Table struct {
	mu         sync.Mutex
	nextIndex  uint32
	mountFlags MountFlags
	names      map[string]struct{}
}

// NewTable creates an empty device table.
func NewTable() *Table {
	return &Table{names: make(map[string]struct{})}
}

// AllocateDeviceIndex reserves the next process-monotone device index, one
// per Drive (not per LUN or per filesystem).
func (t *Table) AllocateDeviceIndex() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.nextIndex
	t.nextIndex++
	return idx
}

// MountName formats and reserves the mount name for one Filesystem Adapter.
// Panics are not used for the collision case: a process-monotone index
// already guarantees uniqueness, so a collision indicates a caller bug
// (reusing a device index), and is reported as an error instead.
func (t *Table) MountName(deviceIndex uint32, fsSlot int) (string, error) {
	name := fmt.Sprintf("ums%d(%d):", deviceIndex, fsSlot)
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.names[name]; exists {
		return "", fmt.Errorf("devtab: mount name %q already registered", name)
	}
	t.names[name] = struct{}{}
	return name, nil
}

// Release frees a mount name so it no longer counts against uniqueness
// checks, once its Drive is torn down.
func (t *Table) Release(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.names, name)
}

// SetMountFlags stores the opaque driver-level mount-flags passthrough.
func (t *Table) SetMountFlags(flags MountFlags) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mountFlags = flags
}

// MountFlags returns the currently stored mount-flags passthrough.
func (t *Table) MountFlags() MountFlags {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mountFlags
}
