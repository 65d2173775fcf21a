package reactor

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ardnew/umsh/block"
	"github.com/ardnew/umsh/devtab"
	"github.com/ardnew/umsh/drive"
	"github.com/ardnew/umsh/hostsvc"
	"github.com/ardnew/umsh/pkg"
)

// State is the Reactor's own lifecycle, distinct from any individual
// Drive's state.
type State int

// Reactor lifecycle states.
const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateShuttingDown
)

// String names the state for logging.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting-down"
	default:
		return "stopped"
	}
}

// massStorageFilter is the fixed class filter of Mass Storage + SCSI Transparent + (BOT or UASP).
var massStorageFilter = hostsvc.ClassFilter{
	Class:     0x08,
	SubClass:  0x06,
	Protocols: []uint8{0x50, 0x62},
}

// MountFunc attempts to mount a filesystem driver against one probed LUN's
// Block Adapter, returning the Filesystem Adapter(s) it produced. The core
// never implements a filesystem driver itself; this is the seam a real
// driver plugs into. The reactor tests use a fake that sniffs the boot
// sector and "mounts" by merely tagging the type.
type MountFunc func(ctx context.Context, table *devtab.Table, deviceIndex uint32, lunIndex uint8, adapter *block.Adapter) []*drive.FilesystemAdapter

// Reactor is the Drive Manager: a single background goroutine turning
// host-service events into Registry membership.
type Reactor struct {
	svc      hostsvc.Service
	registry *drive.Registry
	table    *devtab.Table
	mount    MountFunc

	state atomic.Int32

	statusMu      sync.Mutex
	statusChanged bool
	statusCh      chan struct{}

	nextDeviceIndex map[hostsvc.InterfaceID]uint32
	indexMu         sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Reactor. mount is the filesystem-driver mount seam; pass
// a fake in tests, a real driver adapter in production.
func New(svc hostsvc.Service, registry *drive.Registry, table *devtab.Table, mount MountFunc) *Reactor {
	return &Reactor{
		svc:             svc,
		registry:        registry,
		table:           table,
		mount:           mount,
		statusCh:        make(chan struct{}, 1),
		nextDeviceIndex: make(map[hostsvc.InterfaceID]uint32),
		done:            make(chan struct{}),
	}
}

// State reports the Reactor's current lifecycle state.
func (r *Reactor) State() State { return State(r.state.Load()) }

// Start launches the Reactor's event loop. It returns once the loop has
// entered StateRunning.
func (r *Reactor) Start(ctx context.Context) error {
	if !r.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return pkg.NewFault(pkg.CategoryProgramming, pkg.ErrInvalidState, "reactor already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	available := r.svc.InterfaceAvailable(massStorageFilter)
	lost := r.svc.InterfaceStateChange()

	r.state.Store(int32(StateRunning))
	pkg.LogInfo(pkg.ComponentReactor, "reactor started")

	go r.run(runCtx, available, lost)
	return nil
}

// Shutdown stops the event loop and releases every registered Drive.
func (r *Reactor) Shutdown(ctx context.Context) {
	if !r.state.CompareAndSwap(int32(StateRunning), int32(StateShuttingDown)) {
		return
	}
	if r.cancel != nil {
		r.cancel()
	}
	<-r.done

	r.registry.Iterate(func(d *drive.Drive) {
		d.Close(ctx)
	})

	r.state.Store(int32(StateStopped))
	pkg.LogInfo(pkg.ComponentReactor, "reactor stopped")
}

func (r *Reactor) run(ctx context.Context, available <-chan hostsvc.InterfaceInfo, lost <-chan hostsvc.InterfaceID) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case info, ok := <-available:
			if !ok {
				return
			}
			r.onInterfaceAvailable(ctx, info)
		case id, ok := <-lost:
			if !ok {
				return
			}
			r.onInterfaceStateChange(ctx, id)
		}
	}
}

// onInterfaceAvailable implements the drive construction sequence: acquire,
// probe every LUN, attempt a filesystem mount on each, and insert the Drive
// only if at least one LUN yielded a mounted filesystem; otherwise tear it
// right back down.
func (r *Reactor) onInterfaceAvailable(ctx context.Context, info hostsvc.InterfaceInfo) {
	if r.registry.Has(info.ID) {
		return
	}

	d, err := drive.New(ctx, r.svc, info)
	if err != nil {
		pkg.LogWarn(pkg.ComponentReactor, "drive construction failed", "interface", info.ID, "error", err)
		return
	}

	maxLUN, err := d.MaxLUN(ctx)
	if err != nil {
		pkg.LogWarn(pkg.ComponentReactor, "get-max-lun failed", "interface", info.ID, "error", err)
		d.Close(ctx)
		return
	}

	if err := d.ProbeLUNs(ctx, maxLUN); err != nil {
		pkg.LogWarn(pkg.ComponentReactor, "lun probing failed", "interface", info.ID, "error", err)
		d.Close(ctx)
		return
	}

	deviceIndex := r.table.AllocateDeviceIndex()
	mounted := false
	for _, h := range d.LUNs {
		adapter := block.NewAdapter(d.Session(), h.LUN, h.LUN.Index, d.Mutex())
		adapters := r.mount(ctx, r.table, deviceIndex, h.LUN.Index, adapter)
		h.Adapters = append(h.Adapters, adapters...)
		if h.HasMountedFilesystem() {
			mounted = true
		}
	}

	if !mounted {
		pkg.LogInfo(pkg.ComponentReactor, "no mountable filesystem found, discarding drive", "interface", info.ID)
		d.Close(ctx)
		return
	}

	r.registry.Insert(d)
	r.markStatusChanged()
	pkg.LogInfo(pkg.ComponentReactor, "drive registered", "interface", info.ID, "luns", len(d.LUNs))
}

// onInterfaceStateChange implements the registry removal sequence: drop the
// Drive from the Registry (which serialises against every in-flight
// operation on it), close it, and only then raise the status-change signal
// for this pass.
func (r *Reactor) onInterfaceStateChange(ctx context.Context, id hostsvc.InterfaceID) {
	d := r.registry.Remove(id)
	if d == nil {
		return
	}
	d.Close(ctx)
	r.markStatusChanged()
	pkg.LogInfo(pkg.ComponentReactor, "drive removed", "interface", id)
}

func (r *Reactor) markStatusChanged() {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	r.statusChanged = true
	select {
	case r.statusCh <- struct{}{}:
	default:
	}
}

// StatusChangeEvent returns the level-triggered, autoclear "status changed"
// channel. A receive does not itself clear the level; callers
// check IsStatusChanged/ClearStatusChanged for the level-triggered state.
func (r *Reactor) StatusChangeEvent() <-chan struct{} {
	return r.statusCh
}

// IsStatusChanged reports the current level without clearing it.
func (r *Reactor) IsStatusChanged() bool {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	return r.statusChanged
}

// ClearStatusChanged clears the level-triggered signal, returning whether it
// had been set.
func (r *Reactor) ClearStatusChanged() bool {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	was := r.statusChanged
	r.statusChanged = false
	return was
}

// MountedDeviceCount counts registered Drives with at least one mounted
// filesystem.
func (r *Reactor) MountedDeviceCount() uint32 {
	var n uint32
	r.registry.Iterate(func(d *drive.Drive) {
		for _, h := range d.LUNs {
			if h.HasMountedFilesystem() {
				n++
				return
			}
		}
	})
	return n
}

// ListDevices snapshots up to max currently mounted Filesystem Adapters into
// out, returning the number written. Consumers enumerate via ListDevices,
// which snapshots the current set rather than streaming live changes.
func (r *Reactor) ListDevices(out []*drive.FilesystemAdapter, max int) int {
	n := 0
	r.registry.Iterate(func(d *drive.Drive) {
		for _, h := range d.LUNs {
			for _, a := range h.Adapters {
				if n >= max || n >= len(out) {
					return
				}
				out[n] = a
				n++
			}
		}
	})
	return n
}
