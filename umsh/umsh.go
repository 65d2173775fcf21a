package umsh

import (
	"context"
	"sync"

	"github.com/ardnew/umsh/config"
	"github.com/ardnew/umsh/devtab"
	"github.com/ardnew/umsh/drive"
	"github.com/ardnew/umsh/hostsvc"
	"github.com/ardnew/umsh/pkg"
	"github.com/ardnew/umsh/reactor"
	"github.com/ardnew/umsh/transport"
)

// EventIndex selects which of the host service's three event slots this
// library's status-change event is assigned to (0, 1, or 2).
type EventIndex int

// Valid event slots.
const (
	EventSlot0 EventIndex = iota
	EventSlot1
	EventSlot2
)

func (e EventIndex) valid() bool { return e >= EventSlot0 && e <= EventSlot2 }

// Device is the public, read-only view of one mounted filesystem returned by
// ListDevices.
type Device struct {
	MountName string
	FSType    drive.FSType
	LUNIndex  uint8

	adapter *drive.FilesystemAdapter
}

// Core holds the process-wide mutable state as an explicit value: the
// Registry, the Reactor, and the device table, all created by Init and torn
// down completely by Exit. There is no package-level fallback instance —
// every exported function takes an explicit *Core.
type Core struct {
	svc      hostsvc.Service
	registry *drive.Registry
	table    *devtab.Table
	reactor  *reactor.Reactor
	event    EventIndex

	mu      sync.Mutex
	devices map[*drive.FilesystemAdapter]*Device
}

// Init starts the Reactor against svc using mount as the filesystem-driver
// mount seam (see reactor.MountFunc), assigning the status-change event to
// eventIndex. Each call produces an independent Core, with no hidden
// package-level fallback, and only a matching Exit releases it.
func Init(ctx context.Context, svc hostsvc.Service, eventIndex EventIndex, mount reactor.MountFunc) (*Core, error) {
	if !eventIndex.valid() {
		return nil, pkg.NewFault(pkg.CategoryProgramming, pkg.ErrInvalidParameter, "event index must be 0, 1, or 2")
	}

	config.Load().Apply()

	c := &Core{
		svc:      svc,
		registry: drive.NewRegistry(),
		table:    devtab.NewTable(),
		event:    eventIndex,
		devices:  make(map[*drive.FilesystemAdapter]*Device),
	}
	c.reactor = reactor.New(svc, c.registry, c.table, mount)

	if err := c.reactor.Start(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Exit stops the Reactor — joining its goroutine before returning's
// invariant "after exit(), the Reactor thread is joined before the call
// returns; no Drive destructors run afterwards" — then releases the host
// service.
func (c *Core) Exit(ctx context.Context) {
	c.reactor.Shutdown(ctx)
	_ = c.svc.Close()
}

// GetStatusChangeEvent returns the level-triggered, autoclear channel that
// fires whenever the registry's set of mounted filesystems changes.
func (c *Core) GetStatusChangeEvent() <-chan struct{} {
	return c.reactor.StatusChangeEvent()
}

// ClearStatusChangeEvent clears the autoclear level, reporting whether it
// had been set. Consumers call this after handling a status-change
// notification.
func (c *Core) ClearStatusChangeEvent() bool {
	return c.reactor.ClearStatusChanged()
}

// GetMountedDeviceCount reports how many Drives currently have at least one
// mounted filesystem.
func (c *Core) GetMountedDeviceCount() uint32 {
	return c.reactor.MountedDeviceCount()
}

// ListDevices snapshots up to max currently mounted devices into out,
// returning the number written.
func (c *Core) ListDevices(out []*Device, max int) int {
	if max > len(out) {
		max = len(out)
	}
	adapters := make([]*drive.FilesystemAdapter, max)
	n := c.reactor.ListDevices(adapters, max)

	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i < n; i++ {
		a := adapters[i]
		dev, ok := c.devices[a]
		if !ok {
			dev = &Device{MountName: a.MountName, FSType: a.FSType, LUNIndex: a.LUNIndex, adapter: a}
			c.devices[a] = dev
		}
		out[i] = dev
	}
	return n
}

// SetFileSystemMountFlags stores the opaque driver-level mount-flags
// passthrough.
func (c *Core) SetFileSystemMountFlags(flags devtab.MountFlags) {
	c.table.SetMountFlags(flags)
}

// GetFileSystemMountFlags returns the stored mount-flags passthrough.
func (c *Core) GetFileSystemMountFlags() devtab.MountFlags {
	return c.table.MountFlags()
}

// UnmountDevice detaches one Filesystem Adapter from its LUN. eject
// additionally issues Prevent/Allow Medium Removal
// (disable) and Start Stop Unit (stop, with loej) on that device's Drive, so
// physically removable media can be ejected safely.
func (c *Core) UnmountDevice(ctx context.Context, dev *Device, eject bool) error {
	if dev == nil || dev.adapter == nil {
		return pkg.NewFault(pkg.CategoryProgramming, pkg.ErrInvalidParameter, "nil device")
	}

	found := false
	c.registry.Iterate(func(d *drive.Drive) {
		for _, h := range d.LUNs {
			for i, a := range h.Adapters {
				if a == dev.adapter {
					h.Adapters = append(h.Adapters[:i:i], h.Adapters[i+1:]...)
					c.table.Release(a.MountName)
					found = true
					if eject {
						ejectLUN(ctx, d, h.Index)
					}
				}
			}
		}
	})

	c.mu.Lock()
	delete(c.devices, dev.adapter)
	c.mu.Unlock()

	if !found {
		return pkg.NewFault(pkg.CategoryProgramming, pkg.ErrInvalidParameter, "device is not currently mounted")
	}
	return nil
}

func ejectLUN(ctx context.Context, d *drive.Drive, lunIndex uint8) {
	session := d.Session()
	if session == nil {
		return
	}
	d.Mutex().Lock()
	defer d.Mutex().Unlock()

	timeouts := transport.DefaultTimeouts(0)
	// PREVENT ALLOW MEDIUM REMOVAL, prevent=false.
	_, err := session.ExecuteCommand(ctx, lunIndex, []byte{0x1E, 0, 0, 0, 0, 0}, false, 0, nil, timeouts)
	if err != nil {
		pkg.LogWarn(pkg.ComponentDrive, "prevent/allow removal failed during eject", "lun", lunIndex, "error", err)
	}
	// START STOP UNIT, start=false, loej=true.
	_, err = session.ExecuteCommand(ctx, lunIndex, []byte{0x1B, 0, 0, 0, 0x02, 0}, false, 0, nil, timeouts)
	if err != nil {
		pkg.LogWarn(pkg.ComponentDrive, "start/stop unit failed during eject", "lun", lunIndex, "error", err)
	}
}
