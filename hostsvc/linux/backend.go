//go:build linux

package linux

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/ardnew/umsh/hostsvc"
	"github.com/ardnew/umsh/pkg"
)

// openInterface is one acquired interface session: the usbfs device file
// descriptor plus the interface number claimed on it.
type openInterface struct {
	fd            int
	interfaceNum  uint8
	altIndex      uint8
	endpointsOpen map[uint8]bool
}

// Backend implements hostsvc.Service directly against Linux usbfs/sysfs,
// polling sysfs for availability and loss the way a port-change poller
// would, since usbfs exposes no blocking wait primitive of its own.
type Backend struct {
	mu         sync.Mutex
	interfaces map[hostsvc.InterfaceID]*openInterface
	known      map[hostsvc.InterfaceID]sysfsDevice
	nextID     hostsvc.InterfaceID
	byKey      map[string]hostsvc.InterfaceID // sysfs device name + interface number -> ID

	availSubs []chan hostsvc.InterfaceInfo
	lostSubs  []chan hostsvc.InterfaceID

	pollInterval time.Duration
	cancel       context.CancelFunc
	closed       bool
}

// New creates a Backend and starts its sysfs poller.
func New(ctx context.Context, pollInterval time.Duration) *Backend {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	runCtx, cancel := context.WithCancel(ctx)
	b := &Backend{
		interfaces:   make(map[hostsvc.InterfaceID]*openInterface),
		known:        make(map[hostsvc.InterfaceID]sysfsDevice),
		byKey:        make(map[string]hostsvc.InterfaceID),
		pollInterval: pollInterval,
		cancel:       cancel,
	}
	go b.poll(runCtx)
	return b
}

func interfaceKey(deviceName string, ifaceNum uint8) string {
	return deviceName + ":" + string(rune('0'+ifaceNum))
}

func (b *Backend) poll(ctx context.Context) {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.scanOnce()
		}
	}
}

func (b *Backend) scanOnce() {
	devices, err := scanUSBDevices()
	if err != nil {
		pkg.LogWarn(pkg.ComponentHAL, "sysfs scan failed", "error", err)
		return
	}

	b.mu.Lock()
	seen := make(map[string]bool, len(devices))
	var newlyAvailable []hostsvc.InterfaceInfo
	for _, dev := range devices {
		for _, iface := range dev.interfaces {
			if iface.class != 0x08 || iface.subclass != 0x06 {
				continue
			}
			if iface.protocol != 0x50 && iface.protocol != 0x62 {
				continue
			}
			key := interfaceKey(dev.name, iface.number)
			seen[key] = true
			if _, exists := b.byKey[key]; exists {
				continue
			}
			id := b.nextID + 1
			b.nextID = id
			b.byKey[key] = id
			b.known[id] = dev
			newlyAvailable = append(newlyAvailable, sysfsInfoToInterface(id, dev, iface))
		}
	}

	var lostIDs []hostsvc.InterfaceID
	for key, id := range b.byKey {
		if !seen[key] {
			delete(b.byKey, key)
			delete(b.known, id)
			if _, acquired := b.interfaces[id]; acquired {
				lostIDs = append(lostIDs, id)
			}
		}
	}
	subs := append([]chan hostsvc.InterfaceInfo(nil), b.availSubs...)
	lostSubs := append([]chan hostsvc.InterfaceID(nil), b.lostSubs...)
	b.mu.Unlock()

	for _, info := range newlyAvailable {
		for _, ch := range subs {
			select {
			case ch <- info:
			default:
			}
		}
	}
	for _, id := range lostIDs {
		for _, ch := range lostSubs {
			select {
			case ch <- id:
			default:
			}
		}
	}
}

func sysfsInfoToInterface(id hostsvc.InterfaceID, dev sysfsDevice, iface sysfsInterface) hostsvc.InterfaceInfo {
	alt := hostsvc.AlternateSetting{Index: iface.altIndex, Protocol: iface.protocol}
	for _, ep := range iface.endpoints {
		alt.Endpoints = append(alt.Endpoints, hostsvc.EndpointDescriptor{Address: ep.address, MaxPacketSize: ep.maxPacketSize})
	}
	return hostsvc.InterfaceInfo{
		ID:              id,
		VendorID:        dev.vendorID,
		ProductID:       dev.productID,
		Manufacturer:    dev.manufacturer,
		Product:         dev.product,
		SerialNumber:    dev.serial,
		InterfaceNumber: iface.number,
		Alternates:      []hostsvc.AlternateSetting{alt},
	}
}

func (b *Backend) InterfaceAvailable(filter hostsvc.ClassFilter) <-chan hostsvc.InterfaceInfo {
	ch := make(chan hostsvc.InterfaceInfo, 16)
	b.mu.Lock()
	b.availSubs = append(b.availSubs, ch)
	b.mu.Unlock()
	return ch
}

func (b *Backend) InterfaceStateChange() <-chan hostsvc.InterfaceID {
	ch := make(chan hostsvc.InterfaceID, 16)
	b.mu.Lock()
	b.lostSubs = append(b.lostSubs, ch)
	b.mu.Unlock()
	return ch
}

func (b *Backend) Enumerate(filter hostsvc.ClassFilter) ([]hostsvc.InterfaceInfo, error) {
	devices, err := scanUSBDevices()
	if err != nil {
		return nil, err
	}
	var out []hostsvc.InterfaceInfo
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, dev := range devices {
		for _, iface := range dev.interfaces {
			if !filter.Matches(iface.class, iface.subclass, iface.protocol) {
				continue
			}
			key := interfaceKey(dev.name, iface.number)
			id, ok := b.byKey[key]
			if !ok {
				continue
			}
			out = append(out, sysfsInfoToInterface(id, dev, iface))
		}
	}
	return out, nil
}

func (b *Backend) Acquire(id hostsvc.InterfaceID, altIndex uint8) error {
	b.mu.Lock()
	dev, ok := b.known[id]
	b.mu.Unlock()
	if !ok {
		return pkg.NewFault(pkg.CategoryTransport, pkg.ErrNoDevice, "interface no longer present")
	}

	fd, err := openUSBFSNode(dev.devfsPath)
	if err != nil {
		return errors.Wrap(err, "open usbfs device node")
	}

	ifaceNum := dev.interfaces[0].number
	for _, iface := range dev.interfaces {
		if iface.altIndex == altIndex {
			ifaceNum = iface.number
			break
		}
	}
	if err := claimInterface(fd, ifaceNum); err != nil {
		return errors.Wrap(err, "claim interface")
	}

	b.mu.Lock()
	b.interfaces[id] = &openInterface{fd: fd, interfaceNum: ifaceNum, altIndex: altIndex, endpointsOpen: make(map[uint8]bool)}
	b.mu.Unlock()
	return nil
}

func (b *Backend) Release(id hostsvc.InterfaceID) error {
	b.mu.Lock()
	oi, ok := b.interfaces[id]
	delete(b.interfaces, id)
	b.mu.Unlock()
	if !ok {
		return nil
	}
	_ = releaseInterface(oi.fd, oi.interfaceNum)
	return unixClose(oi.fd)
}

func (b *Backend) lookupOpen(id hostsvc.InterfaceID) (*openInterface, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	oi, ok := b.interfaces[id]
	if !ok {
		return nil, pkg.NewFault(pkg.CategoryProgramming, pkg.ErrInvalidState, "interface not acquired")
	}
	return oi, nil
}

func (b *Backend) OpenEndpoint(id hostsvc.InterfaceID, address uint8) (hostsvc.Endpoint, error) {
	oi, err := b.lookupOpen(id)
	if err != nil {
		return hostsvc.Endpoint{}, err
	}
	b.mu.Lock()
	oi.endpointsOpen[address] = true
	b.mu.Unlock()
	return hostsvc.Endpoint{InterfaceID: id, Address: address}, nil
}

func (b *Backend) CloseEndpoint(ep hostsvc.Endpoint) error {
	oi, err := b.lookupOpen(ep.InterfaceID)
	if err != nil {
		return nil
	}
	b.mu.Lock()
	delete(oi.endpointsOpen, ep.Address)
	b.mu.Unlock()
	return nil
}

func (b *Backend) SubmitBulk(ctx context.Context, ep hostsvc.Endpoint, buf []byte, timeout time.Duration) hostsvc.TransferResult {
	oi, err := b.lookupOpen(ep.InterfaceID)
	if err != nil {
		return hostsvc.TransferResult{Err: err}
	}
	n, err := doBulkTransfer(oi.fd, ep.Address, buf, uint32(timeout/time.Millisecond))
	if err != nil {
		if isStall(err) {
			return hostsvc.TransferResult{Transferred: n, Stalled: true, Err: pkg.ErrStall}
		}
		if isNoDevice(err) {
			return hostsvc.TransferResult{Err: pkg.ErrNoDevice}
		}
		return hostsvc.TransferResult{Err: errors.Wrap(err, "bulk transfer")}
	}
	return hostsvc.TransferResult{Transferred: n}
}

func (b *Backend) EndpointStalled(ep hostsvc.Endpoint) (bool, error) {
	// usbfs auto-clears the halt condition it reports via EPIPE; there is no
	// separate query ioctl, so the Engine relies on SubmitBulk's error
	// instead and this always reports false once reached.
	if _, err := b.lookupOpen(ep.InterfaceID); err != nil {
		return false, err
	}
	return false, nil
}

func (b *Backend) ClearStall(ep hostsvc.Endpoint) error {
	oi, err := b.lookupOpen(ep.InterfaceID)
	if err != nil {
		return err
	}
	return resetEndpoint(oi.fd, ep.Address)
}

func (b *Backend) ControlTransfer(ctx context.Context, id hostsvc.InterfaceID, req hostsvc.ControlRequest, data []byte) (int, error) {
	oi, err := b.lookupOpen(id)
	if err != nil {
		return 0, err
	}
	n, err := doControlTransfer(oi.fd, req.RequestType, req.Request, req.Value, req.Index, data, 5000)
	if err != nil {
		if isStall(err) {
			return n, pkg.ErrStall
		}
		return n, errors.Wrap(err, "control transfer")
	}
	return n, nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	ids := make([]hostsvc.InterfaceID, 0, len(b.interfaces))
	for id := range b.interfaces {
		ids = append(ids, id)
	}
	subs := b.availSubs
	lostSubs := b.lostSubs
	b.availSubs = nil
	b.lostSubs = nil
	b.mu.Unlock()

	if b.cancel != nil {
		b.cancel()
	}
	for _, id := range ids {
		_ = b.Release(id)
	}
	for _, ch := range subs {
		close(ch)
	}
	for _, ch := range lostSubs {
		close(ch)
	}
	return nil
}
