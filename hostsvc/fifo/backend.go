package fifo

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/ardnew/umsh/hostsvc"
)

// errProtocol is returned when a transfer doesn't follow the expected
// CBW/data/CSW sequencing for the drive's current stage.
var errProtocol = errors.New("fifo: unexpected transfer for current bulk stage")

const (
	outAddress uint8 = 0x01
	inAddress  uint8 = 0x81
)

type subscriber struct {
	filter hostsvc.ClassFilter
	ch     chan hostsvc.InterfaceInfo
}

// Backend is an in-process fake [hostsvc.Service]. Tests register
// [VirtualDrive] fixtures with AddDrive and drive them through the same
// Service methods the core uses against real hardware.
type Backend struct {
	mu sync.Mutex

	nextID  hostsvc.InterfaceID
	drives  map[hostsvc.InterfaceID]*VirtualDrive
	subs    []*subscriber
	lostSub []chan hostsvc.InterfaceID

	closed bool
}

// NewBackend creates an empty fake host service.
func NewBackend() *Backend {
	return &Backend{drives: make(map[hostsvc.InterfaceID]*VirtualDrive)}
}

// AddDrive registers drive as a newly available interface, notifying any
// InterfaceAvailable subscribers whose filter matches it, and returns the
// InterfaceID assigned to it.
func (b *Backend) AddDrive(drive *VirtualDrive) hostsvc.InterfaceID {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.drives[id] = drive

	info := b.infoFor(id, drive)
	protocol := uint8(0x50)
	if drive.UASP {
		protocol = 0x62
	}
	for _, s := range b.subs {
		if s.filter.Matches(0x08, 0x06, protocol) {
			select {
			case s.ch <- info:
			default:
			}
		}
	}
	return id
}

// RemoveDrive simulates an unplug: it notifies InterfaceStateChange
// subscribers and removes the drive from the backend.
func (b *Backend) RemoveDrive(id hostsvc.InterfaceID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.drives, id)
	for _, ch := range b.lostSub {
		select {
		case ch <- id:
		default:
		}
	}
}

func (b *Backend) infoFor(id hostsvc.InterfaceID, d *VirtualDrive) hostsvc.InterfaceInfo {
	alt := hostsvc.AlternateSetting{
		Index:    0,
		Protocol: 0x50,
		Endpoints: []hostsvc.EndpointDescriptor{
			{Address: outAddress, MaxPacketSize: 512},
			{Address: inAddress, MaxPacketSize: 512},
		},
	}
	alts := []hostsvc.AlternateSetting{alt}
	if d.UASP {
		alts = append(alts, hostsvc.AlternateSetting{Index: 1, Protocol: 0x62})
	}
	return hostsvc.InterfaceInfo{
		ID:              id,
		VendorID:        d.VendorID,
		ProductID:       d.ProductID,
		Manufacturer:    d.Manufacturer,
		Product:         d.Product,
		SerialNumber:    d.SerialNumber,
		InterfaceNumber: 0,
		Alternates:      alts,
	}
}

func (b *Backend) InterfaceAvailable(filter hostsvc.ClassFilter) <-chan hostsvc.InterfaceInfo {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan hostsvc.InterfaceInfo, 16)
	b.subs = append(b.subs, &subscriber{filter: filter, ch: ch})
	return ch
}

func (b *Backend) InterfaceStateChange() <-chan hostsvc.InterfaceID {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan hostsvc.InterfaceID, 16)
	b.lostSub = append(b.lostSub, ch)
	return ch
}

func (b *Backend) Enumerate(filter hostsvc.ClassFilter) ([]hostsvc.InterfaceInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []hostsvc.InterfaceInfo
	for id, d := range b.drives {
		protocol := uint8(0x50)
		if d.UASP {
			protocol = 0x62
		}
		if filter.Matches(0x08, 0x06, protocol) {
			out = append(out, b.infoFor(id, d))
		}
	}
	return out, nil
}

func (b *Backend) lookup(id hostsvc.InterfaceID) (*VirtualDrive, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	d, ok := b.drives[id]
	if !ok {
		return nil, errors.Errorf("fifo: no such interface %d", id)
	}
	return d, nil
}

func (b *Backend) Acquire(id hostsvc.InterfaceID, altIndex uint8) error {
	d, err := b.lookup(id)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.acquired {
		return errors.Errorf("fifo: interface %d already acquired", id)
	}
	d.acquired = true
	d.altIndex = altIndex
	d.stage = stageAwaitCBW
	return nil
}

func (b *Backend) Release(id hostsvc.InterfaceID) error {
	d, err := b.lookup(id)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acquired = false
	return nil
}

func (b *Backend) OpenEndpoint(id hostsvc.InterfaceID, address uint8) (hostsvc.Endpoint, error) {
	if _, err := b.lookup(id); err != nil {
		return hostsvc.Endpoint{}, err
	}
	return hostsvc.Endpoint{InterfaceID: id, Address: address}, nil
}

func (b *Backend) CloseEndpoint(hostsvc.Endpoint) error { return nil }

func (b *Backend) SubmitBulk(ctx context.Context, ep hostsvc.Endpoint, buf []byte, timeout time.Duration) hostsvc.TransferResult {
	d, err := b.lookup(ep.InterfaceID)
	if err != nil {
		return hostsvc.TransferResult{Err: err}
	}
	if ep.Address&0x80 != 0 {
		return d.handleIn(buf)
	}
	return d.handleOut(buf)
}

func (b *Backend) EndpointStalled(ep hostsvc.Endpoint) (bool, error) {
	d, err := b.lookup(ep.InterfaceID)
	if err != nil {
		return false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if ep.Address&0x80 != 0 {
		return d.inStalled, nil
	}
	return d.outStalled, nil
}

func (b *Backend) ClearStall(ep hostsvc.Endpoint) error {
	d, err := b.lookup(ep.InterfaceID)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if ep.Address&0x80 != 0 {
		d.inStalled = false
	} else {
		d.outStalled = false
	}
	return nil
}

// Bulk-Only Mass Storage class-specific requests.
const (
	reqBulkOnlyReset = 0xFF
	reqGetMaxLUN     = 0xFE
)

func (b *Backend) ControlTransfer(ctx context.Context, id hostsvc.InterfaceID, req hostsvc.ControlRequest, data []byte) (int, error) {
	d, err := b.lookup(id)
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	switch req.Request {
	case reqGetMaxLUN:
		if len(data) < 1 {
			return 0, errors.New("fifo: GET_MAX_LUN buffer too small")
		}
		data[0] = d.maxLUN()
		return 1, nil

	case reqBulkOnlyReset:
		d.resetCount++
		d.stage = stageAwaitCBW
		d.inStalled = false
		d.outStalled = false
		return 0, nil

	default:
		return 0, errors.Errorf("fifo: unsupported control request 0x%02x", req.Request)
	}
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, s := range b.subs {
		close(s.ch)
	}
	for _, ch := range b.lostSub {
		close(ch)
	}
	return nil
}
