package gousb

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/gousb"
	"github.com/pkg/errors"

	"github.com/ardnew/umsh/hostsvc"
	"github.com/ardnew/umsh/pkg"
)

// openSession is one acquired interface: the underlying gousb handles that
// must all be released in reverse-open order.
type openSession struct {
	dev       *gousb.Device
	cfg       *gousb.Config
	intf      *gousb.Interface
	in        map[uint8]*gousb.InEndpoint
	out       map[uint8]*gousb.OutEndpoint
	ifaceNum  int
	altNum    int
}

// Backend implements hostsvc.Service against libusb via gousb, polling
// Context.OpenDevices for availability and loss.
type Backend struct {
	ctx *gousb.Context

	mu       sync.Mutex
	sessions map[hostsvc.InterfaceID]*openSession
	known    map[hostsvc.InterfaceID]*gousb.DeviceDesc
	nextID   hostsvc.InterfaceID
	byKey    map[string]hostsvc.InterfaceID

	availSubs []chan hostsvc.InterfaceInfo
	lostSubs  []chan hostsvc.InterfaceID

	pollInterval time.Duration
	cancel       context.CancelFunc
	closed       bool
}

var massStorageFilter = hostsvc.ClassFilter{Class: 0x08, SubClass: 0x06, Protocols: []uint8{0x50, 0x62}}

// New creates a Backend bound to a fresh libusb context and starts its
// device poller.
func New(ctx context.Context, pollInterval time.Duration) *Backend {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	runCtx, cancel := context.WithCancel(ctx)
	b := &Backend{
		ctx:          gousb.NewContext(),
		sessions:     make(map[hostsvc.InterfaceID]*openSession),
		known:        make(map[hostsvc.InterfaceID]*gousb.DeviceDesc),
		byKey:        make(map[string]hostsvc.InterfaceID),
		pollInterval: pollInterval,
		cancel:       cancel,
	}
	go b.poll(runCtx)
	return b
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
	devices, err := b.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return true
	})
	if err != nil {
		pkg.LogWarn(pkg.ComponentHAL, "gousb device scan failed", "error", err)
		return
	}
	// OpenDevices opens every matched handle; close the ones this scan does
	// not keep for diffing (acquired sessions keep their own handle open via
	// Acquire, which re-opens by bus/address match).
	defer func() {
		for _, d := range devices {
			_ = d.Close()
		}
	}()

	b.mu.Lock()
	seen := make(map[string]bool)
	var newlyAvailable []hostsvc.InterfaceInfo
	for _, dev := range devices {
		desc := dev.Desc
		for _, cfg := range desc.Configs {
			for _, ifaceDesc := range cfg.Interfaces {
				ifNum := ifaceDesc.Number
				for _, alt := range ifaceDesc.AltSettings {
					if !massStorageFilter.Matches(uint8(alt.Class), uint8(alt.SubClass), uint8(alt.Protocol)) {
						continue
					}
					key := keyFor(desc, ifNum)
					seen[key] = true
					if _, exists := b.byKey[key]; exists {
						continue
					}
					id := b.nextID + 1
					b.nextID = id
					b.byKey[key] = id
					b.known[id] = desc
					newlyAvailable = append(newlyAvailable, descToInterface(id, dev, desc, ifNum, alt))
				}
			}
		}
	}

	var lostIDs []hostsvc.InterfaceID
	for key, id := range b.byKey {
		if !seen[key] {
			delete(b.byKey, key)
			delete(b.known, id)
			if _, acquired := b.sessions[id]; acquired {
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

func keyFor(desc *gousb.DeviceDesc, ifaceNum int) string {
	return strconv.Itoa(desc.Bus) + ":" + strconv.Itoa(desc.Address) + ":" + strconv.Itoa(ifaceNum)
}

func descToInterface(id hostsvc.InterfaceID, dev *gousb.Device, desc *gousb.DeviceDesc, ifNum int, alt gousb.InterfaceSetting) hostsvc.InterfaceInfo {
	manufacturer, _ := dev.Manufacturer()
	product, _ := dev.Product()
	serial, _ := dev.SerialNumber()

	as := hostsvc.AlternateSetting{Index: uint8(alt.Alternate), Protocol: uint8(alt.Protocol)}
	for addr, ep := range alt.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		as.Endpoints = append(as.Endpoints, hostsvc.EndpointDescriptor{
			Address:       uint8(addr),
			MaxPacketSize: uint16(ep.MaxPacketSize),
		})
	}

	return hostsvc.InterfaceInfo{
		ID:              id,
		VendorID:        uint16(desc.Vendor),
		ProductID:       uint16(desc.Product),
		Manufacturer:    manufacturer,
		Product:         product,
		SerialNumber:    serial,
		InterfaceNumber: uint8(ifNum),
		Alternates:      []hostsvc.AlternateSetting{as},
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
	var out []hostsvc.InterfaceInfo
	devices, err := b.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool { return true })
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, d := range devices {
			_ = d.Close()
		}
	}()

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, dev := range devices {
		desc := dev.Desc
		for _, cfg := range desc.Configs {
			for _, ifaceDesc := range cfg.Interfaces {
				ifNum := ifaceDesc.Number
				for _, alt := range ifaceDesc.AltSettings {
					if !filter.Matches(uint8(alt.Class), uint8(alt.SubClass), uint8(alt.Protocol)) {
						continue
					}
					key := keyFor(desc, ifNum)
					id, ok := b.byKey[key]
					if !ok {
						continue
					}
					out = append(out, descToInterface(id, dev, desc, ifNum, alt))
				}
			}
		}
	}
	return out, nil
}

func (b *Backend) Acquire(id hostsvc.InterfaceID, altIndex uint8) error {
	b.mu.Lock()
	desc, ok := b.known[id]
	b.mu.Unlock()
	if !ok {
		return pkg.NewFault(pkg.CategoryTransport, pkg.ErrNoDevice, "interface no longer present")
	}

	devices, err := b.ctx.OpenDevices(func(d *gousb.DeviceDesc) bool {
		return d.Bus == desc.Bus && d.Address == desc.Address
	})
	if err != nil || len(devices) == 0 {
		return pkg.NewFault(pkg.CategoryTransport, pkg.ErrNoDevice, "device vanished before acquire")
	}
	dev := devices[0]

	var ifNum int
	for _, cfg := range desc.Configs {
		for _, ifaceDesc := range cfg.Interfaces {
			ifNum = ifaceDesc.Number
			break
		}
		break
	}

	cfg, err := dev.Config(1)
	if err != nil {
		_ = dev.Close()
		return errors.Wrap(err, "select configuration")
	}
	intf, err := cfg.Interface(ifNum, int(altIndex))
	if err != nil {
		_ = cfg.Close()
		_ = dev.Close()
		return errors.Wrap(err, "claim interface")
	}

	b.mu.Lock()
	b.sessions[id] = &openSession{
		dev: dev, cfg: cfg, intf: intf,
		in: make(map[uint8]*gousb.InEndpoint), out: make(map[uint8]*gousb.OutEndpoint),
		ifaceNum: ifNum, altNum: int(altIndex),
	}
	b.mu.Unlock()
	return nil
}

func (b *Backend) Release(id hostsvc.InterfaceID) error {
	b.mu.Lock()
	s, ok := b.sessions[id]
	delete(b.sessions, id)
	b.mu.Unlock()
	if !ok {
		return nil
	}
	s.intf.Close()
	s.cfg.Close()
	return s.dev.Close()
}

func (b *Backend) lookup(id hostsvc.InterfaceID) (*openSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[id]
	if !ok {
		return nil, pkg.NewFault(pkg.CategoryProgramming, pkg.ErrInvalidState, "interface not acquired")
	}
	return s, nil
}

func (b *Backend) OpenEndpoint(id hostsvc.InterfaceID, address uint8) (hostsvc.Endpoint, error) {
	s, err := b.lookup(id)
	if err != nil {
		return hostsvc.Endpoint{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if address&0x80 != 0 {
		if _, ok := s.in[address]; !ok {
			in, err := s.intf.InEndpoint(int(address & 0x0F))
			if err != nil {
				return hostsvc.Endpoint{}, errors.Wrap(err, "open in endpoint")
			}
			s.in[address] = in
		}
	} else {
		if _, ok := s.out[address]; !ok {
			out, err := s.intf.OutEndpoint(int(address))
			if err != nil {
				return hostsvc.Endpoint{}, errors.Wrap(err, "open out endpoint")
			}
			s.out[address] = out
		}
	}
	return hostsvc.Endpoint{InterfaceID: id, Address: address}, nil
}

func (b *Backend) CloseEndpoint(ep hostsvc.Endpoint) error {
	s, err := b.lookup(ep.InterfaceID)
	if err != nil {
		return nil
	}
	b.mu.Lock()
	delete(s.in, ep.Address)
	delete(s.out, ep.Address)
	b.mu.Unlock()
	return nil
}

func (b *Backend) SubmitBulk(ctx context.Context, ep hostsvc.Endpoint, buf []byte, timeout time.Duration) hostsvc.TransferResult {
	s, err := b.lookup(ep.InterfaceID)
	if err != nil {
		return hostsvc.TransferResult{Err: err}
	}

	transferCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var n int
	if ep.Address&0x80 != 0 {
		in, ok := s.in[ep.Address]
		if !ok {
			return hostsvc.TransferResult{Err: pkg.NewFault(pkg.CategoryProgramming, pkg.ErrInvalidEndpoint, "endpoint not opened")}
		}
		n, err = in.ReadContext(transferCtx, buf)
	} else {
		out, ok := s.out[ep.Address]
		if !ok {
			return hostsvc.TransferResult{Err: pkg.NewFault(pkg.CategoryProgramming, pkg.ErrInvalidEndpoint, "endpoint not opened")}
		}
		n, err = out.WriteContext(transferCtx, buf)
	}
	if err != nil {
		if isStall(err) {
			return hostsvc.TransferResult{Transferred: n, Stalled: true, Err: pkg.ErrStall}
		}
		return hostsvc.TransferResult{Transferred: n, Err: errors.Wrap(err, "bulk transfer")}
	}
	return hostsvc.TransferResult{Transferred: n}
}

func (b *Backend) EndpointStalled(ep hostsvc.Endpoint) (bool, error) {
	if _, err := b.lookup(ep.InterfaceID); err != nil {
		return false, err
	}
	return false, nil
}

func (b *Backend) ClearStall(ep hostsvc.Endpoint) error {
	s, err := b.lookup(ep.InterfaceID)
	if err != nil {
		return err
	}
	// gousb clears a halted endpoint's stall via a standard Clear-Feature
	// control request issued against the device, the same transfer a
	// Bulk-Only Mass Storage Reset recovery performs.
	_, cerr := s.dev.Control(0x02, 0x01, 0, uint16(ep.Address), nil)
	return cerr
}

func (b *Backend) ControlTransfer(ctx context.Context, id hostsvc.InterfaceID, req hostsvc.ControlRequest, data []byte) (int, error) {
	s, err := b.lookup(id)
	if err != nil {
		return 0, err
	}
	n, cerr := s.dev.Control(req.RequestType, req.Request, req.Value, req.Index, data)
	if cerr != nil {
		if isStall(cerr) {
			return n, pkg.ErrStall
		}
		return n, errors.Wrap(cerr, "control transfer")
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
	ids := make([]hostsvc.InterfaceID, 0, len(b.sessions))
	for id := range b.sessions {
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
	return b.ctx.Close()
}

// isStall reports whether err represents a stalled endpoint. gousb does not
// export a sentinel for this; it surfaces the libusb transfer status as
// plain text inside the error, so this matches the wording libusb uses for
// LIBUSB_TRANSFER_STALL rather than depending on an internal type.
func isStall(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "stall") || strings.Contains(msg, "pipe")
}
