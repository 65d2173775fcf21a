package drive

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/ardnew/umsh/hostsvc"
	"github.com/ardnew/umsh/lun"
	"github.com/ardnew/umsh/pkg"
	"github.com/ardnew/umsh/scsi"
	"github.com/ardnew/umsh/transport"
)

// Drive represents one acquired USB interface matching Mass Storage + SCSI
// Transparent + (Bulk-Only or UASP).
//
// The mutex here is a plain sync.Mutex rather than the source's recursive
// mutex: every multi-step operation (probing, a Block Adapter call) is
// entered through exactly one exported method that locks once for its whole
// duration, so nothing on this Drive's call path ever re-enters the lock
// from within itself. This preserves the locking discipline's ordering guarantee without
// needing reentrant locking, which Go's sync.Mutex deliberately does not
// provide.
type Drive struct {
	ID hostsvc.InterfaceID

	UASP                bool
	VendorID, ProductID uint16
	Manufacturer        string
	Product             string
	SerialNumber        string

	mu   sync.Mutex
	svc  hostsvc.Service
	bot  *transport.BOTSession
	uasp *transport.UASPSession

	cancelUASP context.CancelFunc

	LUNs []*LUNHandle
}

// Mutex exposes the Drive's lock so a Block Adapter built on top of it can
// share the same critical section: every call acquires the parent Drive's mutex.
func (d *Drive) Mutex() *sync.Mutex { return &d.mu }

// Session returns the command session (BOT or UASP) this Drive negotiated,
// for constructing a Prober or Block Adapter against it.
func (d *Drive) Session() transport.CommandSession {
	if d.UASP {
		return d.uasp
	}
	return d.bot
}

// ResetsUsed reports the Bulk-Only reset count for a BOT drive; always 0 for
// UASP, which has no equivalent class-specific reset in this design.
func (d *Drive) ResetsUsed() int {
	if d.bot != nil {
		return d.bot.ResetsUsed()
	}
	return 0
}

// New constructs a Drive from a newly available interface: it acquires the
// interface (selecting the UASP alternate setting when present, else BOT),
// opens its bulk endpoint sessions, reads device strings, and queries
// Get-Max-LUN/REPORT LUNS — but does not probe LUNs itself; the caller (the
// Reactor) drives LUN probing via Prober against Session().
func New(ctx context.Context, svc hostsvc.Service, info hostsvc.InterfaceInfo) (*Drive, error) {
	alt, uasp := selectAlternate(info.Alternates)
	if alt == nil {
		return nil, pkg.NewFault(pkg.CategoryProgramming, pkg.ErrInvalidParameter, "interface has no usable Bulk-Only or UASP alternate setting")
	}

	if err := svc.Acquire(info.ID, alt.Index); err != nil {
		return nil, errors.Wrap(err, "acquire interface")
	}

	d := &Drive{
		ID:           info.ID,
		UASP:         uasp,
		VendorID:     info.VendorID,
		ProductID:    info.ProductID,
		Manufacturer: info.Manufacturer,
		Product:      info.Product,
		SerialNumber: info.SerialNumber,
		svc:          svc,
	}

	engine := transport.NewEngine(svc)
	if uasp {
		cmdOut, statusIn, dataIn, dataOut, err := openUASPEndpoints(svc, info.ID, alt.Endpoints)
		if err != nil {
			_ = svc.Release(info.ID)
			return nil, err
		}
		d.uasp = transport.NewUASPSession(engine, info.ID, cmdOut, statusIn, dataIn, dataOut)
		runCtx, cancel := context.WithCancel(ctx)
		d.cancelUASP = cancel
		go d.uasp.Run(runCtx)
	} else {
		out, in, err := openBOTEndpoints(svc, info.ID, alt.Endpoints)
		if err != nil {
			_ = svc.Release(info.ID)
			return nil, err
		}
		d.bot = transport.NewBOTSession(engine, info.ID, out, in)
	}

	return d, nil
}

// Close sends Stop Unit to each LUN that supports eject (other LUNs are sent
// nothing), stops the UASP session if there is one, and releases the
// interface acquisition.
func (d *Drive) Close(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, l := range d.LUNs {
		if l.EjectSupported {
			_, _ = d.Session().ExecuteCommand(ctx, l.Index, stopUnitCDB(), false, 0, nil, transport.DefaultTimeouts(0))
		}
	}
	if d.cancelUASP != nil {
		d.cancelUASP()
	}
	if d.uasp != nil {
		d.uasp.Close()
	}
	_ = d.svc.Release(d.ID)
}

func stopUnitCDB() []byte {
	// START STOP UNIT, start=false, loej=false: a plain stop.
	return []byte{0x1B, 0, 0, 0, 0, 0}
}

func selectAlternate(alts []hostsvc.AlternateSetting) (*hostsvc.AlternateSetting, bool) {
	var bot *hostsvc.AlternateSetting
	for i := range alts {
		switch alts[i].Protocol {
		case transport.ProtocolUAS:
			return &alts[i], true
		case transport.ProtocolBulkOnly:
			bot = &alts[i]
		}
	}
	return bot, false
}

func openBOTEndpoints(svc hostsvc.Service, id hostsvc.InterfaceID, eps []hostsvc.EndpointDescriptor) (out, in hostsvc.Endpoint, err error) {
	var outDesc, inDesc *hostsvc.EndpointDescriptor
	for i := range eps {
		if eps[i].IsIn() {
			inDesc = &eps[i]
		} else {
			outDesc = &eps[i]
		}
	}
	if outDesc == nil || inDesc == nil {
		return hostsvc.Endpoint{}, hostsvc.Endpoint{}, pkg.NewFault(pkg.CategoryProgramming, pkg.ErrInvalidParameter, "BOT alternate setting missing an IN or OUT bulk endpoint")
	}
	out, err = svc.OpenEndpoint(id, outDesc.Address)
	if err != nil {
		return hostsvc.Endpoint{}, hostsvc.Endpoint{}, err
	}
	in, err = svc.OpenEndpoint(id, inDesc.Address)
	return out, in, err
}

// openUASPEndpoints opens the four UAS endpoints. This design does not model
// pipe-usage descriptors as a distinct structure; it relies on endpoint
// ordering within the alternate setting matching pipe IDs 1-4
// (Cmd, Status, DataIn, DataOut), which is what host services report them in.
func openUASPEndpoints(svc hostsvc.Service, id hostsvc.InterfaceID, eps []hostsvc.EndpointDescriptor) (cmdOut, statusIn, dataIn, dataOut hostsvc.Endpoint, err error) {
	if len(eps) < 4 {
		return hostsvc.Endpoint{}, hostsvc.Endpoint{}, hostsvc.Endpoint{}, hostsvc.Endpoint{},
			pkg.NewFault(pkg.CategoryProgramming, pkg.ErrInvalidParameter, "UASP alternate setting must expose four endpoints")
	}
	addrs := make([]uint8, 4)
	for i := 0; i < 4; i++ {
		addrs[i] = eps[i].Address
	}
	cmdOut, err = svc.OpenEndpoint(id, addrs[0])
	if err != nil {
		return
	}
	statusIn, err = svc.OpenEndpoint(id, addrs[1])
	if err != nil {
		return
	}
	dataIn, err = svc.OpenEndpoint(id, addrs[2])
	if err != nil {
		return
	}
	dataOut, err = svc.OpenEndpoint(id, addrs[3])
	return
}

// MaxLUN determines how many LUNs to probe: a BOT drive issues the
// class-specific Get-Max-LUN control request (lenient STALL fallback to a
// single LUN's open question); a UASP drive issues REPORT LUNS
// instead.
func (d *Drive) MaxLUN(ctx context.Context) (uint8, error) {
	if d.UASP {
		return d.maxLUNViaReportLUNs(ctx)
	}
	engine := transport.NewEngine(d.svc)
	maxLUN, _, err := engine.GetMaxLUN(ctx, d.ID)
	return maxLUN, err
}

func (d *Drive) maxLUNViaReportLUNs(ctx context.Context) (uint8, error) {
	const allocLength = 16 * 8 // header (8) + up to 15 additional 8-byte LUN entries
	buf := make([]byte, allocLength)
	res, err := d.uasp.ExecuteCommand(ctx, 0, scsi.ReportLUNs(allocLength), true, allocLength, buf, transport.DefaultTimeouts(allocLength))
	if err != nil {
		return 0, err
	}
	if res.Status != transport.CSWStatusGood || len(buf) < 8 {
		return 0, nil
	}
	lunListLength := uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
	count := lunListLength / 8
	if count == 0 {
		return 0, nil
	}
	if count > 16 {
		count = 16
	}
	return uint8(count - 1), nil
}

// ProbeLUNs runs the Prober across every LUN index 0..maxLUN (inclusive),
// appending each result to d.LUNs. Max concurrent probing across LUNs is one
// per Drive, enforced simply by doing this sequentially under the
// Drive's lock.
func (d *Drive) ProbeLUNs(ctx context.Context, maxLUN uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	prober := lun.NewProber(d.Session())
	for i := uint8(0); ; i++ {
		probed, err := prober.Probe(ctx, i)
		if err != nil {
			pkg.LogWarn(pkg.ComponentLUN, "LUN probe failed", "interface", d.ID, "lun", i, "error", err)
		} else {
			d.LUNs = append(d.LUNs, &LUNHandle{LUN: probed})
		}
		if i == maxLUN {
			break
		}
	}
	if len(d.LUNs) == 0 {
		return pkg.NewFault(pkg.CategoryMedium, pkg.ErrInvalidState, "no LUN on this interface probed successfully")
	}
	return nil
}
