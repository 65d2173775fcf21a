package lun

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/ardnew/umsh/pkg"
	"github.com/ardnew/umsh/scsi"
	"github.com/ardnew/umsh/transport"
)

// maxStepRetries bounds retries on recoverable sense keys within a single
// probing step.
const maxStepRetries = 3

// backoff returns the small, increasing delay between retry attempts.
func backoff(attempt int) time.Duration {
	return time.Duration(attempt+1) * 50 * time.Millisecond
}

// Prober runs the LUN probing sequence against a single Drive's command
// session. Max concurrent probing across a Drive's LUNs is one; the
// caller (Drive.ProbeLUNs) is responsible for invoking Probe
// sequentially per LUN index.
type Prober struct {
	Session transport.CommandSession
}

// NewProber wraps a command session (BOT or UASP; both satisfy
// transport.CommandSession).
func NewProber(session transport.CommandSession) *Prober {
	return &Prober{Session: session}
}

// Probe runs the full probe sequence for one LUN index and returns the
// populated LUN, or an error if the LUN must be failed outright.
func (p *Prober) Probe(ctx context.Context, index uint8) (*LUN, error) {
	l := &LUN{Index: index}

	// Step 1: Test Unit Ready.
	notPresent, err := p.testUnitReady(ctx, index, l)
	if err != nil {
		return nil, err
	}
	if notPresent {
		l.NotPresent = true
		return l, nil
	}

	// Step 2: Inquiry.
	if err := p.inquiry(ctx, index, l); err != nil {
		return nil, err
	}

	// Step 3: Read Format Capacities (tolerant of Illegal Request).
	p.readFormatCapacities(ctx, index)

	// Step 4: Request Sense to drain residual unit attention.
	p.drainSense(ctx, index)

	// Step 5: Read Capacity (10), escalating to (16) when maxed.
	if err := p.readCapacity(ctx, index, l); err != nil {
		return nil, err
	}

	// Step 6: Mode Sense (6) Caching page.
	p.modeSenseCaching(ctx, index, l)

	// Step 7: Prevent Medium Removal, if removable and eject is supported.
	if l.Removable && l.EjectSupported {
		p.preventRemoval(ctx, index)
	}

	l.Ready = true
	return l, nil
}

// runStep executes a single command, retrying up to maxStepRetries times
// when the command fails with a recoverable sense key (Not Ready-becoming-
// ready, Unit Attention). Returns the final sense on an unrecoverable or
// exhausted failure, so callers can distinguish "device says no" from
// "transport broke".
func (p *Prober) runStep(ctx context.Context, lunIndex uint8, cdb []byte, dataIn bool, xferLen uint32, buf []byte) (transport.CommandResult, *scsi.Sense, error) {
	timeout := transport.DefaultTimeouts(int(xferLen))

	var lastSense scsi.Sense
	for attempt := 0; attempt <= maxStepRetries; attempt++ {
		res, err := p.Session.ExecuteCommand(ctx, lunIndex, cdb, dataIn, xferLen, buf, timeout)
		if err != nil {
			return res, nil, errors.Wrap(err, "transport error during probe step")
		}
		if res.Status == transport.CSWStatusGood {
			return res, nil, nil
		}

		sense, serr := p.requestSense(ctx, lunIndex)
		if serr != nil {
			return res, nil, serr
		}
		lastSense = sense

		if sense.IsRecoverable() && attempt < maxStepRetries {
			time.Sleep(backoff(attempt))
			continue
		}
		return res, &lastSense, pkg.NewFault(pkg.CategoryMedium, pkg.ErrInvalidState,
			"command failed with unrecoverable sense")
	}
	return transport.CommandResult{}, &lastSense, pkg.NewFault(pkg.CategoryMedium, pkg.ErrInvalidState,
		"command failed after exhausting retries")
}

func (p *Prober) requestSense(ctx context.Context, lunIndex uint8) (scsi.Sense, error) {
	buf := make([]byte, scsi.RequestSenseLength)
	res, err := p.Session.ExecuteCommand(ctx, lunIndex, scsi.RequestSense(scsi.RequestSenseLength), true,
		scsi.RequestSenseLength, buf, transport.DefaultTimeouts(scsi.RequestSenseLength))
	if err != nil {
		return scsi.Sense{}, errors.Wrap(err, "request sense transport error")
	}
	if res.Status != transport.CSWStatusGood {
		return scsi.Sense{}, pkg.NewFault(pkg.CategoryProtocol, pkg.ErrProtocol, "request sense itself failed")
	}
	var sense scsi.Sense
	if !scsi.ParseSense(buf, &sense) {
		return scsi.Sense{}, pkg.NewFault(pkg.CategoryProtocol, pkg.ErrProtocol, "malformed sense data")
	}
	return sense, nil
}

func (p *Prober) testUnitReady(ctx context.Context, lunIndex uint8, l *LUN) (notPresent bool, err error) {
	res, sense, err := p.runStep(ctx, lunIndex, scsi.TestUnitReady(), false, 0, nil)
	if err == nil {
		return false, nil
	}
	if sense != nil && sense.IsMediumNotPresent() {
		l.Removable = true
		return true, nil
	}
	_ = res
	return false, err
}

func (p *Prober) inquiry(ctx context.Context, lunIndex uint8, l *LUN) error {
	buf := make([]byte, scsi.InquiryStandardLength)
	_, _, err := p.runStep(ctx, lunIndex, scsi.InquiryCDB(scsi.InquiryStandardLength), true,
		scsi.InquiryStandardLength, buf)
	if err != nil {
		return err
	}

	var inq scsi.Inquiry
	if !scsi.ParseInquiry(buf, &inq) {
		return pkg.NewFault(pkg.CategoryProtocol, pkg.ErrProtocol, "malformed INQUIRY response")
	}
	if !inq.IsDirectAccessBlockDevice() {
		return pkg.NewFault(pkg.CategoryMedium, pkg.ErrNotSupported, "LUN is not a direct-access block device")
	}

	l.Removable = inq.Removable
	l.EjectSupported = inq.Removable
	l.Vendor = scsi.TrimASCII(inq.Vendor[:])
	l.Product = scsi.TrimASCII(inq.Product[:])
	l.Serial = p.fetchSerial(ctx, lunIndex)
	return nil
}

// fetchSerial attempts the EVPD page 0x80 Unit Serial Number inquiry as a
// supplement to the standard INQUIRY (which carries no serial field beyond
// vendor/product). Failure here is never fatal to the LUN: an empty serial
// is a perfectly valid result.
func (p *Prober) fetchSerial(ctx context.Context, lunIndex uint8) string {
	const allocLength = 64
	buf := make([]byte, allocLength)
	res, err := p.Session.ExecuteCommand(ctx, lunIndex, scsi.InquiryEVPD(0x80, allocLength), true,
		allocLength, buf, transport.DefaultTimeouts(allocLength))
	if err != nil || res.Status != transport.CSWStatusGood {
		return ""
	}
	if len(buf) < 4 {
		return ""
	}
	pageLen := int(buf[3])
	if 4+pageLen > len(buf) {
		pageLen = len(buf) - 4
	}
	return scsi.TrimASCII(buf[4 : 4+pageLen])
}

// readFormatCapacities is tolerant: some devices reply Illegal Request, which
// is ignored.
func (p *Prober) readFormatCapacities(ctx context.Context, lunIndex uint8) {
	const allocLength = 12
	buf := make([]byte, allocLength)
	_, _, _ = p.runStep(ctx, lunIndex, scsi.ReadFormatCapacities(allocLength), true, allocLength, buf)
}

func (p *Prober) drainSense(ctx context.Context, lunIndex uint8) {
	_, _ = p.requestSense(ctx, lunIndex)
}

func (p *Prober) readCapacity(ctx context.Context, lunIndex uint8, l *LUN) error {
	buf10 := make([]byte, scsi.ReadCapacity10Length)
	_, _, err := p.runStep(ctx, lunIndex, scsi.ReadCapacity10(), true, scsi.ReadCapacity10Length, buf10)
	if err != nil {
		return err
	}

	var capacity scsi.Capacity
	if !scsi.ParseReadCapacity10(buf10, &capacity) {
		return pkg.NewFault(pkg.CategoryProtocol, pkg.ErrProtocol, "malformed READ CAPACITY (10) response")
	}

	if capacity.IsMaxed() {
		buf16 := make([]byte, scsi.ReadCapacity16Length)
		_, _, err := p.runStep(ctx, lunIndex, scsi.ReadCapacity16(), true, scsi.ReadCapacity16Length, buf16)
		if err != nil {
			return err
		}
		if !scsi.ParseReadCapacity16(buf16, &capacity) {
			return pkg.NewFault(pkg.CategoryProtocol, pkg.ErrProtocol, "malformed READ CAPACITY (16) response")
		}
		l.LongLBA = true
	}

	if capacity.BlockLength == 0 || capacity.LastLBA == 0 {
		return pkg.NewFault(pkg.CategoryMedium, pkg.ErrInvalidState, "zero block length or block count")
	}
	if !isSupportedBlockLength(capacity.BlockLength) {
		return pkg.NewFault(pkg.CategoryMedium, pkg.ErrInvalidState, "unsupported block length")
	}

	l.BlockLength = capacity.BlockLength
	l.BlockCount = capacity.LastLBA + 1
	return nil
}

// isSupportedBlockLength reports whether n is one of the block lengths this
// host's Block Adapter chunking logic assumes; any other value is rejected
// outright rather than probed further.
func isSupportedBlockLength(n uint32) bool {
	switch n {
	case 512, 1024, 2048, 4096:
		return true
	default:
		return false
	}
}

func (p *Prober) modeSenseCaching(ctx context.Context, lunIndex uint8, l *LUN) {
	const allocLength = 4 + 8 + 20
	buf := make([]byte, allocLength)
	_, _, err := p.runStep(ctx, lunIndex, scsi.ModeSense6(scsi.ModePageCaching, false, allocLength), true,
		allocLength, buf)
	if err != nil {
		return
	}
	var ms scsi.ModeSenseCaching
	if scsi.ParseModeSense6Caching(buf, &ms) {
		l.WriteCacheOn = ms.WriteCacheEnabled
		l.FUASupported = ms.FUASupported
	}
}

func (p *Prober) preventRemoval(ctx context.Context, lunIndex uint8) {
	_, _, _ = p.runStep(ctx, lunIndex, scsi.PreventAllowRemoval(true), false, 0, nil)
}
