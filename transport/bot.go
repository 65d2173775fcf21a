package transport

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/ardnew/umsh/hostsvc"
	"github.com/ardnew/umsh/pkg"
)

// CommandResult is the outcome of one BOT command cycle.
type CommandResult struct {
	Transferred int
	Residue     uint32
	Status      uint8 // CSWStatusGood, CSWStatusFailed, CSWStatusPhaseError
}

// BOTSession drives the CBW -> (DataOut|DataIn|NoData) -> CSW state machine
// for a single Drive's Bulk-Only interface. It owns the tag counter
// and the reset budget, which is tracked per Drive lifetime rather than per
// command.
type BOTSession struct {
	Engine *Engine

	InterfaceID hostsvc.InterfaceID
	Out, In     hostsvc.Endpoint

	tag        uint32
	resetCount int
}

// NewBOTSession constructs a session bound to one acquired interface's
// bulk endpoint pair.
func NewBOTSession(engine *Engine, id hostsvc.InterfaceID, out, in hostsvc.Endpoint) *BOTSession {
	return &BOTSession{Engine: engine, InterfaceID: id, Out: out, In: in}
}

func (s *BOTSession) nextTag() uint32 {
	return atomic.AddUint32(&s.tag, 1)
}

// ResetsUsed reports how many Bulk-Only Mass Storage Resets this session has
// performed so far, for the caller (the Drive) to compare against
// MaxResetsPerDrive.
func (s *BOTSession) ResetsUsed() int { return s.resetCount }

// reset issues a Bulk-Only Mass Storage Reset, counting it against the
// per-Drive budget. Returns an error if the budget is exhausted or the
// device's reset itself fails.
func (s *BOTSession) reset(ctx context.Context) error {
	if s.resetCount >= MaxResetsPerDrive {
		return errors.New("bulk-only reset budget exhausted for this drive")
	}
	s.resetCount++
	return s.Engine.BulkReset(ctx, s.InterfaceID)
}

// ExecuteCommand drives one full BOT command cycle: sends the CBW, performs
// the data phase (if any) against buf, reads and validates the CSW, and
// applies the Bulk-Only recovery transitions. buf must be sized to xferLen for
// a data phase, and is read from (Write) or written to (Read) in place.
func (s *BOTSession) ExecuteCommand(ctx context.Context, lun uint8, cdb []byte, dataIn bool, xferLen uint32, buf []byte, timeout TimeoutSet) (CommandResult, error) {
	tag := s.nextTag()
	cbw := NewCBW(tag, xferLen, lun, dataIn, cdb)

	cbwBuf := make([]byte, CBWSize)
	if n := cbw.MarshalTo(cbwBuf); n == 0 {
		return CommandResult{}, pkg.ErrInvalidParameter
	}

	// CBW send failure -> clear OUT STALL -> one retry -> otherwise
	// Bulk-Only Reset -> if that fails, the caller destroys the drive.
	if _, err := s.Engine.PostBulk(ctx, s.Out, cbwBuf, timeout.CBW, true); err != nil {
		if rerr := s.reset(ctx); rerr != nil {
			return CommandResult{}, errors.Wrap(rerr, "CBW send failed and drive reset also failed")
		}
		return CommandResult{}, errors.Wrap(err, "CBW send failed, drive was reset")
	}

	var transferred int
	if xferLen > 0 {
		var dataErr error
		if dataIn {
			transferred, dataErr = s.Engine.PostBulk(ctx, s.In, buf[:xferLen], timeout.Data, false)
		} else {
			transferred, dataErr = s.Engine.PostBulk(ctx, s.Out, buf[:xferLen], timeout.Data, false)
		}
		if dataErr != nil {
			// A data-phase STALL does not abort the command: PostBulk,
			// called here without retry, has already cleared the STALL;
			// proceed straight to the CSW read regardless of dataErr.
			if !errors.Is(dataErr, pkg.ErrStall) {
				return CommandResult{}, dataErr
			}
		}
	}

	cswBuf := make([]byte, CSWSize)
	cswN, err := s.Engine.PostBulk(ctx, s.In, cswBuf, timeout.CSW, true)
	if err != nil {
		return CommandResult{}, errors.Wrap(err, "CSW read failed")
	}
	if cswN < CSWSize {
		if rerr := s.reset(ctx); rerr != nil {
			return CommandResult{}, errors.Wrap(rerr, "short CSW and drive reset also failed")
		}
		return CommandResult{}, pkg.ErrProtocol
	}

	var csw CommandStatusWrapper
	if !ParseCSW(cswBuf, &csw) || !csw.Valid(tag) {
		if rerr := s.reset(ctx); rerr != nil {
			return CommandResult{}, errors.Wrap(rerr, "CSW signature/tag mismatch and drive reset also failed")
		}
		return CommandResult{}, pkg.ErrProtocol
	}

	if csw.Status == CSWStatusPhaseError {
		if rerr := s.reset(ctx); rerr != nil {
			return CommandResult{}, errors.Wrap(rerr, "CSW phase error and drive reset also failed")
		}
		return CommandResult{Transferred: transferred, Residue: csw.DataResidue, Status: csw.Status}, nil
	}

	return CommandResult{Transferred: transferred, Residue: csw.DataResidue, Status: csw.Status}, nil
}

// CommandSession is the common shape of BOTSession and UASPSession: drive
// one SCSI command through whichever transport a Drive negotiated. The LUN
// Prober and Block Adapter depend only on this interface.
type CommandSession interface {
	ExecuteCommand(ctx context.Context, lun uint8, cdb []byte, dataIn bool, xferLen uint32, buf []byte, timeout TimeoutSet) (CommandResult, error)
}

// TimeoutSet bundles the three independent phase timeouts of a transfer.
type TimeoutSet struct {
	CBW, Data, CSW time.Duration
}

// DefaultTimeouts returns the suggested defaults, sizing the data timeout to
// xferLen.
func DefaultTimeouts(xferLen int) TimeoutSet {
	return TimeoutSet{
		CBW:  DefaultCBWTimeout,
		Data: DataTimeout(xferLen),
		CSW:  DefaultCSWTimeout,
	}
}
