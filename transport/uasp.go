package transport

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"

	"github.com/ardnew/umsh/hostsvc"
	"github.com/ardnew/umsh/pkg"
)

// UASP Information Unit IDs (USB Attached SCSI). Only the subset this host
// issues/consumes is named: Read/Write Ready IU handshaking is not modeled
// separately, since the host service's SubmitBulk already blocks until the
// data phase completes or times out.
const (
	iuIDCommand = 0x01
	iuIDSense   = 0x03

	commandIUSize = 1 + 1 + 2 + 1 + 1 + 1 + 1 + 8 // fixed header before CDB
	senseIUHeader = 1 + 1 + 2 + 2 + 1 + 7 + 2      // up to (excl.) sense data
)

// CommandIU is the host-built UASP command header: a 16-bit task tag, an
// 8-byte LUN field (first byte holds the LUN index; LUNs are 0-15 so
// the remaining bytes are always zero), and the embedded CDB.
type CommandIU struct {
	Tag uint16
	LUN uint8
	CDB []byte
}

// MarshalTo writes the Command IU to buf. Returns bytes written, or 0 if buf
// is too small.
func (c *CommandIU) MarshalTo(buf []byte) int {
	total := commandIUSize + len(c.CDB)
	if len(buf) < total {
		return 0
	}
	buf[0] = iuIDCommand
	buf[1] = 0
	binary.BigEndian.PutUint16(buf[2:4], c.Tag)
	buf[4] = 0 // priority/attribute: simple queue
	buf[5] = 0
	buf[6] = 0 // additional CDB length (none; CDB fits the base 16 bytes)
	buf[7] = 0
	for i := 0; i < 8; i++ {
		buf[8+i] = 0
	}
	buf[8] = c.LUN
	copy(buf[16:], c.CDB)
	return total
}

// StatusIU is the host-parsed UASP Sense IU, carrying the command's final
// status and (optionally) sense data.
type StatusIU struct {
	Tag       uint16
	Status    uint8
	SenseData []byte
}

// ParseStatusIU parses a Sense IU. Returns false if data is too short or the
// IU ID does not indicate a Sense IU.
func ParseStatusIU(data []byte, out *StatusIU) bool {
	if len(data) < senseIUHeader || data[0] != iuIDSense {
		return false
	}
	out.Tag = binary.BigEndian.Uint16(data[2:4])
	out.Status = data[6]
	senseLen := binary.BigEndian.Uint16(data[14:16])
	if int(senseLen) > len(data)-senseIUHeader {
		senseLen = uint16(len(data) - senseIUHeader)
	}
	out.SenseData = data[senseIUHeader : senseIUHeader+int(senseLen)]
	return true
}

// UASPSession drives the multi-stream Command/Status/DataIn/DataOut state
// machine for a single Drive's UAS interface. Each outstanding command
// has a unique 16-bit task tag; a background dispatch loop demultiplexes
// Status IUs arriving out of order back to the waiting caller.
type UASPSession struct {
	Engine *Engine

	InterfaceID                  hostsvc.InterfaceID
	CmdOut, StatusIn, DataIn, DataOut hostsvc.Endpoint

	mu      sync.Mutex
	pending map[uint16]chan StatusIU
	nextTag uint16

	stop chan struct{}
}

// NewUASPSession constructs a session bound to one acquired interface's four
// UAS endpoints (command out, status in, data in, data out); it does not
// itself check which pipe each endpoint serves.
func NewUASPSession(engine *Engine, id hostsvc.InterfaceID, cmdOut, statusIn, dataIn, dataOut hostsvc.Endpoint) *UASPSession {
	return &UASPSession{
		Engine:      engine,
		InterfaceID: id,
		CmdOut:      cmdOut,
		StatusIn:    statusIn,
		DataIn:      dataIn,
		DataOut:     dataOut,
		pending:     make(map[uint16]chan StatusIU),
		stop:        make(chan struct{}),
	}
}

func (s *UASPSession) allocTag() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTag++
	if s.nextTag == 0 {
		s.nextTag = 1
	}
	return s.nextTag
}

// Run starts the Status IU dispatch loop. It blocks until ctx is cancelled or
// Close is called; callers run it in its own goroutine for the session's
// lifetime.
func (s *UASPSession) Run(ctx context.Context) {
	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			s.failAllPending(ctx.Err())
			return
		case <-s.stop:
			s.failAllPending(pkg.ErrNotRunning)
			return
		default:
		}

		n, err := s.Engine.PostBulk(ctx, s.StatusIn, buf, DefaultCSWTimeout, true)
		if err != nil {
			continue // transient: timeout waiting for the next status, keep polling
		}
		var status StatusIU
		if !ParseStatusIU(buf[:n], &status) {
			continue
		}

		s.mu.Lock()
		ch, ok := s.pending[status.Tag]
		if ok {
			delete(s.pending, status.Tag)
		}
		s.mu.Unlock()

		if ok {
			ch <- status
		}
	}
}

func (s *UASPSession) failAllPending(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tag, ch := range s.pending {
		close(ch)
		delete(s.pending, tag)
	}
}

// Close stops the dispatch loop started by Run.
func (s *UASPSession) Close() {
	close(s.stop)
}

// ExecuteCommand sends one Command IU, performs the data phase (if any)
// directly against the data endpoints, then waits for the matching Status IU
// delivered by the Run dispatch loop.
func (s *UASPSession) ExecuteCommand(ctx context.Context, lun uint8, cdb []byte, dataIn bool, xferLen uint32, buf []byte, timeout TimeoutSet) (CommandResult, error) {
	tag := s.allocTag()

	ch := make(chan StatusIU, 1)
	s.mu.Lock()
	s.pending[tag] = ch
	s.mu.Unlock()

	cmd := &CommandIU{Tag: tag, LUN: lun, CDB: cdb}
	cmdBuf := make([]byte, commandIUSize+len(cdb))
	if cmd.MarshalTo(cmdBuf) == 0 {
		s.mu.Lock()
		delete(s.pending, tag)
		s.mu.Unlock()
		return CommandResult{}, pkg.ErrInvalidParameter
	}

	if _, err := s.Engine.PostBulk(ctx, s.CmdOut, cmdBuf, timeout.CBW, true); err != nil {
		s.mu.Lock()
		delete(s.pending, tag)
		s.mu.Unlock()
		return CommandResult{}, errors.Wrap(err, "command IU send failed")
	}

	var transferred int
	if xferLen > 0 {
		var dataErr error
		if dataIn {
			transferred, dataErr = s.Engine.PostBulk(ctx, s.DataIn, buf[:xferLen], timeout.Data, true)
		} else {
			transferred, dataErr = s.Engine.PostBulk(ctx, s.DataOut, buf[:xferLen], timeout.Data, true)
		}
		if dataErr != nil && !errors.Is(dataErr, pkg.ErrStall) {
			s.mu.Lock()
			delete(s.pending, tag)
			s.mu.Unlock()
			return CommandResult{}, dataErr
		}
	}

	select {
	case status, ok := <-ch:
		if !ok {
			return CommandResult{}, pkg.ErrProtocol
		}
		return CommandResult{Transferred: transferred, Status: status.Status}, nil
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, tag)
		s.mu.Unlock()
		return CommandResult{}, ctx.Err()
	}
}
