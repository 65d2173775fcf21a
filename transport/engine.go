package transport

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/ardnew/umsh/hostsvc"
	"github.com/ardnew/umsh/pkg"
)

// Engine is the Transfer Engine: it submits a single bulk transfer
// with a caller-supplied timeout, transparently recovering from an endpoint
// STALL, and issues the Bulk-Only class-specific control requests. It holds
// no per-Drive state; callers serialize their own endpoint usage.
type Engine struct {
	svc hostsvc.Service
}

// NewEngine wraps a host service for transfer submission.
func NewEngine(svc hostsvc.Service) *Engine {
	return &Engine{svc: svc}
}

// PostBulk submits a single bulk transfer. If the underlying submit reports
// (or the endpoint subsequently reports) a STALL, the engine clears it and,
// if retry is true, resubmits exactly once; a second failure is final. A
// zero-length buffer completes immediately with 0 transferred.
func (e *Engine) PostBulk(ctx context.Context, ep hostsvc.Endpoint, buf []byte, timeout time.Duration, retry bool) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	res := e.svc.SubmitBulk(ctx, ep, buf, timeout)
	if res.Err == nil && !res.Stalled {
		return res.Transferred, nil
	}

	stalled := res.Stalled
	if !stalled {
		if ok, serr := e.svc.EndpointStalled(ep); serr == nil && ok {
			stalled = true
		}
	}
	if !stalled {
		if res.Err == nil {
			res.Err = pkg.ErrProtocol
		}
		return res.Transferred, res.Err
	}

	if cerr := e.svc.ClearStall(ep); cerr != nil {
		return res.Transferred, cerr
	}
	if !retry {
		return res.Transferred, pkg.ErrStall
	}

	res2 := e.svc.SubmitBulk(ctx, ep, buf, timeout)
	if res2.Err != nil {
		return res2.Transferred, res2.Err
	}
	if res2.Stalled {
		return res2.Transferred, pkg.ErrStall
	}
	return res2.Transferred, nil
}

// StalledStatus reports whether ep is currently halted.
func (e *Engine) StalledStatus(ep hostsvc.Endpoint) (bool, error) {
	return e.svc.EndpointStalled(ep)
}

// ClearStall clears a halted endpoint.
func (e *Engine) ClearStall(ep hostsvc.Endpoint) error {
	return e.svc.ClearStall(ep)
}

// BulkReset issues a Bulk-Only Mass Storage Reset against the given
// interface, the fallback recovery action once stall-clearing alone fails.
func (e *Engine) BulkReset(ctx context.Context, id hostsvc.InterfaceID) error {
	_, err := e.svc.ControlTransfer(ctx, id, hostsvc.ControlRequest{
		RequestType: 0x21, // host-to-device, class, interface
		Request:     RequestBulkOnlyMassStorageReset,
	}, nil)
	return err
}

// GetMaxLUN issues the Get-Max-LUN class-specific control request. Per the
// lenient fallback, a STALL on this request
// is treated as "device has a single LUN" rather than a fatal error.
func (e *Engine) GetMaxLUN(ctx context.Context, id hostsvc.InterfaceID) (maxLUN uint8, assumed bool, err error) {
	buf := make([]byte, 1)
	n, cerr := e.svc.ControlTransfer(ctx, id, hostsvc.ControlRequest{
		RequestType: 0xA1, // device-to-host, class, interface
		Request:     RequestGetMaxLUN,
	}, buf)
	if cerr != nil {
		if errors.Is(cerr, pkg.ErrStall) {
			return 0, true, nil
		}
		return 0, false, cerr
	}
	if n < 1 {
		return 0, true, nil
	}
	return buf[0], false, nil
}
