package hostsvc

import (
	"context"
	"time"
)

// ClassFilter selects which interfaces InterfaceAvailable reports. The core
// always filters on Mass Storage + SCSI Transparent + (BOT or UASP)
type ClassFilter struct {
	Class    uint8
	SubClass uint8
	// Protocols is the set of acceptable bInterfaceProtocol values; an empty
	// set matches any protocol.
	Protocols []uint8
}

// Matches reports whether the given class/subclass/protocol triple passes
// the filter.
func (f ClassFilter) Matches(class, subClass, protocol uint8) bool {
	if class != f.Class || subClass != f.SubClass {
		return false
	}
	if len(f.Protocols) == 0 {
		return true
	}
	for _, p := range f.Protocols {
		if p == protocol {
			return true
		}
	}
	return false
}

// InterfaceID opaquely identifies an acquired interface session. Two Drives
// never share an InterfaceID.
type InterfaceID uint64

// EndpointDescriptor describes a single bulk endpoint discovered on an
// interface's active alternate setting.
type EndpointDescriptor struct {
	Address       uint8 // includes direction bit (0x80 = IN)
	MaxPacketSize uint16
}

// IsIn reports whether this is a device-to-host endpoint.
func (e EndpointDescriptor) IsIn() bool { return e.Address&0x80 != 0 }

// AlternateSetting describes one alternate setting of an interface, with the
// bulk endpoints it exposes. UASP devices expose a Bulk-Only alternate
// setting (protocol 0x50) and a UAS alternate setting (protocol 0x62) on the
// same interface number; the prober selects between them.
type AlternateSetting struct {
	Index     uint8
	Protocol  uint8 // bInterfaceProtocol
	Endpoints []EndpointDescriptor
}

// InterfaceInfo describes an available or acquired Mass Storage interface.
type InterfaceInfo struct {
	ID InterfaceID

	VendorID, ProductID uint16
	Manufacturer        string
	Product             string
	SerialNumber        string

	InterfaceNumber uint8
	Alternates      []AlternateSetting
}

// Endpoint is a handle to an opened bulk endpoint session. The host service
// owns the underlying OS resource; Endpoint is only a reference passed back
// into Service methods.
type Endpoint struct {
	InterfaceID InterfaceID
	Address     uint8
}

// ControlRequest is a class-specific control transfer: Get-Max-LUN,
// Bulk-Only Reset, Get Configuration/String Descriptor, Clear-Feature
// ENDPOINT_HALT.
type ControlRequest struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
}

// TransferResult reports the outcome of a single bulk transfer.
type TransferResult struct {
	Transferred int
	Stalled     bool
	Err         error
}

// Service is the host USB service client API consumed by the core.
// Implementations must be safe for concurrent use by multiple Drives, but
// operations on a single Endpoint are expected to be externally serialized
// by the caller (the owning Drive's mutex).
type Service interface {
	// InterfaceAvailable returns a channel that receives newly available
	// interfaces matching filter. Closed when the Service is closed.
	InterfaceAvailable(filter ClassFilter) <-chan InterfaceInfo

	// InterfaceStateChange returns a channel that receives the
	// InterfaceID of any acquired interface the host has lost (unplugged,
	// errored out). Closed when the Service is closed.
	InterfaceStateChange() <-chan InterfaceID

	// Enumerate lists interfaces currently available and matching filter,
	// for the Reactor's InterfaceAvailable handler to diff against its
	// registry.
	Enumerate(filter ClassFilter) ([]InterfaceInfo, error)

	// Acquire takes ownership of an interface session, selecting alt
	// setting altIndex.
	Acquire(id InterfaceID, altIndex uint8) error

	// Release relinquishes a previously acquired interface.
	Release(id InterfaceID) error

	// OpenEndpoint opens a bulk endpoint session on an acquired interface.
	OpenEndpoint(id InterfaceID, address uint8) (Endpoint, error)

	// CloseEndpoint closes a previously opened endpoint session.
	CloseEndpoint(ep Endpoint) error

	// SubmitBulk submits a single bulk transfer with the given timeout.
	// buf is read from for OUT endpoints, written to for IN endpoints.
	SubmitBulk(ctx context.Context, ep Endpoint, buf []byte, timeout time.Duration) TransferResult

	// EndpointStalled reports whether ep is currently in the halted state.
	EndpointStalled(ep Endpoint) (bool, error)

	// ClearStall clears a halted endpoint (Clear-Feature ENDPOINT_HALT).
	ClearStall(ep Endpoint) error

	// ControlTransfer issues a class-specific control request against an
	// acquired interface's device. data is the optional data stage buffer.
	ControlTransfer(ctx context.Context, id InterfaceID, req ControlRequest, data []byte) (int, error)

	// Close releases all resources held by the Service.
	Close() error
}
