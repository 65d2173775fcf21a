// Package hostsvc defines the external host USB service collaborator:
// a service capable of enumerating interfaces matching a class
// filter, acquiring/releasing interface sessions, opening bulk endpoint
// sessions, submitting bulk transfers with a timeout, issuing class-specific
// control requests, and reporting hot-plug state changes.
//
// The core (transport, lun, drive, reactor) only ever talks to the
// [Service] interface; it is never aware of which backend is in use.
// Three backends are provided:
//
//   - [github.com/ardnew/umsh/hostsvc/linux]: Linux usbfs + sysfs, polling
//     the sysfs device tree for arrivals and departures, restructured
//     around interface-level (not controller-port-level) operations.
//   - [github.com/ardnew/umsh/hostsvc/gousb]: a libusb-backed backend using
//     github.com/google/gousb, with class-filtered enumeration and
//     repeated device-list diffing as the event source.
//   - [github.com/ardnew/umsh/hostsvc/fifo]: an in-process fake backend for
//     tests, built on a named-pipe-style FIFO transport held in memory.
package hostsvc
