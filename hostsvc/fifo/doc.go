// Package fifo provides an in-process fake [hostsvc.Service] backend for
// tests, built on the same connect/disconnect channel pair and per-endpoint
// queuing model as a named-pipe transport, but held in memory instead of
// across a bus directory of named pipes, since the core's tests only need to
// simulate a device process, not talk to one.
//
// A [Backend] hosts zero or more [VirtualDrive] fixtures. Each VirtualDrive
// runs a minimal BOT command/data/status responder over an in-memory SCSI
// LUN set, so tests exercise the real transport and scsi codecs end to end
// instead of stubbing hostsvc.Service responses directly.
package fifo
