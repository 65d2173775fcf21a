// Package reactor implements the Drive Manager Reactor: the single
// goroutine that turns host-service interface-availability events into
// Drive construction, LUN probing, filesystem sniffing, and Registry
// membership, and tears a Drive back down on interface loss.
//
// Its shape is a host.Host device-monitor loop, generalised from
// "wait for connection, enumerate, wait for disconnection"
// to "wait for a mass-storage interface, acquire it, probe it, mount its
// filesystems, register it; on loss, remove and close it".
package reactor
