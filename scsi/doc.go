// Package scsi builds and parses the Command Descriptor Blocks (CDBs) and
// response payloads for the small SCSI subset a USB Mass Storage host needs:
// Test Unit Ready, Request Sense, Inquiry, Read Capacity (10/16), Mode Sense
// (6), Prevent/Allow Medium Removal, Start Stop Unit, Read/Write (10/16),
// Synchronize Cache (10), and Read Format Capacities. MODE SENSE (10) is not
// built or parsed; only its opcode is defined.
//
// All multi-byte SCSI fields are big-endian regardless of host endianness;
// every encode/decode helper here uses [encoding/binary.BigEndian]
// explicitly rather than relying on any host-native assumption.
//
// This is the host-side mirror of a USB Mass Storage gadget's CDB parser:
// where a device-mode responder parses an incoming CBW's CDB bytes, this
// package builds those same CDB bytes as the initiator and parses the
// device's replies.
package scsi
