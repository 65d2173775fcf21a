// Package transport implements the host side of the USB Mass Storage
// bulk transports: the Transfer Engine (bulk submission with STALL
// detect/clear and Bulk-Only Mass Storage Reset) and the BOT/UASP state
// machines that drive one SCSI command through CBW/CSW or Command/Status/Data
// Information Units.
//
// This is the mirror image of a gadget-mode mass-storage responder: that
// side parses an incoming CBW and answers it; this package builds a CBW as
// an initiator and parses the device's CSW.
package transport
