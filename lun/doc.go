// Package lun implements the LUN Prober: the SCSI command sequence
// that validates and characterises each Logical Unit on a Drive, with
// bounded retry on recoverable sense keys.
package lun
