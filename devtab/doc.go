// Package devtab implements the virtual device-table registry:
// process-monotone mount-name allocation ("ums<device_index>(<fs_slot>):"),
// a small passthrough mount-flags bitmask, and boot-sector sniffing that
// tags a Block Adapter's filesystem type without mounting it.
//
// Mounting, reading, and writing the filesystem itself are explicit
// Non-goals; this package only decides what a Filesystem Adapter should be
// named and what type tag to report alongside it.
package devtab
