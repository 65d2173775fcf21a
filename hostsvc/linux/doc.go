// Package linux implements hostsvc.Service directly against the Linux
// usbfs/sysfs interfaces: device discovery via /sys/bus/usb/devices, bulk
// and control transfers via /dev/bus/usb ioctls, and hot-plug detection by
// polling the sysfs tree for additions and removals.
//
// It generalises a from-scratch host-controller HAL (which modeled ports,
// addresses, and enumeration itself) down to the narrower hostsvc.Service
// surface: the kernel already enumerates and addresses devices, so this
// package only needs to discover, claim, and transfer.
package linux
