// Package gousb implements hostsvc.Service on top of github.com/google/gousb,
// the libusb-backed userspace USB binding. It is the portable counterpart to
// hostsvc/linux: rather than talking to usbfs/sysfs directly, it lets libusb
// handle device node access, and polls Context.OpenDevices for hot-plug
// detection since the stable gousb API exposes no blocking hotplug channel.
package gousb
