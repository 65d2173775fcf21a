//go:build linux

package linux

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	sysfsUSBPath = "/sys/bus/usb/devices"
	devfsUSBPath = "/dev/bus/usb"
)

// sysfsInterface is one bInterfaceClass/SubClass/Protocol/Number tuple found
// under a device's sysfs node.
type sysfsInterface struct {
	number   uint8
	class    uint8
	subclass uint8
	protocol uint8

	// altIndex and endpoints are populated by parseSysfsInterface and
	// scanSysfsEndpoints for the active
	// configuration only; Linux's usbfs exposes only the active alt setting's
	// endpoints directly in sysfs without re-parsing the raw descriptors, a
	// simplification from walking the raw descriptors from scratch.
	altIndex  uint8
	endpoints []sysfsEndpoint
}

// sysfsEndpoint is one bulk endpoint found under an interface's sysfs node.
type sysfsEndpoint struct {
	address       uint8
	maxPacketSize uint16
}

// sysfsDevice is one USB device node discovered under sysfsUSBPath.
type sysfsDevice struct {
	name      string // e.g. "1-1.2"
	devfsPath string
	busNum    uint8
	devNum    uint8
	vendorID  uint16
	productID uint16

	manufacturer string
	product      string
	serial       string

	interfaces []sysfsInterface
}

func scanUSBDevices() ([]sysfsDevice, error) {
	entries, err := os.ReadDir(sysfsUSBPath)
	if err != nil {
		return nil, err
	}

	var devices []sysfsDevice
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, "usb") || strings.Contains(name, ":") {
			continue
		}
		devPath := filepath.Join(sysfsUSBPath, name)
		dev, err := parseSysfsDevice(name, devPath)
		if err != nil {
			continue
		}
		devices = append(devices, dev)
	}
	return devices, nil
}

func parseSysfsDevice(name, sysfsPath string) (sysfsDevice, error) {
	dev := sysfsDevice{name: name}

	busNum, err := readSysfsUint(filepath.Join(sysfsPath, "busnum"))
	if err != nil {
		return dev, err
	}
	dev.busNum = uint8(busNum)

	devNum, err := readSysfsUint(filepath.Join(sysfsPath, "devnum"))
	if err != nil {
		return dev, err
	}
	dev.devNum = uint8(devNum)
	dev.devfsPath = formatDevfsPath(dev.busNum, dev.devNum)

	if v, err := readSysfsHex(filepath.Join(sysfsPath, "idVendor")); err == nil {
		dev.vendorID = uint16(v)
	}
	if v, err := readSysfsHex(filepath.Join(sysfsPath, "idProduct")); err == nil {
		dev.productID = uint16(v)
	}
	dev.manufacturer, _ = readSysfsString(filepath.Join(sysfsPath, "manufacturer"))
	dev.product, _ = readSysfsString(filepath.Join(sysfsPath, "product"))
	dev.serial, _ = readSysfsString(filepath.Join(sysfsPath, "serial"))

	dev.interfaces = scanSysfsInterfaces(sysfsPath, name)
	return dev, nil
}

func scanSysfsInterfaces(devicePath, deviceName string) []sysfsInterface {
	entries, err := os.ReadDir(devicePath)
	if err != nil {
		return nil
	}

	var ifaces []sysfsInterface
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, deviceName+":") {
			continue
		}
		ifacePath := filepath.Join(devicePath, name)
		iface, err := parseSysfsInterface(ifacePath)
		if err != nil {
			continue
		}
		ifaces = append(ifaces, iface)
	}
	return ifaces
}

func parseSysfsInterface(sysfsPath string) (sysfsInterface, error) {
	var iface sysfsInterface

	num, err := readSysfsHex(filepath.Join(sysfsPath, "bInterfaceNumber"))
	if err != nil {
		return iface, err
	}
	iface.number = uint8(num)

	if v, err := readSysfsHex(filepath.Join(sysfsPath, "bInterfaceClass")); err == nil {
		iface.class = uint8(v)
	}
	if v, err := readSysfsHex(filepath.Join(sysfsPath, "bInterfaceSubClass")); err == nil {
		iface.subclass = uint8(v)
	}
	if v, err := readSysfsHex(filepath.Join(sysfsPath, "bInterfaceProtocol")); err == nil {
		iface.protocol = uint8(v)
	}
	if v, err := readSysfsHex(filepath.Join(sysfsPath, "bAlternateSetting")); err == nil {
		iface.altIndex = uint8(v)
	}

	iface.endpoints = scanSysfsEndpoints(sysfsPath)
	return iface, nil
}

func scanSysfsEndpoints(ifacePath string) []sysfsEndpoint {
	epDir := filepath.Join(ifacePath, "ep_00")
	if entries, err := os.ReadDir(filepath.Dir(epDir)); err == nil {
		var eps []sysfsEndpoint
		for _, entry := range entries {
			if !strings.HasPrefix(entry.Name(), "ep_") {
				continue
			}
			p := filepath.Join(ifacePath, entry.Name())
			addr, err := readSysfsHex(filepath.Join(p, "bEndpointAddress"))
			if err != nil {
				continue
			}
			attrs, err := readSysfsHex(filepath.Join(p, "bmAttributes"))
			if err != nil || attrs&0x03 != 0x02 { // bulk only
				continue
			}
			maxPkt, _ := readSysfsUint(filepath.Join(p, "wMaxPacketSize"))
			eps = append(eps, sysfsEndpoint{address: uint8(addr), maxPacketSize: uint16(maxPkt)})
		}
		return eps
	}
	return nil
}

func readSysfsString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func readSysfsUint(path string) (uint64, error) {
	s, err := readSysfsString(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(s, 10, 64)
}

func readSysfsHex(path string) (uint64, error) {
	s, err := readSysfsString(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
}

func formatDevfsPath(busNum, devNum uint8) string {
	return filepath.Join(devfsUSBPath, formatPadded3(busNum), formatPadded3(devNum))
}

func formatPadded3(v uint8) string {
	s := strconv.FormatUint(uint64(v), 10)
	for len(s) < 3 {
		s = "0" + s
	}
	return s
}
