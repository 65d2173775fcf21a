//go:build linux

package linux

import "testing"

func TestFormatPadded3(t *testing.T) {
	tests := []struct {
		val  uint8
		want string
	}{
		{0, "000"},
		{1, "001"},
		{12, "012"},
		{123, "123"},
		{255, "255"},
	}
	for _, tt := range tests {
		if got := formatPadded3(tt.val); got != tt.want {
			t.Errorf("formatPadded3(%d) = %q, want %q", tt.val, got, tt.want)
		}
	}
}

func TestFormatDevfsPath(t *testing.T) {
	tests := []struct {
		busNum, devNum uint8
		want           string
	}{
		{1, 1, "/dev/bus/usb/001/001"},
		{1, 123, "/dev/bus/usb/001/123"},
		{12, 34, "/dev/bus/usb/012/034"},
		{255, 255, "/dev/bus/usb/255/255"},
	}
	for _, tt := range tests {
		if got := formatDevfsPath(tt.busNum, tt.devNum); got != tt.want {
			t.Errorf("formatDevfsPath(%d, %d) = %q, want %q", tt.busNum, tt.devNum, got, tt.want)
		}
	}
}

func TestInterfaceKeyDistinguishesInterfaceNumber(t *testing.T) {
	a := interfaceKey("1-1.2", 0)
	b := interfaceKey("1-1.2", 1)
	if a == b {
		t.Fatalf("interfaceKey produced the same key for different interface numbers: %q", a)
	}
}
