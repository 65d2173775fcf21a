package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ardnew/umsh/block"
	"github.com/ardnew/umsh/devtab"
	"github.com/ardnew/umsh/drive"
	"github.com/ardnew/umsh/hostsvc/fifo"
	"github.com/ardnew/umsh/umsh"
)

// newDemoCore starts a umsh.Core against a fresh fifo.Backend seeded with
// one FAT32-formatted virtual drive, standing in for a real hostsvc backend
// (Linux usbfs or gousb) until one is wired into the build.
func newDemoCore(cmd *cobra.Command) (*umsh.Core, error) {
	backend := fifo.NewBackend()
	core, err := umsh.Init(cmd.Context(), backend, umsh.EventSlot0, sniffMount)
	if err != nil {
		return nil, err
	}

	backend.AddDrive(fifo.NewVirtualDrive(0x0781, 0x5567, &fifo.VirtualLUN{
		MediumPresent: true,
		BlockSize:     512,
		Vendor:        "umshctl",
		Product:       "Demo Disk",
		Serial:        "DEMO0001",
		Data:          demoFAT32Image(),
	}))

	return core, nil
}

// sniffMount is the demonstration filesystem-driver mount seam: it sniffs
// the boot sector via devtab.Sniff and reports one Filesystem Adapter when
// recognised. A real deployment plugs in an actual FAT/NTFS/ext driver here.
func sniffMount(ctx context.Context, table *devtab.Table, deviceIndex uint32, lunIndex uint8, adapter *block.Adapter) []*drive.FilesystemAdapter {
	fsType := devtab.Sniff(ctx, adapter)
	if fsType == drive.FSTypeInvalid || fsType == drive.FSTypeUnsupported {
		return nil
	}
	name, err := table.MountName(deviceIndex, 0)
	if err != nil {
		return nil
	}
	return []*drive.FilesystemAdapter{{FSType: fsType, MountName: name, LUNIndex: lunIndex, Block: adapter}}
}

func demoFAT32Image() []byte {
	data := make([]byte, 512*4096)
	copy(data[82:], []byte("FAT32   "))
	data[510] = 0x55
	data[511] = 0xAA
	return data
}
