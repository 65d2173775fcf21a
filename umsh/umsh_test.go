package umsh_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ardnew/umsh/block"
	"github.com/ardnew/umsh/devtab"
	"github.com/ardnew/umsh/drive"
	"github.com/ardnew/umsh/hostsvc/fifo"
	"github.com/ardnew/umsh/umsh"
)

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

func fat32Data() []byte {
	data := make([]byte, 512*64)
	copy(data[82:], []byte("FAT32   "))
	data[510] = 0x55
	data[511] = 0xAA
	return data
}

func TestInitListDevicesExit(t *testing.T) {
	backend := fifo.NewBackend()
	core, err := umsh.Init(context.Background(), backend, umsh.EventSlot0, sniffMount)
	require.NoError(t, err)
	defer core.Exit(context.Background())

	backend.AddDrive(fifo.NewVirtualDrive(0x1234, 0xabcd, &fifo.VirtualLUN{
		MediumPresent: true,
		BlockSize:     512,
		Data:          fat32Data(),
	}))

	require.Eventually(t, func() bool { return core.GetMountedDeviceCount() == 1 }, time.Second, 5*time.Millisecond)

	select {
	case <-core.GetStatusChangeEvent():
	case <-time.After(time.Second):
		t.Fatal("status change event never fired")
	}
	require.True(t, core.ClearStatusChangeEvent())
	require.False(t, core.ClearStatusChangeEvent())

	out := make([]*umsh.Device, 4)
	n := core.ListDevices(out, len(out))
	require.Equal(t, 1, n)
	require.Equal(t, "ums0(0):", out[0].MountName)
	require.Equal(t, drive.FSTypeFAT, out[0].FSType)
}

func TestUnmountDevice(t *testing.T) {
	backend := fifo.NewBackend()
	core, err := umsh.Init(context.Background(), backend, umsh.EventSlot1, sniffMount)
	require.NoError(t, err)
	defer core.Exit(context.Background())

	backend.AddDrive(fifo.NewVirtualDrive(0x1234, 0xabcd, &fifo.VirtualLUN{
		MediumPresent: true,
		BlockSize:     512,
		Data:          fat32Data(),
	}))
	require.Eventually(t, func() bool { return core.GetMountedDeviceCount() == 1 }, time.Second, 5*time.Millisecond)

	out := make([]*umsh.Device, 1)
	require.Equal(t, 1, core.ListDevices(out, 1))

	require.NoError(t, core.UnmountDevice(context.Background(), out[0], false))
	require.Equal(t, uint32(0), core.GetMountedDeviceCount())

	err = core.UnmountDevice(context.Background(), out[0], false)
	require.Error(t, err, "unmounting an already-unmounted device must fail")
}

func TestUnmountDeviceWithEjectIssuesRemovalCommands(t *testing.T) {
	backend := fifo.NewBackend()
	core, err := umsh.Init(context.Background(), backend, umsh.EventSlot2, sniffMount)
	require.NoError(t, err)
	defer core.Exit(context.Background())

	backend.AddDrive(fifo.NewVirtualDrive(0x1234, 0xabcd, &fifo.VirtualLUN{
		Removable:     true,
		MediumPresent: true,
		BlockSize:     512,
		Data:          fat32Data(),
	}))
	require.Eventually(t, func() bool { return core.GetMountedDeviceCount() == 1 }, time.Second, 5*time.Millisecond)

	out := make([]*umsh.Device, 1)
	require.Equal(t, 1, core.ListDevices(out, 1))

	require.NoError(t, core.UnmountDevice(context.Background(), out[0], true))
	require.Equal(t, uint32(0), core.GetMountedDeviceCount())
}

func TestInitRejectsInvalidEventIndex(t *testing.T) {
	backend := fifo.NewBackend()
	_, err := umsh.Init(context.Background(), backend, umsh.EventIndex(7), sniffMount)
	require.Error(t, err)
}
