package reactor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ardnew/umsh/block"
	"github.com/ardnew/umsh/devtab"
	"github.com/ardnew/umsh/drive"
	"github.com/ardnew/umsh/hostsvc/fifo"
	"github.com/ardnew/umsh/reactor"
)

// sniffMount is a fake filesystem-driver mount seam: it sniffs the boot
// sector via devtab.Sniff and reports a single Filesystem Adapter when the
// sniff recognises a filesystem, exactly as a real FAT/NTFS/ext driver would
// after successfully mounting.
func sniffMount(ctx context.Context, table *devtab.Table, deviceIndex uint32, lunIndex uint8, adapter *block.Adapter) []*drive.FilesystemAdapter {
	fsType := devtab.Sniff(ctx, adapter)
	if fsType == drive.FSTypeInvalid || fsType == drive.FSTypeUnsupported {
		return nil
	}
	name, err := table.MountName(deviceIndex, 0)
	if err != nil {
		return nil
	}
	return []*drive.FilesystemAdapter{{
		FSType:    fsType,
		MountName: name,
		LUNIndex:  lunIndex,
		Block:     adapter,
	}}
}

func fat32Data() []byte {
	data := make([]byte, 512*64)
	copy(data[82:], []byte("FAT32   "))
	data[510] = 0x55
	data[511] = 0xAA
	return data
}

func TestReactorInsertsDriveWithMountedFilesystem(t *testing.T) {
	backend := fifo.NewBackend()
	registry := drive.NewRegistry()
	table := devtab.NewTable()
	r := reactor.New(backend, registry, table, sniffMount)

	require.NoError(t, r.Start(context.Background()))
	defer r.Shutdown(context.Background())

	backend.AddDrive(fifo.NewVirtualDrive(0x1234, 0xabcd, &fifo.VirtualLUN{
		MediumPresent: true,
		BlockSize:     512,
		Data:          fat32Data(),
	}))

	require.Eventually(t, func() bool { return registry.Count() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, r.IsStatusChanged, time.Second, 5*time.Millisecond)
	require.Equal(t, uint32(1), r.MountedDeviceCount())

	out := make([]*drive.FilesystemAdapter, 4)
	n := r.ListDevices(out, len(out))
	require.Equal(t, 1, n)
	require.Equal(t, "ums0(0):", out[0].MountName)
}

func TestReactorDiscardsDriveWithNoMountableFilesystem(t *testing.T) {
	backend := fifo.NewBackend()
	registry := drive.NewRegistry()
	table := devtab.NewTable()
	r := reactor.New(backend, registry, table, sniffMount)

	require.NoError(t, r.Start(context.Background()))
	defer r.Shutdown(context.Background())

	backend.AddDrive(fifo.NewVirtualDrive(0x1234, 0xabcd, &fifo.VirtualLUN{
		MediumPresent: true,
		BlockSize:     512,
		Data:          make([]byte, 512*64),
	}))

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, registry.Count())
	require.False(t, r.IsStatusChanged())
}

func TestReactorRemovesDriveOnInterfaceLoss(t *testing.T) {
	backend := fifo.NewBackend()
	registry := drive.NewRegistry()
	table := devtab.NewTable()
	r := reactor.New(backend, registry, table, sniffMount)

	require.NoError(t, r.Start(context.Background()))
	defer r.Shutdown(context.Background())

	id := backend.AddDrive(fifo.NewVirtualDrive(0x1234, 0xabcd, &fifo.VirtualLUN{
		MediumPresent: true,
		BlockSize:     512,
		Data:          fat32Data(),
	}))

	require.Eventually(t, func() bool { return registry.Count() == 1 }, time.Second, 5*time.Millisecond)
	r.ClearStatusChanged()

	backend.RemoveDrive(id)

	require.Eventually(t, func() bool { return registry.Count() == 0 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, r.IsStatusChanged, time.Second, 5*time.Millisecond)
}
