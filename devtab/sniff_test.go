package devtab_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ardnew/umsh/block"
	"github.com/ardnew/umsh/devtab"
	"github.com/ardnew/umsh/drive"
	"github.com/ardnew/umsh/hostsvc/fifo"
	"github.com/ardnew/umsh/lun"
	"github.com/ardnew/umsh/transport"
)

func newSniffAdapter(t *testing.T, data []byte) *block.Adapter {
	t.Helper()
	vl := &fifo.VirtualLUN{MediumPresent: true, BlockSize: 512, Data: data}
	b := fifo.NewBackend()
	id := b.AddDrive(fifo.NewVirtualDrive(0x1234, 0xabcd, vl))
	require.NoError(t, b.Acquire(id, 0))

	out, err := b.OpenEndpoint(id, 0x01)
	require.NoError(t, err)
	in, err := b.OpenEndpoint(id, 0x81)
	require.NoError(t, err)

	session := transport.NewBOTSession(transport.NewEngine(b), id, out, in)
	prober := lun.NewProber(session)
	l, err := prober.Probe(context.Background(), 0)
	require.NoError(t, err)

	return block.NewAdapter(session, l, 0, new(sync.Mutex))
}

func TestSniffFAT32BootSector(t *testing.T) {
	data := make([]byte, 512*64)
	copy(data[82:], []byte("FAT32   "))
	data[510] = 0x55
	data[511] = 0xAA

	a := newSniffAdapter(t, data)
	require.Equal(t, drive.FSTypeFAT, devtab.Sniff(context.Background(), a))
}

func TestSniffNTFSBootSector(t *testing.T) {
	data := make([]byte, 512*64)
	copy(data[3:], []byte("NTFS    "))
	data[510] = 0x55
	data[511] = 0xAA

	a := newSniffAdapter(t, data)
	require.Equal(t, drive.FSTypeNTFS, devtab.Sniff(context.Background(), a))
}

func TestSniffExtSuperblock(t *testing.T) {
	data := make([]byte, 512*64)
	data[1024+56] = 0x53
	data[1024+57] = 0xEF

	a := newSniffAdapter(t, data)
	require.Equal(t, drive.FSTypeExt, devtab.Sniff(context.Background(), a))
}

func TestSniffUnrecognisedIsUnsupported(t *testing.T) {
	data := make([]byte, 512*64)
	a := newSniffAdapter(t, data)
	require.Equal(t, drive.FSTypeUnsupported, devtab.Sniff(context.Background(), a))
}
