package devtab_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ardnew/umsh/devtab"
)

func TestMountNameFormatAndUniqueness(t *testing.T) {
	table := devtab.NewTable()

	idx := table.AllocateDeviceIndex()
	require.Equal(t, uint32(0), idx)

	name, err := table.MountName(idx, 0)
	require.NoError(t, err)
	require.Equal(t, "ums0(0):", name)

	_, err = table.MountName(idx, 0)
	require.Error(t, err, "reusing a device index and slot must collide")

	name2, err := table.MountName(idx, 1)
	require.NoError(t, err)
	require.Equal(t, "ums0(1):", name2)
}

func TestMountFlagsRoundTrip(t *testing.T) {
	table := devtab.NewTable()
	table.SetMountFlags(devtab.MountFlagReadOnly | devtab.MountFlagSync)
	require.Equal(t, devtab.MountFlagReadOnly|devtab.MountFlagSync, table.MountFlags())
}

func TestReleaseAllowsReuse(t *testing.T) {
	table := devtab.NewTable()
	name, err := table.MountName(0, 0)
	require.NoError(t, err)

	table.Release(name)

	_, err = table.MountName(0, 0)
	require.NoError(t, err)
}
