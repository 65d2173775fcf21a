package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ardnew/umsh/block"
	"github.com/ardnew/umsh/config"
	"github.com/ardnew/umsh/transport"
)

func TestLoadFallsBackToDefaults(t *testing.T) {
	c := config.Load()
	require.Equal(t, config.Default(), c)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv(config.EnvCBWTimeout, "5s")
	t.Setenv(config.EnvMaxResets, "7")
	t.Setenv(config.EnvMaxTransferLen, "65536")

	c := config.Load()
	require.Equal(t, 5*time.Second, c.CBWTimeout)
	require.Equal(t, 7, c.MaxResetsPerDrive)
	require.Equal(t, 65536, c.MaxTransferSize)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv(config.EnvCBWTimeout, "not-a-duration")
	c := config.Load()
	require.Equal(t, config.Default().CBWTimeout, c.CBWTimeout)
}

func TestApplyPushesKnobsIntoTransportAndBlock(t *testing.T) {
	origCBW, origCSW, origFloor, origResets := transport.DefaultCBWTimeout, transport.DefaultCSWTimeout, transport.DefaultDataFloor, transport.MaxResetsPerDrive
	origMaxTransfer := block.DefaultMaxTransferSize
	t.Cleanup(func() {
		transport.DefaultCBWTimeout, transport.DefaultCSWTimeout, transport.DefaultDataFloor, transport.MaxResetsPerDrive = origCBW, origCSW, origFloor, origResets
		block.DefaultMaxTransferSize = origMaxTransfer
	})

	c := config.Config{
		CBWTimeout:        7 * time.Second,
		CSWTimeout:        8 * time.Second,
		DataTimeoutFloor:  3 * time.Second,
		MaxResetsPerDrive: 9,
		MaxTransferSize:   32 * 1024,
	}
	c.Apply()

	require.Equal(t, 7*time.Second, transport.DefaultCBWTimeout)
	require.Equal(t, 8*time.Second, transport.DefaultCSWTimeout)
	require.Equal(t, 3*time.Second, transport.DefaultDataFloor)
	require.Equal(t, 9, transport.MaxResetsPerDrive)
	require.Equal(t, 32*1024, block.DefaultMaxTransferSize)
}

func TestApplyIgnoresNonPositiveValues(t *testing.T) {
	origMaxTransfer := block.DefaultMaxTransferSize
	t.Cleanup(func() { block.DefaultMaxTransferSize = origMaxTransfer })

	block.DefaultMaxTransferSize = 99999
	config.Config{}.Apply()
	require.Equal(t, 99999, block.DefaultMaxTransferSize)
}
