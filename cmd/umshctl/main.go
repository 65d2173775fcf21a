// Command umshctl is an operator CLI over the umsh library: list mounted
// devices, watch for status-change events, adjust mount flags, and unmount
// or eject a device. It speaks to the in-process fifo fake host service
// seeded with a demo drive, which makes it useful both as a demonstration
// and as a manual integration-test harness.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ardnew/umsh/devtab"
	"github.com/ardnew/umsh/umsh"
)

var (
	verbose bool
	eject   bool

	cmdRoot = &cobra.Command{
		Use:   "umshctl",
		Short: "Operate a umsh USB Mass Storage host session",
		Long:  "umshctl drives a umsh Core against the fifo fake host service for demonstration and manual testing.",
		PersistentPreRun: func(*cobra.Command, []string) {
			if verbose {
				log.SetLevel(log.DebugLevel)
			}
		},
	}

	cmdList = &cobra.Command{
		Use:   "list",
		Short: "List currently mounted devices",
		RunE:  runList,
	}

	cmdWatch = &cobra.Command{
		Use:   "watch",
		Short: "Watch for status-change events until interrupted",
		RunE:  runWatch,
	}

	cmdUnmount = &cobra.Command{
		Use:   "unmount <mount-name>",
		Short: "Unmount (optionally eject) a device by mount name",
		Args:  cobra.ExactArgs(1),
		RunE:  runUnmount,
	}

	cmdFlags = &cobra.Command{
		Use:   "flags [value]",
		Short: "Get or set the filesystem mount-flags passthrough",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runFlags,
	}
)

func init() {
	cmdRoot.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	cmdUnmount.Flags().BoolVar(&eject, "eject", false, "issue Prevent/Allow Removal and Start/Stop Unit on unmount")

	cmdRoot.AddCommand(cmdList, cmdWatch, cmdUnmount, cmdFlags)
}

func main() {
	if err := cmdRoot.Execute(); err != nil {
		log.WithError(err).Fatal("umshctl failed")
	}
}

func runList(cmd *cobra.Command, args []string) error {
	core, err := newDemoCore(cmd)
	if err != nil {
		return err
	}
	defer core.Exit(cmd.Context())

	waitSettled(core)

	out := make([]*umsh.Device, 16)
	n := core.ListDevices(out, len(out))
	for i := 0; i < n; i++ {
		fmt.Printf("%s\t%s\tlun=%d\n", out[i].MountName, out[i].FSType, out[i].LUNIndex)
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	core, err := newDemoCore(cmd)
	if err != nil {
		return err
	}
	defer core.Exit(cmd.Context())

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("watching for status-change events, ctrl-C to stop")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-core.GetStatusChangeEvent():
			core.ClearStatusChangeEvent()
			log.WithField("mounted", core.GetMountedDeviceCount()).Info("status changed")
		}
	}
}

func runUnmount(cmd *cobra.Command, args []string) error {
	core, err := newDemoCore(cmd)
	if err != nil {
		return err
	}
	defer core.Exit(cmd.Context())

	waitSettled(core)

	out := make([]*umsh.Device, 16)
	n := core.ListDevices(out, len(out))
	for i := 0; i < n; i++ {
		if out[i].MountName == args[0] {
			return core.UnmountDevice(cmd.Context(), out[i], eject)
		}
	}
	return fmt.Errorf("umshctl: no mounted device named %q", args[0])
}

func runFlags(cmd *cobra.Command, args []string) error {
	core, err := newDemoCore(cmd)
	if err != nil {
		return err
	}
	defer core.Exit(cmd.Context())

	if len(args) == 0 {
		fmt.Printf("0x%08x\n", core.GetFileSystemMountFlags())
		return nil
	}

	var parsed uint32
	if _, err := fmt.Sscanf(args[0], "0x%x", &parsed); err != nil {
		if _, err := fmt.Sscanf(args[0], "%d", &parsed); err != nil {
			return fmt.Errorf("umshctl: invalid mount flags value %q", args[0])
		}
	}
	core.SetFileSystemMountFlags(devtab.MountFlags(parsed))
	return nil
}

// waitSettled gives the Reactor's background goroutine a moment to process
// the demo drive seeded by newDemoCore before the command reads the
// registry, since InterfaceAvailable delivery is asynchronous.
func waitSettled(core *umsh.Core) {
	time.Sleep(50 * time.Millisecond)
}
