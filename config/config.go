package config

import (
	"os"
	"strconv"
	"time"

	"github.com/ardnew/umsh/block"
	"github.com/ardnew/umsh/transport"
)

// Environment variable names consulted by Load.
const (
	EnvCBWTimeout     = "UMSH_CBW_TIMEOUT"
	EnvCSWTimeout     = "UMSH_CSW_TIMEOUT"
	EnvDataFloor      = "UMSH_DATA_TIMEOUT_FLOOR"
	EnvMaxResets      = "UMSH_MAX_RESETS_PER_DRIVE"
	EnvMaxTransferLen = "UMSH_MAX_TRANSFER_SIZE"
)

// Config holds the tunable knobs left as implementation defaults: transport
// timeouts, the reset budget, and the block adapter's chunk size.
type Config struct {
	CBWTimeout        time.Duration
	CSWTimeout        time.Duration
	DataTimeoutFloor  time.Duration
	MaxResetsPerDrive int
	MaxTransferSize   int
}

// Default returns the built-in defaults, matching the transport and block
// packages' own exported default variables.
func Default() Config {
	return Config{
		CBWTimeout:        transport.DefaultCBWTimeout,
		CSWTimeout:        transport.DefaultCSWTimeout,
		DataTimeoutFloor:  transport.DefaultDataFloor,
		MaxResetsPerDrive: transport.MaxResetsPerDrive,
		MaxTransferSize:   128 * 1024,
	}
}

// Load starts from Default and overrides each field whose environment
// variable is set and parses cleanly; a malformed value is silently ignored,
// keeping the prior value rather than failing startup, since these are
// performance knobs, not correctness-critical parameters.
func Load() Config {
	c := Default()

	if v, ok := lookupDuration(EnvCBWTimeout); ok {
		c.CBWTimeout = v
	}
	if v, ok := lookupDuration(EnvCSWTimeout); ok {
		c.CSWTimeout = v
	}
	if v, ok := lookupDuration(EnvDataFloor); ok {
		c.DataTimeoutFloor = v
	}
	if v, ok := lookupInt(EnvMaxResets); ok {
		c.MaxResetsPerDrive = v
	}
	if v, ok := lookupInt(EnvMaxTransferLen); ok {
		c.MaxTransferSize = v
	}
	return c
}

// Apply pushes the loaded knobs into the transport and block packages'
// shared defaults, so every Drive, Adapter, and probe session constructed
// afterward picks them up without threading a Config value through every
// constructor. Call once, early in startup (e.g. from umsh.Init), before
// acquiring any interface.
func (c Config) Apply() {
	transport.Configure(c.CBWTimeout, c.CSWTimeout, c.DataTimeoutFloor, c.MaxResetsPerDrive)
	block.Configure(c.MaxTransferSize)
}

func lookupDuration(name string) (time.Duration, bool) {
	raw, present := os.LookupEnv(name)
	if !present {
		return 0, false
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false
	}
	return d, true
}

func lookupInt(name string) (int, bool) {
	raw, present := os.LookupEnv(name)
	if !present {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}
