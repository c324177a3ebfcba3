// Package config loads the bridge configuration from defaults, an optional
// YAML file, ANTBRIDGE_ environment variables and command line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/antdev"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/bt"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/dongle"
)

const (
	EnvPrefix      = "ANTBRIDGE"
	stateDirName   = ".ant-bridge"
	configFileName = "config.yaml"
	logFileName    = "ant-bridge.log"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Stderr     bool   `mapstructure:"stderr"`
}

type DongleConfig struct {
	ProductIDs     []uint16      `mapstructure:"product_ids"`
	ResetDelay     time.Duration `mapstructure:"reset_delay"`
	StartupRetries int           `mapstructure:"startup_retries"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	// Emulate replaces the USB dongle with the in-process emulator
	Emulate bool `mapstructure:"emulate"`
}

type ANTConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// ProfilesConfig selects the channels opened on the dongle
type ProfilesConfig struct {
	FE   bool `mapstructure:"fe"`
	HRM  bool `mapstructure:"hrm"`
	PWR  bool `mapstructure:"pwr"`
	SCS  bool `mapstructure:"scs"`
	CTRL bool `mapstructure:"ctrl"`
}

type DeviceConfig struct {
	DeviceNumber uint16 `mapstructure:"device_number"`
}

type FEConfig struct {
	DeviceNumber    uint16        `mapstructure:"device_number"`
	GradeFactor     float64       `mapstructure:"grade_factor"`
	PowerMode       bool          `mapstructure:"power_mode"`
	PowerModeWindow time.Duration `mapstructure:"power_mode_window"`
}

type HRMConfig struct {
	DeviceNumber uint16 `mapstructure:"device_number"`
	// Slave listens to a heart rate strap instead of broadcasting
	Slave bool `mapstructure:"slave"`
}

// BridgeConfig pairs a Tacx Bushido brake (slave) with a head unit channel (master)
type BridgeConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	DeviceNumber uint16 `mapstructure:"device_number"`
}

type BLEConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	LocalName string `mapstructure:"local_name"`
}

// ScanConfig runs the dongle as an explorer: wildcard slave channels report
// the device numbers of the masters around instead of bridging
type ScanConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Duration of the search, 0 searches until interrupted
	Duration time.Duration `mapstructure:"duration"`
}

// BLEClientConfig drives a remote FTMS server, such as another bridge,
// through a short training program
type BLEClientConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Address or local name of the server, the first FTMS server found when empty
	Address         string        `mapstructure:"address"`
	ScanTimeout     time.Duration `mapstructure:"scan_timeout"`
	ResponseTimeout time.Duration `mapstructure:"response_timeout"`
	StepInterval    time.Duration `mapstructure:"step_interval"`
}

type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Dongle    DongleConfig    `mapstructure:"dongle"`
	ANT       ANTConfig       `mapstructure:"ant"`
	Profiles  ProfilesConfig  `mapstructure:"profiles"`
	FE        FEConfig        `mapstructure:"fe"`
	HRM       HRMConfig       `mapstructure:"hrm"`
	PWR       DeviceConfig    `mapstructure:"pwr"`
	SCS       DeviceConfig    `mapstructure:"scs"`
	CTRL      DeviceConfig    `mapstructure:"ctrl"`
	Bridge    BridgeConfig    `mapstructure:"bridge"`
	BLE       BLEConfig       `mapstructure:"ble"`
	BLEClient BLEClientConfig `mapstructure:"ble_client"`
	Scan      ScanConfig      `mapstructure:"scan"`
	Simulate  bool            `mapstructure:"simulate"`
}

// StateDir is where the default config and log files live
func StateDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, stateDirName)
}

func setDefaults(v *viper.Viper) {
	d := dongle.DefaultOptions()
	fe := antdev.DefaultFEOptions()

	v.SetDefault("log.file", filepath.Join(StateDir(), logFileName))
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.stderr", false)

	v.SetDefault("dongle.product_ids", d.ProductIDs)
	v.SetDefault("dongle.reset_delay", d.ResetDelay)
	v.SetDefault("dongle.startup_retries", d.StartupRetries)
	v.SetDefault("dongle.read_timeout", 250*time.Millisecond)
	v.SetDefault("dongle.emulate", false)

	v.SetDefault("ant.tick_interval", 250*time.Millisecond)

	v.SetDefault("profiles.fe", true)
	v.SetDefault("profiles.hrm", true)
	v.SetDefault("profiles.pwr", true)
	v.SetDefault("profiles.scs", true)
	v.SetDefault("profiles.ctrl", false)

	v.SetDefault("fe.device_number", 57591)
	v.SetDefault("fe.grade_factor", fe.GradeFactor)
	v.SetDefault("fe.power_mode", fe.PowerMode)
	v.SetDefault("fe.power_mode_window", fe.PowerModeWindow)
	v.SetDefault("hrm.device_number", 57592)
	v.SetDefault("hrm.slave", false)
	v.SetDefault("pwr.device_number", 57593)
	v.SetDefault("scs.device_number", 57594)
	v.SetDefault("ctrl.device_number", 57595)

	v.SetDefault("bridge.enabled", false)
	v.SetDefault("bridge.device_number", 0)

	v.SetDefault("ble.enabled", false)
	v.SetDefault("ble.local_name", "ANT Bridge")

	v.SetDefault("ble_client.enabled", false)
	v.SetDefault("ble_client.address", "")
	v.SetDefault("ble_client.scan_timeout", 10*time.Second)
	v.SetDefault("ble_client.response_timeout", bt.DefaultResponseTimeout)
	v.SetDefault("ble_client.step_interval", bt.DefaultStepInterval)

	v.SetDefault("scan.enabled", false)
	v.SetDefault("scan.duration", 30*time.Second)

	v.SetDefault("simulate", false)
}

// flag name -> config key
var flagKeys = map[string]string{
	"log-file":      "log.file",
	"log-stderr":    "log.stderr",
	"emulate":       "dongle.emulate",
	"tick-interval": "ant.tick_interval",
	"ble":           "ble.enabled",
	"simulate":      "simulate",
	"bridge":        "bridge.enabled",
	"scan":          "scan.enabled",
	"scan-duration": "scan.duration",
	"ble-client":    "ble_client.enabled",
	"ble-address":   "ble_client.address",
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "path to a YAML config file (default "+filepath.Join(StateDir(), configFileName)+" when present)")
	fs.String("log-file", "", "rotating log file")
	fs.Bool("log-stderr", false, "also log to stderr")
	fs.Bool("emulate", false, "use the built-in dongle emulator instead of USB")
	fs.Duration("tick-interval", 0, "interval between broadcasts on every master channel")
	fs.Bool("ble", false, "advertise the FTMS service over Bluetooth LE")
	fs.Bool("simulate", false, "generate trainer telemetry that follows the current target")
	fs.Bool("bridge", false, "bridge a Tacx Bushido brake to a head unit channel")
	fs.Bool("scan", false, "list the ANT masters around instead of bridging")
	fs.Duration("scan-duration", 0, "how long to scan, 0 until interrupted")
	fs.Bool("ble-client", false, "run a training program against an FTMS server instead of bridging")
	fs.String("ble-address", "", "address or name of the FTMS server for --ble-client")
	return fs
}

// Load parses args (without the program name) and returns the validated configuration.
// pflag.ErrHelp is returned as is when -h is given.
func Load(name string, args []string) (Config, error) {
	fs := newFlagSet(name)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for flagName, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(flagName)); err != nil {
			return Config{}, fmt.Errorf("bind flag %s: %w", flagName, err)
		}
	}

	path, _ := fs.GetString("config")
	if err := readConfigFile(v, path); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// readConfigFile reads path, or the default file in StateDir when path is
// empty and that file exists
func readConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		path = filepath.Join(StateDir(), configFileName)
		if _, err := os.Stat(path); err != nil {
			return nil
		}
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

func (c Config) Validate() error {
	if c.ANT.TickInterval <= 0 {
		return fmt.Errorf("%w: ant.tick_interval must be positive, got %s", ErrInvalidConfig, c.ANT.TickInterval)
	}
	if c.FE.GradeFactor <= 0 {
		return fmt.Errorf("%w: fe.grade_factor must be positive, got %g", ErrInvalidConfig, c.FE.GradeFactor)
	}
	if c.Dongle.ReadTimeout <= 0 {
		return fmt.Errorf("%w: dongle.read_timeout must be positive, got %s", ErrInvalidConfig, c.Dongle.ReadTimeout)
	}
	if c.Scan.Enabled && c.BLEClient.Enabled {
		return fmt.Errorf("%w: scan and ble_client cannot run together", ErrInvalidConfig)
	}
	if c.Scan.Enabled {
		if c.Scan.Duration < 0 {
			return fmt.Errorf("%w: scan.duration cannot be negative, got %s", ErrInvalidConfig, c.Scan.Duration)
		}
		return nil
	}
	if c.BLEClient.Enabled {
		if c.BLEClient.ScanTimeout <= 0 || c.BLEClient.ResponseTimeout <= 0 {
			return fmt.Errorf("%w: ble_client scan and response timeouts must be positive", ErrInvalidConfig)
		}
		if c.BLEClient.StepInterval < 0 {
			return fmt.Errorf("%w: ble_client.step_interval cannot be negative, got %s", ErrInvalidConfig, c.BLEClient.StepInterval)
		}
		return nil
	}
	p := c.Profiles
	if !p.FE && !p.HRM && !p.PWR && !p.SCS && !p.CTRL && !c.Bridge.Enabled {
		return fmt.Errorf("%w: no profile enabled", ErrInvalidConfig)
	}
	return nil
}

func (c Config) DongleOptions() dongle.Options {
	opts := dongle.DefaultOptions()
	if len(c.Dongle.ProductIDs) > 0 {
		opts.ProductIDs = c.Dongle.ProductIDs
	}
	opts.ResetDelay = c.Dongle.ResetDelay
	opts.StartupRetries = c.Dongle.StartupRetries
	return opts
}

func (c Config) FEOptions() antdev.FEOptions {
	return antdev.FEOptions{
		GradeFactor:     c.FE.GradeFactor,
		PowerMode:       c.FE.PowerMode,
		PowerModeWindow: c.FE.PowerModeWindow,
	}
}
