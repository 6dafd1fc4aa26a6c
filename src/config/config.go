// Package config defines the configuration of a tpwsn node, default values
// for both protocol engines, and the shared logrus setup.
package config

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/davidjrichardson/erts-2020/src/common"
	lfshook "github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default configuration values. The protocol constants come straight from
// the reference firmware: imin of 16 clock ticks at 128 ticks/s, ten
// doublings, redundancy constant 2, and a 60 second neighbour timeout.
const (
	DefaultLogLevel             = "debug"
	DefaultBindAddr             = "127.0.0.1:30001"
	DefaultGroupAddr            = "239.0.0.135:30001"
	DefaultServiceAddr          = "127.0.0.1:8000"
	DefaultIMin                 = 125 * time.Millisecond
	DefaultIMaxDoublings        = 10
	DefaultK                    = 2
	DefaultMsgLimit             = 1
	DefaultNewTokenInterval     = 5 * time.Second
	DefaultNewTokenProb         = 2
	DefaultMaxNeighbours        = 16
	DefaultNeighbourTimeout     = 60 * time.Second
	DefaultAnnouncementInterval = 10 * time.Second
	DefaultDataDest             = "1.0"
)

// Config contains all the configuration properties of a tpwsn node.
type Config struct {
	// DataDir is the top-level directory containing configuration and the
	// optional logfile.
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile, when set, duplicates log output to a file.
	LogFile string `mapstructure:"log-file"`

	// Moniker is the friendly name of this node.
	Moniker string `mapstructure:"moniker"`

	// BindAddr is the unicast address:port this node is known by.
	BindAddr string `mapstructure:"listen"`

	// GroupAddr is the multicast group standing in for link-local
	// all-nodes broadcast.
	GroupAddr string `mapstructure:"group"`

	// Interface, when set, pins the multicast group to a network
	// interface.
	Interface string `mapstructure:"iface"`

	// NoService disables the HTTP stats/metrics service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the HTTP service.
	ServiceAddr string `mapstructure:"service-listen"`

	// IMin is the minimum trickle interval.
	IMin time.Duration `mapstructure:"imin"`

	// IMaxDoublings is the maximum number of trickle interval doublings.
	IMaxDoublings uint `mapstructure:"imax"`

	// K is the trickle redundancy constant.
	K uint `mapstructure:"k"`

	// MsgLimit is the source's token ceiling: a source stops generating
	// new tokens once its token reaches this value.
	MsgLimit uint8 `mapstructure:"limit"`

	// NewTokenInterval is the period of the source's generation tick.
	NewTokenInterval time.Duration `mapstructure:"token-interval"`

	// NewTokenProb is N in the "1 in N" per-tick generation probability.
	NewTokenProb int `mapstructure:"token-prob"`

	// MaxNeighbours bounds the neighbour table pool.
	MaxNeighbours int `mapstructure:"max-neighbours"`

	// NeighbourTimeout is how long a neighbour survives without a fresh
	// announcement.
	NeighbourTimeout time.Duration `mapstructure:"neighbour-timeout"`

	// AnnouncementInterval is the period of the presence beacon.
	AnnouncementInterval time.Duration `mapstructure:"announcement-interval"`

	// DataDest is the fixed destination identity of originated multihop
	// packets.
	DataDest string `mapstructure:"data-dest"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	return &Config{
		DataDir:              DefaultDataDir(),
		LogLevel:             DefaultLogLevel,
		BindAddr:             DefaultBindAddr,
		GroupAddr:            DefaultGroupAddr,
		ServiceAddr:          DefaultServiceAddr,
		IMin:                 DefaultIMin,
		IMaxDoublings:        DefaultIMaxDoublings,
		K:                    DefaultK,
		MsgLimit:             DefaultMsgLimit,
		NewTokenInterval:     DefaultNewTokenInterval,
		NewTokenProb:         DefaultNewTokenProb,
		MaxNeighbours:        DefaultMaxNeighbours,
		NeighbourTimeout:     DefaultNeighbourTimeout,
		AnnouncementInterval: DefaultAnnouncementInterval,
		DataDest:             DefaultDataDest,
	}
}

// NewTestConfig returns a config object with default values and a logger
// that writes through the test's logging facility. Protocol timings are
// shortened so tests converge quickly.
func NewTestConfig(t testing.TB) *Config {
	cfg := NewDefaultConfig()
	cfg.logger = common.NewTestLogger(t)
	cfg.IMin = 20 * time.Millisecond
	cfg.IMaxDoublings = 4
	cfg.NewTokenInterval = 50 * time.Millisecond
	cfg.NeighbourTimeout = 200 * time.Millisecond
	cfg.AnnouncementInterval = 25 * time.Millisecond
	return cfg
}

// Logger returns a formatted logrus Entry with prefix set to "tpwsn". When
// LogFile is set, output is duplicated there through a file hook.
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		if c.LogFile != "" {
			pathMap := lfshook.PathMap{}
			for _, lvl := range logrus.AllLevels {
				pathMap[lvl] = c.LogFile
			}
			c.logger.Hooks.Add(lfshook.NewHook(pathMap, &logrus.TextFormatter{
				DisableColors: true,
			}))
		}
	}
	return c.logger.WithField("prefix", "tpwsn")
}

// DefaultDataDir returns the default directory for top-level tpwsn config
// based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Tpwsn")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Tpwsn")
		} else {
			return filepath.Join(home, ".tpwsn")
		}
	}
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
