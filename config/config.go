package config

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/sirupsen/logrus"

	"github.com/rng-ops/gossip/gossip"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the
	// emitter's private key.
	DefaultKeyfile = "priv_key"

	// DefaultBadgerDir is the default name of the folder containing the
	// Badger database.
	DefaultBadgerDir = "badger_db"
)

// Default configuration values.
const (
	DefaultLogLevel         = "debug"
	DefaultBindAddr         = "127.0.0.1:1337"
	DefaultGossipInterval   = 30 * time.Second
	DefaultStageTimeout     = 10 * time.Second
	DefaultMaxEventsPerSync = 256
	DefaultActivePeers      = gossip.DefaultActivePeers
	DefaultRandomSlots      = gossip.DefaultRandomSlots
	DefaultAntiEntropyEvery = 5
	DefaultAntiEntropyFanout = 64
	DefaultMaxPool          = 2
	DefaultStore            = false
	DefaultStoreBudget      = 1_000_000
	DefaultRateBucketCap    = 64
	DefaultRateRefillPerSec = 8.0
	DefaultRateBufferSize   = 16
	DefaultReputationFloor  = 0.05
	DefaultRuleBundleHash   = ""
)

// Config contains all the configuration properties of a gossipd node.
type Config struct {
	// WorldDir is the top-level directory containing gossipd's
	// configuration and data.
	WorldDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// BindAddr is the local address:port where this node gossips with
	// other nodes.
	BindAddr string `mapstructure:"listen"`

	// AdvertiseAddr is used to change the address this node advertises to
	// peers, e.g. behind NAT. Empty means advertise BindAddr verbatim.
	AdvertiseAddr string `mapstructure:"advertise"`

	// WorldPhrase and RuleBundleHashHex together derive this node's
	// WorldId (crypto.WorldID): forking the rule bundle forks the world.
	WorldPhrase      string `mapstructure:"world-phrase"`
	RuleBundleHashHex string `mapstructure:"rule-bundle-hash"`

	// GossipInterval is T_gossip: how often the engine initiates a sync.
	GossipInterval time.Duration `mapstructure:"gossip-interval"`

	// StageTimeout bounds each of the three sync stages.
	StageTimeout time.Duration `mapstructure:"sync-timeout"`

	// MaxEventsPerSync caps a single DeltaRequest/DeltaBatch exchange.
	MaxEventsPerSync uint32 `mapstructure:"max-events-per-sync"`

	// ActivePeers and RandomSlots size the gossip working set.
	ActivePeers int `mapstructure:"active-peers"`
	RandomSlots int `mapstructure:"random-slots"`

	// AntiEntropyEvery runs the cell-scan sweep once every this many
	// cycles. AntiEntropyFanout bounds how many event ids a single sweep
	// offer carries.
	AntiEntropyEvery  int `mapstructure:"anti-entropy-every"`
	AntiEntropyFanout int `mapstructure:"anti-entropy-fanout"`

	// MaxPool controls how many connections are pooled per target in the
	// gossip transport.
	MaxPool int `mapstructure:"max-pool"`

	// Store activates persistent (Badger) storage; otherwise the event
	// log lives only in memory.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing the Badger database files.
	DatabaseDir string `mapstructure:"db"`

	// StoreBudget is the max number of admitted events retained before
	// the retention sweep starts evicting the least recently updated
	// cell.
	StoreBudget uint64 `mapstructure:"store-budget"`

	// RateBucketCapacity and RateRefillPerSec configure the validation
	// pipeline's per-emitter token bucket; RateBufferSize is the depth of
	// the per-emitter overflow queue that holds rate-limited events.
	RateBucketCapacity int     `mapstructure:"rate-bucket-capacity"`
	RateRefillPerSec   float64 `mapstructure:"rate-refill-per-sec"`
	RateBufferSize     int     `mapstructure:"rate-buffer-size"`

	// ReputationFloor is the minimum admission probability the reputation
	// gate grants an emitter, however low its trust weight.
	ReputationFloor float64 `mapstructure:"reputation-floor"`

	// Moniker is this node's friendly name, used only in logs.
	Moniker string `mapstructure:"moniker"`

	// Key is the emitter's private key. When nil, Init generates or loads
	// one from Keyfile().
	Key *btcec.PrivateKey

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	return &Config{
		WorldDir:          DefaultDataDir(),
		LogLevel:          DefaultLogLevel,
		BindAddr:          DefaultBindAddr,
		GossipInterval:    DefaultGossipInterval,
		StageTimeout:      DefaultStageTimeout,
		MaxEventsPerSync:  DefaultMaxEventsPerSync,
		ActivePeers:       DefaultActivePeers,
		RandomSlots:       DefaultRandomSlots,
		AntiEntropyEvery:  DefaultAntiEntropyEvery,
		AntiEntropyFanout: DefaultAntiEntropyFanout,
		MaxPool:           DefaultMaxPool,
		Store:             DefaultStore,
		DatabaseDir:       DefaultDatabaseDir(),
		StoreBudget:       DefaultStoreBudget,
		RateBucketCapacity: DefaultRateBucketCap,
		RateRefillPerSec:   DefaultRateRefillPerSec,
		RateBufferSize:     DefaultRateBufferSize,
		ReputationFloor:    DefaultReputationFloor,
		RuleBundleHashHex:  DefaultRuleBundleHash,
	}
}

// NewTestConfig returns a config object with default values and a logger
// that writes to the test's own log instead of stdout.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	cfg := NewDefaultConfig()
	logger := logrus.New()
	logger.Level = level
	logger.Out = testWriter{t}
	cfg.logger = logger
	return cfg
}

type testWriter struct{ t testing.TB }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

// SetWorldDir sets the top-level gossipd directory, and updates the
// database directory if it is currently set to the default value. If the
// database directory has been explicitly overridden, it is left alone.
func (c *Config) SetWorldDir(dir string) {
	c.WorldDir = dir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dir, DefaultBadgerDir)
	}
}

// Keyfile returns the full path of the file containing the emitter's
// private key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.WorldDir, DefaultKeyfile)
}

// Logger returns a formatted logrus Entry, with prefix set to "gossipd".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
	}
	return c.logger.WithField("prefix", "gossipd")
}

// GossipConfig maps this Config onto gossip.Config for engine
// construction.
func (c *Config) GossipConfig() gossip.Config {
	cfg := gossip.DefaultConfig()
	cfg.Period = c.GossipInterval
	cfg.StageTimeout = c.StageTimeout
	cfg.MaxEventsPerDelta = c.MaxEventsPerSync
	cfg.ActivePeers = c.ActivePeers
	cfg.RandomSlots = c.RandomSlots
	cfg.AntiEntropyEvery = c.AntiEntropyEvery
	cfg.AntiEntropyFanout = c.AntiEntropyFanout
	return cfg
}

// DefaultDatabaseDir returns the default path for the Badger database
// files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerDir)
}

// DefaultDataDir returns the default directory name for top-level gossipd
// config, based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	home := HomeDir()
	if home == "" {
		return ""
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, ".gossipd")
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", "gossipd")
	default:
		return filepath.Join(home, ".gossipd")
	}
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
