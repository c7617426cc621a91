package transport

import (
	"os"
	"time"

	"go.uber.org/zap"
)

// Config holds the environment-derived and caller-supplied settings for a
// Runtime. No third-party env-parsing library is used here: the surface is
// four scalar reads (see DESIGN.md), well within what os.Getenv covers
// cleanly, and none of the examples in the corpus reach for a config
// library for a surface this small.
type Config struct {
	// Partition is the default partition prefix applied to every topic a
	// node on this runtime canonicalizes, from IGN_PARTITION.
	Partition string

	// Verbose enables debug-level logging, from IGN_VERBOSE == "1".
	Verbose bool

	// Username and Password, if both non-empty, enable the PLAIN-equivalent
	// credential check on the publisher socket, from
	// IGNITION_TRANSPORT_USERNAME / IGNITION_TRANSPORT_PASSWORD.
	Username string
	Password string

	// SlowJoinerDelay is how long a freshly dialed connection is held back
	// from its first send, compensating for the slow-joiner window. Exposed
	// for tests; production callers should leave it at the default.
	SlowJoinerDelay time.Duration

	Logger *zap.Logger
}

const (
	envPartition = "IGN_PARTITION"
	envVerbose   = "IGN_VERBOSE"
	envUsername  = "IGNITION_TRANSPORT_USERNAME"
	envPassword  = "IGNITION_TRANSPORT_PASSWORD"

	defaultSlowJoinerDelay = 100 * time.Millisecond
)

// configFromEnv builds a Config from the process environment, applying the
// documented defaults for anything unset.
func configFromEnv() Config {
	return Config{
		Partition:       os.Getenv(envPartition),
		Verbose:         os.Getenv(envVerbose) == "1",
		Username:        os.Getenv(envUsername),
		Password:        os.Getenv(envPassword),
		SlowJoinerDelay: defaultSlowJoinerDelay,
	}
}

// AuthEnabled reports whether both halves of the PLAIN-equivalent
// credential pair are configured.
func (c Config) AuthEnabled() bool { return c.Username != "" && c.Password != "" }

// An Option adjusts a Config before a Runtime is constructed from it,
// mirroring the chained functional setters on chirp.Peer (Handle,
// LogPackets, OnExit, NewContext).
type Option func(*Config)

// WithPartition overrides the partition read from IGN_PARTITION.
func WithPartition(partition string) Option {
	return func(c *Config) { c.Partition = partition }
}

// WithLogger installs a caller-supplied zap.Logger instead of the default
// one built from IGN_VERBOSE.
func WithLogger(log *zap.Logger) Option {
	return func(c *Config) { c.Logger = log }
}

// WithCredentials overrides the PLAIN-equivalent username/password pair read
// from the environment.
func WithCredentials(username, password string) Option {
	return func(c *Config) { c.Username, c.Password = username, password }
}

// WithSlowJoinerDelay overrides the post-connect send delay. Intended for
// tests that want the slow-joiner window to be negligible.
func WithSlowJoinerDelay(d time.Duration) Option {
	return func(c *Config) { c.SlowJoinerDelay = d }
}

func buildLogger(verbose bool) *zap.Logger {
	if verbose {
		log, err := zap.NewDevelopment()
		if err == nil {
			return log
		}
	}
	log, err := zap.NewProduction(zap.IncreaseLevel(zap.WarnLevel))
	if err != nil {
		return zap.NewNop()
	}
	return log
}
