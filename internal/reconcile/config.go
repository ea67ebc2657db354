package reconcile

import (
	"os"
	"time"

	"github.com/smallbiznis/settlr/internal/config"
)

// Config controls the reconciliation worker loop.
type Config struct {
	PollInterval   time.Duration
	ReserveTimeout time.Duration
	Visibility     time.Duration
	// MaxJobs stops the loop after that many handled messages; 0 runs forever.
	MaxJobs int
	// StagingDir holds per-job copies of the input files.
	StagingDir string

	LookupAttempts int
	LookupBackoff  time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval:   time.Second,
		ReserveTimeout: 30 * time.Second,
		Visibility:     10 * time.Minute,
		StagingDir:     os.TempDir(),
		LookupAttempts: 5,
		LookupBackoff:  200 * time.Millisecond,
	}
}

// FromAppConfig maps WORKER_* and STAGING_DIR settings.
func FromAppConfig(cfg config.Config) Config {
	return Config{
		PollInterval:   cfg.Worker.PollInterval,
		ReserveTimeout: cfg.Worker.ReserveTimeout,
		Visibility:     cfg.Worker.VisibilityTimeout,
		MaxJobs:        cfg.Worker.MaxJobs,
		StagingDir:     cfg.Storage.StagingDir,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.ReserveTimeout < 0 {
		c.ReserveTimeout = defaults.ReserveTimeout
	}
	if c.Visibility <= 0 {
		c.Visibility = defaults.Visibility
	}
	if c.StagingDir == "" {
		c.StagingDir = defaults.StagingDir
	}
	if c.LookupAttempts <= 0 {
		c.LookupAttempts = defaults.LookupAttempts
	}
	if c.LookupBackoff <= 0 {
		c.LookupBackoff = defaults.LookupBackoff
	}
	return c
}
