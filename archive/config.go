package archive

import (
	"errors"
	"time"
)

// maxVisibilitySeconds is the SQS upper bound for a visibility timeout.
const maxVisibilitySeconds = 43200

// Config controls batching, retries and visibility handling of an Archiver.
type Config struct {
	// A batch is flushed once it holds MaxItems records, MaxBytes of message
	// bodies, or FlushInterval elapsed since its first record.
	MaxItems      int           `koanf:"max_items"`
	MaxBytes      int64         `koanf:"max_bytes"`
	FlushInterval time.Duration `koanf:"flush_interval"`

	// Sink writes and acks are retried with exponential backoff.
	WriteAttempts  int           `koanf:"write_attempts"`
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`
	RetryMaxDelay  time.Duration `koanf:"retry_max_delay"`

	// LeaseVisibilitySeconds > 0 keeps a flushing batch invisible by
	// extending it every LeaseRenewEvery.
	LeaseVisibilitySeconds int32         `koanf:"lease_visibility_seconds"`
	LeaseRenewEvery        time.Duration `koanf:"lease_renew_every"`

	// FailVisibilitySeconds > 0 makes messages that fail to transform
	// visible again after that delay instead of the queue default.
	FailVisibilitySeconds int32 `koanf:"fail_visibility_seconds"`

	// StopTimeout bounds the final flush after cancellation.
	StopTimeout time.Duration `koanf:"stop_timeout"`
}

// DefaultConfig holds the value used for every zero field of a Config.
var DefaultConfig = Config{
	MaxItems:        1000,
	MaxBytes:        5 * 1024 * 1024,
	FlushInterval:   time.Minute,
	WriteAttempts:   3,
	RetryBaseDelay:  200 * time.Millisecond,
	RetryMaxDelay:   5 * time.Second,
	LeaseRenewEvery: 20 * time.Second,
	StopTimeout:     10 * time.Second,
}

// WithDefaults fills every zero field from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig
	if c.MaxItems == 0 {
		c.MaxItems = d.MaxItems
	}
	if c.MaxBytes == 0 {
		c.MaxBytes = d.MaxBytes
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = d.FlushInterval
	}
	if c.WriteAttempts == 0 {
		c.WriteAttempts = d.WriteAttempts
	}
	if c.RetryBaseDelay == 0 {
		c.RetryBaseDelay = d.RetryBaseDelay
	}
	if c.RetryMaxDelay == 0 {
		c.RetryMaxDelay = d.RetryMaxDelay
	}
	if c.LeaseRenewEvery == 0 {
		c.LeaseRenewEvery = d.LeaseRenewEvery
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = d.StopTimeout
	}
	return c
}

// Validate reports out-of-range settings. It expects a config that already
// went through WithDefaults.
func (c Config) Validate() error {
	if c.MaxItems < 1 {
		return errors.New("max_items must be > 0")
	}
	if c.MaxBytes < 1 {
		return errors.New("max_bytes must be > 0")
	}
	if c.FlushInterval <= 0 {
		return errors.New("flush_interval must be > 0")
	}
	if c.WriteAttempts < 1 {
		return errors.New("write_attempts must be > 0")
	}
	if c.RetryBaseDelay < 0 || c.RetryMaxDelay < 0 {
		return errors.New("retry delays must be >= 0")
	}
	if c.LeaseVisibilitySeconds < 0 || c.LeaseVisibilitySeconds > maxVisibilitySeconds {
		return errors.New("lease_visibility_seconds must be within 0..43200")
	}
	if c.LeaseVisibilitySeconds > 0 && c.LeaseRenewEvery <= 0 {
		return errors.New("lease_renew_every must be > 0 when the lease is enabled")
	}
	if c.FailVisibilitySeconds < 0 || c.FailVisibilitySeconds > maxVisibilitySeconds {
		return errors.New("fail_visibility_seconds must be within 0..43200")
	}
	if c.StopTimeout <= 0 {
		return errors.New("stop_timeout must be > 0")
	}
	if c.minVisibility() > maxVisibilitySeconds {
		return errors.New("flush_interval + stop_timeout must not exceed 12h")
	}
	return nil
}

// MinVisibilitySeconds is the smallest receive visibility timeout that keeps
// a buffered message hidden until its batch was flushed and acked.
func (c Config) MinVisibilitySeconds() int32 {
	return int32(min(c.minVisibility(), maxVisibilitySeconds))
}

func (c Config) minVisibility() int64 {
	d := c.FlushInterval + c.StopTimeout
	return int64((d + time.Second - 1) / time.Second)
}

func (c Config) retryPolicy() RetryPolicy {
	return ExponentialRetry{
		Attempts:  c.WriteAttempts,
		BaseDelay: c.RetryBaseDelay,
		MaxDelay:  c.RetryMaxDelay,
		Jitter:    true,
	}
}
