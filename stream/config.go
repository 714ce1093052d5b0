package stream

import (
	"errors"
	"fmt"
	"time"

	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// RetryConfig controls what happens when ReceiveMessage fails.
type RetryConfig struct {
	// RetryOnError keeps the stream alive across receive failures. Nil means true.
	RetryOnError *bool `koanf:"retry_on_error"`
	// InitialBackoff is the first retry delay. It doubles on each consecutive
	// failure and resets after any successful receive.
	InitialBackoff time.Duration `koanf:"initial_backoff"`
	// MaxBackoff caps the retry delay.
	MaxBackoff time.Duration `koanf:"max_backoff"`
}

// ReceiveConfig is passed through to every ReceiveMessage call.
type ReceiveConfig struct {
	MaxMessages int32 `koanf:"max_messages"`
	// WaitTimeSeconds is the long-poll wait. Nil means 20; 0 is a short poll.
	WaitTimeSeconds *int32 `koanf:"wait_time_seconds"`
	// VisibilityTimeout overrides the queue visibility timeout when > 0.
	VisibilityTimeout     int32    `koanf:"visibility_timeout"`
	AttributeNames        []string `koanf:"attribute_names"`
	MessageAttributeNames []string `koanf:"message_attribute_names"`
}

// BufferConfig sizes the Reader buffer.
type BufferConfig struct {
	HighWaterMark int `koanf:"high_water_mark"`
}

// Config configures a Stream. Zero-valued fields take the matching value from
// DefaultConfig; everything else is kept as supplied.
type Config struct {
	QueueURL string `koanf:"queue_url"`

	Retry   RetryConfig   `koanf:"retry"`
	Receive ReceiveConfig `koanf:"receive"`
	Buffer  BufferConfig  `koanf:"buffer"`

	// StopWhenEmpty ends the stream on the first empty receive instead of
	// waiting for new messages.
	StopWhenEmpty bool `koanf:"stop_when_empty"`

	// AckTimeout bounds Acknowledge and ExtendVisibility calls.
	AckTimeout time.Duration `koanf:"ack_timeout"`
}

// DefaultConfig supplies every zero field of a Config.
var DefaultConfig = Config{
	Retry: RetryConfig{
		RetryOnError:   boolPtr(true),
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     15 * time.Second,
	},
	Receive: ReceiveConfig{
		MaxMessages:           10,
		WaitTimeSeconds:       int32Ptr(20),
		AttributeNames:        []string{"All"},
		MessageAttributeNames: []string{"All"},
	},
	Buffer: BufferConfig{
		HighWaterMark: 5,
	},
	AckTimeout: 10 * time.Second,
}

// WithDefaults merges c over DefaultConfig field by field.
func (c Config) WithDefaults() Config {
	d := DefaultConfig

	if c.Retry.RetryOnError == nil {
		c.Retry.RetryOnError = boolPtr(*d.Retry.RetryOnError)
	}
	if c.Retry.InitialBackoff == 0 {
		c.Retry.InitialBackoff = d.Retry.InitialBackoff
	}
	if c.Retry.MaxBackoff == 0 {
		c.Retry.MaxBackoff = d.Retry.MaxBackoff
	}
	if c.Retry.MaxBackoff < c.Retry.InitialBackoff {
		c.Retry.MaxBackoff = c.Retry.InitialBackoff
	}

	if c.Receive.MaxMessages == 0 {
		c.Receive.MaxMessages = d.Receive.MaxMessages
	}
	if c.Receive.WaitTimeSeconds == nil {
		c.Receive.WaitTimeSeconds = int32Ptr(*d.Receive.WaitTimeSeconds)
	}
	if len(c.Receive.AttributeNames) == 0 {
		c.Receive.AttributeNames = append([]string(nil), d.Receive.AttributeNames...)
	}
	if len(c.Receive.MessageAttributeNames) == 0 {
		c.Receive.MessageAttributeNames = append([]string(nil), d.Receive.MessageAttributeNames...)
	}

	if c.Buffer.HighWaterMark == 0 {
		c.Buffer.HighWaterMark = d.Buffer.HighWaterMark
	}
	if c.AckTimeout == 0 {
		c.AckTimeout = d.AckTimeout
	}
	return c
}

// Validate reports configuration outside of the SQS API limits. It expects a
// config that already went through WithDefaults.
func (c Config) Validate() error {
	if c.QueueURL == "" {
		return ErrNoQueueURL
	}
	if c.Retry.InitialBackoff < 0 || c.Retry.MaxBackoff < 0 {
		return errors.New("backoff must be non-negative")
	}
	if c.Receive.MaxMessages < 1 || c.Receive.MaxMessages > 10 {
		return fmt.Errorf("max messages must be between 1 and 10, got %d", c.Receive.MaxMessages)
	}
	if w := c.Receive.WaitTimeSeconds; w != nil && (*w < 0 || *w > 20) {
		return fmt.Errorf("wait time seconds must be between 0 and 20, got %d", *w)
	}
	if c.Receive.VisibilityTimeout < 0 {
		return errors.New("visibility timeout must be non-negative")
	}
	if c.Buffer.HighWaterMark < 1 {
		return fmt.Errorf("high water mark must be at least 1, got %d", c.Buffer.HighWaterMark)
	}
	if c.AckTimeout < 0 {
		return errors.New("ack timeout must be non-negative")
	}
	return nil
}

func (c Config) retryOnError() bool {
	return c.Retry.RetryOnError == nil || *c.Retry.RetryOnError
}

func (c Config) systemAttributes() []sqstypes.MessageSystemAttributeName {
	out := make([]sqstypes.MessageSystemAttributeName, len(c.Receive.AttributeNames))
	for i, n := range c.Receive.AttributeNames {
		out[i] = sqstypes.MessageSystemAttributeName(n)
	}
	return out
}

func boolPtr(v bool) *bool    { return &v }
func int32Ptr(v int32) *int32 { return &v }
