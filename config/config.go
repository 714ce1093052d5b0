// Package config loads the file and environment configuration shared by the
// binaries.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/baldanca/sqs-stream/archive"
	"github.com/baldanca/sqs-stream/stream"
)

// EnvPrefix prefixes every environment override. Nested keys are separated by
// a double underscore: SQSSTREAM_STREAM__RETRY__MAX_BACKOFF=30s.
const EnvPrefix = "SQSSTREAM_"

const schemaVersion = "v1"

// SinkConfig selects where archived objects are written.
type SinkConfig struct {
	Bucket string `koanf:"bucket"`
	Prefix string `koanf:"prefix"`
	// Compression is "", "snappy", "gzip" or "zstd".
	Compression string `koanf:"compression"`
}

// File is the layout of the YAML config file.
type File struct {
	SchemaVersion string         `koanf:"schema_version"`
	Stream        stream.Config  `koanf:"stream"`
	Archive       archive.Config `koanf:"archive"`
	Sink          SinkConfig     `koanf:"sink"`
}

// Load merges the YAML file at path (if present) with environment overrides,
// then applies defaults and validates the stream section.
func Load(path string) (File, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return File{}, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return File{}, fmt.Errorf("load env: %w", err)
	}

	if sv := k.String("schema_version"); sv != "" && sv != schemaVersion {
		return File{}, fmt.Errorf("schema_version %q not supported (want %s)", sv, schemaVersion)
	}

	var f File
	if err := k.Unmarshal("", &f); err != nil {
		return File{}, fmt.Errorf("decode config: %w", err)
	}

	f.Stream = f.Stream.WithDefaults()
	if err := f.Stream.Validate(); err != nil {
		return File{}, fmt.Errorf("stream: %w", err)
	}
	f.Archive = f.Archive.WithDefaults()
	f.Sink.Prefix = strings.Trim(f.Sink.Prefix, "/")
	return f, nil
}

// ArchiveStream returns the stream settings for archiving. An unset receive
// visibility timeout becomes Archive.MinVisibilitySeconds; a smaller explicit
// one is rejected.
func (f File) ArchiveStream() (stream.Config, error) {
	arch := f.Archive.WithDefaults()
	if err := arch.Validate(); err != nil {
		return stream.Config{}, fmt.Errorf("archive: %w", err)
	}
	cfg := f.Stream
	minVis := arch.MinVisibilitySeconds()
	switch vis := cfg.Receive.VisibilityTimeout; {
	case vis == 0:
		cfg.Receive.VisibilityTimeout = minVis
	case vis < minVis:
		return stream.Config{}, fmt.Errorf(
			"stream.receive.visibility_timeout %ds is shorter than archive flush_interval + stop_timeout (%ds)",
			vis, minVis)
	}
	return cfg, nil
}

// envKey maps SQSSTREAM_STREAM__QUEUE_URL to stream.queue_url.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}
