package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoad_YAML(t *testing.T) {
	p := writeYAML(t, `
schema_version: v1
stream:
  queue_url: https://sqs.us-east-1.amazonaws.com/1/orders
  stop_when_empty: true
  retry:
    retry_on_error: false
    initial_backoff: 250ms
  receive:
    max_messages: 5
    wait_time_seconds: 0
archive:
  max_items: 50
  flush_interval: 10s
sink:
  bucket: archive-bucket
  prefix: /raw/orders/
  compression: zstd
`)

	f, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	s := f.Stream
	if s.QueueURL != "https://sqs.us-east-1.amazonaws.com/1/orders" || !s.StopWhenEmpty {
		t.Fatalf("unexpected stream config: %+v", s)
	}
	if s.Retry.RetryOnError == nil || *s.Retry.RetryOnError {
		t.Fatalf("retry_on_error=false lost")
	}
	if s.Retry.InitialBackoff != 250*time.Millisecond || s.Retry.MaxBackoff != 15*time.Second {
		t.Fatalf("unexpected retry: %+v", s.Retry)
	}
	if s.Receive.MaxMessages != 5 || s.Receive.WaitTimeSeconds == nil || *s.Receive.WaitTimeSeconds != 0 {
		t.Fatalf("unexpected receive: %+v", s.Receive)
	}
	if f.Archive.MaxItems != 50 || f.Archive.FlushInterval != 10*time.Second {
		t.Fatalf("unexpected archive: %+v", f.Archive)
	}
	if f.Archive.MaxBytes == 0 {
		t.Fatalf("archive defaults not applied")
	}
	if f.Sink.Bucket != "archive-bucket" || f.Sink.Prefix != "raw/orders" || f.Sink.Compression != "zstd" {
		t.Fatalf("unexpected sink: %+v", f.Sink)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	p := writeYAML(t, `
stream:
  queue_url: from-file
  retry:
    max_backoff: 1s
`)
	t.Setenv("SQSSTREAM_STREAM__QUEUE_URL", "from-env")
	t.Setenv("SQSSTREAM_STREAM__RETRY__MAX_BACKOFF", "30s")
	t.Setenv("SQSSTREAM_STREAM__BUFFER__HIGH_WATER_MARK", "20")

	f, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.Stream.QueueURL != "from-env" {
		t.Fatalf("QueueURL=%q", f.Stream.QueueURL)
	}
	if f.Stream.Retry.MaxBackoff != 30*time.Second {
		t.Fatalf("MaxBackoff=%v", f.Stream.Retry.MaxBackoff)
	}
	if f.Stream.Buffer.HighWaterMark != 20 {
		t.Fatalf("HighWaterMark=%d", f.Stream.Buffer.HighWaterMark)
	}
}

func TestLoad_MissingFileUsesEnv(t *testing.T) {
	t.Setenv("SQSSTREAM_STREAM__QUEUE_URL", "q")

	f, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.Stream.QueueURL != "q" || f.Stream.Receive.MaxMessages != 10 {
		t.Fatalf("unexpected config: %+v", f.Stream)
	}
}

func TestLoad_RejectsSchemaVersion(t *testing.T) {
	p := writeYAML(t, "schema_version: v2\nstream:\n  queue_url: q\n")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoad_ValidatesStream(t *testing.T) {
	p := writeYAML(t, "stream:\n  receive:\n    max_messages: 5\n")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected missing queue url error")
	}
}

func TestEnvKey(t *testing.T) {
	if got := envKey("SQSSTREAM_ARCHIVE__MAX_ITEMS"); got != "archive.max_items" {
		t.Fatalf("envKey=%q", got)
	}
}

func TestFile_ArchiveStream_DefaultsVisibilityPastFlush(t *testing.T) {
	p := writeYAML(t, `
stream:
  queue_url: q
archive:
  flush_interval: 1m
  stop_timeout: 10s
`)
	f, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	s, err := f.ArchiveStream()
	if err != nil {
		t.Fatalf("ArchiveStream: %v", err)
	}
	if s.Receive.VisibilityTimeout != 70 {
		t.Fatalf("visibility=%d want 70", s.Receive.VisibilityTimeout)
	}
	if f.Stream.Receive.VisibilityTimeout != 0 {
		t.Fatalf("Load must leave the receive visibility untouched")
	}
}

func TestFile_ArchiveStream_RejectsVisibilityShorterThanFlush(t *testing.T) {
	p := writeYAML(t, `
stream:
  queue_url: q
  receive:
    visibility_timeout: 30
archive:
  flush_interval: 1m
`)
	f, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := f.ArchiveStream(); err == nil {
		t.Fatalf("expected error for visibility 30s with a 1m flush interval")
	}

	f.Stream.Receive.VisibilityTimeout = 300
	s, err := f.ArchiveStream()
	if err != nil {
		t.Fatalf("ArchiveStream: %v", err)
	}
	if s.Receive.VisibilityTimeout != 300 {
		t.Fatalf("explicit visibility overridden: %d", s.Receive.VisibilityTimeout)
	}
}

func TestFile_ArchiveStream_RejectsInvalidArchive(t *testing.T) {
	p := writeYAML(t, `
stream:
  queue_url: q
archive:
  max_items: -1
`)
	f, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := f.ArchiveStream(); err == nil {
		t.Fatalf("expected archive validation error")
	}
}
