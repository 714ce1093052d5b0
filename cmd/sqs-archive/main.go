// Command sqs-archive drains an SQS queue into parquet objects on S3.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/caarlos0/env/v11"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/baldanca/sqs-stream/archive"
	"github.com/baldanca/sqs-stream/config"
	"github.com/baldanca/sqs-stream/encoder"
	"github.com/baldanca/sqs-stream/logging"
	"github.com/baldanca/sqs-stream/metrics"
	"github.com/baldanca/sqs-stream/sink"
	"github.com/baldanca/sqs-stream/stream"
	"github.com/baldanca/sqs-stream/tracing"
)

type Settings struct {
	ConfigPath string `env:"CONFIG_PATH" envDefault:"config.yaml"`
	Logging    logging.Options
	Metrics    metrics.ServerConfig
	Tracing    tracing.Config
}

func main() {
	var s Settings
	if err := env.Parse(&s); err != nil {
		log.Fatalf("failed to parse environment variables: %v", err)
	}

	logger, err := logging.New(s.Logging)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, s, logger); err != nil {
		logger.Error("sqs-archive failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, s Settings, logger *zap.Logger) error {
	cfg, err := config.Load(s.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	tp, shutdownTracing, err := tracing.New(ctx, s.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Error("failed to shutdown tracing", zap.Error(err))
		}
	}()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}

	return archiveQueue(ctx, deps{
		file:    cfg,
		metrics: s.Metrics,
		tracer:  tp,
		sqs:     sqs.NewFromConfig(awsCfg),
		s3:      s3.NewFromConfig(awsCfg),
	}, logger)
}

type deps struct {
	file    config.File
	metrics metrics.ServerConfig
	tracer  trace.TracerProvider
	sqs     stream.Client
	s3      sink.S3API
}

// archiveQueue runs the metrics server and the archiver until the stream ends
// or ctx is cancelled. The server stops once the archiver returned.
func archiveQueue(ctx context.Context, d deps, logger *zap.Logger) error {
	cfg := d.file
	if cfg.Sink.Bucket == "" {
		return errors.New("sink.bucket is required")
	}
	streamCfg, err := cfg.ArchiveStream()
	if err != nil {
		return err
	}

	queue := streamCfg.QueueURL
	registry := metrics.NewRegistry()
	server := metrics.NewServer(d.metrics, registry, logger)

	client := tracing.Client(d.sqs, d.tracer, queue)
	client = registry.Client(client, queue)

	enc := encoder.Parquet[archive.Record]{Compression: cfg.Sink.Compression}
	if err := enc.Validate(); err != nil {
		return err
	}
	sk, err := sink.NewS3(d.s3, cfg.Sink.Bucket, cfg.Sink.Prefix)
	if err != nil {
		return err
	}

	reader, err := stream.NewReader(ctx, client, streamCfg,
		stream.WithLogger(logger.Named("stream")),
		stream.WithObserver(registry.StreamObserver(queue)),
	)
	if err != nil {
		return fmt.Errorf("create stream: %w", err)
	}
	defer reader.Close()

	arch, err := archive.New[archive.Record](cfg.Archive, reader, archive.RecordTransformer(), enc, sk,
		archive.WithLogger(logger),
		archive.WithObserver(registry.ArchiveObserver(queue)),
	)
	if err != nil {
		return err
	}

	logger.Info("archiving queue",
		zap.String("queue", queue),
		zap.String("bucket", cfg.Sink.Bucket),
		zap.String("prefix", cfg.Sink.Prefix),
		zap.Int32("visibility_timeout", streamCfg.Receive.VisibilityTimeout),
		zap.Bool("stop_when_empty", streamCfg.StopWhenEmpty),
	)

	g, gctx := errgroup.WithContext(ctx)
	serverCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()

	g.Go(func() error {
		return server.Start(serverCtx)
	})
	g.Go(func() error {
		defer stopServer()
		defer reader.Close()
		server.SetReady(true)
		return arch.Run(gctx)
	})

	return g.Wait()
}
