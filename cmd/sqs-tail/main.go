// Command sqs-tail prints messages of an SQS queue as JSON lines.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"

	"github.com/baldanca/sqs-stream/config"
	"github.com/baldanca/sqs-stream/logging"
	"github.com/baldanca/sqs-stream/stream"
)

type Settings struct {
	ConfigPath string `env:"CONFIG_PATH" envDefault:"config.yaml"`
	Logging    logging.Options
}

type line struct {
	MessageID     string            `json:"message_id"`
	Body          string            `json:"body"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	ReceiptHandle string            `json:"receipt_handle,omitempty"`
}

func main() {
	var s Settings
	if err := env.Parse(&s); err != nil {
		log.Fatalf("failed to parse environment variables: %v", err)
	}

	del := flag.Bool("delete", false, "delete every printed message")
	limit := flag.Int("n", 0, "stop after n messages (0 = no limit)")
	handles := flag.Bool("receipt-handles", false, "include receipt handles in the output")
	flag.Parse()

	logger, err := logging.New(s.Logging)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(s.ConfigPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Fatal("load aws config", zap.Error(err))
	}

	reader, err := stream.NewReader(ctx, sqs.NewFromConfig(awsCfg), cfg.Stream,
		stream.WithLogger(logger.Named("stream")),
	)
	if err != nil {
		logger.Fatal("create stream", zap.Error(err))
	}
	defer reader.Close()

	t := tailer{out: os.Stdout, delete: *del, limit: *limit, handles: *handles, logger: logger}
	if err := t.run(ctx, reader); err != nil {
		logger.Error("tail failed", zap.Error(err))
		os.Exit(1)
	}
}

type receiver interface {
	Receive(ctx context.Context) (*stream.Message, error)
}

type tailer struct {
	out     io.Writer
	delete  bool
	limit   int
	handles bool
	logger  *zap.Logger
}

// run prints messages until the stream ends, ctx is cancelled or limit is
// reached. It waits for pending deletes before returning.
func (t tailer) run(ctx context.Context, r receiver) error {
	enc := json.NewEncoder(t.out)
	var pending sync.WaitGroup
	defer pending.Wait()

	for n := 0; t.limit == 0 || n < t.limit; n++ {
		m, err := r.Receive(ctx)
		switch {
		case errors.Is(err, stream.ErrClosed), ctx.Err() != nil:
			return nil
		case err != nil:
			return err
		}

		l := line{MessageID: aws.ToString(m.MessageId), Body: m.Text(), Attributes: m.Attributes}
		if t.handles {
			l.ReceiptHandle = aws.ToString(m.ReceiptHandle)
		}
		if err := enc.Encode(l); err != nil {
			return fmt.Errorf("write output: %w", err)
		}

		if t.delete {
			pending.Add(1)
			id := l.MessageID
			m.Acknowledge(func(err error) {
				defer pending.Done()
				if err != nil {
					t.logger.Warn("delete failed", zap.String("message_id", id), zap.Error(err))
				}
			})
		}
	}
	return nil
}
