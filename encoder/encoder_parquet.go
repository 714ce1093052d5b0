package encoder

import (
	"bytes"
	"context"
	"fmt"

	"github.com/parquet-go/parquet-go"
)

const parquetContentType = "application/vnd.apache.parquet"

// Parquet writes items as a single parquet file using the struct tags of T.
type Parquet[T any] struct {
	// Compression (optional): "", "snappy", "gzip", "zstd"
	Compression string
}

func (e Parquet[T]) FileExtension() string { return ".parquet" }

func (e Parquet[T]) ContentType() string { return parquetContentType }

// Validate reports an unsupported compression codec before any data is encoded.
func (e Parquet[T]) Validate() error {
	_, err := e.writerOptions()
	return err
}

func (e Parquet[T]) Encode(ctx context.Context, items []T) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	options, err := e.writerOptions()
	if err != nil {
		return nil, err
	}

	var output bytes.Buffer
	w := parquet.NewGenericWriter[T](&output, options...)

	if _, err := w.Write(items); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return output.Bytes(), nil
}

func (e Parquet[T]) writerOptions() ([]parquet.WriterOption, error) {
	switch e.Compression {
	case "":
		return nil, nil
	case "snappy":
		return []parquet.WriterOption{parquet.Compression(&parquet.Snappy)}, nil
	case "gzip":
		return []parquet.WriterOption{parquet.Compression(&parquet.Gzip)}, nil
	case "zstd":
		return []parquet.WriterOption{parquet.Compression(&parquet.Zstd)}, nil
	default:
		return nil, fmt.Errorf("unsupported parquet compression: %q", e.Compression)
	}
}
