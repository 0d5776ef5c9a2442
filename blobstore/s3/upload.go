package s3

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/canvas-server/synapsd/internal/hash"
)

// UploadConfig tunes the multipart uploader.
type UploadConfig struct {
	// PartSize is the part size for multipart uploads. Default: 8 MiB.
	PartSize int64

	// Concurrency is the number of parts uploaded in parallel. Default: 5.
	Concurrency int

	// EnableChecksum sends CRC32C checksums so S3 verifies the payload.
	// Default: true.
	EnableChecksum bool

	// LeavePartsOnError keeps uploaded parts of a failed multipart upload
	// instead of aborting it. Default: false.
	LeavePartsOnError bool
}

// DefaultUploadConfig returns the defaults described on UploadConfig.
func DefaultUploadConfig() UploadConfig {
	return UploadConfig{
		PartSize:       8 * 1024 * 1024,
		Concurrency:    5,
		EnableChecksum: true,
	}
}

func newUploader(client Client, cfg UploadConfig) *manager.Uploader {
	return manager.NewUploader(client, func(u *manager.Uploader) {
		if cfg.PartSize > 0 {
			u.PartSize = cfg.PartSize
		}
		if cfg.Concurrency > 0 {
			u.Concurrency = cfg.Concurrency
		}
		u.LeavePartsOnError = cfg.LeavePartsOnError
	})
}

func putObject(ctx context.Context, client Client, bucket, key string, data []byte, checksum bool) error {
	in := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if checksum {
		in.ChecksumCRC32C = aws.String(hash.CRC32CBase64(data))
	}
	_, err := client.PutObject(ctx, in)
	return err
}

// streamingWriter pipes writes into a background manager upload.
type streamingWriter struct {
	pw   *io.PipeWriter
	done chan error

	closeOnce sync.Once
	closeErr  error
}

func newStreamingWriter(ctx context.Context, uploader *manager.Uploader, bucket, key string, checksum bool) *streamingWriter {
	pr, pw := io.Pipe()
	w := &streamingWriter{pw: pw, done: make(chan error, 1)}

	in := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   pr,
	}
	if checksum {
		in.ChecksumAlgorithm = types.ChecksumAlgorithmCrc32c
	}
	go func() {
		_, err := uploader.Upload(ctx, in)
		_ = pr.CloseWithError(err)
		w.done <- err
	}()
	return w
}

func (w *streamingWriter) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

// Close signals EOF and waits for the upload to finish.
func (w *streamingWriter) Close() error {
	w.closeOnce.Do(func() {
		if err := w.pw.Close(); err != nil {
			w.closeErr = err
			return
		}
		w.closeErr = <-w.done
	})
	return w.closeErr
}
