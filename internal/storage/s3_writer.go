// internal/storage/s3_writer.go
package storage

import (
	"bytes"
	"context"
	"io"
	"log"
	"sync/atomic"
	"time"

	"thermo-pipeline/internal/config"
	"thermo-pipeline/internal/metrics"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfgLib "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Writer 는 durable object 저장소에 대한 쓰기 계약이다.
// overwrite 는 멱등(idempotent)이라고 가정한다 — 같은 key 에 같은 내용을
// 다시 써도 안전하다. Manager 가 테스트에서 가짜 구현으로 치환한다.
type Writer interface {
	// Put 은 완성된 배치 바이트를 key 위치에 기록한다.
	Put(ctx context.Context, key string, body []byte, contentType string) error

	// PutFile 은 로컬 DLQ 파일을 그대로 업로드할 때 사용한다.
	// retry 시 Seek(0) rewind 가 가능해야 한다.
	PutFile(ctx context.Context, key string, f io.ReadSeeker, size int64) error
}

// S3Writer 는 S3 업로드 기능을 담당하는 Writer 구현이다.
// - JSONL 배치 바이트 업로드 (Put)
// - 로컬 DLQ 파일 업로드 (PutFile)
// - 내부적으로 AWS SDK v2 client 사용
//
// 모든 업로드는 컨텍스트 기반(timeout + cancel-safe)으로 이루어지며,
// 재시도(backoff) 로직을 포함한다.
type S3Writer struct {
	cfg     config.Ingest
	metrics *metrics.Metrics
	client  *s3.Client
}

// NewS3Writer 는 AWS SDK Config를 초기화하고 S3 client를 생성한다.
func NewS3Writer(cfg config.Ingest, m *metrics.Metrics) *S3Writer {
	return &S3Writer{
		cfg:     cfg,
		metrics: m,
		client:  newS3Client(cfg),
	}
}

// newS3Client는 AWS 지역(region)과 Retry 설정 등 기본 옵션을 로드한다.
// 실패 시 fatal 로그 후 즉시 종료한다 (운영 환경에서는 필수).
func newS3Client(cfg config.Ingest) *s3.Client {
	awsCfg, err := awsCfgLib.LoadDefaultConfig(
		context.TODO(),
		awsCfgLib.WithRegion(cfg.AWSRegion),
	)
	if err != nil {
		log.Fatalf("[FATAL] failed to load AWS config: %v", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.RetryMaxAttempts = 0
	})

	return client
}

// Put
// -----------------------
// 메모리에 이미 존재하는 JSONL 바이트 배열을 S3로 업로드한다.
// - 각 업로드는 S3Timeout 단위 timeout
// - retry + exponential backoff 포함
// - shutdown-safe: ctx.Done() 시 즉시 중단
//
// body는 매 재시도마다 reader를 새로 만들어야 하므로 bytes.NewReader 사용.
func (w *S3Writer) Put(ctx context.Context, key string, body []byte, contentType string) error {

	var lastErr error
	backoff := 200 * time.Millisecond

	for attempt := 1; attempt <= w.cfg.S3AppRetries; attempt++ {

		// shutdown 체크
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		reader := bytes.NewReader(body)

		if err := w.putObject(ctx, key, reader, int64(len(body)), contentType); err == nil {
			return nil
		} else {
			lastErr = err
			atomic.AddInt64(&w.metrics.S3PutErrorsTotal, 1)
		}

		// backoff 적용 (최대 2초)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > 2*time.Second {
				backoff = 2 * time.Second
			}
		}
	}

	return lastErr
}

// PutFile
// -----------------------
// 로컬 DLQ에 저장된 파일을 그대로 S3로 업로드할 때 사용한다.
// - io.ReadSeeker를 사용하여 retry 시 Seek(0)으로 rewind 가능
// - shutdown-safe + retry/backoff 동일 적용
// - 파일 크기는 caller에서 받아 전달한다.
func (w *S3Writer) PutFile(ctx context.Context, key string, f io.ReadSeeker, size int64) error {

	var lastErr error
	backoff := 200 * time.Millisecond

	for attempt := 1; attempt <= w.cfg.S3AppRetries; attempt++ {

		// shutdown 체크
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := w.putObject(ctx, key, f, size, "application/gzip"); err == nil {
			return nil
		} else {
			lastErr = err
			atomic.AddInt64(&w.metrics.S3PutErrorsTotal, 1)
		}

		// backoff 적용
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > 2*time.Second {
				backoff = 2 * time.Second
			}
		}

		// retry 시 파일 포인터를 처음으로 되돌린다 (반드시 필요)
		f.Seek(0, io.SeekStart)
	}

	return lastErr
}

// putObject
// ---------
// 실제 AWS S3 PutObject 호출을 수행한다.
// - retries는 caller에서 제어하며 여기서는 1회 호출만 담당
// - 각 호출은 컨텍스트 기반 S3Timeout 을 가진다
func (w *S3Writer) putObject(
	ctx context.Context,
	key string,
	body io.Reader,
	size int64,
	contentType string,
) error {

	// 1회 시도당 timeout 적용
	ctx2, cancel := context.WithTimeout(ctx, w.cfg.S3Timeout)
	defer cancel()

	_, err := w.client.PutObject(ctx2, &s3.PutObjectInput{
		Bucket:        aws.String(w.cfg.RawBucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})

	return err
}
