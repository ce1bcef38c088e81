// internal/worker/s3_uploader.go
package worker

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfgLib "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	zlog "github.com/rs/zerolog/log"

	"logsweep/internal/config"
	"logsweep/internal/metrics"
)

// putObjectAPI 는 S3Uploader 가 쓰는 s3.Client 의 부분집합.
type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader 는 gzip 아카이브 파일을 S3 로 올린다.
// SDK 자체 retry 는 끄고 S3AppRetries 만큼 backoff 와 함께 재시도한다.
type S3Uploader struct {
	cfg     config.Config
	metrics *metrics.Metrics
	client  putObjectAPI

	baseBackoff time.Duration
}

// NewS3Uploader 는 기본 AWS credential chain 으로 client 를 만든다.
func NewS3Uploader(ctx context.Context, cfg config.Config, m *metrics.Metrics) (*S3Uploader, error) {
	awsCfg, err := awsCfgLib.LoadDefaultConfig(ctx, awsCfgLib.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.RetryMaxAttempts = 0
	})
	return newS3Uploader(cfg, m, client), nil
}

func newS3Uploader(cfg config.Config, m *metrics.Metrics, client putObjectAPI) *S3Uploader {
	if m == nil {
		m = metrics.New()
	}
	return &S3Uploader{
		cfg:         cfg,
		metrics:     m,
		client:      client,
		baseBackoff: 200 * time.Millisecond,
	}
}

// UploadFileWithRetryCtx
//
// f 를 key 로 업로드한다. 재시도 전마다 Seek(0) 으로 되감는다.
// backoff 는 200ms 부터 두 배씩, 최대 2초. ctx 가 끝나면 즉시 중단.
func (u *S3Uploader) UploadFileWithRetryCtx(ctx context.Context, key string, f io.ReadSeeker, size int64) error {
	attempts := u.cfg.S3AppRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	backoff := u.baseBackoff

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if attempt > 1 {
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				return fmt.Errorf("rewind: %w", err)
			}
		}

		err := u.putObject(ctx, key, f, size)
		if err == nil {
			return nil
		}
		lastErr = err
		atomic.AddInt64(&u.metrics.ArchivePutErrors, 1)
		zlog.Debug().Err(err).Str("key", key).Int("attempt", attempt).Msg("s3 put failed")

		if attempt == attempts {
			break
		}
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

// putObject 는 1회 호출. S3Timeout 이 0 이면 caller ctx 그대로.
func (u *S3Uploader) putObject(ctx context.Context, key string, body io.Reader, size int64) error {
	if u.cfg.S3Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.cfg.S3Timeout)
		defer cancel()
	}

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.Bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("application/gzip"),
	})
	return err
}
