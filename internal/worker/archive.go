// internal/worker/archive.go
package worker

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	zlog "github.com/rs/zerolog/log"

	"logsweep/internal/config"
	"logsweep/internal/metrics"
	"logsweep/internal/pool"
)

// dlqBatchAfterArchive: 아카이브 한 번 뒤에 함께 재시도할 DLQ 파일 수
const dlqBatchAfterArchive = 3

// Archiver 는 run 이 Stopped 된 뒤 destination 을 gzip 으로 묶어 S3 에 올린다.
// 실패한 아카이브는 DLQ 로 가고, 다음 Archive / Flush 때 다시 시도된다.
type Archiver struct {
	cfg      config.Config
	metrics  *metrics.Metrics
	uploader *S3Uploader
	dlq      *DLQManager
}

func NewArchiver(cfg config.Config, m *metrics.Metrics, uploader *S3Uploader) (*Archiver, error) {
	if m == nil {
		m = metrics.New()
	}
	dlq, err := NewDLQManager(cfg, m, uploader)
	if err != nil {
		return nil, err
	}
	return &Archiver{cfg: cfg, metrics: m, uploader: uploader, dlq: dlq}, nil
}

// DLQ 는 내부 DLQManager.
func (a *Archiver) DLQ() *DLQManager { return a.dlq }

// Archive
//
//  1. path 를 DLQ 디렉토리 안의 staging 파일로 gzip 스트리밍 (메모리에 올리지 않음)
//  2. <prefix>/dt=/hr=/<name> 으로 업로드
//  3. 실패 → staging 파일을 DLQ 로 이동 (에러는 반환하지 않음)
//  4. 밀려 있는 DLQ 파일 몇 개를 함께 재시도
//
// 반환 에러는 로컬 I/O 실패 (원본 읽기, staging 쓰기) 뿐이다.
func (a *Archiver) Archive(ctx context.Context, path string, lines int64) (string, error) {
	name := NewFilename(a.cfg.InstanceID)
	staging := filepath.Join(a.dlq.Dir(), stagingPrefix+name)

	size, err := compressFile(path, staging)
	if err != nil {
		_ = os.Remove(staging)
		return "", err
	}

	key := BuildS3Key(a.cfg.Prefix, name)
	if uerr := a.upload(ctx, key, staging, size); uerr != nil {
		zlog.Warn().Err(uerr).Str("key", key).Msg("archive upload failed")
		if serr := a.dlq.Save(staging, DLQMeta{Source: path, Lines: lines}); serr != nil {
			_ = os.Remove(staging)
			return "", serr
		}
		return "", nil
	}

	_ = os.Remove(staging)
	atomic.AddInt64(&a.metrics.ArchiveUploadedTotal, 1)
	zlog.Info().Str("key", key).Int64("bytes", size).Int64("lines", lines).Msg("archive uploaded")

	a.dlq.Drain(ctx, dlqBatchAfterArchive)
	return key, nil
}

// Flush 는 DLQ 를 진전이 없을 때까지 비운다.
func (a *Archiver) Flush(ctx context.Context) int {
	n := a.dlq.Drain(ctx, 0)
	zlog.Info().Int("processed", n).Int64("remaining_bytes", a.dlq.Size()).Msg("DLQ flush")
	return n
}

func (a *Archiver) upload(ctx context.Context, key, path string, size int64) error {
	if a.uploader == nil {
		return fmt.Errorf("archive: no uploader")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return a.uploader.UploadFileWithRetryCtx(ctx, key, f, size)
}

// compressFile 은 src 를 gzip 으로 dst 에 쓰고 압축 후 크기를 반환한다.
func compressFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("archive: open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, fmt.Errorf("archive: create staging: %w", err)
	}

	gz := pool.GetGzip(out)
	_, cerr := io.Copy(gz, in)
	zerr := gz.Close()
	pool.PutGzip(gz)

	if cerr == nil {
		cerr = zerr
	}
	if cerr == nil {
		cerr = out.Sync()
	}
	if err := out.Close(); cerr == nil {
		cerr = err
	}
	if cerr != nil {
		return 0, fmt.Errorf("archive: compress %s: %w", src, cerr)
	}

	info, err := os.Stat(dst)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
