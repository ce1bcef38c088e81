// internal/worker/dlq.go
package worker

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	zlog "github.com/rs/zerolog/log"

	"logsweep/internal/config"
	"logsweep/internal/metrics"
)

const (
	metaSuffix    = ".meta.json"
	stagingPrefix = ".staging-"
)

// DLQMeta 는 data 파일 옆에 .meta.json 으로 남는 정보.
type DLQMeta struct {
	Source  string `json:"source"`  // 원본 destination 경로
	Lines   int64  `json:"lines"`   // 아카이브에 담긴 알림 줄 수
	Created int64  `json:"created"` // unix seconds
}

// DLQManager 는 업로드에 실패한 아카이브를 로컬 디스크에 보관하고 재업로드한다.
// TTL 판단은 파일명 prefix 의 unix timestamp 기준.
type DLQManager struct {
	cfg      config.Config
	metrics  *metrics.Metrics
	uploader *S3Uploader

	// 현재 DLQ 디렉토리의 data 파일 총 바이트 수 / 개수
	dlqSizeBytes int64
	dlqFiles     int64
}

// NewDLQManager 는 DLQ 디렉토리를 만들고 기존 파일로 gauge 를 복원한다.
// data 없는 meta 와 남아 있는 staging 파일은 지운다.
func NewDLQManager(cfg config.Config, m *metrics.Metrics, uploader *S3Uploader) (*DLQManager, error) {
	if err := os.MkdirAll(cfg.DLQDir, 0o755); err != nil {
		return nil, fmt.Errorf("dlq: mkdir: %w", err)
	}
	if m == nil {
		m = metrics.New()
	}

	d := &DLQManager{cfg: cfg, metrics: m, uploader: uploader}

	entries, err := os.ReadDir(cfg.DLQDir)
	if err != nil {
		return nil, fmt.Errorf("dlq: read dir: %w", err)
	}

	for _, e := range entries {
		name := e.Name()
		full := filepath.Join(cfg.DLQDir, name)

		switch {
		case e.IsDir():
		case strings.HasPrefix(name, stagingPrefix):
			_ = os.Remove(full)
		case strings.HasSuffix(name, metaSuffix):
			dataName := strings.TrimSuffix(name, metaSuffix)
			if _, err := os.Stat(filepath.Join(cfg.DLQDir, dataName)); os.IsNotExist(err) {
				_ = os.Remove(full)
			}
		}
	}

	d.resync()
	return d, nil
}

// adjust 는 로컬 gauge 와 metrics gauge 를 같이 움직인다.
func (d *DLQManager) adjust(files, bytes int64) {
	atomic.AddInt64(&d.dlqFiles, files)
	atomic.AddInt64(&d.dlqSizeBytes, bytes)
	atomic.AddInt64(&d.metrics.DLQFilesCurrent, files)
	atomic.AddInt64(&d.metrics.DLQSizeBytes, bytes)
}

// resync 는 디렉토리를 다시 세어 gauge 를 실제 값에 맞춘다.
// 밖에서 파일이 지워졌을 때 gauge 가 부풀어 있지 않도록.
func (d *DLQManager) resync() {
	entries, err := os.ReadDir(d.cfg.DLQDir)
	if err != nil {
		return
	}

	var total, count int64
	for _, e := range entries {
		if !isDataFile(e) {
			continue
		}
		if info, err := e.Info(); err == nil {
			total += info.Size()
			count++
		}
	}

	d.adjust(count-atomic.LoadInt64(&d.dlqFiles), total-atomic.LoadInt64(&d.dlqSizeBytes))
}

// isDataFile: meta / staging / 숨김 파일이 아닌 일반 파일
func isDataFile(e os.DirEntry) bool {
	name := e.Name()
	return !e.IsDir() && name != "" && name[0] != '.' && !strings.HasSuffix(name, metaSuffix)
}

// Dir 는 DLQ 디렉토리. staging 파일도 여기에 만든다 (rename 이 같은 파일시스템 안에서 끝나도록).
func (d *DLQManager) Dir() string { return d.cfg.DLQDir }

// Size 는 현재 DLQ data 파일 총 바이트 수.
func (d *DLQManager) Size() int64 { return atomic.LoadInt64(&d.dlqSizeBytes) }

// Save 는 업로드 실패한 gzip 파일 src 를 DLQ 로 옮긴다.
// 용량이 부족하면 오래된 파일부터 지우고, 그래도 안 되면 src 를 버린다 (에러 아님).
func (d *DLQManager) Save(src string, meta DLQMeta) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("dlq: stat %s: %w", src, err)
	}
	size := info.Size()

	if !d.ensureCapacity(size) {
		zlog.Error().Int64("bytes", size).Str("source", meta.Source).Msg("DLQ full, archive dropped")
		atomic.AddInt64(&d.metrics.DLQFilesDropped, 1)
		return os.Remove(src)
	}

	filename := NewFilename(d.cfg.InstanceID)
	dataPath := filepath.Join(d.cfg.DLQDir, filename)

	if err := os.Rename(src, dataPath); err != nil {
		return fmt.Errorf("dlq: move %s: %w", src, err)
	}

	if meta.Created == 0 {
		meta.Created = nowFunc().Unix()
	}
	if b, err := json.Marshal(meta); err == nil {
		_ = os.WriteFile(dataPath+metaSuffix, b, 0o600)
	}

	d.adjust(1, size)
	atomic.AddInt64(&d.metrics.DLQFilesEnqueued, 1)

	zlog.Warn().Str("file", filename).Int64("bytes", size).Msg("archive saved to DLQ")
	return nil
}

// ensureCapacity 는 DLQMaxSizeBytes 를 넘지 않도록 가장 오래된 파일부터 지운다.
// 지울 파일이 더 없는데도 모자라면 false.
func (d *DLQManager) ensureCapacity(incoming int64) bool {
	max := d.cfg.DLQMaxSizeBytes
	if max <= 0 {
		return true
	}

	if atomic.LoadInt64(&d.dlqSizeBytes)+incoming > max {
		// 지우기 전에 실제 크기부터 확인한다
		d.resync()
	}

	for {
		if atomic.LoadInt64(&d.dlqSizeBytes)+incoming <= max {
			return true
		}

		oldest := d.pickOldest()
		if oldest == "" {
			return false
		}

		d.remove(oldest)
		atomic.AddInt64(&d.metrics.DLQFilesExpired, 1)
		zlog.Warn().Str("removed", oldest).Msg("DLQ capacity")
	}
}

// remove 는 data/meta 를 지우고 gauge 를 줄인다.
func (d *DLQManager) remove(name string) {
	dataPath := filepath.Join(d.cfg.DLQDir, name)
	info, err := os.Stat(dataPath)
	_ = os.Remove(dataPath)
	_ = os.Remove(dataPath + metaSuffix)
	if err != nil {
		d.resync()
		return
	}
	d.adjust(-1, -info.Size())
}

// ProcessOneCtx
//
// 가장 오래된 파일 하나를 처리한다.
//   - TTL 초과: 삭제
//   - gzip 이 깨져 있음: <prefix>-dlq 로 업로드
//   - 정상: <prefix> 로 업로드
//
// 처리할 파일이 없거나 업로드에 실패하면 false (호출자는 거기서 멈춘다).
func (d *DLQManager) ProcessOneCtx(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}

	name := d.pickOldest()
	if name == "" {
		return false
	}
	dataPath := filepath.Join(d.cfg.DLQDir, name)

	info, err := os.Stat(dataPath)
	if err != nil {
		// 사라진 파일은 meta 만 정리하고 gauge 를 디렉토리에 다시 맞춘다
		_ = os.Remove(dataPath + metaSuffix)
		d.resync()
		return true
	}
	size := info.Size()

	if d.cfg.DLQMaxAge > 0 {
		if sec, ok := extractUnixFromFilename(name); ok {
			age := time.Duration(nowFunc().Unix()-sec) * time.Second
			if age > d.cfg.DLQMaxAge {
				d.remove(name)
				atomic.AddInt64(&d.metrics.DLQFilesExpired, 1)
				zlog.Info().Str("file", name).Dur("age", age).Msg("DLQ TTL expired")
				return true
			}
		}
	}

	if d.uploader == nil {
		return false
	}

	f, err := os.Open(dataPath)
	if err != nil {
		zlog.Warn().Err(err).Str("file", name).Msg("DLQ open failed")
		return false
	}
	defer f.Close()

	prefix := d.cfg.Prefix
	valid := validateGzip(f)
	if !valid {
		prefix += "-dlq"
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		zlog.Warn().Err(err).Str("file", name).Msg("DLQ seek failed")
		return false
	}

	key := BuildS3Key(prefix, name)
	if err := d.uploader.UploadFileWithRetryCtx(ctx, key, f, size); err != nil {
		zlog.Warn().Err(err).Str("key", key).Msg("DLQ reupload failed")
		return false
	}

	_ = f.Close()
	d.remove(name)
	atomic.AddInt64(&d.metrics.DLQFilesReuploaded, 1)
	atomic.AddInt64(&d.metrics.ArchiveUploadedTotal, 1)

	zlog.Info().Str("key", key).Bool("valid", valid).Msg("DLQ reupload success")
	return true
}

// Drain 은 ProcessOneCtx 가 진전이 없을 때까지 반복한다. 처리한 파일 수를 반환.
func (d *DLQManager) Drain(ctx context.Context, limit int) int {
	n := 0
	for limit <= 0 || n < limit {
		if !d.ProcessOneCtx(ctx) {
			break
		}
		n++
	}
	return n
}

// validateGzip 은 파일 전체를 풀어본다. 끝까지 읽히면 정상.
func validateGzip(r io.Reader) bool {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return false
	}
	defer gz.Close()
	_, err = io.Copy(io.Discard, gz)
	return err == nil
}

// pickOldest 는 파일명(= timestamp) 순으로 가장 오래된 data 파일.
// ReadDir 순서를 믿지 않고 직접 정렬한다.
func (d *DLQManager) pickOldest() string {
	entries, err := os.ReadDir(d.cfg.DLQDir)
	if err != nil {
		return ""
	}

	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if isDataFile(e) {
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return ""
	}

	sort.Strings(files)
	return files[0]
}

// extractUnixFromFilename: "<unix>_<instance>_<counter>.log.gz" 의 <unix>.
func extractUnixFromFilename(name string) (int64, bool) {
	idx := strings.IndexByte(name, '_')
	if idx <= 0 {
		return 0, false
	}
	sec, err := strconv.ParseInt(name[:idx], 10, 64)
	if err != nil || sec <= 0 {
		return 0, false
	}
	return sec, true
}
