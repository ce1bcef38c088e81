package metrics

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Metrics 는 한 번의 실행(run) 동안의 카운터 모음이다.
// 모든 필드는 atomic 으로만 갱신/조회한다.
type Metrics struct {
	// ======================
	// aggregate: 파일 / 라인
	// ======================

	// FilesDispatched: worker 에 할당된 파일 수
	FilesDispatched int64
	// FilesFailed: open/read 실패로 CRITICAL FAILURE 를 보낸 파일 수
	FilesFailed int64
	// FilesSkipped: 취소(ctx) 때문에 dispatch 되지 못한 파일 수
	FilesSkipped int64
	// LinesScanned: worker 가 predicate 에 넣어본 라인 수
	LinesScanned int64
	// DecodeAnomalies: 잘못된 바이트가 치환/제거된 라인 수 (에러 아님)
	DecodeAnomalies int64
	// LinesTruncated: MaxLineSize 를 넘어 잘린 라인 수
	LinesTruncated int64

	// ======================
	// aggregate: channel / sink
	// ======================

	// AlertsEnqueued: channel 에 들어간 메시지 수 (match + failure)
	AlertsEnqueued int64
	// AlertsWritten: sink 가 destination 에 기록하고 flush 까지 끝낸 수
	AlertsWritten int64
	// SinkWriteErrors: destination write/flush 실패 (1 이상이면 그 run 은 실패)
	SinkWriteErrors int64
	// ChannelHighWater: 관측된 channel 최대 적재량 (backpressure 확인용)
	ChannelHighWater int64

	// ======================
	// tail scan
	// ======================

	TailFilesScanned int64
	// TailFilesFailed: open/read 실패로 "Error scanning" 을 출력한 파일 수
	TailFilesFailed int64
	TailFindings    int64

	// ======================
	// archive / DLQ
	// ======================

	ArchiveUploadedTotal int64
	ArchivePutErrors     int64
	DLQFilesEnqueued     int64
	DLQFilesReuploaded   int64
	DLQFilesDropped      int64
	DLQFilesExpired      int64
	DLQFilesCurrent      int64
	DLQSizeBytes         int64
}

func New() *Metrics {
	return &Metrics{}
}

// ObserveChannelDepth 는 high-water mark 를 갱신한다.
func (m *Metrics) ObserveChannelDepth(depth int) {
	d := int64(depth)
	for {
		cur := atomic.LoadInt64(&m.ChannelHighWater)
		if d <= cur || atomic.CompareAndSwapInt64(&m.ChannelHighWater, cur, d) {
			return
		}
	}
}

func (m *Metrics) String() string {
	var sb strings.Builder
	sb.Grow(512)

	fmt.Fprintf(&sb, "files_dispatched_total=%d\n", atomic.LoadInt64(&m.FilesDispatched))
	fmt.Fprintf(&sb, "files_failed_total=%d\n", atomic.LoadInt64(&m.FilesFailed))
	fmt.Fprintf(&sb, "files_skipped_total=%d\n", atomic.LoadInt64(&m.FilesSkipped))
	fmt.Fprintf(&sb, "lines_scanned_total=%d\n", atomic.LoadInt64(&m.LinesScanned))
	fmt.Fprintf(&sb, "decode_anomalies_total=%d\n", atomic.LoadInt64(&m.DecodeAnomalies))
	fmt.Fprintf(&sb, "lines_truncated_total=%d\n", atomic.LoadInt64(&m.LinesTruncated))

	fmt.Fprintf(&sb, "alerts_enqueued_total=%d\n", atomic.LoadInt64(&m.AlertsEnqueued))
	fmt.Fprintf(&sb, "alerts_written_total=%d\n", atomic.LoadInt64(&m.AlertsWritten))
	fmt.Fprintf(&sb, "sink_write_errors_total=%d\n", atomic.LoadInt64(&m.SinkWriteErrors))
	fmt.Fprintf(&sb, "channel_high_water=%d\n", atomic.LoadInt64(&m.ChannelHighWater))

	fmt.Fprintf(&sb, "tail_files_scanned_total=%d\n", atomic.LoadInt64(&m.TailFilesScanned))
	fmt.Fprintf(&sb, "tail_files_failed_total=%d\n", atomic.LoadInt64(&m.TailFilesFailed))
	fmt.Fprintf(&sb, "tail_findings_total=%d\n", atomic.LoadInt64(&m.TailFindings))

	fmt.Fprintf(&sb, "archive_uploaded_total=%d\n", atomic.LoadInt64(&m.ArchiveUploadedTotal))
	fmt.Fprintf(&sb, "archive_put_errors_total=%d\n", atomic.LoadInt64(&m.ArchivePutErrors))
	fmt.Fprintf(&sb, "dlq_files_enqueued_total=%d\n", atomic.LoadInt64(&m.DLQFilesEnqueued))
	fmt.Fprintf(&sb, "dlq_files_reuploaded_total=%d\n", atomic.LoadInt64(&m.DLQFilesReuploaded))
	fmt.Fprintf(&sb, "dlq_files_dropped_total=%d\n", atomic.LoadInt64(&m.DLQFilesDropped))
	fmt.Fprintf(&sb, "dlq_files_expired_total=%d\n", atomic.LoadInt64(&m.DLQFilesExpired))
	fmt.Fprintf(&sb, "dlq_files_current=%d\n", atomic.LoadInt64(&m.DLQFilesCurrent))
	fmt.Fprintf(&sb, "dlq_size_bytes=%d\n", atomic.LoadInt64(&m.DLQSizeBytes))

	return sb.String()
}
