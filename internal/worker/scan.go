// internal/worker/scan.go
package worker

import (
	"strings"
	"sync/atomic"

	zlog "github.com/rs/zerolog/log"

	"logsweep/internal/model"
	"logsweep/internal/reader"
)

// Predicate 는 라인이 알림 대상인지 판단한다.
// 여러 worker 에서 동시에 호출되므로 상태를 갖지 않아야 한다.
type Predicate func(model.LogLine) bool

// KeywordPredicate 는 keywords 중 하나라도 포함하면 true (대소문자 구분).
// keywords 가 비어 있으면 "ERROR".
func KeywordPredicate(keywords ...string) Predicate {
	kw := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k != "" {
			kw = append(kw, k)
		}
	}
	if len(kw) == 0 {
		kw = []string{"ERROR"}
	}
	return func(l model.LogLine) bool {
		for _, k := range kw {
			if strings.Contains(l.Text, k) {
				return true
			}
		}
		return false
	}
}

// scanFile
//
// worker 하나가 파일 하나를 처리한다.
//  1. reader 로 연다 (실패 → CRITICAL FAILURE 한 건 보내고 종료)
//  2. predicate 에 걸린 라인을 즉시 channel 로 보낸다 (worker 는 아무것도 쌓아두지 않음)
//  3. 도중 read 실패 → 그때까지 보낸 매치는 유지, CRITICAL FAILURE 한 건 추가
//
// 파일 단위 실패는 nil 을 반환하므로 다른 worker 에 영향을 주지 않는다.
// 에러를 반환하는 경우는 sink 가 죽어 channel 이 Abort 된 경우뿐이다.
func (m *Manager) scanFile(src model.LogSource) error {
	atomic.AddInt64(&m.metrics.FilesDispatched, 1)

	r, err := reader.Open(string(src), m.readerOpts...)
	if err != nil {
		return m.reportFailure(src, err)
	}
	defer r.Close()

	var scanned int64
	defer func() {
		atomic.AddInt64(&m.metrics.LinesScanned, scanned)
		atomic.AddInt64(&m.metrics.DecodeAnomalies, r.Anomalies())
		atomic.AddInt64(&m.metrics.LinesTruncated, r.Truncated())
	}()

	for r.Next() {
		line := r.Line()
		scanned++

		if m.opts.OnLine != nil {
			m.opts.OnLine(line)
		}
		if !m.opts.Predicate(line) {
			continue
		}

		if err := m.ch.Send(model.NewMatch(line)); err != nil {
			return err
		}
		atomic.AddInt64(&m.run.matches, 1)
		atomic.AddInt64(&m.metrics.AlertsEnqueued, 1)
	}

	if err := r.Err(); err != nil {
		return m.reportFailure(src, err)
	}
	return nil
}

// reportFailure 는 파일 단위 실패를 CRITICAL FAILURE 메시지로 바꿔 sink 로 보낸다.
func (m *Manager) reportFailure(src model.LogSource, err error) error {
	atomic.AddInt64(&m.run.failed, 1)
	atomic.AddInt64(&m.metrics.FilesFailed, 1)

	zlog.Warn().
		Err(err).
		Str("path", string(src)).
		Str("kind", reader.KindOf(err).String()).
		Msg("file failed")

	if serr := m.ch.Send(model.NewFailure(src, err)); serr != nil {
		return serr
	}
	atomic.AddInt64(&m.metrics.AlertsEnqueued, 1)
	return nil
}
