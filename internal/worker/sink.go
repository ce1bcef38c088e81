// internal/worker/sink.go
package worker

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	json "github.com/goccy/go-json"
	zlog "github.com/rs/zerolog/log"

	"logsweep/internal/metrics"
	"logsweep/internal/model"
)

// Format 은 destination 한 줄의 형식.
type Format uint8

const (
	// FormatText: "From <source>: <line>" / "CRITICAL FAILURE in <source>: <cause>"
	FormatText Format = iota
	// FormatJSONL: AlertMessage 를 JSON 한 줄로
	FormatJSONL
)

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return FormatText, nil
	case "jsonl", "json":
		return FormatJSONL, nil
	default:
		return FormatText, fmt.Errorf("unknown format %q", s)
	}
}

// Sink
//
// destination 파일을 단독으로 소유하는 유일한 writer.
// 메시지 하나를 쓸 때마다 flush 하므로 외부에서 tail -f 로 실시간 확인이 가능하다.
// (throughput 보다 durability 우선)
type Sink struct {
	path    string
	file    *os.File
	bw      *bufio.Writer
	format  Format
	fsync   bool
	metrics *metrics.Metrics

	ready   chan struct{}
	written int64
}

// OpenSink 는 destination 을 append 모드로 연다.
// worker 를 시작하기 전에 호출해야 하며, 실패하면 run 전체가 실패한다.
func OpenSink(path string, format Format, fsync bool, m *metrics.Metrics) (*Sink, error) {
	if m == nil {
		m = metrics.New()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sink: mkdir: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sink: open destination: %w", err)
	}

	return &Sink{
		path:    path,
		file:    f,
		bw:      bufio.NewWriter(f),
		format:  format,
		fsync:   fsync,
		metrics: m,
		ready:   make(chan struct{}),
	}, nil
}

// Ready 는 Run 이 수신 루프에 들어가면 닫힌다.
func (s *Sink) Ready() <-chan struct{} { return s.ready }

// Written 은 flush 까지 끝난 메시지 수.
func (s *Sink) Written() int64 { return atomic.LoadInt64(&s.written) }

// Run
//
// channel 을 비우면서 destination 에 기록한다.
//   - 일반 메시지: write + '\n' + flush (옵션: fsync)
//   - sentinel: destination 을 닫고 nil 반환
//   - write 실패 / sentinel 없는 close: channel 을 Abort 하고 에러 반환
//
// 반환 시점에 destination 은 항상 닫혀 있다.
func (s *Sink) Run(ch *Channel) (err error) {
	defer func() {
		if cerr := s.close(); cerr != nil && err == nil {
			err = fmt.Errorf("sink: close destination: %w", cerr)
		}
		if err != nil {
			ch.Abort()
		}
	}()

	close(s.ready)

	for {
		msg, rerr := ch.Receive()
		if rerr != nil {
			zlog.Error().Err(rerr).Str("destination", s.path).Msg("sink lost channel")
			return rerr
		}
		if msg.Sentinel {
			zlog.Debug().Int64("written", s.Written()).Msg("sink received sentinel")
			return nil
		}

		if werr := s.write(msg.Alert); werr != nil {
			atomic.AddInt64(&s.metrics.SinkWriteErrors, 1)
			return fmt.Errorf("sink: write %s: %w", s.path, werr)
		}
		atomic.AddInt64(&s.written, 1)
		atomic.AddInt64(&s.metrics.AlertsWritten, 1)
	}
}

func (s *Sink) write(a model.AlertMessage) error {
	switch s.format {
	case FormatJSONL:
		b, err := json.Marshal(a)
		if err != nil {
			return err
		}
		if _, err := s.bw.Write(b); err != nil {
			return err
		}
	default:
		if _, err := s.bw.WriteString(a.String()); err != nil {
			return err
		}
	}
	if err := s.bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := s.bw.Flush(); err != nil {
		return err
	}
	if s.fsync {
		return s.file.Sync()
	}
	return nil
}

func (s *Sink) close() error {
	if s.file == nil {
		return nil
	}
	ferr := s.bw.Flush()
	cerr := s.file.Close()
	s.file = nil
	if ferr != nil {
		return ferr
	}
	return cerr
}
