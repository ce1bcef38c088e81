// internal/worker/manager.go
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	zlog "github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"logsweep/internal/config"
	"logsweep/internal/metrics"
	"logsweep/internal/model"
	"logsweep/internal/reader"
)

// ErrAlreadyRun: Manager 는 한 번만 Run 할 수 있다.
var ErrAlreadyRun = errors.New("manager already ran")

// State 는 aggregate 파이프라인의 진행 단계.
//
//	Idle → WorkersRunning → Draining → Stopped
type State int32

const (
	StateIdle State = iota
	StateWorkersRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWorkersRunning:
		return "workers_running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Options 는 Manager 실행 파라미터.
type Options struct {
	Workers     int       // 동시 worker 수 (1 이상)
	ChannelSize int       // coordination channel 용량
	Predicate   Predicate // nil 이면 KeywordPredicate("ERROR")
	Destination string
	Format      Format
	Fsync       bool
	DecodeMode  reader.Mode
	MaxLineSize int
	ReadBuffer  int

	// OnLine 은 모든 라인에 대해 호출된다 (여러 worker 에서 동시에).
	OnLine func(model.LogLine)
}

// OptionsFromConfig 는 Config 를 Options 로 변환한다.
func OptionsFromConfig(cfg config.Config) (Options, error) {
	format, err := ParseFormat(cfg.Format)
	if err != nil {
		return Options{}, err
	}
	mode, err := reader.ParseMode(cfg.DecodeMode)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Workers:     cfg.Workers,
		ChannelSize: cfg.ChannelSize,
		Predicate:   KeywordPredicate(cfg.Keywords...),
		Destination: cfg.Destination,
		Format:      format,
		Fsync:       cfg.Fsync,
		DecodeMode:  mode,
		MaxLineSize: cfg.MaxLineSize,
		ReadBuffer:  cfg.ReadBuffer,
	}, nil
}

// Summary 는 한 번의 Run 결과.
type Summary struct {
	Files   int   // 입력 파일 수
	Failed  int64 // CRITICAL FAILURE 로 보고된 파일 수
	Skipped int   // 취소로 dispatch 되지 않은 파일 수
	Matches int64 // predicate 매치 수
	Written int64 // destination 에 기록된 줄 수 (= Matches + Failed, 정상 종료 시)
	State   State
	Elapsed time.Duration
}

type runStats struct {
	matches int64
	failed  int64
}

// Manager 는 aggregate 파이프라인 전체를 제어한다.
//
// 구성:
//   - Sink: destination 단독 writer, 별도 goroutine
//   - Channel: worker → sink 단일 통로 (bounded, blocking enqueue)
//   - worker pool: errgroup + Workers 크기의 slot channel, 파일 하나당 task 하나
//
// 종료 순서는 항상 "모든 worker 종료 → sentinel 1회 → sink 종료 대기" 이다.
type Manager struct {
	opts       Options
	metrics    *metrics.Metrics
	readerOpts []reader.Option

	ch    *Channel
	run   runStats
	state atomic.Int32

	runOnce sync.Once
}

func NewManager(opts Options, m *metrics.Metrics) *Manager {
	if opts.Workers < 1 {
		opts.Workers = config.DefaultWorkers()
	}
	if opts.ChannelSize < 1 {
		opts.ChannelSize = 1024
	}
	if opts.Predicate == nil {
		opts.Predicate = KeywordPredicate()
	}
	if m == nil {
		m = metrics.New()
	}

	return &Manager{
		opts:    opts,
		metrics: m,
		readerOpts: []reader.Option{
			reader.WithDecodeMode(opts.DecodeMode),
			reader.WithMaxLineSize(opts.MaxLineSize),
			reader.WithBufferSize(opts.ReadBuffer),
		},
	}
}

// State 는 현재 단계. 다른 goroutine 에서 언제든 조회 가능.
func (m *Manager) State() State { return State(m.state.Load()) }

func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
	zlog.Debug().Str("state", s.String()).Msg("pipeline state")
}

// Run
//
// sources 를 병렬로 scan 해서 모든 알림을 destination 에 기록한다.
//
//  1. Idle → WorkersRunning
//     destination 을 열고 sink goroutine 이 수신 루프에 들어간 것을 확인한 뒤에만 worker 를 띄운다.
//  2. WorkersRunning → Draining
//     errgroup.Wait() 로 모든 worker 종료를 기다린다 (barrier).
//     ctx 가 취소되면 새 파일 dispatch 만 멈추고, 실행 중인 worker 는 끝까지 돈다.
//  3. Draining → Stopped
//     sentinel 을 정확히 한 번 넣고 sink 종료를 기다린다.
//
// destination open/write 실패는 run 전체의 에러로 반환된다.
// 파일 단위 실패는 에러가 아니라 CRITICAL FAILURE 라인으로 남는다.
func (m *Manager) Run(ctx context.Context, sources []model.LogSource) (Summary, error) {
	first := false
	m.runOnce.Do(func() { first = true })
	if !first {
		return Summary{State: m.State()}, ErrAlreadyRun
	}

	start := time.Now()
	sum := Summary{Files: len(sources)}

	sink, err := OpenSink(m.opts.Destination, m.opts.Format, m.opts.Fsync, m.metrics)
	if err != nil {
		m.setState(StateStopped)
		sum.State = StateStopped
		return sum, err
	}

	m.ch = NewChannel(m.opts.ChannelSize, m.metrics)

	sinkDone := make(chan error, 1)
	go func() { sinkDone <- sink.Run(m.ch) }()
	<-sink.Ready()

	zlog.Info().
		Int("files", len(sources)).
		Int("workers", m.opts.Workers).
		Int("channel_size", m.opts.ChannelSize).
		Str("destination", m.opts.Destination).
		Msg("aggregation started")

	// --- WorkersRunning ---
	m.setState(StateWorkersRunning)

	// errgroup 은 에러 전파와 취소만 맡고, 동시 실행 수는 slots 로 제한한다.
	// SetLimit 의 g.Go 대기는 취소를 보지 못하므로 자리를 직접 select 로 기다린다.
	g, gctx := errgroup.WithContext(ctx)
	slots := make(chan struct{}, m.opts.Workers)

	for i, src := range sources {
		if !m.acquire(gctx, slots) {
			sum.Skipped = len(sources) - i
			atomic.AddInt64(&m.metrics.FilesSkipped, int64(sum.Skipped))
			zlog.Warn().Int("skipped", sum.Skipped).Msg("dispatch stopped")
			break
		}
		src := src
		g.Go(func() error {
			defer func() { <-slots }()
			return m.scanFile(src)
		})
	}

	werr := g.Wait()

	// --- Draining ---
	m.setState(StateDraining)
	if err := m.ch.SendSentinel(); err != nil && !errors.Is(err, ErrSinkStopped) {
		zlog.Error().Err(err).Msg("sentinel enqueue failed")
	}

	serr := <-sinkDone

	// --- Stopped ---
	m.setState(StateStopped)

	sum.Failed = atomic.LoadInt64(&m.run.failed)
	sum.Matches = atomic.LoadInt64(&m.run.matches)
	sum.Written = sink.Written()
	sum.State = StateStopped
	sum.Elapsed = time.Since(start)

	zlog.Info().
		Int64("matches", sum.Matches).
		Int64("failed", sum.Failed).
		Int("skipped", sum.Skipped).
		Int64("written", sum.Written).
		Dur("elapsed", sum.Elapsed).
		Msg("aggregation complete")

	if serr != nil {
		return sum, serr
	}
	if werr != nil && !errors.Is(werr, ErrSinkStopped) {
		return sum, fmt.Errorf("worker: %w", werr)
	}
	return sum, nil
}

// acquire 는 worker 자리 하나를 잡는다. 그 전에 ctx 가 끝나면 false.
func (m *Manager) acquire(ctx context.Context, slots chan struct{}) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case slots <- struct{}{}:
	case <-ctx.Done():
		return false
	}
	// 자리와 취소가 동시에 준비됐던 경우
	if ctx.Err() != nil {
		<-slots
		return false
	}
	return true
}
