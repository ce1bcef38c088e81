package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"logsweep/internal/config"
	"logsweep/internal/metrics"
	"logsweep/internal/model"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	s := strings.TrimSuffix(string(b), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func runWithTimeout(t *testing.T, mgr *Manager, ctx context.Context, srcs []model.LogSource) (Summary, error) {
	t.Helper()
	type result struct {
		sum Summary
		err error
	}
	done := make(chan result, 1)
	go func() {
		sum, err := mgr.Run(ctx, srcs)
		done <- result{sum, err}
	}()
	select {
	case r := <-done:
		return r.sum, r.err
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
		return Summary{}, nil
	}
}

func TestState_String(t *testing.T) {
	cases := map[State]string{
		StateIdle:           "idle",
		StateWorkersRunning: "workers_running",
		StateDraining:       "draining",
		StateStopped:        "stopped",
		State(9):            "unknown",
	}
	for s, want := range cases {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}

func TestRun_SingleFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	writeFile(t, "a.log", "INFO start\nERROR disk full\nINFO done\n")

	mgr := NewManager(Options{Workers: 2, Destination: "central_alerts.log"}, nil)
	if mgr.State() != StateIdle {
		t.Fatalf("initial state = %v", mgr.State())
	}

	sum, err := runWithTimeout(t, mgr, context.Background(), []model.LogSource{"a.log"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := readLines(t, "central_alerts.log")
	want := []string{"From a.log: ERROR disk full"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("destination = %q, want %q", got, want)
	}
	if sum.Matches != 1 || sum.Written != 1 || sum.Failed != 0 {
		t.Errorf("summary = %+v", sum)
	}
	if mgr.State() != StateStopped || sum.State != StateStopped {
		t.Errorf("state = %v / %v", mgr.State(), sum.State)
	}
}

func TestRun_ManyFiles(t *testing.T) {
	dir := t.TempDir()
	const files = 12
	const perFile = 40

	var srcs []model.LogSource
	for f := 0; f < files; f++ {
		var sb strings.Builder
		for i := 0; i < perFile*2; i++ {
			if i%2 == 0 {
				fmt.Fprintf(&sb, "ERROR f%d n%03d\n", f, i/2)
			} else {
				fmt.Fprintf(&sb, "INFO f%d filler\n", f)
			}
		}
		p := filepath.Join(dir, fmt.Sprintf("f%02d.log", f))
		writeFile(t, p, sb.String())
		srcs = append(srcs, model.LogSource(p))
	}

	dest := filepath.Join(dir, "central.log")
	m := metrics.New()
	mgr := NewManager(Options{Workers: 4, ChannelSize: 3, Destination: dest}, m)

	sum, err := runWithTimeout(t, mgr, context.Background(), srcs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	lines := readLines(t, dest)
	if len(lines) != files*perFile {
		t.Fatalf("lines = %d, want %d", len(lines), files*perFile)
	}
	if sum.Written != files*perFile || m.AlertsWritten != files*perFile {
		t.Errorf("written = %d / %d", sum.Written, m.AlertsWritten)
	}

	// 파일별 순서 유지
	next := map[int]int{}
	for _, l := range lines {
		var f, n int
		idx := strings.Index(l, ": ERROR ")
		if idx < 0 {
			t.Fatalf("unexpected line %q", l)
		}
		if _, err := fmt.Sscanf(l[idx+2:], "ERROR f%d n%d", &f, &n); err != nil {
			t.Fatalf("parse %q: %v", l, err)
		}
		if n != next[f] {
			t.Fatalf("file %d: got n%03d, want n%03d", f, n, next[f])
		}
		next[f]++
	}

	if m.ChannelHighWater > 3 {
		t.Errorf("high water %d exceeds capacity", m.ChannelHighWater)
	}
	if m.LinesScanned != files*perFile*2 {
		t.Errorf("LinesScanned = %d", m.LinesScanned)
	}
}

func TestRun_UnreadableFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	writeFile(t, "ok.log", "ERROR one\n")

	m := metrics.New()
	mgr := NewManager(Options{Workers: 2, Destination: "central.log"}, m)
	sum, err := runWithTimeout(t, mgr, context.Background(), []model.LogSource{"missing.log", "ok.log"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	lines := readLines(t, "central.log")
	if len(lines) != 2 {
		t.Fatalf("lines = %q", lines)
	}
	var failures int
	for _, l := range lines {
		if strings.HasPrefix(l, "CRITICAL FAILURE in missing.log: not found") {
			failures++
		}
	}
	if failures != 1 {
		t.Errorf("failure lines = %d in %q", failures, lines)
	}
	if sum.Failed != 1 || m.FilesFailed != 1 {
		t.Errorf("failed = %d / %d", sum.Failed, m.FilesFailed)
	}
}

func TestRun_NoMatches(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "quiet.log")
	writeFile(t, src, "INFO a\nWARN b\nerror lowercase\n")
	dest := filepath.Join(dir, "central.log")

	mgr := NewManager(Options{Workers: 1, Destination: dest}, nil)
	sum, err := runWithTimeout(t, mgr, context.Background(), []model.LogSource{model.LogSource(src)})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Written != 0 {
		t.Errorf("written = %d", sum.Written)
	}
	if lines := readLines(t, dest); len(lines) != 0 {
		t.Errorf("destination = %q", lines)
	}
}

func TestRun_EmptySourceList(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "central.log")
	mgr := NewManager(Options{Workers: 3, Destination: dest}, nil)
	sum, err := runWithTimeout(t, mgr, context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if sum.State != StateStopped || sum.Files != 0 {
		t.Errorf("summary = %+v", sum)
	}
	if _, err := os.Stat(dest); err != nil {
		t.Errorf("destination not created: %v", err)
	}
}

// sentinel 은 가장 느린 worker 가 끝난 뒤에만 들어간다.
func TestRun_SlowWorkerBarrier(t *testing.T) {
	dir := t.TempDir()
	fast := filepath.Join(dir, "fast.log")
	slow := filepath.Join(dir, "slow.log")
	writeFile(t, fast, "ERROR fast\n")
	writeFile(t, slow, "INFO wait\nERROR slow late\n")

	var mu sync.Mutex
	var stateAtSlow []State
	var mgr *Manager
	mgr = NewManager(Options{
		Workers:     2,
		Destination: filepath.Join(dir, "central.log"),
		OnLine: func(l model.LogLine) {
			if l.Source == model.LogSource(slow) && l.Number == 1 {
				time.Sleep(150 * time.Millisecond)
				mu.Lock()
				stateAtSlow = append(stateAtSlow, mgr.State())
				mu.Unlock()
			}
		},
	}, nil)

	sum, err := runWithTimeout(t, mgr, context.Background(), []model.LogSource{model.LogSource(fast), model.LogSource(slow)})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Written != 2 {
		t.Fatalf("written = %d, want 2", sum.Written)
	}

	lines := readLines(t, filepath.Join(dir, "central.log"))
	if len(lines) != 2 || !strings.HasSuffix(lines[1], "ERROR slow late") {
		t.Errorf("destination = %q", lines)
	}
	if len(stateAtSlow) != 1 || stateAtSlow[0] != StateWorkersRunning {
		t.Errorf("state while slow worker ran = %v", stateAtSlow)
	}
}

func TestRun_CancelledContextSkipsFiles(t *testing.T) {
	dir := t.TempDir()
	var srcs []model.LogSource
	for i := 0; i < 5; i++ {
		p := filepath.Join(dir, fmt.Sprintf("%d.log", i))
		writeFile(t, p, "ERROR x\n")
		srcs = append(srcs, model.LogSource(p))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := metrics.New()
	mgr := NewManager(Options{Workers: 2, Destination: filepath.Join(dir, "central.log")}, m)
	sum, err := runWithTimeout(t, mgr, ctx, srcs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Skipped != 5 || m.FilesSkipped != 5 {
		t.Errorf("skipped = %d / %d, want 5", sum.Skipped, m.FilesSkipped)
	}
	if sum.State != StateStopped {
		t.Errorf("state = %v", sum.State)
	}
}

// 자리가 빌 때까지 기다리는 동안 취소되면 더 이상 dispatch 하지 않는다.
func TestRun_CancelWhileWaitingForSlot(t *testing.T) {
	dir := t.TempDir()
	var srcs []model.LogSource
	for i := 0; i < 5; i++ {
		p := filepath.Join(dir, fmt.Sprintf("%d.log", i))
		writeFile(t, p, "ERROR x\n")
		srcs = append(srcs, model.LogSource(p))
	}

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	mgr := NewManager(Options{
		Workers:     1,
		Destination: filepath.Join(dir, "central.log"),
		OnLine: func(model.LogLine) {
			once.Do(func() {
				close(started)
				<-release
			})
		},
	}, m)

	type result struct {
		sum Summary
		err error
	}
	done := make(chan result, 1)
	go func() {
		sum, err := mgr.Run(ctx, srcs)
		done <- result{sum, err}
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first worker never started")
	}
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(release)

	var r result
	select {
	case r = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
	}
	if r.err != nil {
		t.Fatalf("Run: %v", r.err)
	}
	if r.sum.Skipped != 4 || m.FilesSkipped != 4 {
		t.Errorf("skipped = %d / %d, want 4", r.sum.Skipped, m.FilesSkipped)
	}
	if m.FilesDispatched != 1 {
		t.Errorf("FilesDispatched = %d, want 1", m.FilesDispatched)
	}
	if r.sum.Written != 1 {
		t.Errorf("written = %d, want the in-flight file's match", r.sum.Written)
	}
}

func TestRun_DestinationOpenFailure(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "dest-is-dir")
	if err := os.Mkdir(dest, 0o755); err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(dir, "a.log")
	writeFile(t, src, "ERROR x\n")

	var called atomic.Int32
	mgr := NewManager(Options{
		Workers:     1,
		Destination: dest,
		OnLine:      func(model.LogLine) { called.Add(1) },
	}, nil)

	sum, err := runWithTimeout(t, mgr, context.Background(), []model.LogSource{model.LogSource(src)})
	if err == nil {
		t.Fatal("expected error")
	}
	if called.Load() != 0 {
		t.Error("workers ran although destination could not be opened")
	}
	if sum.State != StateStopped {
		t.Errorf("state = %v", sum.State)
	}
}

func TestRun_Twice(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "central.log")
	mgr := NewManager(Options{Workers: 1, Destination: dest}, nil)
	if _, err := runWithTimeout(t, mgr, context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Run(context.Background(), nil); !errors.Is(err, ErrAlreadyRun) {
		t.Errorf("second Run = %v, want ErrAlreadyRun", err)
	}
}

func TestKeywordPredicate(t *testing.T) {
	p := KeywordPredicate()
	if !p(model.LogLine{Text: "x ERROR y"}) || p(model.LogLine{Text: "error"}) {
		t.Error("default predicate should be case-sensitive ERROR")
	}

	p = KeywordPredicate("", "PANIC", "FATAL")
	if !p(model.LogLine{Text: "FATAL boom"}) || p(model.LogLine{Text: "ERROR"}) {
		t.Error("custom keywords not honored")
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Config{
		Workers:     3,
		ChannelSize: 16,
		Keywords:    []string{"WARN"},
		Destination: "d.log",
		Format:      "jsonl",
		DecodeMode:  "ignore",
	}
	opts, err := OptionsFromConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if opts.Workers != 3 || opts.ChannelSize != 16 || opts.Format != FormatJSONL {
		t.Errorf("opts = %+v", opts)
	}
	if !opts.Predicate(model.LogLine{Text: "WARN x"}) {
		t.Error("predicate should match WARN")
	}

	cfg.Format = "csv"
	if _, err := OptionsFromConfig(cfg); err == nil {
		t.Error("expected error for unknown format")
	}
}
