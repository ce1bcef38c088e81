package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"logsweep/internal/config"
	"logsweep/internal/metrics"
	"logsweep/internal/model"
	"logsweep/internal/server"
	"logsweep/internal/worker"
)

func newAggregateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aggregate [paths or globs...]",
		Short: "Scan log files in parallel and append alerts to one destination",
		Long: `Every line containing a keyword is appended to the destination as
"From <source>: <line>". Files that cannot be read are reported as
"CRITICAL FAILURE in <source>: <cause>" and the remaining files are still scanned.

Examples:
  logsweep aggregate a.log b.log
  logsweep aggregate "/var/log/**/*.log" -d alerts.log -w 8
  logsweep aggregate app.log --print`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load(cmd)
			if err != nil {
				return err
			}
			return a.runAggregate(cmd.Context(), cfg, args)
		},
	}

	f := cmd.Flags()
	f.IntP("workers", "w", 0, "parallel workers (0 = CPU-1)")
	f.Int("channel-size", 1024, "capacity of the alert channel")
	f.StringSliceP("keywords", "k", []string{"ERROR"}, "case-sensitive keywords that mark an alert line")
	f.StringP("destination", "d", "central_alerts.log", "destination file (appended)")
	f.String("format", "text", "destination format: text, jsonl")
	f.Bool("fsync", false, "fsync the destination after every alert")
	f.String("decode-mode", "replace", "invalid UTF-8 handling: replace, ignore")
	f.Int("max-line-size", 0, "truncate lines longer than this many bytes (0 = default)")
	f.Int("read-buffer", 0, "read buffer size per file (0 = default)")
	f.Bool("print", false, `print every line as "Processing log entry: <line>"`)
	f.String("status-addr", "", "serve /health, /metrics and /status on this address during the run")
	f.Bool("archive", false, "gzip the destination and upload it to S3 after the run")
	f.String("bucket", "", "S3 bucket for --archive")
	f.String("prefix", "alerts", "S3 key prefix for --archive")
	f.String("aws-region", "us-east-1", "AWS region for --archive")
	return cmd
}

// runAggregate
//
//  1. 인자 확장 (glob → 파일 목록)
//  2. 선택: status 서버 기동
//  3. Manager.Run (SIGINT/SIGTERM → 새 파일 dispatch 중단, 진행 중인 파일은 끝까지)
//  4. 선택: destination 아카이브 (S3, 실패 시 로컬 DLQ)
func (a *app) runAggregate(parent context.Context, cfg config.Config, args []string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	paths, err := expandPaths(args)
	if err != nil {
		return err
	}
	sources := make([]model.LogSource, len(paths))
	for i, p := range paths {
		sources[i] = model.LogSource(p)
	}

	opts, err := worker.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	if cfg.PrintLines {
		opts.OnLine = linePrinter(a)
	}

	m := metrics.New()
	mgr := worker.NewManager(opts, m)

	if cfg.StatusAddr != "" {
		srv := server.New(cfg.StatusAddr, server.NewHandler(cfg, m, mgr))
		if err := srv.Start(); err != nil {
			return fmt.Errorf("status server: %w", err)
		}
		defer func() {
			if err := srv.Stop(context.Background()); err != nil {
				zlog.Warn().Err(err).Msg("status server shutdown")
			}
		}()
	}

	sum, runErr := mgr.Run(ctx, sources)
	zlog.Debug().Msg("metrics\n" + m.String())
	if runErr != nil {
		return runErr
	}
	if sum.Skipped > 0 {
		zlog.Warn().Int("skipped", sum.Skipped).Msg("run interrupted, some files were not scanned")
	}

	if cfg.Archive {
		// 취소된 ctx 로는 업로드가 바로 끝나버리므로 별도 ctx 를 쓴다
		actx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := archiveDestination(actx, cfg, m, sum.Written); err != nil {
			return err
		}
	}
	return nil
}

// linePrinter 는 --print 용 OnLine. 여러 worker 가 동시에 부르므로 한 줄 단위로 직렬화한다.
func linePrinter(a *app) func(model.LogLine) {
	var mu sync.Mutex
	return func(l model.LogLine) {
		mu.Lock()
		fmt.Fprintf(a.out, "Processing log entry: %s\n", l.Text)
		mu.Unlock()
	}
}

func archiveDestination(ctx context.Context, cfg config.Config, m *metrics.Metrics, lines int64) error {
	up, err := worker.NewS3Uploader(ctx, cfg, m)
	if err != nil {
		return err
	}
	arc, err := worker.NewArchiver(cfg, m, up)
	if err != nil {
		return err
	}
	key, err := arc.Archive(ctx, cfg.Destination, lines)
	if err != nil {
		return err
	}
	if key == "" {
		zlog.Warn().Str("dlq", cfg.DLQDir).Msg("archive kept in DLQ, run 'logsweep archive flush' later")
	}
	return nil
}

// expandPaths
//
// glob 문자가 있는 인자는 doublestar 로 확장하고 (** 지원), 나머지는 그대로 둔다.
// 그대로 둔 경로가 없는 파일이면 run 에서 CRITICAL FAILURE 로 보고된다.
// 같은 파일이 여러 번 나오면 처음 한 번만 남긴다.
func expandPaths(args []string) ([]string, error) {
	seen := make(map[string]struct{}, len(args))
	var out []string
	add := func(p string) {
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}

	for _, arg := range args {
		if !strings.ContainsAny(arg, "*?[{") {
			add(arg)
			continue
		}
		matches, err := doublestar.FilepathGlob(arg, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", arg, err)
		}
		if len(matches) == 0 {
			zlog.Warn().Str("pattern", arg).Msg("no files matched")
		}
		for _, p := range matches {
			add(p)
		}
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("no input files matched %v", args)
	}
	return out, nil
}
