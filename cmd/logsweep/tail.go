package main

import (
	"sync/atomic"

	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"logsweep/internal/config"
	"logsweep/internal/metrics"
	"logsweep/internal/reader"
	"logsweep/internal/tailscan"
)

func newTailCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail [paths or globs...]",
		Short: "Inspect the last lines of each file and show context after matches",
		Long: `For every file, only the last --window lines are inspected.
Each line containing a keyword (case-insensitive) is printed as "Found: <line>"
followed by up to --context lines as "--> <line>".

Examples:
  logsweep tail /var/log/syslog
  logsweep tail app.log -n 1000 --context 3 --color`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load(cmd)
			if err != nil {
				return err
			}
			return a.runTail(cfg, args)
		},
	}

	f := cmd.Flags()
	f.IntP("window", "n", tailscan.DefaultWindow, "number of trailing lines to inspect")
	f.Int("context", tailscan.DefaultContext, "lines of context after each match")
	f.StringSlice("tail-keywords", tailscan.DefaultKeywords, "case-insensitive keywords")
	f.String("tail-decode-mode", "ignore", "invalid UTF-8 handling: ignore, replace")
	f.Bool("color", false, "highlight matches (only when writing to a terminal)")
	return cmd
}

func (a *app) runTail(cfg config.Config, args []string) error {
	paths, err := expandPaths(args)
	if err != nil {
		return err
	}
	mode, err := reader.ParseMode(cfg.TailDecodeMode)
	if err != nil {
		return err
	}

	s := tailscan.NewScanner(
		tailscan.WithWindow(cfg.WindowSize),
		tailscan.WithContext(cfg.ContextLines),
		tailscan.WithKeywords(cfg.TailKeywords...),
		tailscan.WithDecodeMode(mode),
	)

	style := tailscan.StylePlain
	if cfg.Color {
		style = tailscan.StyleColor
	}

	m := metrics.New()
	recordTail(m, tailscan.ScanAll(s, paths, a.out, style))

	zlog.Info().
		Int64("files", atomic.LoadInt64(&m.TailFilesScanned)).
		Int64("failed", atomic.LoadInt64(&m.TailFilesFailed)).
		Int64("findings", atomic.LoadInt64(&m.TailFindings)).
		Msg("tail scan complete")
	return nil
}

// recordTail 은 ScanAll 결과를 tail 전용 카운터에 반영한다.
// TailFilesScanned 는 끝까지 scan 된 파일만 센다.
func recordTail(m *metrics.Metrics, sum tailscan.Summary) {
	atomic.AddInt64(&m.TailFilesScanned, int64(sum.Files-sum.Failed))
	atomic.AddInt64(&m.TailFilesFailed, int64(sum.Failed))
	atomic.AddInt64(&m.TailFindings, int64(sum.Findings))
}
