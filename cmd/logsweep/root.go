package main

import (
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"logsweep/internal/config"
	"logsweep/internal/logger"
)

// app 은 명령 하나가 실행되는 동안의 공유 상태.
// viper 인스턴스를 전역으로 두지 않아야 테스트에서 명령을 여러 번 실행할 수 있다.
type app struct {
	v       *viper.Viper
	cfgFile string
	out     io.Writer
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{v: config.NewViper(), out: out}

	root := &cobra.Command{
		Use:   "logsweep",
		Short: "Collect alert lines from many log files into one place",
		Long: `logsweep scans log files in parallel and appends every alert line
(and every file it could not read) to a single destination file.
It can also inspect just the tail of a log and show context after each hit.`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.cfgFile, "config", "c", "", "YAML config file")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.Bool("log-pretty", true, "human readable logs on stderr (false = JSON)")

	root.AddCommand(
		newAggregateCmd(a),
		newTailCmd(a),
		newArchiveCmd(a),
	)
	return root
}

// load
//
// 우선순위: flag > env(LOGSWEEP_*) > config 파일 > 기본값.
// 로거도 여기서 초기화한다 (이후 모든 로그는 config 의 level/format 을 따른다).
func (a *app) load(cmd *cobra.Command) (config.Config, error) {
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return config.Config{}, err
	}
	if err := a.v.BindPFlags(cmd.InheritedFlags()); err != nil {
		return config.Config{}, err
	}

	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return config.Config{}, err
	}
	logger.Init(cfg)
	return cfg, nil
}
