// internal/logger/log.go
package logger

import (
	"io"
	"os"
	"strings"

	stdlog "log"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"logsweep/internal/config"
)

// Init
//
// 프로세스 시작 시 한 번 호출한다.
// stdout 은 tail 리포트 / --print 출력이 쓰므로 로그는 항상 stderr 로 보낸다.
//
//   - LogPretty=true : 사람이 보는 콘솔 포맷 (기본값, CLI 사용 기준)
//   - LogPretty=false: JSON 한 줄 (수집기로 보낼 때)
//
// 모든 로그에 service / instance 필드가 붙는다.
// Warn 이상은 샘플링하지 않는다.
func Init(cfg config.Config) {
	var w io.Writer = os.Stderr
	if cfg.LogPretty {
		w = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05",
		}
	}

	zlog.Logger = New(cfg, w)
	zerolog.SetGlobalLevel(zlog.Logger.GetLevel())

	// 표준 log 패키지를 쓰는 라이브러리 출력도 zerolog 로 모은다
	stdlog.SetFlags(0)
	stdlog.SetOutput(zlog.Logger)
}

// New 는 전역 상태를 건드리지 않고 w 로 쓰는 logger 를 만든다.
func New(cfg config.Config, w io.Writer) zerolog.Logger {
	level := zerolog.InfoLevel
	if l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.LogLevel))); err == nil && l != zerolog.NoLevel {
		level = l
	}

	base := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("instance", cfg.InstanceID).
		Logger()

	if cfg.LogSampleN > 1 {
		// Debug/Info: N 개 중 1 개만 기록, Warn/Error: 전부 기록
		return base.Sample(&zerolog.LevelSampler{
			DebugSampler: &zerolog.BasicSampler{N: cfg.LogSampleN},
			InfoSampler:  &zerolog.BasicSampler{N: cfg.LogSampleN},
		})
	}
	return base
}
