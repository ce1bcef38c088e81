// internal/config/config.go
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"logsweep/internal/reader"
)

// EnvPrefix 는 모든 환경변수 앞에 붙는다. 예: LOGSWEEP_WORKERS=8
const EnvPrefix = "LOGSWEEP"

// Config
//
// 실행 시 필요한 모든 설정 값을 보관하는 구조체.
// Load() 에서 기본값 → 설정 파일 → 환경변수 → CLI flag 순으로 덮어쓰며,
// 이후에는 변경되지 않는 read-only 값이다.
type Config struct {

	// ---------------------------
	// 서비스 식별 / 로깅
	// ---------------------------

	ServiceName string `mapstructure:"service-name"`
	InstanceID  string `mapstructure:"instance-id"` // 호스트명 기반, 실패 시 랜덤 hex
	LogLevel    string `mapstructure:"log-level"`
	LogPretty   bool   `mapstructure:"log-pretty"`
	LogSampleN  uint32 `mapstructure:"log-sample-n"` // debug/info 샘플링 (1 이하면 전부 기록)

	// ---------------------------
	// aggregate 파이프라인
	// ---------------------------

	Workers      int      `mapstructure:"workers"`      // 0 이면 CPU-1 (최소 1)
	ChannelSize  int      `mapstructure:"channel-size"` // coordination channel 용량 (blocking enqueue)
	Keywords     []string `mapstructure:"keywords"`     // 대소문자 구분 substring
	Destination  string   `mapstructure:"destination"`  // 중앙 알림 파일
	Format       string   `mapstructure:"format"`       // text | jsonl
	Fsync        bool     `mapstructure:"fsync"`        // 매 write 마다 fsync
	DecodeMode   string   `mapstructure:"decode-mode"`  // replace | ignore
	MaxLineSize  int      `mapstructure:"max-line-size"`
	ReadBuffer   int      `mapstructure:"read-buffer"`
	PrintLines   bool     `mapstructure:"print"`       // 모든 라인을 stdout 으로 흘려보냄
	StatusAddr   string   `mapstructure:"status-addr"` // 비어있으면 status 서버 비활성

	// ---------------------------
	// tail scan
	// ---------------------------

	WindowSize     int      `mapstructure:"window"`
	ContextLines   int      `mapstructure:"context"`
	TailKeywords   []string `mapstructure:"tail-keywords"` // 대소문자 무시
	TailDecodeMode string   `mapstructure:"tail-decode-mode"`
	Color          bool     `mapstructure:"color"`

	// ---------------------------
	// archive (S3 + 로컬 DLQ)
	// ---------------------------
	// S3 SDK retry 는 0 으로 고정하고, 재시도는 S3AppRetries 로만 제어한다.

	Archive      bool          `mapstructure:"archive"`
	AWSRegion    string        `mapstructure:"aws-region"`
	Bucket       string        `mapstructure:"bucket"`
	Prefix       string        `mapstructure:"prefix"`
	S3Timeout    time.Duration `mapstructure:"s3-timeout"`
	S3AppRetries int           `mapstructure:"s3-app-retries"`

	DLQDir          string        `mapstructure:"dlq-dir"`
	DLQMaxAge       time.Duration `mapstructure:"dlq-max-age"`
	DLQMaxSizeBytes int64         `mapstructure:"dlq-max-size-bytes"`
}

// SetDefaults 는 v 에 기본값을 등록한다.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("service-name", "logsweep")
	v.SetDefault("instance-id", "")
	v.SetDefault("log-level", "info")
	v.SetDefault("log-pretty", true)
	v.SetDefault("log-sample-n", 1)

	v.SetDefault("workers", 0)
	v.SetDefault("channel-size", 1024)
	v.SetDefault("keywords", []string{"ERROR"})
	v.SetDefault("destination", "central_alerts.log")
	v.SetDefault("format", "text")
	v.SetDefault("fsync", false)
	v.SetDefault("decode-mode", "replace")
	v.SetDefault("max-line-size", reader.DefaultMaxLineSize)
	v.SetDefault("read-buffer", reader.DefaultBufferSize)
	v.SetDefault("print", false)
	v.SetDefault("status-addr", "")

	v.SetDefault("window", 500)
	v.SetDefault("context", 2)
	v.SetDefault("tail-keywords", []string{"ERROR", "FAILURE"})
	v.SetDefault("tail-decode-mode", "ignore")
	v.SetDefault("color", false)

	v.SetDefault("archive", false)
	v.SetDefault("aws-region", "us-east-1")
	v.SetDefault("bucket", "")
	v.SetDefault("prefix", "alerts")
	v.SetDefault("s3-timeout", 30*time.Second)
	v.SetDefault("s3-app-retries", 3)
	v.SetDefault("dlq-dir", ".logsweep-dlq")
	v.SetDefault("dlq-max-age", 72*time.Hour)
	v.SetDefault("dlq-max-size-bytes", int64(1<<30))
}

// NewViper 는 기본값과 환경변수 바인딩이 끝난 viper 인스턴스를 만든다.
// 환경변수는 LOGSWEEP_ + 대문자, '-' 는 '_' 로 바뀐다. 예: LOGSWEEP_CHANNEL_SIZE
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// Load
//
// v 에서 Config 를 읽고 파생 값(Workers, InstanceID)을 채운 뒤 검증한다.
// configFile 이 주어지면 먼저 읽는다 (없는 파일이면 에러).
func Load(v *viper.Viper, configFile string) (Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers()
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = fallbackInstanceID()
	}
	cfg.Keywords = splitList(cfg.Keywords)
	cfg.TailKeywords = splitList(cfg.TailKeywords)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate 는 잘못된 값을 실행 전에 걸러낸다 (fail-fast).
func (c Config) Validate() error {
	var errs []error

	if c.ChannelSize <= 0 {
		errs = append(errs, fmt.Errorf("channel-size must be positive, got %d", c.ChannelSize))
	}
	if c.WindowSize <= 0 {
		errs = append(errs, fmt.Errorf("window must be positive, got %d", c.WindowSize))
	}
	if c.ContextLines < 0 {
		errs = append(errs, fmt.Errorf("context must not be negative, got %d", c.ContextLines))
	}
	if strings.TrimSpace(c.Destination) == "" {
		errs = append(errs, errors.New("destination is empty"))
	}
	switch c.Format {
	case "text", "jsonl":
	default:
		errs = append(errs, fmt.Errorf("unknown format %q (text|jsonl)", c.Format))
	}
	if _, err := reader.ParseMode(c.DecodeMode); err != nil {
		errs = append(errs, err)
	}
	if _, err := reader.ParseMode(c.TailDecodeMode); err != nil {
		errs = append(errs, err)
	}
	if c.Archive && strings.TrimSpace(c.Bucket) == "" {
		errs = append(errs, errors.New("archive requires bucket"))
	}
	if c.Archive && c.S3AppRetries <= 0 {
		errs = append(errs, fmt.Errorf("s3-app-retries must be positive, got %d", c.S3AppRetries))
	}

	return errors.Join(errs...)
}

// DefaultWorkers
//
// CPU 하나는 sink 전용으로 남겨두고 나머지를 worker 에 준다.
// 1 코어 환경에서도 최소 1.
func DefaultWorkers() int {
	n := runtime.NumCPU() - 1
	if n < 1 {
		n = 1
	}
	return n
}

// splitList 는 env 로 들어온 "A,B" 형태도 풀어준다.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// fallbackInstanceID
//
// 이 프로세스를 식별하는 고유 값 (archive 파일명에 들어간다).
//   - 기본: hostname
//   - fallback: 12자리 랜덤 hex
func fallbackInstanceID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	var b [6]byte
	if _, err := rand.Read(b[:]); err == nil {
		return hex.EncodeToString(b[:])
	}
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}
