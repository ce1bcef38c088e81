package server

import (
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"logsweep/internal/config"
	"logsweep/internal/metrics"
	"logsweep/internal/worker"
)

// StateSource 는 파이프라인 단계를 알려주는 쪽. (*worker.Manager)
type StateSource interface {
	State() worker.State
}

type Handler struct {
	cfg     config.Config
	metrics *metrics.Metrics
	run     StateSource
	started time.Time
}

func NewHandler(cfg config.Config, m *metrics.Metrics, run StateSource) *Handler {
	return &Handler{
		cfg:     cfg,
		metrics: m,
		run:     run,
		started: time.Now(),
	}
}

// Register 는 라우트를 붙인다.
func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/health", h.HandleHealth)
	r.GET("/metrics", h.HandleMetrics)
	r.GET("/status", h.HandleStatus)
}

// HandleHealth: 프로세스가 살아 있으면 항상 200 "ok".
func (h *Handler) HandleHealth(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// HandleMetrics
//
// 카운터를 key=value 줄로 출력한다. run 이 끝난 뒤에도 마지막 값이 그대로 보인다.
func (h *Handler) HandleMetrics(c *gin.Context) {
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Status(http.StatusOK)
	_, _ = io.WriteString(c.Writer, h.metrics.String())
}

// HandleStatus 는 현재 단계와 핵심 카운터를 JSON 으로.
func (h *Handler) HandleStatus(c *gin.Context) {
	state := worker.StateIdle
	if h.run != nil {
		state = h.run.State()
	}

	c.JSON(http.StatusOK, gin.H{
		"service":           h.cfg.ServiceName,
		"instance":          h.cfg.InstanceID,
		"state":             state.String(),
		"uptime":            time.Since(h.started).String(),
		"files_dispatched":  atomic.LoadInt64(&h.metrics.FilesDispatched),
		"files_failed":      atomic.LoadInt64(&h.metrics.FilesFailed),
		"alerts_enqueued":   atomic.LoadInt64(&h.metrics.AlertsEnqueued),
		"alerts_written":    atomic.LoadInt64(&h.metrics.AlertsWritten),
		"channel_highwater": atomic.LoadInt64(&h.metrics.ChannelHighWater),
	})
}
