package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	zlog "github.com/rs/zerolog/log"
)

// Server 는 run 동안만 떠 있는 status HTTP 서버.
type Server struct {
	addr    string
	handler *Handler
	srv     *http.Server
	ln      net.Listener
}

func New(addr string, h *Handler) *Server {
	return &Server{addr: addr, handler: h}
}

func (s *Server) engine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	s.handler.Register(r)
	return r
}

// Start 는 listen 까지 동기로 하고 Serve 는 goroutine 으로 돌린다.
// addr 가 이미 사용 중이면 여기서 에러.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.srv = &http.Server{
		Handler:           s.engine(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       8 * time.Second,
		WriteTimeout:      8 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Error().Err(err).Msg("status server terminated")
		}
	}()

	zlog.Info().Str("addr", ln.Addr().String()).Msg("status server listening")
	return nil
}

// Addr 는 실제 listen 주소 (":0" 으로 띄운 경우 확인용).
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
