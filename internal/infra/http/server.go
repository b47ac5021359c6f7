package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// DefaultRequestTimeout ограничивает обработку одного запроса.
const DefaultRequestTimeout = 60 * time.Second

// writeSlack — запас WriteTimeout сверх времени обработки, чтобы ответ успел уйти клиенту.
const writeSlack = 5 * time.Second

// Option настраивает Server.
type Option func(*Server)

// WithRequestTimeout задаёт предел обработки запроса. WriteTimeout сервера всегда больше него.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.requestTimeout = d
		}
	}
}

// Server оборачивает chi.Router с базовыми middlewares.
type Server struct {
	Router chi.Router
	log    zerolog.Logger

	requestTimeout time.Duration

	mu  sync.Mutex
	srv *http.Server
}

// NewServer создаёт HTTP сервер. limiter может быть nil.
func NewServer(logger zerolog.Logger, limiter *RateLimiter, opts ...Option) *Server {
	s := &Server{log: logger, requestTimeout: DefaultRequestTimeout}
	for _, opt := range opts {
		opt(s)
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.requestTimeout))
	if limiter != nil {
		r.Use(limiter.Middleware)
	}
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.Router = r
	return s
}

// WriteTimeout возвращает WriteTimeout http.Server.
func (s *Server) WriteTimeout() time.Duration {
	return s.requestTimeout + writeSlack
}

// Start слушает addr и блокируется до остановки.
func (s *Server) Start(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.log.Info().Str("addr", addr).Msg("HTTP сервер запущен")
	return s.Serve(l)
}

// Serve обслуживает запросы на готовом listener.
func (s *Server) Serve(l net.Listener) error {
	srv := &http.Server{
		Handler:      s.Router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: s.WriteTimeout(),
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()
	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown позволяет корректно завершить работу.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// RequestLogger пишет одну строку лога на запрос.
func RequestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("http: запрос обработан")
		})
	}
}
