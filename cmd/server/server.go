package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/agent-publisher/pkg/config"
	"github.com/agent-publisher/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// HealthReporter 健康检查所需的运行状态（由 *agent.Agent 实现）
type HealthReporter interface {
	Running() bool
	Plugins() int
}

// StateReporter 可选：返回调度器状态名
type StateReporter interface {
	StateName() string
}

// Server HTTP服务实例，封装核心依赖和配置
type Server struct {
	cfg      config.ServerConfig
	logger   *logger.Logger
	server   *http.Server
	gatherer prometheus.Gatherer
	health   HealthReporter
	mux      *customMux
	addr     string
}

// statusWriter 包装ResponseWriter，捕获状态码
type statusWriter struct {
	http.ResponseWriter
	status int
}

// customMux 自定义Mux，兼容原生用法并记录路由
type customMux struct {
	http.ServeMux
	routes []string
	mu     sync.Mutex
}

const defaultShutdownTimeout = 5 * time.Second

// Handle 重写Handle，注册路由时记录路径
func (m *customMux) Handle(pattern string, handler http.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, route := range m.routes {
		if route == pattern {
			m.ServeMux.Handle(pattern, handler)
			return
		}
	}

	m.routes = append(m.routes, pattern)
	m.ServeMux.Handle(pattern, handler)
}

// HandleFunc 重写HandleFunc
func (m *customMux) HandleFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	m.Handle(pattern, http.HandlerFunc(handler))
}

// NewHTTPServer 创建HTTP服务实例
func NewHTTPServer(cfg config.ServerConfig, log *logger.Logger, gatherer prometheus.Gatherer, health HealthReporter) *Server {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	mux := &customMux{}

	srv := &Server{
		cfg:      cfg,
		logger:   log,
		gatherer: gatherer,
		health:   health,
		mux:      mux,
	}

	// 注册核心端点
	srv.registerEndpoints()

	srv.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      srv.logMiddleware(mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return srv
}

// Handler 带日志中间件的路由（测试使用）
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Addr 实际监听地址，Start 之前为配置值
func (s *Server) Addr() string {
	if s.addr != "" {
		return s.addr
	}
	return s.cfg.Addr
}

// logMiddleware 统一日志记录
func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		s.logger.Debug(
			"HTTP request",
			zap.String("method", r.Method),
			zap.String("url", r.URL.String()),
			zap.String("remote", r.RemoteAddr),
			zap.Int("status", sw.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// healthBody /health 响应体
type healthBody struct {
	Status  string `json:"status"`
	State   string `json:"state,omitempty"`
	Plugins int    `json:"plugins"`
}

// registerEndpoints 注册核心路由
func (s *Server) registerEndpoints() {
	// 根路径 / 显示 HTML 页面，包含可点击的链接
	s.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)

		html := fmt.Sprintf(`
		<!DOCTYPE html>
		<html lang="zh-CN">
		<head>
			<meta charset="UTF-8">
			<title>Agent Publisher</title>
			<style>
				body { font-family: Arial, sans-serif; margin: 40px; }
				h1 { color: #333; }
				a { display: block; margin: 8px 0; font-size: 18px; }
			</style>
		</head>
		<body>
			<h1>Agent Publisher</h1>
			<p>Loaded plugins: %d</p>
			<h2>Available Endpoints:</h2>
			<a href="/health">/health - 健康检查</a>
			<a href="/metrics">/metrics - Prometheus 指标暴露</a>
		</body>
		</html>
		`, s.plugins())
		_, _ = w.Write([]byte(html))
	})

	// /metrics 端点
	s.mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(s.logger),
	}))

	// /health 端点：调度器运行中返回 200，否则 503
	s.mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		body := healthBody{Status: "unavailable", Plugins: s.plugins()}
		code := http.StatusServiceUnavailable
		if s.health != nil && s.health.Running() {
			body.Status = "ok"
			code = http.StatusOK
		}
		if sr, ok := s.health.(StateReporter); ok {
			body.State = sr.StateName()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(body)
	})
}

func (s *Server) plugins() int {
	if s.health == nil {
		return 0
	}
	return s.health.Plugins()
}

// WriteHeader 捕获状态码
func (w *statusWriter) WriteHeader(statusCode int) {
	w.status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// Start 启动HTTP服务（非阻塞）；监听失败同步返回
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.addr = ln.Addr().String()
	s.logger.Info(
		"starting HTTP server",
		zap.String("listen_addr", s.addr),
		zap.Strings("handle_funcs", s.mux.routes),
	)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown 优雅关闭HTTP服务
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			s.logger.Warn("shutdown timeout exceeded")
			return nil
		}
		s.logger.Error("HTTP server shutdown failed", zap.Error(err))
		return err
	}

	s.logger.Info("HTTP server shutdown successfully")
	return nil
}
