package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"Evolve-Chain/internal/auth"
	"Evolve-Chain/internal/evolution"
	"Evolve-Chain/internal/notify"
	"Evolve-Chain/internal/observability/metrics"
	"Evolve-Chain/internal/oracle"
	"Evolve-Chain/internal/oracle/provider"
	"Evolve-Chain/internal/policy"
	"Evolve-Chain/internal/registry"
	"Evolve-Chain/pkg/logger"
)

// FeedCatalogue lists and opens the price feeds an operator may switch to.
type FeedCatalogue interface {
	Feeds() []provider.Feed
	Open(ctx context.Context, name string) (oracle.Oracle, error)
}

// HistoryReader returns the recorded changes of one asset.
type HistoryReader interface {
	History(ctx context.Context, assetID uint64, limit int) ([]notify.Event, error)
}

// Dependencies 汇总 API 需要的全部组件，Feeds 与 History 可以为空。
type Dependencies struct {
	Engine   *evolution.Engine
	Registry registry.Registry
	Minter   *registry.Minter
	Policy   *policy.Store
	Feeds    FeedCatalogue
	History  HistoryReader
	Auth     *auth.Service
	BaseURI  string
	Clock    func() time.Time
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr    string
	deps    Dependencies
	clock   func() time.Time
	log     *slog.Logger
	handler http.Handler
}

// NewServer 构造 API 服务实例并注册路由。
func NewServer(addr string, deps Dependencies) *Server {
	s := &Server{
		addr:  addr,
		deps:  deps,
		clock: deps.Clock,
		log:   logger.Named("api"),
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	s.handler = s.routes()
	return s
}

// Handler 返回完整的路由表，便于测试与嵌入。
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	admin := s.deps.Auth.Require(auth.PermissionAdmin)
	mux := http.NewServeMux()

	handle := func(pattern, name string, h http.HandlerFunc) {
		mux.Handle(pattern, instrument(name, h))
	}
	handleAdmin := func(pattern, name string, h http.HandlerFunc) {
		mux.Handle(pattern, instrument(name, admin(h)))
	}

	handleAdmin("POST /api/v1/assets", "mint", s.handleMint)
	handle("GET /api/v1/assets", "list_assets", s.handleListAssets)
	handle("GET /api/v1/assets/{id}", "describe", s.handleDescribe)
	handle("POST /api/v1/assets/{id}/evaluate", "evaluate", s.handleEvaluate)
	handle("GET /api/v1/assets/{id}/requirements", "requirements", s.handleRequirements)
	handle("GET /api/v1/assets/{id}/history", "history", s.handleHistory)
	handleAdmin("POST /api/v1/assets/{id}/override", "override", s.handleOverride)

	handle("GET /api/v1/policy", "get_policy", s.handleGetPolicy)
	handleAdmin("PUT /api/v1/policy/thresholds", "set_thresholds", s.handleSetThresholds)
	handleAdmin("PUT /api/v1/policy/cooldown", "set_cooldown", s.handleSetCooldown)
	handleAdmin("PUT /api/v1/policy/oracle", "set_oracle", s.handleSetOracle)
	handle("GET /api/v1/oracle/feeds", "list_feeds", s.handleListFeeds)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", "服务已关闭")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(start))
	})
}
