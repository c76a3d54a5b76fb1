package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/Brownie44l1/riskscore-api/internal/config"
	"github.com/Brownie44l1/riskscore-api/internal/grpcapi"
	"github.com/Brownie44l1/riskscore-api/internal/handlers"
)

// Server wires the HTTP, metrics and gRPC listeners around one set of handlers.
type Server struct {
	cfg      config.ServerConfig
	handlers *handlers.Handler
	scorer   *grpcapi.Scorer
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	router   *mux.Router
}

func New(cfg config.ServerConfig, h *handlers.Handler, scorer *grpcapi.Scorer, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		handlers: h,
		scorer:   scorer,
		gatherer: gatherer,
		logger:   logger,
		router:   mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(s.requestID, s.accessLog)

	// Preflight requests are only routed when CORS is on.
	methods := func(m string) []string { return []string{m} }
	if s.cfg.CORSOrigin != "" {
		s.router.Use(mux.CORSMethodMiddleware(s.router), s.cors)
		methods = func(m string) []string { return []string{m, http.MethodOptions} }
	}

	s.router.HandleFunc("/health", s.handlers.Health).Methods(methods(http.MethodGet)...)
	s.router.HandleFunc("/ready", s.handlers.Ready).Methods(methods(http.MethodGet)...)
	s.router.HandleFunc("/predict", s.handlers.Predict).Methods(methods(http.MethodPost)...)
	if s.cfg.MetricsAddr == "" {
		s.router.Handle("/metrics", s.metricsHandler()).Methods(http.MethodGet)
	}
}

func (s *Server) Router() http.Handler { return s.router }

func (s *Server) metricsHandler() http.Handler {
	return promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
}

// Run serves until ctx is cancelled or a listener fails, then shuts everything down.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	servers := []*http.Server{{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}}
	if s.cfg.MetricsAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", s.metricsHandler())
		servers = append(servers, &http.Server{Addr: s.cfg.MetricsAddr, Handler: metricsMux})
	}

	for _, srv := range servers {
		g.Go(func() error {
			s.logger.Info("listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	var grpcSrv *grpc.Server
	if s.cfg.GRPCAddr != "" {
		grpcSrv = grpcapi.NewServer(s.scorer)
		g.Go(func() error {
			ln, err := net.Listen("tcp", s.cfg.GRPCAddr)
			if err != nil {
				return err
			}
			s.logger.Info("grpc listening", zap.String("addr", s.cfg.GRPCAddr))
			if err := grpcSrv.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		s.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		if grpcSrv != nil {
			grpcSrv.GracefulStop()
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.cfg.CORSOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type ctxKey struct{}

// RequestID returns the id assigned to the request by the server, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
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

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", RequestID(r.Context())),
		)
	})
}
