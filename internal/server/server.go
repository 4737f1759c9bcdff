// Package server provides the service lifecycle runner. cmd/archivebot
// delegates to server.Run for signal handling, config loading,
// observability init, health checks, and graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/aelexs/archivebot/internal/config"
	"github.com/aelexs/archivebot/internal/domain"
	"github.com/aelexs/archivebot/internal/observability"
)

// Version is stamped at build time with -ldflags.
var Version = "0.1.0"

// Env is what Setup receives: loaded config, the service logger, and the
// readiness reporter backing /readyz and the gRPC health service.
type Env struct {
	Config *config.Config
	Logger *slog.Logger
	Health *Health
}

// Deps is what Setup returns.
type Deps struct {
	// Handler is mounted under "/" after the built-in routes.
	Handler http.Handler

	// Background tasks run until ctx is cancelled. A task returning an
	// error triggers shutdown.
	Background []func(ctx context.Context) error

	// Close runs after the listeners have drained.
	Close func(ctx context.Context) error
}

// Params configures a service's lifecycle runner.
type Params struct {
	Name  string
	Setup func(ctx context.Context, env Env) (*Deps, error)

	// GRPCListener overrides the configured gRPC health listener.
	GRPCListener net.Listener
}

// Health mirrors service readiness into the gRPC health service. Liveness
// (/healthz) is independent of it.
type Health struct {
	name    string
	srv     *health.Server
	serving atomic.Bool
}

func newHealth(name string) *Health {
	h := &Health{name: name, srv: health.NewServer()}
	h.SetServing(false)
	return h
}

// SetServing flips readiness. Safe for concurrent use.
func (h *Health) SetServing(serving bool) {
	h.serving.Store(serving)
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.srv.SetServingStatus("", status)
	h.srv.SetServingStatus(h.name, status)
}

// Serving reports the last readiness value.
func (h *Health) Serving() bool {
	return h.serving.Load()
}

// Run executes the full service lifecycle: signal handling, config loading,
// observability initialization, HTTP and gRPC health servers, and graceful
// shutdown. If ln is non-nil, it is used instead of creating a new listener
// from config (enables port-0 testing).
func Run(ctx context.Context, p Params, ln net.Listener) error {
	// Signal-based cancellation: ctx.Done() closes on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.InitLogger(observability.LogConfig{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: p.Name,
		Environment: cfg.Environment,
	})

	// --- Startup order: tracer -> metrics -> setup -> listeners ---

	tracerProvider, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName:    p.Name,
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTEL.Endpoint,
		SampleRatio:    cfg.OTEL.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}

	metricsProvider, err := observability.InitMetrics(ctx, observability.MetricsConfig{
		ServiceName:    p.Name,
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTEL.Endpoint,
	})
	if err != nil {
		return fmt.Errorf("initialize metrics: %w", err)
	}

	healthState := newHealth(p.Name)

	deps := &Deps{}
	if p.Setup != nil {
		deps, err = p.Setup(ctx, Env{Config: cfg, Logger: logger, Health: healthState})
		if err != nil {
			return fmt.Errorf("setup: %w", err)
		}
	}

	var shuttingDown atomic.Bool

	router := mux.NewRouter()
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if shuttingDown.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, `{"status":"shutting_down","service":%q}`, p.Name)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","service":%q}`, p.Name)
	}).Methods(http.MethodGet)
	router.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if shuttingDown.Load() || !healthState.Serving() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, `{"status":"not_ready","service":%q}`, p.Name)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ready","service":%q}`, p.Name)
	}).Methods(http.MethodGet)
	router.Handle("/metrics", metricsProvider.Handler()).Methods(http.MethodGet)
	if deps.Handler != nil {
		router.PathPrefix("/").Handler(deps.Handler)
	}

	if ln == nil {
		ln, err = (&net.ListenConfig{}).Listen(ctx, "tcp", fmt.Sprintf(":%d", cfg.HTTP.Port))
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	grpcLn := p.GRPCListener
	if grpcLn == nil && cfg.GRPC.Port > 0 {
		grpcLn, err = (&net.ListenConfig{}).Listen(ctx, "tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("listen grpc: %w", err)
		}
	}

	httpServer := &http.Server{
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var grpcServer *grpc.Server
	if grpcLn != nil {
		grpcServer = grpc.NewServer()
		healthpb.RegisterHealthServer(grpcServer, healthState.srv)
	}

	// --- Structured concurrency via errgroup ---
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting HTTP server",
			slog.String("addr", ln.Addr().String()),
			slog.String("environment", cfg.Environment),
		)
		if serveErr := httpServer.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return serveErr
		}
		return nil
	})

	if grpcServer != nil {
		g.Go(func() error {
			logger.Info("starting gRPC health server", slog.String("addr", grpcLn.Addr().String()))
			if serveErr := grpcServer.Serve(grpcLn); serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
				return serveErr
			}
			return nil
		})
	}

	for _, task := range deps.Background {
		g.Go(func() error {
			return task(ctx)
		})
	}

	// Shutdown trigger: waits for context cancellation, then drains.
	// Order is the reverse of startup: listeners -> service -> metrics -> tracer.
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("received shutdown signal, starting graceful shutdown")

		// 1. Mark shutting down: health checks return 503
		shuttingDown.Store(true)
		healthState.srv.Shutdown()

		// 2. Drain delay: let the load balancer propagate endpoint removal
		time.Sleep(domain.ShutdownDrainDelay)

		// 3. Drain listeners
		httpCtx, httpCancel := context.WithTimeout(context.Background(), domain.ShutdownHTTPTimeout)
		defer httpCancel()
		if shutdownErr := httpServer.Shutdown(httpCtx); shutdownErr != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", shutdownErr.Error()))
		}
		if grpcServer != nil {
			stopped := make(chan struct{})
			go func() {
				grpcServer.GracefulStop()
				close(stopped)
			}()
			select {
			case <-stopped:
			case <-httpCtx.Done():
				// Health Watch streams never end on their own.
				grpcServer.Stop()
				<-stopped
			}
		}

		// 4. Release service resources
		if deps.Close != nil {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), domain.ShutdownHTTPTimeout)
			defer closeCancel()
			if closeErr := deps.Close(closeCtx); closeErr != nil {
				logger.Error("service close error", slog.String("error", closeErr.Error()))
			}
		}

		// 5. Flush OTEL (metrics first, then tracer)
		otelCtx, otelCancel := context.WithTimeout(context.Background(), domain.ShutdownOTELTimeout)
		defer otelCancel()
		if shutdownErr := metricsProvider.Shutdown(otelCtx); shutdownErr != nil {
			logger.Error("failed to shutdown metrics", slog.String("error", shutdownErr.Error()))
		}
		if shutdownErr := tracerProvider.Shutdown(otelCtx); shutdownErr != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", shutdownErr.Error()))
		}

		logger.Info("shutdown complete")
		return nil
	})

	return g.Wait()
}
