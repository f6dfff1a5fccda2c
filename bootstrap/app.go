package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"fdsengine/config"
	"fdsengine/core"
	"fdsengine/detect"
	"fdsengine/stream"
	"fdsengine/util/goroutine"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// App is the streaming detection service with all its components
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	Store  *core.RedisStore
	Rules  []*core.Rule
	Engine *detect.Engine
	Runner *stream.Runner

	reader        *kafka.Reader
	writer        *kafka.Writer
	metricsServer *http.Server
	serviceWg     sync.WaitGroup
	shutdownOnce  sync.Once
}

// StreamOptionsFromConfig maps the kafka section onto runner options
func StreamOptionsFromConfig(cfg *config.Config) stream.Options {
	k := cfg.Kafka
	return stream.Options{
		Brokers:       k.Brokers,
		GroupID:       k.GroupID,
		InputTopic:    k.InputTopic,
		IncidentTopic: k.IncidentTopic,
		BatchSize:     k.BatchSize,
		FlushInterval: k.FlushInterval,
		RateLimit:     k.RateLimit,
		Burst:         k.Burst,
	}
}

// NewApp loads configuration and wires store, rules, engine and stream runner.
// Nothing is consumed until Run is called.
func NewApp(ctx context.Context, configPath string) (*App, error) {
	cfg, err := InitConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger, sugar, err := InitLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app := &App{Config: cfg, Logger: logger, Sugar: sugar}

	sugar.Info("FDS engine starting...")
	LogConfig(cfg, sugar)

	if err := app.init(ctx); err != nil {
		app.Shutdown()
		return nil, err
	}
	return app, nil
}

func (a *App) init(ctx context.Context) error {
	rules, err := LoadRules(a.Config, a.Sugar)
	if err != nil {
		return err
	}
	a.Rules = rules

	store, err := InitRedisStore(ctx, a.Config, a.Sugar)
	if err != nil {
		return err
	}
	a.Store = store

	engine, err := InitEngine(a.Config, rules, store, a.Sugar)
	if err != nil {
		return err
	}
	a.Engine = engine

	codec, err := stream.NewCodec(a.Config.Kafka.Encoding)
	if err != nil {
		return err
	}

	opts := StreamOptionsFromConfig(a.Config)
	a.reader, err = stream.NewKafkaReader(opts, a.Sugar)
	if err != nil {
		return err
	}
	a.writer = stream.NewKafkaWriter(opts, a.Sugar)

	// a nil *kafka.Writer must stay a nil interface
	var writer stream.MessageWriter
	if a.writer != nil {
		writer = a.writer
	}
	a.Runner, err = stream.NewRunner(a.reader, writer, codec, engine, opts, a.Sugar)
	return err
}

// Run starts the metrics endpoint and consumes transactions until ctx is done.
// Cancellation is a clean stop and returns nil.
func (a *App) Run(ctx context.Context) error {
	a.startMetricsServer()

	a.Sugar.Infow("Consuming transactions",
		"topic", a.Config.Kafka.InputTopic,
		"batch_size", a.Config.Kafka.BatchSize,
		"encoding", a.Config.Kafka.Encoding)

	err := a.Runner.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) startMetricsServer() {
	if !a.Config.Metrics.Enabled {
		return
	}

	a.metricsServer = &http.Server{
		Addr:              a.Config.Metrics.Addr,
		Handler:           a.newRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	a.serviceWg.Add(1)
	go func() {
		defer a.serviceWg.Done()
		defer goroutine.Recover("metrics-server", a.Sugar)
		a.Sugar.Infow("Metrics endpoint listening", "addr", a.Config.Metrics.Addr)
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Sugar.Errorw("Metrics server failed", "error", err)
		}
	}()
}

// newRouter serves Prometheus metrics and the health check
func (a *App) newRouter() *mux.Router {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", a.handleHealth).Methods(http.MethodGet)
	return router
}

// handleHealth reports unhealthy while the store circuit breaker is open
func (a *App) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if a.Store != nil && a.Store.BreakerState() == core.BreakerOpen {
		http.Error(w, "counter store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Shutdown closes all components. It is safe to call more than once.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(a.shutdown)
}

func (a *App) shutdown() {
	a.Sugar.Info("Shutting down...")

	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			a.Sugar.Errorw("Failed to stop metrics server", "error", err)
		}
	}
	a.serviceWg.Wait()

	if a.reader != nil {
		if err := a.reader.Close(); err != nil {
			a.Sugar.Errorw("Failed to close Kafka reader", "error", err)
		}
	}
	if a.writer != nil {
		if err := a.writer.Close(); err != nil {
			a.Sugar.Errorw("Failed to close Kafka writer", "error", err)
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Sugar.Errorw("Failed to close Redis connection", "error", err)
		}
	}

	a.Sugar.Info("Shutdown complete")
	_ = a.Logger.Sync()
}
