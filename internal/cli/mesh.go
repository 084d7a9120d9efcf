package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/hupe1980/meshos"
	"github.com/hupe1980/meshos/config"
	"github.com/hupe1980/meshos/core"
	"github.com/hupe1980/meshos/internal/printer"
	"github.com/hupe1980/meshos/logging"
	"github.com/hupe1980/meshos/metrics"
	"github.com/hupe1980/meshos/model"
	"github.com/hupe1980/meshos/model/anthropic"
	"github.com/hupe1980/meshos/model/openai"
	"github.com/hupe1980/meshos/oracle"
	"github.com/hupe1980/meshos/reasoner"
	"github.com/hupe1980/meshos/store/memstore"
	"github.com/hupe1980/meshos/store/redisstore"
	"github.com/hupe1980/meshos/store/sqlite"
)

// newModel builds the oracle's model from config. Tests replace it.
var newModel = func(cfg config.OracleConfig) (model.Model, error) {
	key := cfg.ResolveAPIKey()
	switch cfg.Provider {
	case config.ProviderAnthropic:
		if key == "" {
			return nil, fmt.Errorf("anthropic oracle requires oracle.api_key or ANTHROPIC_API_KEY")
		}
		return anthropic.NewModel(func(o *anthropic.Options) {
			o.APIKey = key
			if cfg.Model != "" {
				o.Model = anthropicsdk.Model(cfg.Model)
			}
		}), nil
	case config.ProviderOpenAI:
		if key == "" {
			return nil, fmt.Errorf("openai oracle requires oracle.api_key or OPENAI_API_KEY")
		}
		return openai.NewModel(func(o *openai.Options) {
			o.APIKey = key
			if cfg.Model != "" {
				o.Model = cfg.Model
			}
		}), nil
	default:
		return nil, nil
	}
}

// meshEnv is an opened mesh plus the resources backing it.
type meshEnv struct {
	*meshos.Mesh
	repo      core.Repository
	logger    logging.Logger
	workspace string
	registry  *prometheus.Registry
	// metricsAddr is the bound address of the metrics endpoint, if any.
	metricsAddr string
	closers     []func() error
}

// Close releases resources in reverse order of acquisition.
func (e *meshEnv) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// requireWorkspace fails with a formatted error when no workspace is set.
func requireWorkspace(cmd *cobra.Command) (string, error) {
	s := settingsFrom(cmd.Context())
	if s.workspace == "" {
		return "", printer.Error(cmd.ErrOrStderr(), "No workspace selected",
			"Every durable mesh operation is scoped to a workspace.",
			nil, []string{"Pass --workspace <id>", "Set workspace in meshos.yml"})
	}
	return s.workspace, nil
}

func openMesh(cmd *cobra.Command) (*meshEnv, error) {
	s := settingsFrom(cmd.Context())
	cfg := s.cfg

	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:     logging.ParseLevel(cfg.Log.Level),
		Format:    cfg.Log.Format,
		Output:    cmd.ErrOrStderr(),
		Component: "meshctl",
		Workspace: s.workspace,
	})

	repo, closeRepo, err := openRepository(cmd.Context(), cfg.Store, logger)
	if err != nil {
		return nil, printer.Error(cmd.ErrOrStderr(), "Store unavailable", err.Error(),
			map[string]string{"Backend": cfg.Store.Backend}, nil)
	}

	m, err := newModel(cfg.Oracle)
	if err != nil {
		_ = closeRepo()
		return nil, printer.Error(cmd.ErrOrStderr(), "Oracle unavailable", err.Error(),
			map[string]string{"Provider": cfg.Oracle.Provider}, nil)
	}
	env := &meshEnv{
		repo:      repo,
		logger:    logger,
		workspace: s.workspace,
		registry:  prometheus.NewRegistry(),
		closers:   []func() error{closeRepo},
	}
	mets := metrics.New(env.registry)

	var orc core.ReasoningOracle
	if m != nil {
		orc = oracle.New(m, func(o *oracle.Options) {
			o.Timeout = cfg.Oracle.Timeout
			o.Logger = logger
			o.Metrics = mets
		})
	}

	env.Mesh = meshos.New(func(o *meshos.Options) {
		o.Repository = repo
		o.Oracle = orc
		o.Sources = fileSources(cfg.Sources, filepath.Dir(s.configPath))
		o.SourceTimeout = cfg.Mesh.SourceTimeout
		o.MaxTeamSize = cfg.Mesh.MaxTeamSize
		o.Logger = logger
		o.Metrics = mets
	})

	if cfg.Metrics.Addr != "" {
		addr, shutdown, err := serveMetrics(cfg.Metrics.Addr, env.registry, logger)
		if err != nil {
			_ = env.Close()
			return nil, printer.Error(cmd.ErrOrStderr(), "Metrics endpoint unavailable", err.Error(),
				map[string]string{"Address": cfg.Metrics.Addr}, []string{"Choose a free port with --metrics-addr"})
		}
		env.metricsAddr = addr
		env.closers = append(env.closers, shutdown)
	}

	return env, nil
}

// serveMetrics exposes reg on addr at /metrics until the returned shutdown
// function is called.
func serveMetrics(addr string, reg *prometheus.Registry, logger logging.Logger) (string, func() error, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics endpoint stopped", "error", err.Error())
		}
	}()
	logger.Info("Serving metrics", "addr", ln.Addr().String())

	shutdown := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
	return ln.Addr().String(), shutdown, nil
}

func openRepository(ctx context.Context, cfg config.StoreConfig, logger logging.Logger) (core.Repository, func() error, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		st, err := redisstore.New(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, cfg.Redis.Instance, func(o *redisstore.Options) { o.Logger = logger })
		if err != nil {
			return nil, nil, err
		}
		if err := st.Ping(ctx); err != nil {
			_ = st.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		return st, st.Close, nil
	case config.BackendSQLite:
		st, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite database %s: %w", cfg.SQLite.Path, err)
		}
		return st, st.Close, nil
	default:
		return memstore.New(), func() error { return nil }, nil
	}
}

// fileSources turns configured JSON files into collaborator sources.
// Relative paths resolve against baseDir.
func fileSources(paths config.SourcesConfig, baseDir string) map[core.System]reasoner.Source {
	sources := make(map[core.System]reasoner.Source, len(paths))
	for name, path := range paths {
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		sources[core.System(name)] = reasoner.SourceFunc(func(context.Context, string) (any, error) {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, err
			}
			return json.RawMessage(data), nil
		})
	}
	return sources
}
