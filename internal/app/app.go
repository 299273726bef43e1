package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"twingate/internal/domain"
	"twingate/internal/infra/discovery"
	"twingate/internal/infra/executor"
	"twingate/internal/infra/httpapi"
	"twingate/internal/infra/registry"
	"twingate/internal/infra/security"
	"twingate/internal/infra/store"
	"twingate/internal/infra/telemetry"
)

// App wires the gateway together and runs it.
type App struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{logger: logger}
}

func (a *App) openStore(ctx context.Context, cfg Config) (store.ToolStore, error) {
	switch cfg.Store.Backend {
	case "bolt":
		return store.NewBoltStore(cfg.Store.BoltPath, a.logger)
	default:
		return store.NewRedisStore(ctx, cfg.Store.RedisURL, a.logger)
	}
}

// Serve runs the gateway until ctx is cancelled. Startup is fail-fast:
// an unreachable store, a bad security configuration or a failed
// initial plugin scan abort the process instead of serving a gateway
// that silently lost its tools.
func (a *App) Serve(ctx context.Context, cfg Config) error {
	st, err := a.openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	reg, err := registry.Load(ctx, st, a.logger)
	if err != nil {
		return err
	}

	promRegistry := prometheus.NewRegistry()
	metrics := telemetry.NewPrometheusMetrics(promRegistry)

	libs := executor.NewLibraryCache(a.logger)
	libExec := executor.NewSharedLibExecutor(libs, a.logger)
	wasmExec := executor.NewWASMExecutor(a.logger)
	componentExec := executor.NewComponentExecutor(a.logger)
	httpExec := executor.NewHTTPExecutor(cfg.Executor.HTTPTimeout, a.logger)
	pool := executor.NewBlockingPool(cfg.Executor.PoolSize)

	dispatcher := executor.NewDispatcher(reg, httpExec, libExec, wasmExec, componentExec, pool, metrics, a.logger)

	sigMode, err := security.ParseSignatureMode(cfg.Security.SignatureMode)
	if err != nil {
		return err
	}
	verifier, err := security.NewManifestVerifier(sigMode, cfg.Security.SigningKey, a.logger)
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)

	if cfg.Plugins.AutoDiscover {
		watcher := discovery.NewWatcher(discovery.WatcherConfig{
			Root:     cfg.Plugins.Dir,
			Registry: reg,
			Verifier: verifier,
			Spawner:  security.NewSpawner(cfg.Security.Sandbox, a.logger),
			Libs:     libs,
			LibExec:  libExec,
			WasmExec: wasmExec,
			Logger:   a.logger,
			Debounce: cfg.Plugins.RescanDebounce,
		})
		group.Go(func() error {
			err := watcher.Run(groupCtx)
			if err == context.Canceled || groupCtx.Err() != nil {
				return nil
			}
			return err
		})
	}

	api := httpapi.NewServer(reg, dispatcher, promRegistry, a.logger)
	group.Go(func() error {
		return api.Serve(groupCtx, cfg.ListenAddress)
	})

	a.logger.Info("gateway started",
		zap.String("listen", cfg.ListenAddress),
		zap.String("store", cfg.Store.Backend),
		zap.Bool("auto_discover", cfg.Plugins.AutoDiscover),
		zap.String("signature_mode", string(sigMode)),
		zap.Bool("sandbox", cfg.Security.Sandbox))

	return group.Wait()
}

// ValidateManifests parses and validates every plugin manifest under
// dir without touching the registry or spawning anything. Used by the
// validate command; returns the first problem found per plugin but
// checks all of them.
func (a *App) ValidateManifests(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return domain.E(domain.CodeConfiguration, "app.validate",
			fmt.Sprintf("read plugin dir %s", dir), err)
	}

	var failed int
	var checked int
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		manifestPath := filepath.Join(dir, entry.Name(), discovery.ManifestFileName)
		if _, err := os.Stat(manifestPath); err != nil {
			continue
		}
		checked++
		manifest, err := discovery.LoadManifest(manifestPath)
		if err != nil {
			failed++
			a.logger.Error("manifest invalid",
				zap.String("manifest", manifestPath),
				zap.Error(err))
			continue
		}
		a.logger.Info("manifest ok",
			zap.String("manifest", manifestPath),
			zap.String("plugin", manifest.Plugin.Name),
			zap.String("type", string(manifest.Plugin.Type)),
			zap.Int("declared_tools", len(manifest.Tools)))
	}

	if failed > 0 {
		return domain.E(domain.CodeConfiguration, "app.validate",
			fmt.Sprintf("%d of %d manifests invalid", failed, checked), nil)
	}
	a.logger.Info("all manifests valid", zap.Int("checked", checked))
	return nil
}
