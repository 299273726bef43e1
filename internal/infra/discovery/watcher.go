package discovery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"twingate/internal/domain"
	"twingate/internal/infra/executor"
	"twingate/internal/infra/registry"
	"twingate/internal/infra/security"
)

const defaultRescanDebounce = 500 * time.Millisecond

// Locator prefixes written into registered tools for in-process
// backends. The execution side resolves them back to paths.
const (
	sharedLibScheme = "sharedlib://"
	wasmScheme      = "wasm://"
	componentScheme = "wasm-component://"
)

// libRegistrar and wasmRegistrar are the registration-phase surfaces
// of the in-process executors.
type libRegistrar interface {
	RegisterTools(libPath string) ([]domain.ToolDefinition, error)
}

type wasmRegistrar interface {
	RegisterTools(ctx context.Context, modulePath string) ([]domain.ToolDefinition, error)
}

// Watcher scans a plugin root directory for plugin subdirectories and
// keeps the registry's global scope in sync with what it finds. One
// manifest per plugin directory; tools discovered this way are owned
// by the watcher and unregistered when their manifest disappears.
type Watcher struct {
	root     string
	reg      *registry.Registry
	verifier *security.ManifestVerifier
	spawner  *security.Spawner
	libs     *executor.LibraryCache
	libExec  libRegistrar
	wasmExec wasmRegistrar
	logger   *zap.Logger
	debounce time.Duration

	// owned maps manifest path to the tool names it registered. spawned
	// remembers which binaries are already running so rescans do not
	// fork duplicates.
	owned   map[string][]string
	spawned map[string]bool
}

type WatcherConfig struct {
	Root     string
	Registry *registry.Registry
	Verifier *security.ManifestVerifier
	Spawner  *security.Spawner
	Libs     *executor.LibraryCache
	LibExec  libRegistrar
	WasmExec wasmRegistrar
	Logger   *zap.Logger
	Debounce time.Duration
}

func NewWatcher(cfg WatcherConfig) *Watcher {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultRescanDebounce
	}
	return &Watcher{
		root:     cfg.Root,
		reg:      cfg.Registry,
		verifier: cfg.Verifier,
		spawner:  cfg.Spawner,
		libs:     cfg.Libs,
		libExec:  cfg.LibExec,
		wasmExec: cfg.WasmExec,
		logger:   logger.Named("discovery"),
		debounce: debounce,
		owned:    make(map[string][]string),
		spawned:  make(map[string]bool),
	}
}

// Scan walks the plugin root once and reconciles the registry with the
// manifests found. Per-plugin failures are logged and skipped; only an
// unreadable root is an error. Scan is not safe for concurrent use;
// Run serializes all calls on one goroutine.
func (w *Watcher) Scan(ctx context.Context) error {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return domain.E(domain.CodeConfiguration, "discovery.scan",
			fmt.Sprintf("read plugin root %s", w.root), err)
	}

	seen := make(map[string][]string)
	keepLibs := make(map[string]struct{})
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pluginDir := filepath.Join(w.root, entry.Name())
		manifestPath := filepath.Join(pluginDir, ManifestFileName)
		if _, err := os.Stat(manifestPath); err != nil {
			continue
		}
		tools, lib := w.processPlugin(ctx, pluginDir, manifestPath)
		seen[manifestPath] = tools
		if lib != "" {
			keepLibs[lib] = struct{}{}
		}
	}

	w.reconcile(ctx, seen)
	w.libs.UnloadExcept(keepLibs)
	return nil
}

// processPlugin handles one plugin directory and returns the tool
// names it registered plus the canonical shared library path it needs
// loaded, if any. Failures drop the plugin from this cycle but leave
// its previously registered tools alone until reconcile sees the
// manifest as gone.
func (w *Watcher) processPlugin(ctx context.Context, pluginDir, manifestPath string) ([]string, string) {
	manifest, err := LoadManifest(manifestPath)
	if err != nil {
		w.logger.Warn("skipping plugin with bad manifest",
			zap.String("manifest", manifestPath), zap.Error(err))
		return w.owned[manifestPath], ""
	}
	if err := w.verifier.Verify(ctx, manifestPath); err != nil {
		w.logger.Warn("skipping plugin that failed signature verification",
			zap.String("plugin", manifest.Plugin.Name), zap.Error(err))
		return w.owned[manifestPath], ""
	}

	switch manifest.Plugin.Type {
	case domain.PluginTypeConfigOnly:
		return w.registerManifestTools(ctx, manifest, manifest.Plugin.PluginURL), ""
	case domain.PluginTypeBinary:
		return w.registerBinary(ctx, pluginDir, manifestPath, manifest), ""
	case domain.PluginTypeSharedLib:
		return w.registerSharedLib(ctx, pluginDir, manifestPath, manifest)
	case domain.PluginTypeWasm:
		return w.registerWasm(ctx, pluginDir, manifestPath, manifest), ""
	case domain.PluginTypeComponentWasm:
		return w.registerComponent(ctx, pluginDir, manifest), ""
	default:
		return nil, ""
	}
}

// registerManifestTools registers the tools declared in the manifest
// against the given locator.
func (w *Watcher) registerManifestTools(ctx context.Context, manifest *domain.PluginManifest, locator string) []string {
	if locator == "" {
		w.logger.Warn("plugin declares tools but no locator",
			zap.String("plugin", manifest.Plugin.Name))
		return nil
	}
	var names []string
	for _, def := range manifest.Tools {
		tool := domain.ToolSchema{
			Name:        def.Name,
			Description: def.Description,
			PluginURL:   locator,
			Endpoint:    def.Endpoint,
			Parameters:  def.ParametersJSON(),
		}
		if err := w.reg.Upsert(ctx, domain.GlobalTwinID(), tool); err != nil {
			w.logger.Warn("tool registration failed",
				zap.String("plugin", manifest.Plugin.Name),
				zap.String("tool", def.Name), zap.Error(err))
			continue
		}
		names = append(names, def.Name)
	}
	return names
}

func (w *Watcher) registerBinary(ctx context.Context, pluginDir, manifestPath string, manifest *domain.PluginManifest) []string {
	if manifest.Plugin.BinaryPath == "" {
		w.logger.Warn("binary plugin without binary_path",
			zap.String("plugin", manifest.Plugin.Name))
		return nil
	}
	binaryPath := filepath.Join(pluginDir, manifest.Plugin.BinaryPath)
	if _, err := os.Stat(binaryPath); err != nil {
		w.logger.Warn("binary plugin artifact missing",
			zap.String("plugin", manifest.Plugin.Name),
			zap.String("binary", binaryPath))
		return nil
	}
	if !w.spawned[manifestPath] {
		if err := w.spawner.Spawn(binaryPath, pluginDir); err != nil {
			w.logger.Warn("binary plugin spawn failed",
				zap.String("plugin", manifest.Plugin.Name), zap.Error(err))
			return nil
		}
		w.spawned[manifestPath] = true
	}
	// Binary plugins self-register over HTTP once they are up; the
	// watcher only launches them.
	return nil
}

func (w *Watcher) registerSharedLib(ctx context.Context, pluginDir, manifestPath string, manifest *domain.PluginManifest) ([]string, string) {
	if manifest.Plugin.LibPath == "" {
		w.logger.Warn("shared_lib plugin without lib_path",
			zap.String("plugin", manifest.Plugin.Name))
		return nil, ""
	}
	libPath, err := executor.Canonicalize(filepath.Join(pluginDir, manifest.Plugin.LibPath))
	if err != nil {
		w.logger.Warn("shared library artifact missing",
			zap.String("plugin", manifest.Plugin.Name), zap.Error(err))
		return nil, ""
	}
	defs, err := w.libExec.RegisterTools(libPath)
	if err != nil {
		// Transient failure; keep the previously registered tools and
		// the loaded library until the manifest itself goes away.
		w.logger.Warn("shared library registration failed",
			zap.String("plugin", manifest.Plugin.Name),
			zap.String("library", libPath), zap.Error(err))
		return w.owned[manifestPath], libPath
	}
	names := w.registerDefs(ctx, manifest, mergeDefs(defs, manifest.Tools), sharedLibScheme+libPath)
	return names, libPath
}

func (w *Watcher) registerWasm(ctx context.Context, pluginDir, manifestPath string, manifest *domain.PluginManifest) []string {
	if manifest.Plugin.WasmPath == "" {
		w.logger.Warn("wasm plugin without wasm_path",
			zap.String("plugin", manifest.Plugin.Name))
		return nil
	}
	modPath, err := filepath.Abs(filepath.Join(pluginDir, manifest.Plugin.WasmPath))
	if err != nil {
		return nil
	}
	if _, err := os.Stat(modPath); err != nil {
		w.logger.Warn("wasm plugin artifact missing",
			zap.String("plugin", manifest.Plugin.Name),
			zap.String("module", modPath))
		return nil
	}
	defs, err := w.wasmExec.RegisterTools(ctx, modPath)
	if err != nil {
		// Transient failure; keep the previously registered tools
		// until the manifest itself goes away.
		w.logger.Warn("wasm registration failed",
			zap.String("plugin", manifest.Plugin.Name),
			zap.String("module", modPath), zap.Error(err))
		return w.owned[manifestPath]
	}
	return w.registerDefs(ctx, manifest, mergeDefs(defs, manifest.Tools), wasmScheme+modPath)
}

func (w *Watcher) registerComponent(ctx context.Context, pluginDir string, manifest *domain.PluginManifest) []string {
	if manifest.Plugin.WasmComponentPath == "" {
		w.logger.Warn("component plugin without wasm_component_path",
			zap.String("plugin", manifest.Plugin.Name))
		return nil
	}
	compPath, err := filepath.Abs(filepath.Join(pluginDir, manifest.Plugin.WasmComponentPath))
	if err != nil {
		return nil
	}
	if _, err := os.Stat(compPath); err != nil {
		w.logger.Warn("component plugin artifact missing",
			zap.String("plugin", manifest.Plugin.Name),
			zap.String("component", compPath))
		return nil
	}
	return w.registerManifestTools(ctx, manifest, componentScheme+compPath)
}

func (w *Watcher) registerDefs(ctx context.Context, manifest *domain.PluginManifest, defs []domain.ToolDefinition, locator string) []string {
	var names []string
	for _, def := range defs {
		tool := domain.ToolSchema{
			Name:        def.Name,
			Description: def.Description,
			PluginURL:   locator,
			Endpoint:    def.Endpoint,
			Parameters:  def.ParametersJSON(),
		}
		if err := w.reg.Upsert(ctx, domain.GlobalTwinID(), tool); err != nil {
			w.logger.Warn("tool registration failed",
				zap.String("plugin", manifest.Plugin.Name),
				zap.String("tool", def.Name), zap.Error(err))
			continue
		}
		names = append(names, def.Name)
	}
	return names
}

// mergeDefs combines registration-phase definitions with manifest
// declarations. The plugin's own registration wins on a name clash;
// the manifest can still contribute descriptions or parameter schemas
// the binary interface cannot express.
func mergeDefs(registered, declared []domain.ToolDefinition) []domain.ToolDefinition {
	byName := make(map[string]int, len(registered))
	for i, def := range registered {
		byName[def.Name] = i
	}
	merged := append([]domain.ToolDefinition(nil), registered...)
	for _, def := range declared {
		i, ok := byName[def.Name]
		if !ok {
			merged = append(merged, def)
			continue
		}
		if merged[i].Description == "" {
			merged[i].Description = def.Description
		}
		if len(merged[i].Parameters) == 0 {
			merged[i].Parameters = def.Parameters
		}
	}
	return merged
}

// reconcile unregisters tools whose manifest disappeared or no longer
// declares them, then records the new ownership map.
func (w *Watcher) reconcile(ctx context.Context, seen map[string][]string) {
	for manifestPath, oldNames := range w.owned {
		newNames, stillThere := seen[manifestPath]
		current := make(map[string]bool, len(newNames))
		for _, name := range newNames {
			current[name] = true
		}
		for _, name := range oldNames {
			if stillThere && current[name] {
				continue
			}
			if err := w.reg.Remove(ctx, domain.GlobalTwinID(), name); err != nil {
				w.logger.Warn("tool unregistration failed",
					zap.String("tool", name), zap.Error(err))
			} else {
				w.logger.Info("unregistered tool of removed plugin",
					zap.String("tool", name),
					zap.String("manifest", manifestPath))
			}
		}
		if !stillThere {
			delete(w.spawned, manifestPath)
		}
	}
	w.owned = seen
}

// Owned returns the manifest paths currently contributing tools,
// sorted, mainly for tests and debug logging.
func (w *Watcher) Owned() []string {
	paths := make([]string, 0, len(w.owned))
	for path := range w.owned {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Run performs the initial scan, then watches the plugin root and
// rescans after events settle. The initial scan failing is fatal;
// anything after that is logged and retried on the next event.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Scan(ctx); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return domain.E(domain.CodeInternal, "discovery.watch", "create filesystem watcher", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.root); err != nil {
		return domain.E(domain.CodeInternal, "discovery.watch",
			fmt.Sprintf("watch plugin root %s", w.root), err)
	}
	// Also watch existing plugin directories so manifest edits inside
	// them trigger a rescan, not just top-level create/remove.
	for _, path := range w.Owned() {
		if err := watcher.Add(filepath.Dir(path)); err != nil {
			w.logger.Warn("plugin dir watch failed", zap.String("dir", filepath.Dir(path)), zap.Error(err))
		}
	}

	w.logger.Info("plugin discovery running",
		zap.String("root", w.root),
		zap.Duration("debounce", w.debounce))

	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-watcher.Errors:
			if err != nil {
				w.logger.Warn("filesystem watcher error", zap.Error(err))
			}
		case event := <-watcher.Events:
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := watcher.Add(event.Name); err != nil {
						w.logger.Warn("plugin dir watch failed", zap.String("dir", event.Name), zap.Error(err))
					}
				}
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)
		case <-timerChan(timer):
			timer = nil
			if err := w.Scan(ctx); err != nil {
				w.logger.Warn("plugin rescan failed", zap.Error(err))
			}
		}
	}
}

func timerChan(timer *time.Timer) <-chan time.Time {
	if timer == nil {
		return nil
	}
	return timer.C
}
