package security

import (
	"fmt"
	"os"
	"os/exec"
	"sync"

	"go.uber.org/zap"

	"twingate/internal/domain"
)

// SandboxExecCommand is the hidden subcommand name used to re-exec the
// gateway binary as a sandbox trampoline. Go cannot run code between
// fork and exec, so the child re-enters our own binary, installs the
// seccomp filter on itself and only then execs the plugin.
const SandboxExecCommand = "sandbox-exec"

// PluginDirEnv tells a spawned plugin where its own directory is.
const PluginDirEnv = "PLUGIN_DIR"

// Spawner launches Binary plugins as long-running sidecar processes.
// Spawned processes are not supervised beyond reaping; a plugin that
// exits stays down until the next discovery rescan.
type Spawner struct {
	sandbox bool
	logger  *zap.Logger

	mu      sync.Mutex
	selfExe string
}

func NewSpawner(sandbox bool, logger *zap.Logger) *Spawner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Spawner{sandbox: sandbox, logger: logger.Named("spawner")}
}

func (s *Spawner) executable() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selfExe == "" {
		exe, err := os.Executable()
		if err != nil {
			return "", domain.E(domain.CodeInternal, "security.spawn", "resolve own executable", err)
		}
		s.selfExe = exe
	}
	return s.selfExe, nil
}

// Spawn starts the plugin binary with PLUGIN_DIR pointing at its
// plugin directory. With sandboxing enabled the process goes through
// the re-exec trampoline so the seccomp filter is in place before the
// plugin code runs.
func (s *Spawner) Spawn(binaryPath, pluginDir string) error {
	var cmd *exec.Cmd
	if s.sandbox {
		if !SandboxSupported() {
			return domain.E(domain.CodeConfiguration, "security.spawn",
				"sandboxing requested but not supported on this platform", nil)
		}
		self, err := s.executable()
		if err != nil {
			return err
		}
		cmd = exec.Command(self, SandboxExecCommand, "--", binaryPath)
	} else {
		cmd = exec.Command(binaryPath)
	}
	cmd.Dir = pluginDir
	cmd.Env = append(os.Environ(), fmt.Sprintf("%s=%s", PluginDirEnv, pluginDir))
	configureProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return domain.E(domain.CodeInternal, "security.spawn",
			fmt.Sprintf("start plugin binary %s", binaryPath), err)
	}
	s.logger.Info("plugin process started",
		zap.String("binary", binaryPath),
		zap.Int("pid", cmd.Process.Pid),
		zap.Bool("sandboxed", s.sandbox))

	go func() {
		err := cmd.Wait()
		s.logger.Info("plugin process exited",
			zap.String("binary", binaryPath),
			zap.Int("pid", cmd.Process.Pid),
			zap.Error(err))
	}()
	return nil
}
