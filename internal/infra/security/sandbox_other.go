//go:build !linux || (!amd64 && !arm64)

package security

import "twingate/internal/domain"

// InstallSandbox is a stub; seccomp confinement needs linux on a
// supported architecture.
func InstallSandbox() error {
	return domain.E(domain.CodeConfiguration, "security.sandbox",
		"plugin sandboxing is not supported on this platform", nil)
}

func SandboxSupported() bool { return false }
