//go:build !linux && !darwin

package security

import "twingate/internal/domain"

func ExecReplace([]string) error {
	return domain.E(domain.CodeConfiguration, "security.exec",
		"process replacement is not supported on this platform", nil)
}
