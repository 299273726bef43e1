//go:build linux || darwin

package security

import (
	"os"

	"golang.org/x/sys/unix"
)

// ExecReplace replaces the current process image with the plugin
// binary, inheriting the environment. Only returns on failure.
func ExecReplace(argv []string) error {
	return unix.Exec(argv[0], argv, os.Environ())
}
