//go:build !linux && !darwin

package executor

import "errors"

var errDlUnsupported = errors.New("shared library plugins are not supported on this platform")

func dlOpen(path string) (uintptr, error) {
	return 0, errDlUnsupported
}

func dlSym(handle uintptr, name string) (uintptr, error) {
	return 0, errDlUnsupported
}

func dlClose(handle uintptr) {}

func dlCall(fn uintptr, args ...uintptr) uintptr {
	return 0
}
