//go:build linux || darwin

package executor

import "github.com/ebitengine/purego"

func dlOpen(path string) (uintptr, error) {
	return purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
}

func dlSym(handle uintptr, name string) (uintptr, error) {
	return purego.Dlsym(handle, name)
}

func dlClose(handle uintptr) {
	_ = purego.Dlclose(handle)
}

func dlCall(fn uintptr, args ...uintptr) uintptr {
	r1, _, _ := purego.SyscallN(fn, args...)
	return r1
}
