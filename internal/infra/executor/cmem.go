package executor

import "unsafe"

const ptrSize = unsafe.Sizeof(uintptr(0))

// cString copies a null-terminated C string into an owned Go string.
// The source buffer may be freed by the callee immediately after.
func cString(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	n := uintptr(0)
	for *(*byte)(unsafe.Pointer(ptr + n)) != 0 {
		n++
	}
	if n == 0 {
		return ""
	}
	return string(unsafe.Slice((*byte)(unsafe.Pointer(ptr)), n))
}

// cBytes copies a (pointer, length) pair into an owned Go string.
func cBytes(ptr, n uintptr) string {
	if ptr == 0 || n == 0 {
		return ""
	}
	return string(unsafe.Slice((*byte)(unsafe.Pointer(ptr)), n))
}

// word reads the index-th machine word of a C struct laid out as a
// flat sequence of pointers and sizes.
func word(base uintptr, index int) uintptr {
	return *(*uintptr)(unsafe.Pointer(base + uintptr(index)*ptrSize))
}
