package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"unsafe"

	"go.uber.org/zap"

	"twingate/internal/domain"
)

// Shared library ABI:
//
//	register_tools_count() -> usize
//	register_tools() -> *const descriptor   (descriptor = 6 machine
//	   words: name ptr/len, description ptr/len, endpoint ptr/len,
//	   valid only for the duration of the call)
//	<entry point>(*const char) -> *mut char (null-terminated JSON,
//	   callee-owned; null on failure)
//	free_cstring(*mut char)                 (optional ownership
//	   hand-back for the returned buffer)
const (
	symRegisterToolsCount = "register_tools_count"
	symRegisterTools      = "register_tools"
	symFreeCString        = "free_cstring"

	descriptorWords = 6
)

type loadedLibrary struct {
	// mu serializes every call into the library; nothing guarantees the
	// guest code is reentrant.
	mu     sync.Mutex
	handle uintptr
}

// LibraryCache holds at most one handle per canonical library path for
// the life of the process, until the discovery scanner unloads handles
// whose manifests disappeared. It is owned by the gateway's top-level
// state, never a package singleton.
type LibraryCache struct {
	mu     sync.Mutex
	libs   map[string]*loadedLibrary
	logger *zap.Logger
}

func NewLibraryCache(logger *zap.Logger) *LibraryCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LibraryCache{
		libs:   make(map[string]*loadedLibrary),
		logger: logger.Named("library_cache"),
	}
}

// Canonicalize resolves a library path to the cache key form.
func Canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	return resolved, nil
}

// acquire returns the cached handle for path, loading the library on
// first use. The table lock covers only the map and the load itself.
func (c *LibraryCache) acquire(path string) (*loadedLibrary, error) {
	canonical, err := Canonicalize(path)
	if err != nil {
		return nil, domain.E(domain.CodeBackendUnreachable, "sharedlib.load",
			fmt.Sprintf("resolve %s", path), err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if lib, ok := c.libs[canonical]; ok {
		return lib, nil
	}
	handle, err := dlOpen(canonical)
	if err != nil {
		return nil, domain.E(domain.CodeBackendUnreachable, "sharedlib.load",
			fmt.Sprintf("dlopen %s", canonical), err)
	}
	lib := &loadedLibrary{handle: handle}
	c.libs[canonical] = lib
	c.logger.Info("loaded shared library", zap.String("path", canonical))
	return lib, nil
}

// UnloadExcept closes every cached handle whose canonical path is not
// in keep. Called only by the discovery scanner after a full scan; the
// dispatcher never unloads a library mid-call.
func (c *LibraryCache) UnloadExcept(keep map[string]struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for path, lib := range c.libs {
		if _, ok := keep[path]; ok {
			continue
		}
		lib.mu.Lock()
		dlClose(lib.handle)
		lib.handle = 0
		lib.mu.Unlock()
		delete(c.libs, path)
		c.logger.Info("unloaded shared library", zap.String("path", path))
	}
}

// Loaded returns the canonical paths currently held, for tests and
// debug endpoints.
func (c *LibraryCache) Loaded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.libs))
	for path := range c.libs {
		out = append(out, path)
	}
	return out
}

// SharedLibExecutor runs tools exported by native libraries. The
// entry point names an exported symbol taking a null-terminated UTF-8
// string and returning a callee-owned null-terminated UTF-8 string.
type SharedLibExecutor struct {
	cache  *LibraryCache
	logger *zap.Logger
}

func NewSharedLibExecutor(cache *LibraryCache, logger *zap.Logger) *SharedLibExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SharedLibExecutor{cache: cache, logger: logger.Named("sharedlib_executor")}
}

// Invoke calls the exported symbol with the parameter JSON. The host
// copies the returned string before handing the buffer back through
// the library's free export; it never frees memory it does not own.
func (e *SharedLibExecutor) Invoke(ctx context.Context, libPath, symbol string, params json.RawMessage) (string, error) {
	lib, err := e.cache.acquire(libPath)
	if err != nil {
		return "", err
	}

	input := make([]byte, 0, len(params)+1)
	input = append(input, params...)
	input = append(input, 0)

	lib.mu.Lock()
	defer lib.mu.Unlock()

	fn, err := dlSym(lib.handle, symbol)
	if err != nil {
		return "", domain.E(domain.CodeProtocolViolation, "sharedlib.invoke",
			fmt.Sprintf("missing tool symbol %q", symbol), err)
	}

	ret := dlCall(fn, uintptr(unsafe.Pointer(&input[0])))
	runtime.KeepAlive(input)
	if ret == 0 {
		return "", domain.E(domain.CodeProtocolViolation, "sharedlib.invoke",
			fmt.Sprintf("tool %q returned NULL", symbol), nil)
	}

	result := cString(ret)
	if freeFn, err := dlSym(lib.handle, symFreeCString); err == nil {
		dlCall(freeFn, ret)
	}
	return result, nil
}

// RegisterTools asks the library which tools it exports. Descriptor
// fields are copied into owned strings before the call returns.
func (e *SharedLibExecutor) RegisterTools(libPath string) ([]domain.ToolDefinition, error) {
	lib, err := e.cache.acquire(libPath)
	if err != nil {
		return nil, err
	}

	lib.mu.Lock()
	defer lib.mu.Unlock()

	countFn, err := dlSym(lib.handle, symRegisterToolsCount)
	if err != nil {
		return nil, domain.E(domain.CodeProtocolViolation, "sharedlib.register",
			"missing symbol "+symRegisterToolsCount, err)
	}
	toolsFn, err := dlSym(lib.handle, symRegisterTools)
	if err != nil {
		return nil, domain.E(domain.CodeProtocolViolation, "sharedlib.register",
			"missing symbol "+symRegisterTools, err)
	}

	count := int(dlCall(countFn))
	if count == 0 {
		return nil, nil
	}
	arr := dlCall(toolsFn)
	if arr == 0 {
		return nil, domain.E(domain.CodeProtocolViolation, "sharedlib.register",
			symRegisterTools+" returned NULL", nil)
	}

	tools := make([]domain.ToolDefinition, 0, count)
	for i := 0; i < count; i++ {
		base := arr + uintptr(i*descriptorWords)*ptrSize
		tools = append(tools, domain.ToolDefinition{
			Name:        cBytes(word(base, 0), word(base, 1)),
			Description: cBytes(word(base, 2), word(base, 3)),
			Endpoint:    cBytes(word(base, 4), word(base, 5)),
		})
	}
	return tools, nil
}
