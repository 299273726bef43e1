package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"twingate/internal/domain"
)

// Legacy WebAssembly ABI. Modules are instantiated fresh per call; no
// state survives between calls.
//
// Registration: the guest calls the host import env.register_tool with
// pointer+length pairs into its own linear memory, typically from an
// exported init function. The strings are only valid during the call.
//
// Invocation: the module exports alloc(len)->ptr and dealloc(ptr,len);
// each tool export has signature (ptr,len)->i64 where the return packs
// the output pointer in the high 32 bits and its length in the low 32.
const (
	hostModuleName = "env"
	importRegister = "register_tool"
	exportAlloc    = "alloc"
	exportDealloc  = "dealloc"
	exportInit     = "init"
	wasmMemory     = "memory"
)

type WASMExecutor struct {
	logger *zap.Logger
}

func NewWASMExecutor(logger *zap.Logger) *WASMExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WASMExecutor{logger: logger.Named("wasm_executor")}
}

// instantiate builds a one-shot runtime around the module at path.
// onRegister receives tools the guest registers during instantiation
// and init; it may be nil for the invocation phase.
func (e *WASMExecutor) instantiate(ctx context.Context, path string, onRegister func(domain.ToolDefinition)) (api.Module, func(), error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, domain.E(domain.CodeBackendUnreachable, "wasm.load", fmt.Sprintf("read %s", path), err)
	}

	rt := wazero.NewRuntime(ctx)
	cleanup := func() { _ = rt.Close(ctx) }

	wasi_snapshot_preview1.MustInstantiate(ctx, rt)

	register := func(_ context.Context, mod api.Module, namePtr, nameLen, descPtr, descLen, epPtr, epLen uint32) {
		if onRegister == nil {
			return
		}
		name, okName := readGuestString(mod, namePtr, nameLen)
		desc, okDesc := readGuestString(mod, descPtr, descLen)
		endpoint, okEp := readGuestString(mod, epPtr, epLen)
		if !okName || !okDesc || !okEp {
			e.logger.Warn("guest registration with out-of-range pointers dropped", zap.String("module", path))
			return
		}
		onRegister(domain.ToolDefinition{Name: name, Description: desc, Endpoint: endpoint})
	}

	if _, err := rt.NewHostModuleBuilder(hostModuleName).
		NewFunctionBuilder().WithFunc(register).Export(importRegister).
		Instantiate(ctx); err != nil {
		cleanup()
		return nil, nil, domain.E(domain.CodeInternal, "wasm.load", "instantiate host module", err)
	}

	compiled, err := rt.CompileModule(ctx, data)
	if err != nil {
		cleanup()
		return nil, nil, domain.E(domain.CodeProtocolViolation, "wasm.load", fmt.Sprintf("compile %s", path), err)
	}

	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().
		WithName("plugin").
		WithStartFunctions())
	if err != nil {
		cleanup()
		return nil, nil, domain.E(domain.CodeProtocolViolation, "wasm.load", fmt.Sprintf("instantiate %s", path), err)
	}
	return mod, cleanup, nil
}

// RegisterTools instantiates the module and collects everything the
// guest registers through the host import during init.
func (e *WASMExecutor) RegisterTools(ctx context.Context, modulePath string) ([]domain.ToolDefinition, error) {
	var tools []domain.ToolDefinition
	mod, cleanup, err := e.instantiate(ctx, modulePath, func(tool domain.ToolDefinition) {
		tools = append(tools, tool)
	})
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if initFn := mod.ExportedFunction(exportInit); initFn != nil {
		if _, err := initFn.Call(ctx); err != nil {
			e.logger.Warn("guest init trapped", zap.String("module", modulePath), zap.Error(err))
		}
	}
	return tools, nil
}

// Invoke writes the parameter JSON into guest memory via alloc, calls
// the tool export, reads back the packed result and returns the output
// to the guest through dealloc.
func (e *WASMExecutor) Invoke(ctx context.Context, modulePath, export string, params json.RawMessage) (string, error) {
	mod, cleanup, err := e.instantiate(ctx, modulePath, nil)
	if err != nil {
		return "", err
	}
	defer cleanup()

	alloc := mod.ExportedFunction(exportAlloc)
	dealloc := mod.ExportedFunction(exportDealloc)
	toolFn := mod.ExportedFunction(export)
	memory := mod.Memory()
	switch {
	case memory == nil:
		return "", domain.E(domain.CodeProtocolViolation, "wasm.invoke", "missing export "+wasmMemory, nil)
	case alloc == nil:
		return "", domain.E(domain.CodeProtocolViolation, "wasm.invoke", "missing export "+exportAlloc, nil)
	case dealloc == nil:
		return "", domain.E(domain.CodeProtocolViolation, "wasm.invoke", "missing export "+exportDealloc, nil)
	case toolFn == nil:
		return "", domain.E(domain.CodeProtocolViolation, "wasm.invoke", fmt.Sprintf("missing tool export %q", export), nil)
	}

	inLen := uint32(len(params))
	allocRet, err := alloc.Call(ctx, uint64(inLen))
	if err != nil {
		return "", domain.E(domain.CodeProtocolViolation, "wasm.invoke", "alloc failed", err)
	}
	inPtr := uint32(allocRet[0])
	if !memory.Write(inPtr, params) {
		return "", domain.E(domain.CodeProtocolViolation, "wasm.invoke", "alloc returned out-of-range pointer", nil)
	}

	callRet, err := toolFn.Call(ctx, uint64(inPtr), uint64(inLen))
	if err != nil {
		return "", domain.E(domain.CodeProtocolViolation, "wasm.invoke", fmt.Sprintf("tool %q trapped", export), err)
	}
	_, _ = dealloc.Call(ctx, uint64(inPtr), uint64(inLen))

	outPtr, outLen, ok := unpackPtrLen(callRet[0])
	if !ok {
		return "", domain.E(domain.CodeProtocolViolation, "wasm.invoke",
			fmt.Sprintf("tool %q returned invalid packed pointer", export), nil)
	}
	view, ok := memory.Read(outPtr, outLen)
	if !ok {
		return "", domain.E(domain.CodeProtocolViolation, "wasm.invoke", "output pointer out of range", nil)
	}
	result := string(view) // copy before the guest reclaims the buffer
	_, _ = dealloc.Call(ctx, uint64(outPtr), uint64(outLen))
	return result, nil
}

// unpackPtrLen splits the packed i64 return convention: pointer in the
// high 32 bits, length in the low 32. Zero or negative halves are a
// protocol violation.
func unpackPtrLen(packed uint64) (ptr, length uint32, ok bool) {
	ptr = uint32(packed >> 32)
	length = uint32(packed)
	if ptr == 0 || length == 0 || int32(ptr) < 0 || int32(length) < 0 {
		return 0, 0, false
	}
	return ptr, length, true
}

func readGuestString(mod api.Module, ptr, length uint32) (string, bool) {
	view, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return "", false
	}
	return string(view), true
}
