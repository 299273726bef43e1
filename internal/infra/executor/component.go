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

// Component-model plugins expose a single entry point
//
//	execute: func(request: string) -> result<string, string>
//
// lowered to core wasm through the canonical ABI: strings cross the
// boundary as (ptr,len) pairs allocated with cabi_realloc, and the
// result comes back as a pointer to a 12-byte record holding the
// discriminant followed by the payload string's ptr and len.
const (
	componentExecute     = "execute"
	componentRealloc     = "cabi_realloc"
	componentPostExecute = "cabi_post_execute"
)

// componentRequest is the envelope handed to execute. The endpoint
// names the tool being called so one component can serve several.
type componentRequest struct {
	Endpoint   string          `json:"endpoint"`
	Parameters json.RawMessage `json:"parameters"`
}

type ComponentExecutor struct {
	logger *zap.Logger
}

func NewComponentExecutor(logger *zap.Logger) *ComponentExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ComponentExecutor{logger: logger.Named("component_executor")}
}

func (e *ComponentExecutor) Invoke(ctx context.Context, componentPath, endpoint string, params json.RawMessage) (string, error) {
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	request, err := json.Marshal(componentRequest{Endpoint: endpoint, Parameters: params})
	if err != nil {
		return "", domain.E(domain.CodeInternal, "component.invoke", "encode request envelope", err)
	}

	data, err := os.ReadFile(componentPath)
	if err != nil {
		return "", domain.E(domain.CodeBackendUnreachable, "component.invoke", fmt.Sprintf("read %s", componentPath), err)
	}

	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)
	wasi_snapshot_preview1.MustInstantiate(ctx, rt)

	compiled, err := rt.CompileModule(ctx, data)
	if err != nil {
		return "", domain.E(domain.CodeProtocolViolation, "component.invoke", fmt.Sprintf("compile %s", componentPath), err)
	}
	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().
		WithName("component").
		WithStartFunctions("_initialize"))
	if err != nil {
		return "", domain.E(domain.CodeProtocolViolation, "component.invoke", fmt.Sprintf("instantiate %s", componentPath), err)
	}

	realloc := mod.ExportedFunction(componentRealloc)
	execute := mod.ExportedFunction(componentExecute)
	memory := mod.Memory()
	switch {
	case memory == nil:
		return "", domain.E(domain.CodeProtocolViolation, "component.invoke", "missing linear memory export", nil)
	case realloc == nil:
		return "", domain.E(domain.CodeProtocolViolation, "component.invoke", "missing export "+componentRealloc, nil)
	case execute == nil:
		return "", domain.E(domain.CodeProtocolViolation, "component.invoke", "missing export "+componentExecute, nil)
	}

	reqLen := uint32(len(request))
	reallocRet, err := realloc.Call(ctx, 0, 0, 1, uint64(reqLen))
	if err != nil {
		return "", domain.E(domain.CodeProtocolViolation, "component.invoke", componentRealloc+" failed", err)
	}
	reqPtr := uint32(reallocRet[0])
	if !memory.Write(reqPtr, request) {
		return "", domain.E(domain.CodeProtocolViolation, "component.invoke", componentRealloc+" returned out-of-range pointer", nil)
	}

	execRet, err := execute.Call(ctx, uint64(reqPtr), uint64(reqLen))
	if err != nil {
		return "", domain.E(domain.CodeProtocolViolation, "component.invoke", "component trapped", err)
	}
	retPtr := uint32(execRet[0])
	defer func() {
		if post := mod.ExportedFunction(componentPostExecute); post != nil {
			_, _ = post.Call(ctx, uint64(retPtr))
		}
	}()

	discriminant, payload, err := readResult(memory, retPtr)
	if err != nil {
		return "", err
	}
	switch discriminant {
	case 0:
		return payload, nil
	case 1:
		return "", domain.E(domain.CodeBackendRejected, "component.invoke", payload, nil)
	default:
		return "", domain.E(domain.CodeProtocolViolation, "component.invoke",
			fmt.Sprintf("result discriminant %d out of range", discriminant), nil)
	}
}

// readResult decodes the canonical result<string, string> record at
// ptr: u32 discriminant, u32 payload pointer, u32 payload length.
func readResult(memory api.Memory, ptr uint32) (uint32, string, error) {
	discriminant, okDisc := memory.ReadUint32Le(ptr)
	payloadPtr, okPtr := memory.ReadUint32Le(ptr + 4)
	payloadLen, okLen := memory.ReadUint32Le(ptr + 8)
	if !okDisc || !okPtr || !okLen {
		return 0, "", domain.E(domain.CodeProtocolViolation, "component.invoke", "result record out of range", nil)
	}
	view, ok := memory.Read(payloadPtr, payloadLen)
	if !ok {
		return 0, "", domain.E(domain.CodeProtocolViolation, "component.invoke", "result payload out of range", nil)
	}
	return discriminant, string(view), nil
}
