package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"twingate/internal/domain"
)

// ToolResolver is the registry surface the dispatcher needs.
type ToolResolver interface {
	Lookup(scope uuid.UUID, name string) (domain.ToolSchema, bool)
}

// backendInvoker is what all four executors look like from here: a
// target (URL, library path or module path), the endpoint within it,
// and the parameter payload.
type backendInvoker interface {
	Invoke(ctx context.Context, target, endpoint string, params json.RawMessage) (string, error)
}

// Dispatcher resolves a tool by name and scope, picks the backend from
// the locator prefix and runs the call. In-process backends go through
// the blocking pool so native code never ties up an arbitrary number
// of goroutines.
type Dispatcher struct {
	resolver  ToolResolver
	http      backendInvoker
	sharedLib backendInvoker
	wasm      backendInvoker
	component backendInvoker
	pool      *BlockingPool
	metrics   domain.Metrics
	logger    *zap.Logger
}

func NewDispatcher(
	resolver ToolResolver,
	http backendInvoker,
	sharedLib backendInvoker,
	wasm backendInvoker,
	component backendInvoker,
	pool *BlockingPool,
	metrics domain.Metrics,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		resolver:  resolver,
		http:      http,
		sharedLib: sharedLib,
		wasm:      wasm,
		component: component,
		pool:      pool,
		metrics:   metrics,
		logger:    logger.Named("dispatcher"),
	}
}

// Execute runs the named tool for the given scope. The global scope is
// consulted when the scope itself has no binding. Every call is
// recorded in the metrics, including lookups that miss.
func (d *Dispatcher) Execute(ctx context.Context, scope uuid.UUID, name string, params json.RawMessage) (string, error) {
	tool, ok := d.resolver.Lookup(scope, name)
	if !ok {
		d.metrics.ObserveExecution(name, domain.StatusNotFound, 0)
		return "", domain.E(domain.CodeNotFound, "dispatcher.execute",
			fmt.Sprintf("tool %q not registered for scope %s", name, scope), nil)
	}
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}

	backend, target := domain.ResolveBackend(tool.PluginURL)
	d.logger.Debug("dispatching tool call",
		zap.String("tool", name),
		zap.Stringer("backend", backend),
		zap.String("target", target))

	start := time.Now()
	result, err := d.dispatch(ctx, backend, target, tool.Endpoint, params)
	elapsed := time.Since(start)

	if err != nil {
		d.metrics.ObserveExecution(name, domain.StatusError, elapsed)
		return "", err
	}
	d.metrics.ObserveExecution(name, domain.StatusSuccess, elapsed)
	return result, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, backend domain.Backend, target, endpoint string, params json.RawMessage) (string, error) {
	switch backend {
	case domain.BackendHTTP:
		return d.http.Invoke(ctx, target, endpoint, params)
	case domain.BackendSharedLib:
		return d.pooled(ctx, d.sharedLib, target, endpoint, params)
	case domain.BackendWASM:
		return d.pooled(ctx, d.wasm, target, endpoint, params)
	case domain.BackendComponent:
		return d.pooled(ctx, d.component, target, endpoint, params)
	default:
		return "", domain.E(domain.CodeInternal, "dispatcher.execute",
			fmt.Sprintf("unhandled backend %v", backend), nil)
	}
}

// pooled runs the invocation on a blocking pool worker. Cancellation
// applies while the call is queued; once a worker picks it up the call
// runs to completion.
func (d *Dispatcher) pooled(ctx context.Context, inv backendInvoker, target, endpoint string, params json.RawMessage) (string, error) {
	return d.pool.Do(ctx, func() (string, error) {
		return inv.Invoke(ctx, target, endpoint, params)
	})
}
