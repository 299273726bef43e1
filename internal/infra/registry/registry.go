// Package registry holds the authoritative runtime view of registered
// tools: scope → tool name → schema, backed by a persistent store.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"

	"twingate/internal/domain"
	"twingate/internal/infra/store"
)

// Registry is write-through: Upsert persists first and mutates the
// in-memory map only after the store accepted the write, so the two
// views never diverge past a failed call. The read lock is held only
// for map access, never across store round trips.
type Registry struct {
	mu    sync.RWMutex
	tools map[uuid.UUID]map[string]domain.ToolSchema

	store  store.ToolStore
	logger *zap.Logger
}

// Load rehydrates the registry from the persistent store. Every upsert
// must go through the returned registry; constructing one any other
// way would let the views diverge.
func Load(ctx context.Context, st store.ToolStore, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	tools, err := st.LoadAll(ctx)
	if err != nil {
		return nil, domain.Wrap(domain.CodeStoreUnavailable, "registry.load", err)
	}
	if tools == nil {
		tools = make(map[uuid.UUID]map[string]domain.ToolSchema)
	}
	return &Registry{
		tools:  tools,
		store:  st,
		logger: logger.Named("registry"),
	}, nil
}

// Upsert registers or replaces a tool. Last write wins; there is no
// versioning or conflict detection across concurrent writers.
func (r *Registry) Upsert(ctx context.Context, scope uuid.UUID, tool domain.ToolSchema) error {
	if tool.Name == "" {
		return domain.E(domain.CodeConfiguration, "registry.upsert", "tool name is required", nil)
	}
	// Normalized form round-trips through the store unchanged.
	if len(tool.Parameters) == 0 {
		tool.Parameters = json.RawMessage(`{}`)
	}
	r.checkParameterSchema(tool)

	if err := r.store.Persist(ctx, scope, tool); err != nil {
		return domain.Wrap(domain.CodeStoreUnavailable, "registry.upsert", err)
	}

	r.mu.Lock()
	if r.tools[scope] == nil {
		r.tools[scope] = make(map[string]domain.ToolSchema)
	}
	r.tools[scope][tool.Name] = tool
	r.mu.Unlock()
	return nil
}

// Remove unregisters a tool from both views.
func (r *Registry) Remove(ctx context.Context, scope uuid.UUID, name string) error {
	if err := r.store.Remove(ctx, scope, name); err != nil {
		return domain.Wrap(domain.CodeStoreUnavailable, "registry.remove", err)
	}
	r.mu.Lock()
	delete(r.tools[scope], name)
	r.mu.Unlock()
	return nil
}

// Lookup resolves name in the caller's scope first, then the global
// scope; a twin-scoped tool shadows a global tool of the same name.
func (r *Registry) Lookup(scope uuid.UUID, name string) (domain.ToolSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if tool, ok := r.tools[scope][name]; ok {
		return tool, true
	}
	if tool, ok := r.tools[uuid.Nil][name]; ok {
		return tool, true
	}
	return domain.ToolSchema{}, false
}

// List returns the union of scope-local and global tools. Both sides
// are returned even when names collide, for observability.
func (r *Registry) List(scope uuid.UUID) []domain.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ToolSchema, 0, len(r.tools[scope])+len(r.tools[uuid.Nil]))
	for _, tool := range r.tools[scope] {
		out = append(out, tool)
	}
	if scope != uuid.Nil {
		for _, tool := range r.tools[uuid.Nil] {
			out = append(out, tool)
		}
	}
	return out
}

// ListAll returns every registered tool across all scopes.
func (r *Registry) ListAll() []domain.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.ToolSchema
	for _, tools := range r.tools {
		for _, tool := range tools {
			out = append(out, tool)
		}
	}
	return out
}

// checkParameterSchema compile-checks the declared parameter blob as a
// JSON schema. An invalid schema is worth a warning but never blocks
// registration: tools remain callable, callers just lose validation.
func (r *Registry) checkParameterSchema(tool domain.ToolSchema) {
	if len(tool.Parameters) == 0 {
		return
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(tool.Parameters))
	if err != nil {
		r.logger.Warn("tool parameters are not valid JSON",
			zap.String("tool", tool.Name), zap.Error(err))
		return
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("parameters.json", doc); err != nil {
		r.logger.Warn("tool parameter schema rejected",
			zap.String("tool", tool.Name), zap.Error(err))
		return
	}
	if _, err := compiler.Compile("parameters.json"); err != nil {
		r.logger.Warn("tool parameter schema does not compile",
			zap.String("tool", tool.Name), zap.Error(err))
	}
}
