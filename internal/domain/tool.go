package domain

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// ToolSchema is the unit of registration. Name is the dispatch key
// within a scope; re-registering the same name overwrites the prior
// definition. PluginURL locates the backend that executes the tool and
// Endpoint identifies the entry point inside it (an HTTP path, an
// exported symbol, or a wasm export, depending on the backend).
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	PluginURL   string          `json:"plugin_url"`
	Endpoint    string          `json:"endpoint"`
	Parameters  json.RawMessage `json:"parameters"`
}

// GlobalTwinID is the distinguished scope shared by every twin. Tools
// registered under it are visible to all callers unless shadowed by a
// twin-scoped tool of the same name.
func GlobalTwinID() uuid.UUID {
	return uuid.Nil
}

// Backend identifies which executor owns a tool.
type Backend int

const (
	BackendHTTP Backend = iota
	BackendSharedLib
	BackendWASM
	BackendComponent
)

func (b Backend) String() string {
	switch b {
	case BackendSharedLib:
		return "sharedlib"
	case BackendWASM:
		return "wasm"
	case BackendComponent:
		return "component"
	default:
		return "http"
	}
}

// ResolveBackend inspects the locator prefix and returns the owning
// backend together with the backend-specific target: a filesystem path
// for sharedlib/wasm/component locators, the full URL for HTTP. This is
// the only place backend selection happens; unrecognized prefixes fall
// through to the HTTP backend.
func ResolveBackend(locator string) (Backend, string) {
	if path, ok := strings.CutPrefix(locator, "sharedlib://"); ok {
		return BackendSharedLib, path
	}
	if path, ok := strings.CutPrefix(locator, "wasm://"); ok {
		return BackendWASM, path
	}
	if path, ok := strings.CutPrefix(locator, "wasm-component://"); ok {
		return BackendComponent, path
	}
	if path, ok := strings.CutPrefix(locator, "component://"); ok {
		return BackendComponent, path
	}
	return BackendHTTP, locator
}
