package domain

import (
	"encoding/json"
	"fmt"
)

// PluginType determines which artifact path in a manifest is
// authoritative and how the plugin's tools get registered.
type PluginType string

const (
	// PluginTypeBinary is an external executable spawned by the gateway;
	// it is expected to self-register its tools over HTTP.
	PluginTypeBinary PluginType = "binary"
	// PluginTypeSharedLib is a native library loaded in-process.
	PluginTypeSharedLib PluginType = "shared_lib"
	// PluginTypeConfigOnly declares its tools entirely in the manifest
	// and serves them at plugin_url.
	PluginTypeConfigOnly PluginType = "config_only"
	// PluginTypeWasm is a legacy linear-memory WebAssembly module.
	PluginTypeWasm PluginType = "wasm"
	// PluginTypeComponentWasm is a WASI Component Model module.
	PluginTypeComponentWasm PluginType = "component_wasm"
)

// PluginManifest is the on-disk descriptor dropped next to a plugin's
// artifacts, one per plugin directory. The gateway reads it once per
// scan cycle and never mutates it.
type PluginManifest struct {
	Plugin PluginInfo       `toml:"plugin"`
	Tools  []ToolDefinition `toml:"tools"`
}

type PluginInfo struct {
	Name    string     `toml:"name"`
	Version string     `toml:"version"`
	Type    PluginType `toml:"plugin_type"`

	// Paths are relative to the plugin directory. Only the one matching
	// Type is authoritative; the rest are ignored.
	BinaryPath        string `toml:"binary_path"`
	LibPath           string `toml:"lib_path"`
	WasmPath          string `toml:"wasm_path"`
	WasmComponentPath string `toml:"wasm_component_path"`

	// PluginURL is the HTTP base URL for config_only plugins (and
	// shared_lib plugins that are additionally reachable over HTTP).
	PluginURL string `toml:"plugin_url"`
}

// ToolDefinition is a tool declared in a manifest or reported by a
// plugin's registration export.
type ToolDefinition struct {
	Name        string         `toml:"name"`
	Description string         `toml:"description"`
	Endpoint    string         `toml:"endpoint"`
	Parameters  map[string]any `toml:"parameters"`
}

// ParametersJSON renders the declared parameter schema as JSON; a tool
// without parameters gets an empty object.
func (d ToolDefinition) ParametersJSON() json.RawMessage {
	if len(d.Parameters) == 0 {
		return json.RawMessage(`{}`)
	}
	raw, err := json.Marshal(d.Parameters)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}

// Validate checks the structural invariants of a parsed manifest.
func (m *PluginManifest) Validate() error {
	if m.Plugin.Name == "" {
		return E(CodeConfiguration, "manifest.validate", "plugin.name is required", nil)
	}
	switch m.Plugin.Type {
	case PluginTypeBinary, PluginTypeSharedLib, PluginTypeConfigOnly, PluginTypeWasm, PluginTypeComponentWasm:
	default:
		return E(CodeConfiguration, "manifest.validate",
			fmt.Sprintf("plugin %q has unknown plugin_type %q", m.Plugin.Name, m.Plugin.Type), nil)
	}
	for _, tool := range m.Tools {
		if tool.Name == "" {
			return E(CodeConfiguration, "manifest.validate",
				fmt.Sprintf("plugin %q declares a tool without a name", m.Plugin.Name), nil)
		}
	}
	return nil
}
