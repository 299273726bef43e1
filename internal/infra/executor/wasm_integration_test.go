package executor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twingate/internal/domain"
)

// echoModule is a hand-assembled wasm binary implementing the legacy
// plugin ABI. It exports alloc (returns a fixed scratch offset),
// dealloc (no-op), run (packs its ptr+len arguments into the i64
// return, so the output is the input) and an init that registers one
// tool named "echo" with endpoint "run" through env.register_tool.
var echoModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	// type: (i32)->i32, (i32,i32)->(), (i32,i32)->i64, (i32 x6)->(), ()->()
	0x01, 0x1d, 0x05,
	0x60, 0x01, 0x7f, 0x01, 0x7f,
	0x60, 0x02, 0x7f, 0x7f, 0x00,
	0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7e,
	0x60, 0x06, 0x7f, 0x7f, 0x7f, 0x7f, 0x7f, 0x7f, 0x00,
	0x60, 0x00, 0x00,
	// import: env.register_tool
	0x02, 0x15, 0x01,
	0x03, 0x65, 0x6e, 0x76,
	0x0d, 0x72, 0x65, 0x67, 0x69, 0x73, 0x74, 0x65, 0x72, 0x5f, 0x74, 0x6f, 0x6f, 0x6c,
	0x00, 0x03,
	// func: alloc, dealloc, run, init
	0x03, 0x05, 0x04, 0x00, 0x01, 0x02, 0x04,
	// memory: 1 page
	0x05, 0x03, 0x01, 0x00, 0x01,
	// exports
	0x07, 0x29, 0x05,
	0x06, 0x6d, 0x65, 0x6d, 0x6f, 0x72, 0x79, 0x02, 0x00,
	0x05, 0x61, 0x6c, 0x6c, 0x6f, 0x63, 0x00, 0x01,
	0x07, 0x64, 0x65, 0x61, 0x6c, 0x6c, 0x6f, 0x63, 0x00, 0x02,
	0x03, 0x72, 0x75, 0x6e, 0x00, 0x03,
	0x04, 0x69, 0x6e, 0x69, 0x74, 0x00, 0x04,
	// code
	0x0a, 0x2b, 0x04,
	// alloc: i32.const 1024
	0x05, 0x00, 0x41, 0x80, 0x08, 0x0b,
	// dealloc: no-op
	0x02, 0x00, 0x0b,
	// run: (i64(ptr) << 32) | i64(len)
	0x0c, 0x00, 0x20, 0x00, 0xad, 0x42, 0x20, 0x86, 0x20, 0x01, 0xad, 0x84, 0x0b,
	// init: register_tool(256, 4, 256, 0, 260, 3)
	0x13, 0x00,
	0x41, 0x80, 0x02, 0x41, 0x04,
	0x41, 0x80, 0x02, 0x41, 0x00,
	0x41, 0x84, 0x02, 0x41, 0x03,
	0x10, 0x00, 0x0b,
	// data at 256: "echo" then "run"
	0x0b, 0x0e, 0x01, 0x00, 0x41, 0x80, 0x02, 0x0b,
	0x07, 0x65, 0x63, 0x68, 0x6f, 0x72, 0x75, 0x6e,
}

func writeEchoModule(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "echo.wasm")
	require.NoError(t, os.WriteFile(path, echoModule, 0o644))
	return path
}

func TestWASMRegisterToolsCollectsGuestRegistrations(t *testing.T) {
	path := writeEchoModule(t)
	tools, err := NewWASMExecutor(nil).RegisterTools(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "echo", tools[0].Name)
	assert.Equal(t, "run", tools[0].Endpoint)
}

func TestWASMInvokeRoundTrip(t *testing.T) {
	path := writeEchoModule(t)
	out, err := NewWASMExecutor(nil).Invoke(context.Background(), path, "run",
		json.RawMessage(`{"text":"hi"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"hi"}`, out)
}

func TestWASMInvokeMissingToolExport(t *testing.T) {
	path := writeEchoModule(t)
	_, err := NewWASMExecutor(nil).Invoke(context.Background(), path, "nope",
		json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Equal(t, domain.CodeProtocolViolation, domain.CodeFrom(err))
}

func TestWASMInvokeRejectsGarbageModule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.wasm")
	require.NoError(t, os.WriteFile(path, []byte("not wasm"), 0o644))
	_, err := NewWASMExecutor(nil).Invoke(context.Background(), path, "run",
		json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Equal(t, domain.CodeProtocolViolation, domain.CodeFrom(err))
}
