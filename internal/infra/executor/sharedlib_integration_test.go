//go:build linux

package executor

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twingate/internal/domain"
)

const stubSource = `
#include <stdlib.h>
#include <string.h>

typedef struct {
	const char *name;     size_t name_len;
	const char *desc;     size_t desc_len;
	const char *endpoint; size_t endpoint_len;
} tool_desc;

static tool_desc tools[1];

size_t register_tools_count(void) { return 1; }

const tool_desc *register_tools(void) {
	tools[0].name = "c_echo";          tools[0].name_len = 6;
	tools[0].desc = "Echoes input";    tools[0].desc_len = 12;
	tools[0].endpoint = "c_echo_impl"; tools[0].endpoint_len = 11;
	return tools;
}

char *c_echo_impl(const char *input) {
	if (strstr(input, "give_me_null") != NULL) {
		return NULL;
	}
	size_t n = strlen(input);
	char *out = malloc(n + 1);
	memcpy(out, input, n + 1);
	return out;
}

void free_cstring(char *p) { free(p); }
`

// buildStubLibrary compiles the stub with the system C compiler,
// skipping the test when none is installed.
func buildStubLibrary(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping C compile in short mode")
	}
	cc, err := exec.LookPath("cc")
	if err != nil {
		t.Skip("no C compiler on PATH")
	}
	dir := t.TempDir()
	src := filepath.Join(dir, "stub.c")
	lib := filepath.Join(dir, "libstub.so")
	require.NoError(t, os.WriteFile(src, []byte(stubSource), 0o644))
	out, err := exec.Command(cc, "-shared", "-fPIC", "-o", lib, src).CombinedOutput()
	require.NoError(t, err, "cc output: %s", out)
	return lib
}

func TestSharedLibRegisterAndInvoke(t *testing.T) {
	lib := buildStubLibrary(t)
	cache := NewLibraryCache(nil)
	defer cache.UnloadExcept(nil)
	e := NewSharedLibExecutor(cache, nil)

	tools, err := e.RegisterTools(lib)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "c_echo", tools[0].Name)
	assert.Equal(t, "Echoes input", tools[0].Description)
	assert.Equal(t, "c_echo_impl", tools[0].Endpoint)

	out, err := e.Invoke(context.Background(), lib, "c_echo_impl",
		json.RawMessage(`{"text":"hi"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"hi"}`, out)
}

func TestSharedLibNullReturnIsProtocolViolation(t *testing.T) {
	lib := buildStubLibrary(t)
	cache := NewLibraryCache(nil)
	defer cache.UnloadExcept(nil)
	e := NewSharedLibExecutor(cache, nil)

	_, err := e.Invoke(context.Background(), lib, "c_echo_impl",
		json.RawMessage(`{"text":"give_me_null"}`))
	require.Error(t, err)
	assert.Equal(t, domain.CodeProtocolViolation, domain.CodeFrom(err))
}

func TestSharedLibMissingSymbol(t *testing.T) {
	lib := buildStubLibrary(t)
	cache := NewLibraryCache(nil)
	defer cache.UnloadExcept(nil)
	e := NewSharedLibExecutor(cache, nil)

	_, err := e.Invoke(context.Background(), lib, "no_such_symbol",
		json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Equal(t, domain.CodeProtocolViolation, domain.CodeFrom(err))
}
