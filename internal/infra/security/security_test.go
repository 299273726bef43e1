package security

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twingate/internal/domain"
)

func TestParseSignatureMode(t *testing.T) {
	cases := []struct {
		in      string
		want    SignatureMode
		wantErr bool
	}{
		{in: "off", want: SignatureOff},
		{in: "", want: SignatureOff},
		{in: "best_effort", want: SignatureBestEffort},
		{in: "STRICT", want: SignatureStrict},
		{in: "  strict ", want: SignatureStrict},
		{in: "paranoid", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseSignatureMode(tc.in)
		if tc.wantErr {
			require.Error(t, err, "input %q", tc.in)
			assert.Equal(t, domain.CodeConfiguration, domain.CodeFrom(err))
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, got)
	}
}

func TestStrictModeRequiresKey(t *testing.T) {
	_, err := NewManifestVerifier(SignatureStrict, "", nil)
	require.Error(t, err)
	assert.Equal(t, domain.CodeConfiguration, domain.CodeFrom(err))

	_, err = NewManifestVerifier(SignatureStrict, "/etc/twingate/cosign.pub", nil)
	require.NoError(t, err)
}

func TestVerifyOffModeAcceptsAnything(t *testing.T) {
	v, err := NewManifestVerifier(SignatureOff, "", nil)
	require.NoError(t, err)
	require.NoError(t, v.Verify(context.Background(), "/nonexistent/manifest.toml"))
}

func TestVerifyMissingSignature(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "manifest.toml")
	require.NoError(t, os.WriteFile(manifest, []byte("[plugin]\nname = \"x\"\n"), 0o644))

	best, err := NewManifestVerifier(SignatureBestEffort, "", nil)
	require.NoError(t, err)
	assert.NoError(t, best.Verify(context.Background(), manifest),
		"best-effort accepts unsigned manifests")

	strict, err := NewManifestVerifier(SignatureStrict, filepath.Join(dir, "key.pub"), nil)
	require.NoError(t, err)
	err = strict.Verify(context.Background(), manifest)
	require.Error(t, err, "strict rejects unsigned manifests")
	assert.Equal(t, domain.CodeConfiguration, domain.CodeFrom(err))
}

func TestVerifyInvalidSignature(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script as a stand-in cosign")
	}
	dir := t.TempDir()
	manifest := filepath.Join(dir, "manifest.toml")
	require.NoError(t, os.WriteFile(manifest, []byte("[plugin]\nname = \"x\"\n"), 0o644))
	require.NoError(t, os.WriteFile(manifest+".sig", []byte("bogus"), 0o644))

	// A cosign that rejects everything.
	cosign := filepath.Join(dir, "cosign")
	require.NoError(t, os.WriteFile(cosign, []byte("#!/bin/sh\necho no match found >&2\nexit 1\n"), 0o755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))

	best, err := NewManifestVerifier(SignatureBestEffort, "", nil)
	require.NoError(t, err)
	assert.NoError(t, best.Verify(context.Background(), manifest),
		"best-effort logs and proceeds on a failed verification")

	strict, err := NewManifestVerifier(SignatureStrict, filepath.Join(dir, "key.pub"), nil)
	require.NoError(t, err)
	err = strict.Verify(context.Background(), manifest)
	require.Error(t, err, "strict rejects a failed verification")
	assert.Equal(t, domain.CodeConfiguration, domain.CodeFrom(err))
}
