package security

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"twingate/internal/domain"
)

// SignatureMode controls how plugin manifests are checked before any
// of their tools are registered.
type SignatureMode string

const (
	// SignatureOff skips verification entirely.
	SignatureOff SignatureMode = "off"
	// SignatureBestEffort verifies when a signature is present but
	// only logs on any failure, including an invalid signature or a
	// missing cosign binary.
	SignatureBestEffort SignatureMode = "best_effort"
	// SignatureStrict requires a valid signature for every manifest.
	SignatureStrict SignatureMode = "strict"
)

func ParseSignatureMode(s string) (SignatureMode, error) {
	switch SignatureMode(strings.ToLower(strings.TrimSpace(s))) {
	case SignatureOff, SignatureMode(""):
		return SignatureOff, nil
	case SignatureBestEffort:
		return SignatureBestEffort, nil
	case SignatureStrict:
		return SignatureStrict, nil
	default:
		return "", domain.E(domain.CodeConfiguration, "security.mode",
			fmt.Sprintf("unknown signature mode %q (want off, best_effort or strict)", s), nil)
	}
}

// ManifestVerifier shells out to cosign to verify a detached signature
// sitting next to the manifest as <manifest>.sig.
type ManifestVerifier struct {
	mode    SignatureMode
	keyPath string
	logger  *zap.Logger
}

func NewManifestVerifier(mode SignatureMode, keyPath string, logger *zap.Logger) (*ManifestVerifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if mode == SignatureStrict && keyPath == "" {
		return nil, domain.E(domain.CodeConfiguration, "security.verifier",
			"strict signature mode requires a signing key path", nil)
	}
	return &ManifestVerifier{mode: mode, keyPath: keyPath, logger: logger.Named("signature")}, nil
}

// Verify checks the manifest at manifestPath according to the
// configured mode. A nil return means registration may proceed.
func (v *ManifestVerifier) Verify(ctx context.Context, manifestPath string) error {
	if v.mode == SignatureOff {
		return nil
	}

	sigPath := manifestPath + ".sig"
	if _, err := os.Stat(sigPath); err != nil {
		if v.mode == SignatureBestEffort {
			v.logger.Warn("manifest has no signature, accepting in best-effort mode",
				zap.String("manifest", manifestPath))
			return nil
		}
		return domain.E(domain.CodeConfiguration, "security.verify",
			fmt.Sprintf("missing signature %s", sigPath), err)
	}

	cosignPath, err := exec.LookPath("cosign")
	if err != nil {
		if v.mode == SignatureBestEffort {
			v.logger.Warn("cosign not found, skipping signature check",
				zap.String("manifest", manifestPath))
			return nil
		}
		return domain.E(domain.CodeConfiguration, "security.verify", "cosign binary not found", err)
	}

	args := []string{"verify-blob", "--signature", sigPath}
	if v.keyPath != "" {
		args = append(args, "--key", v.keyPath)
	}
	args = append(args, manifestPath)

	cmd := exec.CommandContext(ctx, cosignPath, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		if v.mode == SignatureBestEffort {
			v.logger.Warn("signature verification failed, accepting in best-effort mode",
				zap.String("manifest", manifestPath),
				zap.String("output", strings.TrimSpace(string(out))),
				zap.Error(err))
			return nil
		}
		return domain.E(domain.CodeConfiguration, "security.verify",
			fmt.Sprintf("signature verification failed for %s: %s", manifestPath, strings.TrimSpace(string(out))), err)
	}
	v.logger.Debug("manifest signature verified", zap.String("manifest", manifestPath))
	return nil
}
