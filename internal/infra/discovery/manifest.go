package discovery

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"twingate/internal/domain"
)

// ManifestFileName is the file every plugin directory must contain.
const ManifestFileName = "manifest.toml"

// LoadManifest parses and validates the manifest at path. All relative
// artifact paths inside the manifest are resolved by the caller
// against the plugin directory, not here.
func LoadManifest(path string) (*domain.PluginManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.E(domain.CodeConfiguration, "discovery.manifest",
			fmt.Sprintf("read %s", path), err)
	}
	var manifest domain.PluginManifest
	if err := toml.Unmarshal(data, &manifest); err != nil {
		return nil, domain.E(domain.CodeConfiguration, "discovery.manifest",
			fmt.Sprintf("parse %s", path), err)
	}
	if err := manifest.Validate(); err != nil {
		return nil, err
	}
	return &manifest, nil
}
