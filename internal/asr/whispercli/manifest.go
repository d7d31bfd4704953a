package whispercli

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest maps model names to local files so configs can say "small"
// instead of a full path.
//
// models:
//   small:
//     path: /usr/local/share/whisper/ggml-small.bin
//     sha256: abc123...
type Manifest struct {
	Models map[string]ModelEntry `yaml:"models"`
}

// ModelEntry describes one downloadable model file.
type ModelEntry struct {
	Path   string `yaml:"path"`
	SHA256 string `yaml:"sha256,omitempty"`
}

// LoadManifest reads and validates a models.yaml file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("whispercli: failed to parse manifest %q: %w", path, err)
	}

	for name, entry := range m.Models {
		if entry.Path == "" {
			return nil, fmt.Errorf("whispercli: manifest entry %q has no path", name)
		}
	}
	return &m, nil
}

// Resolve returns the file path for a model name.
func (m *Manifest) Resolve(name string) (string, error) {
	entry, ok := m.Models[name]
	if !ok {
		return "", fmt.Errorf("whispercli: model %q not in manifest", name)
	}
	return entry.Path, nil
}
