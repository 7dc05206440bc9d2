package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/Ap3pp3rs94/symphony-messenger/pkg/merrors"
)

// Loader loads messenger configuration from a filesystem root with
// deterministic layering, adapted from the teacher's pkg/config.Loader
// down to the messenger's two-tier needs:
//
//	<root>/messenger.yaml            (base, required)
//	<root>/env/<env>/messenger.yaml  (optional overlay)
//
// Layering is performed by this package's own Merge (a deterministic,
// depth/node-bounded deep merge over map[string]any, the same shape the
// teacher's config loader merges), rather than by unmarshaling twice and
// replacing whole fields: a partial transports/routing/retry entry in the
// overlay is merged key-by-key instead of clobbering sibling keys the
// overlay didn't mention.
type Loader struct {
	Root string
	Env  string
}

// Load reads and parses the layered YAML files into a Config. It does not
// call Validate — callers should validate explicitly, typically via
// NewManager.
func (l Loader) Load() (Config, error) {
	base, err := l.readLayer(filepath.Join(l.Root, "messenger.yaml"), true)
	if err != nil {
		return Config{}, err
	}

	layers := []map[string]any{base}
	if l.Env != "" {
		overlayPath := filepath.Join(l.Root, "env", l.Env, "messenger.yaml")
		overlay, err := l.readLayer(overlayPath, false)
		if err != nil {
			return Config{}, err
		}
		layers = append(layers, overlay)
	}

	merged, _ := MergeMany(layers, MergeOptions{})
	out, err := mapToConfig(merged)
	if err != nil {
		return Config{}, err
	}
	return out, nil
}

// readLayer parses path into the generic map[string]any shape Merge
// operates on, returning an empty map for a missing optional layer.
func (l Loader) readLayer(path string, required bool) (map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return map[string]any{}, nil
		}
		return nil, merrors.Configuration("read %s: %v", path, err)
	}
	var m map[string]any
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, merrors.Configuration("parse %s: %v", path, err)
	}
	return m, nil
}

// mapToConfig round-trips a merged generic map back through YAML into the
// typed Config shape.
func mapToConfig(m map[string]any) (Config, error) {
	b, err := yaml.Marshal(m)
	if err != nil {
		return Config{}, merrors.Configuration("marshal merged config: %v", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, merrors.Configuration("unmarshal merged config: %v", err)
	}
	return cfg, nil
}
