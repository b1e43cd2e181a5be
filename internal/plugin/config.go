// Package plugin hosts WASI plugins with wazero. Plugins talk to the host
// by writing a RON payload to stdout and calling the plugin_cmd or
// plugin_log function exported by the "spyglass" host module.
package plugin

import (
	"fmt"
	"os"
	"path/filepath"
)

// Type scopes what a plugin may ask of the host.
type Type string

// Plugin types.
const (
	// TypeLens plugins act as dynamic lenses: they enqueue URLs and log.
	TypeLens Type = "Lens"
	// TypeConnector plugins also stage host files into their data dir.
	TypeConnector Type = "Connector"
)

// Grants lists the capabilities of a plugin type.
func (t Type) Grants() []Capability {
	switch t {
	case TypeLens:
		return []Capability{CapEnqueue, CapLog}
	case TypeConnector:
		return []Capability{CapEnqueue, CapLog, CapSyncFile}
	default:
		return nil
	}
}

// File names inside a plugin directory.
const (
	ManifestFile = "plugin.ron"
	ModuleFile   = "main.wasm"
	DataDir      = "data"
)

// Config is a plugin manifest.
type Config struct {
	Name         string            `json:"name"`
	Author       string            `json:"author"`
	Description  string            `json:"description"`
	Type         Type              `json:"plugin_type"`
	UserSettings map[string]string `json:"user_settings,omitempty"`
	// Dir is the plugin directory holding the manifest and module.
	Dir string `json:"-"`
}

// ModulePath is the wasm module location.
func (c Config) ModulePath() string {
	return filepath.Join(c.Dir, ModuleFile)
}

// DataPath is the directory mounted at /data inside the sandbox.
func (c Config) DataPath() string {
	return filepath.Join(c.Dir, DataDir)
}

// ParseManifest decodes a manifest such as
// (name: "x", plugin_type: Lens, user_settings: {"KEY": "v"}).
func ParseManifest(data []byte) (Config, error) {
	v, err := Decode(string(data))
	if err != nil {
		return Config{}, fmt.Errorf("decode manifest: %w", err)
	}
	s, ok := v.(Struct)
	if !ok || len(s.Fields) == 0 {
		return Config{}, fmt.Errorf("manifest must be a struct: %w", ErrSyntax)
	}
	var cfg Config
	for key, dst := range map[string]*string{"name": &cfg.Name, "author": &cfg.Author, "description": &cfg.Description} {
		if raw, ok := s.Fields[key]; ok {
			str, ok := raw.(Str)
			if !ok {
				return Config{}, fmt.Errorf("manifest %s must be a string: %w", key, ErrSyntax)
			}
			*dst = string(str)
		}
	}
	if cfg.Name == "" {
		return Config{}, fmt.Errorf("manifest has no name: %w", ErrSyntax)
	}
	if cfg.Author == "" {
		cfg.Author = "Unknown"
	}

	cfg.Type = TypeLens
	if raw, ok := s.Fields["plugin_type"]; ok {
		variant, ok := raw.(Struct)
		if !ok || variant.Name == "" {
			return Config{}, fmt.Errorf("manifest plugin_type must be a variant: %w", ErrSyntax)
		}
		cfg.Type = Type(variant.Name)
		if cfg.Type.Grants() == nil {
			return Config{}, fmt.Errorf("manifest plugin_type %q: %w", variant.Name, ErrSyntax)
		}
	}

	if raw, ok := s.Fields["user_settings"]; ok {
		m, ok := raw.(Map)
		if !ok {
			return Config{}, fmt.Errorf("manifest user_settings must be a map: %w", ErrSyntax)
		}
		cfg.UserSettings = make(map[string]string, len(m))
		for k, v := range m {
			str, ok := v.(Str)
			if !ok {
				return Config{}, fmt.Errorf("user setting %s must be a string: %w", k, ErrSyntax)
			}
			cfg.UserSettings[k] = string(str)
		}
	}
	return cfg, nil
}

// LoadManifest reads dir/plugin.ron.
func LoadManifest(dir string) (Config, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return Config{}, fmt.Errorf("read manifest: %w", err)
	}
	cfg, err := ParseManifest(data)
	if err != nil {
		return Config{}, err
	}
	cfg.Dir = dir
	return cfg, nil
}
