package partialeval

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// LoadOptions reads evaluator options from a YAML (.yaml, .yml) or TOML
// (.toml) file. Settings missing from the file keep their defaults.
func LoadOptions(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("failed to read options: %w", err)
	}
	return ParseOptions(data, filepath.Ext(path))
}

// ParseOptions decodes options in the format named by ext.
func ParseOptions(data []byte, ext string) (Options, error) {
	opts := DefaultOptions()
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &opts); err != nil {
			return Options{}, fmt.Errorf("failed to parse YAML options: %w", err)
		}
	case "toml":
		md, err := toml.Decode(string(data), &opts)
		if err != nil {
			return Options{}, fmt.Errorf("failed to parse TOML options: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return Options{}, fmt.Errorf("unknown TOML option %q", undecoded[0].String())
		}
	default:
		return Options{}, fmt.Errorf("unsupported options format %q (want .yaml, .yml or .toml)", ext)
	}
	if err := opts.Validate(); err != nil {
		return Options{}, fmt.Errorf("invalid options: %w", err)
	}
	return opts, nil
}
