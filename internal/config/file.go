package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
)

// LoadFile reads a flat YAML mapping of setting names to values, e.g.
//
//	PORT: 8080
//	cache_backend: pebble
//	ws_allowed_origins: [app.example.com, "*.example.org"]
//
// Keys are matched case-insensitively against the environment variable
// names. Lists are joined with commas.
func LoadFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	out := make(map[string]string, len(raw))
	for k, v := range raw {
		key := strings.ToUpper(strings.TrimSpace(k))
		switch t := v.(type) {
		case nil:
		case []any:
			parts := make([]string, 0, len(t))
			for _, p := range t {
				parts = append(parts, fmt.Sprint(p))
			}
			out[key] = strings.Join(parts, ",")
		case map[string]any:
			return nil, fmt.Errorf("config file: %s must be a scalar or a list", k)
		default:
			out[key] = fmt.Sprint(t)
		}
	}
	return out, nil
}
