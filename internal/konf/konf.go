// Package konf is the shared koanf loader used by every source and buffer
// config: an optional YAML file overlaid with prefixed environment variables.
package konf

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const SupportedSchema = "v1"

// Load merges YAML at path (a missing file is not an error) with env-vars
// named <envPrefix><key>, nested keys separated by `__`. For example
// SPOUT_KAFKA__BACKPRESSURE__CAPACITY sets backpressure.capacity.
func Load(path, envPrefix string) (*koanf.Koanf, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	// schema version check (only when YAML is present)
	if sv := k.String("schema_version"); sv != "" && sv != SupportedSchema {
		return nil, fmt.Errorf("%s: schema_version %q not supported (want %s)", path, sv, SupportedSchema)
	}

	if envPrefix != "" {
		if err := k.Load(env.Provider(envPrefix, ".", EnvKey(envPrefix)), nil); err != nil {
			return nil, err
		}
	}
	return k, nil
}

// EnvKey maps SPOUT_X__A__B_C to a.b_c.
func EnvKey(prefix string) func(string) string {
	return func(s string) string {
		s = strings.TrimPrefix(s, prefix)
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	}
}
