package config

import (
	"spout/internal/config/isb"
)

// LoadISBConfig delegates to the buffer config loader while centralizing
// loader entrypoints under internal/config. An empty path yields defaults
// overlaid with SPOUT_ISB__ env-vars.
func LoadISBConfig(path string) (isb.Config, error) {
	return isb.Load(path)
}
