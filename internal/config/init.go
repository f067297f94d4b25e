package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/zwright8/gateguard/internal/fileutil"
)

// starterProfileDoc seeds the profile directory with a commented example the
// operator can copy from.
const starterProfileDoc = `# Operator profile overrides. Each document may define or replace safe-bin
# profiles and add trusted directories. An override replaces the builtin
# profile of the same name wholesale.
#
# profiles:
#   - name: column
#     max_positional: 0
#     known_short_flags: "tx"
#     long_flags_taking_value: [separator]
#
# trusted_dirs:
#   - /opt/tools/bin
`

// WriteStarter writes the default configuration and a seed profile document,
// owner-only. An existing config file is never overwritten; policy the
// operator has tuned must not be reset by a re-run.
func WriteStarter(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat config: %w", err)
	}

	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("render default config: %w", err)
	}

	if err := fileutil.SecureMkdirAll(filepath.Dir(path)); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := fileutil.SecureWriteFile(path, data); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	if err := fileutil.SecureMkdirAll(cfg.Exec.ProfileDir); err != nil {
		return fmt.Errorf("create profile directory: %w", err)
	}
	seed := filepath.Join(cfg.Exec.ProfileDir, "00-example.yaml")
	if _, err := os.Stat(seed); os.IsNotExist(err) {
		if err := fileutil.SecureWriteFile(seed, []byte(starterProfileDoc)); err != nil {
			return fmt.Errorf("write starter profile: %w", err)
		}
	}

	log.Info("wrote starter config to %s", path)
	return nil
}
