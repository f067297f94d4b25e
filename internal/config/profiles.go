package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/zwright8/gateguard/internal/execguard"
)

// validate is the shared validator instance for profile documents.
var validate = validator.New()

// ProfileDocument is one operator YAML file in the profile directory. Each
// file can define or override safe-bin profiles and add trusted directories.
type ProfileDocument struct {
	Profiles    []execguard.Profile `yaml:"profiles"`
	TrustedDirs []string            `yaml:"trusted_dirs" validate:"dive,startswith=/"`
}

// ProfileSet is the merged result of loading a profile directory.
type ProfileSet struct {
	Profiles    []execguard.Profile
	TrustedDirs []string
}

// Registry derives a registry from the builtins plus the loaded overrides.
// An override replaces a builtin profile wholesale; it can never silently
// weaken a builtin deny rule while keeping the rest of that profile.
func (s *ProfileSet) Registry() *execguard.Registry {
	return execguard.DefaultRegistry().With(s.Profiles...)
}

// LoadProfileDir loads every *.yaml document in dir, in lexical order so
// later files override earlier ones deterministically. A missing directory
// is not an error; a malformed or invalid document is, because a rejected
// operator override must be loud, not silently dropped.
func LoadProfileDir(dir string) (*ProfileSet, error) {
	set := &ProfileSet{}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug("profile directory %s does not exist", dir)
			return set, nil
		}
		return nil, fmt.Errorf("read profile directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		doc, err := loadProfileDocument(path)
		if err != nil {
			return nil, err
		}
		set.Profiles = append(set.Profiles, doc.Profiles...)
		set.TrustedDirs = append(set.TrustedDirs, doc.TrustedDirs...)
	}

	log.Info("loaded %d profile overrides, %d trusted dirs from %s",
		len(set.Profiles), len(set.TrustedDirs), dir)
	return set, nil
}

func loadProfileDocument(path string) (*ProfileDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var doc ProfileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := validate.Struct(&doc); err != nil {
		return nil, fmt.Errorf("validate %s: %w", path, err)
	}
	for i, p := range doc.Profiles {
		if p.Name == "" {
			return nil, fmt.Errorf("validate %s: profiles[%d] has no name", path, i)
		}
		if strings.ContainsRune(p.Name, '/') {
			return nil, fmt.Errorf("validate %s: profile name %q must be a bare executable name", path, p.Name)
		}
		if p.MaxPositional < execguard.Unbounded {
			return nil, fmt.Errorf("validate %s: profile %q max_positional %d", path, p.Name, p.MaxPositional)
		}
	}
	return &doc, nil
}
