package config

import (
	"github.com/kelseyhightower/envconfig"
)

// Secrets holds credentials sourced from environment variables only. They
// never live in the config file, so a config dump or a committed YAML cannot
// leak them.
type Secrets struct {
	// APIToken, when set, is required as a bearer token on every check-API
	// request.
	APIToken string `envconfig:"GATEGUARD_API_TOKEN"`
}

// LoadSecrets reads secrets from the environment.
func LoadSecrets() (*Secrets, error) {
	var s Secrets
	if err := envconfig.Process("", &s); err != nil {
		return nil, err
	}
	return &s, nil
}
