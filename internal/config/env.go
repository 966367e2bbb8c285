package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvIRCToken    = "REPLYBOT_IRC_TOKEN"
	EnvStoragePath = "REPLYBOT_STORAGE_PATH"
	// EnvDatabaseURL is accepted as an alias of EnvStoragePath.
	EnvDatabaseURL = "DATABASE_URL"
)

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Existing variables win; a missing file is not an error.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// applyEnv overlays secrets and deployment-specific values from the environment.
func applyEnv(cfg *Config, getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(getenv(EnvIRCToken)); v != "" {
		cfg.IRC.Token = v
	}
	if v := strings.TrimSpace(getenv(EnvDatabaseURL)); v != "" {
		cfg.Storage.Path = v
	}
	if v := strings.TrimSpace(getenv(EnvStoragePath)); v != "" {
		cfg.Storage.Path = v
	}
}
