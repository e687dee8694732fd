package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// LoadEnvFile loads environment variables from a file and returns the path it
// loaded, or "" when none was found.
//
// Priority: explicit path > CONFIG_FILE env var > .env in the working
// directory. An explicitly named file must exist; a missing .env is ignored
// so OS environment variables alone are enough.
func LoadEnvFile(path string) (string, error) {
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}

	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return "", fmt.Errorf("failed to load config file %s: %w", path, err)
		}
		return path, nil
	}

	if err := godotenv.Load(); err != nil {
		return "", nil
	}
	return ".env", nil
}
