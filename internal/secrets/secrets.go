package secrets

import (
	"fmt"
	"os"
	"strings"
)

// Get resolves a secret from the environment, preferring the Docker
// secrets convention: if KEY_FILE is set, the file's contents win over KEY.
func Get(envKey string, defaultValue string) (string, error) {
	filePathKey := envKey + "_FILE"
	if filePath := os.Getenv(filePathKey); filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("read secret file %s: %w", filePath, err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	if value := os.Getenv(envKey); value != "" {
		return value, nil
	}

	return defaultValue, nil
}

// GetOptional resolves a secret and swallows file read errors, falling back
// to the default. Used for secrets the service can run without.
func GetOptional(envKey string, defaultValue string) string {
	value, err := Get(envKey, defaultValue)
	if err != nil {
		return defaultValue
	}
	return value
}
