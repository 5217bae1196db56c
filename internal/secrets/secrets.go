// Package secrets resolves credential references in configuration.
// A reference selects where the value lives: "env:REDIS_PASSWORD" reads
// an environment variable, "file:/run/secrets/redis" reads a mounted
// secret file (Docker and Kubernetes style), and anything else is taken
// as the literal value.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNotFound is returned when a referenced secret has no value.
var ErrNotFound = errors.New("secret not found")

const (
	envPrefix  = "env:"
	filePrefix = "file:"
)

// IsRef reports whether the string is a secret reference rather than a
// literal value.
func IsRef(s string) bool {
	return strings.HasPrefix(s, envPrefix) || strings.HasPrefix(s, filePrefix)
}

// Resolve expands a secret reference into its value. Literal values,
// including the empty string, pass through unchanged.
func Resolve(ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, envPrefix):
		return fromEnv(strings.TrimPrefix(ref, envPrefix))
	case strings.HasPrefix(ref, filePrefix):
		return fromFile(strings.TrimPrefix(ref, filePrefix))
	default:
		return ref, nil
	}
}

func fromEnv(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty environment variable name: %w", ErrNotFound)
	}
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", fmt.Errorf("environment variable %s not set: %w", key, ErrNotFound)
	}
	return value, nil
}

func fromFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("secret file %s: %w", path, ErrNotFound)
		}
		return "", fmt.Errorf("failed to read secret file %s: %w", path, err)
	}
	// Mounted secrets commonly carry a trailing newline.
	return strings.TrimRight(string(data), "\n\r"), nil
}
