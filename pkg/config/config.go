package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Load loads configuration from a file and environment variables.
// prefix: Environment variable prefix (e.g. "BUNVIEW_")
// file: optional config file (yaml, json, toml); ".env" is tried when empty
// target: Pointer to the config struct to load into
//
// Environment keys use "__" for nesting and keep single underscores:
// BUNVIEW_LOG__LEVEL -> log.level, BUNVIEW_PROJECT_ID -> project_id.
func Load(prefix, file string, target interface{}) error {
	v := viper.New()

	// 1. Load from file (if any)
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", file, err)
		}
	} else if _, err := os.Stat(".env"); err == nil {
		v.SetConfigFile(".env")
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return fmt.Errorf("failed to read .env: %w", err)
			}
		}
	}

	// 2. Load from environment variables
	// Viper's AutomaticEnv doesn't work with Unmarshal when keys aren't known up
	// front, so env vars are copied into viper explicitly.
	for key, value := range Environ(prefix) {
		v.Set(key, value)
	}

	// 3. Unmarshal into struct
	if err := v.Unmarshal(target); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return nil
}

// Environ returns the prefixed environment as viper keys.
func Environ(prefix string) map[string]string {
	prefixUpper := strings.ToUpper(prefix)
	out := make(map[string]string)
	for _, envStr := range os.Environ() {
		key, value, ok := strings.Cut(envStr, "=")
		if !ok || !strings.HasPrefix(key, prefixUpper) {
			continue
		}
		propKey := strings.TrimPrefix(key, prefixUpper)
		propKey = strings.TrimPrefix(propKey, "_")
		propKey = strings.ToLower(strings.ReplaceAll(propKey, "__", "."))
		if propKey == "" {
			continue
		}
		out[propKey] = value
	}
	return out
}
