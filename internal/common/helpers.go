// Package common provides general utility helper functions and types
package common

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/wneessen/go-fileperm"
	"github.com/zeebo/xxh3"
	"gopkg.in/yaml.v3"
)

// ErrMissingConfig is returned when no config file path is provided.
var ErrMissingConfig = errors.New("config file path missing")

// TimeTrack tracks execution time of each function.
func TimeTrack(start time.Time, name string, logger *slog.Logger) {
	elapsed := time.Since(start)
	logger.Debug(name, "elapsed_time", elapsed)
}

// GetUUIDFromString returns a UUID5 for given slice of strings.
func GetUUIDFromString(stringSlice []string) (string, error) {
	s := strings.Join(stringSlice, ",")
	h := xxh3.HashString128(s).Bytes()
	uuid, err := uuid.FromBytes(h[:])

	return uuid.String(), err
}

// ExpandEnv replaces ${var} or $var in s with the values of the environment
// variables. `$$` is replaced by a literal `$` so that secrets containing a
// dollar sign can be written in config files.
func ExpandEnv(s string) string {
	return os.Expand(s, func(name string) string {
		if name == "$" {
			return "$"
		}

		return os.Getenv(name)
	})
}

// LoadEnvFile loads the variables of a dotenv file into the process
// environment. Variables that are already set are not overridden.
func LoadEnvFile(filePath string) error {
	if filePath == "" {
		return nil
	}

	if err := godotenv.Load(filePath); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", filePath, err)
	}

	return nil
}

// MakeConfig reads config file, expands environment variables in it and
// returns the unmarshalled config instance. Defaults are set by the
// UnmarshalYAML method of T, if any.
func MakeConfig[T any](filePath string) (*T, error) {
	// Create a new pointer to config instance
	config := new(T)

	if filePath == "" {
		return config, ErrMissingConfig
	}

	// Read config file
	configFile, err := os.ReadFile(filePath)
	if err != nil {
		return config, err
	}

	if err = yaml.Unmarshal([]byte(ExpandEnv(string(configFile))), config); err != nil {
		return config, err
	}

	return config, nil
}

// WarnIfReadableByOthers logs a warning when the file at filePath can be
// read by users other than its owner and group. Config files can hold
// database and directory credentials.
func WarnIfReadableByOthers(filePath string, logger *slog.Logger) {
	p, err := fileperm.New(filePath)
	if err != nil {
		logger.Debug("Failed to get file permissions", "path", filePath, "err", err)

		return
	}

	if p.Stat.Mode().Perm()&fileperm.OsOthR != 0 {
		logger.Warn(
			"Config file is readable by other users. Consider restricting its permissions",
			"path", filePath, "mode", p.Stat.Mode().Perm().String(),
		)
	}
}
