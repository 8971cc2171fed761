package directory

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Static is a Source backed by a map of users to their attributes.
type Static map[string]map[string]string

// LoadStatic reads a Static source from a YAML file of the form
//
//	usr1:
//	  st: Engineering
func LoadStatic(path string) (Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read static directory map: %w", err)
	}

	var s Static
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse static directory map %s: %w", path, err)
	}

	return s, nil
}

// Lookup implements Source.
func (s Static) Lookup(ctx context.Context, username, attribute string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	attrs, ok := s[username]
	if !ok {
		return "", ErrUserNotFound
	}

	return attrs[attribute], nil
}
