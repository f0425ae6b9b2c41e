// Package secrets resolves credentials that may be provided through files,
// such as Docker or Kubernetes secret mounts.
package secrets

import (
	"fmt"
	"os"
	"strings"
)

// Resolve returns the password to use given an inline value and an optional file path.
//
// When path points to an existing file, its trimmed contents take precedence over
// the inline value. A missing file is not an error, matching the usual behavior of
// optional *_FILE environment variables.
func Resolve(password, path string) (string, error) {
	if path == "" {
		return password, nil
	}

	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return password, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read password file %s: %w", path, err)
	}

	return strings.TrimSpace(string(b)), nil
}
