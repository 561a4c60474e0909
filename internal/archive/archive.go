// Package archive keeps copies of dispatched messages. Backends store opaque
// objects under slash-separated keys; Sealed wraps a backend so objects are
// encrypted before they leave the process.
package archive

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Get when no object is stored under the key.
var ErrNotFound = errors.New("archive object not found")

// ValidateKey rejects keys that could escape a backend's root.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("archive key must not be empty")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("invalid archive key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("invalid archive key %q", key)
		}
	}
	return nil
}
