package parse

import (
	"errors"
	"fmt"
	"strings"
)

// Separator joins a location and a device ID into a document path.
const Separator = "/"

// ErrInvalidPath is returned when a document path or one of its parts is malformed.
var ErrInvalidPath = errors.New("invalid device path")

// JoinPath builds the document path "<location>/<id>".
func JoinPath(location, id string) string {
	return location + Separator + id
}

// ValidatePart reports whether s can be used as a location or device ID.
func ValidatePart(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: empty component", ErrInvalidPath)
	}
	if strings.Contains(s, Separator) {
		return fmt.Errorf("%w: %q contains %q", ErrInvalidPath, s, Separator)
	}
	return nil
}

// ParsePath splits a document path back into its location and device ID.
func ParsePath(path string) (location, id string, err error) {
	parts := strings.Split(path, Separator)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	if err := ValidatePart(parts[0]); err != nil {
		return "", "", err
	}
	if err := ValidatePart(parts[1]); err != nil {
		return "", "", err
	}
	return parts[0], parts[1], nil
}
