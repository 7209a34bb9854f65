package harvest

import (
	"errors"
	"strings"
)

// ValidateName checks that s can be used as a single path element for a term
// directory or an artifact name.
func ValidateName(s string) error {
	switch {
	case strings.TrimSpace(s) == "":
		return errors.New("name is empty")
	case s == "." || s == "..":
		return errors.New("name is a relative path element")
	case strings.ContainsAny(s, "/\\\x00"):
		return errors.New("name contains a path separator")
	}
	return nil
}
