package simidx

import (
	"fmt"
	"regexp"
	"strings"
)

// Project identifiers start with an alphanumeric and continue with up to 127
// alphanumerics, dots, underscores, or hyphens.
var projectIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

const maxItemIDLen = 256

// ValidateProjectID reports whether id is an acceptable project identifier.
func ValidateProjectID(id string) error {
	if !projectIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidProjectID, id)
	}

	return nil
}

// ValidateItemID reports whether id is an acceptable item identifier. Item
// ids are embedded in blob keys, so path separators are rejected.
func ValidateItemID(id string) error {
	if id == "" || len(id) > maxItemIDLen || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidItemID, id)
	}

	return nil
}
