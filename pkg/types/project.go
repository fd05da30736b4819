package types

import (
	"errors"
	"fmt"
	"regexp"
)

// MaxIDLength matches the width of the id columns in Postgres.
const MaxIDLength = 64

var ErrInvalidProjectID = errors.New("invalid project id")

// Project ids become part of Redis key names, so ':' and anything else
// outside this set is refused.
var projectIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

func ValidProjectID(id string) bool {
	return projectIDPattern.MatchString(id)
}

func ValidateProjectID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: projectId is required", ErrInvalidProjectID)
	}
	if !ValidProjectID(id) {
		return fmt.Errorf("%w: %q must be 1-%d letters, digits, '-' or '_'", ErrInvalidProjectID, id, MaxIDLength)
	}
	return nil
}
