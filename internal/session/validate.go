package session

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidName marks a session name that cannot name a session directory.
var ErrInvalidName = errors.New("invalid session name")

var sessionName = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName accepts 1 to 64 lowercase letters, digits, '-' or '_'.
func ValidateName(name string) error {
	if sessionName.MatchString(name) {
		return nil
	}
	return fmt.Errorf("%w %q: use 1-64 of a-z, 0-9, '-' and '_'", ErrInvalidName, name)
}
