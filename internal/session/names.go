package session

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
)

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName checks that name is usable as a directory and socket name.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid session name %q: must match %s", name, nameRegexp)
	}
	if name[0] == '-' {
		return fmt.Errorf("invalid session name %q: must not start with '-'", name)
	}
	return nil
}

// List returns the sessions that have a directory under BaseDir, sorted.
// Entries with invalid names are skipped.
func List() ([]string, error) {
	entries, err := os.ReadDir(SessionsDir())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && ValidateName(e.Name()) == nil {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}
