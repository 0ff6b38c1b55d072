package registry

import (
	"github.com/pkg/errors"
)

var (
	// ErrNotFound means the named store, bundle, or asset does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists means a store with the given id already exists.
	// A store id cannot be recreated until it is explicitly deleted.
	ErrAlreadyExists = errors.New("already exists")
)

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Cause(err) == ErrNotFound
}

// IsAlreadyExists reports whether err is, or wraps, ErrAlreadyExists.
func IsAlreadyExists(err error) bool {
	return errors.Cause(err) == ErrAlreadyExists
}
