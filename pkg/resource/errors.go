package resource

import "errors"

var (
	// ErrConflict is returned by providers when a resource name is already taken.
	ErrConflict = errors.New("resource name already exists")

	// ErrNotFound is returned by providers when a resource no longer exists.
	ErrNotFound = errors.New("resource not found")
)

// IsConflict reports whether err is a name conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsNotFound reports whether err means the resource is gone.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
