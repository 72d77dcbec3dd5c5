package backup

import "errors"

var (
	// ErrNotFound is returned when an operation references a backup id
	// that does not exist.
	ErrNotFound = errors.New("backup not found")

	// ErrNotCreated is returned when an operation requires a Created
	// entry but the referenced entry is Skipped.
	ErrNotCreated = errors.New("backup has no snapshot")
)
