package repository

import "github.com/ajspantry/pantry-offline/internal/errors"

var (
	// ErrBucketNotFound is returned when a named bucket does not exist.
	ErrBucketNotFound = errors.NewStd("cache bucket not found")
	// ErrEntryNotFound is returned when a bucket has no entry for a key.
	ErrEntryNotFound = errors.NewStd("cache entry not found")
)
