package catalog

import (
	"errors"
	"fmt"
)

// Constraint violations are reported as typed rejections. Not-found is never
// an error: lookups return a nil entity instead.
var (
	// ErrDuplicateName rejects a category name already used by an active
	// category.
	ErrDuplicateName = errors.New("catalog: duplicate category name")
	// ErrDuplicatePath rejects a photo whose source path is already
	// catalogued.
	ErrDuplicatePath = errors.New("catalog: duplicate photo path")
	// ErrCryptoSelfTest reports a failed codec canary round-trip at open.
	ErrCryptoSelfTest = errors.New("catalog: encryption self-test failed")
)

// StorageError wraps a failure of the underlying database so callers can
// distinguish disk trouble from domain rejections.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("catalog: storage failure in %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
