package util

import (
	"errors"
	"fmt"
)

// CleanupOnErr runs cleanup if the function deferring it returns an error or panics. A cleanup failure is joined into
// the returned error. A panic is re-raised once cleanup is done.
//
// It must be deferred directly, with a named error result:
//
//	defer util.CleanupOnErr(&retErr, db.Close)
func CleanupOnErr(retErr *error, cleanup func() error) {
	// retErr is a pointer so that its final value is read, not its value when the defer was created
	p := recover()
	if *retErr == nil && p == nil {
		return
	}
	if err := cleanup(); err != nil && p == nil {
		*retErr = errors.Join(*retErr, fmt.Errorf("cleaning up: %w", err))
	}
	if p != nil {
		panic(p)
	}
}
