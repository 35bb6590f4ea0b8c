package db

import "fmt"

// PersistenceError reports a failed datastore write. It is never retried silently.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// WrapWrite returns nil for a nil err, otherwise a *PersistenceError for op.
func WrapWrite(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}
