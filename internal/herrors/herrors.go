// Package herrors classifies errors as fatal (configuration problems that
// should terminate a service) or transient (everything else — filesystem
// contention, a failed subprocess, a malformed target descriptor).
package herrors

import "errors"

// Fatal interface is implemented by errors that should cause process
// termination with a non-zero exit code (spec.md §6: "Service exits
// non-zero iff it cannot load configuration at startup").
type Fatal interface {
	Fatal() bool
}

type fatalErr struct {
	err error
}

func (f fatalErr) Error() string { return f.err.Error() }
func (f fatalErr) Unwrap() error { return f.err }
func (f fatalErr) Fatal() bool   { return true }

// WithFatal wraps err so IsFatal reports true for it.
func WithFatal(err error) error {
	if err == nil {
		return nil
	}
	return fatalErr{err}
}

// IsFatal returns true if err (or anything it wraps) was marked fatal via
// WithFatal. Unmarked errors are assumed transient, mirroring
// exterrors.IsTemporaryOrUnspec's "assume temporary by default" stance —
// here inverted to "assume non-fatal by default" since most of the pipeline's
// errors (a single series failing to route, one delivery attempt failing)
// must never halt the process (spec.md §7).
func IsFatal(err error) bool {
	var f Fatal
	if errors.As(err, &f) {
		return f.Fatal()
	}
	return false
}
