// Package errkind defines the sentinel error kinds shared across the state
// engine and reconciler, per the error handling design in SPEC_FULL.md §7.
package errkind

import "github.com/pkg/errors"

// Sentinel kinds. Wrap with errors.Wrapf(ErrX, "...") and compare with errors.Is.
var (
	// ErrConfigInvalid is fatal: the process should exit with status 1.
	ErrConfigInvalid = errors.New("configuration invalid")

	// ErrNotFound means a local entity referenced by an engine operation does
	// not exist on disk. No state-file change is made.
	ErrNotFound = errors.New("entity not found")

	// ErrRefreshInProgress is returned by queries that observe an organization
	// mid-refresh (its .remote/ staging directory is present).
	ErrRefreshInProgress = errors.New("refresh in progress")

	// ErrRemoteFailure wraps a failed remote call. The caller logs it and
	// leaves the corresponding state-file entry pending for the next push.
	ErrRemoteFailure = errors.New("remote call failed")

	// ErrInvariantViolation marks an attempt to violate the state lattice,
	// e.g. resurrecting a rule or ruleset tracked as deleted. Treated as a
	// programmer error by callers: never retried.
	ErrInvariantViolation = errors.New("invariant violation")
)

// Is reports whether err is (or wraps) one of the sentinel kinds above.
func Is(err, kind error) bool {
	return errors.Is(err, kind)
}
