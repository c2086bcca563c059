// Package apperr holds the sentinel errors shared across marksite packages.
package apperr

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// Build-fatal conditions.
	ErrRootUnreadable     = errors.New("content root unreadable")
	ErrOutputUnwritable   = errors.New("output directory unwritable")
	ErrSymlinkUnsupported = errors.New("symlinks unsupported on this platform")
	ErrCanceled           = errors.New("build canceled")

	ErrLinkTrackingDisabled = errors.New("link tracking disabled")
	ErrInvalidConfig        = errors.New("invalid configuration")
)

// Exit codes returned by the build command.
const (
	ExitSuccess = 0
	ExitPartial = 1
	ExitFailure = 2
)

// Outcome is implemented by build reports.
type Outcome interface {
	Succeeded() int
	Failed() int
}

// ExitCode maps a build result onto the three-tier exit convention: 0 when
// nothing failed, 1 when some jobs failed, 2 when all jobs failed or the
// build aborted.
func ExitCode(o Outcome, err error) int {
	if err != nil {
		return ExitFailure
	}
	if o == nil || o.Failed() == 0 {
		return ExitSuccess
	}
	if o.Succeeded() == 0 {
		return ExitFailure
	}
	return ExitPartial
}

// IsFatal reports whether err aborts a build.
func IsFatal(err error) bool {
	return errors.Is(err, ErrRootUnreadable) ||
		errors.Is(err, ErrOutputUnwritable) ||
		errors.Is(err, ErrSymlinkUnsupported) ||
		errors.Is(err, ErrCanceled) ||
		errors.Is(err, ErrInvalidConfig)
}
