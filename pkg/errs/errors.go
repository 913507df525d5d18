// Package errs defines the four error kinds the pipeline can fail with
// (§7): Load, EmptyCorpus, InvariantViolation, Cancelled. Every kind wraps
// a sentinel base error with github.com/go-faster/errors so callers can
// test with stdlib errors.Is/errors.As regardless of which stage produced
// it.
package errs

import "github.com/go-faster/errors"

// Sentinel base errors. A caller identifies the kind of a returned error
// with errors.Is(err, errs.ErrLoad) etc.
var (
	ErrLoad               = errors.New("load")
	ErrEmptyCorpus        = errors.New("empty corpus")
	ErrInvariantViolation = errors.New("invariant violation")
	ErrCancelled          = errors.New("cancelled")
)

// Load wraps an unreachable/unparseable source error (§4.1).
func Load(format string, args ...any) error {
	return errors.Wrapf(ErrLoad, format, args...)
}

// EmptyCorpus reports that zero sites survived filtering; callers surface
// this as "insufficient data: found N sites, minimum required: M" (§7).
func EmptyCorpus(found, minimum int) error {
	return errors.Wrapf(ErrEmptyCorpus, "insufficient data: found %d sites, minimum required: %d", found, minimum)
}

// InvariantViolation reports a PatternData (or other data-model) invariant
// failure, naming the offending pattern key. Treated as a bug, not a
// recoverable condition (§7, §8 invariant 1).
func InvariantViolation(pattern, detail string) error {
	return errors.Wrapf(ErrInvariantViolation, "pattern %q: %s", pattern, detail)
}

// Cancelled reports that a caller deadline or explicit cancellation fired
// at the named stage boundary (§5, §7).
func Cancelled(stage string) error {
	return errors.Wrapf(ErrCancelled, "stage %q", stage)
}
