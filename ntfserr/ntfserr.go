// Package ntfserr defines the sentinel error categories surfaced by the
// core (§7): plain values in the style of parser.EntryTooShortError, meant
// to be wrapped with fmt.Errorf("...: %w", ...) at call sites so
// errors.Is keeps working across package boundaries.
package ntfserr

import "errors"

var (
	ErrNotFound     = errors.New("not-found")
	ErrExists       = errors.New("exists")
	ErrNoSpace      = errors.New("no-space")
	ErrNoRoom       = errors.New("no-room")
	ErrBadFormat    = errors.New("bad-format")
	ErrIO           = errors.New("io-error")
	ErrTooLarge     = errors.New("too-large")
	ErrNameTooLong  = errors.New("name-too-long")
	ErrNotEmpty     = errors.New("not-empty")
	ErrNotSupported = errors.New("not-supported")
	ErrReplayNeeded = errors.New("replay-needed")
)
