package storage

import "errors"

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateSignal is returned when inserting a signal whose fingerprint
// already exists within the dedup window.
var ErrDuplicateSignal = errors.New("duplicate signal")
