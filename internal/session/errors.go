// Package session owns conversation sessions: the in-memory directory with
// per-session locks, the local SQL store, the audit log, GDPR retention,
// analytics and the best-effort remote mirror.
package session

import "errors"

var (
	ErrNotFound         = errors.New("session: not found")
	ErrClosed           = errors.New("session: closed")
	ErrExpired          = errors.New("session: expired")
	ErrStoreUnavailable = errors.New("session: local store unavailable")
)
