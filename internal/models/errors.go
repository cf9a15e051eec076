package models

import "fmt"

// ErrorKind classifies per-message failures in the sync protocol
type ErrorKind int

const (
	KindAuth ErrorKind = iota
	KindNotFound
	KindForbidden
	KindPatchFailed
	KindPersistence
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindPatchFailed:
		return "patch_failed"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// SyncError is a typed failure local to one session's request.
// The engine never terminates a room because of one of these.
type SyncError struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *SyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *SyncError) Unwrap() error { return e.Err }

// ErrNotFound builds a NotFound error
func ErrNotFound(detail string) *SyncError {
	return &SyncError{Kind: KindNotFound, Detail: detail}
}

// ErrForbidden builds a Forbidden error
func ErrForbidden(detail string) *SyncError {
	return &SyncError{Kind: KindForbidden, Detail: detail}
}

// ErrAuth builds an authentication error
func ErrAuth(detail string) *SyncError {
	return &SyncError{Kind: KindAuth, Detail: detail}
}

// ErrPersistence wraps a storage failure
func ErrPersistence(detail string, err error) *SyncError {
	return &SyncError{Kind: KindPersistence, Detail: detail, Err: err}
}
