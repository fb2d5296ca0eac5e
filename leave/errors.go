package leave

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - the categories callers switch on
// =============================================================================

var (
	// ErrUnauthorized means there is no resolvable session.
	ErrUnauthorized = errors.New("unauthorized")

	ErrNotFound = errors.New("not found")

	// ErrAccessDenied means the caller is neither owner nor active member.
	ErrAccessDenied = errors.New("access denied")

	// ErrInsufficientPermission means the caller is a member but lacks the
	// permission the operation needs.
	ErrInsufficientPermission = errors.New("insufficient permission")

	ErrValidation = errors.New("validation failed")

	// ErrConflict covers uniqueness violations and deletes of policies in use.
	ErrConflict = errors.New("conflict")

	// ErrState means a transition was attempted from a status that does not
	// allow it, including losing a concurrent review race.
	ErrState = errors.New("invalid state")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

type NotFoundError struct {
	Kind string // "user", "workspace", "policy", "request", "member"
	Ref  string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %q not found", e.Kind, e.Ref) }
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

type AccessError struct {
	UserID      string
	WorkspaceID string
	Reason      string
}

func (e *AccessError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("access denied to workspace %s: %s", e.WorkspaceID, e.Reason)
	}
	return fmt.Sprintf("access denied to workspace %s", e.WorkspaceID)
}

func (e *AccessError) Unwrap() error { return ErrAccessDenied }

type PermissionError struct {
	UserID      string
	WorkspaceID string
	Permission  Permission
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("user %s lacks %s in workspace %s", e.UserID, e.Permission, e.WorkspaceID)
}

func (e *PermissionError) Unwrap() error { return ErrInsufficientPermission }

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

type ConflictError struct {
	Kind    string
	Message string
}

func (e *ConflictError) Error() string { return e.Kind + ": " + e.Message }
func (e *ConflictError) Unwrap() error { return ErrConflict }

type StateError struct {
	RequestID string
	Current   Status
	Wanted    Status
}

func (e *StateError) Error() string {
	if e.Current == "" {
		return fmt.Sprintf("request %s can no longer move to %s", e.RequestID, e.Wanted)
	}
	return fmt.Sprintf("request %s is %s and cannot move to %s", e.RequestID, e.Current, e.Wanted)
}

func (e *StateError) Unwrap() error { return ErrState }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError is true for every category the caller caused.
func IsClientError(err error) bool {
	for _, target := range []error{ErrUnauthorized, ErrNotFound, ErrAccessDenied, ErrInsufficientPermission, ErrValidation, ErrConflict, ErrState} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
