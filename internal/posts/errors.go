package posts

import (
	"errors"
	"fmt"
)

// Sentinels matched through errors.Is by the typed errors below.
var (
	ErrValidation       = errors.New("invalid input")
	ErrNotFound         = errors.New("post not found")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Extension codes surfaced to GraphQL clients.
const (
	CodeBadUserInput     = "BAD_USER_INPUT"
	CodeNotFound         = "NOT_FOUND"
	CodeStoreUnavailable = "STORE_UNAVAILABLE"
)

// ValidationError reports malformed input. It is raised before any store call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func (e *ValidationError) Extensions() map[string]interface{} {
	return map[string]interface{}{"code": CodeBadUserInput, "field": e.Field}
}

// NotFoundError reports that no post has the referenced id.
type NotFoundError struct {
	ID int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("post %d not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func (e *NotFoundError) Extensions() map[string]interface{} {
	return map[string]interface{}{"code": CodeNotFound, "id": e.ID}
}

// StoreUnavailableError wraps a transient failure of the backing store.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

func (e *StoreUnavailableError) Is(target error) bool { return target == ErrStoreUnavailable }

func (e *StoreUnavailableError) Extensions() map[string]interface{} {
	return map[string]interface{}{"code": CodeStoreUnavailable}
}
