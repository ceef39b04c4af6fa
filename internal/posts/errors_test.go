package posts

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNotFoundError_NamesID(t *testing.T) {
	err := &NotFoundError{ID: 99}
	if !strings.Contains(err.Error(), "99") {
		t.Errorf("expected message to name id 99, got %q", err.Error())
	}
	if err.Extensions()["code"] != CodeNotFound {
		t.Errorf("expected code %s, got %v", CodeNotFound, err.Extensions()["code"])
	}
}

func TestErrorsMatchSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"validation", &ValidationError{Field: "title", Reason: "must not be empty"}, ErrValidation},
		{"not_found", &NotFoundError{ID: 1}, ErrNotFound},
		{"unavailable", &StoreUnavailableError{Op: "create", Err: errors.New("conn refused")}, ErrStoreUnavailable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := fmt.Errorf("resolver: %w", tc.err)
			if !errors.Is(wrapped, tc.sentinel) {
				t.Errorf("expected %v to match %v", wrapped, tc.sentinel)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	blank := "   "
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"new_ok", NewPost{Title: "A"}.Validate(), false},
		{"new_empty_title", NewPost{Title: ""}.Validate(), true},
		{"new_blank_title", NewPost{Title: blank}.Validate(), true},
		{"patch_empty", PostPatch{}.Validate(), false},
		{"patch_blank_title", PostPatch{Title: &blank}.Validate(), true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if (tc.err != nil) != tc.wantErr {
				t.Errorf("wantErr=%v, got %v", tc.wantErr, tc.err)
			}
			if tc.err != nil && !errors.Is(tc.err, ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", tc.err)
			}
		})
	}
}
