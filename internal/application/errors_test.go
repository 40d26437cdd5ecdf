package application

import (
	"errors"
	"fmt"
	"testing"

	"github.com/example/astro-consult/internal/crypto"
)

func TestValidationError(t *testing.T) {
	vErr := &ValidationError{}
	if vErr.HasErrors() {
		t.Fatal("empty validation error reports errors")
	}

	vErr.add("text", "text is required")
	if !vErr.HasErrors() {
		t.Fatal("expected recorded errors")
	}
	if vErr.FieldErrors["text"] != "text is required" {
		t.Fatalf("unexpected field errors: %v", vErr.FieldErrors)
	}
	if vErr.Error() == "" {
		t.Fatal("Error() returned an empty string")
	}
}

func TestErrorKind(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrUnauthorized, "unauthorized"},
		{ErrNotFound, "not_found"},
		{ErrNotLive, "not_live"},
		{ErrInvalidTransition, "invalid_transition"},
		{ErrStorageTimeout, "storage_timeout"},
		{crypto.ErrKeyAgreement, "key_agreement"},
		{crypto.ErrInvalidKeyLength, "invalid_key_length"},
		{crypto.ErrCrypto, "crypto"},
		{fmt.Errorf("wrapped: %w", ErrNotLive), "not_live"},
		{&ValidationError{FieldErrors: map[string]string{"a": "b"}}, "validation"},
		{errors.New("boom"), "unexpected"},
	}

	for _, tc := range cases {
		if got := ErrorKind(tc.err); got != tc.want {
			t.Errorf("ErrorKind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
