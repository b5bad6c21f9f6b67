package errors

import (
	"errors"
	"testing"
)

func TestKindOfUnwrapsError(t *testing.T) {
	err := New(KindOfferInvalid, "unknown configuration id")
	kind, ok := KindOf(err)
	if !ok {
		t.Fatal("expected KindOf to recognize *Error")
	}
	if kind != KindOfferInvalid {
		t.Errorf("kind = %v, want %v", kind, KindOfferInvalid)
	}
}

func TestKindOfWrappedError(t *testing.T) {
	inner := New(KindTransport, "connection refused")
	outer := errors.New("giving up") // not an *Error at all
	_ = outer
	wrapped := Wrap(KindTransport, "fetch failed", inner)
	kind, ok := KindOf(wrapped)
	if !ok || kind != KindTransport {
		t.Fatalf("KindOf(wrapped) = %v, %v; want %v, true", kind, ok, KindTransport)
	}
}

func TestKindOfNonLibraryError(t *testing.T) {
	_, ok := KindOf(errors.New("plain error"))
	if ok {
		t.Error("expected KindOf to return false for a non-library error")
	}
}

func TestWithContextChaining(t *testing.T) {
	err := New(KindInvalidProof, "bad proof").
		WithContext("c_nonce", "CN2").
		WithContext("c_nonce_expires_in", "5")
	if err.Context["c_nonce"] != "CN2" || err.Context["c_nonce_expires_in"] != "5" {
		t.Errorf("unexpected context: %+v", err.Context)
	}
}

func TestErrorMessageIncludesWrappedCause(t *testing.T) {
	inner := errors.New("boom")
	err := Wrap(KindCryptographic, "sign proof", inner)
	msg := err.Error()
	if msg == "" {
		t.Fatal("expected non-empty error message")
	}
	if errors.Unwrap(err) != inner {
		t.Error("expected Unwrap to return the wrapped cause")
	}
}
