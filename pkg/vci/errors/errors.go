// Package errors defines the closed error taxonomy surfaced by pkg/vci.
//
// Every error the library returns to a caller can be unwrapped to an *Error
// carrying one of the Kind values below, so callers can branch on failure
// category instead of parsing message strings.
package errors

import (
	"errors"
	"fmt"
)

// Kind is a closed taxonomy of the ways an OpenID4VCI operation can fail.
type Kind int

const (
	// KindValidation covers malformed inputs: bad URLs, empty tokens,
	// unknown configuration ids, a missing required tx_code.
	KindValidation Kind = iota
	// KindMetadataInvalid covers unreachable discovery endpoints, missing
	// required metadata fields, or failed signed-metadata verification.
	KindMetadataInvalid
	// KindOfferInvalid covers an offer that cannot be parsed or that
	// references an unknown credential configuration.
	KindOfferInvalid
	// KindTransport covers network errors, timeouts, and non-OAuth
	// non-2xx responses.
	KindTransport
	// KindOAuthError covers a structured {error, error_description,
	// error_uri} response from an AS or issuer.
	KindOAuthError
	// KindInvalidProof is specific to the credential endpoint and always
	// carries a refreshed c_nonce in Context["c_nonce"].
	KindInvalidProof
	// KindCryptographic covers signing failures and JWE decryption
	// failures.
	KindCryptographic
	// KindUnsupportedFeature covers requests for behavior the issuer does
	// not advertise, e.g. identifier-based payloads.
	KindUnsupportedFeature
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindMetadataInvalid:
		return "metadata_invalid"
	case KindOfferInvalid:
		return "offer_invalid"
	case KindTransport:
		return "transport"
	case KindOAuthError:
		return "oauth_error"
	case KindInvalidProof:
		return "invalid_proof"
	case KindCryptographic:
		return "cryptographic"
	case KindUnsupportedFeature:
		return "unsupported_feature"
	default:
		return "unknown"
	}
}

// Error is the single error type returned across pkg/vci. Context carries
// structured detail (e.g. the refreshed c_nonce on KindInvalidProof, or the
// OAuth error/error_description pair on KindOAuthError) instead of folding
// everything into the message string.
type Error struct {
	Kind    Kind
	Msg     string
	Err     error
	Context map[string]string
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind with no wrapped cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an *Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// WithContext attaches structured context fields and returns the receiver
// for chaining at the call site.
func (e *Error) WithContext(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string, 1)
	}
	e.Context[key] = value
	return e
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error; ok is false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
