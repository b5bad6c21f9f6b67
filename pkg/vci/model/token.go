package model

import (
	"encoding/json"
	"time"
)

// TokenType discriminates the sender-constraining scheme bound to an access
// token; every outgoing request must use the matching scheme (invariant 5).
type TokenType int

const (
	TokenTypeBearer TokenType = iota
	TokenTypeDPoP
)

func (t TokenType) String() string {
	if t == TokenTypeDPoP {
		return "DPoP"
	}
	return "Bearer"
}

// ParseTokenType maps the wire token_type value to a TokenType, defaulting
// to Bearer for an empty or unrecognized value (matching RFC 6749 §5.1).
func ParseTokenType(s string) TokenType {
	switch s {
	case "DPoP", "dpop":
		return TokenTypeDPoP
	default:
		return TokenTypeBearer
	}
}

// CNonce is a server-issued nonce bound into the next issuance proof JWT.
// It is consumed at most once, by the next credential request in the same
// session (spec.md §5).
type CNonce struct {
	Value            string
	ExpiresInSeconds *int // present-or-absent; never fabricated (spec.md §9)
}

// IsExpired reports whether the nonce has a declared lifetime that elapsed
// since it was issued at issuedAt.
func (n *CNonce) IsExpired(issuedAt time.Time) bool {
	if n == nil || n.ExpiresInSeconds == nil {
		return false
	}
	return time.Now().After(issuedAt.Add(time.Duration(*n.ExpiresInSeconds) * time.Second))
}

// TokenResponse is the parsed token endpoint response body.
type TokenResponse struct {
	AccessToken          string
	TokenType            TokenType
	ExpiresIn            int64
	RefreshToken         string
	CNonce               *CNonce
	AuthorizationDetails json.RawMessage
}

// AuthorizedRequestState discriminates the two AuthorizedRequest variants.
type AuthorizedRequestState int

const (
	StateNoProofRequired AuthorizedRequestState = iota
	StateProofRequired
)

// AuthorizedRequest is the post-token-exchange state: either NoProofRequired
// (no c_nonce yet known) or ProofRequired (carries a non-expired c_nonce).
// Every transition in pkg/vci/authorizer and pkg/vci/requester consumes one
// value and returns a fresh one; stale values must not be reused.
type AuthorizedRequest struct {
	State        AuthorizedRequestState
	AccessToken  string
	RefreshToken string
	TokenType    TokenType
	CNonce       *CNonce
	IssuedAt     time.Time

	// DPoPKeyID binds this authorization to a specific DPoP signing key,
	// so a caller cannot accidentally mix keys across sessions.
	DPoPKeyID string
}

// WithCNonce returns a copy of the AuthorizedRequest transitioned into
// ProofRequired with the given nonce, used whenever a response carries a
// fresh c_nonce.
func (a AuthorizedRequest) WithCNonce(n *CNonce) AuthorizedRequest {
	a.CNonce = n
	if n != nil {
		a.State = StateProofRequired
	}
	a.IssuedAt = time.Now()
	return a
}
