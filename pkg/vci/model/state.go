package model

import "time"

// AuthorizationRequestPrepared is the state returned once an authorization
// request (optionally pushed via PAR) has been built, before the wallet has
// redirected the end user anywhere. It is the value a caller stores across
// the redirect boundary.
type AuthorizationRequestPrepared struct {
	AuthorizationURL string
	State            string
	PKCE             PKCEVerifier

	// RequestURI and its expiry are set only when PAR was used; empty
	// otherwise (invariant: a PAR-originated flow never falls back to a
	// bare query-string authorization request, spec.md §4.7).
	RequestURI          string
	RequestURIExpiresIn int

	// DPoPKeyID, if non-empty, names the DPoP key this authorization
	// request bound itself to, so the code exchange that follows reuses
	// the same key rather than silently minting a new one.
	DPoPKeyID string
}

// ResponseEncryptionSpec is the caller-declared key and algorithm used to
// request an encrypted credential response, when the issuer requires or
// offers one.
type ResponseEncryptionSpec struct {
	JWK string // caller's ephemeral public key, JSON-encoded JWK
	Alg string // e.g. "ECDH-ES"
	Enc string // e.g. "A128GCM"
}

// DPoPProof is a constructed-and-signed DPoP proof JWT, ready to attach as
// the "DPoP" request header.
type DPoPProof struct {
	JWT       string
	KeyID     string
	CreatedAt time.Time
}

// WalletState is the full opaque state a caller persists between steps of
// an issuance flow: nothing here is mutated in place — every transition in
// pkg/vci/authorizer and pkg/vci/requester returns a new value (spec.md
// §5's value-semantics requirement).
type WalletState struct {
	Offer      *CredentialOffer
	Prepared   *AuthorizationRequestPrepared
	Authorized *AuthorizedRequest
	DPoPKeyID  string
}
