// Package issuer is the thin orchestrating facade wallets embed, grounded
// on pkg/atproto/oauth/provider.go's DefaultProvider (holds config plus
// lazily-resolved metadata, dispatches to sub-components, returns a fresh
// result value per call) and pkg/atproto/session's Manager interface style
// for the public API surface.
package issuer

import (
	"crypto/ecdsa"
	"net/http"

	"github.com/jrschumacher/openid4vci/pkg/vci/authorizer"
	"github.com/jrschumacher/openid4vci/pkg/vci/clientauth"
	"github.com/jrschumacher/openid4vci/pkg/vci/dpop"
)

// ClientConfig is the caller-supplied configuration for one wallet
// client, held for the lifetime of an Issuer.
type ClientConfig struct {
	ClientID    string
	RedirectURI string

	// AuthorizeFavor selects how credential configurations that expose
	// both a scope and a credential_configuration_id are requested.
	// Defaults to favoring scopes.
	AuthorizeFavor authorizer.AuthorizeFavor

	// ClientAuth is the authentication scheme this client uses at the
	// token/PAR endpoints. nil means public-client (bare client_id).
	ClientAuth clientauth.Authenticator

	// ProofKey signs issuance request proof JWTs. Required.
	ProofKey *ecdsa.PrivateKey

	// HTTPClient, if set, is used for all outbound requests; defaults to
	// http.DefaultClient.
	HTTPClient *http.Client

	// ResponseEncryptionAlg/Enc, if non-empty, requests an encrypted
	// credential response using a freshly generated ephemeral key.
	ResponseEncryptionAlg string
	ResponseEncryptionEnc string
}

// newDPoPSigner generates a fresh DPoP key pair; New calls it once for
// every Issuer it builds.
func newDPoPSigner() (*dpop.KeyPair, error) {
	return dpop.GenerateKeyPair()
}
