// Package clientauth implements the wallet-side client authentication
// schemes an authorization server may require: the bare public-client form
// field (grounded on oauth/oauth.go's GetAuthURL), and Attestation-Based
// Client Authentication (grounded on oauth/par.go's CreateClientAssertion,
// generalized from single-JWT private_key_jwt to the two-header attested
// scheme and rebuilt on lestrrat-go/jwx/v2/jwt instead of hand-rolled JSON).
package clientauth

import (
	"crypto/ecdsa"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	vcierrors "github.com/jrschumacher/openid4vci/pkg/vci/errors"
)

// Authenticator attaches client authentication material to an outgoing
// token-endpoint (or PAR) form request.
type Authenticator interface {
	// Authenticate mutates form to add client_id and/or client_assertion
	// fields, and may set additional headers on req.
	Authenticate(req *http.Request, form map[string][]string, audience string) error
}

// Public implements the bare public-client scheme: only client_id is sent,
// no proof of possession of a client secret or key.
type Public struct {
	ClientID string
}

func (p Public) Authenticate(_ *http.Request, form map[string][]string, _ string) error {
	form["client_id"] = []string{p.ClientID}
	return nil
}

const attestationHeader = "OAuth-Client-Attestation"
const attestationPoPHeader = "OAuth-Client-Attestation-PoP"

// Attested implements Attestation-Based Client Authentication: a
// wallet-provider-issued attestation JWT is sent unmodified, alongside a
// fresh proof-of-possession JWT the wallet signs itself with the key the
// attestation binds to.
type Attested struct {
	ClientID       string
	AttestationJWT string // issued out-of-band by the wallet provider
	PoPKey         *ecdsa.PrivateKey
	PoPKeyID       string
}

func (a Attested) Authenticate(req *http.Request, form map[string][]string, audience string) error {
	form["client_id"] = []string{a.ClientID}

	pop, err := a.buildPoP(audience)
	if err != nil {
		return err
	}
	req.Header.Set(attestationHeader, a.AttestationJWT)
	req.Header.Set(attestationPoPHeader, pop)
	return nil
}

func (a Attested) buildPoP(audience string) (string, error) {
	token, err := jwt.NewBuilder().
		JwtID(uuid.NewString()).
		Issuer(a.ClientID).
		Audience([]string{audience}).
		IssuedAt(time.Now()).
		Expiration(time.Now().Add(60 * time.Second)).
		Build()
	if err != nil {
		return "", vcierrors.Wrap(vcierrors.KindCryptographic, "build client attestation pop claims", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.ES256, a.PoPKey))
	if err != nil {
		return "", vcierrors.Wrap(vcierrors.KindCryptographic, "sign client attestation pop", err)
	}
	return string(signed), nil
}
