package dpop

import (
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	vcierrors "github.com/jrschumacher/openid4vci/pkg/vci/errors"
	"github.com/jrschumacher/openid4vci/pkg/vci/model"
)

// Signer produces a DPoP proof JWT for one outbound request. *KeyPair is the
// default implementation; callers may substitute their own (e.g. an
// HSM-backed signer) as long as it can answer these three calls.
type Signer interface {
	CreateProof(method, targetURL, nonce, accessToken string) (model.DPoPProof, error)
	Thumbprint() (string, error)
	KeyID() string
}

// CreateProof builds a DPoP proof JWT bound to method and targetURL, per
// RFC 9449 §4.2, generalized from the teacher's
// CreateDPoPJWTWithAccessToken. nonce and accessToken may be empty.
func (k *KeyPair) CreateProof(method, targetURL, nonce, accessToken string) (model.DPoPProof, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return model.DPoPProof{}, vcierrors.Wrap(vcierrors.KindCryptographic, "invalid dpop target url", err)
	}
	htu := u.Scheme + "://" + u.Host + u.Path

	builder := jwt.NewBuilder().
		JwtID(uuid.NewString()).
		Claim("htm", method).
		Claim("htu", htu).
		IssuedAt(time.Now())

	if nonce != "" {
		builder = builder.Claim("nonce", nonce)
	}
	if accessToken != "" {
		hash := sha256.Sum256([]byte(accessToken))
		builder = builder.Claim("ath", base64.RawURLEncoding.EncodeToString(hash[:]))
	}

	token, err := builder.Build()
	if err != nil {
		return model.DPoPProof{}, vcierrors.Wrap(vcierrors.KindCryptographic, "build dpop proof claims", err)
	}

	hdrs := jws.NewHeaders()
	if err := hdrs.Set(jws.TypeKey, "dpop+jwt"); err != nil {
		return model.DPoPProof{}, vcierrors.Wrap(vcierrors.KindCryptographic, "set dpop proof typ", err)
	}
	if err := hdrs.Set(jws.JWKKey, k.publicJWK); err != nil {
		return model.DPoPProof{}, vcierrors.Wrap(vcierrors.KindCryptographic, "embed dpop proof jwk", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.ES256, k.PrivateKey, jws.WithProtectedHeaders(hdrs)))
	if err != nil {
		return model.DPoPProof{}, vcierrors.Wrap(vcierrors.KindCryptographic, "sign dpop proof", err)
	}

	return model.DPoPProof{
		JWT:       string(signed),
		KeyID:     k.ID,
		CreatedAt: time.Now(),
	}, nil
}
