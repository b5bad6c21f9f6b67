// Package pkce implements RFC 7636 Proof Key for Code Exchange, grounded on
// pkg/atproto/oauth/pkce.go's GeneratePKCE and par.go's generateCodeChallenge.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"

	vcierrors "github.com/jrschumacher/openid4vci/pkg/vci/errors"
	"github.com/jrschumacher/openid4vci/pkg/vci/model"
)

// Generate produces a fresh S256 code verifier/challenge pair.
func Generate() (model.PKCEVerifier, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return model.PKCEVerifier{}, vcierrors.Wrap(vcierrors.KindCryptographic, "generate pkce verifier", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(b)
	return model.PKCEVerifier{
		Verifier:  verifier,
		Challenge: challenge(verifier),
	}, nil
}

func challenge(verifier string) string {
	h := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(h[:])
}

// GenerateState produces a high-entropy random value for the OAuth "state"
// parameter, mirroring the teacher's generateRandomString but drawing from
// crypto/rand rather than math/rand (state must not be guessable).
func GenerateState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", vcierrors.Wrap(vcierrors.KindCryptographic, "generate oauth state", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
