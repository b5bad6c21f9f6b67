// Package dpop implements RFC 9449 Demonstration of Proof-of-Possession:
// key generation, proof construction, and nonce bookkeeping, generalized
// from pkg/atproto/oauth/dpop.go's single-cookie-bound implementation into
// a reusable engine keyed by issuer+authorization-server origin.
package dpop

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwk"

	vcierrors "github.com/jrschumacher/openid4vci/pkg/vci/errors"
)

// KeyPair is an ECDSA P-256 signing key used to produce DPoP proofs.
type KeyPair struct {
	ID         string
	PrivateKey *ecdsa.PrivateKey
	publicJWK  jwk.Key
}

// GenerateKeyPair creates a fresh P-256 DPoP key, per spec.md's default
// profile (ES256 only; other algorithms are a Non-goal).
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, vcierrors.Wrap(vcierrors.KindCryptographic, "generate dpop key", err)
	}
	return newKeyPair(priv)
}

func newKeyPair(priv *ecdsa.PrivateKey) (*KeyPair, error) {
	pub, err := jwk.FromRaw(priv.PublicKey)
	if err != nil {
		return nil, vcierrors.Wrap(vcierrors.KindCryptographic, "derive dpop public jwk", err)
	}
	if err := pub.Set(jwk.AlgorithmKey, "ES256"); err != nil {
		return nil, vcierrors.Wrap(vcierrors.KindCryptographic, "set dpop jwk alg", err)
	}
	return &KeyPair{
		ID:         uuid.NewString(),
		PrivateKey: priv,
		publicJWK:  pub,
	}, nil
}

// EncodeToPEM serializes the private key for storage between process runs,
// mirroring the teacher's cookie-persisted PEM encoding.
func (k *KeyPair) EncodeToPEM() (string, error) {
	b, err := x509.MarshalECPrivateKey(k.PrivateKey)
	if err != nil {
		return "", vcierrors.Wrap(vcierrors.KindCryptographic, "marshal dpop private key", err)
	}
	block := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: b})
	return base64.RawURLEncoding.EncodeToString(block), nil
}

// DecodeKeyPairFromPEM reconstructs a KeyPair previously produced by
// EncodeToPEM, preserving its KeyID so DPoP-bound sessions survive restarts.
func DecodeKeyPairFromPEM(id, pemStr string) (*KeyPair, error) {
	raw, err := base64.RawURLEncoding.DecodeString(pemStr)
	if err != nil {
		return nil, vcierrors.Wrap(vcierrors.KindCryptographic, "decode dpop pem", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, vcierrors.New(vcierrors.KindCryptographic, "invalid dpop pem block")
	}
	priv, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, vcierrors.Wrap(vcierrors.KindCryptographic, "parse dpop private key", err)
	}
	kp, err := newKeyPair(priv)
	if err != nil {
		return nil, err
	}
	if id != "" {
		kp.ID = id
	}
	return kp, nil
}

// PublicJWK returns the public key as a JWK, embedded in every proof's
// header per RFC 9449 §4.2.
func (k *KeyPair) PublicJWK() jwk.Key { return k.publicJWK }

// KeyID returns the identifier this KeyPair was generated or decoded with,
// used to bind an AuthorizedRequest to the DPoP key it was minted under.
func (k *KeyPair) KeyID() string { return k.ID }

// Thumbprint returns the RFC 7638 JWK thumbprint of the public key, used as
// the "jkt" confirmation value servers bind access tokens to.
func (k *KeyPair) Thumbprint() (string, error) {
	digest, err := k.publicJWK.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", vcierrors.Wrap(vcierrors.KindCryptographic, "compute dpop jwk thumbprint", err)
	}
	return base64.RawURLEncoding.EncodeToString(digest), nil
}
