package requester

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwe"
	"github.com/lestrrat-go/jwx/v2/jwk"

	vcierrors "github.com/jrschumacher/openid4vci/pkg/vci/errors"
	"github.com/jrschumacher/openid4vci/pkg/vci/model"
)

// GenerateResponseEncryptionKey creates a fresh ephemeral P-256 key pair
// for requesting an encrypted credential response with the caller-supplied
// alg/enc pair; it does not check them against the issuer's advertised
// support. Mirrors pkg/atproto/jwt/parser.go's reliance
// on jwx/v2/jwk for key material, applied here to jwe instead of jws.
func GenerateResponseEncryptionKey(alg, enc string) (*ecdsa.PrivateKey, model.ResponseEncryptionSpec, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, model.ResponseEncryptionSpec{}, vcierrors.Wrap(vcierrors.KindCryptographic, "generate response encryption key", err)
	}
	pub, err := jwk.FromRaw(priv.PublicKey)
	if err != nil {
		return nil, model.ResponseEncryptionSpec{}, vcierrors.Wrap(vcierrors.KindCryptographic, "derive response encryption public jwk", err)
	}
	pubJSON, err := json.Marshal(pub)
	if err != nil {
		return nil, model.ResponseEncryptionSpec{}, vcierrors.Wrap(vcierrors.KindCryptographic, "marshal response encryption jwk", err)
	}
	return priv, model.ResponseEncryptionSpec{JWK: string(pubJSON), Alg: alg, Enc: enc}, nil
}

// decryptResponse decrypts a JWE-encrypted credential response body,
// returning the plaintext JSON the ordinary success-response unmarshaling
// path then decodes. enc (the content encryption algorithm) is read from
// the JWE header itself; only the key-management alg needs to be named.
func decryptResponse(priv *ecdsa.PrivateKey, alg string, ciphertext []byte) ([]byte, error) {
	keyAlg, err := keyEncryptionAlgorithm(alg)
	if err != nil {
		return nil, err
	}
	plaintext, err := jwe.Decrypt(ciphertext, jwe.WithKey(keyAlg, priv))
	if err != nil {
		return nil, vcierrors.Wrap(vcierrors.KindCryptographic, "decrypt credential response", err)
	}
	return plaintext, nil
}

func keyEncryptionAlgorithm(alg string) (jwa.KeyEncryptionAlgorithm, error) {
	switch alg {
	case "ECDH-ES":
		return jwa.ECDH_ES, nil
	case "ECDH-ES+A128KW":
		return jwa.ECDH_ES_A128KW, nil
	case "ECDH-ES+A256KW":
		return jwa.ECDH_ES_A256KW, nil
	default:
		return "", vcierrors.New(vcierrors.KindUnsupportedFeature, "unsupported response encryption alg").
			WithContext("alg", alg)
	}
}
