package formats

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	vcierrors "github.com/jrschumacher/openid4vci/pkg/vci/errors"
)

func TestRegistryLookupKnownFormats(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"mso_mdoc", "dc+sd-jwt"} {
		if _, err := r.Lookup(name); err != nil {
			t.Errorf("Lookup(%q) = %v, want nil error", name, err)
		}
	}
}

func TestRegistryLookupUnknownFormat(t *testing.T) {
	r := NewRegistry()
	_, err := r.Lookup("ldp_vc")
	if err == nil {
		t.Fatal("expected an error for an unregistered format")
	}
	if kind, ok := vcierrors.KindOf(err); !ok || kind != vcierrors.KindUnsupportedFeature {
		t.Errorf("kind = %v, %v; want KindUnsupportedFeature, true", kind, ok)
	}
}

func TestMsoMdocDecodesWellFormedCBOR(t *testing.T) {
	payload, err := cbor.Marshal(map[string]interface{}{"docType": "eu.europa.ec.eudi.pid.1"})
	if err != nil {
		t.Fatalf("cbor.Marshal: %v", err)
	}
	raw := base64.RawURLEncoding.EncodeToString(payload)

	cred, err := MsoMdoc{}.DecodeCredential(raw)
	if err != nil {
		t.Fatalf("DecodeCredential: %v", err)
	}
	if cred.Format != "mso_mdoc" {
		t.Errorf("format = %q, want mso_mdoc", cred.Format)
	}
	if cred.Credential != raw {
		t.Errorf("credential payload was not preserved")
	}
}

func TestMsoMdocRejectsInvalidCBOR(t *testing.T) {
	raw := base64.RawURLEncoding.EncodeToString([]byte("not cbor"))
	if _, err := (MsoMdoc{}).DecodeCredential(raw); err == nil {
		t.Fatal("expected an error decoding non-CBOR payload")
	}
}

func TestMsoMdocRejectsInvalidBase64(t *testing.T) {
	if _, err := (MsoMdoc{}).DecodeCredential("not-base64url!!!"); err == nil {
		t.Fatal("expected an error decoding invalid base64url")
	}
}

func signedTestJWT(t *testing.T) string {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	token, err := jwt.NewBuilder().Issuer("https://issuer.example").Build()
	if err != nil {
		t.Fatalf("build claims: %v", err)
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.ES256, priv))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return string(signed)
}

func TestSDJWTVCDecodesLeadingJWT(t *testing.T) {
	raw := signedTestJWT(t) + "~disclosure1~disclosure2~"
	cred, err := SDJWTVC{}.DecodeCredential(raw)
	if err != nil {
		t.Fatalf("DecodeCredential: %v", err)
	}
	if cred.Format != "dc+sd-jwt" {
		t.Errorf("format = %q, want dc+sd-jwt", cred.Format)
	}
	if cred.Credential != raw {
		t.Error("expected raw disclosures to be preserved untouched")
	}
}

func TestSDJWTVCRejectsMalformedJWT(t *testing.T) {
	if _, err := (SDJWTVC{}).DecodeCredential("not-a-jwt~"); err == nil {
		t.Fatal("expected an error for a malformed leading JWT")
	}
}
