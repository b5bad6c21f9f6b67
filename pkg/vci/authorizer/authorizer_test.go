package authorizer

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/jrschumacher/openid4vci/internal/testutil"
	"github.com/jrschumacher/openid4vci/pkg/vci/clientauth"
	"github.com/jrschumacher/openid4vci/pkg/vci/dpop"
	"github.com/jrschumacher/openid4vci/pkg/vci/fetcher"
	"github.com/jrschumacher/openid4vci/pkg/vci/model"
)

func asMetadataFromWireMap(t *testing.T, wire map[string]interface{}) *model.AuthorizationServerMetadata {
	t.Helper()
	body, err := json.Marshal(wire)
	if err != nil {
		t.Fatalf("marshal AS metadata fixture: %v", err)
	}
	meta, err := model.ParseAuthorizationServerMetadata(body)
	if err != nil {
		t.Fatalf("ParseAuthorizationServerMetadata: %v", err)
	}
	return meta
}

// TestPushAuthorizationRequestRecoversFromDPoPNonceChallenge is spec.md §8
// scenario S2: the first PAR POST is challenged with 401 use_dpop_nonce,
// and the retry carrying the returned nonce succeeds.
func TestPushAuthorizationRequestRecoversFromDPoPNonceChallenge(t *testing.T) {
	fas := testutil.NewFakeAS(t)
	attempts := 0
	fas.ParHandler = func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			proof, err := jwt.Parse([]byte(r.Header.Get("DPoP")), jwt.WithVerify(false), jwt.WithValidate(false))
			if err != nil {
				t.Errorf("parse DPoP proof: %v", err)
			} else if nonce, ok := proof.Get("nonce"); ok {
				t.Errorf("first attempt should not carry a stored nonce, DPoP proof nonce = %v", nonce)
			}
			w.Header().Set("DPoP-Nonce", "N1")
			testutil.WriteJSON(t, w, http.StatusUnauthorized, map[string]string{"error": "use_dpop_nonce"})
			return
		}
		form := testutil.ParseForm(t, r)
		if form.Get("client_id") != "wallet-123" {
			t.Errorf("client_id = %q", form.Get("client_id"))
		}
		testutil.WriteJSON(t, w, http.StatusCreated, map[string]interface{}{
			"request_uri": "urn:ietf:params:oauth:request_uri:abc123",
			"expires_in":  90,
		})
	}

	kp, err := dpop.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	a := &Authorizer{
		Fetcher:     fetcher.New(fas.Server.Client()),
		DPoP:        kp,
		Nonces:      dpop.NewNonceStore(),
		ClientAuth:  clientauth.Public{ClientID: "wallet-123"},
		ClientID:    "wallet-123",
		RedirectURI: "https://wallet.example/callback",
	}

	meta := asMetadataFromWireMap(t, fas.DefaultMetadata())

	prepared, err := a.PushAuthorizationRequest(context.Background(), meta, []model.CredentialMetadata{{Kind: model.CredentialByScope, ConfigurationID: "pid_sd_jwt", Scope: "openid"}}, FavorScopes, "")
	if err != nil {
		t.Fatalf("PushAuthorizationRequest: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected exactly 2 PAR attempts, got %d", attempts)
	}
	if prepared.RequestURI != "urn:ietf:params:oauth:request_uri:abc123" {
		t.Errorf("RequestURI = %q", prepared.RequestURI)
	}
	if prepared.AuthorizationURL == "" {
		t.Fatal("expected a non-empty authorization URL")
	}
}

// TestAuthorizeWithPreAuthorizedCode is spec.md §8 scenario S1: the token
// request carries the pre-authorized_code grant and the end-user tx_code.
func TestAuthorizeWithPreAuthorizedCode(t *testing.T) {
	fas := testutil.NewFakeAS(t)
	fas.TokenHandler = func(w http.ResponseWriter, r *http.Request) {
		form := testutil.ParseForm(t, r)
		if got := form.Get("grant_type"); got != "urn:ietf:params:oauth:grant-type:pre-authorized_code" {
			t.Errorf("grant_type = %q", got)
		}
		if got := form.Get("pre-authorized_code"); got != "PRE-123" {
			t.Errorf("pre-authorized_code = %q", got)
		}
		if got := form.Get("tx_code"); got != "1234" {
			t.Errorf("tx_code = %q", got)
		}
		testutil.WriteJSON(t, w, http.StatusOK, map[string]interface{}{
			"access_token": "AT1",
			"token_type":   "DPoP",
			"expires_in":   3600,
		})
	}

	kp, err := dpop.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	a := &Authorizer{
		Fetcher:    fetcher.New(fas.Server.Client()),
		DPoP:       kp,
		Nonces:     dpop.NewNonceStore(),
		ClientAuth: clientauth.Public{ClientID: "wallet-123"},
		ClientID:   "wallet-123",
	}

	authorized, err := a.AuthorizeWithPreAuthorizedCode(context.Background(), fas.Server.URL+"/token", "PRE-123", "1234")
	if err != nil {
		t.Fatalf("AuthorizeWithPreAuthorizedCode: %v", err)
	}
	if authorized.AccessToken != "AT1" {
		t.Errorf("access token = %q", authorized.AccessToken)
	}
	if authorized.TokenType != model.TokenTypeDPoP {
		t.Errorf("token type = %v, want DPoP", authorized.TokenType)
	}
}

// TestRequestAccessTokenPKCEVerifierMatchesChallenge is invariant 2: the
// PKCE verifier sent at token exchange must hash (SHA-256, base64url, no
// padding) to the code_challenge value that was sent at the authorization
// step.
func TestRequestAccessTokenPKCEVerifierMatchesChallenge(t *testing.T) {
	fas := testutil.NewFakeAS(t)

	var sentChallenge string
	fas.ParHandler = func(w http.ResponseWriter, r *http.Request) {
		form := testutil.ParseForm(t, r)
		sentChallenge = form.Get("code_challenge")
		testutil.WriteJSON(t, w, http.StatusCreated, map[string]interface{}{
			"request_uri": "urn:ietf:params:oauth:request_uri:xyz",
			"expires_in":  60,
		})
	}
	var sentVerifier string
	fas.TokenHandler = func(w http.ResponseWriter, r *http.Request) {
		form := testutil.ParseForm(t, r)
		sentVerifier = form.Get("code_verifier")
		testutil.WriteJSON(t, w, http.StatusOK, map[string]interface{}{
			"access_token": "AT2",
			"token_type":   "DPoP",
			"expires_in":   3600,
		})
	}

	kp, err := dpop.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	a := &Authorizer{
		Fetcher:     fetcher.New(fas.Server.Client()),
		DPoP:        kp,
		Nonces:      dpop.NewNonceStore(),
		ClientAuth:  clientauth.Public{ClientID: "wallet-123"},
		ClientID:    "wallet-123",
		RedirectURI: "https://wallet.example/callback",
	}

	meta := asMetadataFromWireMap(t, fas.DefaultMetadata())
	prepared, err := a.PushAuthorizationRequest(context.Background(), meta, []model.CredentialMetadata{{Kind: model.CredentialByScope, ConfigurationID: "pid_sd_jwt", Scope: "openid"}}, FavorScopes, "")
	if err != nil {
		t.Fatalf("PushAuthorizationRequest: %v", err)
	}

	if _, err := a.RequestAccessToken(context.Background(), fas.Server.URL+"/token", "AUTHCODE1", prepared.PKCE); err != nil {
		t.Fatalf("RequestAccessToken: %v", err)
	}

	sum := sha256.Sum256([]byte(sentVerifier))
	wantChallenge := base64.RawURLEncoding.EncodeToString(sum[:])
	if wantChallenge != sentChallenge {
		t.Errorf("sha256(verifier) = %q, want sent challenge %q", wantChallenge, sentChallenge)
	}
}

// TestAttestedClientAuthenticationAtTokenEndpoint is spec.md §8 scenario S6:
// the token request carries both attestation headers and no client_secret.
func TestAttestedClientAuthenticationAtTokenEndpoint(t *testing.T) {
	fas := testutil.NewFakeAS(t)
	fas.TokenHandler = func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("OAuth-Client-Attestation") != "attest.jwt.value" {
			t.Errorf("missing attestation header, got %q", r.Header.Get("OAuth-Client-Attestation"))
		}
		if r.Header.Get("OAuth-Client-Attestation-PoP") == "" {
			t.Error("missing attestation PoP header")
		}
		form := testutil.ParseForm(t, r)
		if _, ok := form["client_secret"]; ok {
			t.Error("attested flow must not send client_secret")
		}
		testutil.WriteJSON(t, w, http.StatusOK, map[string]interface{}{
			"access_token": "AT3",
			"token_type":   "DPoP",
			"expires_in":   3600,
		})
	}

	popKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate pop key: %v", err)
	}
	kp, err := dpop.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	a := &Authorizer{
		Fetcher: fetcher.New(fas.Server.Client()),
		DPoP:    kp,
		Nonces:  dpop.NewNonceStore(),
		ClientAuth: clientauth.Attested{
			ClientID:       "wallet-123",
			AttestationJWT: "attest.jwt.value",
			PoPKey:         popKey,
			PoPKeyID:       "pop-key-1",
		},
		ClientID: "wallet-123",
	}

	authorized, err := a.AuthorizeWithPreAuthorizedCode(context.Background(), fas.Server.URL+"/token", "PRE-456", "")
	if err != nil {
		t.Fatalf("AuthorizeWithPreAuthorizedCode: %v", err)
	}
	if authorized.AccessToken != "AT3" {
		t.Errorf("access token = %q", authorized.AccessToken)
	}
}
