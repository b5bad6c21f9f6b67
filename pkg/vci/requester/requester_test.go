package requester

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/jrschumacher/openid4vci/internal/testutil"
	"github.com/jrschumacher/openid4vci/pkg/vci/dpop"
	"github.com/jrschumacher/openid4vci/pkg/vci/fetcher"
	"github.com/jrschumacher/openid4vci/pkg/vci/formats"
	"github.com/jrschumacher/openid4vci/pkg/vci/model"
)

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

func newTestRequester(t *testing.T, fi *testutil.FakeIssuer) *Requester {
	t.Helper()
	proofKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate proof key: %v", err)
	}
	kp, err := dpop.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	return &Requester{
		Fetcher:  fetcher.New(fi.Server.Client()),
		DPoP:     kp,
		Nonces:   dpop.NewNonceStore(),
		Formats:  formats.NewRegistry(),
		ProofKey: proofKey,
	}
}

func proofAuthorized(cnonce string) model.AuthorizedRequest {
	return model.AuthorizedRequest{
		State:       model.StateProofRequired,
		AccessToken: "AT1",
		TokenType:   model.TokenTypeDPoP,
		CNonce:      &model.CNonce{Value: cnonce},
	}
}

// TestRequestCredentialInvalidProofSurfacesFreshNonce is spec.md §8 scenario
// S3: a 400 invalid_proof response carries a fresh c_nonce that must flow
// into the returned AuthorizedRequest (invariant 3).
func TestRequestCredentialInvalidProofSurfacesFreshNonce(t *testing.T) {
	fi := testutil.NewFakeIssuer(t)
	var seenNonce string
	fi.CredentialHandler = func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Proof struct {
				JWT string `json:"jwt"`
			} `json:"proof"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode credential request: %v", err)
		}
		seenNonce = body.Proof.JWT
		testutil.WriteJSON(t, w, http.StatusBadRequest, map[string]interface{}{
			"error":              "invalid_proof",
			"c_nonce":            "CN2",
			"c_nonce_expires_in": 5,
		})
	}

	r := newTestRequester(t, fi)
	authz := proofAuthorized("CN1")
	outcome, next, err := r.RequestCredential(context.Background(), fi.Server.URL+"/credential", fi.Server.URL, "wallet-123", authz, model.IssuanceRequestPayload{ConfigurationID: "pid_sd_jwt"}, "dc+sd-jwt")
	if err != nil {
		t.Fatalf("RequestCredential: %v", err)
	}
	if seenNonce == "" {
		t.Fatal("expected a proof JWT to have been sent")
	}
	if outcome.Kind != model.OutcomeInvalidProof {
		t.Fatalf("outcome kind = %v, want OutcomeInvalidProof", outcome.Kind)
	}
	if outcome.CNonce == nil || outcome.CNonce.Value != "CN2" {
		t.Fatalf("outcome c_nonce = %+v, want CN2", outcome.CNonce)
	}
	if next.CNonce == nil || next.CNonce.Value != "CN2" {
		t.Fatalf("next.CNonce = %+v, want CN2", next.CNonce)
	}
	if next.State != model.StateProofRequired {
		t.Errorf("next.State = %v, want StateProofRequired", next.State)
	}
}

// TestRequestCredentialDeferredThenIssued is spec.md §8 scenario S4: the
// initial credential request returns a transaction_id, the first
// QueryDeferred call reports issuance_pending, and a later call reports the
// issued credential (invariant 6: monotonic Pending -> Issued progression).
func TestRequestCredentialDeferredThenIssued(t *testing.T) {
	fi := testutil.NewFakeIssuer(t)
	fi.CredentialHandler = func(w http.ResponseWriter, r *http.Request) {
		testutil.WriteJSON(t, w, http.StatusOK, map[string]interface{}{
			"transaction_id": "tx-7",
		})
	}

	r := newTestRequester(t, fi)
	authz := proofAuthorized("CN1")
	outcome, _, err := r.RequestCredential(context.Background(), fi.Server.URL+"/credential", fi.Server.URL, "wallet-123", authz, model.IssuanceRequestPayload{ConfigurationID: "pid_sd_jwt"}, "dc+sd-jwt")
	if err != nil {
		t.Fatalf("RequestCredential: %v", err)
	}
	if outcome.Kind != model.OutcomeDeferred {
		t.Fatalf("outcome kind = %v, want OutcomeDeferred", outcome.Kind)
	}
	if outcome.TransactionID != "tx-7" {
		t.Fatalf("transaction id = %q, want tx-7", outcome.TransactionID)
	}

	polls := 0
	fi.DeferredHandler = func(w http.ResponseWriter, r *http.Request) {
		polls++
		var body struct {
			TransactionID string `json:"transaction_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.TransactionID != "tx-7" {
			t.Errorf("deferred request transaction_id = %q", body.TransactionID)
		}
		if polls == 1 {
			testutil.WriteJSON(t, w, http.StatusAccepted, map[string]interface{}{
				"error":    "issuance_pending",
				"interval": 5,
			})
			return
		}
		testutil.WriteJSON(t, w, http.StatusOK, map[string]interface{}{
			"credentials": []map[string]string{{"credential": signedTestJWT(t)}},
		})
	}

	pending, err := r.QueryDeferred(context.Background(), fi.Server.URL+"/deferred", authz, "tx-7", "dc+sd-jwt")
	if err != nil {
		t.Fatalf("QueryDeferred (pending): %v", err)
	}
	if pending.Kind != model.DeferredPending {
		t.Fatalf("pending.Kind = %v, want DeferredPending", pending.Kind)
	}
	if pending.IntervalSec == nil || *pending.IntervalSec != 5 {
		t.Fatalf("pending interval = %v, want 5", pending.IntervalSec)
	}

	issued, err := r.QueryDeferred(context.Background(), fi.Server.URL+"/deferred", authz, "tx-7", "dc+sd-jwt")
	if err != nil {
		t.Fatalf("QueryDeferred (issued): %v", err)
	}
	if issued.Kind != model.DeferredIssued {
		t.Fatalf("issued.Kind = %v, want DeferredIssued", issued.Kind)
	}
	if len(issued.Credentials) != 1 {
		t.Fatalf("expected 1 issued credential, got %d", len(issued.Credentials))
	}
}

func TestNotifyAcceptsNoContent(t *testing.T) {
	fi := testutil.NewFakeIssuer(t)
	var gotEvent string
	fi.NotificationHandler = func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Event string `json:"event"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotEvent = body.Event
		w.WriteHeader(http.StatusNoContent)
	}

	r := newTestRequester(t, fi)
	authz := proofAuthorized("CN1")
	err := r.Notify(context.Background(), fi.Server.URL+"/notify", authz, model.NotificationEvent{
		NotificationID: "notif-1",
		Event:          model.NotificationAccepted,
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if gotEvent != "credential_accepted" {
		t.Errorf("event = %q, want credential_accepted", gotEvent)
	}
}
