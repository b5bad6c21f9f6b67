// Package requester drives the issuance side of the flow once tokens are
// in hand: building proof JWTs, submitting credential requests, polling
// deferred issuance, and posting notifications. Grounded on the
// PARRequest/PARResponse request/response pairing style of
// pkg/atproto/oauth/par.go, applied to the credential, deferred, and
// notification endpoints this teacher never touched.
package requester

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/jrschumacher/openid4vci/pkg/vci/dpop"
	vcierrors "github.com/jrschumacher/openid4vci/pkg/vci/errors"
	"github.com/jrschumacher/openid4vci/pkg/vci/fetcher"
	"github.com/jrschumacher/openid4vci/pkg/vci/formats"
	"github.com/jrschumacher/openid4vci/pkg/vci/model"
)

// Requester submits credential requests and handles their lifecycle. Proof
// JWTs are signed with ProofKey, which is deliberately distinct from the
// DPoP signing key (spec.md §3: proof-of-possession key and
// sender-constraining key are different bindings even though both can be
// ES256 over P-256 in this core's default profile).
type Requester struct {
	Fetcher  fetcher.Fetcher
	DPoP     dpop.Signer
	Nonces   *dpop.NonceStore
	Formats  *formats.Registry
	ProofKey *ecdsa.PrivateKey

	// ResponseEncryptionKey, if set, decrypts a JWE-encrypted credential
	// response; ResponseEncryptionSpec carries the matching public JWK and
	// alg/enc pair the request sends so the issuer knows how to encrypt it.
	// issuer.New populates both via GenerateResponseEncryptionKey when the
	// caller's ClientConfig sets ResponseEncryptionAlg; the issuer's own
	// credential_response_encryption metadata is not consulted.
	ResponseEncryptionKey  *ecdsa.PrivateKey
	ResponseEncryptionAlg  string
	ResponseEncryptionSpec model.ResponseEncryptionSpec
}

// NewRequester wires a Requester with a default format registry.
func NewRequester(f fetcher.Fetcher, signer dpop.Signer, nonces *dpop.NonceStore, proofKey *ecdsa.PrivateKey) *Requester {
	return &Requester{Fetcher: f, DPoP: signer, Nonces: nonces, Formats: formats.NewRegistry(), ProofKey: proofKey}
}

type credentialRequestBody struct {
	CredentialIdentifier         string                  `json:"credential_identifier,omitempty"`
	CredentialConfigID           string                  `json:"credential_configuration_id,omitempty"`
	Proof                        *wireProof              `json:"proof,omitempty"`
	CredentialResponseEncryption *wireResponseEncryption `json:"credential_response_encryption,omitempty"`
}

type wireProof struct {
	ProofType string `json:"proof_type"`
	JWT       string `json:"jwt"`
}

// wireResponseEncryption is the request-side credential_response_encryption
// object, carrying the wallet's ephemeral public key so the issuer can
// encrypt the credential response (spec.md §4.7/§9).
type wireResponseEncryption struct {
	JWK json.RawMessage `json:"jwk"`
	Alg string          `json:"alg"`
	Enc string          `json:"enc"`
}

type wireCredentialResponse struct {
	Credentials []struct {
		Credential string `json:"credential"`
	} `json:"credentials,omitempty"`
	TransactionID   string `json:"transaction_id,omitempty"`
	NotificationID  string `json:"notification_id,omitempty"`
	CNonce          string `json:"c_nonce,omitempty"`
	CNonceExpiresIn *int   `json:"c_nonce_expires_in,omitempty"`
}

// RequestCredential submits one configuration-based issuance request.
// Identifier-based payloads are rejected up front (spec.md Non-goal).
// issuerID is the credential_issuer identifier, used as the proof JWT's
// audience (spec.md §3); endpoint is the credential endpoint the request is
// POSTed to, which may differ from issuerID.
func (r *Requester) RequestCredential(ctx context.Context, endpoint, issuerID, clientID string, authz model.AuthorizedRequest, payload model.IssuanceRequestPayload, format string) (model.SubmissionOutcome, model.AuthorizedRequest, error) {
	if payload.IsIdentifierBased() {
		return model.SubmissionOutcome{}, authz, vcierrors.New(vcierrors.KindUnsupportedFeature, "identifier-based credential requests are not supported")
	}
	if authz.State != model.StateProofRequired {
		return model.SubmissionOutcome{}, authz, vcierrors.New(vcierrors.KindValidation, "credential request requires a proof-ready authorization carrying a c_nonce")
	}

	proofJWT, err := r.buildProof(clientID, issuerID, authz.CNonce.Value)
	if err != nil {
		return model.SubmissionOutcome{}, authz, err
	}

	body := credentialRequestBody{
		CredentialConfigID: payload.ConfigurationID,
		Proof:              &wireProof{ProofType: "jwt", JWT: proofJWT},
	}
	if r.ResponseEncryptionKey != nil && r.ResponseEncryptionSpec.JWK != "" {
		body.CredentialResponseEncryption = &wireResponseEncryption{
			JWK: json.RawMessage(r.ResponseEncryptionSpec.JWK),
			Alg: r.ResponseEncryptionSpec.Alg,
			Enc: r.ResponseEncryptionSpec.Enc,
		}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return model.SubmissionOutcome{}, authz, vcierrors.Wrap(vcierrors.KindValidation, "marshal credential request", err)
	}

	httpResp, err := r.send(ctx, endpoint, authz, raw)
	if err != nil {
		return model.SubmissionOutcome{}, authz, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return model.SubmissionOutcome{}, authz, vcierrors.Wrap(vcierrors.KindTransport, "read credential response", err)
	}

	if httpResp.StatusCode == http.StatusOK && r.ResponseEncryptionKey != nil && isJWECompact(httpResp.Header.Get("Content-Type")) {
		respBody, err = decryptResponse(r.ResponseEncryptionKey, r.ResponseEncryptionAlg, respBody)
		if err != nil {
			return model.SubmissionOutcome{}, authz, err
		}
	}

	if httpResp.StatusCode == http.StatusBadRequest {
		return r.handleInvalidProof(respBody, authz)
	}
	if httpResp.StatusCode != http.StatusOK {
		kind, desc := parseOAuthErrorBody(respBody)
		return model.SubmissionOutcome{Kind: model.OutcomeFailed, FailureReason: kind, Description: desc}, authz, nil
	}

	var wire wireCredentialResponse
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return model.SubmissionOutcome{}, authz, vcierrors.Wrap(vcierrors.KindTransport, "malformed credential response", err)
	}

	nextAuthz := authz
	if wire.CNonce != "" {
		nextAuthz = authz.WithCNonce(&model.CNonce{Value: wire.CNonce, ExpiresInSeconds: wire.CNonceExpiresIn})
	}

	if wire.TransactionID != "" {
		return model.SubmissionOutcome{Kind: model.OutcomeDeferred, TransactionID: wire.TransactionID}, nextAuthz, nil
	}

	profile, err := r.Formats.Lookup(format)
	if err != nil {
		return model.SubmissionOutcome{}, nextAuthz, err
	}
	creds := make([]model.IssuedCredential, 0, len(wire.Credentials))
	for _, c := range wire.Credentials {
		decoded, err := profile.DecodeCredential(c.Credential)
		if err != nil {
			return model.SubmissionOutcome{}, nextAuthz, err
		}
		creds = append(creds, decoded)
	}
	return model.SubmissionOutcome{Kind: model.OutcomeSuccess, Credentials: creds}, nextAuthz, nil
}

type wireNonceResponse struct {
	CNonce          string `json:"c_nonce"`
	CNonceExpiresIn *int   `json:"c_nonce_expires_in,omitempty"`
}

// FetchNonce performs an unauthenticated POST to the issuer's nonce_endpoint
// and returns the fresh c_nonce, used to proactively reach ProofRequired
// state ahead of a credential request (spec.md §4.7/§6).
func (r *Requester) FetchNonce(ctx context.Context, endpoint string) (*model.CNonce, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, vcierrors.Wrap(vcierrors.KindTransport, "build nonce request", err)
	}
	httpResp, err := r.Fetcher.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, vcierrors.Wrap(vcierrors.KindTransport, "read nonce response", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, vcierrors.New(vcierrors.KindTransport, "nonce request failed").
			WithContext("status", httpResp.Status)
	}

	var wire wireNonceResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, vcierrors.Wrap(vcierrors.KindTransport, "malformed nonce response", err)
	}
	if wire.CNonce == "" {
		return nil, vcierrors.New(vcierrors.KindTransport, "nonce response missing c_nonce")
	}
	return &model.CNonce{Value: wire.CNonce, ExpiresInSeconds: wire.CNonceExpiresIn}, nil
}

func (r *Requester) handleInvalidProof(body []byte, authz model.AuthorizedRequest) (model.SubmissionOutcome, model.AuthorizedRequest, error) {
	var wire struct {
		Error           string `json:"error"`
		CNonce          string `json:"c_nonce"`
		CNonceExpiresIn *int   `json:"c_nonce_expires_in"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return model.SubmissionOutcome{}, authz, vcierrors.Wrap(vcierrors.KindTransport, "malformed invalid_proof response", err)
	}
	if wire.Error != "invalid_proof" {
		kind, desc := parseOAuthErrorBody(body)
		return model.SubmissionOutcome{Kind: model.OutcomeFailed, FailureReason: kind, Description: desc}, authz, nil
	}
	next := authz
	var nonce *model.CNonce
	if wire.CNonce != "" {
		nonce = &model.CNonce{Value: wire.CNonce, ExpiresInSeconds: wire.CNonceExpiresIn}
		next = authz.WithCNonce(nonce)
	}
	return model.SubmissionOutcome{Kind: model.OutcomeInvalidProof, CNonce: nonce}, next, nil
}

func (r *Requester) buildProof(clientID, audience, nonce string) (string, error) {
	token, err := jwt.NewBuilder().
		JwtID(uuid.NewString()).
		Issuer(clientID).
		Audience([]string{audience}).
		IssuedAt(time.Now()).
		Claim("nonce", nonce).
		Build()
	if err != nil {
		return "", vcierrors.Wrap(vcierrors.KindCryptographic, "build proof claims", err)
	}

	pub, err := jwk.FromRaw(r.ProofKey.PublicKey)
	if err != nil {
		return "", vcierrors.Wrap(vcierrors.KindCryptographic, "derive proof public jwk", err)
	}
	hdrs := jws.NewHeaders()
	if err := hdrs.Set(jws.TypeKey, "openid4vci-proof+jwt"); err != nil {
		return "", vcierrors.Wrap(vcierrors.KindCryptographic, "set proof typ", err)
	}
	if err := hdrs.Set(jws.JWKKey, pub); err != nil {
		return "", vcierrors.Wrap(vcierrors.KindCryptographic, "embed proof jwk", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.ES256, r.ProofKey, jws.WithProtectedHeaders(hdrs)))
	if err != nil {
		return "", vcierrors.Wrap(vcierrors.KindCryptographic, "sign proof", err)
	}
	return string(signed), nil
}

func (r *Requester) send(ctx context.Context, endpoint string, authz model.AuthorizedRequest, body []byte) (*http.Response, error) {
	origin := originOf(endpoint)
	return dpop.WithNonceRetry(r.Nonces, origin, func(nonce string) (*http.Response, string, bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(body)))
		if err != nil {
			return nil, "", false, vcierrors.Wrap(vcierrors.KindTransport, "build credential request", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", authz.TokenType.String()+" "+authz.AccessToken)

		if r.DPoP != nil {
			proof, err := r.DPoP.CreateProof(req.Method, endpoint, nonce, authz.AccessToken)
			if err != nil {
				return nil, "", false, err
			}
			req.Header.Set("DPoP", proof.JWT)
		}

		resp, err := r.Fetcher.Do(req)
		if err != nil {
			return nil, "", false, err
		}
		dpopNonce := resp.Header.Get("DPoP-Nonce")
		if (resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized) && isUseDPoPNonceBody(resp) {
			return resp, dpopNonce, true, nil
		}
		return resp, dpopNonce, false, nil
	})
}

func isJWECompact(contentType string) bool {
	return strings.Contains(contentType, "application/jwt") || strings.Contains(contentType, "jose")
}

func originOf(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	return u.Scheme + "://" + u.Host
}

func parseOAuthErrorBody(body []byte) (kind, desc string) {
	var wire struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	_ = json.Unmarshal(body, &wire)
	return wire.Error, wire.ErrorDescription
}

func isUseDPoPNonceBody(resp *http.Response) bool {
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	resp.Body = io.NopCloser(strings.NewReader(string(body)))
	if err != nil {
		return false
	}
	kind, _ := parseOAuthErrorBody(body)
	return kind == "use_dpop_nonce"
}
