package authorizer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/jrschumacher/openid4vci/pkg/vci/dpop"
	vcierrors "github.com/jrschumacher/openid4vci/pkg/vci/errors"
	"github.com/jrschumacher/openid4vci/pkg/vci/model"
)

// wireTokenResponse is the token endpoint's JSON body.
type wireTokenResponse struct {
	AccessToken          string          `json:"access_token"`
	TokenType            string          `json:"token_type"`
	ExpiresIn            int64           `json:"expires_in"`
	RefreshToken         string          `json:"refresh_token,omitempty"`
	CNonce               string          `json:"c_nonce,omitempty"`
	CNonceExpiresIn      *int            `json:"c_nonce_expires_in,omitempty"`
	AuthorizationDetails json.RawMessage `json:"authorization_details,omitempty"`
}

// RequestAccessToken exchanges an authorization code (with its PKCE
// verifier) for tokens, generalizing pkce.go's ExchangeCodeForTokenWithDPoP
// into a grant-agnostic form-builder shared with the other two grants.
func (a *Authorizer) RequestAccessToken(ctx context.Context, tokenEndpoint, code string, verifier model.PKCEVerifier) (model.AuthorizedRequest, error) {
	form := map[string][]string{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {a.RedirectURI},
		"code_verifier": {verifier.Verifier},
	}
	return a.exchange(ctx, tokenEndpoint, form)
}

// AuthorizeWithPreAuthorizedCode exchanges a pre-authorized code (and,
// if required, a tx_code the end user supplied) for tokens.
func (a *Authorizer) AuthorizeWithPreAuthorizedCode(ctx context.Context, tokenEndpoint, preAuthCode, txCode string) (model.AuthorizedRequest, error) {
	form := map[string][]string{
		"grant_type":          {"urn:ietf:params:oauth:grant-type:pre-authorized_code"},
		"pre-authorized_code": {preAuthCode},
	}
	if txCode != "" {
		form["tx_code"] = []string{txCode}
	}
	return a.exchange(ctx, tokenEndpoint, form)
}

// Refresh exchanges a refresh token for a fresh access token, preserving
// the caller's DPoP key binding.
func (a *Authorizer) Refresh(ctx context.Context, tokenEndpoint string, prior model.AuthorizedRequest) (model.AuthorizedRequest, error) {
	form := map[string][]string{
		"grant_type":    {"refresh_token"},
		"refresh_token": {prior.RefreshToken},
	}
	return a.exchange(ctx, tokenEndpoint, form)
}

func (a *Authorizer) exchange(ctx context.Context, tokenEndpoint string, form map[string][]string) (model.AuthorizedRequest, error) {
	origin := originOf(tokenEndpoint)

	httpResp, err := dpop.WithNonceRetry(a.Nonces, origin, func(nonce string) (*http.Response, string, bool, error) {
		req, err := a.buildForm(ctx, tokenEndpoint, form, tokenEndpoint, nonce)
		if err != nil {
			return nil, "", false, err
		}
		resp, err := a.Fetcher.Do(req)
		if err != nil {
			return nil, "", false, err
		}
		dpopNonce := resp.Header.Get("DPoP-Nonce")
		if isNonceChallengeStatus(resp.StatusCode) && isUseDPoPNonce(resp) {
			return resp, dpopNonce, true, nil
		}
		return resp, dpopNonce, false, nil
	})
	if err != nil {
		return model.AuthorizedRequest{}, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return model.AuthorizedRequest{}, vcierrors.Wrap(vcierrors.KindTransport, "read token response", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return model.AuthorizedRequest{}, decodeOAuthError(body)
	}

	var wire wireTokenResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return model.AuthorizedRequest{}, vcierrors.Wrap(vcierrors.KindTransport, "malformed token response", err)
	}

	authorized := model.AuthorizedRequest{
		State:        model.StateNoProofRequired,
		AccessToken:  wire.AccessToken,
		RefreshToken: wire.RefreshToken,
		TokenType:    model.ParseTokenType(wire.TokenType),
		IssuedAt:     time.Now(),
	}
	if a.DPoP != nil {
		authorized.DPoPKeyID = a.DPoP.KeyID()
	}
	if wire.CNonce != "" {
		authorized = authorized.WithCNonce(&model.CNonce{Value: wire.CNonce, ExpiresInSeconds: wire.CNonceExpiresIn})
	}
	return authorized, nil
}
