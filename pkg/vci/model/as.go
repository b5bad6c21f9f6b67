package model

import (
	"encoding/json"

	vcierrors "github.com/jrschumacher/openid4vci/pkg/vci/errors"
)

// AuthorizationServerMetadata is the resolved OAuth2/OIDC discovery document
// for the server protecting credential issuance.
type AuthorizationServerMetadata struct {
	Issuer                                  string   `json:"issuer"`
	AuthorizationEndpoint                    string   `json:"authorization_endpoint"`
	TokenEndpoint                            string   `json:"token_endpoint"`
	PushedAuthorizationRequestEndpoint       string   `json:"pushed_authorization_request_endpoint,omitempty"`
	PARRequired                              bool     `json:"pushed_authorization_request_endpoint_required,omitempty"`
	IntrospectionEndpoint                    string   `json:"introspection_endpoint,omitempty"`
	ResponseTypesSupported                   []string `json:"response_types_supported"`
	CodeChallengeMethodsSupported            []string `json:"code_challenge_methods_supported,omitempty"`
	DPoPSigningAlgValuesSupported            []string `json:"dpop_signing_alg_values_supported,omitempty"`
	ClientAuthenticationMethodsSupported     []string `json:"client_authentication_methods_supported,omitempty"`
}

// SupportsPAR reports whether the AS advertises a pushed authorization
// request endpoint.
func (m *AuthorizationServerMetadata) SupportsPAR() bool {
	return m.PushedAuthorizationRequestEndpoint != ""
}

// SupportsAttestationClientAuth reports whether the AS advertises
// attest_jwt_client_auth as a supported client authentication method.
func (m *AuthorizationServerMetadata) SupportsAttestationClientAuth() bool {
	for _, v := range m.ClientAuthenticationMethodsSupported {
		if v == "attest_jwt_client_auth" {
			return true
		}
	}
	return false
}

// ParseAuthorizationServerMetadata decodes and validates a discovery
// response body (either OIDC or bare OAuth2 AS metadata — the two share the
// required-field subset this library depends on).
func ParseAuthorizationServerMetadata(body []byte) (*AuthorizationServerMetadata, error) {
	var m AuthorizationServerMetadata
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, vcierrors.Wrap(vcierrors.KindMetadataInvalid, "malformed authorization server metadata", err)
	}
	if m.Issuer == "" || m.AuthorizationEndpoint == "" || m.TokenEndpoint == "" || len(m.ResponseTypesSupported) == 0 {
		return nil, vcierrors.New(vcierrors.KindMetadataInvalid, "authorization server metadata missing required fields")
	}
	return &m, nil
}
