// Package model holds the wire and domain types shared across pkg/vci:
// issuer identity, metadata, credential offers, tokens, nonces, proofs, and
// the opaque wallet state a caller persists between steps of a flow.
package model

import (
	"encoding/json"
	"net/url"
	"strings"

	vcierrors "github.com/jrschumacher/openid4vci/pkg/vci/errors"
)

// CredentialIssuerId is an absolute HTTPS URL identifying a credential
// issuer, with no fragment, no query, and no trailing slash on its path.
type CredentialIssuerId struct {
	raw string
	url *url.URL
}

// NewCredentialIssuerId validates raw against the issuer id invariants
// (scheme must be https, path must not end in "/", no query or fragment)
// and returns the typed id.
func NewCredentialIssuerId(raw string) (CredentialIssuerId, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return CredentialIssuerId{}, vcierrors.Wrap(vcierrors.KindValidation, "malformed credential issuer id", err)
	}
	if u.Scheme != "https" {
		return CredentialIssuerId{}, vcierrors.New(vcierrors.KindValidation, "credential issuer id must use https")
	}
	if strings.HasSuffix(u.Path, "/") {
		return CredentialIssuerId{}, vcierrors.New(vcierrors.KindValidation, "credential issuer id must not have a trailing slash")
	}
	if u.RawQuery != "" {
		return CredentialIssuerId{}, vcierrors.New(vcierrors.KindValidation, "credential issuer id must not carry a query")
	}
	if u.Fragment != "" {
		return CredentialIssuerId{}, vcierrors.New(vcierrors.KindValidation, "credential issuer id must not carry a fragment")
	}
	return CredentialIssuerId{raw: raw, url: u}, nil
}

// String returns the underlying URL.
func (c CredentialIssuerId) String() string { return c.raw }

// WellKnownMetadataURL returns the well-known discovery URL for unsigned or
// signed credential issuer metadata.
func (c CredentialIssuerId) WellKnownMetadataURL() string {
	return c.raw + "/.well-known/openid-credential-issuer"
}

func (c CredentialIssuerId) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.raw)
}

func (c *CredentialIssuerId) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	id, err := NewCredentialIssuerId(s)
	if err != nil {
		return err
	}
	*c = id
	return nil
}

// ResponseEncryptionMetadata describes the issuer's advertised support for
// encrypting credential responses.
type ResponseEncryptionMetadata struct {
	AlgValuesSupported []string `json:"alg_values_supported"`
	EncValuesSupported []string `json:"enc_values_supported"`
	EncryptionRequired bool     `json:"encryption_required"`
}

// CredentialConfigurationSupported is the issuer-declared template for one
// credential_configuration_id, format-discriminated.
type CredentialConfigurationSupported struct {
	Format                      string                   `json:"format"`
	Scope                       string                   `json:"scope,omitempty"`
	CryptographicBindingMethods []string                 `json:"cryptographic_binding_methods_supported,omitempty"`
	CredentialSigningAlgValues  []string                 `json:"credential_signing_alg_values_supported,omitempty"`
	ProofTypesSupported         map[string]ProofTypeSpec `json:"proof_types_supported,omitempty"`
	Display                     []DisplayMetadata        `json:"display,omitempty"`

	// Format-specific payload, kept opaque here and decoded by the
	// formats registry (pkg/vci/formats) keyed on Format.
	Raw json.RawMessage `json:"-"`
}

// ProofTypeSpec describes constraints on a supported proof type (e.g. jwt).
type ProofTypeSpec struct {
	ProofSigningAlgValuesSupported []string `json:"proof_signing_alg_values_supported"`
}

// DisplayMetadata is locale-tagged display information. The core does not
// perform language negotiation (Non-goal); callers pick an entry themselves.
type DisplayMetadata struct {
	Name   string `json:"name"`
	Locale string `json:"locale,omitempty"`
}

// CredentialIssuerMetadata is the resolved, typed form of the issuer's
// metadata document (signed or unsigned).
type CredentialIssuerMetadata struct {
	CredentialIssuer                             CredentialIssuerId
	AuthorizationServers                         []string
	CredentialEndpoint                           string
	NonceEndpoint                                string
	DeferredCredentialEndpoint                   string
	NotificationEndpoint                         string
	BatchCredentialEndpoint                      string
	CredentialConfigurationsSupported            map[string]CredentialConfigurationSupported
	CredentialResponseEncryption                 *ResponseEncryptionMetadata
	Display                                      []DisplayMetadata
	SignedMetadataVerified                       bool
}

// wireIssuerMetadata is the on-the-wire shape of the unsigned metadata
// document, including the optional signed_metadata JWT envelope.
type wireIssuerMetadata struct {
	CredentialIssuer                  string                      `json:"credential_issuer"`
	AuthorizationServers              []string                    `json:"authorization_servers,omitempty"`
	CredentialEndpoint                string                      `json:"credential_endpoint"`
	NonceEndpoint                     string                      `json:"nonce_endpoint,omitempty"`
	DeferredCredentialEndpoint        string                      `json:"deferred_credential_endpoint,omitempty"`
	NotificationEndpoint              string                      `json:"notification_endpoint,omitempty"`
	BatchCredentialEndpoint           string                      `json:"batch_credential_endpoint,omitempty"`
	CredentialConfigurationsSupported map[string]json.RawMessage  `json:"credential_configurations_supported"`
	CredentialResponseEncryption      *ResponseEncryptionMetadata `json:"credential_response_encryption,omitempty"`
	Display                           []DisplayMetadata           `json:"display,omitempty"`
	SignedMetadata                    string                      `json:"signed_metadata,omitempty"`
}

type wireCredentialConfigSupported struct {
	Format                      string                   `json:"format"`
	Scope                       string                   `json:"scope,omitempty"`
	CryptographicBindingMethods []string                 `json:"cryptographic_binding_methods_supported,omitempty"`
	CredentialSigningAlgValues  []string                 `json:"credential_signing_alg_values_supported,omitempty"`
	ProofTypesSupported         map[string]ProofTypeSpec `json:"proof_types_supported,omitempty"`
	Display                     []DisplayMetadata        `json:"display,omitempty"`
}

// ParseIssuerMetadata decodes the raw well-known response body into the
// unsigned wire shape plus any signed_metadata JWT string, leaving signature
// verification and the signed/unsigned merge to the metadata resolver.
func ParseIssuerMetadata(body []byte) (*CredentialIssuerMetadata, string, error) {
	var wire wireIssuerMetadata
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, "", vcierrors.Wrap(vcierrors.KindMetadataInvalid, "malformed credential issuer metadata", err)
	}
	meta, err := wireToMetadata(wire)
	if err != nil {
		return nil, "", err
	}
	return meta, wire.SignedMetadata, nil
}

func wireToMetadata(wire wireIssuerMetadata) (*CredentialIssuerMetadata, error) {
	if wire.CredentialIssuer == "" || wire.CredentialEndpoint == "" {
		return nil, vcierrors.New(vcierrors.KindMetadataInvalid, "credential issuer metadata missing required fields")
	}
	id, err := NewCredentialIssuerId(wire.CredentialIssuer)
	if err != nil {
		return nil, vcierrors.Wrap(vcierrors.KindMetadataInvalid, "credential issuer metadata has invalid credential_issuer", err)
	}
	configs := make(map[string]CredentialConfigurationSupported, len(wire.CredentialConfigurationsSupported))
	for id2, raw := range wire.CredentialConfigurationsSupported {
		var c wireCredentialConfigSupported
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, vcierrors.Wrap(vcierrors.KindMetadataInvalid, "malformed credential_configurations_supported entry", err).
				WithContext("credential_configuration_id", id2)
		}
		configs[id2] = CredentialConfigurationSupported{
			Format:                      c.Format,
			Scope:                       c.Scope,
			CryptographicBindingMethods: c.CryptographicBindingMethods,
			CredentialSigningAlgValues:  c.CredentialSigningAlgValues,
			ProofTypesSupported:         c.ProofTypesSupported,
			Display:                     c.Display,
			Raw:                         raw,
		}
	}
	return &CredentialIssuerMetadata{
		CredentialIssuer:                   id,
		AuthorizationServers:               wire.AuthorizationServers,
		CredentialEndpoint:                 wire.CredentialEndpoint,
		NonceEndpoint:                      wire.NonceEndpoint,
		DeferredCredentialEndpoint:         wire.DeferredCredentialEndpoint,
		NotificationEndpoint:               wire.NotificationEndpoint,
		BatchCredentialEndpoint:            wire.BatchCredentialEndpoint,
		CredentialConfigurationsSupported:  configs,
		CredentialResponseEncryption:       wire.CredentialResponseEncryption,
		Display:                            wire.Display,
	}, nil
}

// MergeSigned overlays signed claims (already verified and decoded into a
// CredentialIssuerMetadata by the metadata resolver) onto the unsigned base,
// with signed claims winning per spec.
func MergeSigned(unsigned, signed *CredentialIssuerMetadata) *CredentialIssuerMetadata {
	merged := *unsigned
	if signed == nil {
		return &merged
	}
	if signed.CredentialEndpoint != "" {
		merged.CredentialEndpoint = signed.CredentialEndpoint
	}
	if len(signed.AuthorizationServers) > 0 {
		merged.AuthorizationServers = signed.AuthorizationServers
	}
	if signed.NonceEndpoint != "" {
		merged.NonceEndpoint = signed.NonceEndpoint
	}
	if signed.DeferredCredentialEndpoint != "" {
		merged.DeferredCredentialEndpoint = signed.DeferredCredentialEndpoint
	}
	if signed.NotificationEndpoint != "" {
		merged.NotificationEndpoint = signed.NotificationEndpoint
	}
	if signed.BatchCredentialEndpoint != "" {
		merged.BatchCredentialEndpoint = signed.BatchCredentialEndpoint
	}
	if len(signed.CredentialConfigurationsSupported) > 0 {
		merged.CredentialConfigurationsSupported = signed.CredentialConfigurationsSupported
	}
	if signed.CredentialResponseEncryption != nil {
		merged.CredentialResponseEncryption = signed.CredentialResponseEncryption
	}
	merged.SignedMetadataVerified = true
	return &merged
}
