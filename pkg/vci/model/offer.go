package model

import (
	"encoding/json"

	vcierrors "github.com/jrschumacher/openid4vci/pkg/vci/errors"
)

// CredentialOfferRequest is either a by-value offer (the raw JSON string
// carried in a "credential_offer" query parameter) or a by-reference offer
// (a URL to fetch the JSON from, carried in "credential_offer_uri").
type CredentialOfferRequest struct {
	ByValue     string // raw JSON, non-empty when present
	ByReference string // URL, non-empty when present
}

// IsByReference reports whether the offer must be fetched over HTTP.
func (r CredentialOfferRequest) IsByReference() bool { return r.ByReference != "" }

// TxCode describes the issuer's requirements for the end-user-supplied
// transaction code in a pre-authorized code grant.
type TxCode struct {
	InputMode   string `json:"input_mode,omitempty"` // "numeric" | "text"
	Length      int    `json:"length,omitempty"`
	Description string `json:"description,omitempty"`
}

// AuthorizationCodeGrant is the offer's authorization_code grant object.
type AuthorizationCodeGrant struct {
	IssuerState         string `json:"issuer_state,omitempty"`
	AuthorizationServer string `json:"authorization_server,omitempty"`
}

// PreAuthorizedCodeGrant is the offer's pre-authorized_code grant object.
type PreAuthorizedCodeGrant struct {
	PreAuthorizedCode string  `json:"pre-authorized_code"`
	TxCode            *TxCode `json:"tx_code,omitempty"`
}

// preAuthGrantName is the urn used on the wire for the pre-authorized code
// grant, per OpenID4VCI draft 15.
const preAuthGrantName = "urn:ietf:params:oauth:grant-type:pre-authorized_code"

// wireGrants is the raw wire shape of the offer's "grants" object.
type wireGrants struct {
	AuthorizationCode *AuthorizationCodeGrant `json:"authorization_code,omitempty"`
	PreAuthorized     *PreAuthorizedCodeGrant `json:"-"`
}

func (g wireGrants) MarshalJSON() ([]byte, error) {
	m := map[string]json.RawMessage{}
	if g.AuthorizationCode != nil {
		b, err := json.Marshal(g.AuthorizationCode)
		if err != nil {
			return nil, err
		}
		m["authorization_code"] = b
	}
	if g.PreAuthorized != nil {
		b, err := json.Marshal(g.PreAuthorized)
		if err != nil {
			return nil, err
		}
		m[preAuthGrantName] = b
	}
	return json.Marshal(m)
}

func (g *wireGrants) UnmarshalJSON(b []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	if raw, ok := m["authorization_code"]; ok {
		var ac AuthorizationCodeGrant
		if err := json.Unmarshal(raw, &ac); err != nil {
			return err
		}
		g.AuthorizationCode = &ac
	}
	if raw, ok := m[preAuthGrantName]; ok {
		var pc PreAuthorizedCodeGrant
		if err := json.Unmarshal(raw, &pc); err != nil {
			return err
		}
		g.PreAuthorized = &pc
	}
	return nil
}

// Grants is the resolved, typed form of the offer's grants object. Both
// fields may be non-nil simultaneously; a wallet picks one flow.
type Grants struct {
	AuthorizationCode *AuthorizationCodeGrant
	PreAuthorized     *PreAuthorizedCodeGrant
}

// CredentialOfferRequestObject is the wire shape fetched by value or by
// reference, per spec.md §3. Unknown top-level fields round-trip through
// Extra so testable property 5 (round-trip preservation) holds even for
// fields this library does not interpret.
type CredentialOfferRequestObject struct {
	CredentialIssuer          string          `json:"credential_issuer"`
	CredentialConfigurationIDs []string       `json:"credential_configuration_ids"`
	Grants                    *wireGrants     `json:"grants,omitempty"`
	Extra                     map[string]json.RawMessage `json:"-"`
}

func (o CredentialOfferRequestObject) MarshalJSON() ([]byte, error) {
	m := map[string]json.RawMessage{}
	for k, v := range o.Extra {
		m[k] = v
	}
	issuerJSON, err := json.Marshal(o.CredentialIssuer)
	if err != nil {
		return nil, err
	}
	m["credential_issuer"] = issuerJSON
	idsJSON, err := json.Marshal(o.CredentialConfigurationIDs)
	if err != nil {
		return nil, err
	}
	m["credential_configuration_ids"] = idsJSON
	if o.Grants != nil {
		grantsJSON, err := json.Marshal(o.Grants)
		if err != nil {
			return nil, err
		}
		m["grants"] = grantsJSON
	}
	return json.Marshal(m)
}

func (o *CredentialOfferRequestObject) UnmarshalJSON(b []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	if raw, ok := m["credential_issuer"]; ok {
		if err := json.Unmarshal(raw, &o.CredentialIssuer); err != nil {
			return err
		}
		delete(m, "credential_issuer")
	}
	if raw, ok := m["credential_configuration_ids"]; ok {
		if err := json.Unmarshal(raw, &o.CredentialConfigurationIDs); err != nil {
			return err
		}
		delete(m, "credential_configuration_ids")
	}
	if raw, ok := m["grants"]; ok {
		var g wireGrants
		if err := json.Unmarshal(raw, &g); err != nil {
			return err
		}
		o.Grants = &g
		delete(m, "grants")
	}
	o.Extra = m
	return nil
}

// ParseCredentialOfferRequestObject decodes the raw offer JSON.
func ParseCredentialOfferRequestObject(body []byte) (*CredentialOfferRequestObject, error) {
	var o CredentialOfferRequestObject
	if err := json.Unmarshal(body, &o); err != nil {
		return nil, vcierrors.Wrap(vcierrors.KindOfferInvalid, "malformed credential offer", err)
	}
	if o.CredentialIssuer == "" || len(o.CredentialConfigurationIDs) == 0 {
		return nil, vcierrors.New(vcierrors.KindOfferInvalid, "credential offer missing required fields")
	}
	return &o, nil
}

// CredentialMetadataKind discriminates how a configuration id was resolved
// against issuer metadata.
type CredentialMetadataKind int

const (
	// CredentialByScope means the configuration exposes a scope value
	// usable in the authorization request's scope list.
	CredentialByScope CredentialMetadataKind = iota
	// CredentialByProfile means the configuration is referenced directly
	// by credential_configuration_id (carrying a format discriminator).
	CredentialByProfile
)

// CredentialMetadata is one resolved entry of the offer's
// credential_configuration_ids list.
type CredentialMetadata struct {
	Kind            CredentialMetadataKind
	ConfigurationID string
	Scope           string // set when Kind == CredentialByScope
	Format          string // format discriminator, e.g. "mso_mdoc", "dc+sd-jwt"
}

// CredentialOffer is the fully resolved, typed offer: issuer id, its
// metadata, the requested credential configurations, resolved grants, and
// the authorization server metadata that will protect issuance.
type CredentialOffer struct {
	IssuerID         CredentialIssuerId
	IssuerMetadata   *CredentialIssuerMetadata
	Credentials      []CredentialMetadata
	Grants           Grants
	AuthServerMeta   *AuthorizationServerMetadata
}

// RequiresTxCode reports whether the pre-authorized code grant, if any,
// demands a tx_code from the end user.
func (g Grants) RequiresTxCode() bool {
	return g.PreAuthorized != nil && g.PreAuthorized.TxCode != nil
}
