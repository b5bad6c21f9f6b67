// Package offer resolves a credential offer (by value or by reference)
// into a fully typed model.CredentialOffer, orchestrating the metadata
// package the way pkg/atproto/oauth/provider.go's DefaultProvider
// orchestrates its sub-components: hold configuration, dispatch to
// collaborators, return a fresh result per call.
package offer

import (
	"context"
	"net/url"

	vcierrors "github.com/jrschumacher/openid4vci/pkg/vci/errors"
	"github.com/jrschumacher/openid4vci/pkg/vci/fetcher"
	"github.com/jrschumacher/openid4vci/pkg/vci/metadata"
	"github.com/jrschumacher/openid4vci/pkg/vci/model"
)

// Resolver turns a raw credential offer (by-value JSON or by-reference URL)
// into a resolved CredentialOffer: issuer metadata fetched, configuration
// ids validated against it, and AS metadata resolved from the
// authorization_code grant's authorization_server if it names one, else from
// the issuer's first listed authorization server, else from the credential
// issuer itself. Failing to resolve that AS metadata fails the offer.
type Resolver struct {
	Fetcher         fetcher.Fetcher
	IssuerResolver  *metadata.IssuerResolver
	ASResolver      *metadata.ASResolver
}

// NewResolver wires a Resolver from a shared Fetcher.
func NewResolver(f fetcher.Fetcher) *Resolver {
	return &Resolver{
		Fetcher:        f,
		IssuerResolver: metadata.NewIssuerResolver(f),
		ASResolver:     metadata.NewASResolver(f),
	}
}

// Resolve accepts the parsed CredentialOfferRequest (already split into
// ByValue/ByReference by the caller's URL-parameter handling) and returns
// the fully resolved offer.
func (r *Resolver) Resolve(ctx context.Context, req model.CredentialOfferRequest) (*model.CredentialOffer, error) {
	raw, err := r.offerBody(ctx, req)
	if err != nil {
		return nil, err
	}

	wire, err := model.ParseCredentialOfferRequestObject(raw)
	if err != nil {
		return nil, err
	}

	issuerID, err := model.NewCredentialIssuerId(wire.CredentialIssuer)
	if err != nil {
		return nil, err
	}

	issuerMeta, err := r.IssuerResolver.Resolve(ctx, issuerID)
	if err != nil {
		return nil, err
	}

	credentials, err := resolveConfigurations(wire.CredentialConfigurationIDs, issuerMeta)
	if err != nil {
		return nil, err
	}

	grants := model.Grants{}
	if wire.Grants != nil {
		grants.AuthorizationCode = wire.Grants.AuthorizationCode
		grants.PreAuthorized = wire.Grants.PreAuthorized
	}

	var asMeta *model.AuthorizationServerMetadata
	asIssuer := pickASIssuer(grants, issuerMeta)
	if asIssuer != "" {
		asMeta, err = r.ASResolver.Resolve(ctx, asIssuer)
		if err != nil {
			return nil, err
		}
	}

	return &model.CredentialOffer{
		IssuerID:       issuerID,
		IssuerMetadata: issuerMeta,
		Credentials:    credentials,
		Grants:         grants,
		AuthServerMeta: asMeta,
	}, nil
}

func (r *Resolver) offerBody(ctx context.Context, req model.CredentialOfferRequest) ([]byte, error) {
	if req.IsByReference() {
		if _, err := url.ParseRequestURI(req.ByReference); err != nil {
			return nil, vcierrors.Wrap(vcierrors.KindOfferInvalid, "malformed credential_offer_uri", err)
		}
		return fetcher.Get(ctx, r.Fetcher, req.ByReference)
	}
	if req.ByValue == "" {
		return nil, vcierrors.New(vcierrors.KindOfferInvalid, "credential offer request carries neither credential_offer nor credential_offer_uri")
	}
	return []byte(req.ByValue), nil
}

func resolveConfigurations(ids []string, meta *model.CredentialIssuerMetadata) ([]model.CredentialMetadata, error) {
	out := make([]model.CredentialMetadata, 0, len(ids))
	for _, id := range ids {
		supported, ok := meta.CredentialConfigurationsSupported[id]
		if !ok {
			return nil, vcierrors.New(vcierrors.KindOfferInvalid, "credential offer references unknown credential_configuration_id").
				WithContext("credential_configuration_id", id)
		}
		kind := model.CredentialByProfile
		if supported.Scope != "" {
			kind = model.CredentialByScope
		}
		out = append(out, model.CredentialMetadata{
			Kind:            kind,
			ConfigurationID: id,
			Scope:           supported.Scope,
			Format:          supported.Format,
		})
	}
	return out, nil
}

func pickASIssuer(grants model.Grants, meta *model.CredentialIssuerMetadata) string {
	if grants.AuthorizationCode != nil && grants.AuthorizationCode.AuthorizationServer != "" {
		return grants.AuthorizationCode.AuthorizationServer
	}
	if len(meta.AuthorizationServers) > 0 {
		return meta.AuthorizationServers[0]
	}
	return meta.CredentialIssuer.String()
}
