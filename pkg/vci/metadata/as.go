package metadata

import (
	"context"
	"strings"

	vcierrors "github.com/jrschumacher/openid4vci/pkg/vci/errors"
	"github.com/jrschumacher/openid4vci/pkg/vci/fetcher"
	"github.com/jrschumacher/openid4vci/pkg/vci/model"
)

// ASResolver fetches authorization server metadata, trying OIDC discovery
// before falling back to bare OAuth 2.0 Authorization Server Metadata
// (RFC 8414), per spec.md §9's resolution order for servers that implement
// only one of the two well-known documents.
type ASResolver struct {
	Fetcher fetcher.Fetcher
}

func NewASResolver(f fetcher.Fetcher) *ASResolver {
	return &ASResolver{Fetcher: f}
}

// Resolve fetches metadata for issuer, an absolute https URL with no
// trailing slash.
func (r *ASResolver) Resolve(ctx context.Context, issuer string) (*model.AuthorizationServerMetadata, error) {
	issuer = strings.TrimSuffix(issuer, "/")

	oidcBody, oidcErr := fetcher.Get(ctx, r.Fetcher, issuer+"/.well-known/openid-configuration")
	if oidcErr == nil {
		return model.ParseAuthorizationServerMetadata(oidcBody)
	}

	oauthBody, oauthErr := fetcher.Get(ctx, r.Fetcher, issuer+"/.well-known/oauth-authorization-server")
	if oauthErr == nil {
		return model.ParseAuthorizationServerMetadata(oauthBody)
	}

	return nil, vcierrors.Wrap(vcierrors.KindMetadataInvalid, "authorization server metadata unreachable", oauthErr).
		WithContext("issuer", issuer)
}
