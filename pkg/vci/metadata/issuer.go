package metadata

import (
	"context"

	vcierrors "github.com/jrschumacher/openid4vci/pkg/vci/errors"
	"github.com/jrschumacher/openid4vci/pkg/vci/fetcher"
	"github.com/jrschumacher/openid4vci/pkg/vci/model"
)

// IssuerResolver fetches and verifies credential issuer metadata.
type IssuerResolver struct {
	Fetcher fetcher.Fetcher
	Policy  SignedMetadataPolicy
}

// NewIssuerResolver returns a resolver using f with the default
// PreferSigned policy.
func NewIssuerResolver(f fetcher.Fetcher) *IssuerResolver {
	return &IssuerResolver{Fetcher: f, Policy: PreferSigned}
}

// Resolve fetches the well-known metadata document for id, verifies any
// signed_metadata per the resolver's policy, and returns the merged result.
func (r *IssuerResolver) Resolve(ctx context.Context, id model.CredentialIssuerId) (*model.CredentialIssuerMetadata, error) {
	body, err := fetcher.Get(ctx, r.Fetcher, id.WellKnownMetadataURL())
	if err != nil {
		return nil, err
	}

	unsigned, signedJWT, err := model.ParseIssuerMetadata(body)
	if err != nil {
		return nil, err
	}

	if signedJWT == "" {
		if r.Policy == RequireSigned {
			return nil, vcierrors.New(vcierrors.KindMetadataInvalid, "issuer metadata carries no signed_metadata and RequireSigned policy is in effect")
		}
		return unsigned, nil
	}
	if r.Policy == IgnoreSigned {
		return unsigned, nil
	}

	signed, err := verifySignedMetadata(ctx, id.String()+"/.well-known/jwks.json", id.String(), signedJWT)
	if err != nil {
		if r.Policy == RequireSigned {
			return nil, err
		}
		return unsigned, nil
	}
	return model.MergeSigned(unsigned, signed), nil
}
