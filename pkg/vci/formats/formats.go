// Package formats implements the pluggable per-credential-format decoding
// of issued credentials (it does not encode claim sets or proof claims into
// request bodies), grounded on the
// provider-table pattern in pkg/atproto/oauth/providers.go (a small
// registry keyed by name dispatching to format-specific collaborators).
package formats

import (
	vcierrors "github.com/jrschumacher/openid4vci/pkg/vci/errors"
	"github.com/jrschumacher/openid4vci/pkg/vci/model"
)

// Profile encodes/decodes the format-specific parts of an issuance flow.
// Two are registered by default: MsoMdoc and SDJWTVC. W3C
// Verifiable-Credentials-JSON formats are an explicit Non-goal (spec.md §2)
// and have no registered Profile, so requesting one surfaces
// KindUnsupportedFeature rather than failing silently.
type Profile interface {
	// Name is the format identifier as it appears on the wire, e.g.
	// "mso_mdoc" or "dc+sd-jwt".
	Name() string

	// DecodeCredential turns one raw issued-credential string from a
	// Success response into the format's native representation, wrapped
	// opaquely in model.IssuedCredential.Credential.
	DecodeCredential(raw string) (model.IssuedCredential, error)
}

// Registry holds the set of formats an issuer instance understands.
type Registry struct {
	profiles map[string]Profile
}

// NewRegistry returns a Registry pre-populated with the default profiles.
func NewRegistry() *Registry {
	r := &Registry{profiles: make(map[string]Profile, 2)}
	r.Register(MsoMdoc{})
	r.Register(SDJWTVC{})
	return r
}

// Register adds or replaces the profile for its own Name().
func (r *Registry) Register(p Profile) {
	r.profiles[p.Name()] = p
}

// Lookup returns the profile registered for format, or an
// KindUnsupportedFeature error if none is registered.
func (r *Registry) Lookup(format string) (Profile, error) {
	p, ok := r.profiles[format]
	if !ok {
		return nil, vcierrors.New(vcierrors.KindUnsupportedFeature, "no registered format profile").
			WithContext("format", format)
	}
	return p, nil
}
