package formats

import (
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwt"

	vcierrors "github.com/jrschumacher/openid4vci/pkg/vci/errors"
	"github.com/jrschumacher/openid4vci/pkg/vci/model"
)

// SDJWTVC is the SD-JWT Verifiable Credential format ("dc+sd-jwt"): an
// issuer-signed JWT followed by zero or more "~"-separated disclosures and
// an optional key-binding JWT. This profile parses the leading JWT's
// claims (unverified — signature verification is left to the holder's
// trust policy, out of scope for this transport library) and leaves
// disclosures untouched for the caller to select/present.
type SDJWTVC struct{}

func (SDJWTVC) Name() string { return "dc+sd-jwt" }

func (SDJWTVC) DecodeCredential(raw string) (model.IssuedCredential, error) {
	jwtPart := raw
	if idx := strings.Index(raw, "~"); idx >= 0 {
		jwtPart = raw[:idx]
	}
	if _, err := jwt.Parse([]byte(jwtPart), jwt.WithVerify(false), jwt.WithValidate(false)); err != nil {
		return model.IssuedCredential{}, vcierrors.Wrap(vcierrors.KindValidation, "dc+sd-jwt credential is not a well-formed JWT", err)
	}
	return model.IssuedCredential{Format: "dc+sd-jwt", Credential: raw}, nil
}
