package formats

import (
	"encoding/base64"

	"github.com/fxamacker/cbor/v2"

	vcierrors "github.com/jrschumacher/openid4vci/pkg/vci/errors"
	"github.com/jrschumacher/openid4vci/pkg/vci/model"
)

// MsoMdoc is the ISO/IEC 18013-5 mobile security object credential format.
// The issuer returns credentials base64url-encoded CBOR; this profile only
// validates that the payload is well-formed CBOR, leaving namespace/element
// interpretation to the caller (mdoc semantics are out of this library's
// scope beyond transport).
type MsoMdoc struct{}

func (MsoMdoc) Name() string { return "mso_mdoc" }

func (MsoMdoc) DecodeCredential(raw string) (model.IssuedCredential, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return model.IssuedCredential{}, vcierrors.Wrap(vcierrors.KindValidation, "mso_mdoc credential is not valid base64url", err)
	}
	var probe cbor.RawMessage
	if err := cbor.Unmarshal(decoded, &probe); err != nil {
		return model.IssuedCredential{}, vcierrors.Wrap(vcierrors.KindValidation, "mso_mdoc credential is not valid CBOR", err)
	}
	return model.IssuedCredential{Format: "mso_mdoc", Credential: raw}, nil
}
