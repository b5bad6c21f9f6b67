package issuer

import (
	"context"

	"github.com/jrschumacher/openid4vci/pkg/vci/authorizer"
	"github.com/jrschumacher/openid4vci/pkg/vci/clientauth"
	"github.com/jrschumacher/openid4vci/pkg/vci/dpop"
	vcierrors "github.com/jrschumacher/openid4vci/pkg/vci/errors"
	"github.com/jrschumacher/openid4vci/pkg/vci/fetcher"
	"github.com/jrschumacher/openid4vci/pkg/vci/model"
	"github.com/jrschumacher/openid4vci/pkg/vci/offer"
	"github.com/jrschumacher/openid4vci/pkg/vci/requester"
)

// Issuer orchestrates a single wallet client's issuance flows: resolving
// offers, driving authorization, and submitting credential requests. It
// holds no per-flow state itself — every operation takes and returns a
// model.WalletState value the caller persists (spec.md §5).
type Issuer struct {
	cfg        ClientConfig
	fetcher    fetcher.Fetcher
	nonces     *dpop.NonceStore
	offers     *offer.Resolver
	authorizer *authorizer.Authorizer
	requester  *requester.Requester
}

// New builds an Issuer from cfg. It always generates a fresh DPoP key pair;
// a DPoPKeyID carried in a restored WalletState does not select an existing
// key.
func New(cfg ClientConfig) (*Issuer, error) {
	if cfg.ProofKey == nil {
		return nil, vcierrors.New(vcierrors.KindValidation, "client config missing ProofKey")
	}
	signer, err := newDPoPSigner()
	if err != nil {
		return nil, err
	}
	clientAuth := cfg.ClientAuth
	if clientAuth == nil {
		clientAuth = clientauth.Public{ClientID: cfg.ClientID}
	}

	f := fetcher.New(cfg.HTTPClient)
	nonces := dpop.NewNonceStore()

	req := requester.NewRequester(f, signer, nonces, cfg.ProofKey)
	if cfg.ResponseEncryptionAlg != "" {
		priv, spec, err := requester.GenerateResponseEncryptionKey(cfg.ResponseEncryptionAlg, cfg.ResponseEncryptionEnc)
		if err != nil {
			return nil, err
		}
		req.ResponseEncryptionKey = priv
		req.ResponseEncryptionAlg = cfg.ResponseEncryptionAlg
		req.ResponseEncryptionSpec = spec
	}

	return &Issuer{
		cfg:     cfg,
		fetcher: f,
		nonces:  nonces,
		offers:  offer.NewResolver(f),
		authorizer: &authorizer.Authorizer{
			Fetcher:     f,
			DPoP:        signer,
			Nonces:      nonces,
			ClientAuth:  clientAuth,
			ClientID:    cfg.ClientID,
			RedirectURI: cfg.RedirectURI,
		},
		requester: req,
	}, nil
}

// ResolveOffer fetches and validates a credential offer, by value or by
// reference.
func (i *Issuer) ResolveOffer(ctx context.Context, req model.CredentialOfferRequest) (model.WalletState, error) {
	resolved, err := i.offers.Resolve(ctx, req)
	if err != nil {
		return model.WalletState{}, err
	}
	return model.WalletState{Offer: resolved}, nil
}

// BeginAuthorization starts the authorization_code flow for state.Offer,
// pushing the request via PAR when the authorization server supports or
// requires it.
func (i *Issuer) BeginAuthorization(ctx context.Context, state model.WalletState) (model.WalletState, error) {
	if state.Offer == nil || state.Offer.AuthServerMeta == nil {
		return state, vcierrors.New(vcierrors.KindValidation, "wallet state has no resolved offer with authorization server metadata")
	}
	var issuerState string
	if state.Offer.Grants.AuthorizationCode != nil {
		issuerState = state.Offer.Grants.AuthorizationCode.IssuerState
	}
	prepared, err := i.authorizer.PushAuthorizationRequest(ctx, state.Offer.AuthServerMeta, state.Offer.Credentials, i.cfg.AuthorizeFavor, issuerState)
	if err != nil {
		return state, err
	}
	next := state
	next.Prepared = &prepared
	return next, nil
}

// HandleAuthorizationCode exchanges an authorization code returned to the
// client's redirect URI for tokens.
func (i *Issuer) HandleAuthorizationCode(ctx context.Context, state model.WalletState, code, returnedState string) (model.WalletState, error) {
	if state.Prepared == nil {
		return state, vcierrors.New(vcierrors.KindValidation, "wallet state has no prepared authorization request")
	}
	if returnedState != state.Prepared.State {
		return state, vcierrors.New(vcierrors.KindValidation, "authorization response state does not match prepared state")
	}
	authz, err := i.authorizer.RequestAccessToken(ctx, state.Offer.AuthServerMeta.TokenEndpoint, code, state.Prepared.PKCE)
	if err != nil {
		return state, err
	}
	next := state
	next.Authorized = &authz
	return next, nil
}

// AuthorizeWithPreAuthorizedCode exchanges the offer's pre-authorized code
// (and, if required, a tx_code) for tokens, skipping the redirect-based
// authorization_code flow entirely.
func (i *Issuer) AuthorizeWithPreAuthorizedCode(ctx context.Context, state model.WalletState, txCode string) (model.WalletState, error) {
	if state.Offer == nil || state.Offer.Grants.PreAuthorized == nil {
		return state, vcierrors.New(vcierrors.KindValidation, "wallet state has no pre-authorized code grant")
	}
	if state.Offer.Grants.RequiresTxCode() && txCode == "" {
		return state, vcierrors.New(vcierrors.KindValidation, "offer requires a tx_code but none was supplied")
	}
	tokenEndpoint := state.Offer.AuthServerMeta.TokenEndpoint
	authz, err := i.authorizer.AuthorizeWithPreAuthorizedCode(ctx, tokenEndpoint, state.Offer.Grants.PreAuthorized.PreAuthorizedCode, txCode)
	if err != nil {
		return state, err
	}
	next := state
	next.Authorized = &authz
	return next, nil
}

// RequestCredential submits a configuration-based issuance request for one
// of the offer's credential configurations. If the wallet state has not yet
// seen a c_nonce and the issuer advertises a nonce_endpoint, a fresh nonce is
// fetched first so issuance can proceed without a prior failed attempt
// (spec.md §4.7/§6).
func (i *Issuer) RequestCredential(ctx context.Context, state model.WalletState, configurationID string) (model.SubmissionOutcome, model.WalletState, error) {
	if state.Authorized == nil {
		return model.SubmissionOutcome{}, state, vcierrors.New(vcierrors.KindValidation, "wallet state is not authorized")
	}
	cred, err := findCredential(state.Offer.Credentials, configurationID)
	if err != nil {
		return model.SubmissionOutcome{}, state, err
	}

	authz := *state.Authorized
	if authz.State != model.StateProofRequired && state.Offer.IssuerMetadata.NonceEndpoint != "" {
		nonce, err := i.requester.FetchNonce(ctx, state.Offer.IssuerMetadata.NonceEndpoint)
		if err != nil {
			return model.SubmissionOutcome{}, state, err
		}
		authz = authz.WithCNonce(nonce)
	}

	outcome, nextAuthz, err := i.requester.RequestCredential(ctx, state.Offer.IssuerMetadata.CredentialEndpoint, state.Offer.IssuerID.String(), i.cfg.ClientID, authz, model.IssuanceRequestPayload{ConfigurationID: configurationID}, cred.Format)
	next := state
	next.Authorized = &nextAuthz
	return outcome, next, err
}

// QueryDeferred polls the deferred credential endpoint for a previously
// returned transaction id.
func (i *Issuer) QueryDeferred(ctx context.Context, state model.WalletState, configurationID, transactionID string) (model.DeferredOutcome, error) {
	if state.Authorized == nil {
		return model.DeferredOutcome{}, vcierrors.New(vcierrors.KindValidation, "wallet state is not authorized")
	}
	cred, err := findCredential(state.Offer.Credentials, configurationID)
	if err != nil {
		return model.DeferredOutcome{}, err
	}
	return i.requester.QueryDeferred(ctx, state.Offer.IssuerMetadata.DeferredCredentialEndpoint, *state.Authorized, transactionID, cred.Format)
}

// Notify reports the wallet's local outcome for an issued credential back
// to the issuer.
func (i *Issuer) Notify(ctx context.Context, state model.WalletState, event model.NotificationEvent) error {
	if state.Authorized == nil {
		return vcierrors.New(vcierrors.KindValidation, "wallet state is not authorized")
	}
	return i.requester.Notify(ctx, state.Offer.IssuerMetadata.NotificationEndpoint, *state.Authorized, event)
}

// Refresh exchanges the wallet state's refresh token for a fresh access
// token.
func (i *Issuer) Refresh(ctx context.Context, state model.WalletState) (model.WalletState, error) {
	if state.Authorized == nil || state.Authorized.RefreshToken == "" {
		return state, vcierrors.New(vcierrors.KindValidation, "wallet state has no refresh token")
	}
	authz, err := i.authorizer.Refresh(ctx, state.Offer.AuthServerMeta.TokenEndpoint, *state.Authorized)
	if err != nil {
		return state, err
	}
	next := state
	next.Authorized = &authz
	return next, nil
}

func findCredential(creds []model.CredentialMetadata, configurationID string) (model.CredentialMetadata, error) {
	for _, c := range creds {
		if c.ConfigurationID == configurationID {
			return c, nil
		}
	}
	return model.CredentialMetadata{}, vcierrors.New(vcierrors.KindValidation, "unknown credential_configuration_id in wallet state").
		WithContext("credential_configuration_id", configurationID)
}
