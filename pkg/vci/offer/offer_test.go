package offer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jrschumacher/openid4vci/internal/testutil"
	"github.com/jrschumacher/openid4vci/pkg/vci/errors"
	"github.com/jrschumacher/openid4vci/pkg/vci/fetcher"
	"github.com/jrschumacher/openid4vci/pkg/vci/model"
)

// withConfigs wires fi's metadata endpoint to advertise the given
// credential_configuration_ids, since NewFakeIssuer's zero-arg default
// advertises none.
func withConfigs(t *testing.T, fi *testutil.FakeIssuer, ids ...string) {
	t.Helper()
	fi.MetadataHandler = func(w http.ResponseWriter, r *http.Request) {
		testutil.WriteJSON(t, w, http.StatusOK, fi.DefaultMetadata(ids...))
	}
}

func TestResolveByValue(t *testing.T) {
	fas := testutil.NewFakeAS(t)
	fi := testutil.NewFakeIssuer(t)
	fi.ASIssuer = fas.Server.URL
	withConfigs(t, fi, "pid_sd_jwt")
	offerJSON := fi.CredentialOfferJSON(t, []string{"pid_sd_jwt"}, nil)

	r := NewResolver(fetcher.New(fi.Server.Client()))
	out, err := r.Resolve(context.Background(), model.CredentialOfferRequest{ByValue: offerJSON})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(out.Credentials) != 1 || out.Credentials[0].ConfigurationID != "pid_sd_jwt" {
		t.Fatalf("unexpected credentials: %+v", out.Credentials)
	}
	if out.IssuerMetadata.CredentialEndpoint != fi.Server.URL+"/credential" {
		t.Errorf("credential endpoint = %q", out.IssuerMetadata.CredentialEndpoint)
	}
}

func TestResolveByReference(t *testing.T) {
	fas := testutil.NewFakeAS(t)
	fi := testutil.NewFakeIssuer(t)
	fi.ASIssuer = fas.Server.URL
	withConfigs(t, fi, "pid_sd_jwt")
	offerJSON := fi.CredentialOfferJSON(t, []string{"pid_sd_jwt"}, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/offer.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(offerJSON))
	})
	refSrv := httptest.NewServer(mux)
	defer refSrv.Close()

	r := NewResolver(fetcher.New(fi.Server.Client()))
	out, err := r.Resolve(context.Background(), model.CredentialOfferRequest{ByReference: refSrv.URL + "/offer.json"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(out.Credentials) != 1 || out.Credentials[0].ConfigurationID != "pid_sd_jwt" {
		t.Fatalf("unexpected credentials: %+v", out.Credentials)
	}
}

func TestResolveUnknownConfigurationID(t *testing.T) {
	fi := testutil.NewFakeIssuer(t)
	withConfigs(t, fi, "pid_sd_jwt")
	offerJSON := fi.CredentialOfferJSON(t, []string{"not_offered"}, nil)

	r := NewResolver(fetcher.New(fi.Server.Client()))
	_, err := r.Resolve(context.Background(), model.CredentialOfferRequest{ByValue: offerJSON})
	if err == nil {
		t.Fatal("expected an error for an unknown credential_configuration_id")
	}
	if kind, ok := errors.KindOf(err); !ok || kind != errors.KindOfferInvalid {
		t.Errorf("kind = %v, %v; want KindOfferInvalid, true", kind, ok)
	}
}

func TestResolvePicksAuthorizationServerFromGrant(t *testing.T) {
	fas := testutil.NewFakeAS(t)
	fi := testutil.NewFakeIssuer(t)
	fi.ASIssuer = fas.Server.URL
	withConfigs(t, fi, "pid_sd_jwt")

	offerJSON := fi.CredentialOfferJSON(t, []string{"pid_sd_jwt"}, map[string]interface{}{
		"authorization_code": map[string]interface{}{
			"authorization_server": fas.Server.URL,
		},
	})

	r := NewResolver(fetcher.New(fi.Server.Client()))
	out, err := r.Resolve(context.Background(), model.CredentialOfferRequest{ByValue: offerJSON})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if out.AuthServerMeta == nil {
		t.Fatal("expected resolved AS metadata")
	}
	if out.AuthServerMeta.TokenEndpoint != fas.Server.URL+"/token" {
		t.Errorf("token endpoint = %q", out.AuthServerMeta.TokenEndpoint)
	}
	if out.Grants.AuthorizationCode == nil || out.Grants.AuthorizationCode.AuthorizationServer != fas.Server.URL {
		t.Errorf("resolved grants = %+v", out.Grants)
	}
}

func TestResolvePicksIssuerDefaultAuthorizationServer(t *testing.T) {
	fas := testutil.NewFakeAS(t)
	fi := testutil.NewFakeIssuer(t)
	fi.ASIssuer = fas.Server.URL
	withConfigs(t, fi, "pid_sd_jwt")

	offerJSON := fi.CredentialOfferJSON(t, []string{"pid_sd_jwt"}, nil)

	r := NewResolver(fetcher.New(fi.Server.Client()))
	out, err := r.Resolve(context.Background(), model.CredentialOfferRequest{ByValue: offerJSON})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if out.AuthServerMeta == nil {
		t.Fatal("expected the issuer's listed authorization_servers entry to be resolved")
	}
}

func TestResolvePreAuthorizedGrantRoundTrips(t *testing.T) {
	fas := testutil.NewFakeAS(t)
	fi := testutil.NewFakeIssuer(t)
	fi.ASIssuer = fas.Server.URL
	withConfigs(t, fi, "pid_sd_jwt")
	offerJSON := fi.CredentialOfferJSON(t, []string{"pid_sd_jwt"}, map[string]interface{}{
		"urn:ietf:params:oauth:grant-type:pre-authorized_code": map[string]interface{}{
			"pre-authorized_code": "PRE-123",
			"tx_code": map[string]interface{}{
				"input_mode": "numeric",
				"length":     4,
			},
		},
	})

	r := NewResolver(fetcher.New(fi.Server.Client()))
	out, err := r.Resolve(context.Background(), model.CredentialOfferRequest{ByValue: offerJSON})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if out.Grants.PreAuthorized == nil {
		t.Fatal("expected a resolved pre-authorized_code grant")
	}
	if out.Grants.PreAuthorized.PreAuthorizedCode != "PRE-123" {
		t.Errorf("pre-authorized_code = %q", out.Grants.PreAuthorized.PreAuthorizedCode)
	}
	if !out.Grants.RequiresTxCode() {
		t.Error("expected RequiresTxCode to be true when tx_code is present")
	}
}
