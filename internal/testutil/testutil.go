// Package testutil provides scripted httptest servers standing in for a
// credential issuer and its authorization server, so pkg/vci tests can drive
// full flows (discovery, PAR, token exchange, credential issuance) without a
// real network.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

// WriteJSON writes v as an application/json response body with the given
// status code, failing the test on a marshal error.
func WriteJSON(t *testing.T, w http.ResponseWriter, status int, v interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Fatalf("encode test response: %v", err)
	}
}

// ParseForm reads and parses an application/x-www-form-urlencoded request
// body, failing the test on error.
func ParseForm(t *testing.T, r *http.Request) url.Values {
	t.Helper()
	if err := r.ParseForm(); err != nil {
		t.Fatalf("parse form body: %v", err)
	}
	return r.PostForm
}

// FakeAS is a scripted authorization server: PAR, token, and discovery
// endpoints, each driven by a caller-supplied handler. Discovery defaults to
// serving DefaultMetadata; the other handlers default to 404 until set, so a
// test only wires up the endpoints its scenario needs. It serves over TLS,
// since credential issuer ids must use https.
type FakeAS struct {
	Server *httptest.Server

	ParHandler       http.HandlerFunc
	TokenHandler     http.HandlerFunc
	MetadataHandler  http.HandlerFunc
	AuthorizeHandler http.HandlerFunc
}

// NewFakeAS starts a scripted authorization server and registers cleanup.
func NewFakeAS(t *testing.T) *FakeAS {
	t.Helper()
	fas := &FakeAS{}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		if fas.MetadataHandler != nil {
			fas.MetadataHandler(w, r)
			return
		}
		WriteJSON(t, w, http.StatusOK, fas.DefaultMetadata())
	})
	mux.HandleFunc("/par", func(w http.ResponseWriter, r *http.Request) {
		if fas.ParHandler != nil {
			fas.ParHandler(w, r)
			return
		}
		http.NotFound(w, r)
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if fas.TokenHandler != nil {
			fas.TokenHandler(w, r)
			return
		}
		http.NotFound(w, r)
	})
	mux.HandleFunc("/authorize", func(w http.ResponseWriter, r *http.Request) {
		if fas.AuthorizeHandler != nil {
			fas.AuthorizeHandler(w, r)
			return
		}
		http.NotFound(w, r)
	})
	fas.Server = httptest.NewTLSServer(mux)
	t.Cleanup(fas.Server.Close)
	return fas
}

// DefaultMetadata returns the AS metadata wire object matching this server's
// own endpoints, as a generic map so tests can mutate it freely before it is
// served without depending on pkg/vci/model.
func (fas *FakeAS) DefaultMetadata() map[string]interface{} {
	return map[string]interface{}{
		"issuer":                                 fas.Server.URL,
		"authorization_endpoint":                 fas.Server.URL + "/authorize",
		"token_endpoint":                         fas.Server.URL + "/token",
		"pushed_authorization_request_endpoint":  fas.Server.URL + "/par",
		"response_types_supported":               []string{"code"},
		"code_challenge_methods_supported":       []string{"S256"},
		"dpop_signing_alg_values_supported":      []string{"ES256"},
	}
}

// FakeIssuer is a scripted credential issuer: discovery, credential,
// deferred, notification, and nonce endpoints, each driven by a
// caller-supplied handler. Discovery defaults to serving DefaultMetadata();
// the other handlers default to 404 until set. It serves over TLS, since
// credential issuer ids must use https.
type FakeIssuer struct {
	Server *httptest.Server

	MetadataHandler     http.HandlerFunc
	CredentialHandler   http.HandlerFunc
	DeferredHandler     http.HandlerFunc
	NotificationHandler http.HandlerFunc
	NonceHandler        http.HandlerFunc

	// ASIssuer, if set, is embedded in the default metadata's
	// authorization_servers list.
	ASIssuer string
}

// NewFakeIssuer starts a scripted credential issuer and registers cleanup.
func NewFakeIssuer(t *testing.T) *FakeIssuer {
	t.Helper()
	fi := &FakeIssuer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-credential-issuer", func(w http.ResponseWriter, r *http.Request) {
		if fi.MetadataHandler != nil {
			fi.MetadataHandler(w, r)
			return
		}
		WriteJSON(t, w, http.StatusOK, fi.DefaultMetadata())
	})
	mux.HandleFunc("/credential", func(w http.ResponseWriter, r *http.Request) {
		if fi.CredentialHandler != nil {
			fi.CredentialHandler(w, r)
			return
		}
		http.NotFound(w, r)
	})
	mux.HandleFunc("/deferred", func(w http.ResponseWriter, r *http.Request) {
		if fi.DeferredHandler != nil {
			fi.DeferredHandler(w, r)
			return
		}
		http.NotFound(w, r)
	})
	mux.HandleFunc("/notify", func(w http.ResponseWriter, r *http.Request) {
		if fi.NotificationHandler != nil {
			fi.NotificationHandler(w, r)
			return
		}
		http.NotFound(w, r)
	})
	mux.HandleFunc("/nonce", func(w http.ResponseWriter, r *http.Request) {
		if fi.NonceHandler != nil {
			fi.NonceHandler(w, r)
			return
		}
		http.NotFound(w, r)
	})
	fi.Server = httptest.NewTLSServer(mux)
	t.Cleanup(fi.Server.Close)
	return fi
}

// DefaultMetadata returns the issuer metadata wire object matching this
// server's own endpoints and credConfigs, one entry per configuration id.
func (fi *FakeIssuer) DefaultMetadata(credConfigs ...string) map[string]interface{} {
	configs := map[string]interface{}{}
	for _, id := range credConfigs {
		configs[id] = map[string]interface{}{
			"format": "dc+sd-jwt",
		}
	}
	m := map[string]interface{}{
		"credential_issuer":                   fi.Server.URL,
		"credential_endpoint":                  fi.Server.URL + "/credential",
		"deferred_credential_endpoint":         fi.Server.URL + "/deferred",
		"notification_endpoint":                fi.Server.URL + "/notify",
		"nonce_endpoint":                       fi.Server.URL + "/nonce",
		"credential_configurations_supported":  configs,
	}
	if fi.ASIssuer != "" {
		m["authorization_servers"] = []string{fi.ASIssuer}
	}
	return m
}

// CredentialOfferJSON renders a by-value credential offer body naming this
// issuer and the given credential_configuration_ids.
func (fi *FakeIssuer) CredentialOfferJSON(t *testing.T, configIDs []string, grants map[string]interface{}) string {
	t.Helper()
	offer := map[string]interface{}{
		"credential_issuer":            fi.Server.URL,
		"credential_configuration_ids": configIDs,
	}
	if grants != nil {
		offer["grants"] = grants
	}
	b, err := json.Marshal(offer)
	if err != nil {
		t.Fatalf("marshal test credential offer: %v", err)
	}
	return string(b)
}
