// Package fetcher provides the pluggable HTTP transport every other pkg/vci
// package issues requests through, grounded on the *http.Client usage in
// pkg/atproto/oauth/par.go's PARClient and oauth.go's OAuthClient, but
// factored out behind an interface so tests substitute an httptest server
// and callers can substitute their own transport (e.g. for mTLS). The one
// exception is pkg/vci/metadata's signed_metadata JWKS fetch, which goes
// through jwx's own HTTP client.
package fetcher

import (
	"context"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/jrschumacher/openid4vci/internal/logger"
	vcierrors "github.com/jrschumacher/openid4vci/pkg/vci/errors"
)

// Fetcher performs a single HTTP round trip and returns the raw response,
// leaving header inspection (DPoP-Nonce, WWW-Authenticate, etc.) to the
// caller — mirroring the teacher's direct client.Do() + response-header
// handling in PerformPAR.
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPFetcher is the default Fetcher, backed by a plain *http.Client.
type HTTPFetcher struct {
	Client *http.Client
}

// New returns an HTTPFetcher using client, or http.DefaultClient if nil.
func New(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{Client: client}
}

func (f *HTTPFetcher) Do(req *http.Request) (*http.Response, error) {
	correlationID := uuid.NewString()
	req.Header.Set("X-Correlation-Id", correlationID)
	logger.Debug("vci: outbound request", "correlation_id", correlationID, "method", req.Method, "url", req.URL.String())

	resp, err := f.Client.Do(req)
	if err != nil {
		logger.Error("vci: outbound request failed", "correlation_id", correlationID, "error", err)
		return nil, vcierrors.Wrap(vcierrors.KindTransport, "http request failed", err)
	}
	logger.Debug("vci: outbound response", "correlation_id", correlationID, "status", resp.StatusCode)
	return resp, nil
}

// Get issues a GET to url and returns the response body, erroring on any
// non-2xx status.
func Get(ctx context.Context, f Fetcher, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, vcierrors.Wrap(vcierrors.KindTransport, "build get request", err)
	}
	resp, err := f.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, vcierrors.Wrap(vcierrors.KindTransport, "read response body", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, vcierrors.New(vcierrors.KindTransport, "unexpected status "+resp.Status).
			WithContext("url", url)
	}
	return body, nil
}
