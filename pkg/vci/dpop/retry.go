package dpop

import "net/http"

// Attempt performs one DPoP-protected HTTP round trip. buildAndSend must
// construct a fresh request using the given nonce (empty on the first try)
// and return the response alongside any "DPoP-Nonce" header value the
// server returned and whether the server signaled use_dpop_nonce.
type Attempt func(nonce string) (resp *http.Response, dpopNonce string, useDPoPNonce bool, err error)

// WithNonceRetry performs attempt once with the store's current nonce for
// origin, and — exactly once — retries with a server-supplied nonce if the
// first attempt fails with use_dpop_nonce, generalizing the teacher's
// PerformPAR/performPARWithNonce pair into a single call site reused by
// every outbound request (PAR, token, credential, deferred, notification;
// spec.md §5 invariant 4: at most one nonce-triggered retry per call).
func WithNonceRetry(store *NonceStore, origin string, attempt Attempt) (*http.Response, error) {
	resp, newNonce, retry, err := attempt(store.Get(origin))
	if newNonce != "" {
		store.Set(origin, newNonce)
	}
	if err != nil {
		return nil, err
	}
	if !retry {
		return resp, nil
	}

	resp2, newNonce2, _, err2 := attempt(store.Get(origin))
	if newNonce2 != "" {
		store.Set(origin, newNonce2)
	}
	if err2 != nil {
		return nil, err2
	}
	return resp2, nil
}
