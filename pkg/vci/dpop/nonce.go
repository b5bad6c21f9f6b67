package dpop

import "sync"

// NonceStore holds the single current server-supplied DPoP nonce for each
// issuer+authorization-server origin pair, generalized from the teacher's
// single cookie-backed nonce (SetDPoPNonceCookie/GetDPoPNonceFromCookie)
// into a process-wide map so one wallet process can hold flows against
// multiple issuers concurrently (spec.md §5).
type NonceStore struct {
	mu     sync.Mutex
	nonces map[string]string
}

// NewNonceStore returns an empty store.
func NewNonceStore() *NonceStore {
	return &NonceStore{nonces: make(map[string]string)}
}

// Get returns the current nonce for origin, or "" if none is known yet.
func (s *NonceStore) Get(origin string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nonces[origin]
}

// Set records the nonce a server returned for origin, overwriting any
// previous value — servers rotate nonces on every response.
func (s *NonceStore) Set(origin, nonce string) {
	if nonce == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonces[origin] = nonce
}
