package broker

import (
	"sync"

	mqtt "github.com/mochi-mqtt/server/v2"
)

// session is the tenant identity stamped on a connection by the
// authenticator and consulted by every authorization decision. It holds
// copies only; the credential store is not consulted again after CONNECT.
type session struct {
	tenantID int64
	deviceID string
}

// sessionEntry pairs the identity with the connection that owns it. Client
// ids are client-chosen, so the same id can be claimed by a new connection
// while the displaced one is still tearing down.
type sessionEntry struct {
	owner *mqtt.Client
	sess  session
}

// sessionRegistry maps mochi client ids to their authenticated identity.
// A client id without an entry is an unauthenticated session and every
// authorization check fails closed.
type sessionRegistry struct {
	mu       sync.RWMutex
	byClient map[string]sessionEntry
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{byClient: make(map[string]sessionEntry)}
}

func (r *sessionRegistry) put(cl *mqtt.Client, s session) {
	r.mu.Lock()
	r.byClient[cl.ID] = sessionEntry{owner: cl, sess: s}
	r.mu.Unlock()
}

func (r *sessionRegistry) get(clientID string) (session, bool) {
	r.mu.RLock()
	e, ok := r.byClient[clientID]
	r.mu.RUnlock()
	return e.sess, ok
}

// remove is a compare-and-delete: the entry goes away only when the
// disconnecting connection still owns it. After a session takeover the
// displaced connection's close must not erase the identity the new
// connection just authenticated.
func (r *sessionRegistry) remove(cl *mqtt.Client) {
	r.mu.Lock()
	if e, ok := r.byClient[cl.ID]; ok && e.owner == cl {
		delete(r.byClient, cl.ID)
	}
	r.mu.Unlock()
}
