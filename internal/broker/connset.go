package broker

import "sync"

// ConnEvent is one connection-status transition. TenantID is the
// tenant the accept hook resolved for this client at CONNECT time; it
// is set only on Connected=true events and is always empty on a
// Connected=false event.
type ConnEvent struct {
	ClientID  string
	TenantID  string
	Connected bool
}

// connBroadcaster fans a single stream of ConnEvent out to any number
// of subscriber channels, matching spec.md §4.3's "multi-consumer
// channel". Each subscriber channel is bounded; a slow subscriber has
// its event dropped rather than blocking the publisher.
type connBroadcaster struct {
	mu   sync.Mutex
	subs map[chan ConnEvent]struct{}
}

func newConnBroadcaster() *connBroadcaster {
	return &connBroadcaster{subs: make(map[chan ConnEvent]struct{})}
}

// Subscribe returns a channel that receives every future ConnEvent
// until unsubscribe is called.
func (b *connBroadcaster) Subscribe() (ch <-chan ConnEvent, unsubscribe func()) {
	c := make(chan ConnEvent, 32)
	b.mu.Lock()
	b.subs[c] = struct{}{}
	b.mu.Unlock()

	return c, func() {
		b.mu.Lock()
		if _, ok := b.subs[c]; ok {
			delete(b.subs, c)
			close(c)
		}
		b.mu.Unlock()
	}
}

func (b *connBroadcaster) Publish(ev ConnEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.subs {
		select {
		case c <- ev:
		default:
		}
	}
}

// ConnectionSet is the process-wide set of currently connected client
// ids, mutated only by the processor's connection monitor and read by
// the API. Each entry also records the tenant the client authenticated
// as, since the MQTT ClientID itself carries no tenant information —
// tenant is resolved from the certificate Organization (or the default
// tenant when no certificate is presented) at accept time, independently of whatever
// string the client presents as its ClientID. Grounded on spec.md §3's
// ConnectionSet and §4.4's connection monitor.
type ConnectionSet struct {
	mu      sync.RWMutex
	clients map[string]string // clientID -> tenantID
}

// NewConnectionSet returns an empty ConnectionSet.
func NewConnectionSet() *ConnectionSet {
	return &ConnectionSet{clients: make(map[string]string)}
}

// Insert marks clientID as connected under tenantID.
func (s *ConnectionSet) Insert(clientID, tenantID string) {
	s.mu.Lock()
	s.clients[clientID] = tenantID
	s.mu.Unlock()
}

// Remove marks clientID as disconnected.
func (s *ConnectionSet) Remove(clientID string) {
	s.mu.Lock()
	delete(s.clients, clientID)
	s.mu.Unlock()
}

// Contains reports whether clientID is currently connected.
func (s *ConnectionSet) Contains(clientID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.clients[clientID]
	return ok
}

// Snapshot returns every currently connected client id.
func (s *ConnectionSet) Snapshot() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.clients))
	for id := range s.clients {
		out = append(out, id)
	}
	return out
}

// SnapshotForTenant returns the client ids currently connected under
// tenantID.
func (s *ConnectionSet) SnapshotForTenant(tenantID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for id, t := range s.clients {
		if t == tenantID {
			out = append(out, id)
		}
	}
	return out
}
