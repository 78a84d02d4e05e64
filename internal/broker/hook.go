package broker

import (
	"crypto/tls"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"
)

// acceptHook is the mochi-mqtt hook implementing spec.md §4.5's
// accept-time authentication and the connection-status broadcast.
// Embedding mqtt.HookBase supplies no-op defaults for the large
// remainder of the Hook interface this adapter does not need.
type acceptHook struct {
	mqtt.HookBase
	broker *Broker
}

func (h *acceptHook) ID() string { return "forest-accept-hook" }

func (h *acceptHook) Provides(b byte) bool {
	switch b {
	case mqtt.OnConnectAuthenticate, mqtt.OnConnect, mqtt.OnDisconnect:
		return true
	default:
		return false
	}
}

// OnConnectAuthenticate runs synchronously on every CONNECT packet,
// implementing the decision procedure in auth.go: certificate CN wins
// over username/password when a client certificate is presented.
func (h *acceptHook) OnConnectAuthenticate(cl *mqtt.Client, pk packets.Packet) bool {
	attempt := ConnectAttempt{
		ClientID: cl.ID,
		Username: string(pk.Connect.Username),
		Password: string(pk.Connect.Password),
	}

	if cn, org, ok := peerCertIdentity(cl); ok {
		attempt.CertCN = cn
		attempt.CertOrg = org
	}

	rec, err := Authenticate(h.broker.store, attempt)
	if err != nil {
		h.broker.logger.Info("mqtt connect rejected", "client_id", cl.ID, "error", err)
		return false
	}

	h.broker.pendingTenant.Store(cl.ID, rec.TenantID.String())
	h.broker.logger.Debug("mqtt connect accepted", "client_id", cl.ID, "tenant_id", rec.TenantID.String())
	return true
}

// OnConnect forwards a Connected event onto the connection-status
// broadcast once the broker has fully established the session, tagging
// it with the tenant OnConnectAuthenticate resolved for this client.
func (h *acceptHook) OnConnect(cl *mqtt.Client, pk packets.Packet) error {
	var tenantID string
	if v, ok := h.broker.pendingTenant.Load(cl.ID); ok {
		tenantID = v.(string)
	}
	select {
	case h.broker.rawConn <- ConnEvent{ClientID: cl.ID, TenantID: tenantID, Connected: true}:
	default:
	}
	return nil
}

// OnDisconnect forwards a Disconnected event and forgets the client's
// resolved tenant.
func (h *acceptHook) OnDisconnect(cl *mqtt.Client, err error, expire bool) {
	h.broker.pendingTenant.Delete(cl.ID)
	select {
	case h.broker.rawConn <- ConnEvent{ClientID: cl.ID, Connected: false}:
	default:
	}
}

// peerCertIdentity extracts the client certificate's CommonName and
// first Organization entry from a TLS connection, if one was
// presented. ok is false for plaintext connections or when no client
// certificate was sent (TLS is configured with VerifyClientCertIfGiven
// so unauthenticated TLS connections remain possible for
// username/password auth over TLS).
func peerCertIdentity(cl *mqtt.Client) (cn, org string, ok bool) {
	if cl.Net.Conn == nil {
		return "", "", false
	}
	tlsConn, isTLS := cl.Net.Conn.(*tls.Conn)
	if !isTLS {
		return "", "", false
	}
	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return "", "", false
	}
	leaf := state.PeerCertificates[0]
	cn = leaf.Subject.CommonName
	if len(leaf.Subject.Organization) > 0 {
		org = leaf.Subject.Organization[0]
	}
	return cn, org, true
}
