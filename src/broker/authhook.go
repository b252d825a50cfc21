package broker

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/sandrolain/tenant-broker/src/store"
	"github.com/sandrolain/tenant-broker/src/tokenhash"
)

// credentialLookupTimeout bounds the store round-trip during CONNECT. The
// scrypt verify that follows runs in-process and is intentionally slow.
const credentialLookupTimeout = 10 * time.Second

// CredentialFinder is the slice of the device store the authenticator
// needs.
type CredentialFinder interface {
	FindByTokenLookup(ctx context.Context, digest string) (*store.DeviceCredential, error)
}

// AuthHook authenticates CONNECT packets in single-credential mode: the
// username carries the plaintext device token and the password must be
// empty. On success the session is stamped with the credential's tenant and
// device identity.
//
// Every failure path produces the same not-authorized CONNACK so a probing
// client cannot distinguish missing, wrong or expired credentials.
type AuthHook struct {
	mqtt.HookBase
	devices  CredentialFinder
	pepper   string
	sessions *sessionRegistry
	log      *slog.Logger
}

func newAuthHook(devices CredentialFinder, pepper string, sessions *sessionRegistry) *AuthHook {
	return &AuthHook{
		devices:  devices,
		pepper:   pepper,
		sessions: sessions,
		log:      slog.Default().With("context", "MQTT Auth"),
	}
}

func (h *AuthHook) ID() string {
	return "tenant-auth"
}

func (h *AuthHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mqtt.OnConnectAuthenticate,
		mqtt.OnDisconnect,
	}, []byte{b})
}

func (h *AuthHook) OnConnectAuthenticate(cl *mqtt.Client, pk packets.Packet) bool {
	token := string(pk.Connect.Username)
	if token == "" {
		return false
	}
	// Single-credential mode: a non-empty password is refused regardless of
	// the username's validity.
	if len(pk.Connect.Password) != 0 {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), credentialLookupTimeout)
	defer cancel()

	cred, err := h.devices.FindByTokenLookup(ctx, tokenhash.LookupDigest(token, h.pepper))
	if err != nil {
		// Fail closed on store errors.
		h.log.Error("credential lookup failed", "client", cl.ID, "error", err)
		return false
	}
	if cred == nil {
		return false
	}

	if !tokenhash.Verify(token, cred.TokenHash) {
		return false
	}

	if cred.ExpiresAt != nil && cred.ExpiresAt.Before(time.Now()) {
		return false
	}

	h.sessions.put(cl, session{tenantID: cred.TenantID, deviceID: cred.DeviceID})
	h.log.Debug("device authenticated", "client", cl.ID, "tenant", cred.TenantID, "device", cred.DeviceID)
	return true
}

func (h *AuthHook) OnDisconnect(cl *mqtt.Client, err error, expire bool) {
	h.sessions.remove(cl)
}
