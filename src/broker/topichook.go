package broker

import (
	"bytes"
	"log/slog"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/sandrolain/tenant-broker/src/topics"
)

// TopicHook enforces tenant isolation on every PUBLISH, SUBSCRIBE and
// UNSUBSCRIBE. Topics from authenticated sessions are rewritten into the
// session's tenant namespace; unauthenticated sessions and reserved topics
// are refused.
//
// The ACL check runs on the client-supplied publish topic before the
// rewrite, so reserved prefixes are caught there. Subscription filters pass
// through OnSubscribe first; reserved filters are deliberately left
// unrewritten so the ACL check that follows refuses them with a SUBACK
// failure code.
type TopicHook struct {
	mqtt.HookBase
	sessions *sessionRegistry
	log      *slog.Logger
}

func newTopicHook(sessions *sessionRegistry) *TopicHook {
	return &TopicHook{
		sessions: sessions,
		log:      slog.Default().With("context", "MQTT Topics"),
	}
}

func (h *TopicHook) ID() string {
	return "tenant-topics"
}

func (h *TopicHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mqtt.OnACLCheck,
		mqtt.OnPublish,
		mqtt.OnSubscribe,
		mqtt.OnUnsubscribe,
	}, []byte{b})
}

func (h *TopicHook) OnACLCheck(cl *mqtt.Client, topic string, write bool) bool {
	if _, ok := h.sessions.get(cl.ID); !ok {
		// The authenticator rejects unauthenticated CONNECTs; this guards
		// against packets slipping through on a never-authenticated session.
		h.log.Warn("packet from unauthenticated session refused", "client", cl.ID, "topic", topic)
		return false
	}
	if topics.Reserved(topic) {
		h.log.Debug("reserved topic refused", "client", cl.ID, "topic", topic, "write", write)
		return false
	}
	return true
}

func (h *TopicHook) OnPublish(cl *mqtt.Client, pk packets.Packet) (packets.Packet, error) {
	sess, ok := h.sessions.get(cl.ID)
	if !ok {
		return pk, packets.ErrRejectPacket
	}
	rewritten, err := topics.Rewrite(pk.TopicName, sess.tenantID)
	if err != nil {
		// Reserved topics are already refused by the ACL check.
		return pk, packets.ErrRejectPacket
	}
	pk.TopicName = rewritten
	return pk, nil
}

func (h *TopicHook) OnSubscribe(cl *mqtt.Client, pk packets.Packet) packets.Packet {
	return h.rewriteFilters(cl, pk)
}

// OnUnsubscribe applies the same rewrite so the filter matches the
// subscription stored under the rewritten name.
func (h *TopicHook) OnUnsubscribe(cl *mqtt.Client, pk packets.Packet) packets.Packet {
	return h.rewriteFilters(cl, pk)
}

func (h *TopicHook) rewriteFilters(cl *mqtt.Client, pk packets.Packet) packets.Packet {
	sess, ok := h.sessions.get(cl.ID)
	if !ok {
		// Left untouched; the ACL check fails each filter.
		return pk
	}
	for i := range pk.Filters {
		filter := pk.Filters[i].Filter
		if topics.Reserved(filter) {
			continue
		}
		rewritten, err := topics.Rewrite(filter, sess.tenantID)
		if err != nil {
			continue
		}
		pk.Filters[i].Filter = rewritten
	}
	return pk
}
