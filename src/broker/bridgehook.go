package broker

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/sandrolain/tenant-broker/src/store"
)

// DefaultMaxPayloadSize caps payloads forwarded to the telemetry store.
const DefaultMaxPayloadSize = 64 * 1024

// TelemetrySink accepts validated telemetry. Satisfied by batcher.Batcher.
type TelemetrySink interface {
	Submit(ctx context.Context, rec store.TelemetryRecord) error
}

// BridgeHook forwards accepted publishes to the telemetry batcher. It runs
// after TopicHook, so the topic it observes is already tenant-prefixed.
// Submission is fire and forget: sink errors are logged and never reach the
// publishing client.
type BridgeHook struct {
	mqtt.HookBase
	sessions   *sessionRegistry
	sink       TelemetrySink
	maxPayload int
	log        *slog.Logger

	bridged atomic.Int64
	dropped atomic.Int64
}

func newBridgeHook(sessions *sessionRegistry, sink TelemetrySink, maxPayload int) *BridgeHook {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayloadSize
	}
	return &BridgeHook{
		sessions:   sessions,
		sink:       sink,
		maxPayload: maxPayload,
		log:        slog.Default().With("context", "Telemetry Bridge"),
	}
}

func (h *BridgeHook) ID() string {
	return "telemetry-bridge"
}

func (h *BridgeHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mqtt.OnPublish,
	}, []byte{b})
}

func (h *BridgeHook) OnPublish(cl *mqtt.Client, pk packets.Packet) (packets.Packet, error) {
	topic := pk.TopicName

	// Broker-generated system topics bypass the auth hooks and are not
	// tenant telemetry.
	if strings.HasPrefix(topic, "$") {
		return pk, nil
	}

	if len(pk.Payload) > h.maxPayload {
		h.dropped.Add(1)
		h.log.Warn("payload exceeds maximum size, dropping",
			"client", cl.ID, "topic", topic, "size", len(pk.Payload), "max", h.maxPayload)
		return pk, nil
	}

	if topic == "" || len(pk.Payload) == 0 || !utf8.Valid(pk.Payload) {
		h.dropped.Add(1)
		h.log.Debug("invalid telemetry message, dropping", "client", cl.ID, "topic", topic)
		return pk, nil
	}

	sess, ok := h.sessions.get(cl.ID)
	if !ok {
		// Must not happen: TopicHook refuses packets from sessions without
		// identity before this hook runs.
		h.dropped.Add(1)
		h.log.Warn("publish without session identity, dropping", "client", cl.ID, "topic", topic)
		return pk, nil
	}

	rec := store.TelemetryRecord{
		TenantID:  sess.tenantID,
		Topic:     topic,
		Payload:   string(pk.Payload),
		Timestamp: time.Now().UTC(),
	}
	if err := h.sink.Submit(context.Background(), rec); err != nil {
		h.dropped.Add(1)
		h.log.Error("failed to submit telemetry", "client", cl.ID, "topic", topic, "error", err)
		return pk, nil
	}

	h.bridged.Add(1)
	return pk, nil
}

// Stats returns the number of messages bridged to the batcher and dropped
// by validation since startup.
func (h *BridgeHook) Stats() (bridged, dropped int64) {
	return h.bridged.Load(), h.dropped.Load()
}
