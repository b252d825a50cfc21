// Package broker runs the multi-tenant MQTT server: an embedded mochi-mqtt
// engine with hooks for device authentication, tenant topic isolation and
// the telemetry bridge.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/sandrolain/tenant-broker/src/common/tlsconfig"
)

// Batcher is the telemetry pipeline the server feeds and drains.
type Batcher interface {
	TelemetrySink
	Stop(ctx context.Context) error
}

// Options configures the MQTT server.
type Options struct {
	// Port is the TCP port to listen on (default 1883).
	Port int

	// TLS optionally terminates TLS on the listener.
	TLS *tlsconfig.Config

	// Devices resolves CONNECT credentials.
	Devices CredentialFinder

	// Pepper is the process-wide secret mixed into credential lookups.
	Pepper string

	// Batcher receives accepted telemetry and is drained on Stop.
	Batcher Batcher

	// MaxPayloadSize caps bridged payloads (default 64 KiB).
	MaxPayloadSize int
}

const defaultPort = 1883

// Server owns the broker engine lifecycle. Hooks are installed at
// construction time, before any listener exists, so no packet can traverse
// an un-hooked engine.
type Server struct {
	opts   Options
	engine *mqtt.Server
	bridge *BridgeHook
	log    *slog.Logger
}

func New(opts Options) (*Server, error) {
	if opts.Devices == nil {
		return nil, fmt.Errorf("device credential finder is required")
	}
	if opts.Batcher == nil {
		return nil, fmt.Errorf("telemetry batcher is required")
	}
	if opts.Port == 0 {
		opts.Port = defaultPort
	}

	engine := mqtt.New(&mqtt.Options{InlineClient: false})

	sessions := newSessionRegistry()
	bridge := newBridgeHook(sessions, opts.Batcher, opts.MaxPayloadSize)

	// Hook order matters: authentication stamps the session, the topic hook
	// rewrites and authorizes, the bridge observes the rewritten publish.
	hooks := []mqtt.Hook{
		newAuthHook(opts.Devices, opts.Pepper, sessions),
		newTopicHook(sessions),
		bridge,
	}
	for _, h := range hooks {
		if err := engine.AddHook(h, nil); err != nil {
			return nil, fmt.Errorf("failed to add hook %s: %w", h.ID(), err)
		}
	}

	return &Server{
		opts:   opts,
		engine: engine,
		bridge: bridge,
		log:    slog.Default().With("context", "MQTT Server"),
	}, nil
}

// Start binds the TCP listener and begins serving. The hooks were installed
// in New, so the first accepted connection already passes through them.
func (s *Server) Start() error {
	tlsConf, err := tlsconfig.BuildServerConfigIfEnabled(s.opts.TLS)
	if err != nil {
		return fmt.Errorf("failed to build listener TLS config: %w", err)
	}

	addr := fmt.Sprintf(":%d", s.opts.Port)
	tcp := listeners.NewTCP(listeners.Config{
		ID:        "tcp",
		Address:   addr,
		TLSConfig: tlsConf,
	})
	if err := s.engine.AddListener(tcp); err != nil {
		return fmt.Errorf("failed to bind MQTT listener on %s: %w", addr, err)
	}

	go func() {
		if err := s.engine.Serve(); err != nil {
			s.log.Error("MQTT engine stopped", "error", err)
		}
	}()

	s.log.Info("MQTT server listening", "port", s.opts.Port, "tls", tlsConf != nil)
	return nil
}

// Stop shuts the broker down in order: the engine close refuses new
// connections and drains in-flight sessions, then the batcher drains its
// buffer. Errors are collected; no stage short-circuits the rest.
func (s *Server) Stop(ctx context.Context) error {
	var errs []error

	if err := s.engine.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close MQTT engine: %w", err))
	}

	if err := s.opts.Batcher.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop telemetry batcher: %w", err))
	}

	bridged, dropped := s.bridge.Stats()
	s.log.Info("MQTT server stopped", "bridged", bridged, "dropped", dropped)

	return errors.Join(errs...)
}
