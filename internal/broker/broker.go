package broker

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/forest-iot/forest/internal/apperr"
	"github.com/forest-iot/forest/internal/config"
)

const (
	inboundCapacity  = 200
	publishCapacity  = 400
	heartbeatTopic   = "public/heartbeat"
	heartbeatPeriod  = 5 * time.Second
	metersLogPeriod  = 30 * time.Second
	inlineSubID      = 1
)

// InboundMessage is one forwarded publish from the broker's admin
// stream: every message routed through the broker, regardless of
// topic, used by the processor's dispatch loop.
type InboundMessage struct {
	Topic    string
	Payload  []byte
	ClientID string
}

// Metrics are the three atomic counters spec.md §4.3 requires.
type Metrics struct {
	MessagesForwarded atomic.Int64
	MessagesSent      atomic.Int64
	MessagesDropped   atomic.Int64
}

// Sender is the bidirectional publish/subscribe link handed to the
// processor and the API.
type Sender interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string) error
	Unsubscribe(topic string) error
	PrintStatus()
}

type publishCmd struct {
	topic   string
	payload []byte
}

// Broker wraps an embedded mochi-mqtt server with the adapter surface
// spec.md §4.3 requires: TLS listener setup, the connect-time auth
// hook, a non-blocking publish link, a bounded admin stream, a
// connection-status broadcast, atomic metrics, and task supervision
// tripping a single cancellation cause on any unexpected exit.
type Broker struct {
	server *mqtt.Server
	store  AuthStore
	logger *slog.Logger
	cfg    config.MQTTConfig

	inbound   chan InboundMessage
	publishCh chan publishCmd
	rawConn   chan ConnEvent
	conns     *connBroadcaster

	pendingTenant sync.Map // clientID (string) -> tenantID (string), set at accept time

	Metrics Metrics

	ctx        context.Context
	cancel     context.CancelFunc
	supervisor *supervisor
}

// StartBroker builds and starts the embedded broker: a TCP listener
// (mochi-mqtt negotiates v3/v5 per-connection, so bind_v3 serves both
// unless bind_v5 names a distinct address), an optional WebSocket
// listener, TLS when enable_ssl is set, the auth hook, and the
// supervised background tasks (publish drain, connection-event
// fan-out, heartbeat). It returns once the listeners are live; the
// broker continues running until ctx is cancelled.
func StartBroker(ctx context.Context, cfg config.MQTTConfig, store AuthStore, logger *slog.Logger) (*Broker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.EnableSSL {
		missing := []string{}
		if cfg.SSLCAPath == "" {
			missing = append(missing, "ssl_ca_path")
		}
		if cfg.SSLCertPath == "" {
			missing = append(missing, "ssl_cert_path")
		}
		if cfg.SSLKeyPath == "" {
			missing = append(missing, "ssl_key_path")
		}
		if len(missing) > 0 {
			return nil, apperr.Validation("StartBroker", fmt.Errorf("mqtt.enable_ssl set but missing: %v", missing))
		}
	}

	bctx, cancel := context.WithCancel(ctx)

	b := &Broker{
		store:     store,
		logger:    logger,
		cfg:       cfg,
		inbound:   make(chan InboundMessage, inboundCapacity),
		publishCh: make(chan publishCmd, publishCapacity),
		rawConn:   make(chan ConnEvent, inboundCapacity),
		conns:     newConnBroadcaster(),
		ctx:       bctx,
		cancel:    cancel,
	}
	b.supervisor = newSupervisor(logger)

	server := mqtt.New(&mqtt.Options{InlineClient: true})
	b.server = server

	if err := server.AddHook(&acceptHook{broker: b}, nil); err != nil {
		cancel()
		return nil, apperr.Storage("StartBroker", fmt.Errorf("add auth hook: %w", err))
	}

	tlsConfig, err := b.buildTLSConfig()
	if err != nil {
		cancel()
		return nil, err
	}

	v3Addr := cfg.BindV3
	if v3Addr == "" {
		v3Addr = ":1883"
	}
	tcp := listeners.NewTCP(listeners.Config{ID: "tcp-v3", Address: v3Addr, TLSConfig: tlsConfig})
	if err := server.AddListener(tcp); err != nil {
		cancel()
		return nil, apperr.Storage("StartBroker", fmt.Errorf("add tcp listener %s: %w", v3Addr, err))
	}

	if cfg.BindV5 != "" && cfg.BindV5 != v3Addr {
		v5 := listeners.NewTCP(listeners.Config{ID: "tcp-v5", Address: cfg.BindV5, TLSConfig: tlsConfig})
		if err := server.AddListener(v5); err != nil {
			cancel()
			return nil, apperr.Storage("StartBroker", fmt.Errorf("add tcp v5 listener %s: %w", cfg.BindV5, err))
		}
	}

	if cfg.BindWS != "" {
		ws := listeners.NewWebsocket(listeners.Config{ID: "ws", Address: cfg.BindWS, TLSConfig: tlsConfig})
		if err := server.AddListener(ws); err != nil {
			cancel()
			return nil, apperr.Storage("StartBroker", fmt.Errorf("add ws listener %s: %w", cfg.BindWS, err))
		}
	}

	// The admin stream: an inline subscription to every topic, giving
	// an ordered, synchronous callback per publish that this adapter
	// forwards onto the bounded inbound channel.
	if err := server.Subscribe("#", inlineSubID, b.onAdminMessage); err != nil {
		cancel()
		return nil, apperr.Storage("StartBroker", fmt.Errorf("subscribe admin stream: %w", err))
	}

	b.supervisor.spawn(bctx, "broker.serve", func(ctx context.Context) error {
		errCh := make(chan error, 1)
		go func() { errCh <- server.Serve() }()
		select {
		case <-ctx.Done():
			server.Close()
			<-errCh
			return nil
		case err := <-errCh:
			return err
		}
	})

	b.supervisor.spawn(bctx, "broker.publish", b.runPublishLoop)
	b.supervisor.spawn(bctx, "broker.connEvents", b.runConnEventLoop)
	b.supervisor.spawn(bctx, "broker.meters", b.runMetersLoop)
	if cfg.EnableHeartbeat {
		b.supervisor.spawn(bctx, "broker.heartbeat", b.runHeartbeatLoop)
	}

	go b.supervisor.watch(bctx)
	go func() {
		<-b.supervisor.fatalCh
		cancel()
	}()

	logger.Info("broker started", "bind_v3", v3Addr, "bind_v5", cfg.BindV5, "bind_ws", cfg.BindWS, "ssl", cfg.EnableSSL)
	return b, nil
}

func (b *Broker) buildTLSConfig() (*tls.Config, error) {
	if !b.cfg.EnableSSL {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(b.cfg.SSLCertPath, b.cfg.SSLKeyPath)
	if err != nil {
		return nil, apperr.Cert("buildTLSConfig", fmt.Errorf("load server cert/key: %w", err))
	}

	caPEM, err := os.ReadFile(b.cfg.SSLCAPath)
	if err != nil {
		return nil, apperr.Cert("buildTLSConfig", fmt.Errorf("read ca: %w", err))
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, apperr.Cert("buildTLSConfig", fmt.Errorf("parse ca pem %s", b.cfg.SSLCAPath))
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.VerifyClientCertIfGiven,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// onAdminMessage is the inline-subscription callback mochi-mqtt
// invokes synchronously for every publish on the broker. It forwards
// onto the bounded inbound channel, dropping (and counting) on
// overflow rather than blocking the broker's publish path.
func (b *Broker) onAdminMessage(cl *mqtt.Client, sub packets.Subscription, pk packets.Packet) {
	msg := InboundMessage{Topic: pk.TopicName, Payload: pk.Payload, ClientID: cl.ID}
	select {
	case b.inbound <- msg:
		b.Metrics.MessagesForwarded.Add(1)
	default:
		b.Metrics.MessagesDropped.Add(1)
		b.logger.Warn("inbound admin-stream channel full, dropping message", "topic", msg.Topic)
	}
}

// Inbound returns the admin-stream channel the processor reads from.
func (b *Broker) Inbound() <-chan InboundMessage { return b.inbound }

// ConnEvents subscribes to the connection-status broadcast. Call the
// returned unsubscribe func when done to release the channel.
func (b *Broker) ConnEvents() (<-chan ConnEvent, func()) { return b.conns.Subscribe() }

// Publish sends payload to topic via the bounded command channel. A
// full channel (the broker cannot keep up) surfaces as an error to the
// caller rather than blocking.
func (b *Broker) Publish(topic string, payload []byte) error {
	select {
	case b.publishCh <- publishCmd{topic: topic, payload: payload}:
		return nil
	default:
		return apperr.Storage("Publish", fmt.Errorf("publish channel full for topic %q", topic))
	}
}

// Subscribe registers a broker-side subscription for topic (used at
// processor startup to subscribe to shadow/time/telemetry patterns).
func (b *Broker) Subscribe(topic string) error {
	if err := b.server.Subscribe(topic, inlineSubID, b.onAdminMessage); err != nil {
		return apperr.Storage("Subscribe", err)
	}
	return nil
}

// Unsubscribe is unsupported: mochi-mqtt's inline client does not
// expose a reliable per-filter unsubscribe independent of the admin
// stream's own "#" subscription, matching the original's deliberate
// no-op for this call.
func (b *Broker) Unsubscribe(topic string) error {
	return apperr.Validation("Unsubscribe", fmt.Errorf("unsupported: broker adapter subscriptions are not individually revocable"))
}

// PrintStatus logs the current metrics snapshot for diagnostics.
func (b *Broker) PrintStatus() {
	b.logger.Info("broker status",
		"messages_forwarded", b.Metrics.MessagesForwarded.Load(),
		"messages_sent", b.Metrics.MessagesSent.Load(),
		"messages_dropped", b.Metrics.MessagesDropped.Load(),
	)
}

// Shutdown trips the broker's cancellation and waits for every
// supervised task to return.
func (b *Broker) Shutdown() {
	b.cancel()
	b.supervisor.Wait()
}

// Done returns a channel closed when the broker's context is
// cancelled, whether by the caller or by a fatal task exit.
func (b *Broker) Done() <-chan struct{} { return b.ctx.Done() }

// FatalErr reports the error that tripped cancellation, if the cause
// was an unexpected task exit rather than caller-initiated shutdown.
func (b *Broker) FatalErr() error { return b.supervisor.FatalErr() }

func (b *Broker) runPublishLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-b.publishCh:
			if err := b.server.Publish(cmd.topic, cmd.payload, false, 0); err != nil {
				b.logger.Warn("broker publish failed", "topic", cmd.topic, "error", err)
				continue
			}
			b.Metrics.MessagesSent.Add(1)
		}
	}
}

func (b *Broker) runConnEventLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-b.rawConn:
			b.conns.Publish(ev)
		}
	}
}

func (b *Broker) runMetersLoop(ctx context.Context) error {
	ticker := time.NewTicker(metersLogPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.PrintStatus()
		}
	}
}

func (b *Broker) runHeartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			payload, _ := json.Marshal(map[string]int64{"ts": time.Now().Unix()})
			if err := b.Publish(heartbeatTopic, payload); err != nil {
				b.logger.Debug("heartbeat publish dropped", "error", err)
			}
		}
	}
}
