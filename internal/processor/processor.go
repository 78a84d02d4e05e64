package processor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/forest-iot/forest/internal/broker"
	"github.com/forest-iot/forest/internal/dataconfig"
	"github.com/forest-iot/forest/internal/shadow"
	"github.com/forest-iot/forest/internal/timeseries"
)

// Store is the subset of the Store the processor's handlers use.
type Store interface {
	UpsertShadow(update *shadow.StateUpdateDocument) (*shadow.Shadow, error)
	GetDataConfig(tenantID, deviceID string) (dataconfig.DataConfig, error)
	PutMetric(p timeseries.Point) error
}

// Sender is the publish half of the broker's bidirectional link.
type Sender interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string) error
}

// Config controls topic parsing, grounded on spec.md §6's
// processor.shadow_topic_prefix / processor.telemetry_topics.
type Config struct {
	ShadowTopicPrefix string
	TelemetryTopics   []string
}

// Processor consumes the broker's admin stream, classifies topics,
// and fans out to the shadow-update, telemetry-extract, and
// time-request handlers. Grounded on
// original_source/src/processor/{mod,shadow,time,timeseries}.rs.
type Processor struct {
	store  Store
	sender Sender
	cfg    Config
	logger *slog.Logger

	wg sync.WaitGroup
}

// New builds a Processor. A nil logger defaults to slog.Default.
func New(store Store, sender Sender, cfg Config, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{store: store, sender: sender, cfg: cfg, logger: logger}
}

// Bootstrap subscribes to the fixed set of shadow/time topics plus
// every configured telemetry pattern. Call once at startup.
func (p *Processor) Bootstrap() error {
	for _, topic := range SubscriptionTopics(p.cfg.ShadowTopicPrefix, p.cfg.TelemetryTopics) {
		if err := p.sender.Subscribe(topic); err != nil {
			return err
		}
	}
	return nil
}

// Run reads the admin stream until ctx is cancelled or inbound is
// closed, dispatching each message to independent handler goroutines.
// Handler errors are logged, never propagated — a malformed payload
// must never halt the dispatch loop.
func (p *Processor) Run(ctx context.Context, inbound <-chan broker.InboundMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			p.dispatch(msg)
		}
	}
}

// Wait blocks until every in-flight handler goroutine has returned.
// Intended for deterministic draining in tests.
func (p *Processor) Wait() { p.wg.Wait() }

func (p *Processor) dispatch(msg broker.InboundMessage) {
	topic := ClassifyTopic(msg.Topic, p.cfg.ShadowTopicPrefix, p.cfg.TelemetryTopics)

	switch topic.Kind {
	case TopicShadowUpdate:
		p.wg.Add(2)
		go func() {
			defer p.wg.Done()
			if err := p.handleShadowUpdate(topic, msg.Payload); err != nil {
				p.logger.Warn("shadow update handler failed", "device_id", topic.DeviceID, "error", err)
			}
		}()
		go func() {
			defer p.wg.Done()
			if err := p.handleTelemetry(topic, msg.Payload); err != nil {
				p.logger.Debug("telemetry handler failed", "device_id", topic.DeviceID, "error", err)
			}
		}()

	case TopicDataUpdate:
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if err := p.handleTelemetry(topic, msg.Payload); err != nil {
				p.logger.Debug("telemetry handler failed", "device_id", topic.DeviceID, "error", err)
			}
		}()

	case TopicTimeRequest:
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if err := p.handleTimeRequest(topic, msg.Payload); err != nil {
				p.logger.Debug("time request handler failed", "device_id", topic.DeviceID, "error", err)
			}
		}()

	case TopicShadowDelta, TopicOther:
		// Outbound-only / unclassified: ignored per spec.md §4.4.
	}
}
