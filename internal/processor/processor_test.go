package processor

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/forest-iot/forest/internal/broker"
	"github.com/forest-iot/forest/internal/dataconfig"
	"github.com/forest-iot/forest/internal/model"
	"github.com/forest-iot/forest/internal/shadow"
	"github.com/forest-iot/forest/internal/timeseries"
)

type fakeStore struct {
	mu       sync.Mutex
	shadows  map[string]*shadow.Shadow
	cfg      dataconfig.DataConfig
	points   []timeseries.Point
}

func shadowKey(tenant, device, name string) string { return tenant + "/" + device + "/" + name }

func (f *fakeStore) UpsertShadow(update *shadow.StateUpdateDocument) (*shadow.Shadow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := shadowKey(update.TenantID.String(), update.DeviceID, update.ShadowName.String())
	current, ok := f.shadows[key]
	if !ok {
		current = shadow.New(update.DeviceID, update.ShadowName, update.TenantID)
	}
	next, err := shadow.Update(current, update, time.Unix(1000, 0))
	if err != nil {
		return nil, err
	}
	f.shadows[key] = next
	return next, nil
}

func (f *fakeStore) GetDataConfig(tenantID, deviceID string) (dataconfig.DataConfig, error) {
	return f.cfg, nil
}

func (f *fakeStore) PutMetric(p timeseries.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, p)
	return nil
}

type fakeSender struct {
	mu        sync.Mutex
	published map[string][]byte
	subs      []string
}

func (f *fakeSender) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.published == nil {
		f.published = map[string][]byte{}
	}
	f.published[topic] = payload
	return nil
}

func (f *fakeSender) Subscribe(topic string) error {
	f.subs = append(f.subs, topic)
	return nil
}

func newTestProcessor(store *fakeStore, sender *fakeSender) *Processor {
	return New(store, sender, Config{ShadowTopicPrefix: "things/", TelemetryTopics: nil}, nil)
}

// Scenario A from spec.md §8: shadow echo.
func TestHandleShadowUpdate_PublishesDelta(t *testing.T) {
	store := &fakeStore{shadows: map[string]*shadow.Shadow{}}
	sender := &fakeSender{}
	p := newTestProcessor(store, sender)

	topic := Topic{Kind: TopicShadowUpdate, TenantID: model.Default, DeviceID: "th1", ShadowName: model.Default}
	body := []byte(`{"state":{"reported":{"t":22.5},"desired":{"t":21.0}}}`)

	if err := p.handleShadowUpdate(topic, body); err != nil {
		t.Fatalf("handleShadowUpdate: %v", err)
	}

	sh := store.shadows[shadowKey("default", "th1", "default")]
	if sh == nil {
		t.Fatal("expected shadow to be stored")
	}
	reported := sh.State.Reported.(map[string]any)
	if reported["t"] != 22.5 {
		t.Fatalf("reported.t = %v, want 22.5", reported["t"])
	}

	payload, ok := sender.published["things/th1/shadow/update/delta"]
	if !ok {
		t.Fatal("expected delta publish")
	}
	var env shadow.DeltaEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		t.Fatalf("unmarshal delta envelope: %v", err)
	}
	deltaMap := env.State.(map[string]any)
	if deltaMap["t"] != 21.0 {
		t.Fatalf("delta.t = %v, want 21.0", deltaMap["t"])
	}
}

// Scenario B: a follow-up update that matches desired clears the
// delta, so no further delta is published.
func TestHandleShadowUpdate_DeltaClears(t *testing.T) {
	store := &fakeStore{shadows: map[string]*shadow.Shadow{}}
	sender := &fakeSender{}
	p := newTestProcessor(store, sender)

	topic := Topic{Kind: TopicShadowUpdate, TenantID: model.Default, DeviceID: "th1", ShadowName: model.Default}
	first := []byte(`{"state":{"reported":{"t":22.5},"desired":{"t":21.0}}}`)
	if err := p.handleShadowUpdate(topic, first); err != nil {
		t.Fatalf("first update: %v", err)
	}

	sender.published = map[string][]byte{} // clear to observe the second update in isolation

	second := []byte(`{"state":{"reported":{"t":21.0}}}`)
	if err := p.handleShadowUpdate(topic, second); err != nil {
		t.Fatalf("second update: %v", err)
	}

	if _, ok := sender.published["things/th1/shadow/update/delta"]; ok {
		t.Fatal("expected no delta publish once desired matches reported")
	}
}

// Scenario C, extraction step: an Int metric is written for the
// configured pointer. Longest-prefix resolution is covered by the
// store's effective-config test.
func TestHandleTelemetry_ExtractsConfiguredMetric(t *testing.T) {
	store := &fakeStore{
		shadows: map[string]*shadow.Shadow{},
		cfg: dataconfig.DataConfig{Metrics: []dataconfig.MetricConfig{
			{Name: "t", JSONPointer: "/temperature", DataType: dataconfig.DataTypeInt},
		}},
	}
	sender := &fakeSender{}
	p := newTestProcessor(store, sender)

	topic := Topic{Kind: TopicDataUpdate, TenantID: model.Default, DeviceID: "deviceA1"}
	if err := p.handleTelemetry(topic, []byte(`{"temperature":24}`)); err != nil {
		t.Fatalf("handleTelemetry: %v", err)
	}

	if len(store.points) != 1 {
		t.Fatalf("expected 1 point, got %d", len(store.points))
	}
	pt := store.points[0]
	if pt.MetricName != "t" || pt.Value.Kind != timeseries.KindInt || pt.Value.Int != 24 {
		t.Fatalf("unexpected point %+v", pt)
	}
}

// Scenario D: location tuple extraction.
func TestHandleTelemetry_LocationTuple(t *testing.T) {
	store := &fakeStore{
		cfg: dataconfig.DataConfig{Metrics: []dataconfig.MetricConfig{
			{Name: "loc", JSONPointer: "/gps", DataType: dataconfig.DataTypeLocationTuple},
		}},
	}
	sender := &fakeSender{}
	p := newTestProcessor(store, sender)

	topic := Topic{Kind: TopicDataUpdate, TenantID: model.Default, DeviceID: "d1"}
	if err := p.handleTelemetry(topic, []byte(`{"gps":[52.52,13.4050]}`)); err != nil {
		t.Fatalf("handleTelemetry: %v", err)
	}

	if len(store.points) != 1 {
		t.Fatalf("expected 1 point, got %d", len(store.points))
	}
	loc := store.points[0].Value
	if loc.Kind != timeseries.KindLocation || loc.Location.Lat != 52.52 || loc.Location.Long != 13.4050 {
		t.Fatalf("unexpected location value %+v", loc)
	}
}

// Scenario F: time request/response.
func TestHandleTimeRequest_EchoesDeviceTime(t *testing.T) {
	store := &fakeStore{}
	sender := &fakeSender{}
	p := newTestProcessor(store, sender)

	topic := Topic{Kind: TopicTimeRequest, TenantID: model.Default, DeviceID: "dev"}
	if err := p.handleTimeRequest(topic, []byte(`{"device_time":12345}`)); err != nil {
		t.Fatalf("handleTimeRequest: %v", err)
	}

	payload, ok := sender.published["things/dev/time/response"]
	if !ok {
		t.Fatal("expected time response publish")
	}
	var resp timeResponseBody
	if err := json.Unmarshal(payload, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.DeviceTime == nil || *resp.DeviceTime != 12345 {
		t.Fatalf("expected device_time echoed, got %+v", resp)
	}
	if resp.ServerTime <= 0 {
		t.Fatalf("expected positive server_time, got %d", resp.ServerTime)
	}
}

func TestHandleTimeRequest_EmptyBodyOmitsDeviceTime(t *testing.T) {
	store := &fakeStore{}
	sender := &fakeSender{}
	p := newTestProcessor(store, sender)

	topic := Topic{Kind: TopicTimeRequest, TenantID: model.Default, DeviceID: "dev"}
	if err := p.handleTimeRequest(topic, []byte(``)); err != nil {
		t.Fatalf("handleTimeRequest: %v", err)
	}

	payload := sender.published["things/dev/time/response"]
	var resp timeResponseBody
	if err := json.Unmarshal(payload, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.DeviceTime != nil {
		t.Fatalf("expected no device_time, got %v", *resp.DeviceTime)
	}
}

func TestDispatch_ShadowUpdateFansOutToBothHandlers(t *testing.T) {
	store := &fakeStore{
		shadows: map[string]*shadow.Shadow{},
		cfg: dataconfig.DataConfig{Metrics: []dataconfig.MetricConfig{
			{Name: "t", JSONPointer: "/state/reported/t", DataType: dataconfig.DataTypeFloat},
		}},
	}
	sender := &fakeSender{}
	p := newTestProcessor(store, sender)

	p.dispatch(broker.InboundMessage{
		Topic:   "things/th1/shadow/update",
		Payload: []byte(`{"state":{"reported":{"t":22.5},"desired":{"t":21.0}}}`),
	})
	p.Wait()

	if len(store.shadows) != 1 {
		t.Fatalf("expected shadow write, got %d shadows", len(store.shadows))
	}
	if len(store.points) != 1 {
		t.Fatalf("expected telemetry side effect, got %d points", len(store.points))
	}
}

func TestBootstrap_SubscribesFixedAndTelemetryTopics(t *testing.T) {
	sender := &fakeSender{}
	p := New(&fakeStore{}, sender, Config{
		ShadowTopicPrefix: "things/",
		TelemetryTopics:   []string{"sensors/+/reading"},
	}, nil)

	if err := p.Bootstrap(); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	want := []string{
		"things/+/shadow/update",
		"things/+/shadow/+/update",
		"things/+/time/request",
		"sensors/+/reading",
	}
	if len(sender.subs) != len(want) {
		t.Fatalf("subs = %v, want %v", sender.subs, want)
	}
	for i, w := range want {
		if sender.subs[i] != w {
			t.Fatalf("subs[%d] = %q, want %q", i, sender.subs[i], w)
		}
	}
}
