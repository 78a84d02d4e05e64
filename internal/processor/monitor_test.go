package processor

import (
	"context"
	"testing"
	"time"

	"github.com/forest-iot/forest/internal/broker"
)

func TestRunConnectionMonitor(t *testing.T) {
	events := make(chan broker.ConnEvent, 4)
	conns := broker.NewConnectionSet()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunConnectionMonitor(ctx, events, conns)
		close(done)
	}()

	events <- broker.ConnEvent{ClientID: "sensor1", TenantID: "acme", Connected: true}
	waitUntil(t, func() bool { return conns.Contains("sensor1") })

	if got := conns.SnapshotForTenant("acme"); len(got) != 1 || got[0] != "sensor1" {
		t.Fatalf("expected sensor1 under acme, got %v", got)
	}

	events <- broker.ConnEvent{ClientID: "sensor1", Connected: false}
	waitUntil(t, func() bool { return !conns.Contains("sensor1") })

	cancel()
	<-done
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
