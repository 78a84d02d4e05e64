package processor

import (
	"context"

	"github.com/forest-iot/forest/internal/broker"
)

// RunConnectionMonitor reads the broker's connection-status broadcast
// and maintains conns as the process-wide source of truth for "is
// device X online", until ctx is cancelled or events closes.
func RunConnectionMonitor(ctx context.Context, events <-chan broker.ConnEvent, conns *broker.ConnectionSet) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Connected {
				conns.Insert(ev.ClientID, ev.TenantID)
			} else {
				conns.Remove(ev.ClientID)
			}
		}
	}
}
