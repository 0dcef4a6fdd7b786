package main

import (
	"context"
	"log/slog"
	"time"

	"lanrelay/internal/lobby"
)

// runMetrics logs lobby stats every interval until ctx is canceled.
// Counters are cumulative since process start; a scrape at
// /metrics reads the same two atomics directly.
func runMetrics(ctx context.Context, lob *lobby.Lobby, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			members := lob.MemberCount()
			broadcasts := lob.BroadcastCount()
			bytes := lob.BytesRelayed()
			if members > 0 || broadcasts > 0 {
				logger.Info("metrics",
					"members", members,
					"broadcast_count", broadcasts,
					"bytes_relayed", bytes,
				)
			}
		}
	}
}
