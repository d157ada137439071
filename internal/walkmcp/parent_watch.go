package walkmcp

import (
	"context"
	"os"
	"time"

	"walkpipe/internal/logging"
)

// WatchParent cancels the server context when the parent process goes
// away, so a stdio server does not outlive the client that spawned it.
// It must not read stdin; the stdio transport owns it.
func WatchParent(ctx context.Context, cancel context.CancelFunc, interval time.Duration) {
	ppid := os.Getppid()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
				if os.Getppid() != ppid {
					logging.New("walk-mcp").Warn("parent process exited, shutting down", "ppid", ppid)
					cancel()
					return
				}
			}
		}
	}()
}
