package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/dyluth/murmur/pkg/bus"
)

// StatusReader reads stored run statuses. *bus.Client satisfies it.
type StatusReader interface {
	GetRun(ctx context.Context, runID string) (*bus.RunStatus, error)
}

// PollInterval is how often WaitForRun re-reads the run status.
var PollInterval = 200 * time.Millisecond

// WaitForRun polls until the run reaches state, or returns an error on
// timeout. An unknown run keeps polling, since the first event may not have
// been published yet.
func WaitForRun(ctx context.Context, reader StatusReader, runID, state string, timeout time.Duration) (*bus.RunStatus, error) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-timeoutCh:
			return nil, fmt.Errorf("timeout waiting for run %s to reach %s after %v", runID, state, timeout)

		case <-ticker.C:
			status, err := reader.GetRun(ctx, runID)
			if err != nil {
				if bus.IsNotFound(err) {
					continue
				}
				return nil, fmt.Errorf("failed to read run status: %w", err)
			}
			if status.State == state {
				return status, nil
			}
		}
	}
}
