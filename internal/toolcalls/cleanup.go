package toolcalls

import "time"

const (
	// BatchFlushThreshold is the number of entries that triggers an immediate flush.
	BatchFlushThreshold = 100

	// CleanupInterval is how often old entries are deleted.
	CleanupInterval = 1 * time.Hour
)

// RunCleanupLoop runs a cleanup function periodically until the stop channel is closed.
// It runs cleanup immediately on start, then at CleanupInterval intervals.
func RunCleanupLoop(stop <-chan struct{}, cleanupFn func()) {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()

	cleanupFn()

	for {
		select {
		case <-ticker.C:
			cleanupFn()
		case <-stop:
			return
		}
	}
}
