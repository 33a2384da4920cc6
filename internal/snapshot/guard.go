package snapshot

import (
	"fmt"
	"sync"
)

// Guard is the process-wide single-flight token for backup and restore.
// A restore's destructive tree replacement racing an in-progress backup's
// directory copy would produce an inconsistent archive or a failed restore,
// so at most one of either operation may run at a time.
type Guard struct {
	mu       sync.Mutex
	inFlight string // name of the running operation, empty when idle
}

// NewGuard creates an idle Guard.
func NewGuard() *Guard {
	return &Guard{}
}

// Acquire claims the token for the named operation. It never blocks:
// if another operation holds the token, ErrOperationInProgress is returned.
func (g *Guard) Acquire(op string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inFlight != "" {
		return fmt.Errorf("%s rejected while %s is running: %w", op, g.inFlight, ErrOperationInProgress)
	}
	g.inFlight = op
	return nil
}

// Release returns the token. Calling Release while idle is a no-op.
func (g *Guard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inFlight = ""
}
