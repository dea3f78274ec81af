package ledger

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Guard holds the administrative state shared by both core ledgers: the
// admin address, the global pause flag, and the authorized-slasher set.
// Every mutating ledger entry point checks the pause flag before evaluating
// its own preconditions.
type Guard struct {
	mu       sync.RWMutex
	admin    common.Address
	paused   bool
	slashers map[common.Address]bool
}

// NewGuard creates a Guard with the given administrator and no slashers.
func NewGuard(admin common.Address) *Guard {
	return &Guard{
		admin:    admin,
		slashers: make(map[common.Address]bool),
	}
}

// Admin returns the administrator address.
func (g *Guard) Admin() common.Address {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.admin
}

// RequireAdmin returns ErrNotAdmin unless caller is the administrator.
func (g *Guard) RequireAdmin(caller common.Address) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if caller != g.admin {
		return ErrNotAdmin
	}
	return nil
}

// CheckNotPaused returns ErrPaused while the circuit breaker is engaged.
func (g *Guard) CheckNotPaused() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.paused {
		return ErrPaused
	}
	return nil
}

// Paused reports the current pause state.
func (g *Guard) Paused() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.paused
}

// Pause engages the circuit breaker. Admin only.
func (g *Guard) Pause(caller common.Address) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if caller != g.admin {
		return ErrNotAdmin
	}
	g.paused = true
	return nil
}

// Unpause releases the circuit breaker. Admin only.
func (g *Guard) Unpause(caller common.Address) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if caller != g.admin {
		return ErrNotAdmin
	}
	g.paused = false
	return nil
}

// AddSlasher authorizes an address to propose slashes. Admin only.
func (g *Guard) AddSlasher(caller, slasher common.Address) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if caller != g.admin {
		return ErrNotAdmin
	}
	g.slashers[slasher] = true
	return nil
}

// RemoveSlasher revokes a slasher authorization. Admin only.
func (g *Guard) RemoveSlasher(caller, slasher common.Address) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if caller != g.admin {
		return ErrNotAdmin
	}
	delete(g.slashers, slasher)
	return nil
}

// IsSlasher reports whether addr may propose slashes. The administrator is
// always allowed.
func (g *Guard) IsSlasher(addr common.Address) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.slashers[addr] || addr == g.admin
}
