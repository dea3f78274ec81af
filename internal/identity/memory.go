package identity

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNotAdmin is returned when a non-admin caller invokes an admin-only
// registry operation.
var ErrNotAdmin = errors.New("caller is not the registry admin")

// MemoryRegistry is an in-process Registry implementation. It backs the dev
// daemon and unit tests; a production deployment substitutes the real
// registry service behind the same interface.
type MemoryRegistry struct {
	mu       sync.RWMutex
	admin    common.Address
	minStake *big.Int
	nextID   uint64
	agents   map[uint64]*Agent

	// Delegated writers. Zero until the admin binds the core subsystems.
	attestationWriter common.Address
	stakeWriter       common.Address

	now func() time.Time
}

// NewMemoryRegistry creates an empty registry. minStake is the threshold used
// by IsVerified; ids are assigned sequentially starting at 1.
func NewMemoryRegistry(admin common.Address, minStake *big.Int) *MemoryRegistry {
	return &MemoryRegistry{
		admin:    admin,
		minStake: new(big.Int).Set(minStake),
		agents:   make(map[uint64]*Agent),
		now:      time.Now,
	}
}

// SetClock overrides the registry's time source. Tests only.
func (r *MemoryRegistry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// SetAttestationWriter binds the attestation ledger's module address.
// Admin only.
func (r *MemoryRegistry) SetAttestationWriter(caller, writer common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.admin {
		return ErrNotAdmin
	}
	r.attestationWriter = writer
	return nil
}

// SetStakeWriter binds the stake ledger's module address. Admin only.
func (r *MemoryRegistry) SetStakeWriter(caller, writer common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.admin {
		return ErrNotAdmin
	}
	r.stakeWriter = writer
	return nil
}

// Register mints a new agent record and returns its id. Admin only; identity
// issuance policy itself lives outside this system.
func (r *MemoryRegistry) Register(caller, operator common.Address, hardwareHash common.Hash, hardwareAddr common.Address) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.admin {
		return 0, ErrNotAdmin
	}
	r.nextID++
	id := r.nextID
	r.agents[id] = &Agent{
		Operator:        operator,
		HardwareHash:    hardwareHash,
		HardwareAddress: hardwareAddr,
		RegisteredAt:    r.now().UTC(),
		StakeAmount:     new(big.Int),
		Active:          true,
	}
	return id, nil
}

// Transfer reassigns an agent's operator address. Current operator only.
func (r *MemoryRegistry) Transfer(caller common.Address, id uint64, newOperator common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return ErrAgentNotFound
	}
	if caller != a.Operator {
		return errors.New("caller is not the agent operator")
	}
	a.Operator = newOperator
	return nil
}

// SetActive flips an agent's active flag. Admin only.
func (r *MemoryRegistry) SetActive(caller common.Address, id uint64, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.admin {
		return ErrNotAdmin
	}
	a, ok := r.agents[id]
	if !ok {
		return ErrAgentNotFound
	}
	a.Active = active
	return nil
}

// OwnerOf implements Registry.
func (r *MemoryRegistry) OwnerOf(id uint64) (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return common.Address{}, ErrAgentNotFound
	}
	return a.Operator, nil
}

// IsVerified implements Registry.
func (r *MemoryRegistry) IsVerified(id uint64) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return false, ErrAgentNotFound
	}
	return a.Active && a.StakeAmount.Cmp(r.minStake) >= 0, nil
}

// GetAgent implements Registry. The returned record is a copy; mutating it
// does not affect registry state.
func (r *MemoryRegistry) GetAgent(id uint64) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return nil, ErrAgentNotFound
	}
	cp := *a
	cp.StakeAmount = new(big.Int).Set(a.StakeAmount)
	return &cp, nil
}

// HardwareAddress implements Registry.
func (r *MemoryRegistry) HardwareAddress(id uint64) (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return common.Address{}, ErrAgentNotFound
	}
	return a.HardwareAddress, nil
}

// IncrementAttestationCount implements Registry.
func (r *MemoryRegistry) IncrementAttestationCount(caller common.Address, id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.attestationWriter || caller == (common.Address{}) {
		return ErrWriteDenied
	}
	a, ok := r.agents[id]
	if !ok {
		return ErrAgentNotFound
	}
	a.AttestationCount++
	return nil
}

// UpdateTrustScore implements Registry.
func (r *MemoryRegistry) UpdateTrustScore(caller common.Address, id uint64, score uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.attestationWriter || caller == (common.Address{}) {
		return ErrWriteDenied
	}
	a, ok := r.agents[id]
	if !ok {
		return ErrAgentNotFound
	}
	a.TrustScore = score
	return nil
}

// UpdateStakeAmount implements Registry.
func (r *MemoryRegistry) UpdateStakeAmount(caller common.Address, id uint64, amount *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.stakeWriter || caller == (common.Address{}) {
		return ErrWriteDenied
	}
	a, ok := r.agents[id]
	if !ok {
		return ErrAgentNotFound
	}
	a.StakeAmount = new(big.Int).Set(amount)
	return nil
}
