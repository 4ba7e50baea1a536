package wallet

import (
	"context"
	"errors"
	"fmt"

	"botstore/internal/models"
)

var (
	ErrAllocationFailed = errors.New("address allocation failed")

	// ErrIndexTaken is returned by AllocationLog.Insert when a concurrent
	// allocator claimed the same derivation index first.
	ErrIndexTaken = errors.New("derivation index already taken")
)

const allocationRetries = 5

// AllocationLog is the append-only audit log backing index allocation. Insert
// must enforce uniqueness of the derivation index.
type AllocationLog interface {
	MaxIndex(ctx context.Context) (int64, bool, error)
	Insert(ctx context.Context, alloc *models.AddressAllocation) error
}

type AllocationRequest struct {
	PurchaseID string
	UserID     string
	IPAddress  string
	UserAgent  string
}

// Allocator hands out never-reused derivation indices together with their
// derived address. Claiming an index means winning the unique-constraint
// insert; a plain read-then-increment is not trusted on its own.
type Allocator struct {
	Log     AllocationLog
	Deriver *Deriver
}

func (a *Allocator) Allocate(ctx context.Context, req AllocationRequest) (*models.AddressAllocation, error) {
	for attempt := 0; attempt < allocationRetries; attempt++ {
		max, ok, err := a.Log.MaxIndex(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: read max index: %v", ErrAllocationFailed, err)
		}
		next := int64(0)
		if ok {
			next = max + 1
		}

		addr, err := a.Deriver.DeriveAddress(next)
		if err != nil {
			return nil, err
		}

		alloc := &models.AddressAllocation{
			DerivationIndex: next,
			Address:         addr,
			PurchaseID:      req.PurchaseID,
			UserID:          req.UserID,
			IPAddress:       req.IPAddress,
			UserAgent:       req.UserAgent,
		}
		err = a.Log.Insert(ctx, alloc)
		if err == nil {
			return alloc, nil
		}
		if errors.Is(err, ErrIndexTaken) {
			continue
		}
		return nil, fmt.Errorf("%w: %v", ErrAllocationFailed, err)
	}
	return nil, fmt.Errorf("%w: gave up after %d index conflicts", ErrAllocationFailed, allocationRetries)
}
