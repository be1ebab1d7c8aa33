// Bitmap allocator

package common

import (
	"fmt"

	"github.com/boljen/go-bitmap"

	"github.com/blockvol/dvm/errors"
)

// Allocator is a first-fit bitmap space allocator for block-addressed
// storage. FsDriver implementations use it to track which blocks of their
// mounted region are in use, independent of any particular on-disk format.
type Allocator struct {
	AllocationBitmap bitmap.Bitmap
	TotalUnits       uint
}

func NewAllocator(totalUnits uint) Allocator {
	return Allocator{
		AllocationBitmap: bitmap.New(int(totalUnits)),
		TotalUnits:       totalUnits,
	}
}

// AllocateBlock allocates the first available block it finds and returns its
// index. If no blocks are available, it returns an error.
func (alloc *Allocator) AllocateBlock() (BlockID, error) {
	for i := uint(0); i < alloc.TotalUnits; i++ {
		if !alloc.AllocationBitmap.Get(int(i)) {
			alloc.AllocationBitmap.Set(int(i), true)
			return BlockID(i), nil
		}
	}

	return 0, errors.ErrNoSpaceOnDevice
}

// FreeBlock frees an allocated block. Trying to free a block that isn't
// currently allocated returns an error.
func (alloc *Allocator) FreeBlock(block BlockID) error {
	if block >= BlockID(alloc.TotalUnits) {
		return errors.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("invalid block id: %d not in range [0, %d)", block, alloc.TotalUnits),
		)
	}
	if !alloc.AllocationBitmap.Get(int(block)) {
		return errors.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("block %d is already free", block),
		)
	}

	alloc.AllocationBitmap.Set(int(block), false)
	return nil
}

func (alloc *Allocator) findRun(count uint, value bool) (BlockID, error) {
	runSize := uint(0)
	runStart := BlockID(0)

	for i := uint(0); i < alloc.TotalUnits; i++ {
		bit := alloc.AllocationBitmap.Get(int(i))
		if bit == !value {
			// We hit the opposite value we were looking for, so this is the
			// end of the run. Reset the size to 0 and try again.
			runSize = 0
			continue
		}

		runSize++
		if runSize == 1 {
			runStart = BlockID(i)
		}
		if runSize == count {
			return runStart, nil
		}
	}

	return BlockID(0), errors.ErrNoSpaceOnDevice
}

// AllocateContiguousBlocks allocates a set of contiguous blocks in a
// first-fit manner.
func (alloc *Allocator) AllocateContiguousBlocks(count uint) (BlockID, error) {
	runStart, err := alloc.findRun(count, false)
	if err != nil {
		return BlockID(0), err
	}

	for i := uint(0); i < count; i++ {
		alloc.AllocationBitmap.Set(int(i+uint(runStart)), true)
	}
	return runStart, nil
}
