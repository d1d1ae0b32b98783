package offsetalloc

import "github.com/pkg/errors"

// ErrInvalidHandle is returned by Free when the given Allocation does not
// refer to a live, currently-used node. This covers freeing the NoSpace
// sentinel, an out-of-range slot, and a handle whose slot is not currently
// in use (such as a second Free before the slot is reused). A stale or
// foreign handle whose slot holds another live allocation is not detected.
var ErrInvalidHandle = errors.New("offsetalloc: handle does not refer to a live allocation")

// ErrNotEmpty is returned by Close when the allocator still has live
// allocations or free regions that were never merged back into the whole
// range.
var ErrNotEmpty = errors.New("offsetalloc: allocator was closed with outstanding allocations")
