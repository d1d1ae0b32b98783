// Package offsetalloc implements an offset suballocator: a data structure
// that partitions a single contiguous, externally-supplied range of N
// units into non-overlapping subranges, handing back the starting offset
// of each allocation. The allocator owns no memory of its own; it manages
// offsets into whatever opaque resource the caller is tracking (a GPU
// heap, a large buffer, an index space). Every operation runs in O(1)
// worst case with no heap traffic after construction, which is what makes
// it suitable for hard-realtime paths.
//
// The allocator is not safe for concurrent use; every public method
// touches the entire mutable state graph (bitfield, bin heads, node pool,
// free-storage counter). Callers sharing an Allocator across goroutines
// must serialize externally.
package offsetalloc

import (
	cerrors "github.com/cockroachdb/errors"
	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/smallfloat/offsetalloc/bitfield"
	"github.com/smallfloat/offsetalloc/smallfloat"
	"golang.org/x/exp/slog"
)

// Allocation is the opaque receipt returned by Allocate. Offset is the
// caller-meaningful value; Metadata is an internal node-pool slot index
// that must be passed back to Free unmodified.
type Allocation struct {
	Offset   uint32
	Metadata uint32
}

// Allocator partitions [0, size) into non-overlapping subranges.
type Allocator struct {
	id uuid.UUID

	size        uint32
	freeStorage uint32
	allocCount  int

	bins     bitfield.TwoLevel
	binHeads [bitfield.NumBins]uint32

	pool     *nodePool
	headSlot uint32

	labels labelRegistry

	logger *slog.Logger
	hub    *sentry.Hub
}

// New constructs an Allocator managing a range of size units, with capacity
// for WithMaxAllocs(n) simultaneously live allocations plus free regions
// (131072 if unspecified). Because each allocate can create at most one
// extra node (the split remainder) and each free removes at most two, the
// maximum live node count is bounded by the number of live allocations plus
// the number of free regions outstanding at once.
func New(size uint32, opts ...Option) (*Allocator, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := validateConstructorArgs(size, cfg.maxAllocs); err != nil {
		return nil, err
	}

	if cfg.hub != nil {
		defer func() {
			if r := recover(); r != nil {
				cfg.hub.Recover(r)
				panic(r)
			}
		}()
	}

	a := &Allocator{
		id:     uuid.New(),
		size:   size,
		labels: newLabelRegistry(),
		logger: cfg.logger,
		hub:    cfg.hub,
	}
	for bin := range a.binHeads {
		a.binHeads[bin] = NoSpace
	}

	a.pool = newNodePool(cfg.maxAllocs)

	// Start state: the whole range as one free node. insertIntoBin can't
	// fail here; the pool was just created with maxAllocs >= 1 capacity.
	slot, ok := a.insertIntoBin(size, 0)
	if !ok {
		return nil, cerrors.New("offsetalloc: maxAllocs is too small to hold even the initial node")
	}
	a.pool.nodes[slot].neighborPrev = NoSpace
	a.pool.nodes[slot].neighborNext = NoSpace
	a.headSlot = slot

	if a.logger != nil {
		a.logger = a.logger.With(slog.String("allocator_id", a.id.String()))
	}

	return a, nil
}

func validateConstructorArgs(size, maxAllocs uint32) error {
	if size == 0 {
		return cerrors.Newf("offsetalloc: size must be greater than 0, got %d", size)
	}
	if maxAllocs == 0 {
		return cerrors.Newf("offsetalloc: maxAllocs must be greater than 0, got %d", maxAllocs)
	}
	return nil
}

// Size returns the total number of units this Allocator manages.
func (a *Allocator) Size() uint32 {
	return a.size
}

// insertIntoBin creates a free node of the given size and offset, pushes it
// onto the head of its size class's bin list, and returns its slot. It
// does not touch neighbor links; the caller is responsible for stitching
// those in place. Returns ok=false if the node pool has no free slots.
func (a *Allocator) insertIntoBin(size, offset uint32) (slot uint32, ok bool) {
	bin := smallfloat.EncodeRoundDown(size)
	oldHead := a.binHeads[bin]
	if oldHead == NoSpace {
		a.bins.Set(bin)
	}

	slot, ok = a.pool.pop()
	if !ok {
		if oldHead == NoSpace {
			a.bins.Clear(bin)
		}
		return 0, false
	}

	a.pool.nodes[slot] = node{
		dataOffset:   offset,
		dataSize:     size,
		binPrev:      NoSpace,
		binNext:      oldHead,
		neighborPrev: NoSpace,
		neighborNext: NoSpace,
		used:         false,
	}
	if oldHead != NoSpace {
		a.pool.nodes[oldHead].binPrev = slot
	}
	a.binHeads[bin] = slot
	a.freeStorage += size

	return slot, true
}

// removeFromBin splices a free node out of its bin list and pushes its slot
// back onto the node pool's freelist.
func (a *Allocator) removeFromBin(slot uint32) {
	n := a.pool.nodes[slot]

	if n.binPrev != NoSpace {
		a.pool.nodes[n.binPrev].binNext = n.binNext
		if n.binNext != NoSpace {
			a.pool.nodes[n.binNext].binPrev = n.binPrev
		}
	} else {
		bin := smallfloat.EncodeRoundDown(n.dataSize)
		a.binHeads[bin] = n.binNext
		if n.binNext != NoSpace {
			a.pool.nodes[n.binNext].binPrev = NoSpace
		} else {
			a.bins.Clear(bin)
		}
	}

	a.pool.push(slot)
	a.labels.clear(slot)
	a.freeStorage -= n.dataSize
}

// Allocate reserves `size` units and returns their starting offset. If no
// free region can satisfy the request — either because no bin of
// sufficient size has a free region, or because the node pool is
// exhausted — it returns an Allocation with both fields set to NoSpace,
// without mutating any observable state.
func (a *Allocator) Allocate(size uint32) Allocation {
	minBin := smallfloat.EncodeRoundUp(size)

	bin, found := a.bins.FindLowestSetBitAfter(minBin)
	if !found {
		return Allocation{Offset: NoSpace, Metadata: NoSpace}
	}

	slot := a.binHeads[bin]
	total := a.pool.nodes[slot].dataSize
	remainder := total - size

	if remainder > 0 && a.pool.freeOffset < 0 {
		// The split would need a node slot we don't have; fail without
		// having touched anything yet.
		return Allocation{Offset: NoSpace, Metadata: NoSpace}
	}

	n := &a.pool.nodes[slot]
	n.dataSize = size
	n.used = true

	a.binHeads[bin] = n.binNext
	if n.binNext != NoSpace {
		a.pool.nodes[n.binNext].binPrev = NoSpace
	} else {
		a.bins.Clear(bin)
	}
	n.binNext = NoSpace
	a.freeStorage -= total
	a.allocCount++

	if remainder > 0 {
		remainderSlot, _ := a.insertIntoBin(remainder, n.dataOffset+size)

		oldNext := n.neighborNext
		a.pool.nodes[remainderSlot].neighborPrev = slot
		a.pool.nodes[remainderSlot].neighborNext = oldNext
		if oldNext != NoSpace {
			a.pool.nodes[oldNext].neighborPrev = remainderSlot
		}
		n.neighborNext = remainderSlot
	}

	if a.logger != nil {
		a.logger.Debug("offsetalloc allocate",
			slog.Int("bin", int(bin)),
			slog.Uint64("offset", uint64(n.dataOffset)),
			slog.Uint64("size", uint64(size)),
		)
	}

	return Allocation{Offset: n.dataOffset, Metadata: slot}
}

// Free releases a previously allocated region, coalescing it with any
// physically adjacent free neighbors. It returns ErrInvalidHandle if the
// allocation does not refer to a node this Allocator currently considers
// live and used, which catches the NoSpace sentinel, an out-of-range slot,
// and a handle whose slot is not currently in use. A stale or foreign
// handle whose slot currently holds another live allocation is not
// detected; Free releases that allocation instead.
func (a *Allocator) Free(alloc Allocation) error {
	if alloc.Metadata == NoSpace || alloc.Metadata >= uint32(len(a.pool.nodes)) {
		return errors.WithStack(ErrInvalidHandle)
	}

	slot := alloc.Metadata
	n := a.pool.nodes[slot]
	if !n.used {
		return errors.WithStack(ErrInvalidHandle)
	}
	debugAssertUsed(n)

	offset := n.dataOffset
	size := n.dataSize
	newPrev := n.neighborPrev
	newNext := n.neighborNext

	if newPrev != NoSpace && !a.pool.nodes[newPrev].used {
		prev := a.pool.nodes[newPrev]
		offset = prev.dataOffset
		size += prev.dataSize
		a.removeFromBin(newPrev)
		newPrev = prev.neighborPrev
	}

	if newNext != NoSpace && !a.pool.nodes[newNext].used {
		next := a.pool.nodes[newNext]
		size += next.dataSize
		a.removeFromBin(newNext)
		newNext = next.neighborNext
	}

	a.pool.push(slot)
	a.labels.clear(slot)
	a.allocCount--

	combined, ok := a.insertIntoBin(size, offset)
	if !ok {
		// Cannot happen: the push of slot above guarantees at least
		// one free slot for insertIntoBin to pop.
		panic("offsetalloc: node pool exhausted during free, invariant violated")
	}

	a.pool.nodes[combined].neighborPrev = newPrev
	if newPrev != NoSpace {
		a.pool.nodes[newPrev].neighborNext = combined
	}
	a.pool.nodes[combined].neighborNext = newNext
	if newNext != NoSpace {
		a.pool.nodes[newNext].neighborPrev = combined
	}

	if offset == 0 {
		a.headSlot = combined
	}

	if a.logger != nil {
		a.logger.Debug("offsetalloc free",
			slog.Uint64("offset", uint64(offset)),
			slog.Uint64("size", uint64(size)),
		)
	}

	return nil
}

// StorageReport summarizes free space in O(1): the exact total free
// space, and a lower-bound estimate of the largest contiguous free region
// (the smallest size that would still land in the highest occupied bin).
func (a *Allocator) StorageReport() StorageReport {
	bin, found := a.bins.HighestSetBin()
	return StorageReport{
		TotalFreeSpace:    a.freeStorage,
		LargestFreeRegion: decodeLargestFreeRegion(bin, found),
	}
}

// DetailedStorageReport walks every occupied bin's freelist to build a
// per-bin histogram of free regions. Unlike StorageReport this is
// O(bins + free regions), not O(1); it is meant for diagnostics, not the
// allocation hot path.
func (a *Allocator) DetailedStorageReport() DetailedStorageReport {
	report := DetailedStorageReport{
		StorageReport:   a.StorageReport(),
		AllocationCount: a.allocCount,
	}

	for bin := 0; bin < bitfield.NumBins; bin++ {
		slot := a.binHeads[bin]
		if slot == NoSpace {
			continue
		}

		var count int
		var bytes uint32
		for slot != NoSpace {
			count++
			bytes += a.pool.nodes[slot].dataSize
			slot = a.pool.nodes[slot].binNext
		}

		report.Bins = append(report.Bins, BinReport{
			BinIndex:        uint8(bin),
			FreeRegionCount: count,
			FreeBytes:       bytes,
		})
		report.FreeRegionCount += count
	}

	return report
}

// Label attaches a diagnostic string to a live allocation, retrievable
// later via DebugLogAllocations. Labels are cleared automatically when the
// allocation is freed. This has no effect on allocator behavior; it exists
// purely so callers can make postmortem/leak logs human-readable.
func (a *Allocator) Label(alloc Allocation, label string) error {
	if alloc.Metadata == NoSpace || alloc.Metadata >= uint32(len(a.pool.nodes)) || !a.pool.nodes[alloc.Metadata].used {
		return errors.WithStack(ErrInvalidHandle)
	}
	a.labels.set(alloc.Metadata, label)
	return nil
}

// VisitAllRegions calls visit once for every region — free or allocated —
// in offset order. It is O(n) in the number of live regions and is meant
// for diagnostics and testing, not the hot path.
func (a *Allocator) VisitAllRegions(visit func(offset, size uint32, used bool, label string) error) error {
	slot := a.headSlot
	for slot != NoSpace {
		n := a.pool.nodes[slot]
		label, _ := a.labels.get(slot)
		if err := visit(n.dataOffset, n.dataSize, n.used, label); err != nil {
			return err
		}
		slot = n.neighborNext
	}
	return nil
}

// DebugLogAllocations logs every currently-live allocation through the
// Allocator's configured logger. It no-ops if no logger was configured via
// WithLogger.
func (a *Allocator) DebugLogAllocations() {
	if a.logger == nil {
		return
	}
	_ = a.VisitAllRegions(func(offset, size uint32, used bool, label string) error {
		if used {
			a.logger.Debug("offsetalloc live allocation",
				slog.Uint64("offset", uint64(offset)),
				slog.Uint64("size", uint64(size)),
				slog.String("label", label),
			)
		}
		return nil
	})
}

// Validate performs an O(n) internal consistency check: neighbor-list
// coverage, no adjacent free regions, bin membership, bitfield/bin-head
// agreement, the free-storage counter, and node-slot conservation. It is
// expensive and is intended for tests and DebugValidate, not production
// hot paths.
func (a *Allocator) Validate() error {
	var binWalkFree uint32
	for bin := 0; bin < bitfield.NumBins; bin++ {
		slot := a.binHeads[bin]
		prev := uint32(NoSpace)
		for slot != NoSpace {
			n := a.pool.nodes[slot]
			if n.used {
				return errors.Errorf("bin %d contains used node at slot %d", bin, slot)
			}
			if got := smallfloat.EncodeRoundDown(n.dataSize); got != uint8(bin) {
				return errors.Errorf("node at slot %d (size %d) sits in bin %d but encodes to bin %d", slot, n.dataSize, bin, got)
			}
			if n.binPrev != prev {
				return errors.Errorf("node at slot %d has a broken binPrev back-link", slot)
			}
			binWalkFree += n.dataSize
			prev = slot
			slot = n.binNext
		}

		headSet := a.binHeads[bin] != NoSpace
		if headSet != a.bins.IsSet(uint8(bin)) {
			return errors.Errorf("bitfield disagrees with bin head occupancy at bin %d", bin)
		}
	}

	if binWalkFree != a.freeStorage {
		return errors.Errorf("free storage counter is %d but bin walk sums to %d", a.freeStorage, binWalkFree)
	}

	seen := make(map[uint32]bool, len(a.pool.nodes))
	var offset uint32
	prevWasFree := false
	slot := a.headSlot
	var neighborWalkFree uint32
	for slot != NoSpace {
		if seen[slot] {
			return errors.New("cycle detected in neighbor list")
		}
		seen[slot] = true

		n := a.pool.nodes[slot]
		if n.dataOffset != offset {
			return errors.Errorf("node at slot %d has offset %d, expected %d", slot, n.dataOffset, offset)
		}
		if !n.used {
			if prevWasFree {
				return errors.New("two adjacent free regions were not coalesced")
			}
			neighborWalkFree += n.dataSize
		}
		prevWasFree = !n.used
		offset += n.dataSize
		slot = n.neighborNext
	}

	if offset != a.size {
		return errors.Errorf("neighbor list covers [0, %d) but allocator size is %d", offset, a.size)
	}
	if neighborWalkFree != a.freeStorage {
		return errors.Errorf("neighbor walk free total %d disagrees with counter %d", neighborWalkFree, a.freeStorage)
	}

	if live, total := len(seen), len(a.pool.nodes); live+(a.pool.freeOffset+1) != total {
		return errors.Errorf("node slots are not conserved: %d live + %d free != %d total", live, a.pool.freeOffset+1, total)
	}

	return nil
}

// Close releases the Allocator's backing arrays. It returns ErrNotEmpty,
// surfaced as an error rather than an assertion per Go convention, unless
// both StorageReport fields equal the managed size. Since LargestFreeRegion
// is the smallest size of the highest occupied bin, an empty Allocator
// whose size is not exactly the smallest size of its bin (4097, say, whose
// bin starts at 4096) also gets ErrNotEmpty.
func (a *Allocator) Close() error {
	report := a.StorageReport()
	if report.TotalFreeSpace != a.size || report.LargestFreeRegion != a.size {
		return errors.WithStack(ErrNotEmpty)
	}
	a.pool = nil
	return nil
}
