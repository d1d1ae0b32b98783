package offsetalloc

// NoSpace is the sentinel returned in both fields of an Allocation when
// Allocate cannot satisfy a request, and is also used internally as the
// "no node" value in every link field.
const NoSpace uint32 = 0xFFFFFFFF

// node describes one physical region of the managed range: either a free
// region sitting in a bin's doubly-linked list, or an allocated region that
// has been detached from every bin. Every node, free or used, is also a
// member of the neighbor list, the total order over [0, size) by offset.
type node struct {
	dataOffset uint32
	dataSize   uint32

	binPrev uint32
	binNext uint32

	neighborPrev uint32
	neighborNext uint32

	used bool
}

// nodePool is a fixed-size array of nodes plus a LIFO stack of unused slot
// indices. It never grows; New(size, maxAllocs) sizes it once and every
// allocate/free reuses the same backing arrays, which is what makes the
// allocator's hot path allocation-free.
type nodePool struct {
	nodes      []node
	freeSlots  []uint32
	freeOffset int
}

func newNodePool(maxAllocs uint32) *nodePool {
	nodes := make([]node, maxAllocs)
	freeSlots := make([]uint32, maxAllocs)

	// Initialized in reverse so slot 0 pops first, which keeps allocation
	// offsets deterministic across runs for otherwise-identical call
	// sequences.
	for i := uint32(0); i < maxAllocs; i++ {
		freeSlots[i] = maxAllocs - i - 1
	}

	return &nodePool{
		nodes:      nodes,
		freeSlots:  freeSlots,
		freeOffset: int(maxAllocs) - 1,
	}
}

func (p *nodePool) pop() (uint32, bool) {
	if p.freeOffset < 0 {
		return 0, false
	}
	slot := p.freeSlots[p.freeOffset]
	p.freeOffset--
	return slot, true
}

func (p *nodePool) push(slot uint32) {
	p.freeOffset++
	p.freeSlots[p.freeOffset] = slot
}

// liveCount returns the number of slots currently checked out of the pool
// (i.e. referenced by some node in the neighbor list, free or used).
func (p *nodePool) liveCount() int {
	return len(p.nodes) - (p.freeOffset + 1)
}
