package offsetalloc

import "github.com/dolthub/swiss"

// labelRegistry tags live allocations with caller-provided strings, keyed
// by node slot (already a dense array index, so no extra hashing cost at
// allocation time). It exists purely for diagnostics: Label writes it,
// VisitAllRegions and DebugLogAllocations read it, and Free deletes the
// entry of every slot it releases, whether or not a label was ever set.
type labelRegistry struct {
	labels *swiss.Map[uint32, string]
}

func newLabelRegistry() labelRegistry {
	return labelRegistry{labels: swiss.NewMap[uint32, string](16)}
}

func (r labelRegistry) set(slot uint32, label string) {
	r.labels.Put(slot, label)
}

func (r labelRegistry) get(slot uint32) (string, bool) {
	return r.labels.Get(slot)
}

func (r labelRegistry) clear(slot uint32) {
	r.labels.Delete(slot)
}
