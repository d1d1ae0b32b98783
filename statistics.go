package offsetalloc

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/smallfloat/offsetalloc/smallfloat"
)

// StorageReport is the O(1) allocator-wide summary: the total free space
// across every free region, and a lower-bound estimate of the largest
// single free region (the smallest size that would still land in the
// highest occupied bin).
type StorageReport struct {
	TotalFreeSpace    uint32
	LargestFreeRegion uint32
}

// WriteJSON serializes the report using the jwriter.ObjectState idiom.
func (r StorageReport) WriteJSON(json jwriter.ObjectState) {
	json.Name("TotalFreeSpace").Int(int(r.TotalFreeSpace))
	json.Name("LargestFreeRegion").Int(int(r.LargestFreeRegion))
}

// BinReport describes the occupancy of one size class, used by
// DetailedStorageReport.
type BinReport struct {
	BinIndex        uint8
	FreeRegionCount int
	FreeBytes       uint32
}

// DetailedStorageReport walks every occupied bin's freelist to build a
// per-bin histogram, so unlike StorageReport it is O(bins + free regions),
// not O(1); it exists for diagnostics, not the hot path.
type DetailedStorageReport struct {
	StorageReport
	AllocationCount int
	FreeRegionCount int
	Bins            []BinReport
}

// WriteJSON serializes the detailed report the same way WriteJSON on
// StorageReport does, nesting the per-bin breakdown in a JSON array.
func (r DetailedStorageReport) WriteJSON(json jwriter.ObjectState) {
	r.StorageReport.WriteJSON(json)
	json.Name("AllocationCount").Int(r.AllocationCount)
	json.Name("FreeRegionCount").Int(r.FreeRegionCount)

	arr := json.Name("Bins").Array()
	defer arr.End()
	for _, bin := range r.Bins {
		obj := arr.Object()
		obj.Name("BinIndex").Int(int(bin.BinIndex))
		obj.Name("FreeRegionCount").Int(bin.FreeRegionCount)
		obj.Name("FreeBytes").Int(int(bin.FreeBytes))
		obj.End()
	}
}

func decodeLargestFreeRegion(highestBin uint8, found bool) uint32 {
	if !found {
		return 0
	}
	return smallfloat.Decode(highestBin)
}
