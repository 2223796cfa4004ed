package memutils

// Statistics counts device memory blocks and the bytes bound out of them. A block is a single
// vkAllocateMemory call, an allocation is the range of that block a resource is bound to.
type Statistics struct {
	BlockCount      int
	AllocationCount int
	BlockBytes      int
	AllocationBytes int
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.BlockCount += other.BlockCount
	s.AllocationCount += other.AllocationCount
	s.BlockBytes += other.BlockBytes
	s.AllocationBytes += other.AllocationBytes
}

// UnusedBytes is the number of block bytes not covered by an allocation, usually alignment padding
func (s *Statistics) UnusedBytes() int {
	return s.BlockBytes - s.AllocationBytes
}
