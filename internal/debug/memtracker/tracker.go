package memtracker

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type AllocationInfo struct {
	ID          uint64
	Size        int64
	Tag         string
	AllocatedAt time.Time
}

type MemoryStats struct {
	TotalAllocated   int64
	TotalDeallocated int64
	CurrentlyActive  int64
	AllocationCount  int64
	// UntrackedReleases counts deallocations of ids the tracker never saw,
	// including a second release of the same id.
	UntrackedReleases int64
}

// Tracker keeps an account of pixel buffers by Mat id. It satisfies
// safe.MemoryTracker.
type Tracker struct {
	allocations  map[uint64]AllocationInfo
	mu           sync.RWMutex
	enabled      bool
	totalAlloc   int64
	totalDealloc int64
	allocCount   int64
	untracked    int64
}

func NewTracker() *Tracker {
	return &Tracker{
		allocations: make(map[uint64]AllocationInfo),
		enabled:     true,
	}
}

func (mt *Tracker) TrackAllocation(id uint64, size int64, tag string) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	if !mt.enabled {
		return
	}

	atomic.AddInt64(&mt.totalAlloc, size)
	atomic.AddInt64(&mt.allocCount, 1)

	mt.allocations[id] = AllocationInfo{
		ID:          id,
		Size:        size,
		Tag:         tag,
		AllocatedAt: time.Now(),
	}
}

func (mt *Tracker) TrackDeallocation(id uint64, tag string) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	if !mt.enabled {
		return
	}

	info, exists := mt.allocations[id]
	if !exists {
		atomic.AddInt64(&mt.untracked, 1)
		return
	}

	delete(mt.allocations, id)
	atomic.AddInt64(&mt.totalDealloc, info.Size)
}

// Outstanding lists live allocations ordered by id.
func (mt *Tracker) Outstanding() []AllocationInfo {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	result := make([]AllocationInfo, 0, len(mt.allocations))
	for _, info := range mt.allocations {
		result = append(result, info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (mt *Tracker) GetStats() MemoryStats {
	mt.mu.RLock()
	currentlyActive := int64(len(mt.allocations))
	mt.mu.RUnlock()

	return MemoryStats{
		TotalAllocated:    atomic.LoadInt64(&mt.totalAlloc),
		TotalDeallocated:  atomic.LoadInt64(&mt.totalDealloc),
		CurrentlyActive:   currentlyActive,
		AllocationCount:   atomic.LoadInt64(&mt.allocCount),
		UntrackedReleases: atomic.LoadInt64(&mt.untracked),
	}
}

func (mt *Tracker) SetEnabled(enabled bool) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.enabled = enabled
}

func (mt *Tracker) DetectLeaks(olderThan time.Duration) []AllocationInfo {
	threshold := time.Now().Add(-olderThan)
	var leaks []AllocationInfo

	for _, info := range mt.Outstanding() {
		if info.AllocatedAt.Before(threshold) {
			leaks = append(leaks, info)
		}
	}

	return leaks
}

func (mt *Tracker) GetAllocationsByTag(tag string) []AllocationInfo {
	var result []AllocationInfo
	for _, info := range mt.Outstanding() {
		if info.Tag == tag {
			result = append(result, info)
		}
	}

	return result
}
