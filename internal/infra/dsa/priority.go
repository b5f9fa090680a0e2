package dsa

import "sync"

// JobHeapItem is one entry of a JobPriorityQueue: a sort key plus an
// opaque payload the caller interprets.
type JobHeapItem struct {
	Key   int64 // lower dequeues first
	Value any
}

// JobPriorityQueue is a thread-safe binary min-heap ordered on Key, used
// for leastSlackTimeFirst's ascending-slack window ordering (spec.md
// §4.5); it holds only the small, transient per-iteration window.
type JobPriorityQueue struct {
	mu   sync.Mutex
	heap []JobHeapItem
}

// NewJobPriorityQueue returns an empty queue.
func NewJobPriorityQueue() *JobPriorityQueue {
	return &JobPriorityQueue{}
}

func (pq *JobPriorityQueue) Push(item JobHeapItem) {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	pq.heap = append(pq.heap, item)
	pq.siftUp(len(pq.heap) - 1)
}

func (pq *JobPriorityQueue) Pop() (JobHeapItem, bool) {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	if len(pq.heap) == 0 {
		return JobHeapItem{}, false
	}
	top := pq.heap[0]
	last := len(pq.heap) - 1
	pq.heap[0] = pq.heap[last]
	pq.heap = pq.heap[:last]
	if len(pq.heap) > 0 {
		pq.siftDown(0)
	}
	return top, true
}

func (pq *JobPriorityQueue) Len() int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return len(pq.heap)
}

func (pq *JobPriorityQueue) less(i, j int) bool {
	return pq.heap[i].Key < pq.heap[j].Key
}

func (pq *JobPriorityQueue) siftUp(idx int) {
	for idx > 0 {
		parent := (idx - 1) / 2
		if pq.less(idx, parent) {
			pq.heap[idx], pq.heap[parent] = pq.heap[parent], pq.heap[idx]
			idx = parent
		} else {
			break
		}
	}
}

func (pq *JobPriorityQueue) siftDown(idx int) {
	n := len(pq.heap)
	for {
		smallest := idx
		left, right := 2*idx+1, 2*idx+2
		if left < n && pq.less(left, smallest) {
			smallest = left
		}
		if right < n && pq.less(right, smallest) {
			smallest = right
		}
		if smallest == idx {
			break
		}
		pq.heap[idx], pq.heap[smallest] = pq.heap[smallest], pq.heap[idx]
		idx = smallest
	}
}
