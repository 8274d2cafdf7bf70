package hostsched

import (
	"container/heap"
	"time"
)

// alarm is one entry in the heap.
type alarm struct {
	name string
	at   time.Time
	// cron is empty for one-shot alarms.
	cron string
	fn   func(time.Time)
}

// alarmHeap is a min-heap of alarms ordered by fire time.
type alarmHeap []alarm

func (h alarmHeap) Len() int           { return len(h) }
func (h alarmHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h alarmHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *alarmHeap) Push(x any) {
	*h = append(*h, x.(alarm))
}

func (h *alarmHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// removeByName drops the alarm registered under name, if any.
func (h *alarmHeap) removeByName(name string) bool {
	for i, a := range *h {
		if a.name == name {
			heap.Remove(h, i)
			return true
		}
	}
	return false
}
