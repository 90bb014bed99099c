package reactor

import (
	"container/heap"
	"time"
)

// timerHeap orders active TimerWatchers by next-deadline, the same
// container/heap min-heap idiom aistore's stream collector uses to order
// streams by idle-tick deadline (transport/collect.go).
type timerHeap struct {
	items []*TimerWatcher
}

func newTimerHeap() *timerHeap { return &timerHeap{} }

func (h *timerHeap) Len() int { return len(h.items) }
func (h *timerHeap) Less(i, j int) bool {
	return h.items[i].deadline.Before(h.items[j].deadline)
}
func (h *timerHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].heapIdx = i
	h.items[j].heapIdx = j
}
func (h *timerHeap) Push(x any) {
	w := x.(*TimerWatcher)
	w.heapIdx = len(h.items)
	h.items = append(h.items, w)
}
func (h *timerHeap) Pop() any {
	n := len(h.items)
	w := h.items[n-1]
	h.items[n-1] = nil
	h.items = h.items[:n-1]
	w.heapIdx = -1
	return w
}

func (h *timerHeap) peek() *TimerWatcher {
	if len(h.items) == 0 {
		return nil
	}
	return h.items[0]
}

// TimerWatcher fires once, or periodically every `repeat` if repeat > 0.
type TimerWatcher struct {
	*base
	cb       func()
	after    time.Duration
	repeat   time.Duration
	deadline time.Time
	heapIdx  int
}

func NewTimerWatcher(r *Reactor, after, repeat time.Duration, cb func()) *TimerWatcher {
	w := &TimerWatcher{base: newBase(r, "timer"), cb: cb, after: after, repeat: repeat, heapIdx: -1}
	w.onStart = func() {
		w.deadline = time.Now().Add(after)
		heap.Push(r.timers, w)
	}
	w.onStop = func() {
		if w.heapIdx >= 0 {
			heap.Remove(r.timers, w.heapIdx)
		}
	}
	return w
}

// fire is called by the reactor loop when this timer's deadline has passed.
// It reschedules periodic timers, or stops one-shot timers, before invoking
// the user callback.
func (w *TimerWatcher) fire() {
	th := w.reactor.timers
	if w.heapIdx >= 0 {
		heap.Remove(th, w.heapIdx)
	}
	if w.repeat > 0 {
		w.deadline = time.Now().Add(w.repeat)
		heap.Push(th, w)
	} else {
		w.active = false
	}
	w.cb()
}
