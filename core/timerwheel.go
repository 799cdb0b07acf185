package core

import (
	"container/heap"
	"sync"
	"time"
)

// wheelItem is one entry in a timerWheel's heap.
type wheelItem struct {
	tb      *TimerBinding
	carrier *Carrier
	index   int
}

type wheelHeap []*wheelItem

func (h wheelHeap) Len() int           { return len(h) }
func (h wheelHeap) Less(i, j int) bool { return h[i].tb.deadline.Before(h[j].tb.deadline) }
func (h wheelHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *wheelHeap) Push(x any) {
	item := x.(*wheelItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *wheelHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// timerWheel is a coarse, per-carrier low-precision timer service: one
// instance per Carrier, using the same heap-plus-wakeup-channel shape as
// DelayManager, but keyed on TimerBinding/Fiber wakeups rather than posted
// Tasks.
type timerWheel struct {
	carrier *Carrier

	mu     sync.Mutex
	pq     wheelHeap
	wakeup chan struct{}

	stopCh   chan struct{}
	stopOnce sync.Once
}

func newTimerWheel(c *Carrier) *timerWheel {
	w := &timerWheel{
		carrier: c,
		wakeup:  make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *timerWheel) add(tb *TimerBinding) {
	item := &wheelItem{tb: tb, carrier: w.carrier}
	tb.wheelItem = item

	w.mu.Lock()
	heap.Push(&w.pq, item)
	isHead := item.index == 0
	w.mu.Unlock()

	if isHead {
		select {
		case w.wakeup <- struct{}{}:
		default:
		}
	}
}

func (w *timerWheel) remove(item *wheelItem) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if item.index >= 0 && item.index < len(w.pq) && w.pq[item.index] == item {
		heap.Remove(&w.pq, item.index)
	}
}

func (w *timerWheel) loop() {
	timer := time.NewTimer(time.Hour)
	timer.Stop()

	for {
		var next time.Duration

		w.mu.Lock()
		if len(w.pq) == 0 {
			next = time.Hour
		} else {
			head := w.pq[0]
			now := time.Now()
			if !head.tb.deadline.After(now) {
				heap.Pop(&w.pq)
				w.mu.Unlock()
				head.tb.fire()
				continue
			}
			next = head.tb.deadline.Sub(now)
		}
		w.mu.Unlock()

		timer.Reset(next)

		select {
		case <-w.stopCh:
			timer.Stop()
			return
		case <-timer.C:
		case <-w.wakeup:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
	}
}

func (w *timerWheel) stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}
