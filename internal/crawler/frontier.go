package crawler

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

type popResult int

const (
	popReady popResult = iota
	popWait
	popEmpty
	popBudget
)

// frontier owns the FIFO work queue and the visit set. Every mutation
// happens under mu, which keeps "enqueued at most once" true regardless of
// how many workers discover the same URL concurrently.
type frontier struct {
	mu       sync.Mutex
	queue    []CrawlTask
	head     int
	visited  mapset.Set[string]
	inFlight int
	wake     chan struct{}
}

func newFrontier() *frontier {
	return &frontier{
		visited: mapset.NewThreadUnsafeSet[string](),
		wake:    make(chan struct{}, 1),
	}
}

// push enqueues task unless its URL was seen before.
func (f *frontier) push(task CrawlTask) bool {
	f.mu.Lock()
	if !f.visited.Add(task.URL) {
		f.mu.Unlock()
		return false
	}
	f.queue = append(f.queue, task)
	f.mu.Unlock()
	f.signal()
	return true
}

// markVisited records u without queueing it. It reports whether u was new.
func (f *frontier) markVisited(u string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visited.Add(u)
}

// pop takes the oldest pending task and counts it as in flight. When
// budgetLeft is false a pending task is left queued and popBudget returned.
func (f *frontier) pop(budgetLeft bool) (CrawlTask, popResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.head < len(f.queue) {
		if !budgetLeft {
			return CrawlTask{}, popBudget
		}
		task := f.queue[f.head]
		f.queue[f.head] = CrawlTask{}
		f.head++
		if f.head == len(f.queue) {
			f.queue = f.queue[:0]
			f.head = 0
		}
		f.inFlight++
		return task, popReady
	}
	if f.inFlight > 0 {
		return CrawlTask{}, popWait
	}
	return CrawlTask{}, popEmpty
}

// done marks one in-flight task as finished. Children must be pushed before
// calling done so the queue never looks drained too early.
func (f *frontier) done() {
	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
	f.signal()
}

func (f *frontier) pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue) - f.head
}

func (f *frontier) visitedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visited.Cardinality()
}

func (f *frontier) seen(u string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visited.Contains(u)
}

func (f *frontier) signal() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}
