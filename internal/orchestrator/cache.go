package orchestrator

import (
	"container/list"
	"sync"
)

// dedupSet is a bounded LRU membership set. Socket Mode delivers
// at-least-once, so every inbound event is checked against it before
// processing.
type dedupSet struct {
	capacity int

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently seen
}

func newDedupSet(capacity int) *dedupSet {
	if capacity <= 0 {
		capacity = 1000
	}
	return &dedupSet{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Seen records key and reports whether it was already present.
func (d *dedupSet) Seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.entries[key]; ok {
		d.order.MoveToFront(el)
		return true
	}
	d.entries[key] = d.order.PushFront(key)
	if d.order.Len() > d.capacity {
		oldest := d.order.Back()
		d.order.Remove(oldest)
		delete(d.entries, oldest.Value.(string))
	}
	return false
}

// threadTurn is one remembered exchange line in a thread.
type threadTurn struct {
	Role string // "user" or "assistant"
	Text string
}

// threadCache keeps the recent conversation per thread for prompt
// context: an LRU of threads, each holding its last turns.
type threadCache struct {
	maxThreads int
	maxTurns   int

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently active thread
}

type threadEntry struct {
	key   string
	turns []threadTurn
}

func newThreadCache(maxThreads, maxTurns int) *threadCache {
	if maxThreads <= 0 {
		maxThreads = 500
	}
	if maxTurns <= 0 {
		maxTurns = 10
	}
	return &threadCache{
		maxThreads: maxThreads,
		maxTurns:   maxTurns,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
	}
}

// Append records a turn in the thread, evicting the oldest turn and the
// least recently active thread as needed.
func (c *threadCache) Append(threadKey, role, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[threadKey]
	if !ok {
		el = c.order.PushFront(&threadEntry{key: threadKey})
		c.entries[threadKey] = el
		if c.order.Len() > c.maxThreads {
			oldest := c.order.Back()
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*threadEntry).key)
		}
	} else {
		c.order.MoveToFront(el)
	}

	entry := el.Value.(*threadEntry)
	entry.turns = append(entry.turns, threadTurn{Role: role, Text: text})
	if len(entry.turns) > c.maxTurns {
		entry.turns = entry.turns[len(entry.turns)-c.maxTurns:]
	}
}

// Turns returns a copy of the thread's remembered turns, oldest first.
func (c *threadCache) Turns(threadKey string) []threadTurn {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[threadKey]
	if !ok {
		return nil
	}
	c.order.MoveToFront(el)
	entry := el.Value.(*threadEntry)
	out := make([]threadTurn, len(entry.turns))
	copy(out, entry.turns)
	return out
}
