package parser

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/Velocidex/ordereddict"
)

// LRU is a small fixed-capacity cache keyed by int, used throughout the
// parser package to bound the number of live *MFT_ENTRY / page buffers
// we hold on to. It is intentionally not generic (this module targets
// go 1.18 and predates widespread use of type parameters in the
// codebase it was grown from) - every cache in this package stores a
// single concrete type behind interface{} and type-asserts on Get().
type LRU struct {
	mu sync.Mutex

	name     string
	max_size int

	ll    *list.List
	items map[int]*list.Element

	onEvict func(key int, value interface{})

	hits   int64
	misses int64
}

type lruEntry struct {
	key   int
	value interface{}
}

func NewLRU(max_size int, onEvict func(key int, value interface{}),
	name string) (*LRU, error) {
	if max_size <= 0 {
		max_size = 1
	}

	return &LRU{
		name:     name,
		max_size: max_size,
		ll:       list.New(),
		items:    make(map[int]*list.Element),
		onEvict:  onEvict,
	}, nil
}

func (self *LRU) Get(key int) (interface{}, bool) {
	self.mu.Lock()
	defer self.mu.Unlock()

	element, pres := self.items[key]
	if !pres {
		self.misses++
		return nil, false
	}

	self.hits++
	self.ll.MoveToFront(element)
	return element.Value.(*lruEntry).value, true
}

func (self *LRU) Add(key int, value interface{}) {
	self.mu.Lock()
	defer self.mu.Unlock()

	if element, pres := self.items[key]; pres {
		self.ll.MoveToFront(element)
		element.Value.(*lruEntry).value = value
		return
	}

	element := self.ll.PushFront(&lruEntry{key: key, value: value})
	self.items[key] = element

	for self.ll.Len() > self.max_size {
		self.removeOldest()
	}
}

func (self *LRU) removeOldest() {
	element := self.ll.Back()
	if element == nil {
		return
	}

	self.ll.Remove(element)
	entry := element.Value.(*lruEntry)
	delete(self.items, entry.key)

	if self.onEvict != nil {
		self.onEvict(entry.key, entry.value)
	}
}

func (self *LRU) Len() int {
	self.mu.Lock()
	defer self.mu.Unlock()

	return self.ll.Len()
}

// Purge evicts every entry, invoking onEvict for each so callers can
// return backing buffers to a free list.
func (self *LRU) Purge() {
	self.mu.Lock()
	defer self.mu.Unlock()

	for self.ll.Len() > 0 {
		self.removeOldest()
	}
}

func (self *LRU) Stats() *ordereddict.Dict {
	self.mu.Lock()
	defer self.mu.Unlock()

	return ordereddict.NewDict().
		Set("Name", self.name).
		Set("Size", self.ll.Len()).
		Set("MaxSize", self.max_size).
		Set("Hits", self.hits).
		Set("Misses", self.misses)
}

func (self *LRU) DebugString() string {
	return fmt.Sprintf("LRU %v: %v", self.name, self.Stats())
}
