// Package ringcache provides a bounded, most-recently-used-first cache of
// decoded sectors, so repeated writes or reads against the same sector
// number don't re-walk its record index from flash on every call.
//
// Capacity is small by design (8 entries by default): the cache exists to
// avoid redundant reads against the current write/read sectors, not to
// hold the whole partition resident. Entries are replaced in place (Put)
// rather than evicted whenever the controller mutates a cached sector's
// header, so a cache hit always reflects the latest on-flash state without
// a re-read.
package ringcache

import (
	"container/list"

	"github.com/flashring/flashring/pkg/sector"
)

// Cache is a bounded MRU deque of *sector.Sector keyed by sector number.
// It is not safe for concurrent use; callers serialize access externally
// (the ring buffer controller's recursive mutex).
type Cache struct {
	capacity int
	order    *list.List // front = most recently used
	entries  map[uint16]*list.Element
}

type entry struct {
	num int
	s   *sector.Sector
}

// New creates a Cache bounded to capacity entries. A non-positive capacity
// is treated as 1.
func New(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[uint16]*list.Element, capacity),
	}
}

// Get returns the cached sector for num, promoting it to most-recently-used,
// or nil if it isn't resident.
func (c *Cache) Get(num uint16) *sector.Sector {
	el, ok := c.entries[num]
	if !ok {
		return nil
	}
	c.order.MoveToFront(el)
	return el.Value.(*entry).s
}

// Put inserts or replaces the cached entry for s.Num, evicting the least
// recently used entry if the cache is at capacity.
func (c *Cache) Put(s *sector.Sector) {
	if el, ok := c.entries[s.Num]; ok {
		el.Value.(*entry).s = s
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.capacity {
		back := c.order.Back()
		if back != nil {
			c.order.Remove(back)
			delete(c.entries, uint16(back.Value.(*entry).num))
		}
	}

	el := c.order.PushFront(&entry{num: int(s.Num), s: s})
	c.entries[s.Num] = el
}

// Invalidate evicts num from the cache, if present.
func (c *Cache) Invalidate(num uint16) {
	if el, ok := c.entries[num]; ok {
		c.order.Remove(el)
		delete(c.entries, num)
	}
}

// Clear empties the cache, e.g. after Load rebuilds the metadata table.
func (c *Cache) Clear() {
	c.order.Init()
	c.entries = make(map[uint16]*list.Element, c.capacity)
}

// Len reports the number of resident entries.
func (c *Cache) Len() int {
	return c.order.Len()
}
