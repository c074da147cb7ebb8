package squeeze

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/zeebo/blake3"
)

// Eviction selects which cache entries are dropped first.
type Eviction uint8

const (
	// EvictFIFO drops the oldest inserted entries first.
	EvictFIFO Eviction = iota
	// EvictLRU drops the least recently used entries first.
	EvictLRU
)

func (e Eviction) String() string {
	switch e {
	case EvictFIFO:
		return "fifo"
	case EvictLRU:
		return "lru"
	}
	return fmt.Sprintf("unknown(%d)", uint8(e))
}

func (e Eviction) MarshalText() ([]byte, error) {
	if e > EvictLRU {
		return nil, fmt.Errorf("squeeze: unknown eviction policy %d", uint8(e))
	}
	return []byte(e.String()), nil
}

func (e *Eviction) UnmarshalText(text []byte) error {
	switch string(text) {
	case "fifo", "":
		*e = EvictFIFO
	case "lru":
		*e = EvictLRU
	default:
		return fmt.Errorf("squeeze: unknown eviction policy %q", text)
	}
	return nil
}

// A Key identifies a region's content under a given method.
type Key [32]byte

// cacheKeyDomain separates cache keys from any other BLAKE3 use of the
// same bytes.
var cacheKeyDomain = [32]byte{'s', 'c', 'r', 'e', 'e', 'n', 'p', 'a', 'c', 'k', '.', 'c', 'a', 'c', 'h', 'e'}

// Fingerprint hashes the method tag and the raw region bytes.
func Fingerprint(m Method, raw []byte) Key {
	hasher, err := blake3.NewKeyed(cacheKeyDomain[:])
	if err != nil {
		panic("squeeze: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write([]byte{byte(m)})
	hasher.Write(raw)
	var k Key
	copy(k[:], hasher.Sum(nil))
	return k
}

// An Encoded is a compressed region as stored in the cache.
type Encoded struct {
	Method Method
	Data   []byte
}

type cacheEntry struct {
	key   Key
	value Encoded
}

// A Cache maps region fingerprints to their compressed bytes, bounded by
// the total size of the stored bytes. When an insert would push the total
// over the maximum size, entries are evicted until the total (including
// the new entry) is at most the purge size. A Cache is safe for
// concurrent use.
type Cache struct {
	mu        sync.Mutex
	maxSize   int
	purgeSize int
	policy    Eviction
	entries   map[Key]*list.Element
	order     list.List // front is evicted first
	size      int

	hits, misses, evictions uint64
}

// NewCache returns an empty cache. purgeSize must be positive and smaller
// than maxSize.
func NewCache(maxSize, purgeSize int, policy Eviction) *Cache {
	c := &Cache{entries: make(map[Key]*list.Element)}
	c.Resize(maxSize, purgeSize, policy)
	return c
}

// Resize changes the bounds and the eviction policy, evicting entries if
// the cache is now over its maximum size.
func (c *Cache) Resize(maxSize, purgeSize int, policy Eviction) {
	if purgeSize <= 0 || purgeSize >= maxSize {
		panic(fmt.Sprintf("squeeze: invalid cache bounds max=%d purge=%d", maxSize, purgeSize))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxSize = maxSize
	c.purgeSize = purgeSize
	c.policy = policy
	if c.size > c.maxSize {
		c.evict(0)
	}
}

// Get looks up a fingerprint.
func (c *Cache) Get(k Key) (Encoded, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[k]
	if !ok {
		c.misses++
		return Encoded{}, false
	}
	c.hits++
	if c.policy == EvictLRU {
		c.order.MoveToBack(el)
	}
	return el.Value.(*cacheEntry).value, true
}

// Put stores an encoded region. Entries larger than the purge size are
// not stored.
func (c *Cache) Put(k Key, v Encoded) {
	n := len(v.Data)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[k]; ok || n > c.purgeSize {
		return
	}
	if c.size+n > c.maxSize {
		c.evict(n)
	}
	c.entries[k] = c.order.PushBack(&cacheEntry{key: k, value: v})
	c.size += n
}

// evict drops entries until size+room is at most the purge size.
func (c *Cache) evict(room int) {
	for c.size+room > c.purgeSize {
		el := c.order.Front()
		if el == nil {
			return
		}
		e := c.order.Remove(el).(*cacheEntry)
		delete(c.entries, e.key)
		c.size -= len(e.value.Data)
		c.evictions++
	}
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
	c.order.Init()
	c.size = 0
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Size returns the total size of the stored bytes.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// CacheStats are the cumulative counters of a cache.
type CacheStats struct {
	Hits, Misses, Evictions uint64
	Entries, Size           int
}

// Stats returns the cache's counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Entries:   len(c.entries),
		Size:      c.size,
	}
}
