package table

import "github.com/clockworklabs/spacetimedb-core/page"

// pointerMap is the per-table RowHash -> RowPointer map used to detect
// exact-duplicate rows and to accelerate equality lookup. Collisions
// (distinct rows hashing the same 64 bits) are resolved by keeping every
// pointer that shares a hash bucket; callers that need exact-duplicate
// detection still compare decoded row values, the hash only narrows the
// candidate set.
type pointerMap struct {
	forward map[uint64][]page.RowPointer
	reverse map[page.RowPointer]uint64
}

func newPointerMap() *pointerMap {
	return &pointerMap{
		forward: make(map[uint64][]page.RowPointer),
		reverse: make(map[page.RowPointer]uint64),
	}
}

func (m *pointerMap) add(hash uint64, ptr page.RowPointer) {
	m.forward[hash] = append(m.forward[hash], ptr)
	m.reverse[ptr] = hash
}

func (m *pointerMap) candidates(hash uint64) []page.RowPointer {
	return m.forward[hash]
}

func (m *pointerMap) remove(ptr page.RowPointer) {
	hash, ok := m.reverse[ptr]
	if !ok {
		return
	}
	delete(m.reverse, ptr)
	bucket := m.forward[hash]
	for i, p := range bucket {
		if p == ptr {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(m.forward, hash)
	} else {
		m.forward[hash] = bucket
	}
}

func (m *pointerMap) len() int { return len(m.reverse) }
