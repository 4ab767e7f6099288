// Package formtable implements the fixed-bucket, open-chain hash table
// spec §4.3 calls for to hold decoded application/x-www-form-urlencoded
// key/value pairs. Grounded on original_source/core/hash_table.c: a fixed
// bucket count (default 16384, HTTP_HASH_TABLE_SIZE), CRC32-mod-buckets
// lookup, and a chain of nodes per bucket. Iteration order is never
// promised, matching the C source's bucket-major walk.
package formtable

import "github.com/WhileEndless/reactorhttp/pkg/crc32util"

const defaultBuckets = 16384

type node struct {
	key   string
	value string
	next  *node
}

// Table is a fixed-bucket-count string/string map.
type Table struct {
	buckets []*node
	count   int
}

// New creates a table with the default bucket count.
func New() *Table {
	return NewWithBuckets(defaultBuckets)
}

// NewWithBuckets creates a table with a caller-chosen bucket count.
func NewWithBuckets(n int) *Table {
	if n <= 0 {
		n = defaultBuckets
	}
	return &Table{buckets: make([]*node, n)}
}

func (t *Table) idx(key string) int {
	return crc32util.Bucket([]byte(key), len(t.buckets))
}

// Set inserts or replaces key's value, returning the previous value and
// whether one existed.
func (t *Table) Set(key, value string) (prev string, existed bool) {
	i := t.idx(key)
	for n := t.buckets[i]; n != nil; n = n.next {
		if n.key == key {
			prev = n.value
			n.value = value
			return prev, true
		}
	}
	t.buckets[i] = &node{key: key, value: value, next: t.buckets[i]}
	t.count++
	return "", false
}

// Get looks up key.
func (t *Table) Get(key string) (string, bool) {
	i := t.idx(key)
	for n := t.buckets[i]; n != nil; n = n.next {
		if n.key == key {
			return n.value, true
		}
	}
	return "", false
}

// Delete removes key, returning whether it existed.
func (t *Table) Delete(key string) bool {
	i := t.idx(key)
	var prev *node
	for n := t.buckets[i]; n != nil; n = n.next {
		if n.key == key {
			if prev == nil {
				t.buckets[i] = n.next
			} else {
				prev.next = n.next
			}
			t.count--
			return true
		}
		prev = n
	}
	return false
}

// Len returns the number of stored pairs.
func (t *Table) Len() int { return t.count }

// Each walks every bucket, yielding only occupied entries. No order is
// promised across calls or across buckets.
func (t *Table) Each(fn func(key, value string)) {
	for _, head := range t.buckets {
		for n := head; n != nil; n = n.next {
			fn(n.key, n.value)
		}
	}
}

// Reset clears all entries without shrinking the bucket array, for reuse
// across parsed messages on the same connection.
func (t *Table) Reset() {
	for i := range t.buckets {
		t.buckets[i] = nil
	}
	t.count = 0
}
