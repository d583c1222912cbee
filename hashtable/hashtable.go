package hashtable

import "fmt"
import "hash/fnv"
import "strings"
import "sync"
import "sync/atomic"

type elem_t struct {
	key     interface{}
	value   interface{}
	keyHash uint32
	next    atomic.Pointer[elem_t]
}

// elements are kept sorted by key hash. readers walk the chain without the
// lock; writers publish each link with a single atomic store.
type bucket_t struct {
	sync.Mutex
	first atomic.Pointer[elem_t]
}

// a hash table whose lookups take no locks; inserts and deletes lock one
// bucket.
type Hashtable_t struct {
	table []*bucket_t
	n     int64
}

func MkHash(size int) *Hashtable_t {
	if size <= 0 {
		panic("bad hash size")
	}
	ht := &Hashtable_t{}
	ht.table = make([]*bucket_t, size)
	for i := range ht.table {
		ht.table[i] = &bucket_t{}
	}
	return ht
}

func (ht *Hashtable_t) String() string {
	var sb strings.Builder
	for i, b := range ht.table {
		e := b.first.Load()
		if e == nil {
			continue
		}
		fmt.Fprintf(&sb, "b %d:\n", i)
		for ; e != nil; e = e.next.Load() {
			fmt.Fprintf(&sb, "(%v, %v), ", e.keyHash, e.key)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (ht *Hashtable_t) Len() int {
	return int(atomic.LoadInt64(&ht.n))
}

func (ht *Hashtable_t) Get(key interface{}) (interface{}, bool) {
	kh := khash(key)
	b := ht.table[ht.hash(kh)]

	for e := b.first.Load(); e != nil; e = e.next.Load() {
		if e.keyHash == kh && e.key == key {
			return e.value, true
		}
	}
	return nil, false
}

// inserts key; returns the existing value and false if key is already
// present.
func (ht *Hashtable_t) Set(key interface{}, value interface{}) (interface{}, bool) {
	kh := khash(key)
	b := ht.table[ht.hash(kh)]
	b.Lock()
	defer b.Unlock()

	add := func(link *atomic.Pointer[elem_t]) {
		n := &elem_t{key: key, value: value, keyHash: kh}
		n.next.Store(link.Load())
		link.Store(n)
		atomic.AddInt64(&ht.n, 1)
	}

	link := &b.first
	for e := link.Load(); e != nil; e = e.next.Load() {
		if e.keyHash == kh && e.key == key {
			return e.value, false
		}
		if kh < e.keyHash {
			break
		}
		link = &e.next
	}
	add(link)
	return value, true
}

func (ht *Hashtable_t) Del(key interface{}) {
	kh := khash(key)
	b := ht.table[ht.hash(kh)]
	b.Lock()
	defer b.Unlock()

	link := &b.first
	for e := link.Load(); e != nil; e = e.next.Load() {
		if e.keyHash == kh && e.key == key {
			// concurrent readers at e still see the rest of the chain
			link.Store(e.next.Load())
			atomic.AddInt64(&ht.n, -1)
			return
		}
		if kh < e.keyHash {
			break
		}
		link = &e.next
	}
	panic(fmt.Sprintf("del of non-existing key %v", key))
}

// Iter may execute concurrently with other lookups, inserts, and deletes.
// stops when f returns true.
func (ht *Hashtable_t) Iter(f func(interface{}, interface{}) bool) bool {
	for _, b := range ht.table {
		for e := b.first.Load(); e != nil; e = e.next.Load() {
			if f(e.key, e.value) {
				return true
			}
		}
	}
	return false
}

func (ht *Hashtable_t) hash(keyHash uint32) int {
	return int(keyHash % uint32(len(ht.table)))
}

func hashString(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

func khash(key interface{}) uint32 {
	h := hash(key)
	return uint32(2654435761) * h
}

func hash(key interface{}) uint32 {
	switch x := key.(type) {
	case string:
		return hashString(x)
	case int:
		return uint32(x)
	case int32:
		return uint32(x)
	}
	panic(fmt.Errorf("unsupported key type %T", key))
}
