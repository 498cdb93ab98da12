// Package index maps column values to the rows holding them.
package index

import (
	"sync"

	"github.com/RoaringBitmap/roaring"
)

// Index is the interface implemented by row indexes.
type Index interface {
	// Add records that rowID holds value.
	Add(rowID uint32, value string)
	// Search returns the rows holding value, ascending.
	Search(value string) []uint32
	// Cardinality returns the number of distinct values indexed.
	Cardinality() int
	// Clear removes all entries.
	Clear()
}

// ---------------------------------------------------------------------
// Roaring Bitmap Index
//
//    Maps each distinct value -> roaring.Bitmap of rowIDs.
// ---------------------------------------------------------------------

type roaringIndex struct {
	mu     sync.RWMutex
	values map[string]*roaring.Bitmap
}

// NewRoaringIndex constructs a new Index backed by one Roaring bitmap per
// distinct value.
func NewRoaringIndex() Index {
	return &roaringIndex{
		values: make(map[string]*roaring.Bitmap),
	}
}

func (r *roaringIndex) Add(rowID uint32, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bm, ok := r.values[value]
	if !ok {
		bm = roaring.New()
		r.values[value] = bm
	}
	bm.Add(rowID)
}

func (r *roaringIndex) Search(value string) []uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bm, ok := r.values[value]
	if !ok {
		return nil
	}
	return bm.ToArray()
}

func (r *roaringIndex) Cardinality() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.values)
}

func (r *roaringIndex) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.values = make(map[string]*roaring.Bitmap)
}
