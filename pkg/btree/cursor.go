package btree

import (
	"math"

	"raptordb/pkg/entry"
)

// Cursor lazily iterates tree entries in key order by walking the leaf
// chain. The current leaf is held as a decoded copy, so a cursor must not
// be used across a mutation of the tree.
type Cursor struct {
	index   *BTreeIndex
	leaf    *node
	pos     int
	hi      int64
	err     error
	started bool
	done    bool
}

// Iter returns a cursor over every entry in the tree.
func (index *BTreeIndex) Iter() *Cursor {
	cursor, err := index.RangeCursor(math.MinInt64, math.MaxInt64)
	if err != nil {
		return &Cursor{index: index, err: err, done: true}
	}
	return cursor
}

// RangeCursor returns a cursor over the entries with lo <= key <= hi.
func (index *BTreeIndex) RangeCursor(lo int64, hi int64) (*Cursor, error) {
	cursor := &Cursor{index: index, hi: hi}
	pagenum, err := index.findLeaf(lo)
	if err != nil {
		return nil, err
	}
	leaf, err := index.readNode(pagenum)
	if err != nil {
		return nil, err
	}
	cursor.leaf = leaf
	cursor.pos = leafLowerBound(leaf.entries, lo)
	return cursor, nil
}

// Next advances to the next entry, reporting whether one exists.
// Once Next returns false, check Err.
func (cursor *Cursor) Next() bool {
	if cursor.done || cursor.err != nil {
		return false
	}
	if cursor.started {
		cursor.pos++
	}
	cursor.started = true
	for cursor.pos >= len(cursor.leaf.entries) {
		if cursor.leaf.nextLeaf == NoLeaf {
			cursor.done = true
			return false
		}
		leaf, err := cursor.index.readNode(cursor.leaf.nextLeaf)
		if err != nil {
			cursor.err = err
			return false
		}
		cursor.leaf = leaf
		cursor.pos = 0
	}
	if cursor.leaf.entries[cursor.pos].Key > cursor.hi {
		cursor.done = true
		return false
	}
	return true
}

// Err returns the error that stopped iteration, if any.
func (cursor *Cursor) Err() error {
	return cursor.err
}

// Entry returns the current entry.
func (cursor *Cursor) Entry() entry.Entry {
	return cursor.leaf.entries[cursor.pos]
}
