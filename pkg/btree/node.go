package btree

import (
	"encoding/binary"
	"fmt"

	"raptordb/pkg/entry"
	"raptordb/pkg/pager"
)

// NodeType identifies if a node is a leaf node or an internal node.
type NodeType uint8

const (
	InternalNode NodeType = 0
	LeafNode     NodeType = 1
)

// node is the in-memory form of one tree node. Nodes are decoded from their
// page in full, mutated, and written back in full, so no page reference is
// held while another page is fetched.
type node struct {
	pagenum int64
	typ     NodeType

	// Leaf fields.
	entries  []entry.Entry
	nextLeaf int64

	// Internal fields. len(children) == len(keys)+1.
	keys     []int64
	children []int64
}

// newLeaf returns an empty in-memory leaf for the given page.
func newLeaf(pagenum int64) *node {
	return &node{pagenum: pagenum, typ: LeafNode, nextLeaf: NoLeaf}
}

// newInternal returns an empty in-memory internal node for the given page.
func newInternal(pagenum int64) *node {
	return &node{pagenum: pagenum, typ: InternalNode}
}

// numKeys returns the key count: entries for a leaf, separators for an
// internal node.
func (n *node) numKeys() int {
	if n.typ == LeafNode {
		return len(n.entries)
	}
	return len(n.keys)
}

// readNode fetches and decodes the node stored at pagenum.
func (index *BTreeIndex) readNode(pagenum int64) (*node, error) {
	page, err := index.pool.Get(index.file, pagenum)
	if err != nil {
		return nil, err
	}
	return decodeNode(page.GetData(), pagenum, index.order)
}

// writeNode encodes the node and writes it back to its page.
func (index *BTreeIndex) writeNode(n *node) error {
	page, err := index.pool.GetMut(index.file, n.pagenum)
	if err != nil {
		return err
	}
	data, err := encodeNode(n, index.order)
	if err != nil {
		return err
	}
	page.Update(data, 0, pager.Pagesize)
	return nil
}

// allocNode appends a fresh page to the index file and returns an empty
// node of the given type for it.
func (index *BTreeIndex) allocNode(typ NodeType) (*node, error) {
	page, err := index.pool.AppendPage(index.file)
	if err != nil {
		return nil, err
	}
	if typ == LeafNode {
		return newLeaf(page.GetPageNum()), nil
	}
	return newInternal(page.GetPageNum()), nil
}

// decodeNode parses a node page.
func decodeNode(data []byte, pagenum int64, order int) (*node, error) {
	numKeys := int(binary.LittleEndian.Uint16(data[nodeNumKeysOffset:]))
	if numKeys > order {
		return nil, fmt.Errorf("%w: node %d claims %d keys", ErrCorruptedIndex, pagenum, numKeys)
	}
	switch NodeType(data[nodeTypeOffset]) {
	case LeafNode:
		n := newLeaf(pagenum)
		n.nextLeaf = int64(binary.LittleEndian.Uint32(data[leafNextOffset:]))
		n.entries = make([]entry.Entry, numKeys)
		for i := 0; i < numKeys; i++ {
			offset := leafEntriesOffset + i*entry.Size
			n.entries[i] = entry.UnmarshalEntry(data[offset : offset+entry.Size])
		}
		return n, nil
	case InternalNode:
		n := newInternal(pagenum)
		n.keys = make([]int64, numKeys)
		for i := 0; i < numKeys; i++ {
			n.keys[i] = int64(binary.LittleEndian.Uint64(data[internalKeysOffset+i*8:]))
		}
		pnsOffset := internalChildrenOffset(order)
		n.children = make([]int64, numKeys+1)
		for i := 0; i <= numKeys; i++ {
			n.children[i] = int64(binary.LittleEndian.Uint32(data[pnsOffset+i*4:]))
		}
		return n, nil
	}
	return nil, fmt.Errorf("%w: node %d has unknown type", ErrCorruptedIndex, pagenum)
}

// encodeNode serializes a node into a fresh page-sized buffer.
func encodeNode(n *node, order int) ([]byte, error) {
	data := make([]byte, pager.Pagesize)
	data[nodeTypeOffset] = byte(n.typ)
	binary.LittleEndian.PutUint16(data[nodeNumKeysOffset:], uint16(n.numKeys()))
	if n.typ == LeafNode {
		if len(n.entries) > order-1 {
			return nil, fmt.Errorf("%w: leaf %d overflows", ErrCorruptedIndex, n.pagenum)
		}
		binary.LittleEndian.PutUint32(data[leafNextOffset:], uint32(n.nextLeaf))
		for i, e := range n.entries {
			copy(data[leafEntriesOffset+i*entry.Size:], e.Marshal())
		}
		return data, nil
	}
	if len(n.keys) > order-1 || len(n.children) != len(n.keys)+1 {
		return nil, fmt.Errorf("%w: internal %d overflows", ErrCorruptedIndex, n.pagenum)
	}
	for i, key := range n.keys {
		binary.LittleEndian.PutUint64(data[internalKeysOffset+i*8:], uint64(key))
	}
	pnsOffset := internalChildrenOffset(order)
	for i, child := range n.children {
		binary.LittleEndian.PutUint32(data[pnsOffset+i*4:], uint32(child))
	}
	return data, nil
}

// internalChildrenOffset returns the page offset of the child-pointer array,
// which sits after the maximal keys array for the order.
func internalChildrenOffset(order int) int {
	return internalKeysOffset + (order-1)*8
}

// fitsPage reports whether nodes of the given order fit in one page.
func fitsPage(order int) bool {
	leaf := leafEntriesOffset + (order-1)*entry.Size
	internal := internalChildrenOffset(order) + order*4
	return leaf <= int(pager.Pagesize) && internal <= int(pager.Pagesize)
}
