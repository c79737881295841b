package btree

import (
	"fmt"

	"raptordb/pkg/entry"
)

// Verify walks the whole tree and checks its structural invariants:
// every leaf at the same depth, keys non-decreasing within each node,
// separators equal to the minimum of their right subtree, occupancy floors
// on non-root nodes, and the leaf chain matching in-order traversal.
func (index *BTreeIndex) Verify() error {
	var leaves []int64
	var count int64
	depth := -1
	if err := index.verifyNode(index.rootPN, 0, true, &depth, &leaves, &count); err != nil {
		return err
	}
	if count != index.entryCount {
		return fmt.Errorf("entry count %d does not match metadata %d", count, index.entryCount)
	}
	// The leaf chain must visit exactly the in-order leaves.
	pagenum := index.firstLeafPN
	for i, leaf := range leaves {
		if pagenum != leaf {
			return fmt.Errorf("leaf chain visits %d where traversal expects %d", pagenum, leaf)
		}
		n, err := index.readNode(pagenum)
		if err != nil {
			return err
		}
		if i == len(leaves)-1 {
			if n.nextLeaf != NoLeaf {
				return fmt.Errorf("last leaf %d has a right sibling", pagenum)
			}
		} else {
			pagenum = n.nextLeaf
		}
	}
	return nil
}

// verifyNode checks one subtree, accumulating leaf pages and entry count.
func (index *BTreeIndex) verifyNode(pagenum int64, level int, isRoot bool,
	depth *int, leaves *[]int64, count *int64) error {
	n, err := index.readNode(pagenum)
	if err != nil {
		return err
	}
	if n.typ == LeafNode {
		if *depth == -1 {
			*depth = level
		} else if *depth != level {
			return fmt.Errorf("leaf %d at depth %d, expected %d", pagenum, level, *depth)
		}
		if !isRoot && len(n.entries) < index.minLeafEntries() {
			return fmt.Errorf("leaf %d below occupancy floor: %d entries", pagenum, len(n.entries))
		}
		for i := 1; i < len(n.entries); i++ {
			prev, cur := n.entries[i-1], n.entries[i]
			if prev.Key > cur.Key || (prev.Key == cur.Key && prev.RID.Compare(cur.RID) > 0) {
				return fmt.Errorf("leaf %d entries out of order at %d", pagenum, i)
			}
		}
		*leaves = append(*leaves, pagenum)
		*count += int64(len(n.entries))
		return nil
	}

	if !isRoot && len(n.keys) < index.minInternalKeys() {
		return fmt.Errorf("internal %d below occupancy floor: %d keys", pagenum, len(n.keys))
	}
	for i := 1; i < len(n.keys); i++ {
		if n.keys[i-1] > n.keys[i] {
			return fmt.Errorf("internal %d keys out of order at %d", pagenum, i)
		}
	}
	for i, key := range n.keys {
		min, ok, err := index.subtreeMin(n.children[i+1])
		if err != nil {
			return err
		}
		if !ok || min != key {
			return fmt.Errorf("internal %d separator %d is %d, child minimum is %d",
				pagenum, i, key, min)
		}
	}
	for _, child := range n.children {
		if err := index.verifyNode(child, level+1, false, depth, leaves, count); err != nil {
			return err
		}
	}
	return nil
}

// subtreeMin returns the smallest key reachable through the subtree.
func (index *BTreeIndex) subtreeMin(pagenum int64) (int64, bool, error) {
	for {
		n, err := index.readNode(pagenum)
		if err != nil {
			return 0, false, err
		}
		if n.typ == LeafNode {
			if len(n.entries) == 0 {
				return 0, false, nil
			}
			return n.entries[0].Key, true, nil
		}
		pagenum = n.children[0]
	}
}

// Entries returns the multiset of (key, rid) pairs currently in the tree.
// Mostly useful for consistency checks against a table scan.
func (index *BTreeIndex) Entries() ([]entry.Entry, error) {
	return index.Select()
}
