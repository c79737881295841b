// Package btree implements a persistent B+ tree index over int64 keys,
// one node per page, with linked leaves for ordered iteration.
package btree

import (
	"errors"

	"raptordb/pkg/config"
)

// Magic marks index files ("BTRE" in ASCII); Version is the file format
// version. Either mismatching on open is fatal.
const (
	Magic   uint32 = 0x42545245
	Version uint32 = 1
)

// Page 0 of an index file is the metadata page; the root node always
// occupies page 1, so reopening a database never has to search for it.
const (
	MetaPN int64 = 0
	RootPN int64 = 1
)

// DefaultOrder is the default tree order (maximum children of an internal
// node). A leaf holds up to DefaultOrder-1 entries.
const DefaultOrder = config.TreeOrder

// MaxOrder is the largest order whose leaf and internal nodes still fit in
// one page.
const MaxOrder = 512

// NoLeaf marks the end of the leaf chain.
const NoLeaf int64 = 0

// Metadata page layout (little-endian).
const (
	metaMagicOffset     = 0  // u32
	metaVersionOffset   = 4  // u32
	metaOrderOffset     = 8  // u32
	metaRootOffset      = 12 // u32
	metaFirstLeafOffset = 16 // u32
	metaCountOffset     = 20 // u64
)

// Node page layout (little-endian). Internal nodes store their keys array
// directly after the header and the child page ids after the full keys
// array; leaves store nextLeaf then packed 16-byte entries.
const (
	nodeTypeOffset    = 0 // u8: 0 = internal, 1 = leaf
	nodeNumKeysOffset = 2 // u16
	nodeHeaderSize    = 4

	leafNextOffset    = nodeHeaderSize // u32
	leafEntriesOffset = nodeHeaderSize + 4

	internalKeysOffset = nodeHeaderSize
)

// Errors surfaced by the index.
var (
	ErrDuplicateKey   = errors.New("duplicate key")
	ErrBadMagic       = errors.New("not an index file")
	ErrBadVersion     = errors.New("unsupported index file version")
	ErrOrderTooLarge  = errors.New("tree order does not fit a page")
	ErrCorruptedIndex = errors.New("corrupted index")
)
