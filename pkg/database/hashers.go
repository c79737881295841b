package database

import (
	"encoding/binary"
	"math"

	"raptordb/pkg/record"

	"github.com/cespare/xxhash"
	"github.com/spaolacci/murmur3"
)

// tupleBytes serializes a tuple of values into a deterministic byte string
// for hashing. Each value contributes a kind tag and its fixed-width
// content, so distinct tuples produce distinct byte strings.
func tupleBytes(values []record.Value) []byte {
	buf := make([]byte, 0, len(values)*9)
	for _, v := range values {
		switch {
		case v.IsNull():
			buf = append(buf, 0)
		case v.Kind() == record.TypeInt:
			buf = append(buf, 1)
			buf = binary.LittleEndian.AppendUint32(buf, uint32(v.Int()))
		case v.Kind() == record.TypeFloat:
			buf = append(buf, 2)
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v.Float()))
		default:
			buf = append(buf, 3)
			buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v.Str())))
			buf = append(buf, v.Str()...)
		}
	}
	return buf
}

// XxHasher returns the xxHash hash of the given tuple.
func XxHasher(values []record.Value) uint64 {
	return xxhash.Sum64(tupleBytes(values))
}

// MurmurHasher returns the MurmurHash3 hash of the given tuple.
func MurmurHasher(values []record.Value) uint64 {
	return murmur3.Sum64(tupleBytes(values))
}

// tupleSet is the transient hash set used to enforce uniqueness and
// existence of key tuples during a statement. Members are identified by
// their xxHash keyed to a MurmurHash3 verifier, so the set never retains
// the tuples themselves.
type tupleSet struct {
	buckets map[uint64]map[uint64]struct{}
}

// newTupleSet returns an empty set.
func newTupleSet() *tupleSet {
	return &tupleSet{buckets: make(map[uint64]map[uint64]struct{})}
}

// Add inserts the tuple, reporting whether it was already present.
func (set *tupleSet) Add(values []record.Value) bool {
	primary, verifier := XxHasher(values), MurmurHasher(values)
	bucket, ok := set.buckets[primary]
	if !ok {
		bucket = make(map[uint64]struct{})
		set.buckets[primary] = bucket
	}
	if _, present := bucket[verifier]; present {
		return true
	}
	bucket[verifier] = struct{}{}
	return false
}

// Contains reports whether the tuple is in the set.
func (set *tupleSet) Contains(values []record.Value) bool {
	bucket, ok := set.buckets[XxHasher(values)]
	if !ok {
		return false
	}
	_, present := bucket[MurmurHasher(values)]
	return present
}
