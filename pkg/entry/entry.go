// Package entry defines record identifiers and the key/rid pairs stored in
// B+ tree leaves.
package entry

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Size is the marshalled size of an Entry: an int64 key plus a RID.
const Size = 16

// RID identifies a record by the page it lives in and its slot within that
// page. RIDs are stable for the lifetime of the record.
type RID struct {
	PageNum int64
	SlotID  int64
}

// NewRID constructs a RID from a page number and slot index.
func NewRID(pagenum int64, slot int64) RID {
	return RID{PageNum: pagenum, SlotID: slot}
}

// Compare orders RIDs lexicographically by (page, slot).
func (rid RID) Compare(other RID) int {
	switch {
	case rid.PageNum < other.PageNum:
		return -1
	case rid.PageNum > other.PageNum:
		return 1
	case rid.SlotID < other.SlotID:
		return -1
	case rid.SlotID > other.SlotID:
		return 1
	}
	return 0
}

// String formats the RID as (page, slot).
func (rid RID) String() string {
	return fmt.Sprintf("(%d, %d)", rid.PageNum, rid.SlotID)
}

// Entry is a key-rid pair representing one B+ tree leaf entry.
type Entry struct {
	Key int64
	RID RID
}

// New constructs and returns a new Entry with the specified key and rid.
func New(key int64, rid RID) Entry {
	return Entry{Key: key, RID: rid}
}

// Marshal serializes the entry into a fixed Size-byte array:
// little-endian key, then the rid's page and slot as uint32.
func (entry Entry) Marshal() []byte {
	data := make([]byte, Size)
	binary.LittleEndian.PutUint64(data[0:8], uint64(entry.Key))
	binary.LittleEndian.PutUint32(data[8:12], uint32(entry.RID.PageNum))
	binary.LittleEndian.PutUint32(data[12:16], uint32(entry.RID.SlotID))
	return data
}

// UnmarshalEntry deserializes a Size-byte array into an entry.
func UnmarshalEntry(data []byte) Entry {
	key := int64(binary.LittleEndian.Uint64(data[0:8]))
	page := int64(binary.LittleEndian.Uint32(data[8:12]))
	slot := int64(binary.LittleEndian.Uint32(data[12:16]))
	return Entry{Key: key, RID: NewRID(page, slot)}
}

// Print writes the entry to the specified writer in the format (<key>, <rid>).
func (entry Entry) Print(w io.Writer) {
	fmt.Fprintf(w, "(%d, %v), ", entry.Key, entry.RID)
}
