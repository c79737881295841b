package record

import (
	"encoding/binary"
	"fmt"

	"raptordb/pkg/pager"

	"github.com/bits-and-blooms/bitset"
)

// Table page layout: a 16-byte header, a slot-occupancy bitmap of
// ceil(slotCount/8) bytes, then slotCount fixed-size record slots.
const (
	pageHeaderSize = 16

	nextPageOffset   = 0 // u32, 0 = end of chain
	slotCountOffset  = 4 // u16
	freeSlotsOffset  = 6 // u16
	recordSizeOffset = 8 // u16
)

// slotsPerPage returns the largest slot count S satisfying
// 16 + ceil(S/8) + S*recordSize <= Pagesize.
func slotsPerPage(recordSize int) int {
	if recordSize <= 0 || recordSize > int(pager.Pagesize)-pageHeaderSize-1 {
		return 0
	}
	available := int(pager.Pagesize) - pageHeaderSize
	slots := available * 8 / (1 + recordSize*8)
	if slots > 0xFFFF {
		slots = 0xFFFF
	}
	return slots
}

// tablePage is an in-memory view over one pooled table page. All mutations
// write through to the page frame. A view must not be held across another
// pager fetch; callers re-derive views per page visit.
type tablePage struct {
	page       *pager.Page
	slotCount  int
	recordSize int
	occupied   *bitset.BitSet
}

// initTablePage formats a pooled page as an empty table page for records of
// the given size.
func initTablePage(page *pager.Page, recordSize int) *tablePage {
	slotCount := slotsPerPage(recordSize)
	data := make([]byte, pager.Pagesize)
	binary.LittleEndian.PutUint16(data[slotCountOffset:], uint16(slotCount))
	binary.LittleEndian.PutUint16(data[freeSlotsOffset:], uint16(slotCount))
	binary.LittleEndian.PutUint16(data[recordSizeOffset:], uint16(recordSize))
	page.Update(data, 0, pager.Pagesize)
	return &tablePage{
		page:       page,
		slotCount:  slotCount,
		recordSize: recordSize,
		occupied:   bitset.New(uint(slotCount)),
	}
}

// loadTablePage decodes the header and occupancy bitmap of a pooled page.
func loadTablePage(page *pager.Page) (*tablePage, error) {
	data := page.GetData()
	slotCount := int(binary.LittleEndian.Uint16(data[slotCountOffset:]))
	recordSize := int(binary.LittleEndian.Uint16(data[recordSizeOffset:]))
	if slotCount == 0 || recordSize == 0 || slotCount != slotsPerPage(recordSize) {
		return nil, fmt.Errorf("corrupt table page %d", page.GetPageNum())
	}
	occupied := bitset.New(uint(slotCount))
	bitmap := data[pageHeaderSize : pageHeaderSize+(slotCount+7)/8]
	for i := 0; i < slotCount; i++ {
		if bitmap[i/8]&(1<<(i%8)) != 0 {
			occupied.Set(uint(i))
		}
	}
	return &tablePage{
		page:       page,
		slotCount:  slotCount,
		recordSize: recordSize,
		occupied:   occupied,
	}, nil
}

// nextPage returns the pagenum of the next page in the chain, 0 at the end.
func (tp *tablePage) nextPage() int64 {
	return int64(binary.LittleEndian.Uint32(tp.page.GetData()[nextPageOffset:]))
}

// setNextPage links the page to its successor in the chain.
func (tp *tablePage) setNextPage(pagenum int64) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(pagenum))
	tp.page.Update(buf[:], nextPageOffset, 4)
}

// freeSlots returns the number of unoccupied slots.
func (tp *tablePage) freeSlots() int {
	return tp.slotCount - int(tp.occupied.Count())
}

// findFreeSlot returns the lowest unoccupied slot index.
func (tp *tablePage) findFreeSlot() (int, bool) {
	slot, ok := tp.occupied.NextClear(0)
	if !ok || slot >= uint(tp.slotCount) {
		return 0, false
	}
	return int(slot), true
}

// slotUsed reports whether the slot holds a live record.
func (tp *tablePage) slotUsed(slot int) bool {
	return slot >= 0 && slot < tp.slotCount && tp.occupied.Test(uint(slot))
}

// setSlotUsed flips the slot's occupancy bit, writing through to the page's
// bitmap and free-slot count.
func (tp *tablePage) setSlotUsed(slot int, used bool) {
	if tp.slotUsed(slot) == used {
		return
	}
	tp.occupied.SetTo(uint(slot), used)
	data := tp.page.GetData()
	bitmapByte := data[pageHeaderSize+slot/8]
	if used {
		bitmapByte |= 1 << (slot % 8)
	} else {
		bitmapByte &^= 1 << (slot % 8)
	}
	tp.page.Update([]byte{bitmapByte}, int64(pageHeaderSize+slot/8), 1)
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], uint16(tp.freeSlots()))
	tp.page.Update(buf[:], freeSlotsOffset, 2)
}

// slotOffset returns the page offset of the slot's record bytes.
func (tp *tablePage) slotOffset(slot int) int64 {
	bitmapSize := (tp.slotCount + 7) / 8
	return int64(pageHeaderSize + bitmapSize + slot*tp.recordSize)
}

// recordBytes returns a copy of the record bytes stored in the slot.
func (tp *tablePage) recordBytes(slot int) []byte {
	offset := tp.slotOffset(slot)
	data := make([]byte, tp.recordSize)
	copy(data, tp.page.GetData()[offset:offset+int64(tp.recordSize)])
	return data
}

// setRecordBytes overwrites the slot's record bytes.
func (tp *tablePage) setRecordBytes(slot int, data []byte) {
	tp.page.Update(data, tp.slotOffset(slot), int64(tp.recordSize))
}
