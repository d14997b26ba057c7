// Package record implements the MFT record and attribute engine (spec
// §4.4): per-record (mi_*) operations on a single MFT_ENTRY-sized
// buffer, and per-inode (ni_*) operations that compose a base record
// with its attribute-list subrecords.
//
// The on-disk byte layout mirrors parser.MFT_ENTRY / parser.NTFS_ATTRIBUTE
// exactly (see parser/handwritten.go and parser/profile.go's
// Off_MFT_ENTRY_* constants) so a record this package formats or edits
// reads back unchanged through the teacher's own read-only decoder.
package record

import (
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf16"

	"github.com/vex-labs/ntfs3core/ntfserr"
)

// Header field offsets, matching parser/profile.go's Off_MFT_ENTRY_*
// table.
const (
	offMagic          = 0x00
	offFixupOffset    = 0x04
	offFixupCount     = 0x06
	offLSN            = 0x08
	offSequenceValue  = 0x10
	offLinkCount      = 0x12
	offAttributeOff   = 0x14
	offFlags          = 0x16
	offUsedSize       = 0x18
	offAllocatedSize  = 0x1C
	offBaseRecordRef  = 0x20
	offNextAttrID     = 0x28
	offRecordNumber   = 0x2C

	headerSize = 0x30

	signature = "FILE"

	// attrEnd terminates an attribute run: 4 bytes of 0xFF followed by
	// a zero length field, the same marker parser.EnumerateAttributes
	// treats as end-of-list via its "attribute_size == 0" check.
	attrEnd = uint32(0xFFFFFFFF)
)

// Flags on an MFT record (parser.MFT_ENTRY.Flags()).
const (
	FlagInUse     = 1 << 0
	FlagDirectory = 1 << 1
)

// Attribute header field offsets, matching parser/handwritten.go's
// NTFS_ATTRIBUTE accessors.
const (
	attrOffType           = 0x00
	attrOffLength         = 0x04
	attrOffResident       = 0x08
	attrOffNameLength     = 0x09
	attrOffNameOffset     = 0x0A
	attrOffFlags          = 0x0C
	attrOffID             = 0x0E
	attrOffContentSize    = 0x10 // resident
	attrOffContentOffset  = 0x14 // resident
	attrOffIndexedFlag    = 0x16 // resident
	attrOffVCNStart       = 0x10 // non-resident
	attrOffVCNEnd         = 0x18 // non-resident
	attrOffRunlistOffset  = 0x20 // non-resident
	attrOffCompressionLen = 0x22 // non-resident
	attrOffAllocatedSize  = 0x28 // non-resident
	attrOffActualSize     = 0x30 // non-resident
	attrOffInitSize       = 0x38 // non-resident

	attrResidentHeaderSize    = 0x18
	attrNonResidentHeaderSize = 0x40
)

// Attr is a view over one attribute header inside a Record's buffer.
type Attr struct {
	rec    *Record
	Offset int // byte offset within rec.buf
}

func (self *Attr) Type() uint32 {
	return binary.LittleEndian.Uint32(self.rec.buf[self.Offset+attrOffType:])
}

func (self *Attr) setType(t uint32) {
	binary.LittleEndian.PutUint32(self.rec.buf[self.Offset+attrOffType:], t)
}

func (self *Attr) Length() uint32 {
	return binary.LittleEndian.Uint32(self.rec.buf[self.Offset+attrOffLength:])
}

func (self *Attr) setLength(l uint32) {
	binary.LittleEndian.PutUint32(self.rec.buf[self.Offset+attrOffLength:], l)
}

func (self *Attr) IsResident() bool {
	return self.rec.buf[self.Offset+attrOffResident] == 0
}

func (self *Attr) setResident(resident bool) {
	if resident {
		self.rec.buf[self.Offset+attrOffResident] = 0
	} else {
		self.rec.buf[self.Offset+attrOffResident] = 1
	}
}

func (self *Attr) NameLength() int {
	return int(self.rec.buf[self.Offset+attrOffNameLength])
}

func (self *Attr) NameOffset() int {
	return int(binary.LittleEndian.Uint16(self.rec.buf[self.Offset+attrOffNameOffset:]))
}

func (self *Attr) Name() string {
	n := self.NameLength()
	if n == 0 {
		return ""
	}
	start := self.Offset + self.NameOffset()
	return decodeUTF16(self.rec.buf[start : start+n*2])
}

func (self *Attr) ID() uint16 {
	return binary.LittleEndian.Uint16(self.rec.buf[self.Offset+attrOffID:])
}

func (self *Attr) setID(id uint16) {
	binary.LittleEndian.PutUint16(self.rec.buf[self.Offset+attrOffID:], id)
}

// ContentSize returns the resident data length, or the attribute's
// actual (logical) size for a non-resident one.
func (self *Attr) ContentSize() int64 {
	if self.IsResident() {
		return int64(binary.LittleEndian.Uint32(self.rec.buf[self.Offset+attrOffContentSize:]))
	}
	return int64(binary.LittleEndian.Uint64(self.rec.buf[self.Offset+attrOffActualSize:]))
}

func (self *Attr) ContentOffset() int {
	return int(binary.LittleEndian.Uint16(self.rec.buf[self.Offset+attrOffContentOffset:]))
}

// Content returns the resident payload bytes in place (mutable view).
func (self *Attr) Content() []byte {
	start := self.Offset + self.ContentOffset()
	size := int(binary.LittleEndian.Uint32(self.rec.buf[self.Offset+attrOffContentSize:]))
	return self.rec.buf[start : start+size]
}

func (self *Attr) RunlistOffset() int {
	return int(binary.LittleEndian.Uint16(self.rec.buf[self.Offset+attrOffRunlistOffset:]))
}

// RunlistBytes returns the raw runlist bytes in place (mutable view),
// spanning from the runlist offset to the end of the attribute.
func (self *Attr) RunlistBytes() []byte {
	start := self.Offset + self.RunlistOffset()
	end := self.Offset + int(self.Length())
	return self.rec.buf[start:end]
}

func (self *Attr) VCNStart() int64 {
	return int64(binary.LittleEndian.Uint64(self.rec.buf[self.Offset+attrOffVCNStart:]))
}

func (self *Attr) VCNEnd() int64 {
	return int64(binary.LittleEndian.Uint64(self.rec.buf[self.Offset+attrOffVCNEnd:]))
}

func (self *Attr) setVCNRange(svcn, evcn int64) {
	binary.LittleEndian.PutUint64(self.rec.buf[self.Offset+attrOffVCNStart:], uint64(svcn))
	binary.LittleEndian.PutUint64(self.rec.buf[self.Offset+attrOffVCNEnd:], uint64(evcn))
}

func (self *Attr) setSizes(allocated, actual, initialized uint64) {
	binary.LittleEndian.PutUint64(self.rec.buf[self.Offset+attrOffAllocatedSize:], allocated)
	binary.LittleEndian.PutUint64(self.rec.buf[self.Offset+attrOffActualSize:], actual)
	binary.LittleEndian.PutUint64(self.rec.buf[self.Offset+attrOffInitSize:], initialized)
}

// AllocatedSize, ActualSize and InitializedSize read back a
// non-resident attribute's three size fields (allocated_size,
// data_size, initialized_size in NTFS terms).
func (self *Attr) AllocatedSize() uint64 {
	return binary.LittleEndian.Uint64(self.rec.buf[self.Offset+attrOffAllocatedSize:])
}

func (self *Attr) ActualSize() uint64 {
	return binary.LittleEndian.Uint64(self.rec.buf[self.Offset+attrOffActualSize:])
}

func (self *Attr) InitializedSize() uint64 {
	return binary.LittleEndian.Uint64(self.rec.buf[self.Offset+attrOffInitSize:])
}

// SetSizes is the exported form of setSizes, used by callers (the
// inode facade) that need to update a non-resident attribute's sizes
// after extending or truncating its run list.
func (self *Attr) SetSizes(allocated, actual, initialized uint64) {
	self.setSizes(allocated, actual, initialized)
	self.rec.dirty = true
}

func decodeUTF16(b []byte) string {
	u16 := make([]uint16, len(b)/2)
	for i := range u16 {
		u16[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return string(utf16.Decode(u16))
}

// Record is one MFT_ENTRY-sized mutable buffer: either the base
// record of an inode or one of its $ATTRIBUTE_LIST subrecords.
type Record struct {
	buf      []byte
	rno      int64
	dirty    bool
	disk     io.WriterAt
	diskOff  int64
	fixupTag uint16 // monotonic fixup-sequence counter, bumped on every write
}

// Init allocates a blank, unformatted record image of size bytes.
func Init(rno int64, size int64) *Record {
	return &Record{buf: make([]byte, size), rno: rno}
}

// Size returns the record's on-disk size in bytes.
func (self *Record) Size() int64 {
	return int64(len(self.buf))
}

func (self *Record) RecordNumber() int64 {
	return self.rno
}

// FormatNew writes a blank, valid record: signature, fixup header,
// empty attribute list terminated by ATTR_END, and a fresh sequence
// number (wrapping 0 to 1, since 0 means "never allocated").
func (self *Record) FormatNew(rno int64, flags uint16, is_mft bool) {
	for i := range self.buf {
		self.buf[i] = 0
	}

	copy(self.buf[offMagic:], signature)

	prev_sequence := binary.LittleEndian.Uint16(self.buf[offSequenceValue:])
	next_sequence := prev_sequence + 1
	if next_sequence == 0 {
		next_sequence = 1
	}

	n_sectors := len(self.buf) / 512
	if n_sectors < 1 {
		n_sectors = 1
	}
	fixup_count := n_sectors + 1

	binary.LittleEndian.PutUint16(self.buf[offFixupOffset:], headerSize)
	binary.LittleEndian.PutUint16(self.buf[offFixupCount:], uint16(fixup_count))
	binary.LittleEndian.PutUint16(self.buf[offSequenceValue:], next_sequence)
	binary.LittleEndian.PutUint16(self.buf[offLinkCount:], 0)

	attr_offset := headerSize + 2*fixup_count
	attr_offset = align8(attr_offset)
	binary.LittleEndian.PutUint16(self.buf[offAttributeOff:], uint16(attr_offset))
	binary.LittleEndian.PutUint16(self.buf[offFlags:], flags|FlagInUse)
	binary.LittleEndian.PutUint32(self.buf[offAllocatedSize:], uint32(len(self.buf)))
	binary.LittleEndian.PutUint64(self.buf[offBaseRecordRef:], 0)
	binary.LittleEndian.PutUint16(self.buf[offNextAttrID:], 0)
	binary.LittleEndian.PutUint32(self.buf[offRecordNumber:], uint32(rno))

	self.writeAttrEnd(attr_offset)
	self.dirty = true
	_ = is_mft
}

func (self *Record) writeAttrEnd(offset int) {
	binary.LittleEndian.PutUint32(self.buf[offset:], attrEnd)
	binary.LittleEndian.PutUint32(self.buf[offset+4:], 0)
	binary.LittleEndian.PutUint32(self.buf[offUsedSize:], uint32(offset+8))
}

// Flags returns the MFT_ENTRY.Flags() value (in-use / directory bits).
func (self *Record) Flags() uint16 {
	return binary.LittleEndian.Uint16(self.buf[offFlags:])
}

func (self *Record) SetFlags(flags uint16) {
	binary.LittleEndian.PutUint16(self.buf[offFlags:], flags)
	self.dirty = true
}

func (self *Record) Sequence() uint16 {
	return binary.LittleEndian.Uint16(self.buf[offSequenceValue:])
}

func (self *Record) UsedSize() int {
	return int(binary.LittleEndian.Uint32(self.buf[offUsedSize:]))
}

func (self *Record) AttributeOffset() int {
	return int(binary.LittleEndian.Uint16(self.buf[offAttributeOff:]))
}

func (self *Record) BaseRecordReference() uint64 {
	return binary.LittleEndian.Uint64(self.buf[offBaseRecordRef:])
}

func (self *Record) SetBaseRecordReference(ref uint64) {
	binary.LittleEndian.PutUint64(self.buf[offBaseRecordRef:], ref)
	self.dirty = true
}

// Read validates and loads a record image read from disk: signature,
// fixup array, and that the in-record rno (if the profile version
// stores one) agrees with the expected one.
func (self *Record) Read(rno int64, buf []byte) error {
	if len(buf) < headerSize {
		return fmt.Errorf("record: buffer too short: %w", ntfserr.ErrBadFormat)
	}
	if string(buf[offMagic:offMagic+4]) != signature {
		return fmt.Errorf("record: bad signature: %w", ntfserr.ErrBadFormat)
	}

	fixup_offset := int(binary.LittleEndian.Uint16(buf[offFixupOffset:]))
	fixup_count := int(binary.LittleEndian.Uint16(buf[offFixupCount:]))
	if fixup_count > 0 {
		if fixup_offset+2*fixup_count > len(buf) {
			return fmt.Errorf("record: fixup table out of bounds: %w", ntfserr.ErrBadFormat)
		}
		magic := buf[fixup_offset : fixup_offset+2]
		for i := 0; i < fixup_count-1; i++ {
			sector_end := (i+1)*512 - 2
			if sector_end+2 > len(buf) {
				return fmt.Errorf("record: fixup sector out of bounds: %w", ntfserr.ErrBadFormat)
			}
			if buf[sector_end] != magic[0] || buf[sector_end+1] != magic[1] {
				return fmt.Errorf("record: fixup magic mismatch: %w", ntfserr.ErrBadFormat)
			}
			replacement := buf[fixup_offset+2+2*i : fixup_offset+4+2*i]
			buf[sector_end] = replacement[0]
			buf[sector_end+1] = replacement[1]
		}
	}

	on_disk_rno := binary.LittleEndian.Uint32(buf[offRecordNumber:])
	if on_disk_rno != 0 && int64(on_disk_rno) != rno {
		return fmt.Errorf("record: rno mismatch, expected %d got %d: %w",
			rno, on_disk_rno, ntfserr.ErrBadFormat)
	}

	self.buf = buf
	self.rno = rno
	return nil
}

// EnumAttr walks attribute headers starting after prev (nil to start
// at the first one). It stops at ATTR_END, a zero-length header, or a
// header that would span past mft_entry_size.
func (self *Record) EnumAttr(prev *Attr) (*Attr, error) {
	offset := self.AttributeOffset()
	if prev != nil {
		offset = prev.Offset + int(prev.Length())
	}

	if offset+8 > len(self.buf) {
		return nil, ntfserr.ErrNotFound
	}

	attr := &Attr{rec: self, Offset: offset}
	length := attr.Length()
	if attr.Type() == attrEnd || length == 0 {
		return nil, ntfserr.ErrNotFound
	}
	if int(length) < 8 || offset+int(length) > len(self.buf) {
		return nil, fmt.Errorf("record: corrupt attribute at %#x: %w", offset, ntfserr.ErrBadFormat)
	}
	return attr, nil
}

// FindAttr linearly searches for an attribute of type/name/id, id ==
// nil matches any id.
func (self *Record) FindAttr(attr_type uint32, name string, id *uint16) (*Attr, error) {
	var prev *Attr
	for {
		attr, err := self.EnumAttr(prev)
		if err != nil {
			return nil, err
		}
		if attr.Type() == attr_type && attr.Name() == name &&
			(id == nil || attr.ID() == *id) {
			return attr, nil
		}
		prev = attr
	}
}

func align8(v int) int {
	return (v + 7) &^ 7
}

// InsertAttr reserves asize (must be 8-aligned) bytes for a new
// attribute header in canonical order (by type, then name), zeroing
// the reserved region except type/size/name_len/name_off/id.
func (self *Record) InsertAttr(attr_type uint32, name string, name_len int, asize int, name_off int) (*Attr, error) {
	if asize%8 != 0 {
		return nil, fmt.Errorf("record: insert_attr: asize %d not 8-aligned", asize)
	}

	insert_at := self.AttributeOffset()
	var prev *Attr
	for {
		attr, err := self.EnumAttr(prev)
		if err != nil {
			break
		}
		if attr.Type() > attr_type ||
			(attr.Type() == attr_type && attr.Name() > name) {
			break
		}
		insert_at = attr.Offset + int(attr.Length())
		prev = attr
	}

	used := self.UsedSize()
	if used+asize > len(self.buf) {
		return nil, fmt.Errorf("record: insert_attr: %w", ntfserr.ErrNoRoom)
	}

	copy(self.buf[insert_at+asize:used+asize], self.buf[insert_at:used])
	for i := insert_at; i < insert_at+asize; i++ {
		self.buf[i] = 0
	}
	binary.LittleEndian.PutUint32(self.buf[offUsedSize:], uint32(used+asize))

	next_id := binary.LittleEndian.Uint16(self.buf[offNextAttrID:])
	binary.LittleEndian.PutUint16(self.buf[offNextAttrID:], next_id+1)

	attr := &Attr{rec: self, Offset: insert_at}
	attr.setType(attr_type)
	attr.setLength(uint32(asize))
	self.buf[insert_at+attrOffNameLength] = byte(name_len)
	binary.LittleEndian.PutUint16(self.buf[insert_at+attrOffNameOffset:], uint16(name_off))
	attr.setID(next_id)

	self.dirty = true
	return attr, nil
}

// RemoveAttr compacts attr.Length() bytes out of the record, shifting
// every later attribute down; the ATTR_END terminator moves with them.
func (self *Record) RemoveAttr(attr *Attr) error {
	used := self.UsedSize()
	length := int(attr.Length())
	end := attr.Offset + length
	if end > used {
		return fmt.Errorf("record: remove_attr: attribute exceeds used size")
	}

	copy(self.buf[attr.Offset:], self.buf[end:used])
	for i := used - length; i < used; i++ {
		self.buf[i] = 0
	}
	binary.LittleEndian.PutUint32(self.buf[offUsedSize:], uint32(used-length))
	self.dirty = true
	return nil
}

// ResizeAttr grows or shrinks attr in place by delta bytes (which
// must keep the attribute 8-byte aligned), shifting every later
// attribute and updating the used-size header.
func (self *Record) ResizeAttr(attr *Attr, delta int) error {
	if delta%8 != 0 {
		return fmt.Errorf("record: resize_attr: delta %d not 8-aligned", delta)
	}

	used := self.UsedSize()
	new_used := used + delta
	if new_used > len(self.buf) {
		return fmt.Errorf("record: resize_attr: %w", ntfserr.ErrNoRoom)
	}

	old_len := int(attr.Length())
	tail_start := attr.Offset + old_len
	new_tail_start := attr.Offset + old_len + delta

	if delta > 0 {
		copy(self.buf[new_tail_start:new_used], self.buf[tail_start:used])
		for i := tail_start; i < new_tail_start; i++ {
			if i < len(self.buf) {
				self.buf[i] = 0
			}
		}
	} else {
		copy(self.buf[new_tail_start:new_used], self.buf[tail_start:used])
		for i := new_used; i < used; i++ {
			self.buf[i] = 0
		}
	}

	attr.setLength(uint32(old_len + delta))
	binary.LittleEndian.PutUint32(self.buf[offUsedSize:], uint32(new_used))
	self.dirty = true
	return nil
}

// Dirty reports whether the record has unwritten changes.
func (self *Record) Dirty() bool {
	return self.dirty
}

// Write applies the fixup-array pre-write transform and writes the
// buffer through disk at diskOff, clearing dirty on success.
func (self *Record) Write(sync bool) error {
	if self.disk == nil {
		self.dirty = false
		return nil
	}

	out := make([]byte, len(self.buf))
	copy(out, self.buf)

	fixup_offset := int(binary.LittleEndian.Uint16(out[offFixupOffset:]))
	fixup_count := int(binary.LittleEndian.Uint16(out[offFixupCount:]))
	if fixup_count > 0 && fixup_offset+2*fixup_count <= len(out) {
		self.fixupTag++
		magic := make([]byte, 2)
		binary.LittleEndian.PutUint16(magic, self.fixupTag)
		copy(out[fixup_offset:fixup_offset+2], magic)

		for i := 0; i < fixup_count-1; i++ {
			sector_end := (i+1)*512 - 2
			if sector_end+2 > len(out) {
				break
			}
			slot := out[fixup_offset+2+2*i : fixup_offset+4+2*i]
			copy(slot, out[sector_end:sector_end+2])
			out[sector_end] = magic[0]
			out[sector_end+1] = magic[1]
		}
	}

	_, err := self.disk.WriteAt(out, self.diskOff)
	if err != nil {
		return fmt.Errorf("record: write: %w", err)
	}

	self.dirty = false
	return nil
}

// Bind attaches the disk writer and byte offset Write() uses.
func (self *Record) Bind(disk io.WriterAt, offset int64) {
	self.disk = disk
	self.diskOff = offset
}
