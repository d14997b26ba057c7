package record

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"sync"
	"unicode/utf16"

	"github.com/Velocidex/ordereddict"

	"github.com/vex-labs/ntfs3core/ntfserr"
	"github.com/vex-labs/ntfs3core/runs"
)

// Well-known attribute type codes (parser/handwritten.go's Type() switch).
const (
	TypeStandardInformation = 0x10
	TypeAttributeList       = 0x20
	TypeFileName            = 0x30
	TypeObjectID            = 0x40
	TypeSecurityDescriptor  = 0x50
	TypeData                = 0x80
	TypeIndexRoot           = 0x90
	TypeIndexAllocation     = 0xA0
	TypeBitmap              = 0xB0
	TypeReparsePoint        = 0xC0
	TypeEAInformation       = 0xD0
	TypeEA                  = 0xE0
)

// listEntryHeaderSize is the fixed, unnamed-attribute $ATTRIBUTE_LIST entry
// size (header through mft_reference/attribute_id, no name), matching
// parser.ATTRIBUTE_LIST_ENTRY's 0x1A-byte header.
const listEntryHeaderSize = 0x1A

// RecordAllocator is implemented by the mount-level code that owns the
// MFT bitmap; package record only needs to ask for a fresh subrecord
// and to give one back, not to know how the allocator works.
type RecordAllocator interface {
	AllocMFTRecord() (rno int64, rec *Record, err error)
	FreeMFTRecord(rno int64)
}

// listEntry is a decoded, editable $ATTRIBUTE_LIST entry.
type listEntry struct {
	attrType uint32
	name     string
	vcn      int64
	rno      int64
	attrID   uint16
}

// Inode is the ni_* facade over one base record plus, once an
// $ATTRIBUTE_LIST exists, its subrecords (spec §4.4's per-inode
// operations; the locking and runs-cache pieces of the fuller facade
// live in package inode).
//
// subrecords is kept in an ordered map (spec §3) - an
// *ordereddict.Dict keyed by the decimal record number - rather than a
// plain Go map, so EnumAttrEx/WriteInode/DeleteAll all walk subrecords
// in the order they were added (attribute-list order, which tracks
// allocation order) instead of Go's randomized map order.

// NI flags mirror the in-memory ni_flags bits original_source/fs/ntfs3/
// ntfs_fs.h keeps on struct ntfs_inode. Unlike Record.Flags() (the
// on-disk MFT_ENTRY FILE_RECORD_SEGMENT_HEADER.Flags), these never
// touch disk: they're hints the layer above (xattr, the inode facade)
// uses to decide whether work is needed, not NTFS structure.
const (
	// NIFlagEA mirrors EA presence: set whenever the inode carries a
	// non-empty $EA/$EA_INFORMATION pair, cleared when the last entry
	// is removed. xattr.c sets/clears the matching bit in ntfs_set_ea.
	NIFlagEA = 0x00002000
	// NIFlagUpdateParent marks that this inode's directory entry dup
	// info (size, EA size_pack, ...) is stale and the parent's $I30
	// entry needs refreshing. xattr.c sets it whenever ntfs_set_ea
	// changes $EA_INFORMATION.size_pack.
	NIFlagUpdateParent = 0x00000004
)

type Inode struct {
	mu         sync.Mutex
	base       *Record
	subrecords *ordereddict.Dict
	records    RecordAllocator
	niFlags    uint32
}

func NewInode(base *Record, allocator RecordAllocator) *Inode {
	return &Inode{
		base:       base,
		subrecords: ordereddict.NewDict(),
		records:    allocator,
	}
}

// NIFlags returns the current ni_flags bits (NIFlagEA, NIFlagUpdateParent).
func (self *Inode) NIFlags() uint32 {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.niFlags
}

// SetNIFlag sets or clears the bits in mask according to on.
func (self *Inode) SetNIFlag(mask uint32, on bool) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if on {
		self.niFlags |= mask
	} else {
		self.niFlags &^= mask
	}
}

func subrecordKey(rno int64) string {
	return strconv.FormatInt(rno, 10)
}

func subrecordRno(key string) int64 {
	rno, _ := strconv.ParseInt(key, 10, 64)
	return rno
}

// AddSubrecord registers an already-loaded subrecord (e.g. while
// reading an existing inode off disk).
func (self *Inode) AddSubrecord(rno int64, rec *Record) {
	self.subrecords.Set(subrecordKey(rno), rec)
}

// getSubrecord looks up a subrecord by record number.
func (self *Inode) getSubrecord(rno int64) (*Record, bool) {
	v, ok := self.subrecords.Get(subrecordKey(rno))
	if !ok {
		return nil, false
	}
	return v.(*Record), true
}

// forEachSubrecord visits every subrecord in insertion order.
func (self *Inode) forEachSubrecord(fn func(rno int64, rec *Record)) {
	self.forEachSubrecordUntil(func(rno int64, rec *Record) bool {
		fn(rno, rec)
		return false
	})
}

// forEachSubrecordUntil visits subrecords in insertion order, stopping
// as soon as fn returns true.
func (self *Inode) forEachSubrecordUntil(fn func(rno int64, rec *Record) bool) {
	for _, key := range self.subrecords.Keys() {
		v, ok := self.subrecords.Get(key)
		if !ok {
			continue
		}
		if fn(subrecordRno(key), v.(*Record)) {
			return
		}
	}
}

func (self *Inode) attributeListAttr() *Attr {
	attr, err := self.base.FindAttr(TypeAttributeList, "", nil)
	if err != nil {
		return nil
	}
	return attr
}

// listEntries decodes the resident $ATTRIBUTE_LIST's entries. Only a
// resident attribute list is supported - an inode only grows a
// non-resident one once it has so many attribute-list entries that
// they no longer fit in one record's resident space; such a list is
// reported as ErrNotSupported.
func (self *Inode) listEntries() ([]listEntry, error) {
	attr := self.attributeListAttr()
	if attr == nil {
		return nil, nil
	}
	if !attr.IsResident() {
		return nil, fmt.Errorf("record: non-resident $ATTRIBUTE_LIST: %w", ntfserr.ErrNotSupported)
	}

	content := attr.Content()
	result := []listEntry{}
	offset := 0
	for offset+listEntryHeaderSize <= len(content) {
		length := int(binary.LittleEndian.Uint16(content[offset+0x04:]))
		if length < listEntryHeaderSize {
			break
		}
		name_len := int(content[offset+0x06])
		entry := listEntry{
			attrType: binary.LittleEndian.Uint32(content[offset:]),
			vcn:      int64(binary.LittleEndian.Uint64(content[offset+0x08:])),
			rno:      int64(binary.LittleEndian.Uint64(content[offset+0x10:]) & 0xFFFFFFFFFFFF),
			attrID:   binary.LittleEndian.Uint16(content[offset+0x18:]),
		}
		if name_len > 0 {
			name_bytes := content[offset+0x1A : offset+0x1A+name_len*2]
			u16 := make([]uint16, name_len)
			for i := range u16 {
				u16[i] = binary.LittleEndian.Uint16(name_bytes[i*2:])
			}
			entry.name = string(utf16.Decode(u16))
		}
		result = append(result, entry)
		offset += length
	}
	return result, nil
}

func (self *Inode) recordFor(rno int64) (*Record, error) {
	if rno == self.base.RecordNumber() {
		return self.base, nil
	}
	rec, ok := self.getSubrecord(rno)
	if !ok {
		return nil, fmt.Errorf("record: subrecord %d not loaded: %w", rno, ntfserr.ErrNotFound)
	}
	return rec, nil
}

// FindAttr resolves an attribute by type/name, narrowing to the
// fragment covering vcn when the inode has an attribute list and more
// than one fragment of that type/name exists; pass vcn < 0 to ignore
// VCN narrowing (non-$DATA attributes, or a resident one).
func (self *Inode) FindAttr(attr_type uint32, name string, vcn int64) (*Attr, *Record, error) {
	self.mu.Lock()
	defer self.mu.Unlock()

	entries, err := self.listEntries()
	if err != nil {
		return nil, nil, err
	}
	if entries == nil {
		attr, err := self.base.FindAttr(attr_type, name, nil)
		if err != nil {
			return nil, nil, err
		}
		return attr, self.base, nil
	}

	var best *listEntry
	for i := range entries {
		e := &entries[i]
		if e.attrType != attr_type || e.name != name {
			continue
		}
		if vcn >= 0 && e.vcn > vcn {
			continue
		}
		if best == nil || e.vcn > best.vcn {
			best = e
		}
	}
	if best == nil {
		return nil, nil, ntfserr.ErrNotFound
	}

	rec, err := self.recordFor(best.rno)
	if err != nil {
		return nil, nil, err
	}
	id := best.attrID
	attr, err := rec.FindAttr(attr_type, name, &id)
	if err != nil {
		return nil, nil, err
	}
	return attr, rec, nil
}

// EnumAttrEx enumerates every attribute across every fragment,
// record by record: all of the base record's attributes in order,
// followed by each subrecord's, in the order the subrecords were added.
func (self *Inode) EnumAttrEx() []struct {
	Attr *Attr
	Rec  *Record
} {
	self.mu.Lock()
	defer self.mu.Unlock()

	result := []struct {
		Attr *Attr
		Rec  *Record
	}{}

	var prev *Attr
	for {
		attr, err := self.base.EnumAttr(prev)
		if err != nil {
			break
		}
		result = append(result, struct {
			Attr *Attr
			Rec  *Record
		}{attr, self.base})
		prev = attr
	}

	self.forEachSubrecord(func(rno int64, rec *Record) {
		prev = nil
		for {
			attr, err := rec.EnumAttr(prev)
			if err != nil {
				break
			}
			result = append(result, struct {
				Attr *Attr
				Rec  *Record
			}{attr, rec})
			prev = attr
		}
	})
	return result
}

// InsertResident attempts to place a new resident attribute in the
// base record; if there's no room and the inode has no attribute
// list, it falls through to create_attr_list + expand_list to open a
// fresh subrecord for it.
func (self *Inode) InsertResident(attr_type uint32, name string, data []byte) (*Attr, *Record, error) {
	self.mu.Lock()
	defer self.mu.Unlock()

	attr, rec, err := self.tryInsertResident(self.base, attr_type, name, data)
	if err == nil {
		return attr, rec, nil
	}

	var found_attr *Attr
	var found_rec *Record
	self.forEachSubrecordUntil(func(rno int64, sub *Record) bool {
		a, r, err := self.tryInsertResident(sub, attr_type, name, data)
		if err != nil {
			return false
		}
		found_attr, found_rec = a, r
		return true
	})
	if found_attr != nil {
		return found_attr, found_rec, nil
	}

	if self.attributeListAttr() == nil {
		if err := self.createAttrListLocked(); err != nil {
			return nil, nil, err
		}
	}

	rno, new_rec, err := self.expandListLocked()
	if err != nil {
		return nil, nil, err
	}

	attr, _, err = self.tryInsertResident(new_rec, attr_type, name, data)
	if err != nil {
		return nil, nil, err
	}
	self.appendListEntry(attr_type, name, 0, rno, attr.ID())
	return attr, new_rec, nil
}

func (self *Inode) tryInsertResident(rec *Record, attr_type uint32, name string, data []byte) (*Attr, *Record, error) {
	name_off := attrResidentHeaderSize
	asize := align8(name_off + len(name)*2 + align8(len(data)))
	attr, err := rec.InsertAttr(attr_type, name, len(name), asize, name_off)
	if err != nil {
		return nil, nil, err
	}
	rec.InitResident(attr, false)
	if err := rec.SetResidentContent(attr, data); err != nil {
		return nil, nil, err
	}
	return attr, rec, nil
}

// InsertNonResident places a new non-resident attribute, packing as
// many runs as fit in one record; if tree covers more VCNs than the
// base (or target subrecord) can hold, it creates successive
// subrecord fragments with strictly increasing svcn.
func (self *Inode) InsertNonResident(attr_type uint32, name string, tree *runs.Tree, svcn, count int64, cluster_size int64) ([]*Attr, error) {
	self.mu.Lock()
	defer self.mu.Unlock()

	target := self.base
	if self.attributeListAttr() != nil {
		var err error
		_, target, err = self.pickFragmentTarget()
		if err != nil {
			target = self.base
		}
	}

	result := []*Attr{}
	remaining := count
	cur_svcn := svcn

	for remaining > 0 {
		name_off := attrNonResidentHeaderSize
		asize := align8(name_off + len(name)*2 + 8)
		attr, err := target.InsertAttr(attr_type, name, len(name), asize, name_off)
		if err != nil {
			if self.attributeListAttr() == nil {
				if cerr := self.createAttrListLocked(); cerr != nil {
					return result, cerr
				}
			}
			new_rno, new_rec, aerr := self.expandListLocked()
			if aerr != nil {
				return result, aerr
			}
			target = new_rec
			attr, err = target.InsertAttr(attr_type, name, len(name), asize, name_off)
			if err != nil {
				return result, err
			}
			_ = new_rno
		}

		target.InitNonResident(attr, cur_svcn, cur_svcn, cluster_size)
		packed, err := target.PackRuns(attr, tree, cur_svcn, remaining)
		if err != nil {
			return result, err
		}
		self.appendListEntry(attr_type, name, cur_svcn, target.RecordNumber(), attr.ID())
		result = append(result, attr)

		remaining -= packed
		cur_svcn += packed
		if packed == 0 {
			return result, fmt.Errorf("record: insert_nonresident: made no progress: %w", ntfserr.ErrNoRoom)
		}
	}
	return result, nil
}

func (self *Inode) pickFragmentTarget() (int64, *Record, error) {
	var found_rno int64
	var found_rec *Record
	self.forEachSubrecordUntil(func(rno int64, rec *Record) bool {
		if rec.UsedSize() >= len(rec.buf)-64 {
			return false
		}
		found_rno, found_rec = rno, rec
		return true
	})
	if found_rec == nil {
		return 0, nil, ntfserr.ErrNotFound
	}
	return found_rno, found_rec, nil
}

// createAttrListLocked moves every attribute except
// $STANDARD_INFORMATION and $ATTRIBUTE_LIST itself out of the base
// record into a fresh subrecord, then installs a resident
// $ATTRIBUTE_LIST in the base pointing at it (and at whatever stayed
// behind).
func (self *Inode) createAttrListLocked() error {
	rno, new_rec, err := self.allocSubrecordLocked()
	if err != nil {
		return err
	}

	moved := []*Attr{}
	kept := []*Attr{}
	var prev *Attr
	for {
		attr, err := self.base.EnumAttr(prev)
		if err != nil {
			break
		}
		if attr.Type() == TypeStandardInformation || attr.Type() == TypeAttributeList {
			kept = append(kept, attr)
			prev = attr
			continue
		}
		moved = append(moved, attr)
		prev = attr
	}

	entries := []listEntry{}
	// Every attribute - including the ones that stay in the base
	// record - gets a list entry once an $ATTRIBUTE_LIST exists (spec
	// §4.4: "otherwise walk the attribute-list entries").
	for _, attr := range kept {
		if attr.Type() == TypeAttributeList {
			continue
		}
		entries = append(entries, listEntry{
			attrType: attr.Type(),
			name:     attr.Name(),
			rno:      self.base.RecordNumber(),
			attrID:   attr.ID(),
		})
	}
	for _, attr := range moved {
		raw := make([]byte, attr.Length())
		copy(raw, self.base.buf[attr.Offset:attr.Offset+int(attr.Length())])

		new_attr, err := new_rec.InsertAttr(attr.Type(), attr.Name(), attr.NameLength(), int(attr.Length()), attr.NameOffset())
		if err != nil {
			return fmt.Errorf("record: create_attr_list: moving attribute: %w", err)
		}
		assigned_id := new_attr.ID()

		copy(new_rec.buf[new_attr.Offset:new_attr.Offset+int(attr.Length())], raw)
		new_attr.setLength(uint32(len(raw)))
		new_attr.setID(assigned_id)

		entries = append(entries, listEntry{
			attrType: attr.Type(),
			name:     attr.Name(),
			rno:      rno,
			attrID:   assigned_id,
		})
	}
	for i := len(moved) - 1; i >= 0; i-- {
		if err := self.base.RemoveAttr(moved[i]); err != nil {
			return err
		}
	}

	list_attr, err := self.base.InsertAttr(TypeAttributeList, "", 0, align8(attrResidentHeaderSize+listEntryHeaderSize), attrResidentHeaderSize)
	if err != nil {
		return fmt.Errorf("record: create_attr_list: %w", err)
	}
	self.base.InitResident(list_attr, false)

	self.AddSubrecord(rno, new_rec)
	new_rec.SetBaseRecordReference(mftRef(self.base.RecordNumber(), self.base.Sequence()))

	for _, e := range entries {
		self.appendListEntry(e.attrType, e.name, e.vcn, e.rno, e.attrID)
	}
	return nil
}

// expandListLocked allocates a new subrecord and links it to the base
// via its MFT_REF.
func (self *Inode) expandListLocked() (int64, *Record, error) {
	return self.allocSubrecordLocked()
}

func (self *Inode) allocSubrecordLocked() (int64, *Record, error) {
	if self.records == nil {
		return 0, nil, fmt.Errorf("record: no record allocator configured: %w", ntfserr.ErrNotSupported)
	}
	rno, rec, err := self.records.AllocMFTRecord()
	if err != nil {
		return 0, nil, err
	}
	rec.FormatNew(rno, FlagInUse, false)
	rec.SetBaseRecordReference(mftRef(self.base.RecordNumber(), self.base.Sequence()))
	self.AddSubrecord(rno, rec)
	return rno, rec, nil
}

func mftRef(rno int64, sequence uint16) uint64 {
	return uint64(rno)&0xFFFFFFFFFFFF | uint64(sequence)<<48
}

// appendListEntry grows the (resident) $ATTRIBUTE_LIST attribute by
// one entry.
func (self *Inode) appendListEntry(attr_type uint32, name string, vcn int64, rno int64, attr_id uint16) error {
	attr := self.attributeListAttr()
	if attr == nil {
		return fmt.Errorf("record: no $ATTRIBUTE_LIST to append to")
	}

	entry_len := align8(listEntryHeaderSize + len(name)*2)
	old_content := attr.Content()
	new_content := make([]byte, len(old_content)+entry_len)
	copy(new_content, old_content)

	entry := new_content[len(old_content):]
	binary.LittleEndian.PutUint32(entry, attr_type)
	binary.LittleEndian.PutUint16(entry[0x04:], uint16(entry_len))
	entry[0x06] = byte(len(name))
	binary.LittleEndian.PutUint64(entry[0x08:], uint64(vcn))
	binary.LittleEndian.PutUint64(entry[0x10:], uint64(rno)&0xFFFFFFFFFFFF)
	binary.LittleEndian.PutUint16(entry[0x18:], attr_id)
	if len(name) > 0 {
		u16 := utf16.Encode([]rune(name))
		for i, v := range u16 {
			binary.LittleEndian.PutUint16(entry[0x1A+i*2:], v)
		}
	}

	return self.base.SetResidentContent(attr, new_content)
}

// RemoveAttr walks the attribute list (if any), removes the matching
// attribute and its list entry, and frees the subrecord if it becomes
// empty of everything but its header.
func (self *Inode) RemoveAttr(attr_type uint32, name string) error {
	self.mu.Lock()
	defer self.mu.Unlock()

	attr, rec, err := self.findAttrLocked(attr_type, name)
	if err != nil {
		return err
	}
	if err := rec.RemoveAttr(attr); err != nil {
		return err
	}

	list_attr := self.attributeListAttr()
	if list_attr != nil {
		entries, err := self.listEntries()
		if err == nil {
			kept := make([]byte, 0, len(list_attr.Content()))
			offset := 0
			content := list_attr.Content()
			for _, e := range entries {
				length := int(binary.LittleEndian.Uint16(content[offset+0x04:]))
				if e.attrType != attr_type || e.name != name {
					kept = append(kept, content[offset:offset+length]...)
				}
				offset += length
			}
			if err := self.base.SetResidentContent(list_attr, kept); err != nil {
				return err
			}
		}
	}

	if rec != self.base && rec.UsedSize() <= rec.AttributeOffset()+8 {
		self.records.FreeMFTRecord(rec.RecordNumber())
		self.subrecords.Delete(subrecordKey(rec.RecordNumber()))
	}
	return nil
}

func (self *Inode) findAttrLocked(attr_type uint32, name string) (*Attr, *Record, error) {
	entries, err := self.listEntries()
	if err != nil {
		return nil, nil, err
	}
	if entries == nil {
		attr, err := self.base.FindAttr(attr_type, name, nil)
		if err != nil {
			return nil, nil, err
		}
		return attr, self.base, nil
	}
	for _, e := range entries {
		if e.attrType != attr_type || e.name != name {
			continue
		}
		rec, err := self.recordFor(e.rno)
		if err != nil {
			continue
		}
		id := e.attrID
		attr, err := rec.FindAttr(attr_type, name, &id)
		if err == nil {
			return attr, rec, nil
		}
	}
	return nil, nil, ntfserr.ErrNotFound
}

// DeleteAll frees every subrecord and marks the base record free; the
// caller is responsible for releasing the inode's non-resident runs
// through the cluster allocator first (package inode does this, since
// it owns the runs cache).
func (self *Inode) DeleteAll() error {
	self.mu.Lock()
	defer self.mu.Unlock()

	rnos := []int64{}
	self.forEachSubrecord(func(rno int64, rec *Record) {
		rnos = append(rnos, rno)
	})
	for _, rno := range rnos {
		if self.records != nil {
			self.records.FreeMFTRecord(rno)
		}
		self.subrecords.Delete(subrecordKey(rno))
	}

	self.base.SetFlags(self.base.Flags() &^ FlagInUse)
	if self.records != nil {
		self.records.FreeMFTRecord(self.base.RecordNumber())
	}
	return nil
}

// WriteInode writes every dirty record (base and subrecords).
func (self *Inode) WriteInode(sync bool) error {
	self.mu.Lock()
	defer self.mu.Unlock()

	if self.base.Dirty() {
		if err := self.base.Write(sync); err != nil {
			return err
		}
	}
	var write_err error
	self.forEachSubrecordUntil(func(rno int64, rec *Record) bool {
		if !rec.Dirty() {
			return false
		}
		if err := rec.Write(sync); err != nil {
			write_err = err
			return true
		}
		return false
	})
	return write_err
}

func (self *Inode) Base() *Record {
	return self.base
}
