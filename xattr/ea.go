// Package xattr implements the extended-attribute, DOS-attribute and
// security-descriptor glue spec §4.7 describes, layered on top of an
// inode.Inode. It is grounded on original_source/fs/ntfs3/xattr.c: the
// $EA_INFORMATION/$EA record layout, the namespace dispatch table, and
// $Secure's insert_security dedup all follow that file's shapes and
// names, translated into the teacher's idiom.
package xattr

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/vex-labs/ntfs3core/inode"
	"github.com/vex-labs/ntfs3core/ntfserr"
	"github.com/vex-labs/ntfs3core/record"
)

// needEAFlag is FILE_NEED_EA: set on an EA_FULL entry the filesystem
// must fail opens over if it doesn't understand it. This driver never
// sets it itself but preserves it on entries that already carry it.
const needEAFlag = 0x80

// maxEADataSize bounds the packed $EA stream. The real ntfs3 driver's
// MAX_EA_DATA_SIZE constant lives in a header this pack doesn't carry;
// 64KiB is a conservative stand-in of the same order of magnitude.
const maxEADataSize = 0x10000

// eaInfoSize is EA_INFO's on-disk size: size(4) + size_pack(2) + count(2).
const eaInfoSize = 8

// eaFixedHeaderSize is EA_FULL's fixed header before the name: size(4)
// + flags(1) + name_len(1) + elength(2).
const eaFixedHeaderSize = 8

// Entry is one decoded extended attribute.
type Entry struct {
	Flags byte
	Name  string
	Value []byte
}

func needsEA(flags byte) bool { return flags&needEAFlag != 0 }

func dwordAlign(n int) int { return (n + 3) &^ 3 }

// packedSize is xattr.c's packed_ea_size: the entry's size excluding
// the leading 4-byte `size` field and without DWORD padding, used only
// for maintaining EA_INFO.size_pack's running total.
func packedSize(e *Entry) int {
	return (eaFixedHeaderSize - 4) + len(e.Name) + 1 + len(e.Value)
}

// unpackedSize is xattr.c's unpacked_ea_size: the entry's real
// on-disk footprint, DWORD-aligned, name NUL-terminated.
func unpackedSize(e *Entry) int {
	return dwordAlign(eaFixedHeaderSize + 1 + len(e.Name) + len(e.Value))
}

func encodeEntry(e *Entry) []byte {
	size := unpackedSize(e)
	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:], uint32(size))
	buf[4] = e.Flags
	buf[5] = byte(len(e.Name))
	binary.LittleEndian.PutUint16(buf[6:], uint16(len(e.Value)))
	copy(buf[8:], e.Name)
	buf[8+len(e.Name)] = 0
	copy(buf[8+len(e.Name)+1:], e.Value)
	return buf
}

// decodeList splits a packed $EA blob into its entries. An entry with
// size == 0 (never written by this package but tolerated on read, per
// xattr.c's unpacked_ea_size falling back to a computed size in that
// case) is treated as self-describing from name_len/elength alone.
func decodeList(buf []byte) ([]*Entry, error) {
	var out []*Entry
	off := 0
	for off < len(buf) {
		if off+eaFixedHeaderSize > len(buf) {
			return nil, fmt.Errorf("xattr: truncated EA_FULL header: %w", ntfserr.ErrBadFormat)
		}
		size := int(binary.LittleEndian.Uint32(buf[off:]))
		flags := buf[off+4]
		name_len := int(buf[off+5])
		elength := int(binary.LittleEndian.Uint16(buf[off+6:]))
		if size == 0 {
			size = dwordAlign(eaFixedHeaderSize + 1 + name_len + elength)
		}
		if off+eaFixedHeaderSize+name_len+1+elength > len(buf) || size < eaFixedHeaderSize {
			return nil, fmt.Errorf("xattr: malformed EA_FULL entry: %w", ntfserr.ErrBadFormat)
		}
		name := string(buf[off+8 : off+8+name_len])
		value := append([]byte{}, buf[off+8+name_len+1:off+8+name_len+1+elength]...)
		out = append(out, &Entry{Flags: flags, Name: name, Value: value})
		off += size
	}
	return out, nil
}

func encodeList(entries []*Entry) []byte {
	var buf []byte
	for _, e := range entries {
		buf = append(buf, encodeEntry(e)...)
	}
	return buf
}

func encodeInfo(size, size_pack int, count int) []byte {
	buf := make([]byte, eaInfoSize)
	binary.LittleEndian.PutUint32(buf[0:], uint32(size))
	binary.LittleEndian.PutUint16(buf[4:], uint16(size_pack))
	binary.LittleEndian.PutUint16(buf[6:], uint16(count))
	return buf
}

func decodeInfo(buf []byte) (size, size_pack, count int, err error) {
	if len(buf) < eaInfoSize {
		return 0, 0, 0, fmt.Errorf("xattr: short EA_INFO: %w", ntfserr.ErrBadFormat)
	}
	size = int(binary.LittleEndian.Uint32(buf[0:]))
	size_pack = int(binary.LittleEndian.Uint16(buf[4:]))
	count = int(binary.LittleEndian.Uint16(buf[6:]))
	return size, size_pack, count, nil
}

// EAStore is the generic extended-attribute store backed by an
// inode's $EA_INFORMATION/$EA attribute pair. One EAStore should be
// used for the lifetime of one open inode; its mutex plays the role
// ni_lock plays around ntfs_set_ea/ntfs_get_ea in the original driver,
// serializing the read-modify-write across both attributes.
type EAStore struct {
	mu  sync.Mutex
	ino *inode.Inode
}

// NewEAStore wraps ino's $EA_INFORMATION/$EA attribute pair.
func NewEAStore(ino *inode.Inode) *EAStore {
	return &EAStore{ino: ino}
}

// readAll decodes every extended attribute currently stored, or
// returns (nil, nil) if the inode has none.
func (self *EAStore) readAll() ([]*Entry, error) {
	attr, _, err := self.ino.Record().FindAttr(record.TypeEA, "", -1)
	if err != nil {
		if err == ntfserr.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	content := attr.Content()
	if attr.IsResident() {
		return decodeList(content)
	}
	// A non-resident $EA is beyond what this facade's read path
	// supports today: EA blobs stay resident (see maxEADataSize).
	return nil, fmt.Errorf("xattr: non-resident $EA not supported: %w", ntfserr.ErrNotSupported)
}

func (self *EAStore) find(name string) ([]*Entry, int) {
	entries, _ := self.readAll()
	for i, e := range entries {
		if e.Name == name {
			return entries, i
		}
	}
	return entries, -1
}

// Get returns the value stored under name.
func (self *EAStore) Get(name string) ([]byte, error) {
	self.mu.Lock()
	defer self.mu.Unlock()

	entries, idx := self.find(name)
	if idx < 0 {
		return nil, ntfserr.ErrNotFound
	}
	return entries[idx].Value, nil
}

// List returns every extended attribute name currently stored.
func (self *EAStore) List() ([]string, error) {
	self.mu.Lock()
	defer self.mu.Unlock()

	entries, err := self.readAll()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return names, nil
}

// SetFlag selects create-only / replace-only semantics for Set,
// mirroring setxattr(2)'s XATTR_CREATE/XATTR_REPLACE.
type SetFlag int

const (
	SetDefault SetFlag = iota
	SetCreate
	SetReplace
)

// Set stores value under name, creating or replacing $EA_INFORMATION/
// $EA as needed, or removes the entry entirely if value is empty
// (nil or zero-length, matching setxattr(2)'s "empty value + REPLACE
// deletes" convention). record.Inode.NIFlagEA is kept mirroring EA
// presence, and record.Inode.NIFlagUpdateParent is raised whenever
// $EA_INFORMATION's size_pack changes, so a caller walking up to the
// parent knows its $I30 dup info is stale - see xattr.c's
// ntfs_set_ea.
func (self *EAStore) Set(name string, value []byte, flags SetFlag) error {
	self.mu.Lock()
	defer self.mu.Unlock()

	entries, idx := self.find(name)
	had_info := entries != nil || idx >= 0

	old_size_pack := 0
	for _, e := range entries {
		old_size_pack += packedSize(e)
	}

	if idx >= 0 {
		if flags == SetCreate {
			return fmt.Errorf("xattr: set: %w", ntfserr.ErrExists)
		}
		if len(value) == 0 {
			entries = append(entries[:idx], entries[idx+1:]...)
		} else {
			entries[idx] = &Entry{Flags: entries[idx].Flags, Name: name, Value: value}
		}
	} else {
		if flags == SetReplace {
			return fmt.Errorf("xattr: set: %w", ntfserr.ErrNotFound)
		}
		if len(value) == 0 {
			return nil
		}
		entries = append(entries, &Entry{Name: name, Value: value})
	}

	packed := encodeList(entries)
	if len(packed) > maxEADataSize {
		return fmt.Errorf("xattr: set: %w", ntfserr.ErrTooLarge)
	}

	ni := self.ino.Record()
	if err := ni.RemoveAttr(record.TypeEA, ""); err != nil && err != ntfserr.ErrNotFound {
		return err
	}
	if len(entries) == 0 {
		if had_info {
			if err := ni.RemoveAttr(record.TypeEAInformation, ""); err != nil && err != ntfserr.ErrNotFound {
				return err
			}
		}
		ni.SetNIFlag(record.NIFlagEA, false)
		if old_size_pack != 0 {
			ni.SetNIFlag(record.NIFlagUpdateParent, true)
		}
		return nil
	}

	count := 0
	size_pack := 0
	for _, e := range entries {
		if needsEA(e.Flags) {
			count++
		}
		size_pack += packedSize(e)
	}

	if !had_info {
		if _, _, err := ni.InsertResident(record.TypeEAInformation, "", encodeInfo(len(packed), size_pack, count)); err != nil {
			return err
		}
	} else {
		info_attr, info_rec, err := ni.FindAttr(record.TypeEAInformation, "", -1)
		if err != nil {
			return err
		}
		if err := info_rec.SetResidentContent(info_attr, encodeInfo(len(packed), size_pack, count)); err != nil {
			return err
		}
	}

	if _, _, err := ni.InsertResident(record.TypeEA, "", packed); err != nil {
		return err
	}

	ni.SetNIFlag(record.NIFlagEA, true)
	if size_pack != old_size_pack {
		ni.SetNIFlag(record.NIFlagUpdateParent, true)
	}
	return nil
}
