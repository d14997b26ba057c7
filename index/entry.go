package index

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"

	"github.com/vex-labs/ntfs3core/ntfserr"
)

// Entry is one on-disk INDEX_RECORD_ENTRY: a key plus the MFT reference
// it resolves to, and (for internal/root entries) a subnode VCN holding
// everything with a smaller key. The last entry in a node carries no
// key or reference of its own - IsLast marks it, and if the node has
// children its subnode covers everything greater than the node's
// largest real key.
type Entry struct {
	MftRef     uint64
	Key        []byte
	HasSubnode bool
	SubnodeVCN int64
	IsLast     bool
}

const (
	entryFlagHasSubnode = 1
	entryFlagIsLast     = 2
)

// entryHeaderSize is the fixed INDEX_RECORD_ENTRY header: mft_ref(8),
// size_of_index_entry(2), size_of_key(2), flags(2), padding(2).
const entryHeaderSize = 0x10

// Size is the on-disk byte length of the entry, 8-byte aligned,
// including the trailing subnode VCN when present.
func (self *Entry) Size() int {
	n := entryHeaderSize
	if !self.IsLast {
		n += len(self.Key)
	}
	n = align8(n)
	if self.HasSubnode {
		n += 8
	}
	return n
}

func align8(n int) int {
	return (n + 7) &^ 7
}

// Encode writes the entry into buf[0:] and returns the number of bytes
// written (== Size()). Grounded on parser.INDEX_RECORD_ENTRY's layout
// (parser/profile.go): mft_ref at 0x00, size_of_index_entry at 0x08,
// size_of_key at 0x0A, flags at 0x0C, key/FILE_NAME at 0x10.
func (self *Entry) Encode(buf []byte) int {
	size := self.Size()
	if len(buf) < size {
		return 0
	}
	binary.LittleEndian.PutUint64(buf[0x00:], self.MftRef)
	binary.LittleEndian.PutUint16(buf[0x08:], uint16(size))
	key_len := 0
	if !self.IsLast {
		key_len = len(self.Key)
		copy(buf[0x10:], self.Key)
	}
	binary.LittleEndian.PutUint16(buf[0x0A:], uint16(key_len))

	flags := uint16(0)
	if self.HasSubnode {
		flags |= entryFlagHasSubnode
	}
	if self.IsLast {
		flags |= entryFlagIsLast
	}
	binary.LittleEndian.PutUint16(buf[0x0C:], flags)

	if self.HasSubnode {
		binary.LittleEndian.PutUint64(buf[size-8:], uint64(self.SubnodeVCN))
	}
	return size
}

// DecodeEntry is the inverse of Encode, reading one entry starting at
// buf[0]. It returns the entry and the number of bytes consumed.
func DecodeEntry(buf []byte) (*Entry, int, error) {
	if len(buf) < entryHeaderSize {
		return nil, 0, fmt.Errorf("index: short entry buffer: %w", ntfserr.ErrBadFormat)
	}
	size := int(binary.LittleEndian.Uint16(buf[0x08:]))
	if size < entryHeaderSize || size > len(buf) {
		return nil, 0, fmt.Errorf("index: entry size %#x out of range: %w", size, ntfserr.ErrBadFormat)
	}
	flags := binary.LittleEndian.Uint16(buf[0x0C:])
	entry := &Entry{
		MftRef:     binary.LittleEndian.Uint64(buf[0x00:]),
		HasSubnode: flags&entryFlagHasSubnode != 0,
		IsLast:     flags&entryFlagIsLast != 0,
	}
	if entry.HasSubnode {
		entry.SubnodeVCN = int64(binary.LittleEndian.Uint64(buf[size-8:]))
	}
	if !entry.IsLast {
		key_len := int(binary.LittleEndian.Uint16(buf[0x0A:]))
		if entryHeaderSize+key_len > size {
			return nil, 0, fmt.Errorf("index: key length %d overflows entry: %w", key_len, ntfserr.ErrBadFormat)
		}
		entry.Key = append([]byte{}, buf[0x10:0x10+key_len]...)
	}
	return entry, size, nil
}

// FileNameKey mirrors parser.FILE_NAME's fixed-size fields for an
// $I30-keyed entry: the denormalised "duplicated information" plus the
// file's name. Grounded on parser/profile.go's FILE_NAME accessors.
type FileNameKey struct {
	ParentRef     uint64
	Created       uint64
	Modified      uint64
	MftModified   uint64
	Accessed      uint64
	AllocatedSize uint64
	ActualSize    uint64
	FileAttributes uint32
	Reparse       uint32
	NameType      uint8
	Name          string
}

// fileNameFixedSize is the size of a FILE_NAME up to (not including)
// the variable-length name field: parser.FILE_NAME.Size() == 0x42.
const fileNameFixedSize = 0x42

// EncodeFileNameKey produces the raw key bytes for an $I30 entry in
// the same byte layout parser.FILE_NAME decodes.
func EncodeFileNameKey(k *FileNameKey) []byte {
	name16 := utf16.Encode([]rune(k.Name))
	buf := make([]byte, fileNameFixedSize+len(name16)*2)
	binary.LittleEndian.PutUint64(buf[0x00:], k.ParentRef)
	binary.LittleEndian.PutUint64(buf[0x08:], k.Created)
	binary.LittleEndian.PutUint64(buf[0x10:], k.Modified)
	binary.LittleEndian.PutUint64(buf[0x18:], k.MftModified)
	binary.LittleEndian.PutUint64(buf[0x20:], k.Accessed)
	binary.LittleEndian.PutUint64(buf[0x28:], k.AllocatedSize)
	binary.LittleEndian.PutUint64(buf[0x30:], k.ActualSize)
	binary.LittleEndian.PutUint32(buf[0x38:], k.FileAttributes)
	binary.LittleEndian.PutUint32(buf[0x3C:], k.Reparse)
	buf[0x40] = uint8(len(name16))
	buf[0x41] = k.NameType
	for i, r := range name16 {
		binary.LittleEndian.PutUint16(buf[fileNameFixedSize+i*2:], r)
	}
	return buf
}

// DecodeFileNameKey is the inverse of EncodeFileNameKey.
func DecodeFileNameKey(buf []byte) (*FileNameKey, error) {
	if len(buf) < fileNameFixedSize {
		return nil, fmt.Errorf("index: short FILE_NAME key: %w", ntfserr.ErrBadFormat)
	}
	name_len := int(buf[0x40])
	if fileNameFixedSize+name_len*2 > len(buf) {
		return nil, fmt.Errorf("index: FILE_NAME name overflows key: %w", ntfserr.ErrBadFormat)
	}
	units := make([]uint16, name_len)
	for i := 0; i < name_len; i++ {
		units[i] = binary.LittleEndian.Uint16(buf[fileNameFixedSize+i*2:])
	}
	return &FileNameKey{
		ParentRef:      binary.LittleEndian.Uint64(buf[0x00:]),
		Created:        binary.LittleEndian.Uint64(buf[0x08:]),
		Modified:       binary.LittleEndian.Uint64(buf[0x10:]),
		MftModified:    binary.LittleEndian.Uint64(buf[0x18:]),
		Accessed:       binary.LittleEndian.Uint64(buf[0x20:]),
		AllocatedSize:  binary.LittleEndian.Uint64(buf[0x28:]),
		ActualSize:     binary.LittleEndian.Uint64(buf[0x30:]),
		FileAttributes: binary.LittleEndian.Uint32(buf[0x38:]),
		Reparse:        binary.LittleEndian.Uint32(buf[0x3C:]),
		NameType:       buf[0x41],
		Name:           string(utf16.Decode(units)),
	}, nil
}
