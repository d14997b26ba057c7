package parser

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode/utf16"
)

// Attribute type codes, as stored in the Type field of an NTFS_ATTRIBUTE.
const (
	ATTR_TYPE_STANDARD_INFORMATION = 0x10
	ATTR_TYPE_ATTRIBUTE_LIST       = 0x20
	ATTR_TYPE_FILE_NAME            = 0x30
	ATTR_TYPE_OBJECT_ID            = 0x40
	ATTR_TYPE_SECURITY_DESCRIPTOR  = 0x50
	ATTR_TYPE_VOLUME_NAME          = 0x60
	ATTR_TYPE_VOLUME_INFORMATION   = 0x70
	ATTR_TYPE_DATA                 = 0x80
	ATTR_TYPE_INDEX_ROOT           = 0x90
	ATTR_TYPE_INDEX_ALLOCATION     = 0xA0
	ATTR_TYPE_BITMAP               = 0xB0
	ATTR_TYPE_REPARSE_POINT        = 0xC0
	ATTR_TYPE_EA_INFORMATION       = 0xD0
	ATTR_TYPE_EA                   = 0xE0
	ATTR_TYPE_LOGGED_UTILITY       = 0x100
)

// Practical caps used when sizing read buffers so a corrupt image can
// not force us to allocate unbounded memory.
const (
	MAX_MFT_ENTRY_SIZE      = 0x10000
	MAX_FILENAME_LENGTH     = 4096
	MAX_USN_RECORD_SCAN_SIZE = 0x10000
)

// Passed to OpenStream()/GetAllVCNs() to mean "the first attribute id
// of this type" and "any name" respectively.
const (
	WILDCARD_STREAM_ID   = uint16(0)
	WILDCARD_STREAM_NAME = ""
)

// Enumeration wraps a numeric field together with its symbolic name,
// mirroring the way a generated vtypes profile annotates enums.
type Enumeration struct {
	Value uint64
	Name  string
}

func (self *Enumeration) DebugString() string {
	return fmt.Sprintf("%v (%v)", self.Value, self.Name)
}

func (self *Enumeration) String() string {
	return self.Name
}

// Flags wraps a bitfield together with the set of symbolic names that
// are currently active in it.
type Flags struct {
	Value uint64
	Names map[string]bool
}

func (self *Flags) IsSet(name string) bool {
	return self.Names[name]
}

func (self *Flags) Values() []string {
	result := make([]string, 0, len(self.Names))
	for name := range self.Names {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

func (self *Flags) DebugString() string {
	return fmt.Sprintf("%#x (%v)", self.Value, strings.Join(self.Values(), ","))
}

// Signature represents a fixed ASCII magic value read from the image,
// such as "FILE" or "INDX".
type Signature struct {
	value     string
	signature string
}

func (self *Signature) DebugString() string {
	return self.value
}

func (self *Signature) String() string {
	return self.value
}

func (self *Signature) IsValid() bool {
	return self.value == self.signature
}

func ParseUint8(reader io.ReaderAt, offset int64) uint8 {
	buf := make([]byte, 1)
	reader.ReadAt(buf, offset)
	return buf[0]
}

func ParseInt8(reader io.ReaderAt, offset int64) int8 {
	return int8(ParseUint8(reader, offset))
}

func ParseUint16(reader io.ReaderAt, offset int64) uint16 {
	buf := make([]byte, 2)
	reader.ReadAt(buf, offset)
	return binary.LittleEndian.Uint16(buf)
}

func ParseUint32(reader io.ReaderAt, offset int64) uint32 {
	buf := make([]byte, 4)
	reader.ReadAt(buf, offset)
	return binary.LittleEndian.Uint32(buf)
}

func ParseUint64(reader io.ReaderAt, offset int64) uint64 {
	buf := make([]byte, 8)
	reader.ReadAt(buf, offset)
	return binary.LittleEndian.Uint64(buf)
}

func ParseSignature(reader io.ReaderAt, offset int64, length int64) string {
	buf := make([]byte, length)
	n, _ := reader.ReadAt(buf, offset)
	return string(buf[:n])
}

// ParseUTF16String decodes a UTF16LE string of the given byte length,
// stopping at an embedded NUL (NTFS pads fixed fields with NULs).
func ParseUTF16String(reader io.ReaderAt, offset int64, length int64) string {
	if length <= 0 {
		return ""
	}

	buf := make([]byte, length)
	n, _ := reader.ReadAt(buf, offset)
	buf = buf[:n]

	units := make([]uint16, 0, len(buf)/2)
	for i := 0; i+1 < len(buf); i += 2 {
		code := binary.LittleEndian.Uint16(buf[i : i+2])
		if code == 0 {
			break
		}
		units = append(units, code)
	}

	return string(utf16.Decode(units))
}

// A reader that always returns zero filled buffers. Used to represent
// sparse regions and as a placeholder disk reader before one is known.
type NullReader struct{}

func (self *NullReader) ReadAt(buf []byte, offset int64) (int, error) {
	for i := range buf {
		buf[i] = 0
	}
	return len(buf), nil
}

// FixedUpReader wraps a buffer that has already had its fixups applied
// (e.g. an MFT entry read off disk) while remembering where it came
// from, for error messages.
type FixedUpReader struct {
	Reader          io.ReaderAt
	original_offset int64
}

func (self *FixedUpReader) ReadAt(buf []byte, offset int64) (int, error) {
	return self.Reader.ReadAt(buf, offset)
}

func CopySlice(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func ReverseStringSlice(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// setADS appends an alternate data stream name to the last path
// component, producing e.g. "foo.txt:hidden".
func setADS(components []string, ads string) []string {
	if ads == "" {
		return components
	}

	if len(components) == 0 {
		return []string{":" + ads}
	}

	result := CopySlice(components)
	result[len(result)-1] = result[len(result)-1] + ":" + ads
	return result
}
