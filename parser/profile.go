package parser

import (
	"fmt"
	"io"
)

// NTFSProfile stands in for what would, in the teacher's original
// build, be generated from a vtypes JSON profile. Instead of a code
// generator we hand write the same result: a set of named byte offsets
// plus a constructor method per struct. Keeping the offsets on the
// profile (rather than as raw constants) keeps the door open for a
// caller to build an alternate profile (e.g. for an on-disk format
// variant) and pass it to GetNTFSContext in a future version, the same
// reason the teacher threads *NTFSProfile through every cursor struct.
type NTFSProfile struct {
	Off_MFT_ENTRY_Magic                       int64
	Off_MFT_ENTRY_Fixup_offset                int64
	Off_MFT_ENTRY_Fixup_count                 int64
	Off_MFT_ENTRY_Logfile_sequence_number     int64
	Off_MFT_ENTRY_Sequence_value               int64
	Off_MFT_ENTRY_Link_count                  int64
	Off_MFT_ENTRY_Attribute_offset            int64
	Off_MFT_ENTRY_Flags                       int64
	Off_MFT_ENTRY_Mft_entry_size               int64
	Off_MFT_ENTRY_Mft_entry_allocated         int64
	Off_MFT_ENTRY_Base_record_reference        int64
	Off_MFT_ENTRY_Next_attribute_id            int64
	Off_MFT_ENTRY_Record_number                int64

	Off_FILE_NAME_name int64
}

func NewNTFSProfile() *NTFSProfile {
	return &NTFSProfile{
		Off_MFT_ENTRY_Magic:                   0x00,
		Off_MFT_ENTRY_Fixup_offset:            0x04,
		Off_MFT_ENTRY_Fixup_count:             0x06,
		Off_MFT_ENTRY_Logfile_sequence_number: 0x08,
		Off_MFT_ENTRY_Sequence_value:          0x10,
		Off_MFT_ENTRY_Link_count:              0x12,
		Off_MFT_ENTRY_Attribute_offset:        0x14,
		Off_MFT_ENTRY_Flags:                   0x16,
		Off_MFT_ENTRY_Mft_entry_size:          0x18,
		Off_MFT_ENTRY_Mft_entry_allocated:     0x1C,
		Off_MFT_ENTRY_Base_record_reference:   0x20,
		Off_MFT_ENTRY_Next_attribute_id:       0x28,
		Off_MFT_ENTRY_Record_number:           0x2C,

		Off_FILE_NAME_name: 0x42,
	}
}

func (self *NTFSProfile) MFT_ENTRY(reader io.ReaderAt, offset int64) *MFT_ENTRY {
	STATS.Inc_MFT_ENTRY()
	return &MFT_ENTRY{Reader: reader, Offset: offset, Profile: self}
}

func (self *NTFSProfile) NTFS_ATTRIBUTE(reader io.ReaderAt, offset int64) *NTFS_ATTRIBUTE {
	STATS.Inc_NTFS_ATTRIBUTE()
	return NewNTFS_ATTRIBUTE(reader, offset, self)
}

func (self *NTFSProfile) NTFS_BOOT_SECTOR(reader io.ReaderAt, offset int64) *NTFS_BOOT_SECTOR {
	return &NTFS_BOOT_SECTOR{Reader: reader, Offset: offset, Profile: self}
}

func (self *NTFSProfile) STANDARD_INFORMATION(reader io.ReaderAt, offset int64) *STANDARD_INFORMATION {
	STATS.Inc_STANDARD_INFORMATION()
	return &STANDARD_INFORMATION{Reader: reader, Offset: offset, Profile: self}
}

func (self *NTFSProfile) FILE_NAME(reader io.ReaderAt, offset int64) *FILE_NAME {
	STATS.Inc_FILE_NAME()
	return &FILE_NAME{Reader: reader, Offset: offset, Profile: self}
}

func (self *NTFSProfile) ATTRIBUTE_LIST_ENTRY(reader io.ReaderAt, offset int64) *ATTRIBUTE_LIST_ENTRY {
	STATS.Inc_ATTRIBUTE_LIST_ENTRY()
	return &ATTRIBUTE_LIST_ENTRY{Reader: reader, Offset: offset, Profile: self}
}

func (self *NTFSProfile) INDEX_ROOT(reader io.ReaderAt, offset int64) *INDEX_ROOT {
	return &INDEX_ROOT{Reader: reader, Offset: offset, Profile: self}
}

func (self *NTFSProfile) INDEX_NODE_HEADER(reader io.ReaderAt, offset int64) *INDEX_NODE_HEADER {
	return &INDEX_NODE_HEADER{Reader: reader, Offset: offset, Profile: self}
}

func (self *NTFSProfile) STANDARD_INDEX_HEADER(reader io.ReaderAt, offset int64) *STANDARD_INDEX_HEADER {
	return &STANDARD_INDEX_HEADER{Reader: reader, Offset: offset, Profile: self}
}

func (self *NTFSProfile) INDEX_RECORD_ENTRY(reader io.ReaderAt, offset int64) *INDEX_RECORD_ENTRY {
	return &INDEX_RECORD_ENTRY{Reader: reader, Offset: offset, Profile: self}
}

func (self *NTFSProfile) NTFS_RESIDENT_ATTRIBUTE(reader io.ReaderAt, offset int64) *NTFS_RESIDENT_ATTRIBUTE {
	return &NTFS_RESIDENT_ATTRIBUTE{Reader: reader, Offset: offset, Profile: self}
}

func (self *NTFSProfile) USN_RECORD_V2(reader io.ReaderAt, offset int64) *USN_RECORD_V2 {
	return &USN_RECORD_V2{Reader: reader, Offset: offset, Profile: self}
}

// --------------------------------------------------------------------
// NTFS_BOOT_SECTOR - the first sector of the volume.

type NTFS_BOOT_SECTOR struct {
	Reader  io.ReaderAt
	Offset  int64
	Profile *NTFSProfile
}

func (self *NTFS_BOOT_SECTOR) Magic() uint16 {
	return ParseUint16(self.Reader, self.Offset+0x1FE)
}

func (self *NTFS_BOOT_SECTOR) Sector_size() int64 {
	return int64(ParseUint16(self.Reader, self.Offset+0x0B))
}

func (self *NTFS_BOOT_SECTOR) _cluster_size() int8 {
	return ParseInt8(self.Reader, self.Offset+0x0D)
}

func (self *NTFS_BOOT_SECTOR) _volume_size() int64 {
	return int64(ParseUint64(self.Reader, self.Offset+0x28))
}

func (self *NTFS_BOOT_SECTOR) _mft_cluster() int64 {
	return int64(ParseUint64(self.Reader, self.Offset+0x30))
}

func (self *NTFS_BOOT_SECTOR) _mft_mirror_cluster() int64 {
	return int64(ParseUint64(self.Reader, self.Offset+0x38))
}

func (self *NTFS_BOOT_SECTOR) _mft_record_size() int64 {
	return int64(ParseInt8(self.Reader, self.Offset+0x40))
}

func (self *NTFS_BOOT_SECTOR) _index_record_size() int64 {
	return int64(ParseInt8(self.Reader, self.Offset+0x44))
}

func (self *NTFS_BOOT_SECTOR) VolumeSerialNumber() uint64 {
	return ParseUint64(self.Reader, self.Offset+0x48)
}

func (self *NTFS_BOOT_SECTOR) DebugString() string {
	return fmt.Sprintf("struct NTFS_BOOT_SECTOR @ %#x:\n"+
		"  Sector_size: %#x\n  ClusterSize: %#x\n  RecordSize: %#x\n"+
		"  BlockCount: %#x\n  MFT Cluster: %#x\n",
		self.Offset, self.Sector_size(), self.ClusterSize(),
		self.RecordSize(), self.BlockCount(), self._mft_cluster())
}

// --------------------------------------------------------------------
// STANDARD_INFORMATION - $STANDARD_INFORMATION attribute content.

type STANDARD_INFORMATION struct {
	Reader  io.ReaderAt
	Offset  int64
	Profile *NTFSProfile
}

func (self *STANDARD_INFORMATION) Create_time() *WinFileTime {
	return self.Profile.WinFileTime(self.Reader, self.Offset+0x00)
}

func (self *STANDARD_INFORMATION) File_altered_time() *WinFileTime {
	return self.Profile.WinFileTime(self.Reader, self.Offset+0x08)
}

func (self *STANDARD_INFORMATION) Mft_altered_time() *WinFileTime {
	return self.Profile.WinFileTime(self.Reader, self.Offset+0x10)
}

func (self *STANDARD_INFORMATION) File_accessed_time() *WinFileTime {
	return self.Profile.WinFileTime(self.Reader, self.Offset+0x18)
}

func (self *STANDARD_INFORMATION) Flags() *Flags {
	value := ParseUint32(self.Reader, self.Offset+0x20)
	names := make(map[string]bool)

	bits := map[uint32]string{
		0x1:      "READ_ONLY",
		0x2:      "HIDDEN",
		0x4:      "SYSTEM",
		0x20:     "ARCHIVE",
		0x40:     "DEVICE",
		0x80:     "NORMAL",
		0x100:    "TEMPORARY",
		0x200:    "SPARSE",
		0x400:    "REPARSE_POINT",
		0x800:    "COMPRESSED",
		0x1000:   "OFFLINE",
		0x2000:   "NOT_INDEXED",
		0x4000:   "ENCRYPTED",
		0x20000000: "NEED_EA",
	}
	for bit, name := range bits {
		if value&bit != 0 {
			names[name] = true
		}
	}

	return &Flags{Value: uint64(value), Names: names}
}

func (self *STANDARD_INFORMATION) Owner_id() uint32 {
	return ParseUint32(self.Reader, self.Offset+0x30)
}

func (self *STANDARD_INFORMATION) Security_id() uint32 {
	return ParseUint32(self.Reader, self.Offset+0x34)
}

func (self *STANDARD_INFORMATION) DebugString() string {
	return fmt.Sprintf("struct STANDARD_INFORMATION @ %#x:\n"+
		"  Create_time: %v\n  File_altered_time: %v\n"+
		"  Mft_altered_time: %v\n  File_accessed_time: %v\n  Flags: %v\n",
		self.Offset, self.Create_time(), self.File_altered_time(),
		self.Mft_altered_time(), self.File_accessed_time(), self.Flags().DebugString())
}

// --------------------------------------------------------------------
// FILE_NAME - $FILE_NAME attribute content.

type FILE_NAME struct {
	Reader  io.ReaderAt
	Offset  int64
	Profile *NTFSProfile
}

func (self *FILE_NAME) Size() int {
	return 0x42
}

func (self *FILE_NAME) MftReference() uint64 {
	return ParseUint64(self.Reader, self.Offset) & 0xFFFFFFFFFFFF
}

func (self *FILE_NAME) Seq_num() uint16 {
	return uint16(ParseUint64(self.Reader, self.Offset) >> 48)
}

func (self *FILE_NAME) Created() *WinFileTime {
	return self.Profile.WinFileTime(self.Reader, self.Offset+0x08)
}

func (self *FILE_NAME) File_modified() *WinFileTime {
	return self.Profile.WinFileTime(self.Reader, self.Offset+0x10)
}

func (self *FILE_NAME) Mft_modified() *WinFileTime {
	return self.Profile.WinFileTime(self.Reader, self.Offset+0x18)
}

func (self *FILE_NAME) File_accessed() *WinFileTime {
	return self.Profile.WinFileTime(self.Reader, self.Offset+0x20)
}

func (self *FILE_NAME) Allocated_size() uint64 {
	return ParseUint64(self.Reader, self.Offset+0x28)
}

func (self *FILE_NAME) Actual_size() uint64 {
	return ParseUint64(self.Reader, self.Offset+0x30)
}

func (self *FILE_NAME) _length_of_name() uint8 {
	return ParseUint8(self.Reader, self.Offset+0x40)
}

func (self *FILE_NAME) NameType() *Enumeration {
	value := uint64(ParseUint8(self.Reader, self.Offset+0x41))
	name := "Unknown"
	switch value {
	case 0:
		name = "POSIX"
	case 1:
		name = "Win32"
	case 2:
		name = "DOS"
	case 3:
		name = "DOS+Win32"
	}
	return &Enumeration{Value: value, Name: name}
}

func (self *FILE_NAME) DebugString() string {
	return fmt.Sprintf("struct FILE_NAME @ %#x:\n  Name: %v\n  MftReference: %v\n",
		self.Offset, self.Name(), self.MftReference())
}

// --------------------------------------------------------------------
// ATTRIBUTE_LIST_ENTRY - one entry of an $ATTRIBUTE_LIST attribute.

type ATTRIBUTE_LIST_ENTRY struct {
	Reader  io.ReaderAt
	Offset  int64
	Profile *NTFSProfile
}

func (self *ATTRIBUTE_LIST_ENTRY) Type() uint32 {
	return ParseUint32(self.Reader, self.Offset)
}

func (self *ATTRIBUTE_LIST_ENTRY) Length() uint16 {
	return ParseUint16(self.Reader, self.Offset+0x04)
}

func (self *ATTRIBUTE_LIST_ENTRY) name_length() uint8 {
	return ParseUint8(self.Reader, self.Offset+0x06)
}

func (self *ATTRIBUTE_LIST_ENTRY) Vcn() uint64 {
	return ParseUint64(self.Reader, self.Offset+0x08)
}

func (self *ATTRIBUTE_LIST_ENTRY) MftReference() uint64 {
	return ParseUint64(self.Reader, self.Offset+0x10) & 0xFFFFFFFFFFFF
}

func (self *ATTRIBUTE_LIST_ENTRY) Attribute_id() uint16 {
	return ParseUint16(self.Reader, self.Offset+0x18)
}

func (self *ATTRIBUTE_LIST_ENTRY) Name() string {
	length := int64(self.name_length()) * 2
	if length == 0 {
		return ""
	}
	return ParseUTF16String(self.Reader, self.Offset+0x1A, length)
}

func (self *ATTRIBUTE_LIST_ENTRY) DebugString() string {
	return fmt.Sprintf("struct ATTRIBUTE_LIST_ENTRY @ %#x:\n"+
		"  Type: %#x\n  MftReference: %v\n  Attribute_id: %v\n",
		self.Offset, self.Type(), self.MftReference(), self.Attribute_id())
}

// --------------------------------------------------------------------
// NTFS_RESIDENT_ATTRIBUTE - debug view of a resident attribute header.

type NTFS_RESIDENT_ATTRIBUTE struct {
	Reader  io.ReaderAt
	Offset  int64
	Profile *NTFSProfile
}

func (self *NTFS_RESIDENT_ATTRIBUTE) Content_size() uint32 {
	return ParseUint32(self.Reader, self.Offset+16)
}

func (self *NTFS_RESIDENT_ATTRIBUTE) Content_offset() uint16 {
	return ParseUint16(self.Reader, self.Offset+20)
}

func (self *NTFS_RESIDENT_ATTRIBUTE) Indexed_flag() uint8 {
	return ParseUint8(self.Reader, self.Offset+22)
}

func (self *NTFS_RESIDENT_ATTRIBUTE) DebugString() string {
	return fmt.Sprintf("struct NTFS_RESIDENT_ATTRIBUTE @ %#x:\n"+
		"  Content_size: %#x\n  Content_offset: %#x\n",
		self.Offset, self.Content_size(), self.Content_offset())
}

// --------------------------------------------------------------------
// INDEX_ROOT - $INDEX_ROOT attribute content.

type INDEX_ROOT struct {
	Reader  io.ReaderAt
	Offset  int64
	Profile *NTFSProfile
}

func (self *INDEX_ROOT) AttrType() uint32 {
	return ParseUint32(self.Reader, self.Offset)
}

func (self *INDEX_ROOT) CollationRule() uint32 {
	return ParseUint32(self.Reader, self.Offset+0x04)
}

func (self *INDEX_ROOT) SizeOfIndexAllocEntry() uint32 {
	return ParseUint32(self.Reader, self.Offset+0x08)
}

func (self *INDEX_ROOT) Node() *INDEX_NODE_HEADER {
	return self.Profile.INDEX_NODE_HEADER(self.Reader, self.Offset+0x10)
}

// --------------------------------------------------------------------
// STANDARD_INDEX_HEADER - the "INDX" record header of an
// $INDEX_ALLOCATION block.

type STANDARD_INDEX_HEADER struct {
	Reader  io.ReaderAt
	Offset  int64
	Profile *NTFSProfile
}

func (self *STANDARD_INDEX_HEADER) Magic() *Signature {
	value := ParseSignature(self.Reader, self.Offset, 4)
	return &Signature{value: value, signature: "INDX"}
}

func (self *STANDARD_INDEX_HEADER) Fixup_offset() uint16 {
	return ParseUint16(self.Reader, self.Offset+0x04)
}

func (self *STANDARD_INDEX_HEADER) Fixup_count() uint16 {
	return ParseUint16(self.Reader, self.Offset+0x06)
}

func (self *STANDARD_INDEX_HEADER) Logfile_sequence_number() uint64 {
	return ParseUint64(self.Reader, self.Offset+0x08)
}

func (self *STANDARD_INDEX_HEADER) Vcn() uint64 {
	return ParseUint64(self.Reader, self.Offset+0x10)
}

func (self *STANDARD_INDEX_HEADER) Node() *INDEX_NODE_HEADER {
	return self.Profile.INDEX_NODE_HEADER(self.Reader, self.Offset+0x18)
}

// --------------------------------------------------------------------
// INDEX_NODE_HEADER - common header of both $INDEX_ROOT's inline node
// and each $INDEX_ALLOCATION block's node.

type INDEX_NODE_HEADER struct {
	Reader  io.ReaderAt
	Offset  int64
	Profile *NTFSProfile
}

func (self *INDEX_NODE_HEADER) Offset_to_index_entry() uint32 {
	return ParseUint32(self.Reader, self.Offset)
}

func (self *INDEX_NODE_HEADER) Offset_to_end_index_entry() uint32 {
	return ParseUint32(self.Reader, self.Offset+0x04)
}

func (self *INDEX_NODE_HEADER) SizeOfEntriesAlloc() int32 {
	return int32(ParseUint32(self.Reader, self.Offset+0x08))
}

func (self *INDEX_NODE_HEADER) IndexHeaderFlags() uint32 {
	return ParseUint32(self.Reader, self.Offset+0x0C)
}

func (self *INDEX_NODE_HEADER) HasChildren() bool {
	return self.IndexHeaderFlags()&1 != 0
}

// --------------------------------------------------------------------
// INDEX_RECORD_ENTRY - one entry ($FILE_NAME keyed, the common case)
// of an index node.

type INDEX_RECORD_ENTRY struct {
	Reader  io.ReaderAt
	Offset  int64
	Profile *NTFSProfile
}

func (self *INDEX_RECORD_ENTRY) MftReference() uint64 {
	return ParseUint64(self.Reader, self.Offset) & 0xFFFFFFFFFFFF
}

func (self *INDEX_RECORD_ENTRY) SizeOfIndexEntry() uint16 {
	return ParseUint16(self.Reader, self.Offset+0x08)
}

func (self *INDEX_RECORD_ENTRY) SizeOfKey() uint16 {
	return ParseUint16(self.Reader, self.Offset+0x0A)
}

func (self *INDEX_RECORD_ENTRY) EntryFlags() uint16 {
	return ParseUint16(self.Reader, self.Offset+0x0C)
}

func (self *INDEX_RECORD_ENTRY) HasSubnode() bool {
	return self.EntryFlags()&1 != 0
}

func (self *INDEX_RECORD_ENTRY) IsLastEntry() bool {
	return self.EntryFlags()&2 != 0
}

func (self *INDEX_RECORD_ENTRY) File() *FILE_NAME {
	return self.Profile.FILE_NAME(self.Reader, self.Offset+0x10)
}

func (self *INDEX_RECORD_ENTRY) SubnodeVcn() uint64 {
	size := int64(self.SizeOfIndexEntry())
	return ParseUint64(self.Reader, self.Offset+size-8)
}

// --------------------------------------------------------------------
// USN_RECORD_V2 - https://learn.microsoft.com/windows/win32/api/winioctl/ns-winioctl-usn_record_v2

type USN_RECORD_V2 struct {
	Reader  io.ReaderAt
	Offset  int64
	Profile *NTFSProfile
}

func (self *USN_RECORD_V2) RecordLength() uint32 {
	return ParseUint32(self.Reader, self.Offset)
}

func (self *USN_RECORD_V2) FileReferenceNumberID() uint64 {
	return ParseUint64(self.Reader, self.Offset+0x08) & 0xFFFFFFFFFFFF
}

func (self *USN_RECORD_V2) ParentFileReferenceNumberID() uint64 {
	return ParseUint64(self.Reader, self.Offset+0x10) & 0xFFFFFFFFFFFF
}

func (self *USN_RECORD_V2) ParentFileReferenceNumberSequence() uint64 {
	return ParseUint64(self.Reader, self.Offset+0x10) >> 48
}

func (self *USN_RECORD_V2) Usn() uint64 {
	return ParseUint64(self.Reader, self.Offset+0x18)
}

func (self *USN_RECORD_V2) Timestamp() *WinFileTime {
	return self.Profile.WinFileTime(self.Reader, self.Offset+0x20)
}

func (self *USN_RECORD_V2) Reason() *Flags {
	value := ParseUint32(self.Reader, self.Offset+0x28)
	names := make(map[string]bool)
	bits := map[uint32]string{
		0x1:        "DATA_OVERWRITE",
		0x2:        "DATA_EXTEND",
		0x4:        "DATA_TRUNCATION",
		0x10:       "NAMED_DATA_OVERWRITE",
		0x20:       "NAMED_DATA_EXTEND",
		0x40:       "NAMED_DATA_TRUNCATION",
		0x100:      "FILE_CREATE",
		0x200:      "FILE_DELETE",
		0x400:      "EA_CHANGE",
		0x800:      "SECURITY_CHANGE",
		0x1000:     "RENAME_OLD_NAME",
		0x2000:     "RENAME_NEW_NAME",
		0x4000:     "INDEXABLE_CHANGE",
		0x8000:     "BASIC_INFO_CHANGE",
		0x10000:    "HARD_LINK_CHANGE",
		0x20000:    "COMPRESSION_CHANGE",
		0x40000:    "ENCRYPTION_CHANGE",
		0x80000:    "OBJECT_ID_CHANGE",
		0x100000:   "REPARSE_POINT_CHANGE",
		0x200000:   "STREAM_CHANGE",
		0x80000000: "CLOSE",
	}
	for bit, name := range bits {
		if value&bit != 0 {
			names[name] = true
		}
	}
	return &Flags{Value: uint64(value), Names: names}
}

func (self *USN_RECORD_V2) SourceInfo() *Flags {
	value := ParseUint32(self.Reader, self.Offset+0x2C)
	names := make(map[string]bool)
	bits := map[uint32]string{
		0x1: "DATA_MANAGEMENT",
		0x2: "AUXILIARY_DATA",
		0x4: "REPLICATION_MANAGEMENT",
	}
	for bit, name := range bits {
		if value&bit != 0 {
			names[name] = true
		}
	}
	return &Flags{Value: uint64(value), Names: names}
}

func (self *USN_RECORD_V2) FileAttributes() *Flags {
	value := ParseUint32(self.Reader, self.Offset+0x34)
	names := make(map[string]bool)
	bits := map[uint32]string{
		0x1:    "READ_ONLY",
		0x2:    "HIDDEN",
		0x4:    "SYSTEM",
		0x10:   "DIRECTORY",
		0x20:   "ARCHIVE",
		0x800:  "COMPRESSED",
		0x2000: "NOT_CONTENT_INDEXED",
		0x4000: "ENCRYPTED",
	}
	for bit, name := range bits {
		if value&bit != 0 {
			names[name] = true
		}
	}
	return &Flags{Value: uint64(value), Names: names}
}

func (self *USN_RECORD_V2) FileNameLength() uint16 {
	return ParseUint16(self.Reader, self.Offset+0x38)
}

func (self *USN_RECORD_V2) FileNameOffset() uint16 {
	return ParseUint16(self.Reader, self.Offset+0x3A)
}

func (self *USN_RECORD_V2) DebugString() string {
	return fmt.Sprintf("struct USN_RECORD_V2 @ %#x:\n  Usn: %v\n  Reason: %v\n",
		self.Offset, self.Usn(), self.Reason().DebugString())
}
