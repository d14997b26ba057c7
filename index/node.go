package index

import (
	"encoding/binary"
	"fmt"

	"github.com/vex-labs/ntfs3core/ntfserr"
)

// Node is one in-memory index node: a key-sorted run of entries ending
// in a terminator entry (IsLast true). If any entry (including the
// terminator) carries a subnode pointer the node is internal,
// otherwise it is a leaf - matching spec §4.5's "leaves and internal
// nodes are distinguished by a flag on the last entry" (the node-wide
// INDEX_NODE_HEADER.HasChildren flag mirrors the terminator's flag).
type Node struct {
	Entries []*Entry
}

func newLeafNode() *Node {
	return &Node{Entries: []*Entry{{IsLast: true}}}
}

// hasChildren reports whether this node is internal.
func (self *Node) hasChildren() bool {
	for _, e := range self.Entries {
		if e.HasSubnode {
			return true
		}
	}
	return false
}

// byteSize is the encoded size of the node's entries (header-exclusive).
func (self *Node) byteSize() int {
	total := 0
	for _, e := range self.Entries {
		total += e.Size()
	}
	return total
}

// find performs a keyed linear search: it returns the index of the
// first entry whose key is >= key (the terminator always satisfies
// this), and the comparator's diff against that entry (0 only when
// idx's entry is an exact, non-terminator match).
func (self *Node) find(cmp Comparator, key []byte) (idx int, diff int) {
	for i, e := range self.Entries {
		if e.IsLast {
			return i, 1
		}
		d := cmp.Compare(e.Key, key)
		if d >= 0 {
			return i, d
		}
	}
	// Unreachable: the terminator always matches first.
	return len(self.Entries) - 1, 1
}

func (self *Node) insertAt(idx int, e *Entry) {
	self.Entries = append(self.Entries, nil)
	copy(self.Entries[idx+1:], self.Entries[idx:])
	self.Entries[idx] = e
}

func (self *Node) removeAt(idx int) {
	self.Entries = append(self.Entries[:idx], self.Entries[idx+1:]...)
}

// split divides self in two: self keeps the upper half (including the
// terminator) and becomes the "right" node; the returned node holds
// the lower half plus a terminator inheriting the promoted median's
// former subnode, becoming the "left" node. The returned entry is the
// median, promoted to the parent, whose subnode the caller must point
// at the left node's block.
func (self *Node) split() (median *Entry, left *Node) {
	keyed := self.Entries[:len(self.Entries)-1]
	terminator := self.Entries[len(self.Entries)-1]
	mid := len(keyed) / 2
	median = keyed[mid]

	left_entries := append([]*Entry{}, keyed[:mid]...)
	left_terminator := &Entry{IsLast: true, HasSubnode: median.HasSubnode, SubnodeVCN: median.SubnodeVCN}
	left = &Node{Entries: append(left_entries, left_terminator)}

	self.Entries = append([]*Entry{}, keyed[mid+1:]...)
	self.Entries = append(self.Entries, terminator)

	return median, left
}

// --------------------------------------------------------------------
// $INDEX_ROOT encoding (resident, no fixup).

// indexRootHeaderSize covers attr_type/collation_rule/size_of_index_
// alloc_entry/clusters_per_index_record, matching parser.INDEX_ROOT's
// layout (parser/profile.go: Node() lives at offset+0x10).
const indexRootHeaderSize = 0x10

// nodeHeaderSize is INDEX_NODE_HEADER: offset_to_index_entry(4),
// offset_to_end_index_entry(4), size_of_entries_alloc(4), flags(4).
const nodeHeaderSize = 0x10

func encodeNodeHeader(buf []byte, entries_len, alloc_len int, has_children bool) {
	binary.LittleEndian.PutUint32(buf[0x00:], uint32(nodeHeaderSize))
	binary.LittleEndian.PutUint32(buf[0x04:], uint32(nodeHeaderSize+entries_len))
	binary.LittleEndian.PutUint32(buf[0x08:], uint32(alloc_len))
	flags := uint32(0)
	if has_children {
		flags |= 1
	}
	binary.LittleEndian.PutUint32(buf[0x0C:], flags)
}

func (self *Node) encodeEntries(buf []byte) int {
	off := 0
	for _, e := range self.Entries {
		n := e.Encode(buf[off:])
		if n == 0 {
			break
		}
		off += n
	}
	return off
}

// EncodeIndexRoot builds a complete $INDEX_ROOT attribute content
// buffer for self (which must have no subnode pointers at the root
// itself requiring allocation - the root's own children, if any, are
// addressed by VCN into $INDEX_ALLOCATION as usual).
func EncodeIndexRoot(self *Node, attr_type uint32, collation_rule uint32, index_block_size uint32) []byte {
	entries_len := self.byteSize()
	buf := make([]byte, indexRootHeaderSize+nodeHeaderSize+entries_len)
	binary.LittleEndian.PutUint32(buf[0x00:], attr_type)
	binary.LittleEndian.PutUint32(buf[0x04:], collation_rule)
	binary.LittleEndian.PutUint32(buf[0x08:], index_block_size)
	encodeNodeHeader(buf[indexRootHeaderSize:], entries_len, entries_len, self.hasChildren())
	self.encodeEntries(buf[indexRootHeaderSize+nodeHeaderSize:])
	return buf
}

// DecodeIndexRoot is the inverse of EncodeIndexRoot.
func DecodeIndexRoot(buf []byte) (node *Node, attr_type uint32, collation_rule uint32, err error) {
	if len(buf) < indexRootHeaderSize+nodeHeaderSize {
		return nil, 0, 0, fmt.Errorf("index: short INDEX_ROOT: %w", ntfserr.ErrBadFormat)
	}
	attr_type = binary.LittleEndian.Uint32(buf[0x00:])
	collation_rule = binary.LittleEndian.Uint32(buf[0x04:])
	node, err = decodeEntries(buf[indexRootHeaderSize:])
	return node, attr_type, collation_rule, err
}

func decodeEntries(buf []byte) (*Node, error) {
	start := int(binary.LittleEndian.Uint32(buf[0x00:]))
	end := int(binary.LittleEndian.Uint32(buf[0x04:]))
	if start < nodeHeaderSize || end > len(buf) || start > end {
		return nil, fmt.Errorf("index: bad node entry range [%d,%d): %w", start, end, ntfserr.ErrBadFormat)
	}
	node := &Node{}
	for off := start; off < end; {
		e, n, err := DecodeEntry(buf[off:end])
		if err != nil {
			return nil, err
		}
		node.Entries = append(node.Entries, e)
		if e.IsLast || n == 0 {
			break
		}
		off += n
	}
	if len(node.Entries) == 0 || !node.Entries[len(node.Entries)-1].IsLast {
		return nil, fmt.Errorf("index: node missing terminator entry: %w", ntfserr.ErrBadFormat)
	}
	return node, nil
}

// --------------------------------------------------------------------
// $INDEX_ALLOCATION block encoding: a "INDX"-signed STANDARD_INDEX_
// HEADER with its own fixup array, same scheme record.Record.Write
// uses for MFT_ENTRY (see parser.DecodeSTANDARD_INDEX_HEADER, which
// this is the write-side inverse of).

const indexHeaderSize = 0x18 // magic(4) + fixup_offset(2) + fixup_count(2) + lsn(8) + vcn(8)
const indexFixupSectorSize = 512

// allocationBlockOverhead returns the number of bytes EncodeIndexAllocationBlock
// spends on the STANDARD_INDEX_HEADER, fixup array and INDEX_NODE_HEADER
// for a block of block_size bytes, before any entry bytes. Tree uses
// this to know how many bytes of entries actually fit in one block.
func allocationBlockOverhead(block_size int) int {
	sector_count := block_size / indexFixupSectorSize
	fixup_count := sector_count + 1
	array_offset := indexHeaderSize
	node_header_off := align8(array_offset + 2*fixup_count)
	return node_header_off + nodeHeaderSize
}

// EncodeIndexAllocationBlock builds one fixed-size "INDX" block of
// block_size bytes for vcn, with self's entries and a fresh fixup
// array stamped with tag.
func EncodeIndexAllocationBlock(self *Node, vcn int64, block_size int, tag uint16) []byte {
	entries_len := self.byteSize()
	buf := make([]byte, block_size)

	sector_count := block_size / indexFixupSectorSize
	fixup_count := sector_count + 1

	// Fixup array lives immediately after STANDARD_INDEX_HEADER, same
	// as parser.DecodeSTANDARD_INDEX_HEADER expects at Fixup_offset().
	array_offset := indexHeaderSize

	copy(buf[0x00:], "INDX")
	binary.LittleEndian.PutUint16(buf[0x04:], uint16(array_offset))
	binary.LittleEndian.PutUint16(buf[0x06:], uint16(fixup_count))
	binary.LittleEndian.PutUint64(buf[0x08:], 0) // lsn
	binary.LittleEndian.PutUint64(buf[0x10:], uint64(vcn))

	node_header_off := array_offset + 2*fixup_count
	node_header_off = align8(node_header_off)
	encodeNodeHeader(buf[node_header_off:], entries_len, block_size-node_header_off, self.hasChildren())
	self.encodeEntries(buf[node_header_off+nodeHeaderSize:])

	// Fixup: save each sector's real last 2 bytes, stamp the magic.
	magic := make([]byte, 2)
	binary.LittleEndian.PutUint16(magic, tag)
	copy(buf[array_offset:], magic)
	for i := 0; i < sector_count; i++ {
		sector_end := (i+1)*indexFixupSectorSize - 2
		table_slot := array_offset + 2 + i*2
		copy(buf[table_slot:table_slot+2], buf[sector_end:sector_end+2])
		copy(buf[sector_end:sector_end+2], magic)
	}
	return buf
}

// DecodeIndexAllocationBlock is the inverse of
// EncodeIndexAllocationBlock, reversing the fixup before parsing
// entries, exactly as parser.DecodeSTANDARD_INDEX_HEADER does for the
// read-only path.
func DecodeIndexAllocationBlock(buf []byte) (node *Node, vcn int64, err error) {
	if len(buf) < indexHeaderSize || string(buf[0:4]) != "INDX" {
		return nil, 0, fmt.Errorf("index: bad INDX signature: %w", ntfserr.ErrBadFormat)
	}
	array_offset := int(binary.LittleEndian.Uint16(buf[0x04:]))
	fixup_count := int(binary.LittleEndian.Uint16(buf[0x06:]))
	vcn = int64(binary.LittleEndian.Uint64(buf[0x10:]))

	if array_offset+2 > len(buf) {
		return nil, 0, fmt.Errorf("index: fixup array out of range: %w", ntfserr.ErrBadFormat)
	}
	magic := append([]byte{}, buf[array_offset:array_offset+2]...)
	out := append([]byte{}, buf...)

	sector_count := fixup_count - 1
	for i := 0; i < sector_count; i++ {
		sector_end := (i+1)*indexFixupSectorSize - 2
		table_slot := array_offset + 2 + i*2
		if sector_end+2 > len(buf) || table_slot+2 > len(buf) {
			return nil, 0, fmt.Errorf("index: fixup table out of range: %w", ntfserr.ErrBadFormat)
		}
		if out[sector_end] != magic[0] || out[sector_end+1] != magic[1] {
			return nil, 0, fmt.Errorf("index: fixup magic mismatch at sector %d: %w", i, ntfserr.ErrBadFormat)
		}
		copy(out[sector_end:sector_end+2], buf[table_slot:table_slot+2])
	}

	node_header_off := array_offset + 2*fixup_count
	node_header_off = align8(node_header_off)
	node, err = decodeEntries(out[node_header_off:])
	return node, vcn, err
}
