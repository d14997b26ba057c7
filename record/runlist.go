package record

import (
	"encoding/binary"
	"fmt"

	"github.com/vex-labs/ntfs3core/ntfserr"
	"github.com/vex-labs/ntfs3core/runs"
)

// attrSizeThreshold (spec: attr_size_tr ~ 320 bytes) is the boundary
// below which a non-resident attribute is a candidate for converting
// back to resident on shrink.
const attrSizeThreshold = 320

// InitResident turns attr into a resident header, keeping the length
// InsertAttr reserved, with an empty (zero-length) content region
// following the resident header at attrResidentHeaderSize, padded out
// with the attribute's name if it has one.
func (self *Record) InitResident(attr *Attr, indexed bool) {
	attr.setResident(true)
	content_offset := attrResidentHeaderSize + align8(attr.NameLength()*2)
	binary.LittleEndian.PutUint32(self.buf[attr.Offset+attrOffContentSize:], 0)
	binary.LittleEndian.PutUint16(self.buf[attr.Offset+attrOffContentOffset:], uint16(content_offset))
	if indexed {
		self.buf[attr.Offset+attrOffIndexedFlag] = 1
	}
}

// SetResidentContent writes data into attr's resident content region,
// resizing attr first if it doesn't already have room.
func (self *Record) SetResidentContent(attr *Attr, data []byte) error {
	content_offset := attr.ContentOffset()
	needed := align8(content_offset + len(data))
	delta := needed - int(attr.Length())
	if delta != 0 {
		if err := self.ResizeAttr(attr, delta); err != nil {
			return err
		}
	}
	binary.LittleEndian.PutUint32(self.buf[attr.Offset+attrOffContentSize:], uint32(len(data)))
	copy(self.buf[attr.Offset+content_offset:], data)
	self.dirty = true
	return nil
}

// InitNonResident turns attr into a non-resident header covering
// [svcn, evcn], with an empty runlist immediately following the
// non-resident header.
func (self *Record) InitNonResident(attr *Attr, svcn, evcn int64, cluster_size int64) {
	attr.setResident(false)
	runlist_offset := attrNonResidentHeaderSize + align8(attr.NameLength()*2)
	binary.LittleEndian.PutUint16(self.buf[attr.Offset+attrOffRunlistOffset:], uint16(runlist_offset))
	attr.setVCNRange(svcn, evcn)
	binary.LittleEndian.PutUint16(self.buf[attr.Offset+attrOffCompressionLen:], 0)
	attr.setSizes(0, 0, 0)
}

// PackRuns encodes up to count VCNs of tree, starting at attr's svcn,
// into attr's runlist tail, growing attr (via ResizeAttr) to make
// room up to the record's remaining free space. It returns how many
// VCNs were actually packed; if that is less than count, the caller
// must start a new non-resident fragment (in another record) with a
// higher svcn for the remainder.
func (self *Record) PackRuns(attr *Attr, tree *runs.Tree, svcn, count int64) (packed int64, err error) {
	runlist_offset := attr.RunlistOffset()
	header_bytes := attr.Offset + runlist_offset

	used := self.UsedSize()
	max_runlist_len := align8(len(self.buf) - header_bytes - (used - (attr.Offset + int(attr.Length()))))
	if max_runlist_len < 8 {
		max_runlist_len = 8
	}

	buf := make([]byte, max_runlist_len)
	written, packed_vcns, pack_err := tree.Pack(svcn, count, buf)
	if pack_err != nil {
		return 0, fmt.Errorf("record: pack_runs: %w", pack_err)
	}

	new_attr_len := align8(runlist_offset + written)
	delta := new_attr_len - int(attr.Length())
	if delta > 0 {
		if err := self.ResizeAttr(attr, delta); err != nil {
			return 0, fmt.Errorf("record: pack_runs: %w", ntfserr.ErrNoRoom)
		}
	} else if delta < 0 {
		if err := self.ResizeAttr(attr, delta); err != nil {
			return 0, err
		}
	}

	dest := self.buf[attr.Offset+runlist_offset : attr.Offset+runlist_offset+written]
	copy(dest, buf[:written])
	for i := attr.Offset + runlist_offset + written; i < attr.Offset+int(attr.Length()); i++ {
		self.buf[i] = 0
	}

	attr.setVCNRange(svcn, svcn+packed_vcns-1)
	self.dirty = true
	return packed_vcns, nil
}

// ShouldConvertToResident reports whether a non-resident attribute's
// actual size has shrunk enough to be worth converting back.
func ShouldConvertToResident(actual_size int64) bool {
	return actual_size <= attrSizeThreshold
}
