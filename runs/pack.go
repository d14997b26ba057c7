package runs

import (
	"encoding/binary"
	"fmt"
)

// Pack serializes the extents covering [svcn, svcn+count) into buf using
// NTFS's variable-width runlist encoding - the same byte format decoded
// by parser.NTFS_ATTRIBUTE.RunList(), so a non-resident attribute built
// from Pack's output reads back through the teacher's existing decoder
// unchanged.
//
// Each run is encoded as a header byte (low nibble: length byte count,
// high nibble: lcn-delta byte count), the length as little-endian
// unsigned bytes, then the LCN delta (relative to the previous run's
// LCN, cumulative across sparse runs) as little-endian sign-extended
// bytes. A sparse run stores a zero-size delta field. The list is
// terminated with a single zero byte.
//
// Pack stops before a run that would overflow buf; packed_vcns reports
// how many VCNs, starting at svcn, were actually encoded - callers must
// re-invoke Pack with a larger buffer or a smaller count if
// packed_vcns < count.
func (self *Tree) Pack(svcn, count int64, buf []byte) (written int, packed_vcns int64, err error) {
	if count <= 0 {
		return 0, 0, nil
	}

	prev_lcn := int64(0)
	vcn := svcn
	end := svcn + count
	offset := 0

	for vcn < end {
		extent, idx, found := self.Lookup(vcn)
		if !found {
			return 0, 0, fmt.Errorf("runs: pack: vcn %d is unmapped", vcn)
		}

		run_start := vcn
		run_end := extent.End()
		if run_end > end {
			run_end = end
		}
		run_len := run_end - run_start

		var lcn_for_run int64
		if !extent.isSparse() {
			lcn_for_run = extent.LCN + (run_start - extent.VCN)
		}

		header_off := offset
		length_bytes := encodeUnsigned(run_len)
		var delta_bytes []byte
		delta := int64(0)
		if !extent.isSparse() {
			delta = lcn_for_run - prev_lcn
			delta_bytes = encodeSigned(delta)
		}

		need := 1 + len(length_bytes) + len(delta_bytes)
		if offset+need+1 > len(buf) {
			// +1 reserves room for the terminator byte.
			break
		}

		header := byte(len(length_bytes)&0xF) | byte(len(delta_bytes)<<4)
		buf[header_off] = header
		offset++

		for _, b := range length_bytes {
			buf[offset] = b
			offset++
		}
		for _, b := range delta_bytes {
			buf[offset] = b
			offset++
		}

		if !extent.isSparse() {
			prev_lcn += delta
		}

		vcn = run_end
		_ = idx
	}

	buf[offset] = 0
	offset++

	return offset, vcn - svcn, nil
}

// Unpack decodes a runlist byte stream (as produced by Pack, or read
// straight off disk by parser) into a Tree, assigning VCNs starting at
// svcn. evcn bounds the total span and is used only to validate the
// decoded run lengths add up to a sane range; pass -1 to skip that
// check.
func Unpack(buf []byte, svcn, evcn int64) (*Tree, error) {
	tree := New()
	prev_lcn := int64(0)
	vcn := svcn

	length_buffer := make([]byte, 8)
	offset_buffer := make([]byte, 8)

	for offset := 0; offset < len(buf); {
		idx := buf[offset]
		if idx == 0 {
			break
		}

		length_size := int(idx & 0xF)
		run_offset_size := int(idx >> 4)
		offset++

		if offset+length_size+run_offset_size > len(buf) {
			return nil, fmt.Errorf("runs: unpack: truncated runlist")
		}

		for i := 0; i < 8; i++ {
			if i < length_size {
				length_buffer[i] = buf[offset]
				offset++
			} else {
				length_buffer[i] = 0
			}
		}

		var sign byte = 0x00
		for i := 0; i < 8; i++ {
			if i == run_offset_size-1 && buf[offset]&0x80 != 0 {
				sign = 0xFF
			}
			if i < run_offset_size {
				offset_buffer[i] = buf[offset]
				offset++
			} else {
				offset_buffer[i] = sign
			}
		}

		run_length := int64(binary.LittleEndian.Uint64(length_buffer))
		delta := int64(binary.LittleEndian.Uint64(offset_buffer))

		if run_length <= 0 {
			return nil, fmt.Errorf("runs: unpack: zero-length run")
		}

		if run_offset_size == 0 {
			if err := tree.Add(vcn, Sparse, run_length); err != nil {
				return nil, err
			}
		} else {
			prev_lcn += delta
			if err := tree.Add(vcn, prev_lcn, run_length); err != nil {
				return nil, err
			}
		}

		vcn += run_length
	}

	if evcn >= svcn && vcn-1 != evcn {
		return nil, fmt.Errorf("runs: unpack: decoded span [%d,%d) does not match requested evcn %d",
			svcn, vcn, evcn)
	}

	return tree, nil
}

// encodeUnsigned returns the minimal little-endian byte count that
// represents v (v must be >= 0); the decoder zero-pads so no sign bit
// is needed.
func encodeUnsigned(v int64) []byte {
	if v == 0 {
		return []byte{0}
	}
	full := make([]byte, 8)
	binary.LittleEndian.PutUint64(full, uint64(v))

	n := 8
	for n > 1 && full[n-1] == 0 {
		n--
	}
	return full[:n]
}

// encodeSigned returns the minimal little-endian, sign-extendable byte
// count that represents v, or an empty slice if v == 0 (the sparse
// convention: a zero delta is stored as a zero-size field, not a
// single zero byte). This means a non-sparse run whose LCN happens to
// equal the running cumulative LCN is indistinguishable from a sparse
// run once packed - in practice this never arises because LCN 0 is
// reserved for the boot sector and no data run starts there.
func encodeSigned(v int64) []byte {
	if v == 0 {
		return []byte{}
	}
	full := make([]byte, 8)
	binary.LittleEndian.PutUint64(full, uint64(v))

	n := 8
	for n > 1 {
		msb := full[n-1]
		next := full[n-2]
		if msb == 0x00 && next&0x80 == 0 {
			n--
			continue
		}
		if msb == 0xFF && next&0x80 != 0 {
			n--
			continue
		}
		break
	}
	return full[:n]
}
