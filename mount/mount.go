// Package mount bridges the read-only parser package to the write
// engine (alloc, record, inode): given a block device holding an NTFS
// volume, it reads the boot sector and $MFT/$Bitmap metadata the way
// parser already does for read-only inspection, and uses the result to
// construct the wnd.Bitmap/alloc.Allocator/record.Inode/inode.Inode
// stack the rest of this driver operates on, per spec §1's framing of
// this repo as turning "a block device holding an NTFS volume into a
// live, mutable file tree."
package mount

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vex-labs/ntfs3core/alloc"
	"github.com/vex-labs/ntfs3core/inode"
	"github.com/vex-labs/ntfs3core/ntfserr"
	"github.com/vex-labs/ntfs3core/parser"
	"github.com/vex-labs/ntfs3core/record"
	"github.com/vex-labs/ntfs3core/wnd"
)

// attrData and attrBitmap are the two well-known attribute types this
// package reads directly (parser/types.go's ATTR_TYPE_DATA/ATTR_TYPE_BITMAP).
const (
	attrData   = 0x80
	attrBitmap = 0xB0
)

// bitmapWindowBytes is the window size used for both the cluster and
// MFT-record bitmaps, matching the "8*page_size" convention wnd.go
// documents for spec §4.2.
const bitmapWindowBytes = 4096

// streamBacking adapts a parser attribute stream (read-only) into
// wnd.Backing. WriteWindow always fails: parser has no io.WriterAt
// side, so a mounted volume's bitmaps are read-only snapshots - see
// DESIGN.md for why persisting allocator state back to a live image is
// out of scope.
type streamBacking struct {
	reader parser.RangeReaderAt
}

func (self *streamBacking) ReadWindow(idx int64, buf []byte) error {
	n, err := self.reader.ReadAt(buf, idx*int64(len(buf)))
	if err != nil && err != io.EOF {
		return err
	}
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return nil
}

func (self *streamBacking) WriteWindow(idx int64, buf []byte) error {
	return fmt.Errorf("mount: bitmap is a read-only snapshot of a mounted image: %w", ntfserr.ErrNotSupported)
}

// Volume is a mounted NTFS filesystem: the parser context used to
// resolve raw MFT records plus the allocator built over its real
// $Bitmap/$MFT::$Bitmap streams.
type Volume struct {
	ntfs        *parser.NTFSContext
	ClusterSize int64
	RecordSize  int64
	Allocator   *alloc.Allocator
	records     *volumeRecordAllocator
}

// volumeRecordAllocator adapts Volume's allocator into
// record.RecordAllocator, the same role bin/mkfs_demo.go's
// demoRecordAllocator plays for the synthetic in-memory volume.
type volumeRecordAllocator struct {
	vol *Volume
}

func (self *volumeRecordAllocator) AllocMFTRecord() (int64, *record.Record, error) {
	rno, err := self.vol.Allocator.LookFreeMFT(0)
	if err != nil {
		return 0, nil, err
	}
	rec := record.Init(rno, self.vol.RecordSize)
	rec.FormatNew(rno, 0, false)
	return rno, rec, nil
}

func (self *volumeRecordAllocator) FreeMFTRecord(rno int64) {
	self.vol.Allocator.MarkRecFree(rno)
}

// Mount opens reader as an NTFS volume at the given byte offset (0 for
// a bare partition image) and builds the allocator stack over it.
func Mount(reader io.ReaderAt, offset int64) (*Volume, error) {
	ntfs, err := parser.GetNTFSContext(reader, offset)
	if err != nil {
		return nil, fmt.Errorf("mount: opening boot sector: %w", err)
	}

	cluster_size := ntfs.Boot.ClusterSize()
	record_size := ntfs.GetRecordSize()

	cluster_bitmap_entry, err := ntfs.GetMFT(6)
	if err != nil {
		return nil, fmt.Errorf("mount: opening $Bitmap: %w", err)
	}
	cluster_stream, err := parser.OpenStream(ntfs, cluster_bitmap_entry, attrData, 0)
	if err != nil {
		return nil, fmt.Errorf("mount: opening $Bitmap::$DATA: %w", err)
	}
	cluster_bitmap := wnd.Init(ntfs.Boot.BlockCount(), 8*bitmapWindowBytes,
		&streamBacking{reader: cluster_stream})

	mft_zero, err := ntfs.GetMFT(0)
	if err != nil {
		return nil, fmt.Errorf("mount: opening $MFT: %w", err)
	}
	mft_data_stream, err := parser.OpenStream(ntfs, mft_zero, attrData, 0)
	if err != nil {
		return nil, fmt.Errorf("mount: opening $MFT::$DATA: %w", err)
	}
	var mft_data_size int64
	for _, r := range mft_data_stream.Ranges() {
		if r.Offset+r.Length > mft_data_size {
			mft_data_size = r.Offset + r.Length
		}
	}
	total_records := mft_data_size / record_size

	mft_bitmap_stream, err := parser.OpenStream(ntfs, mft_zero, attrBitmap, 0)
	if err != nil {
		return nil, fmt.Errorf("mount: opening $MFT::$BITMAP: %w", err)
	}
	mft_bitmap := wnd.Init(total_records, 8*bitmapWindowBytes,
		&streamBacking{reader: mft_bitmap_stream})

	vol := &Volume{
		ntfs:        ntfs,
		ClusterSize: cluster_size,
		RecordSize:  record_size,
	}
	vol.Allocator = alloc.New(cluster_bitmap, mft_bitmap, alloc.Options{ClusterSize: cluster_size})
	vol.records = &volumeRecordAllocator{vol: vol}
	return vol, nil
}

// loadRawRecord reads record number rno straight off the volume's raw
// $MFT stream - pre-fixup bytes, the same input record.Record.Read
// expects, and deliberately not through parser.NTFSContext.GetMFT,
// which hands back an already fixed-up buffer that record.Record.Read
// would reject (its fixup-magic bytes have already been replaced).
func loadRawRecord(ntfs *parser.NTFSContext, rno int64, record_size int64) (*record.Record, error) {
	if ntfs.MFTReader == nil {
		return nil, fmt.Errorf("mount: $MFT stream not bootstrapped: %w", ntfserr.ErrNotSupported)
	}
	buf := make([]byte, record_size)
	n, err := ntfs.MFTReader.ReadAt(buf, rno*record_size)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("mount: reading MFT record %d: %w", rno, err)
	}
	if int64(n) < record_size {
		return nil, fmt.Errorf("mount: short read of MFT record %d (%d of %d bytes): %w",
			rno, n, record_size, ntfserr.ErrBadFormat)
	}

	rec := record.Init(rno, record_size)
	if err := rec.Read(rno, buf); err != nil {
		return nil, fmt.Errorf("mount: decoding MFT record %d: %w", rno, err)
	}
	return rec, nil
}

// attributeListRnos extracts the distinct subrecord numbers referenced
// by a resident $ATTRIBUTE_LIST's raw content, grounded on the same
// ATTRIBUTE_LIST_ENTRY layout record.Inode's own (unexported)
// listEntries decodes: mft_reference at entry offset 0x10, masked to
// its low 48 bits.
func attributeListRnos(content []byte, base_rno int64) []int64 {
	seen := map[int64]bool{base_rno: true}
	var result []int64
	offset := 0
	for offset+0x1A <= len(content) {
		length := int(binary.LittleEndian.Uint16(content[offset+0x04:]))
		if length < 0x1A {
			break
		}
		rno := int64(binary.LittleEndian.Uint64(content[offset+0x10:]) & 0xFFFFFFFFFFFF)
		if !seen[rno] {
			seen[rno] = true
			result = append(result, rno)
		}
		offset += length
	}
	return result
}

// OpenInode loads MFT record rno directly off the mounted volume and
// wraps it in a mutable inode.Inode, following its $ATTRIBUTE_LIST (if
// resident) to pull in every subrecord it references.
//
// Known limitation: an inode whose $ATTRIBUTE_LIST is itself
// non-resident is not walked - record.Inode already documents that
// scope limit (ni.go), and a mount built on this small a test corpus
// never exercises it.
func (self *Volume) OpenInode(rno int64) (*inode.Inode, error) {
	base, err := loadRawRecord(self.ntfs, rno, self.RecordSize)
	if err != nil {
		return nil, err
	}

	is_dir := base.Flags()&record.FlagDirectory != 0
	ino := inode.New(base, self.records, self.Allocator, self.ClusterSize, is_dir)

	if list_attr, err := base.FindAttr(record.TypeAttributeList, "", nil); err == nil {
		for _, sub_rno := range attributeListRnos(list_attr.Content(), rno) {
			sub_rec, err := loadRawRecord(self.ntfs, sub_rno, self.RecordSize)
			if err != nil {
				continue
			}
			ino.Record().AddSubrecord(sub_rno, sub_rec)
		}
	}

	if is_dir {
		if err := ino.LoadDirectoryIndex(int(self.ClusterSize)); err != nil {
			return nil, fmt.Errorf("mount: loading $I30 for record %d: %w", rno, err)
		}
	}
	return ino, nil
}

// DebugString summarizes the volume's allocator state.
func (self *Volume) DebugString() string {
	return self.Allocator.DebugString()
}
