package parser

import (
	"io"
	"sort"
)

// Range describes one contiguous extent of a logical stream, in file
// byte offsets, and whether it is backed by real data or is sparse.
type Range struct {
	Offset   int64
	Length   int64
	IsSparse bool
}

// RangeReaderAt is implemented by anything that can describe its own
// extents as well as read from them - used by callers who want to
// enumerate sparse/compressed runs without reading the data (e.g. the
// `runs` CLI command and fiwalk-style tools).
type RangeReaderAt interface {
	io.ReaderAt
	Ranges() []Range
}

// MappedReader maps one extent of a logical stream (a VCN range of an
// attribute) onto a delegate reader. FileOffset/Length are in bytes of
// the logical stream; TargetOffset is in clusters of the underlying
// disk (0 for sparse runs). CompressedLength, when non zero, means this
// extent is one LZNT1 compression unit whose on-disk footprint is
// shorter than its decompressed Length.
type MappedReader struct {
	FileOffset       int64
	TargetOffset     int64
	Length           int64
	ClusterSize      int64
	CompressedLength int64
	IsSparse         bool
	Reader           io.ReaderAt
}

func (self *MappedReader) ReadAt(buf []byte, offset int64) (int, error) {
	if self.IsSparse || self.Reader == nil {
		avail := self.Length - offset
		if avail <= 0 {
			return 0, io.EOF
		}
		to_read := int64(len(buf))
		if to_read > avail {
			to_read = avail
		}
		for i := int64(0); i < to_read; i++ {
			buf[i] = 0
		}
		return int(to_read), nil
	}

	// Extents placed on disk (or compressed) are read through a
	// single-run RunReader so TargetOffset and decompression apply.
	if self.TargetOffset > 0 || self.CompressedLength > 0 {
		run_reader := &RunReader{
			runs: []ReaderRun{{
				TargetOffset:     self.TargetOffset,
				Length:           self.Length / self.ClusterSize,
				CompressedLength: self.CompressedLength,
				Reader:           self.Reader,
			}},
			cluster_size: self.ClusterSize,
		}
		return run_reader.ReadAt(buf, offset)
	}

	return self.Reader.ReadAt(buf, offset)
}

func (self *MappedReader) Ranges() []Range {
	return []Range{{Offset: self.FileOffset, Length: self.Length, IsSparse: self.IsSparse}}
}

// RangeReader stitches several MappedReader extents together into a
// single logical stream. It is what OpenStream() hands back to callers
// wanting the full content of a (possibly fragmented, compressed or
// sparse) attribute.
type RangeReader struct {
	runs []*MappedReader
}

func (self *RangeReader) ReadAt(buf []byte, file_offset int64) (int, error) {
	buf_idx := 0

	for _, run := range self.runs {
		if buf_idx >= len(buf) {
			break
		}

		offset := file_offset + int64(buf_idx)
		run_end := run.FileOffset + run.Length
		if offset < run.FileOffset || offset >= run_end {
			continue
		}

		to_read := len(buf) - buf_idx
		if avail := run_end - offset; int64(to_read) > avail {
			to_read = int(avail)
		}

		n, err := run.ReadAt(buf[buf_idx:buf_idx+to_read], offset-run.FileOffset)
		buf_idx += n
		if err != nil && err != io.EOF {
			return buf_idx, err
		}
		if n == 0 {
			break
		}
	}

	if buf_idx == 0 {
		return 0, io.EOF
	}

	// Reads that overrun the known runs are padded, consistent with
	// PagedReader's documented short-read semantics.
	for i := buf_idx; i < len(buf); i++ {
		buf[i] = 0
	}
	return len(buf), nil
}

func (self *RangeReader) Ranges() []Range {
	result := make([]Range, 0, len(self.runs))
	for _, r := range self.runs {
		result = append(result, r.Ranges()...)
	}
	return result
}

// NewRangeReader wraps a decoded runlist in a plain (uncompressed)
// RunReader, suitable for use as the delegate Reader of a MappedReader.
func NewRangeReader(runs []Run, disk_reader io.ReaderAt,
	cluster_size int64, compression_unit_size int64) *RunReader {
	return NewRunReader(runs, cluster_size, disk_reader)
}

// NewCompressedRangeReader builds a RangeReader directly over a raw
// NTFS runlist, normalizing compression units the same way
// NewCompressedRunReader does, but exposing each normalized run as a
// MappedReader so callers can inspect Ranges() without reading data.
func NewCompressedRangeReader(runs []Run,
	cluster_size int64, disk_reader io.ReaderAt,
	compression_unit_size int64) *RangeReader {

	run_reader := NewCompressedRunReader(runs, cluster_size, disk_reader, compression_unit_size)

	result := &RangeReader{}
	for _, r := range run_reader.runs {
		is_sparse := r.TargetOffset == 0 && r.CompressedLength == 0
		result.runs = append(result.runs, &MappedReader{
			FileOffset:       r.FileOffset * cluster_size,
			TargetOffset:     r.TargetOffset,
			Length:           r.Length * cluster_size,
			ClusterSize:      cluster_size,
			CompressedLength: r.CompressedLength,
			IsSparse:         is_sparse,
			Reader:           r.Reader,
		})
	}

	return result
}

// joinAllVCNs stitches several $DATA attribute VCN fragments (all of
// the same type+id, covering disjoint VCN ranges) of the bootstrap
// $MFT entry into a single reader over the logical $MFT stream.
func joinAllVCNs(ntfs *NTFSContext, attrs []*NTFS_ATTRIBUTE) []*MappedReader {
	sorted := make([]*NTFS_ATTRIBUTE, len(attrs))
	copy(sorted, attrs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Runlist_vcn_start() < sorted[j].Runlist_vcn_start()
	})

	result := []*MappedReader{}
	for _, attr := range sorted {
		start := int64(attr.Runlist_vcn_start()) * ntfs.ClusterSize
		end := int64(attr.Runlist_vcn_end()+1) * ntfs.ClusterSize

		result = append(result, &MappedReader{
			FileOffset:  start,
			Length:      end - start,
			ClusterSize: 1,
			Reader: NewRunReader(attr.RunList(),
				ntfs.Boot.ClusterSize(), ntfs.DiskReader),
		})
	}

	return result
}
