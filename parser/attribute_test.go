package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type compressedRunTestCase struct {
	input []Run
	out   []*MappedReader
}

type rangeTestCase struct {
	input []Run
	out   []Range
}

var (
	CompressedRunTestCases = []compressedRunTestCase{
		// A straightforward compressed run followed by a short
		// sparse pad, then a long uncompressed run followed by
		// another short sparse pad - see the worked example in
		// NewCompressedRunReader.
		{input: []Run{
			{474540, 47},
			{0, 1},
			{48, 1213},
			{0, 3},
		}, out: []*MappedReader{
			{FileOffset: 0, TargetOffset: 474540, Length: 32 * 1024,
				ClusterSize: 1024, CompressedLength: 0, IsSparse: false},
			{FileOffset: 32 * 1024, TargetOffset: 474572, Length: 16 * 1024,
				ClusterSize: 1024, CompressedLength: 15, IsSparse: false},
			{FileOffset: 48 * 1024, TargetOffset: 474588, Length: 1200 * 1024,
				ClusterSize: 1024, CompressedLength: 0, IsSparse: false},
			{FileOffset: 1248 * 1024, TargetOffset: 475788, Length: 16 * 1024,
				ClusterSize: 1024, CompressedLength: 13, IsSparse: false},
		}},

		// A compressed run followed by a sparse run longer than the
		// compression unit: the first compression unit is consumed
		// by the compressed run, the remainder is a genuine sparse
		// hole.
		{input: []Run{
			{1940823, 2},
			{0, 30},
		}, out: []*MappedReader{
			{FileOffset: 0, TargetOffset: 1940823, Length: 16 * 1024,
				ClusterSize: 1024, CompressedLength: 2, IsSparse: false},
			{FileOffset: 2 * 1024, TargetOffset: 0, Length: 16 * 1024,
				ClusterSize: 1024, CompressedLength: 0, IsSparse: true},
		}},
	}

	RangeTestCases = []rangeTestCase{
		{input: []Run{
			{474540, 47},
			{0, 1},
			{48, 1213},
			{0, 3},
		}, out: []Range{
			{Offset: 0, Length: 32 * 1024},
			{Offset: 32 * 1024, Length: 16 * 1024},
			{Offset: 48 * 1024, Length: 1200 * 1024},
			{Offset: 1248 * 1024, Length: 16 * 1024},
		}},

		{input: []Run{
			{1940823, 2},
			{0, 30},
		}, out: []Range{
			{Offset: 0, Length: 16 * 1024},
			{Offset: 2 * 1024, Length: 16 * 1024, IsSparse: true},
		}},
	}
)

func TestNewCompressedRangeReader(t *testing.T) {
	for _, testcase := range CompressedRunTestCases {
		reader := NewCompressedRangeReader(testcase.input, 1024, nil, 16)
		assert.Equal(t, testcase.out, reader.runs)
	}
}

func TestRangeReaderRanges(t *testing.T) {
	for _, testcase := range RangeTestCases {
		reader := NewCompressedRangeReader(testcase.input, 1024, nil, 16)
		assert.Equal(t, testcase.out, reader.Ranges())
	}
}
