package runs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddMergesAdjacentExtents(t *testing.T) {
	tree := New()
	assert.NoError(t, tree.Add(0, 100, 4))
	assert.NoError(t, tree.Add(4, 104, 4))

	extents := tree.Extents()
	assert.Len(t, extents, 1)
	assert.Equal(t, Extent{VCN: 0, LCN: 100, Length: 8}, extents[0])
}

func TestAddDoesNotMergeAcrossGapOrSparse(t *testing.T) {
	tree := New()
	assert.NoError(t, tree.Add(0, 100, 4))
	assert.NoError(t, tree.Add(4, Sparse, 2))
	assert.NoError(t, tree.Add(6, 200, 4))

	extents := tree.Extents()
	assert.Len(t, extents, 3)
	assert.Equal(t, Extent{VCN: 0, LCN: 100, Length: 4}, extents[0])
	assert.Equal(t, Extent{VCN: 4, LCN: Sparse, Length: 2}, extents[1])
	assert.Equal(t, Extent{VCN: 6, LCN: 200, Length: 4}, extents[2])
}

func TestAddOverwritesOverlap(t *testing.T) {
	tree := New()
	assert.NoError(t, tree.Add(0, 100, 10))
	assert.NoError(t, tree.Add(4, 500, 2))

	extents := tree.Extents()
	assert.Len(t, extents, 3)
	assert.Equal(t, Extent{VCN: 0, LCN: 100, Length: 4}, extents[0])
	assert.Equal(t, Extent{VCN: 4, LCN: 500, Length: 2}, extents[1])
	assert.Equal(t, Extent{VCN: 6, LCN: 106, Length: 4}, extents[2])
}

func TestLookup(t *testing.T) {
	tree := New()
	assert.NoError(t, tree.Add(0, 100, 4))
	assert.NoError(t, tree.Add(4, Sparse, 4))

	extent, _, found := tree.Lookup(2)
	assert.True(t, found)
	assert.Equal(t, int64(100), extent.LCN)

	extent, _, found = tree.Lookup(5)
	assert.True(t, found)
	assert.True(t, extent.isSparse())

	_, _, found = tree.Lookup(8)
	assert.False(t, found)
}

func TestIsMappedFull(t *testing.T) {
	tree := New()
	assert.NoError(t, tree.Add(0, 100, 4))
	assert.NoError(t, tree.Add(6, 200, 4))

	assert.True(t, tree.IsMappedFull(0, 3))
	assert.False(t, tree.IsMappedFull(0, 9))
	assert.True(t, tree.IsMappedFull(6, 9))
}

func TestTruncate(t *testing.T) {
	tree := New()
	assert.NoError(t, tree.Add(0, 100, 4))
	assert.NoError(t, tree.Add(4, 200, 4))

	tree.Truncate(6)
	extents := tree.Extents()
	assert.Len(t, extents, 2)
	assert.Equal(t, Extent{VCN: 4, LCN: 200, Length: 2}, extents[1])
}

func TestTruncateHead(t *testing.T) {
	tree := New()
	assert.NoError(t, tree.Add(0, 100, 4))
	assert.NoError(t, tree.Add(4, 200, 4))

	tree.TruncateHead(2)
	extents := tree.Extents()
	assert.Len(t, extents, 2)
	assert.Equal(t, Extent{VCN: 2, LCN: 102, Length: 2}, extents[0])
	assert.Equal(t, Extent{VCN: 4, LCN: 200, Length: 4}, extents[1])
}

// Runs [(0,100,4),(4,104,4)] merge into a single 8-cluster run before
// packing, which needs only: header(1) + length(1, value 8) +
// delta(1, value 100) + terminator(1) = 4 bytes.
func TestPackMergesBeforePacking(t *testing.T) {
	tree := New()
	assert.NoError(t, tree.Add(0, 100, 4))
	assert.NoError(t, tree.Add(4, 104, 4))

	buf := make([]byte, 16)
	written, packed_vcns, err := tree.Pack(0, 8, buf)
	assert.NoError(t, err)
	assert.Equal(t, int64(8), packed_vcns)
	assert.LessOrEqual(t, written, 4)
}

func TestPackUnpackRoundTrip(t *testing.T) {
	tree := New()
	assert.NoError(t, tree.Add(0, 100, 4))
	assert.NoError(t, tree.Add(4, Sparse, 3))
	assert.NoError(t, tree.Add(7, 50, 10))

	buf := make([]byte, 64)
	written, packed_vcns, err := tree.Pack(0, 17, buf)
	assert.NoError(t, err)
	assert.Equal(t, int64(17), packed_vcns)

	decoded, err := Unpack(buf[:written], 0, 16)
	assert.NoError(t, err)
	assert.Equal(t, tree.Extents(), decoded.Extents())
}

func TestPackStopsWhenBufferTooSmall(t *testing.T) {
	tree := New()
	assert.NoError(t, tree.Add(0, 100, 4))
	assert.NoError(t, tree.Add(4, 100000, 4))

	buf := make([]byte, 3)
	written, packed_vcns, err := tree.Pack(0, 8, buf)
	assert.NoError(t, err)
	assert.Less(t, packed_vcns, int64(8))
	assert.LessOrEqual(t, written, 3)
}

func TestPackNegativeDelta(t *testing.T) {
	tree := New()
	assert.NoError(t, tree.Add(0, 1000, 4))
	assert.NoError(t, tree.Add(4, 10, 4))

	buf := make([]byte, 32)
	written, packed_vcns, err := tree.Pack(0, 8, buf)
	assert.NoError(t, err)
	assert.Equal(t, int64(8), packed_vcns)

	decoded, err := Unpack(buf[:written], 0, 7)
	assert.NoError(t, err)
	assert.Equal(t, tree.Extents(), decoded.Extents())
}

func TestUnpackRejectsTruncatedStream(t *testing.T) {
	buf := []byte{0x31, 0x04} // header says 3 offset bytes, 1 length byte - only 1 byte follows
	_, err := Unpack(buf, 0, -1)
	assert.Error(t, err)
}
