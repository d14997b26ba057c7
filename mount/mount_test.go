package mount

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vex-labs/ntfs3core/parser"
)

// fakeRangeReader is a minimal parser.RangeReaderAt backed by a plain
// byte slice, standing in for a real $Bitmap/$MFT::$BITMAP stream.
type fakeRangeReader struct {
	data []byte
}

func (self *fakeRangeReader) ReadAt(buf []byte, offset int64) (int, error) {
	n := copy(buf, self.data[offset:])
	return n, nil
}

func (self *fakeRangeReader) Ranges() []parser.Range {
	return []parser.Range{{Offset: 0, Length: int64(len(self.data))}}
}

func TestStreamBackingReadWindow(t *testing.T) {
	data := make([]byte, 8192)
	data[0] = 0xFF
	data[4096] = 0x01

	backing := &streamBacking{reader: &fakeRangeReader{data: data}}

	buf := make([]byte, 4096)
	err := backing.ReadWindow(0, buf)
	assert.NoError(t, err)
	assert.Equal(t, byte(0xFF), buf[0])

	err = backing.ReadWindow(1, buf)
	assert.NoError(t, err)
	assert.Equal(t, byte(0x01), buf[0])
}

func TestStreamBackingReadWindowShortStreamZeroFills(t *testing.T) {
	backing := &streamBacking{reader: &fakeRangeReader{data: make([]byte, 10)}}

	buf := make([]byte, 4096)
	for i := range buf {
		buf[i] = 0x77
	}
	err := backing.ReadWindow(0, buf)
	assert.NoError(t, err)
	for i := 10; i < len(buf); i++ {
		assert.Equal(t, byte(0), buf[i])
	}
}

func TestStreamBackingWriteWindowUnsupported(t *testing.T) {
	backing := &streamBacking{reader: &fakeRangeReader{data: make([]byte, 4096)}}
	err := backing.WriteWindow(0, make([]byte, 4096))
	assert.Error(t, err)
}

func encodeListEntry(attr_type uint32, rno int64) []byte {
	entry := make([]byte, 0x1A)
	binary.LittleEndian.PutUint32(entry, attr_type)
	binary.LittleEndian.PutUint16(entry[0x04:], uint16(len(entry)))
	ref := uint64(rno) & 0xFFFFFFFFFFFF
	binary.LittleEndian.PutUint64(entry[0x10:], ref)
	return entry
}

func TestAttributeListRnosDedupsAndExcludesBase(t *testing.T) {
	content := append(encodeListEntry(0x10, 12), encodeListEntry(0x80, 13)...)
	content = append(content, encodeListEntry(0x80, 13)...)
	content = append(content, encodeListEntry(0x30, 12)...)

	rnos := attributeListRnos(content, 12)
	assert.Equal(t, []int64{13}, rnos)
}

func TestAttributeListRnosEmpty(t *testing.T) {
	rnos := attributeListRnos(nil, 5)
	assert.Nil(t, rnos)
}
