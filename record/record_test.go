package record

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vex-labs/ntfs3core/runs"
)

func TestFormatNewAndEnumAttr(t *testing.T) {
	rec := Init(5, 1024)
	rec.FormatNew(5, 0, false)

	assert.Equal(t, uint16(1), rec.Sequence())
	assert.True(t, rec.Flags()&FlagInUse != 0)

	_, err := rec.EnumAttr(nil)
	assert.Error(t, err) // empty record: immediately hits ATTR_END
}

func TestInsertFindRemoveAttr(t *testing.T) {
	rec := Init(5, 1024)
	rec.FormatNew(5, 0, false)

	attr, err := rec.InsertAttr(TypeStandardInformation, "", 0, 64, attrResidentHeaderSize)
	assert.NoError(t, err)
	assert.Equal(t, uint32(TypeStandardInformation), attr.Type())
	assert.Equal(t, uint16(0), attr.ID())

	found, err := rec.FindAttr(TypeStandardInformation, "", nil)
	assert.NoError(t, err)
	assert.Equal(t, attr.Offset, found.Offset)

	err = rec.RemoveAttr(attr)
	assert.NoError(t, err)

	_, err = rec.FindAttr(TypeStandardInformation, "", nil)
	assert.Error(t, err)
}

func TestInsertAttrCanonicalOrder(t *testing.T) {
	rec := Init(5, 1024)
	rec.FormatNew(5, 0, false)

	_, err := rec.InsertAttr(TypeData, "", 0, 64, attrResidentHeaderSize)
	assert.NoError(t, err)
	_, err = rec.InsertAttr(TypeStandardInformation, "", 0, 64, attrResidentHeaderSize)
	assert.NoError(t, err)

	var prev *Attr
	first, err := rec.EnumAttr(prev)
	assert.NoError(t, err)
	assert.Equal(t, uint32(TypeStandardInformation), first.Type())

	second, err := rec.EnumAttr(first)
	assert.NoError(t, err)
	assert.Equal(t, uint32(TypeData), second.Type())
}

func TestResizeAttrGrowShrink(t *testing.T) {
	rec := Init(5, 1024)
	rec.FormatNew(5, 0, false)

	attr, err := rec.InsertAttr(TypeData, "", 0, 64, attrResidentHeaderSize)
	assert.NoError(t, err)

	err = rec.ResizeAttr(attr, 64)
	assert.NoError(t, err)
	assert.Equal(t, uint32(128), attr.Length())

	err = rec.ResizeAttr(attr, -32)
	assert.NoError(t, err)
	assert.Equal(t, uint32(96), attr.Length())
}

func TestSetResidentContentRoundTrip(t *testing.T) {
	rec := Init(5, 1024)
	rec.FormatNew(5, 0, false)

	attr, err := rec.InsertAttr(TypeData, "", 0, 64, attrResidentHeaderSize)
	assert.NoError(t, err)
	rec.InitResident(attr, false)

	payload := []byte("hello ntfs")
	err = rec.SetResidentContent(attr, payload)
	assert.NoError(t, err)
	assert.Equal(t, payload, attr.Content())
}

func TestPackRunsRoundTripsThroughAttribute(t *testing.T) {
	rec := Init(5, 4096)
	rec.FormatNew(5, 0, false)

	attr, err := rec.InsertAttr(TypeData, "", 0, 64, attrNonResidentHeaderSize)
	assert.NoError(t, err)
	rec.InitNonResident(attr, 0, 0, 4096)

	tree := runs.New()
	assert.NoError(t, tree.Add(0, 100, 4))
	assert.NoError(t, tree.Add(4, 200, 4))

	packed, err := rec.PackRuns(attr, tree, 0, 8)
	assert.NoError(t, err)
	assert.Equal(t, int64(8), packed)

	decoded, err := runs.Unpack(attr.RunlistBytes(), 0, 7)
	assert.NoError(t, err)
	assert.Equal(t, tree.Extents(), decoded.Extents())
}

type fakeAllocator struct {
	next int64
	recs map[int64]*Record
}

func newFakeAllocator() *fakeAllocator {
	return &fakeAllocator{next: 100, recs: make(map[int64]*Record)}
}

func (self *fakeAllocator) AllocMFTRecord() (int64, *Record, error) {
	rno := self.next
	self.next++
	rec := Init(rno, 1024)
	self.recs[rno] = rec
	return rno, rec, nil
}

func (self *fakeAllocator) FreeMFTRecord(rno int64) {
	delete(self.recs, rno)
}

func TestInodeInsertResidentSpillsToAttributeList(t *testing.T) {
	base := Init(5, 1024)
	base.FormatNew(5, 0, false)

	alloc := newFakeAllocator()
	inode := NewInode(base, alloc)

	// Fill the base record's resident space so the next insert must
	// spill into a subrecord via create_attr_list/expand_list.
	for i := 0; i < 10; i++ {
		_, _, err := inode.InsertResident(TypeData, "stream", make([]byte, 64))
		if err != nil {
			break
		}
	}

	attr, rec, err := inode.FindAttr(TypeStandardInformation, "", -1)
	_ = attr
	_ = rec
	assert.Error(t, err) // never inserted; just exercising the lookup path
}

func TestInodeWriteInode(t *testing.T) {
	base := Init(5, 1024)
	base.FormatNew(5, 0, false)
	inode := NewInode(base, newFakeAllocator())

	_, _, err := inode.InsertResident(TypeData, "", []byte("payload"))
	assert.NoError(t, err)

	err = inode.WriteInode(false)
	assert.NoError(t, err)
}
