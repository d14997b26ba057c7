package inode

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vex-labs/ntfs3core/alloc"
	"github.com/vex-labs/ntfs3core/index"
	"github.com/vex-labs/ntfs3core/record"
)

const testClusterSize = 4096

type fakeRecordAllocator struct {
	next int64
}

func (self *fakeRecordAllocator) AllocMFTRecord() (int64, *record.Record, error) {
	rno := self.next
	self.next++
	rec := record.Init(rno, 1024)
	return rno, rec, nil
}

func (self *fakeRecordAllocator) FreeMFTRecord(rno int64) {}

// fakeClusterAllocator hands out clusters sequentially from a bump
// pointer and remembers what has been freed, enough to exercise
// ExtendData/Truncate/DeleteAll without a real bitmap.
type fakeClusterAllocator struct {
	next  int64
	freed []int64
}

func (self *fakeClusterAllocator) LookForFreeSpace(hint_lcn, want_len int64, opt alloc.AllocOpt) (int64, int64, error) {
	lcn := self.next
	self.next += want_len
	return lcn, want_len, nil
}

func (self *fakeClusterAllocator) MarkAsFreeEx(lcn, length int64, trim bool) error {
	self.freed = append(self.freed, lcn)
	return nil
}

func newTestInode(is_dir bool) (*Inode, *fakeRecordAllocator, *fakeClusterAllocator) {
	base := record.Init(5, 1024)
	base.FormatNew(5, 0, false)

	recAlloc := &fakeRecordAllocator{next: 100}
	clusterAlloc := &fakeClusterAllocator{next: 10}
	ino := New(base, recAlloc, clusterAlloc, testClusterSize, is_dir)

	_, _, err := ino.ni.InsertResident(record.TypeStandardInformation, "", make([]byte, 0x30))
	if err != nil {
		panic(err)
	}
	return ino, recAlloc, clusterAlloc
}

func TestFileAttributesRoundTrip(t *testing.T) {
	ino, _, _ := newTestInode(false)

	err := ino.SetFileAttributes(0x20)
	assert.NoError(t, err)

	got, err := ino.FileAttributes()
	assert.NoError(t, err)
	assert.Equal(t, uint32(0x20), got)
}

func TestExtendDataAllocatesAndGrows(t *testing.T) {
	ino, _, clusters := newTestInode(false)

	err := ino.ExtendData(testClusterSize * 3)
	assert.NoError(t, err)

	_, actual, allocated, err := ino.dataSizesLocked()
	assert.NoError(t, err)
	assert.Equal(t, int64(testClusterSize*3), actual)
	assert.Equal(t, int64(testClusterSize*3), allocated)
	assert.Equal(t, int64(13), clusters.next) // started at 10, wanted 3
}

func TestExtendDataThenTruncateFreesClusters(t *testing.T) {
	ino, _, clusters := newTestInode(false)

	assert.NoError(t, ino.ExtendData(testClusterSize*4))
	assert.NoError(t, ino.Truncate(testClusterSize, false))

	_, actual, allocated, err := ino.dataSizesLocked()
	assert.NoError(t, err)
	assert.Equal(t, int64(testClusterSize), actual)
	assert.Equal(t, int64(testClusterSize), allocated)
	assert.NotEmpty(t, clusters.freed)
}

func TestSizeInvariantRejectsValidGreaterThanActual(t *testing.T) {
	ino, _, _ := newTestInode(false)
	assert.NoError(t, ino.ExtendData(testClusterSize))

	err := ino.setDataSizesLocked(testClusterSize*2, testClusterSize, testClusterSize)
	assert.Error(t, err)
}

func TestDirectoryIndexAddLookupRemove(t *testing.T) {
	ino, _, _ := newTestInode(true)
	assert.NoError(t, ino.InitDirectoryIndex(4096))

	key := &index.FileNameKey{ParentRef: 5, Name: "hello.txt", NameType: 1}
	assert.NoError(t, ino.AddDirEntry(key, 42))

	found, err := ino.Lookup(5, "HELLO.TXT")
	assert.NoError(t, err)
	assert.Equal(t, uint64(42), found.MftRef)

	entries, err := ino.ReadDir()
	assert.NoError(t, err)
	assert.Len(t, entries, 1)

	assert.NoError(t, ino.RemoveDirEntry(5, "hello.txt"))
	_, err = ino.Lookup(5, "hello.txt")
	assert.Error(t, err)
}

func TestDeleteAllFreesLoadedRuns(t *testing.T) {
	ino, _, clusters := newTestInode(false)
	assert.NoError(t, ino.ExtendData(testClusterSize*2))

	assert.NoError(t, ino.DeleteAll(false))
	assert.NotEmpty(t, clusters.freed)
}
