package xattr

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vex-labs/ntfs3core/alloc"
	"github.com/vex-labs/ntfs3core/inode"
	"github.com/vex-labs/ntfs3core/record"
)

type fakeRecordAllocator struct{ next int64 }

func (self *fakeRecordAllocator) AllocMFTRecord() (int64, *record.Record, error) {
	rno := self.next
	self.next++
	return rno, record.Init(rno, 1024), nil
}
func (self *fakeRecordAllocator) FreeMFTRecord(rno int64) {}

type fakeClusterAllocator struct{ next int64 }

func (self *fakeClusterAllocator) LookForFreeSpace(hint_lcn, want_len int64, opt alloc.AllocOpt) (int64, int64, error) {
	lcn := self.next
	self.next += want_len
	return lcn, want_len, nil
}
func (self *fakeClusterAllocator) MarkAsFreeEx(lcn, length int64, trim bool) error { return nil }

func newTestInode(t *testing.T, is_dir bool) *inode.Inode {
	base := record.Init(5, 1024)
	base.FormatNew(5, 0, false)
	ino := inode.New(base, &fakeRecordAllocator{next: 100}, &fakeClusterAllocator{next: 10}, 4096, is_dir)

	_, _, err := ino.Record().InsertResident(record.TypeStandardInformation, "", make([]byte, 0x38))
	assert.NoError(t, err)
	return ino
}

func TestEAStoreSetGetList(t *testing.T) {
	ino := newTestInode(t, false)
	store := NewEAStore(ino)

	err := store.Set("user.comment", []byte("hello"), SetDefault)
	assert.NoError(t, err)

	value, err := store.Get("user.comment")
	assert.NoError(t, err)
	assert.Equal(t, []byte("hello"), value)

	names, err := store.List()
	assert.NoError(t, err)
	assert.Equal(t, []string{"user.comment"}, names)
}

func TestEAStoreSetCreateFailsIfExists(t *testing.T) {
	ino := newTestInode(t, false)
	store := NewEAStore(ino)

	assert.NoError(t, store.Set("user.a", []byte("1"), SetDefault))
	err := store.Set("user.a", []byte("2"), SetCreate)
	assert.Error(t, err)
}

func TestEAStoreSetReplaceFailsIfMissing(t *testing.T) {
	ino := newTestInode(t, false)
	store := NewEAStore(ino)

	err := store.Set("user.missing", []byte("x"), SetReplace)
	assert.Error(t, err)
}

func TestEAStoreRemoveByNilValue(t *testing.T) {
	ino := newTestInode(t, false)
	store := NewEAStore(ino)

	assert.NoError(t, store.Set("user.a", []byte("1"), SetDefault))
	assert.NoError(t, store.Set("user.a", nil, SetDefault))

	_, err := store.Get("user.a")
	assert.Error(t, err)
}

// TestEAStoreRemoveByEmptyValueReplace exercises the literal boundary
// scenario: set_ea(k, v); set_ea(k, "", REPLACE); get_ea(k) == not-found.
// "" arrives as a non-nil, zero-length []byte, the natural Go rendering
// of an empty value - it must delete exactly like a nil value does.
func TestEAStoreRemoveByEmptyValueReplace(t *testing.T) {
	ino := newTestInode(t, false)
	store := NewEAStore(ino)

	assert.NoError(t, store.Set("user.a", []byte("1"), SetDefault))
	assert.NoError(t, store.Set("user.a", []byte{}, SetReplace))

	_, err := store.Get("user.a")
	assert.Error(t, err)
}

func TestEAStoreSetMirrorsNIFlagEA(t *testing.T) {
	ino := newTestInode(t, false)
	store := NewEAStore(ino)

	assert.Equal(t, uint32(0), ino.Record().NIFlags()&record.NIFlagEA)

	assert.NoError(t, store.Set("user.a", []byte("1"), SetDefault))
	assert.NotEqual(t, uint32(0), ino.Record().NIFlags()&record.NIFlagEA)

	assert.NoError(t, store.Set("user.a", nil, SetDefault))
	assert.Equal(t, uint32(0), ino.Record().NIFlags()&record.NIFlagEA)
}

func TestEAStoreSetMarksNIFlagUpdateParentOnSizePackChange(t *testing.T) {
	ino := newTestInode(t, false)
	store := NewEAStore(ino)

	assert.NoError(t, store.Set("user.a", []byte("1"), SetDefault))
	assert.NotEqual(t, uint32(0), ino.Record().NIFlags()&record.NIFlagUpdateParent)

	ino.Record().SetNIFlag(record.NIFlagUpdateParent, false)
	assert.NoError(t, store.Set("user.a", []byte("1"), SetDefault))
	assert.Equal(t, uint32(0), ino.Record().NIFlags()&record.NIFlagUpdateParent)

	assert.NoError(t, store.Set("user.a", []byte("much-longer-value"), SetDefault))
	assert.NotEqual(t, uint32(0), ino.Record().NIFlags()&record.NIFlagUpdateParent)
}

func TestEAStoreMultipleEntriesRoundTrip(t *testing.T) {
	ino := newTestInode(t, false)
	store := NewEAStore(ino)

	assert.NoError(t, store.Set("user.a", []byte("one"), SetDefault))
	assert.NoError(t, store.Set("user.b", []byte("two-longer-value"), SetDefault))
	assert.NoError(t, store.Set("user.c", []byte("3"), SetDefault))

	a, err := store.Get("user.a")
	assert.NoError(t, err)
	assert.Equal(t, []byte("one"), a)

	b, err := store.Get("user.b")
	assert.NoError(t, err)
	assert.Equal(t, []byte("two-longer-value"), b)

	names, err := store.List()
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"user.a", "user.b", "user.c"}, names)
}

func TestDispatcherDosAttribRoundTrip(t *testing.T) {
	ino := newTestInode(t, false)
	d := NewDispatcher(ino, nil)

	err := d.SetXAttr(NameSystemDosAttrib, []byte{0x20})
	assert.NoError(t, err)

	got, err := d.GetXAttr(NameSystemDosAttrib)
	assert.NoError(t, err)
	assert.Equal(t, []byte{0x20}, got)

	fa, err := ino.FileAttributes()
	assert.NoError(t, err)
	assert.Equal(t, uint32(0x20), fa)
}

func TestDispatcherDosAttribKeepsDirectoryBit(t *testing.T) {
	ino := newTestInode(t, true)
	d := NewDispatcher(ino, nil)

	assert.NoError(t, d.SetXAttr(NameSystemNtfsAttrib, []byte{0x20, 0, 0, 0}))

	fa, err := ino.FileAttributes()
	assert.NoError(t, err)
	assert.Equal(t, uint32(0x20|fileAttributeDirectory), fa)
}

func TestDispatcherUserDosAttribStringForm(t *testing.T) {
	ino := newTestInode(t, false)
	d := NewDispatcher(ino, nil)

	got, err := d.GetXAttr(NameUserDosAttrib)
	assert.NoError(t, err)
	assert.Equal(t, []byte("0x0"), got)

	assert.NoError(t, d.SetXAttr(NameUserDosAttrib, []byte("0x21\x00")))
	fa, err := ino.FileAttributes()
	assert.NoError(t, err)
	assert.Equal(t, uint32(0x21), fa)
}

func TestDispatcherGenericFallthrough(t *testing.T) {
	ino := newTestInode(t, false)
	d := NewDispatcher(ino, nil)

	assert.NoError(t, d.SetXAttr("user.tag", []byte("v1")))
	got, err := d.GetXAttr("user.tag")
	assert.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	names, err := d.ListXAttr()
	assert.NoError(t, err)
	assert.Equal(t, []string{"user.tag"}, names)
}

func TestDispatcherSecurityRoundTrip(t *testing.T) {
	ino := newTestInode(t, false)
	secure := NewSecureStore(4096)
	d := NewDispatcher(ino, secure)

	descriptor := []byte("fake-security-descriptor-bytes")
	assert.NoError(t, d.SetXAttr(NameSystemNtfsSecurity, descriptor))

	got, err := d.GetXAttr(NameSystemNtfsSecurity)
	assert.NoError(t, err)
	assert.Equal(t, descriptor, got)
}

func TestSecureStoreDedupsIdenticalDescriptors(t *testing.T) {
	secure := NewSecureStore(4096)
	descriptor := []byte("shared-descriptor")

	id1, inserted1, err := secure.InsertSecurity(descriptor)
	assert.NoError(t, err)
	assert.True(t, inserted1)

	id2, inserted2, err := secure.InsertSecurity(append([]byte{}, descriptor...))
	assert.NoError(t, err)
	assert.False(t, inserted2)
	assert.Equal(t, id1, id2)
}

func TestSecureStoreDistinctDescriptorsGetDistinctIDs(t *testing.T) {
	secure := NewSecureStore(4096)

	id1, _, err := secure.InsertSecurity([]byte("descriptor-one"))
	assert.NoError(t, err)
	id2, _, err := secure.InsertSecurity([]byte("descriptor-two"))
	assert.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	got1, err := secure.GetSecurity(id1)
	assert.NoError(t, err)
	assert.Equal(t, []byte("descriptor-one"), got1)

	got2, err := secure.GetSecurity(id2)
	assert.NoError(t, err)
	assert.Equal(t, []byte("descriptor-two"), got2)
}
