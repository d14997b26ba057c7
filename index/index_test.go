package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestTree(root_capacity, block_size int) *Tree {
	t := NewTree(OpaqueComparator{}, NewBitmapBlockStore(256), block_size, 0x30, 0)
	t.rootCapacity = root_capacity
	return t
}

func keyOf(i int) []byte { return []byte{byte(i)} }

func TestInsertFindBasic(t *testing.T) {
	tree := newTestTree(320, 4096)

	for i := 0; i < 5; i++ {
		err := tree.InsertEntry(&Entry{MftRef: uint64(i), Key: keyOf(i)})
		assert.NoError(t, err)
	}

	entry, diff, _, err := tree.Find(keyOf(3))
	assert.NoError(t, err)
	assert.Equal(t, 0, diff)
	assert.Equal(t, uint64(3), entry.MftRef)

	_, diff, _, err = tree.Find(keyOf(99))
	assert.NoError(t, err)
	assert.NotEqual(t, 0, diff)
}

func TestInsertDuplicateFails(t *testing.T) {
	tree := newTestTree(320, 4096)
	assert.NoError(t, tree.InsertEntry(&Entry{MftRef: 1, Key: keyOf(1)}))
	err := tree.InsertEntry(&Entry{MftRef: 2, Key: keyOf(1)})
	assert.Error(t, err)
}

func TestInsertSplitsAndGrowsRoot(t *testing.T) {
	tree := newTestTree(40, 256)

	const n = 40
	for i := 0; i < n; i++ {
		// Insert in a shuffled order so the tree isn't built in strict
		// ascending order.
		key := (i*7 + 3) % n
		err := tree.InsertEntry(&Entry{MftRef: uint64(key), Key: keyOf(key)})
		assert.NoErrorf(t, err, "insert %d", key)
	}

	sorted, err := tree.FindSort()
	assert.NoError(t, err)
	assert.Len(t, sorted, n)
	for i, e := range sorted {
		assert.Equal(t, byte(i), e.Key[0])
		assert.Equal(t, uint64(i), e.MftRef)
	}

	// The root must have grown into an internal node once entries
	// stopped fitting in rootCapacity.
	assert.True(t, tree.root.hasChildren())
}

func TestFindRawVisitsEveryEntryOnce(t *testing.T) {
	tree := newTestTree(40, 256)
	const n = 25
	for i := 0; i < n; i++ {
		assert.NoError(t, tree.InsertEntry(&Entry{MftRef: uint64(i), Key: keyOf(i)}))
	}

	raw, err := tree.FindRaw()
	assert.NoError(t, err)
	assert.Len(t, raw, n)

	seen := map[byte]bool{}
	for _, e := range raw {
		seen[e.Key[0]] = true
	}
	assert.Len(t, seen, n)
}

func TestDeleteLeafEntry(t *testing.T) {
	tree := newTestTree(320, 4096)
	for i := 0; i < 5; i++ {
		assert.NoError(t, tree.InsertEntry(&Entry{MftRef: uint64(i), Key: keyOf(i)}))
	}

	assert.NoError(t, tree.DeleteEntry(keyOf(2)))
	_, diff, _, err := tree.Find(keyOf(2))
	assert.NoError(t, err)
	assert.NotEqual(t, 0, diff)

	err = tree.DeleteEntry(keyOf(2))
	assert.Error(t, err)
}

func TestDeleteInternalEntrySwapsSuccessor(t *testing.T) {
	tree := newTestTree(40, 256)
	const n = 30
	for i := 0; i < n; i++ {
		assert.NoError(t, tree.InsertEntry(&Entry{MftRef: uint64(i), Key: keyOf(i)}))
	}
	assert.True(t, tree.root.hasChildren())

	// Delete a key from the middle of the range; it should be sitting
	// on an internal separator in a tree this size.
	assert.NoError(t, tree.DeleteEntry(keyOf(15)))

	sorted, err := tree.FindSort()
	assert.NoError(t, err)
	assert.Len(t, sorted, n-1)
	for _, e := range sorted {
		assert.NotEqual(t, byte(15), e.Key[0])
	}
	// Ordering survives the successor swap.
	for i := 1; i < len(sorted); i++ {
		assert.True(t, OpaqueComparator{}.Compare(sorted[i-1].Key, sorted[i].Key) < 0)
	}
}

func TestUpdateDup(t *testing.T) {
	tree := NewTree(FileNameComparator{}, NewBitmapBlockStore(16), 4096, 0x30, 0)
	key := EncodeFileNameKey(&FileNameKey{ParentRef: 5, ActualSize: 10, Name: "foo.txt"})
	assert.NoError(t, tree.InsertEntry(&Entry{MftRef: 42, Key: key}))

	err := tree.UpdateDup(key, func(existing []byte) []byte {
		k, decode_err := DecodeFileNameKey(existing)
		assert.NoError(t, decode_err)
		k.ActualSize = 999
		return EncodeFileNameKey(k)
	})
	assert.NoError(t, err)

	entry, diff, _, err := tree.Find(key)
	assert.NoError(t, err)
	assert.Equal(t, 0, diff)
	got, err := DecodeFileNameKey(entry.Key)
	assert.NoError(t, err)
	assert.Equal(t, uint64(999), got.ActualSize)
}

func TestFileNameComparatorCaseInsensitive(t *testing.T) {
	cmp := FileNameComparator{}
	// Win32-namespace names (NameType 1) get no case-sensitive tiebreak.
	a := EncodeFileNameKey(&FileNameKey{Name: "README.TXT", NameType: 1})
	b := EncodeFileNameKey(&FileNameKey{Name: "readme.txt", NameType: 1})
	assert.Equal(t, 0, cmp.Compare(a, b))

	c := EncodeFileNameKey(&FileNameKey{Name: "zzz.txt"})
	assert.True(t, cmp.Compare(a, c) < 0)
}

func TestEncodeDecodeIndexAllocationRoundTrip(t *testing.T) {
	node := &Node{Entries: []*Entry{
		{MftRef: 1, Key: keyOf(1)},
		{MftRef: 2, Key: keyOf(2)},
		{IsLast: true},
	}}
	buf := EncodeIndexAllocationBlock(node, 3, 4096, 7)

	decoded, vcn, err := DecodeIndexAllocationBlock(buf)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), vcn)
	assert.Len(t, decoded.Entries, 3)
	assert.Equal(t, uint64(1), decoded.Entries[0].MftRef)
	assert.Equal(t, uint64(2), decoded.Entries[1].MftRef)
	assert.True(t, decoded.Entries[2].IsLast)
}

func TestEncodeDecodeIndexRootRoundTrip(t *testing.T) {
	node := &Node{Entries: []*Entry{
		{MftRef: 9, Key: keyOf(9)},
		{IsLast: true},
	}}
	buf := EncodeIndexRoot(node, 0x30, 1, 4096)

	decoded, attr_type, collation, err := DecodeIndexRoot(buf)
	assert.NoError(t, err)
	assert.Equal(t, uint32(0x30), attr_type)
	assert.Equal(t, uint32(1), collation)
	assert.Len(t, decoded.Entries, 2)
	assert.Equal(t, uint64(9), decoded.Entries[0].MftRef)
}
