package alloc

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vex-labs/ntfs3core/wnd"
)

type fakeGrower struct {
	grown_records int64
	fail          bool
}

func (self *fakeGrower) GrowMFT(n_clusters int64) (int64, error) {
	if self.fail {
		return 0, assert.AnError
	}
	self.grown_records += 8
	return 8, nil
}

func (self *fakeGrower) ClearMFTTail(from_rno, to_rno int64) error {
	return nil
}

func newTestAllocator(n_clusters, n_mft int64, grower ClusterGrower) *Allocator {
	clusters := wnd.Init(n_clusters, 64, wnd.NewMemBacking(8))
	mft := wnd.Init(n_mft, 64, wnd.NewMemBacking(8))
	return New(clusters, mft, Options{
		ClusterSize:        4096,
		DiscardGranularity: 4096,
		Grower:             grower,
	})
}

func TestLookForFreeSpace(t *testing.T) {
	a := newTestAllocator(1024, 32, nil)

	lcn, length, err := a.LookForFreeSpace(0, 10, 0)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), lcn)
	assert.Equal(t, int64(10), length)
	assert.True(t, a.clusters.IsUsed(0, 10))

	// A second call with no hint continues from where the first left off.
	lcn2, _, err := a.LookForFreeSpace(0, 5, 0)
	assert.NoError(t, err)
	assert.Equal(t, int64(10), lcn2)
}

func TestLookFreeMFTReservesPool(t *testing.T) {
	a := newTestAllocator(1024, 32, nil)

	rno, err := a.LookFreeMFT(0)
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, rno, int64(reservedPoolSize))
}

func TestLookFreeMFTGrowsWhenExhausted(t *testing.T) {
	grower := &fakeGrower{}
	a := newTestAllocator(1024, reservedPoolSize, grower)

	// The whole non-reserved bitmap is size 0 (n_mft == reservedPoolSize),
	// so the very first request must grow.
	rno, err := a.LookFreeMFT(0)
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, rno, int64(reservedPoolSize))
	assert.Equal(t, int64(8), grower.grown_records)
}

func TestLookFreeMFTPrivilegedFallsBackToReservedPool(t *testing.T) {
	grower := &fakeGrower{fail: true}
	a := newTestAllocator(1024, reservedPoolSize, grower)

	_, err := a.LookFreeMFT(0)
	assert.Error(t, err)

	rno, err := a.LookFreeMFT(Privileged)
	assert.NoError(t, err)
	assert.Less(t, rno, int64(reservedPoolSize))
}

func TestMarkRecFreeRewindsHint(t *testing.T) {
	a := newTestAllocator(1024, 32, nil)

	rno1, err := a.LookFreeMFT(0)
	assert.NoError(t, err)
	rno2, err := a.LookFreeMFT(0)
	assert.NoError(t, err)
	assert.Equal(t, rno1+1, rno2)

	a.MarkRecFree(rno1)
	assert.Equal(t, rno1, a.nextFreeMFT)
}

func TestMarkAsFreeEx(t *testing.T) {
	a := newTestAllocator(1024, 32, nil)
	a.clusters.SetUsed(100, 10)

	err := a.MarkAsFreeEx(100, 10, false)
	assert.NoError(t, err)
	assert.True(t, a.clusters.IsFree(100, 10))
}

func TestRefreshZonePrefersMFTRange(t *testing.T) {
	a := newTestAllocator(1024, 32, nil)
	a.RefreshZone(500, 100)

	// Default allocation should avoid the zone while space exists
	// elsewhere.
	lcn, _, err := a.LookForFreeSpace(0, 10, 0)
	assert.NoError(t, err)
	assert.False(t, lcn >= 500 && lcn < 600)

	// MFT-preferred allocation should land inside the zone.
	lcn, _, err = a.LookForFreeSpace(0, 10, AllocateMFT)
	assert.NoError(t, err)
	assert.True(t, lcn >= 500 && lcn < 600)
}
