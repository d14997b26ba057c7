package wnd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetUsedSetFree(t *testing.T) {
	b := Init(1024, 128, NewMemBacking(16))
	assert.Equal(t, int64(1024), b.TotalZeroes())

	b.SetUsed(10, 5)
	assert.Equal(t, int64(1019), b.TotalZeroes())
	assert.True(t, b.IsUsed(10, 5))
	assert.False(t, b.IsFree(10, 5))

	b.SetFree(10, 5)
	assert.Equal(t, int64(1024), b.TotalZeroes())
	assert.True(t, b.IsFree(10, 5))
}

func TestFindLinear(t *testing.T) {
	b := Init(1024, 128, NewMemBacking(16))
	b.SetUsed(0, 200)

	bit, length, err := b.Find(10, 0, 0)
	assert.NoError(t, err)
	assert.Equal(t, int64(200), bit)
	assert.Equal(t, int64(10), length)
}

func TestFindMarkAsUsed(t *testing.T) {
	b := Init(1024, 128, NewMemBacking(16))

	bit, length, err := b.Find(10, 0, FindMarkAsUsed)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), bit)
	assert.Equal(t, int64(10), length)
	assert.True(t, b.IsUsed(0, 10))
	assert.Equal(t, int64(1014), b.TotalZeroes())
}

func TestFindFullFailsWhenFragmented(t *testing.T) {
	b := Init(20, 128, NewMemBacking(16))
	// Used every even bit, leaving only isolated single-bit free runs -
	// no run is long enough to satisfy a 10 bit request in full.
	for i := int64(0); i < 20; i += 2 {
		b.SetUsed(i, 1)
	}

	_, _, err := b.Find(10, 0, FindFull)
	assert.Error(t, err)
}

func TestZonePreference(t *testing.T) {
	b := Init(1024, 128, NewMemBacking(16))
	b.ZoneSet(200, 200)

	bit, length, err := b.Find(10, 0, 0)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), bit)
	assert.Equal(t, int64(10), length)

	bit, length, err = b.Find(10, 0, FindMFT)
	assert.NoError(t, err)
	assert.True(t, bit >= 200 && bit < 400)
	assert.Equal(t, int64(10), length)
}

func TestActivateIndexAgreesWithLinear(t *testing.T) {
	b := Init(512, 64, NewMemBacking(8))
	b.SetUsed(0, 100)
	b.SetUsed(150, 50)

	linear_bit, linear_len, err := b.findLinearLocked(30, 0, 0)
	assert.NoError(t, err)

	b.ActivateIndex()
	assert.Equal(t, int8(IndexCurrent), b.uptodate)

	indexed_bit, indexed_len, err := b.Find(30, 0, 0)
	assert.NoError(t, err)
	assert.Equal(t, linear_len, indexed_len)
	assert.Equal(t, linear_bit, indexed_bit)
}

func TestExtend(t *testing.T) {
	b := Init(64, 64, NewMemBacking(8))
	b.SetUsed(0, 64)
	assert.Equal(t, int64(0), b.TotalZeroes())

	b.Extend(128)
	assert.Equal(t, int64(64), b.TotalZeroes())
	assert.True(t, b.IsFree(64, 64))
}
