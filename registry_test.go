package evloop

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFdRegistry_AddFindRemoveRoundtrip(t *testing.T) {
	reg := newFdRegistry(4)

	rec, err := reg.add(7, EventIn, func(int, EventMask, any) {}, "ud")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 7, rec.ID())
	assert.Equal(t, EventIn, rec.Events())
	assert.Equal(t, 1, reg.count)

	found := reg.find(7)
	require.NotNil(t, found)
	assert.Same(t, rec, found)

	require.NoError(t, reg.remove(rec))
	assert.Nil(t, reg.find(7))
	assert.Equal(t, 0, reg.count)
}

func TestFdRegistry_FindMissingReturnsNil(t *testing.T) {
	reg := newFdRegistry(4)
	assert.Nil(t, reg.find(42))
}

func TestFdRegistry_RemoveNotPresentFails(t *testing.T) {
	reg := newFdRegistry(4)
	rec, err := reg.add(1, EventIn, nil, nil)
	require.NoError(t, err)
	require.NoError(t, reg.remove(rec))

	err = reg.remove(rec)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFdRegistry_BucketChainingHandlesCollisions(t *testing.T) {
	reg := newFdRegistry(1) // force every id into bucket 0

	var recs []*FdRecord
	for i := 0; i < 10; i++ {
		rec, err := reg.add(i, EventIn, nil, i)
		require.NoError(t, err)
		recs = append(recs, rec)
	}
	assert.Equal(t, 10, reg.count)

	for i := 0; i < 10; i++ {
		found := reg.find(i)
		require.NotNil(t, found)
		assert.Equal(t, i, found.userdata)
	}

	// Remove from the middle of the chain and confirm the rest survive.
	require.NoError(t, reg.remove(recs[5]))
	assert.Nil(t, reg.find(5))
	for i := 0; i < 10; i++ {
		if i == 5 {
			continue
		}
		assert.NotNil(t, reg.find(i))
	}
}

func TestFdRegistry_DefaultBucketCount(t *testing.T) {
	reg := newFdRegistry(0)
	assert.Equal(t, defaultBucketCount, len(reg.buckets))

	reg = newFdRegistry(-5)
	assert.Equal(t, defaultBucketCount, len(reg.buckets))
}

func TestFdRegistry_EachVisitsEveryRecord(t *testing.T) {
	reg := newFdRegistry(8)
	want := map[int]bool{}
	for i := 0; i < 20; i++ {
		_, err := reg.add(i, EventIn, nil, nil)
		require.NoError(t, err)
		want[i] = true
	}

	got := map[int]bool{}
	reg.each(func(rec *FdRecord) {
		got[rec.ID()] = true
	})
	assert.Equal(t, want, got)
}
