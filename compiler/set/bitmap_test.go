package set

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tlog.app/go/tlog/tlwire"
)

func TestBitmap(t *testing.T) {
	s := MakeBitmap(10)

	assert.Equal(t, 0, s.Size())
	assert.False(t, s.IsSet(3))

	s.Set(3)
	s.Set(7)

	assert.True(t, s.IsSet(3))
	assert.True(t, s.IsSet(7))
	assert.False(t, s.IsSet(4))
	assert.Equal(t, 2, s.Size())

	s.Clear(3)

	assert.False(t, s.IsSet(3))
	assert.Equal(t, 1, s.Size())

	// clearing out of range is a no-op
	s.Clear(1000)

	s.Reset()

	assert.Equal(t, 0, s.Size())
	assert.False(t, s.IsSet(7))
}

func TestBitmapGrowth(t *testing.T) {
	s := MakeBitmap(4)

	s.Set(130)

	assert.True(t, s.IsSet(130))
	assert.False(t, s.IsSet(129))
	assert.False(t, s.IsSet(131))
	assert.Equal(t, 1, s.Size())

	// reads past the backing slice do not grow it
	assert.False(t, s.IsSet(100000))
	assert.Equal(t, 1, s.Size())
}

func TestBitmapFirst(t *testing.T) {
	s := MakeBitmap(0)

	assert.Equal(t, -1, s.First())

	s.Set(70)
	assert.Equal(t, 70, s.First())

	s.Set(3)
	assert.Equal(t, 3, s.First())
}

func TestBitmapRange(t *testing.T) {
	s := MakeBitmap(0)
	s.Set(3)
	s.Set(70)

	var got []int

	s.Range(func(i int) bool {
		got = append(got, i)
		return true
	})

	assert.Equal(t, []int{3, 70}, got)

	// early stop
	got = got[:0]

	s.Range(func(i int) bool {
		got = append(got, i)
		return false
	})

	assert.Equal(t, []int{3}, got)
}

func TestBitmapTlogAppend(t *testing.T) {
	var e tlwire.LowEncoder

	assert.Equal(t, e.AppendNil(nil), (Bitmap{}).TlogAppend(nil))

	s := MakeBitmap(8)
	s.Set(1)
	s.Set(5)

	want := e.AppendTag(nil, tlwire.Array, -1)
	want = e.AppendInt(want, 1)
	want = e.AppendInt(want, 5)
	want = e.AppendBreak(want)

	assert.Equal(t, want, s.TlogAppend(nil))
}
