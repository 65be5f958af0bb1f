package frontend

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReplyBuffer(t *testing.T) {
	t.Run("Should release replies immediately when they arrive in order", func(t *testing.T) {
		b := NewReplyBuffer()
		assert.Equal(t, [][]byte{[]byte("a")}, b.Submit(0, []byte("a")))
		assert.Equal(t, [][]byte{[]byte("b")}, b.Submit(1, []byte("b")))
	})

	t.Run("Should buffer an out-of-order reply until the gap closes", func(t *testing.T) {
		b := NewReplyBuffer()
		assert.Empty(t, b.Submit(1, []byte("b")))
		assert.Equal(t, 1, b.Pending())
		got := b.Submit(0, []byte("a"))
		assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, got)
		assert.Equal(t, 0, b.Pending())
	})

	t.Run("Should release a long contiguous run once the earliest gap fills", func(t *testing.T) {
		b := NewReplyBuffer()
		b.Submit(3, []byte("d"))
		b.Submit(2, []byte("c"))
		b.Submit(1, []byte("b"))
		assert.Equal(t, 3, b.Pending())
		got := b.Submit(0, []byte("a"))
		assert.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d")}, got)
	})
}
