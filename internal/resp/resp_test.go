package resp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_Next(t *testing.T) {
	t.Run("Should parse a simple string", func(t *testing.T) {
		r := NewReader()
		r.Feed([]byte("+OK\r\n"))
		f, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, SimpleString, f.Kind)
		assert.Equal(t, "+OK\r\n", string(f.Raw))
	})

	t.Run("Should request more bytes for a partial frame", func(t *testing.T) {
		r := NewReader()
		r.Feed([]byte("$5\r\nhel"))
		_, err := r.Next()
		assert.ErrorIs(t, err, ErrNeedMore)
		r.Feed([]byte("lo\r\n"))
		f, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, "$5\r\nhello\r\n", string(f.Raw))
	})

	t.Run("Should parse a multi-bulk array and extract its key", func(t *testing.T) {
		r := NewReader()
		r.Feed([]byte("*3\r\n$3\r\nSET\r\n$4\r\nkey1\r\n$5\r\nvalue\r\n"))
		f, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, "SET", f.Command())
		key, ok := f.Key()
		require.True(t, ok)
		assert.Equal(t, "key1", string(key))
	})

	t.Run("Should parse an inline command", func(t *testing.T) {
		r := NewReader()
		r.Feed([]byte("PING\r\n"))
		f, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, "PING", f.Command())
	})

	t.Run("Should report a null bulk string", func(t *testing.T) {
		r := NewReader()
		r.Feed([]byte("$-1\r\n"))
		f, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, BulkString, f.Kind)
	})

	t.Run("Should reject a malformed length header", func(t *testing.T) {
		r := NewReader()
		r.Feed([]byte("$abc\r\n"))
		_, err := r.Next()
		assert.ErrorIs(t, err, ErrProtocol)
	})

	t.Run("Should reject an array element missing its trailing CRLF", func(t *testing.T) {
		r := NewReader()
		r.Feed([]byte("*1\r\n$3\r\nabcX"))
		_, err := r.Next()
		assert.ErrorIs(t, err, ErrNeedMore)
		r.Feed([]byte("YY"))
		_, err = r.Next()
		assert.ErrorIs(t, err, ErrProtocol)
	})

	t.Run("Should parse multiple pipelined frames from one feed", func(t *testing.T) {
		r := NewReader()
		r.Feed([]byte("+OK\r\n:42\r\n"))
		f1, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, SimpleString, f1.Kind)
		f2, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, Integer, f2.Kind)
		assert.Equal(t, ":42\r\n", string(f2.Raw))
	})
}

func TestHashTagSubstring(t *testing.T) {
	cases := []struct {
		name string
		key  string
		tag  string
		want string
	}{
		{"no tag configured", "key4", "", "key4"},
		{"adjacent delimiters at start", "//key4", "//", ""},
		{"adjacent delimiters mid-trailing", "key4//", "//", ""},
		{"adjacent delimiters with extra trailing char", "key4///", "//", ""},
		{"single delimiter has no effect", "key4/", "//", "key4/"},
		{"single delimiter at start has no effect", "/key4", "//", "/key4"},
		{"braces with real content", "{user1000}.following", "{}", "user1000"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := HashTagSubstring([]byte(tc.key), tc.tag)
			assert.Equal(t, tc.want, string(got))
		})
	}
}

func TestEncode(t *testing.T) {
	t.Run("Should encode a bulk string", func(t *testing.T) {
		assert.Equal(t, "$5\r\nhello\r\n", string(EncodeBulkString([]byte("hello"))))
	})
	t.Run("Should encode a null bulk string", func(t *testing.T) {
		assert.Equal(t, "$-1\r\n", string(EncodeBulkString(nil)))
	})
	t.Run("Should encode an array of bulk strings", func(t *testing.T) {
		out := EncodeArray([][]byte{EncodeBulkString([]byte("a")), EncodeBulkString([]byte("bb"))})
		assert.Equal(t, "*2\r\n$1\r\na\r\n$2\r\nbb\r\n", string(out))
	})
}
