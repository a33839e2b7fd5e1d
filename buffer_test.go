package netloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferInitialIndices(t *testing.T) {
	b := NewBuffer()
	assert.Equal(t, 0, b.ReadableBytes())
	assert.Equal(t, initialSize, b.WritableBytes())
	assert.Equal(t, cheapPrepend, b.PrependableBytes())
}

func TestBufferAppendRetrieveRoundTrip(t *testing.T) {
	b := NewBuffer()
	data := []byte("ping\n")
	b.Append(data)
	require.Equal(t, len(data), b.ReadableBytes())
	got := b.RetrieveAsString(len(data))
	assert.Equal(t, string(data), got)
	assert.Equal(t, cheapPrepend, b.readIndex)
	assert.Equal(t, cheapPrepend, b.writeIndex)
}

func TestBufferRetrieveAllOnOverRetrieve(t *testing.T) {
	b := NewBuffer()
	b.Append([]byte("hello"))
	b.Retrieve(1000) // n >= readable bytes
	assert.Equal(t, cheapPrepend, b.readIndex)
	assert.Equal(t, cheapPrepend, b.writeIndex)
}

func TestBufferRetrieveAsStringEmpty(t *testing.T) {
	b := NewBuffer()
	assert.Equal(t, "", b.RetrieveAsString(0))
	assert.Equal(t, cheapPrepend, b.readIndex)
}

func TestBufferMakeSpaceCompactsWithoutGrowing(t *testing.T) {
	b := NewBufferSize(32)
	b.Append([]byte("0123456789"))
	b.Retrieve(5) // readIndex advances, leaving prependable room
	before := b.Peek()
	beforeCopy := append([]byte(nil), before...)
	cap0 := len(b.buf)

	// 25 exceeds the 22 writable bytes, but writable + prependable
	// (22 + 13) covers 25 + cheapPrepend, so makeSpace compacts.
	b.EnsureWritable(25)
	assert.Equal(t, cap0, len(b.buf), "expected compaction, not growth")
	assert.Equal(t, cheapPrepend, b.readIndex, "expected readable span moved to the prepend origin")
	assert.Equal(t, beforeCopy, b.Peek(), "readable span must be preserved byte-for-byte")
}

func TestBufferMakeSpaceGrowsWhenNecessary(t *testing.T) {
	b := NewBufferSize(8)
	b.Append([]byte("abcdefgh"))
	cap0 := len(b.buf)
	b.EnsureWritable(1000)
	assert.Greater(t, len(b.buf), cap0)
	assert.Equal(t, "abcdefgh", string(b.Peek()))
}

func TestBufferPrependWritesBeforeReadable(t *testing.T) {
	b := NewBuffer()
	b.Append([]byte("body"))
	b.Prepend([]byte{0, 0, 0, 4})
	assert.Equal(t, "\x00\x00\x00\x04body", b.RetrieveAllAsString())
}

func TestBufferRetrieveAllBytesIsIndependentCopy(t *testing.T) {
	b := NewBuffer()
	b.Append([]byte("abc"))
	out := b.RetrieveAllBytes()
	b.Append([]byte("xyz"))
	assert.Equal(t, []byte("abc"), out)
}
