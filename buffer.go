package netloop

import "golang.org/x/sys/unix"

const (
	// cheapPrepend is the size of the prependable header region reserved
	// at the front of every Buffer, so that length-prefix protocols can
	// write a small header in place after serializing the body.
	cheapPrepend = 8
	initialSize  = 1024

	// readScratchSize is the size of the stack-local overflow region used
	// by ReadFromFD's vectored read, so one read(2) covers both the
	// buffer's writable tail and any remainder without a second short
	// read.
	readScratchSize = 65536
)

// Buffer is a growable octet buffer with a cheap prepend region, used for
// per-connection read/write staging. It is not safe for concurrent use;
// callers confine it to the owning EventLoop's goroutine (invariant 5).
type Buffer struct {
	buf        []byte
	readIndex  int
	writeIndex int
}

// NewBuffer returns a Buffer with the default initial capacity.
func NewBuffer() *Buffer {
	return NewBufferSize(initialSize)
}

// NewBufferSize returns a Buffer whose backing storage has room for at
// least size bytes beyond the prepend region.
func NewBufferSize(size int) *Buffer {
	return &Buffer{
		buf:        make([]byte, cheapPrepend+size),
		readIndex:  cheapPrepend,
		writeIndex: cheapPrepend,
	}
}

// ReadableBytes returns the length of the readable span [readIndex, writeIndex).
func (b *Buffer) ReadableBytes() int { return b.writeIndex - b.readIndex }

// WritableBytes returns the length of the writable tail [writeIndex, len(buf)).
func (b *Buffer) WritableBytes() int { return len(b.buf) - b.writeIndex }

// PrependableBytes returns the length of the prependable head [0, readIndex).
func (b *Buffer) PrependableBytes() int { return b.readIndex }

// Peek returns a view over the readable span. The slice aliases the
// Buffer's storage and is only valid until the next mutating call.
func (b *Buffer) Peek() []byte { return b.buf[b.readIndex:b.writeIndex] }

// Retrieve advances readIndex by n. If n is at least ReadableBytes, both
// indices reset to the prepend origin (invariant 3).
func (b *Buffer) Retrieve(n int) {
	if n < b.ReadableBytes() {
		b.readIndex += n
	} else {
		b.RetrieveAll()
	}
}

// RetrieveAll resets both indices to the prepend origin.
func (b *Buffer) RetrieveAll() {
	b.readIndex = cheapPrepend
	b.writeIndex = cheapPrepend
}

// RetrieveAsString copies the first n readable bytes to a string and
// retrieves them. Retrieving n=0 from an empty buffer returns "" and
// leaves the indices at the prepend origin.
func (b *Buffer) RetrieveAsString(n int) string {
	s := string(b.buf[b.readIndex : b.readIndex+n])
	b.Retrieve(n)
	return s
}

// RetrieveAllAsString retrieves every readable byte as a string.
func (b *Buffer) RetrieveAllAsString() string {
	return b.RetrieveAsString(b.ReadableBytes())
}

// RetrieveAllBytes retrieves every readable byte as a freshly allocated
// slice, safe to retain past the next mutation of the Buffer.
func (b *Buffer) RetrieveAllBytes() []byte {
	n := b.ReadableBytes()
	out := make([]byte, n)
	copy(out, b.Peek())
	b.Retrieve(n)
	return out
}

// PrependableHeader returns the prependable head as a mutable view, for
// protocols that write a small fixed header after the body is already
// appended (e.g. a length prefix). Writing into this slice does not
// change the readable span; Prepend writes a header and extends the
// readable span backward over it in one step.
func (b *Buffer) PrependableHeader() []byte { return b.buf[:b.readIndex] }

// Prepend writes data immediately before the current readable span,
// requiring PrependableBytes() >= len(data).
func (b *Buffer) Prepend(data []byte) {
	b.readIndex -= len(data)
	copy(b.buf[b.readIndex:], data)
}

// Append ensures at least len(data) writable bytes then copies data into
// the writable tail, advancing writeIndex.
func (b *Buffer) Append(data []byte) {
	b.EnsureWritable(len(data))
	copy(b.buf[b.writeIndex:], data)
	b.writeIndex += len(data)
}

// EnsureWritable grows or compacts the backing storage so that at least
// n bytes are writable.
func (b *Buffer) EnsureWritable(n int) {
	if b.WritableBytes() < n {
		b.makeSpace(n)
	}
}

// makeSpace grows the storage to writeIndex+n if the combined writable
// and prependable space (net of the cheap-prepend reservation) can't
// hold n bytes; otherwise it compacts the readable span back to the
// prepend origin, preserving its bytes exactly.
func (b *Buffer) makeSpace(n int) {
	if b.WritableBytes()+b.PrependableBytes() < n+cheapPrepend {
		grown := make([]byte, b.writeIndex+n)
		copy(grown, b.buf)
		b.buf = grown
	} else {
		readable := b.ReadableBytes()
		copy(b.buf[cheapPrepend:], b.buf[b.readIndex:b.writeIndex])
		b.readIndex = cheapPrepend
		b.writeIndex = b.readIndex + readable
	}
}

// ReadFromFD extends the buffer from fd using a single vectored read
// into the writable tail plus a stack-local overflow region, avoiding a
// second short read when the tail alone isn't enough. If the overflow
// region was used, its bytes are appended (growing the buffer);
// otherwise writeIndex is advanced directly. Grounded on the muduo/gaio
// technique of reading into the buffer's tail plus a larger scratch
// area in one syscall.
func (b *Buffer) ReadFromFD(fd int) (int, error) {
	var scratch [readScratchSize]byte
	writable := b.WritableBytes()

	iov := [][]byte{b.buf[b.writeIndex:], scratch[:]}
	n, err := readv(fd, iov)
	if n <= 0 {
		return n, err
	}

	if n <= writable {
		b.writeIndex += n
	} else {
		b.writeIndex = len(b.buf)
		b.Append(scratch[:n-writable])
	}
	return n, err
}

// WriteToFD writes from the readable span to fd. The caller is
// responsible for advancing readIndex by the returned byte count via
// Retrieve.
func (b *Buffer) WriteToFD(fd int) (int, error) {
	for {
		n, err := unix.Write(fd, b.Peek())
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

// readv performs a single readv(2) across iov, retrying on EINTR.
func readv(fd int, iov [][]byte) (int, error) {
	for {
		n, err := unix.Readv(fd, iov)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}
