// Package bytebuf provides a grow-on-demand byte buffer with a used/remainder
// split, used for reactor read buffers and per-connection write buffers.
//
// Unlike bytes.Buffer, a Buf never moves its backing array on Append unless
// the remainder drops below the low-water mark, and Cut shifts the unread
// remainder down rather than reslicing from an ever-advancing offset. This
// matters because the HTTP parser records field locations as integer offsets
// into the buffer while it streams; those offsets stay valid across Append
// and Grow (a Grow copies the contents to the same indices of a larger
// array), and only a Cut shifts them. Slices returned by UsedBytes, unlike
// offsets, are invalidated by a Grow.
package bytebuf

const (
	// lowWaterDivisor: grow when remainder falls below len/lowWaterDivisor.
	lowWaterDivisor = 10
)

// Buf is a contiguous byte region with len (capacity), used (valid prefix),
// and an implied remainder = len - used.
type Buf struct {
	buf  []byte
	used int
}

// New allocates a buffer with the given initial capacity.
func New(initialLen int) *Buf {
	if initialLen <= 0 {
		initialLen = 1
	}
	return &Buf{buf: make([]byte, initialLen)}
}

// Len returns the total capacity.
func (b *Buf) Len() int { return len(b.buf) }

// Used returns the valid-prefix length.
func (b *Buf) Used() int { return b.used }

// Remainder returns the unused capacity at the tail.
func (b *Buf) Remainder() int { return len(b.buf) - b.used }

// UsedBytes returns the valid prefix. The returned slice aliases the
// buffer's backing array and is invalidated by the next Grow.
func (b *Buf) UsedBytes() []byte { return b.buf[:b.used] }

// RemainderBytes returns the writable tail region.
func (b *Buf) RemainderBytes() []byte { return b.buf[b.used:] }

// EnsureRemainder grows the buffer (by at least `chunk`, possibly more) until
// Remainder() >= need, growing preemptively once remainder falls under the
// low-water mark (len/10), mirroring the C source's B_MIN_RDBUF_REMAINDER.
func (b *Buf) EnsureRemainder(need, chunk int) {
	if b.Remainder() >= need && b.Remainder() >= b.Len()/lowWaterDivisor {
		return
	}
	grow := chunk
	if grow <= 0 {
		grow = b.Len()
	}
	for b.Remainder() < need || b.Remainder() < b.Len()/lowWaterDivisor {
		b.Grow(grow)
	}
}

// Grow extends capacity by n bytes, copying existing contents. Any offsets a
// caller is tracking into UsedBytes() remain valid positions (same indices)
// since Grow only appends capacity at the tail.
func (b *Buf) Grow(n int) {
	if n <= 0 {
		return
	}
	nb := make([]byte, len(b.buf)+n)
	copy(nb, b.buf)
	b.buf = nb
}

// Append copies p into the remainder, growing first if needed, and advances
// Used by len(p).
func (b *Buf) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	b.EnsureRemainder(len(p), len(b.buf))
	copy(b.buf[b.used:], p)
	b.used += len(p)
}

// IncreaseUsed advances `used` by n without copying, for callers that wrote
// directly into RemainderBytes() (e.g. a raw socket Read).
func (b *Buf) IncreaseUsed(n int) {
	if n <= 0 {
		return
	}
	if b.used+n > len(b.buf) {
		panic("bytebuf: IncreaseUsed beyond capacity")
	}
	b.used += n
}

// Cut removes the first n bytes of the used prefix, shifting the remaining
// used bytes down to offset 0. Any offsets a caller held into UsedBytes()
// before Cut must be rebased by -n or discarded; the HTTP parser only calls
// Cut at a message boundary, after it has resolved offsets to values.
func (b *Buf) Cut(n int) {
	if n <= 0 {
		return
	}
	if n > b.used {
		panic("bytebuf: Cut beyond used")
	}
	copy(b.buf, b.buf[n:b.used])
	b.used -= n
}

// Reset empties the buffer without releasing capacity.
func (b *Buf) Reset() { b.used = 0 }
