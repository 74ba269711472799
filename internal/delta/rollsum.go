package delta

// rollsum is the rsync rolling checksum. a is the byte sum, b the
// position-weighted sum, both mod 2^16.
type rollsum struct {
	a uint32
	b uint32
	n uint32
}

func newRollsum(window []byte) rollsum {
	var rs rollsum
	rs.n = uint32(len(window))
	for i, c := range window {
		rs.a += uint32(c)
		rs.b += uint32(len(window)-i) * uint32(c)
	}
	return rs
}

// roll slides the window forward by one byte: out leaves, in enters.
func (rs *rollsum) roll(out, in byte) {
	rs.a += uint32(in) - uint32(out)
	rs.b += rs.a - rs.n*uint32(out)
}

func (rs *rollsum) sum() uint32 {
	return (rs.a & 0xffff) | (rs.b << 16)
}

func weakSum(block []byte) uint32 {
	rs := newRollsum(block)
	return rs.sum()
}
