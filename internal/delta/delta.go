// Package delta implements rsync-style differential file transfer: block
// signatures over a base file, a delta computed from a signature and new
// content, and patch application. Signatures and deltas have a compact binary
// layout and travel base85-encoded inside JSON bodies.
package delta

import "errors"

// DefaultBlockSize is the signature block size in bytes.
const DefaultBlockSize = 4096

const strongSumSize = 16

var (
	ErrCorruptSignature = errors.New("delta: corrupt signature")
	ErrCorruptDelta     = errors.New("delta: corrupt delta")
	ErrBlockOutOfRange  = errors.New("delta: copy op references block out of range")
)

// BlockSum is the weak + strong checksum of one block.
type BlockSum struct {
	Weak   uint32
	Strong [strongSumSize]byte
}

// Sig is a block signature of a base file. Size is the base file length,
// needed to tell whether the final block is short.
type Sig struct {
	BlockSize int
	Size      int64
	Blocks    []BlockSum
}

// lastBlockLen returns the length of the final block, or 0 for an empty base.
func (s *Sig) lastBlockLen() int {
	if len(s.Blocks) == 0 {
		return 0
	}
	rem := int(s.Size - int64(len(s.Blocks)-1)*int64(s.BlockSize))
	return rem
}

// OpKind discriminates delta operations.
type OpKind uint8

const (
	// OpCopy copies Count consecutive blocks starting at Block from the base.
	OpCopy OpKind = iota
	// OpData inserts literal bytes.
	OpData
)

// Op is a single delta operation.
type Op struct {
	Kind  OpKind
	Block int64  // first block index, for OpCopy
	Count int64  // number of consecutive blocks, for OpCopy
	Data  []byte // literal bytes, for OpData
}

// Delta is an ordered list of operations that rebuilds a target file from a
// base file.
type Delta struct {
	BlockSize int
	Ops       []Op
}
