package delta

import (
	"bytes"
	"io"
)

// ComputeDiff reads the target content and produces a delta that rebuilds it
// from the base described by sig. Unmatched regions become literal ops;
// matched blocks become copy ops, with runs of consecutive blocks merged.
func ComputeDiff(sig *Sig, target io.Reader) (*Delta, error) {
	data, err := io.ReadAll(target)
	if err != nil {
		return nil, err
	}
	return ComputeDiffBytes(sig, data), nil
}

// ComputeDiffBytes is ComputeDiff over an in-memory target.
func ComputeDiffBytes(sig *Sig, data []byte) *Delta {
	bs := sig.BlockSize
	d := &Delta{BlockSize: bs}

	if len(data) == 0 {
		return d
	}

	// Index full-size blocks by weak sum. A short final block can only match
	// the target tail and is handled separately.
	lastLen := sig.lastBlockLen()
	fullBlocks := len(sig.Blocks)
	if lastLen > 0 && lastLen < bs {
		fullBlocks--
	}
	index := make(map[uint32][]int64, fullBlocks)
	for i := 0; i < fullBlocks; i++ {
		w := sig.Blocks[i].Weak
		index[w] = append(index[w], int64(i))
	}

	var lit bytes.Buffer
	flushLit := func() {
		if lit.Len() > 0 {
			d.Ops = append(d.Ops, Op{Kind: OpData, Data: append([]byte(nil), lit.Bytes()...)})
			lit.Reset()
		}
	}
	emitCopy := func(block int64) {
		flushLit()
		if n := len(d.Ops); n > 0 {
			last := &d.Ops[n-1]
			if last.Kind == OpCopy && last.Block+last.Count == block {
				last.Count++
				return
			}
		}
		d.Ops = append(d.Ops, Op{Kind: OpCopy, Block: block, Count: 1})
	}

	pos := 0
	var rs rollsum
	fresh := true // rs needs (re)initialization at pos

	for pos+bs <= len(data) {
		if fresh {
			rs = newRollsum(data[pos : pos+bs])
			fresh = false
		}

		if matched := matchBlock(sig, index, rs.sum(), data[pos:pos+bs]); matched >= 0 {
			emitCopy(matched)
			pos += bs
			fresh = true
			continue
		}

		lit.WriteByte(data[pos])
		if pos+bs < len(data) {
			rs.roll(data[pos], data[pos+bs])
		}
		pos++
	}

	// Tail shorter than a block: it can only match a short final base block.
	tail := data[pos:]
	if len(tail) > 0 {
		if lastLen == len(tail) && lastLen < bs &&
			sig.Blocks[len(sig.Blocks)-1].Weak == weakSum(tail) &&
			sig.Blocks[len(sig.Blocks)-1].Strong == strongSum(tail) {
			emitCopy(int64(len(sig.Blocks) - 1))
		} else {
			lit.Write(tail)
		}
	}
	flushLit()

	return d
}

// matchBlock returns the index of a base block with matching weak and strong
// sums, or -1.
func matchBlock(sig *Sig, index map[uint32][]int64, weak uint32, window []byte) int64 {
	candidates, ok := index[weak]
	if !ok {
		return -1
	}
	var strong [strongSumSize]byte
	computed := false
	for _, i := range candidates {
		if !computed {
			strong = strongSum(window)
			computed = true
		}
		if sig.Blocks[i].Strong == strong {
			return i
		}
	}
	return -1
}
