package delta

import (
	"bytes"
	"encoding/ascii85"
	"encoding/binary"
	"io"
)

var (
	sigMagic   = []byte("SYS1")
	deltaMagic = []byte("SYD1")
)

// EncodeSig serializes a signature to its base85 wire form.
func EncodeSig(sig *Sig) string {
	var buf bytes.Buffer
	buf.Write(sigMagic)
	writeUvarint(&buf, uint64(sig.BlockSize))
	writeUvarint(&buf, uint64(sig.Size))
	writeUvarint(&buf, uint64(len(sig.Blocks)))
	var weak [4]byte
	for _, b := range sig.Blocks {
		binary.LittleEndian.PutUint32(weak[:], b.Weak)
		buf.Write(weak[:])
		buf.Write(b.Strong[:])
	}
	return encode85(buf.Bytes())
}

// DecodeSig parses a base85 wire signature.
func DecodeSig(s string) (*Sig, error) {
	raw, err := decode85(s)
	if err != nil {
		return nil, ErrCorruptSignature
	}
	r := bytes.NewReader(raw)

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil || !bytes.Equal(magic[:], sigMagic) {
		return nil, ErrCorruptSignature
	}

	blockSize, err1 := binary.ReadUvarint(r)
	size, err2 := binary.ReadUvarint(r)
	nblocks, err3 := binary.ReadUvarint(r)
	if err1 != nil || err2 != nil || err3 != nil || blockSize == 0 || nblocks > uint64(r.Len()) {
		return nil, ErrCorruptSignature
	}

	sig := &Sig{
		BlockSize: int(blockSize),
		Size:      int64(size),
		Blocks:    make([]BlockSum, 0, nblocks),
	}
	var weak [4]byte
	for i := uint64(0); i < nblocks; i++ {
		var b BlockSum
		if _, err := io.ReadFull(r, weak[:]); err != nil {
			return nil, ErrCorruptSignature
		}
		b.Weak = binary.LittleEndian.Uint32(weak[:])
		if _, err := io.ReadFull(r, b.Strong[:]); err != nil {
			return nil, ErrCorruptSignature
		}
		sig.Blocks = append(sig.Blocks, b)
	}
	return sig, nil
}

// EncodeDelta serializes a delta to its base85 wire form.
func EncodeDelta(d *Delta) string {
	var buf bytes.Buffer
	buf.Write(deltaMagic)
	writeUvarint(&buf, uint64(d.BlockSize))
	writeUvarint(&buf, uint64(len(d.Ops)))
	for _, op := range d.Ops {
		buf.WriteByte(byte(op.Kind))
		switch op.Kind {
		case OpCopy:
			writeUvarint(&buf, uint64(op.Block))
			writeUvarint(&buf, uint64(op.Count))
		case OpData:
			writeUvarint(&buf, uint64(len(op.Data)))
			buf.Write(op.Data)
		}
	}
	return encode85(buf.Bytes())
}

// DecodeDelta parses a base85 wire delta.
func DecodeDelta(s string) (*Delta, error) {
	raw, err := decode85(s)
	if err != nil {
		return nil, ErrCorruptDelta
	}
	r := bytes.NewReader(raw)

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil || !bytes.Equal(magic[:], deltaMagic) {
		return nil, ErrCorruptDelta
	}

	blockSize, err1 := binary.ReadUvarint(r)
	nops, err2 := binary.ReadUvarint(r)
	if err1 != nil || err2 != nil || blockSize == 0 || nops > uint64(r.Len()) {
		return nil, ErrCorruptDelta
	}

	d := &Delta{BlockSize: int(blockSize), Ops: make([]Op, 0, nops)}
	for i := uint64(0); i < nops; i++ {
		kind, err := r.ReadByte()
		if err != nil {
			return nil, ErrCorruptDelta
		}
		switch OpKind(kind) {
		case OpCopy:
			block, err1 := binary.ReadUvarint(r)
			count, err2 := binary.ReadUvarint(r)
			if err1 != nil || err2 != nil {
				return nil, ErrCorruptDelta
			}
			d.Ops = append(d.Ops, Op{Kind: OpCopy, Block: int64(block), Count: int64(count)})
		case OpData:
			n, err := binary.ReadUvarint(r)
			if err != nil || n > uint64(r.Len()) {
				return nil, ErrCorruptDelta
			}
			data := make([]byte, n)
			if _, err := io.ReadFull(r, data); err != nil {
				return nil, ErrCorruptDelta
			}
			d.Ops = append(d.Ops, Op{Kind: OpData, Data: data})
		default:
			return nil, ErrCorruptDelta
		}
	}
	return d, nil
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func encode85(b []byte) string {
	out := make([]byte, ascii85.MaxEncodedLen(len(b)))
	n := ascii85.Encode(out, b)
	return string(out[:n])
}

func decode85(s string) ([]byte, error) {
	out := make([]byte, len(s))
	n, _, err := ascii85.Decode(out, []byte(s), true)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}
