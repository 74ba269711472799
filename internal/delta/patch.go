package delta

import (
	"bytes"
	"io"
)

// ApplyDelta rebuilds the target by replaying d against the base and writing
// the result to w. Copy ops read through a SectionReader, so a short final
// block is copied up to the base's EOF.
func ApplyDelta(base io.ReaderAt, baseSize int64, d *Delta, w io.Writer) error {
	bs := int64(d.BlockSize)
	for _, op := range d.Ops {
		switch op.Kind {
		case OpData:
			if _, err := w.Write(op.Data); err != nil {
				return err
			}
		case OpCopy:
			off := op.Block * bs
			if off < 0 || op.Count <= 0 || off >= baseSize {
				return ErrBlockOutOfRange
			}
			length := op.Count * bs
			if off+length > baseSize {
				length = baseSize - off
			}
			if _, err := io.Copy(w, io.NewSectionReader(base, off, length)); err != nil {
				return err
			}
		default:
			return ErrCorruptDelta
		}
	}
	return nil
}

// ApplyDeltaBytes is ApplyDelta over in-memory base content.
func ApplyDeltaBytes(base []byte, d *Delta) ([]byte, error) {
	var out bytes.Buffer
	if err := ApplyDelta(bytes.NewReader(base), int64(len(base)), d, &out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
