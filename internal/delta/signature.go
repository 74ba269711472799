package delta

import (
	"bufio"
	"io"
	"os"
)

// ComputeSignature reads r to the end and returns its block signature.
func ComputeSignature(r io.Reader) (*Sig, error) {
	return ComputeSignatureBlockSize(r, DefaultBlockSize)
}

// ComputeSignatureBlockSize computes a signature with a custom block size.
// The final block may be shorter than blockSize.
func ComputeSignatureBlockSize(r io.Reader, blockSize int) (*Sig, error) {
	sig := &Sig{BlockSize: blockSize}
	br := bufio.NewReader(r)
	buf := make([]byte, blockSize)

	for {
		n, err := io.ReadFull(br, buf)
		if n > 0 {
			block := buf[:n]
			sig.Size += int64(n)
			sig.Blocks = append(sig.Blocks, BlockSum{
				Weak:   weakSum(block),
				Strong: strongSum(block),
			})
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return sig, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// SignatureOfFile computes the signature of the file at path.
func SignatureOfFile(path string) (*Sig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ComputeSignature(f)
}
