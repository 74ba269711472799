package delta

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// Hash returns the hex-encoded sha256 of everything in r.
func Hash(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes returns the hex-encoded sha256 of b.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashFile returns the hex-encoded sha256 of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return Hash(f)
}

func strongSum(block []byte) [strongSumSize]byte {
	sum := sha256.Sum256(block)
	var out [strongSumSize]byte
	copy(out[:], sum[:strongSumSize])
	return out
}
