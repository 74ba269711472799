package utils

import (
	"crypto/rand"
	"fmt"
)

// base34 skips I and O to keep codes unambiguous when read aloud
const base34Table = "0123456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// RandBase34 generates a random base34 string of the given length.
func RandBase34(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("length must be greater than 0")
	}

	result := make([]byte, length)
	if _, err := rand.Read(result); err != nil {
		return "", err
	}

	for i := range result {
		result[i] = base34Table[result[i]%byte(len(base34Table))]
	}

	return string(result), nil
}
