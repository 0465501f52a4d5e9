package storage

import (
	"bytes"
	"fmt"
)

const hashSize = 32

// EncodeHashes packs fixed-size tree hashes into one blob.
func EncodeHashes(hashes [][]byte) []byte {
	var buf bytes.Buffer
	for _, h := range hashes {
		buf.Write(h)
	}
	return buf.Bytes()
}

// DecodeHashes splits a blob written by EncodeHashes.
func DecodeHashes(b []byte) ([][]byte, error) {
	if len(b)%hashSize != 0 {
		return nil, fmt.Errorf("hash blob length %d is not a multiple of %d", len(b), hashSize)
	}
	out := make([][]byte, 0, len(b)/hashSize)
	for i := 0; i < len(b); i += hashSize {
		h := make([]byte, hashSize)
		copy(h, b[i:i+hashSize])
		out = append(out, h)
	}
	return out, nil
}
