package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"dublaj/internal/services"
)

// hashBufferSize is the streaming chunk size for file hashing.
const hashBufferSize = 64 * 1024

// HashFile returns the lowercase hex SHA-256 of the raw file bytes, streamed in
// 64 KiB chunks. The hash is over literal bytes; newlines and encodings are not
// normalized.
func HashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", services.Wrap(services.ErrIO, "", "hash file", fmt.Sprintf("open %s", path), err)
	}
	defer file.Close()

	hasher := sha256.New()
	buf := make([]byte, hashBufferSize)
	if _, err := io.CopyBuffer(hasher, file, buf); err != nil {
		return "", services.Wrap(services.ErrIO, "", "hash file", fmt.Sprintf("read %s", path), err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// HashBytes returns the lowercase hex SHA-256 of the supplied bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashString returns the lowercase hex SHA-256 of the string's UTF-8 bytes.
func HashString(value string) string {
	return HashBytes([]byte(value))
}
