// Package fingerprint computes content identities for conversion inputs.
package fingerprint

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

const chunkSize = 256 * 1024

// ErrUnreadable wraps every failure to open or read the input file.
var ErrUnreadable = errors.New("input file unreadable")

// Blake3 hashes file content with BLAKE3 and checks ctx between chunks.
type Blake3 struct{}

// New returns a BLAKE3 fingerprinter.
func New() *Blake3 {
	return &Blake3{}
}

// Fingerprint returns the hex-encoded BLAKE3-256 digest of the file at path.
func (Blake3) Fingerprint(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnreadable, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnreadable, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrUnreadable, path)
	}

	h := blake3.New()
	buf := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, rerr := f.Read(buf)
		if n > 0 {
			_, _ = h.Write(buf[:n])
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return "", fmt.Errorf("%w: %w", ErrUnreadable, rerr)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Bytes returns the hex BLAKE3-256 digest of data.
func Bytes(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
