// Package integrity computes content digests for downloads and compares
// them after a transfer to detect corruption.
package integrity

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
)

// BlockSize is the read size used when streaming a file through a digest.
const BlockSize = 4096

// Algorithm names a digest function.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	MD5    Algorithm = "md5"
	XXHash Algorithm = "xxhash"
)

// Digest is a hex-encoded content fingerprint.
type Digest string

// Verifier computes and compares digests with a fixed algorithm.
type Verifier struct {
	algorithm Algorithm
}

// New creates a verifier. Unknown algorithm names are an error.
func New(algorithm string) (*Verifier, error) {
	a := Algorithm(algorithm)
	switch a {
	case SHA256, MD5, XXHash:
		return &Verifier{algorithm: a}, nil
	case "":
		return &Verifier{algorithm: SHA256}, nil
	default:
		return nil, fmt.Errorf("unknown hash algorithm %q", algorithm)
	}
}

// Default returns a SHA-256 verifier.
func Default() *Verifier {
	return &Verifier{algorithm: SHA256}
}

// Algorithm returns the configured algorithm.
func (v *Verifier) Algorithm() Algorithm {
	return v.algorithm
}

func (v *Verifier) newHash() hash.Hash {
	switch v.algorithm {
	case MD5:
		return md5.New()
	case XXHash:
		return xxhash.New()
	default:
		return sha256.New()
	}
}

// HashFile streams the file at path through the digest in BlockSize reads.
func (v *Verifier) HashFile(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	d, err := v.HashReader(f)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return d, nil
}

// HashReader digests everything readable from r, one block at a time.
func (v *Verifier) HashReader(r io.Reader) (Digest, error) {
	h := v.newHash()
	buf := make([]byte, BlockSize)
	if _, err := io.CopyBuffer(onlyWriter{h}, onlyReader{r}, buf); err != nil {
		return "", err
	}
	return Digest(hex.EncodeToString(h.Sum(nil))), nil
}

// HashBytes digests an in-memory buffer.
func (v *Verifier) HashBytes(b []byte) Digest {
	h := v.newHash()
	h.Write(b)
	return Digest(hex.EncodeToString(h.Sum(nil)))
}

// Writer is an io.Writer that accumulates a digest of everything written.
type Writer struct {
	h hash.Hash
	n int64
}

// NewWriter returns a hashing writer for tee-style use.
func (v *Verifier) NewWriter() *Writer {
	return &Writer{h: v.newHash()}
}

func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.h.Write(p)
	w.n += int64(n)
	return n, err
}

// Digest returns the digest of the bytes written so far.
func (w *Writer) Digest() Digest {
	return Digest(hex.EncodeToString(w.h.Sum(nil)))
}

// Size returns the number of bytes written.
func (w *Writer) Size() int64 {
	return w.n
}

// Result is the outcome of a post-transfer comparison.
type Result struct {
	Path     string
	Expected Digest
	Actual   Digest
	Match    bool
}

// Warning returns the user-facing message for a mismatch, or "".
func (r Result) Warning() string {
	if r.Match {
		return ""
	}
	return fmt.Sprintf("integrity error: %s changed during download, please download it again", r.Path)
}

// Check re-hashes the on-disk file and compares it with the digest taken
// when it was sent. A mismatch is reported in the Result, not as an error;
// err is only set when the file can no longer be read.
func (v *Verifier) Check(path string, sent Digest) (Result, error) {
	actual, err := v.HashFile(path)
	if err != nil {
		return Result{Path: path, Expected: sent}, err
	}
	return Result{
		Path:     path,
		Expected: sent,
		Actual:   actual,
		Match:    actual == sent,
	}, nil
}

// onlyReader and onlyWriter hide ReaderFrom/WriterTo so io.CopyBuffer
// really moves data in BlockSize chunks.
type onlyReader struct{ io.Reader }

type onlyWriter struct{ io.Writer }
