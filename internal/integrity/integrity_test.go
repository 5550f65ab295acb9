package integrity

import (
	"bytes"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRandomFile(t *testing.T, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "blob.bin")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path, data
}

func TestStreamingMatchesWholeFile(t *testing.T) {
	path, _ := writeRandomFile(t, 10*1024*1024+123)

	for _, alg := range []string{"sha256", "md5", "xxhash"} {
		t.Run(alg, func(t *testing.T) {
			v, err := New(alg)
			require.NoError(t, err)

			streamed, err := v.HashFile(path)
			require.NoError(t, err)

			whole, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, v.HashBytes(whole), streamed)
		})
	}
}

func TestKnownDigests(t *testing.T) {
	data := []byte("hello file browser")

	sha := sha256.Sum256(data)
	assert.Equal(t, Digest(hex.EncodeToString(sha[:])), Default().HashBytes(data))

	md, err := New("md5")
	require.NoError(t, err)
	sum := md5.Sum(data)
	assert.Equal(t, Digest(hex.EncodeToString(sum[:])), md.HashBytes(data))
}

func TestNewRejectsUnknown(t *testing.T) {
	_, err := New("crc7")
	assert.Error(t, err)

	v, err := New("")
	require.NoError(t, err)
	assert.Equal(t, SHA256, v.Algorithm())
}

func TestWriter(t *testing.T) {
	v := Default()
	w := v.NewWriter()
	data := bytes.Repeat([]byte("abc"), 5000)

	_, err := w.Write(data[:100])
	require.NoError(t, err)
	_, err = w.Write(data[100:])
	require.NoError(t, err)

	assert.Equal(t, v.HashBytes(data), w.Digest())
	assert.Equal(t, int64(len(data)), w.Size())
}

func TestCheck(t *testing.T) {
	v := Default()
	path, data := writeRandomFile(t, 64*1024)
	sent := v.HashBytes(data)

	res, err := v.Check(path, sent)
	require.NoError(t, err)
	assert.True(t, res.Match)
	assert.Empty(t, res.Warning())

	// File changes after the digest was taken.
	require.NoError(t, os.WriteFile(path, []byte("tampered"), 0644))
	res, err = v.Check(path, sent)
	require.NoError(t, err)
	assert.False(t, res.Match)
	assert.Equal(t, sent, res.Expected)
	assert.NotEqual(t, sent, res.Actual)
	assert.Contains(t, res.Warning(), "integrity error")

	_, err = v.Check(filepath.Join(t.TempDir(), "gone"), sent)
	assert.Error(t, err)
}
