package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func buildTarZst(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	tw := tar.NewWriter(zw)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0755,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func writeArchive(t *testing.T, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "bundle.bin")
	require.NoError(t, os.WriteFile(p, data, 0644))
	return p
}

func TestExtractZipStripsSharedPrefix(t *testing.T) {
	data := buildZip(t, map[string]string{
		"butler-linux/butler":   "bin",
		"butler-linux/libc7zip": "lib",
	})
	dest := t.TempDir()

	var seen int
	err := Extract(writeArchive(t, data), dest, func(current, total int, name string) {
		seen = current
		assert.Equal(t, 2, total)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, seen)

	got, err := os.ReadFile(filepath.Join(dest, "butler"))
	require.NoError(t, err)
	assert.Equal(t, "bin", string(got))
	assert.FileExists(t, filepath.Join(dest, "libc7zip"))
}

func TestExtractZipRejectsTraversal(t *testing.T) {
	data := buildZip(t, map[string]string{
		"ok.txt":        "fine",
		"../escape.txt": "bad",
	})
	dest := filepath.Join(t.TempDir(), "out")
	require.NoError(t, os.MkdirAll(dest, 0755))

	err := ExtractZipBytes(data, dest, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "traversal")
	assert.NoFileExists(t, filepath.Join(filepath.Dir(dest), "escape.txt"))
}

func TestExtractTarZst(t *testing.T) {
	data := buildTarZst(t, map[string]string{
		"./butler":  "bin",
		"lib/7z.so": "lib",
	})
	dest := t.TempDir()

	require.NoError(t, Extract(writeArchive(t, data), dest, nil))

	got, err := os.ReadFile(filepath.Join(dest, "butler"))
	require.NoError(t, err)
	assert.Equal(t, "bin", string(got))
	assert.FileExists(t, filepath.Join(dest, "lib", "7z.so"))
}

func TestExtractUnknownFormat(t *testing.T) {
	err := Extract(writeArchive(t, []byte("not an archive")), t.TempDir(), nil)
	assert.Error(t, err)
}
