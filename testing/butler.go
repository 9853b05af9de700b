package testing

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"testing"
)

// fakeButler stands in for the patch tool. Artifacts are plain tar archives
// unpacked over the target; an artifact starting with FAIL makes it exit
// nonzero.
const fakeButler = `#!/bin/sh
if [ "$1" != "apply" ]; then
  echo "unknown command: $1" >&2
  exit 2
fi
patch="$5"
target="$6"
if [ "$(head -c 4 "$patch")" = "FAIL" ]; then
  echo '{"type":"log","level":"error","message":"corrupt patch"}'
  echo "corrupt patch $patch" >&2
  exit 1
fi
echo '{"type":"progress","progress":0.5}'
mkdir -p "$target" || exit 1
tar -xf "$patch" -C "$target" || exit 1
echo '{"type":"progress","progress":1}'
`

// SkipWithoutShell skips tests that need the fake patch tool.
func SkipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake patch tool needs a POSIX shell")
	}
}

// WriteFakeButler installs the fake patch tool in dir and returns its path.
func WriteFakeButler(t *testing.T, dir string) string {
	t.Helper()
	SkipWithoutShell(t)
	path := filepath.Join(dir, "butler")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(fakeButler), 0755); err != nil {
		t.Fatalf("failed to write fake butler: %v", err)
	}
	return path
}

// FakeButlerZip returns a zip archive holding the fake patch tool, laid out
// like a published tool download.
func FakeButlerZip(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	header := &zip.FileHeader{Name: "butler", Method: zip.Deflate}
	header.SetMode(0755)
	w, err := zw.CreateHeader(header)
	if err != nil {
		t.Fatalf("failed to create zip entry: %v", err)
	}
	if _, err := w.Write([]byte(fakeButler)); err != nil {
		t.Fatalf("failed to write zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to close zip: %v", err)
	}
	return buf.Bytes()
}

// BuildPatch returns an artifact that writes files (relative path → content)
// into the target when applied by the fake patch tool.
func BuildPatch(t *testing.T, files map[string]string) []byte {
	t.Helper()
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, name := range names {
		content := files[name]
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0755, Size: int64(len(content)), Typeflag: tar.TypeReg}); err != nil {
			t.Fatalf("failed to write tar header: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("failed to write tar entry: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("failed to close tar: %v", err)
	}
	return buf.Bytes()
}

// ClientBuild returns an artifact that leaves a client binary reporting
// version in the target.
func ClientBuild(t *testing.T, binary string, version int) []byte {
	t.Helper()
	return BuildPatch(t, map[string]string{
		"Client/" + binary:       "build " + strconv.Itoa(version),
		"Client/Assets/data.bin": "assets",
		"Client/version.txt":     strconv.Itoa(version),
	})
}

// BrokenPatch returns an artifact the fake patch tool rejects.
func BrokenPatch() []byte {
	return []byte("FAIL not a patch")
}
