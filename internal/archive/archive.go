package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/distantorigin/gamesync/internal/paths"
)

// ProgressFunc is called during extraction with current entry index and total entries.
// Total is -1 when the archive format does not know its size up front.
type ProgressFunc func(current, total int, filename string)

var (
	zipMagic  = []byte{'P', 'K', 0x03, 0x04}
	zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}
)

// Extract unpacks a zip or tar.zst archive into targetDir, picking the format
// from the file header.
func Extract(archivePath, targetDir string, progress ProgressFunc) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	header := make([]byte, 4)
	_, err = io.ReadFull(f, header)
	f.Close()
	if err != nil {
		return fmt.Errorf("failed to read archive header: %w", err)
	}

	switch {
	case bytes.Equal(header, zipMagic):
		return ExtractZip(archivePath, targetDir, progress)
	case bytes.Equal(header, zstdMagic):
		return ExtractTarZst(archivePath, targetDir, progress)
	default:
		return fmt.Errorf("unrecognized archive format")
	}
}

// ExtractZip extracts a zip archive to the target directory.
func ExtractZip(archivePath, targetDir string, progress ProgressFunc) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open zip: %w", err)
	}
	defer reader.Close()

	return extractZipReader(&reader.Reader, targetDir, progress)
}

// ExtractZipBytes extracts an in-memory zip archive to the target directory.
func ExtractZipBytes(data []byte, targetDir string, progress ProgressFunc) error {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("failed to open zip: %w", err)
	}
	return extractZipReader(reader, targetDir, progress)
}

func extractZipReader(reader *zip.Reader, targetDir string, progress ProgressFunc) error {
	stripPrefix := detectStripPrefix(reader)

	total := len(reader.File)
	current := 0

	for _, f := range reader.File {
		relPath := f.Name
		if stripPrefix != "" && strings.HasPrefix(relPath, stripPrefix) {
			relPath = strings.TrimPrefix(relPath, stripPrefix)
		}

		// Skip the root directory itself
		if relPath == "" {
			continue
		}

		current++
		if progress != nil {
			progress(current, total, relPath)
		}

		absTarget, err := paths.ValidatePath(targetDir, filepath.Join(targetDir, paths.Denormalize(relPath)))
		if err != nil {
			return fmt.Errorf("%s: %w", relPath, err)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(absTarget, 0755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", relPath, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(absTarget), 0755); err != nil {
			return fmt.Errorf("failed to create parent dir for %s: %w", relPath, err)
		}

		if err := extractZipFile(f, absTarget); err != nil {
			return fmt.Errorf("failed to extract %s: %w", relPath, err)
		}
	}

	return nil
}

// detectStripPrefix finds a single top-level directory shared by every entry.
func detectStripPrefix(reader *zip.Reader) string {
	if len(reader.File) == 0 {
		return ""
	}

	firstPath := reader.File[0].Name
	idx := strings.Index(firstPath, "/")
	if idx == -1 {
		return ""
	}

	prefix := firstPath[:idx+1]

	for _, f := range reader.File {
		if !strings.HasPrefix(f.Name, prefix) {
			return ""
		}
	}

	return prefix
}

func extractZipFile(f *zip.File, targetPath string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0644
	}
	out, err := os.OpenFile(targetPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}

// ExtractTarZst extracts a zstd-compressed tarball to the target directory.
func ExtractTarZst(archivePath, targetDir string, progress ProgressFunc) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	zr, err := zstd.NewReader(file)
	if err != nil {
		return fmt.Errorf("failed to open zstd stream: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	current := 0

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read archive: %w", err)
		}

		relPath := strings.TrimPrefix(path.Clean(header.Name), "./")
		if relPath == "." || relPath == "" {
			continue
		}

		current++
		if progress != nil {
			progress(current, -1, relPath)
		}

		target, err := paths.ValidatePath(targetDir, filepath.Join(targetDir, paths.Denormalize(relPath)))
		if err != nil {
			return fmt.Errorf("%s: %w", relPath, err)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", relPath, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("failed to create parent dir for %s: %w", relPath, err)
			}
			if err := writeTarFile(tr, target, os.FileMode(header.Mode).Perm()); err != nil {
				return fmt.Errorf("failed to extract %s: %w", relPath, err)
			}
		default:
			// Links and devices are never part of a tool bundle.
			continue
		}
	}

	return nil
}

func writeTarFile(r io.Reader, target string, mode os.FileMode) error {
	if mode == 0 {
		mode = 0644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
