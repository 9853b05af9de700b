package testing

import (
	"os"
	"path/filepath"
	"testing"
)

// LoadCatalogFixture returns a recorded catalog response stored under
// testdata/catalog, searched from the package directory upwards.
func LoadCatalogFixture(t *testing.T, name string) []byte {
	t.Helper()
	rel := filepath.Join("testdata", "catalog", name)
	for _, dir := range []string{".", "..", filepath.Join("..", "..")} {
		if data, err := os.ReadFile(filepath.Join(dir, rel)); err == nil {
			return data
		}
	}
	t.Fatalf("catalog fixture %s not found", name)
	return nil
}
