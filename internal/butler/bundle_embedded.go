//go:build embedded

package butler

import (
	_ "embed"
)

// Bundled patch tool, populated at build time.
// To build with the tool bundled:
//  1. Place the platform's butler zip at internal/butler/bundle/butler.zip
//  2. Run: go build -tags embedded
//
//go:embed bundle/butler.zip
var bundledZip []byte

// HasBundle reports whether a patch tool archive was compiled in.
func HasBundle() bool {
	return len(bundledZip) > 0
}

func bundleData() []byte {
	return bundledZip
}
