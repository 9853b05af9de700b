//go:build !embedded

package butler

// HasBundle reports whether a patch tool archive was compiled in.
func HasBundle() bool {
	return false
}

func bundleData() []byte {
	return nil
}
