//go:build !linux

package storage

// Non-linux platforms skip the check; detection reports an unknown type.
func detectFilesystemType(path string) (string, error) {
	return "unknown", nil
}
