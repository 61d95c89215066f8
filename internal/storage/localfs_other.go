//go:build !darwin && !linux

package storage

// detectFilesystemType reports "" where statfs is unavailable; callers treat
// an unknown type as local.
func detectFilesystemType(string) (string, error) {
	return "", nil
}
