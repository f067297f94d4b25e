// Package fileutil provides owner-only file operations for configuration and
// profile documents. Policy files decide what commands and fetches are
// authorized, so group and world access would let another local user weaken
// the policy.
package fileutil

import "os"

// SecureWriteFile writes data to a file with owner-only permissions (0600).
func SecureWriteFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o600)
}

// SecureMkdirAll creates a directory tree with owner-only permissions (0700).
func SecureMkdirAll(path string) error {
	return os.MkdirAll(path, 0o700)
}

// SecureOpenFile opens a file for writing with owner-only permissions (0600).
func SecureOpenFile(path string, flag int) (*os.File, error) {
	return os.OpenFile(path, flag, 0o600)
}
