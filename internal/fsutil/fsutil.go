// Package fsutil holds the small file-system helpers shared by the
// durable stores.
package fsutil

import "os"

// WriteFileAtomic writes data to a temp file next to path and renames it
// into place, so readers never observe a partial write.
func WriteFileAtomic(path string, data []byte, mode os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, mode); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
