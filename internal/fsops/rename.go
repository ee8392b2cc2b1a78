package fsops

import (
	"errors"
	"io/fs"
	"os"
)

// renameChecked is the portable fallback: Lstat the target, then rename.
// A target created between the two calls is overwritten.
func renameChecked(src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return &os.LinkError{Op: "rename", Old: src, New: dst, Err: fs.ErrExist}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.Rename(src, dst)
}
