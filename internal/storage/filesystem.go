package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// CopyFile copies the contents of srcPath into a newly created destPath.
func CopyFile(srcPath string, destPath string) error {
	srcFile, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	destFile, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}

	if _, err := destFile.ReadFrom(srcFile); err != nil {
		_ = destFile.Close()
		_ = os.Remove(destPath)
		return err
	}

	return destFile.Close()
}

// MoveFile moves srcPath to destPath without ever replacing an existing
// destPath. The file is hard-linked into place when the filesystem allows it
// and copied otherwise. An occupied destPath yields ErrObjectExists.
func MoveFile(srcPath string, destPath string) error {
	err := os.Link(srcPath, destPath)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%w: %s", ErrObjectExists, destPath)
	default:
		if err := CopyFile(srcPath, destPath); err != nil {
			if errors.Is(err, fs.ErrExist) {
				return fmt.Errorf("%w: %s", ErrObjectExists, destPath)
			}
			return err
		}
	}

	// Ignore ENOENT in case something else already removed the source.
	if err := os.Remove(srcPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
