package fileutils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// MoveIntoDir moves a file or folder into destDir, creating destDir if
// needed. If an entry with the same name already exists in destDir, a
// version suffix is appended to the name ("chapter{v2}.zip",
// "chapter{v3}.zip", ...). The final destination path is returned.
func MoveIntoDir(src, destDir string) (string, error) {
	info, err := os.Stat(src)
	if err != nil {
		return "", errors.WithStack(err)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", errors.WithStack(err)
	}

	dst := versionedPath(filepath.Join(destDir, filepath.Base(src)))

	if info.IsDir() {
		// Folders stay on the same filesystem in practice, so a plain
		// rename is enough.
		if err := os.Rename(src, dst); err != nil {
			return "", errors.WithStack(err)
		}
		return dst, nil
	}

	if err := moveFile(src, dst); err != nil {
		return "", err
	}
	return dst, nil
}

// moveFile safely moves a file from source to destination.
func moveFile(src, dst string) error {
	// Try a simple rename first (fastest, works if src and dst are on same filesystem)
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}

	// If rename failed, do a copy + delete
	err = copyFile(src, dst)
	if err != nil {
		return errors.WithStack(err)
	}

	// Remove the source file only after successful copy
	err = os.Remove(src)
	if err != nil {
		// If we can't remove the source, try to clean up the destination
		os.Remove(dst)
		return errors.WithStack(err)
	}

	return nil
}

// copyFile copies a file from source to destination.
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return errors.WithStack(err)
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return errors.WithStack(err)
	}
	defer destFile.Close()

	_, err = io.Copy(destFile, sourceFile)
	if err != nil {
		return errors.WithStack(err)
	}

	// Copy file permissions
	sourceInfo, err := sourceFile.Stat()
	if err != nil {
		return errors.WithStack(err)
	}

	err = destFile.Chmod(sourceInfo.Mode())
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// versionedPath returns path if it is free, otherwise the first
// "name{vN}.ext" variant that does not exist yet, starting at v2.
func versionedPath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}

	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	base := filepath.Base(path)
	nameWithoutExt := base[:len(base)-len(ext)]

	for i := 2; i < 1000; i++ {
		newName := fmt.Sprintf("%s{v%d}%s", nameWithoutExt, i, ext)
		newPath := filepath.Join(dir, newName)
		if _, err := os.Stat(newPath); os.IsNotExist(err) {
			return newPath
		}
	}

	// Fallback - this should rarely happen
	return path
}
