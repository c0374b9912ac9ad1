// Package fileutil holds the file and directory moves shared by the
// transformation engine and the publishers.
package fileutil

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// CopyFile streams src to dst, creating dst's parent directories. The
// destination keeps the source permission bits.
func CopyFile(src, dst string) error {
	_, err := copyFile(src, dst, nil)
	return err
}

// CopyFileVerified copies src to dst, then re-reads dst and compares its size
// and SHA-256 digest with what was read from src. dst is removed on mismatch.
func CopyFileVerified(src, dst string) error {
	want := sha256.New()
	size, err := copyFile(src, dst, want)
	if err != nil {
		return err
	}
	got, gotSize, err := digestFile(dst)
	if err != nil {
		return fmt.Errorf("verify %s: %w", dst, err)
	}
	switch {
	case gotSize != size:
		_ = os.Remove(dst)
		return fmt.Errorf("verify %s: size %d, expected %d", dst, gotSize, size)
	case !bytes.Equal(got, want.Sum(nil)):
		_ = os.Remove(dst)
		return fmt.Errorf("verify %s: checksum differs from %s", dst, src)
	}
	return nil
}

// copyFile copies src to dst and returns the byte count. When sum is set it
// receives every byte read from src.
func copyFile(src, dst string, sum hash.Hash) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	stat, err := in.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat source: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, stat.Mode().Perm())
	if err != nil {
		return 0, err
	}

	var r io.Reader = in
	if sum != nil {
		r = io.TeeReader(in, sum)
	}
	n, copyErr := io.Copy(out, r)
	closeErr := out.Close()
	if copyErr != nil {
		return n, copyErr
	}
	return n, closeErr
}

func digestFile(path string) ([]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return nil, n, err
	}
	return h.Sum(nil), n, nil
}

// CopyTree recursively copies the regular files and directories under src
// into dst. Symlinks are skipped.
func CopyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case d.Type().IsRegular():
			return CopyFile(path, target)
		default:
			return nil
		}
	})
}

// MoveDir renames src to dst. When the two live on different filesystems the
// tree is copied and src removed afterwards. dst must not exist.
func MoveDir(src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("move %s: destination %s already exists", src, dst)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, unix.EXDEV) {
		return err
	}
	if err := CopyTree(src, dst); err != nil {
		_ = os.RemoveAll(dst)
		return fmt.Errorf("cross-device copy %s: %w", src, err)
	}
	return os.RemoveAll(src)
}

// TreeSize sums the sizes of the regular files under root.
func TreeSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}
