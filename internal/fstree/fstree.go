// Package fstree provides deterministic copy/hardlink over a source tree
// and mtime normalisation for staging, per spec.md §4.7. It is a close
// transliteration of the original implementation's utils.py, which this
// module models directly: the file-type switch on os.Lstat's mode bits
// maps 1:1 onto the Python stat.S_ISDIR/S_ISLNK/S_ISREG/S_ISCHR/S_ISBLK
// dispatch.
package fstree

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"syscall"
	"time"
)

// MagicTimestamp is the fixed mtime applied to normalise builds
// (2011-11-11 11:11:11 UTC), so that byte-identical inputs produce
// byte-identical archives (spec.md §4.3, §4.7).
var MagicTimestamp = time.Date(2011, time.November, 11, 11, 11, 11, 0, time.UTC)

// Action copies or links a single regular file from src to dst.
type Action func(src, dst string) error

// CopyFile duplicates file contents and preserves mode/mtime, the
// default Action for CopyAll.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// LinkFile hardlinks src to dst.
func LinkFile(src, dst string) error {
	return os.Link(src, dst)
}

// CopyAll copies every file under src into dst using CopyFile for
// regular files.
func CopyAll(src, dst string) error {
	return processTree(src, dst, CopyFile)
}

// HardlinkAll hardlinks every file under src into dst.
func HardlinkAll(src, dst string) error {
	return processTree(src, dst, LinkFile)
}

func processTree(srcPath, destPath string, action Action) error {
	info, err := os.Lstat(srcPath)
	if err != nil {
		return err
	}
	mode := info.Mode()

	switch {
	case mode.IsDir():
		if _, err := os.Lstat(destPath); os.IsNotExist(err) {
			if err := os.MkdirAll(destPath, mode.Perm()); err != nil {
				return err
			}
		}
		destInfo, err := os.Stat(destPath)
		if err != nil {
			return err
		}
		if !destInfo.IsDir() {
			return fmt.Errorf("destination not a directory: source has %s destination has %s", srcPath, destPath)
		}

		entries, err := os.ReadDir(srcPath)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := processTree(filepath.Join(srcPath, e.Name()), filepath.Join(destPath, e.Name()), action); err != nil {
				return err
			}
		}
		return nil

	case mode&os.ModeSymlink != 0:
		return copySymlink(srcPath, destPath)

	case mode.IsRegular():
		if err := removeIfExists(destPath); err != nil {
			return err
		}
		return action(srcPath, destPath)

	case mode&(os.ModeCharDevice|os.ModeDevice) != 0:
		return copyDeviceNode(srcPath, destPath, info)

	default:
		return fmt.Errorf("cannot extract %s into staging area: unsupported type %v", srcPath, mode)
	}
}

func copySymlink(src, dst string) error {
	target, err := os.Readlink(src)
	if err != nil {
		return err
	}
	if err := removeIfExists(dst); err != nil {
		return err
	}
	return os.Symlink(target, dst)
}

// copyDeviceNode recreates a character or block device via mknod with the
// original rdev, per spec.md §4.7 ("recreate via mknod with original
// rdev").
func copyDeviceNode(src, dst string, info os.FileInfo) error {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return fmt.Errorf("cannot read device info for %s", src)
	}
	if err := removeIfExists(dst); err != nil {
		return err
	}
	if err := syscall.Mknod(dst, stat.Mode, int(stat.Rdev)); err != nil {
		return fmt.Errorf("mknod %s: %w", dst, err)
	}
	return os.Chmod(dst, info.Mode())
}

func removeIfExists(path string) error {
	if _, err := os.Lstat(path); err == nil {
		return os.Remove(path)
	} else if !os.IsNotExist(err) {
		return err
	}
	return nil
}

// SetMtimeRecursively sets every file and directory mtime under root to t,
// skipping broken symlinks, processing bottom-up so a directory's own
// mtime is not disturbed by the writes to its children (spec.md §4.7).
func SetMtimeRecursively(root string, t time.Time) error {
	return setMtime(root, t)
}

func setMtime(path string, t time.Time) error {
	info, err := os.Lstat(path)
	if err != nil {
		return err
	}

	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		sort.Strings(names)
		for _, name := range names {
			if err := setMtime(filepath.Join(path, name), t); err != nil {
				return err
			}
		}
		return os.Chtimes(path, t, t)
	}

	if info.Mode()&os.ModeSymlink != 0 {
		if _, err := os.Stat(path); err != nil {
			// Broken symlink: skip, per spec.md §4.7.
			return nil
		}
	}

	return os.Chtimes(path, t, t)
}
