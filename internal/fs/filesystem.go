package fs

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// IgnoreFileName is the per-directory ignore file read by LoadIgnore.
const IgnoreFileName = ".filedropignore"

// LocalFile is a regular file picked up for upload.
type LocalFile struct {
	Path string // absolute path on disk
	ID   string // slash-separated path relative to the upload root
	Size int64
}

// Resolve validates a raw path and returns its absolute form and file info.
// Only regular files and directories are accepted.
func Resolve(rawPath string) (string, fs.FileInfo, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return "", nil, fmt.Errorf("resolving absolute path: %w", err)
	}

	info, err := os.Lstat(absPath)
	if err != nil {
		return "", nil, fmt.Errorf("stat path: %w", err)
	}

	mode := info.Mode()
	if mode&os.ModeSymlink != 0 {
		return "", nil, fmt.Errorf("symlinks not supported: %s", absPath)
	}
	if mode&os.ModeDevice != 0 {
		return "", nil, fmt.Errorf("device files not supported: %s", absPath)
	}
	if mode&os.ModeNamedPipe != 0 {
		return "", nil, fmt.Errorf("named pipes not supported: %s", absPath)
	}
	if mode&os.ModeSocket != 0 {
		return "", nil, fmt.Errorf("sockets not supported: %s", absPath)
	}

	return absPath, info, nil
}

// LoadIgnore builds the matcher for an upload root from the default patterns
// plus the root's ignore file, if any.
func LoadIgnore(root string) (*IgnoreMatcher, error) {
	patterns, err := ParseIgnoreFile(filepath.Join(root, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	return NewIgnoreMatcher(append(append([]string{}, defaultIgnorePatterns...), patterns...)), nil
}

// FindFiles discovers regular files under root, skipping anything ignore
// matches. An ignored directory is not descended into. Results are ordered
// by ID.
func FindFiles(root string, recursive bool, ignore *IgnoreMatcher) ([]LocalFile, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", root)
	}
	if ignore == nil {
		ignore = NewIgnoreMatcher(nil)
	}

	var files []LocalFile
	add := func(p string, d fs.DirEntry) error {
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if ignore.Match(rel) || !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", p, err)
		}
		files = append(files, LocalFile{Path: p, ID: filepath.ToSlash(rel), Size: info.Size()})
		return nil
	}

	if recursive {
		err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if p != root {
					if rel, _ := filepath.Rel(root, p); ignore.MatchDir(rel) {
						return filepath.SkipDir
					}
				}
				return nil
			}
			return add(p, d)
		})
		if err != nil {
			return nil, fmt.Errorf("walking directory: %w", err)
		}
	} else {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, fmt.Errorf("reading directory: %w", err)
		}
		for _, entry := range entries {
			if err := add(filepath.Join(root, entry.Name()), entry); err != nil {
				return nil, err
			}
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })
	return files, nil
}
