// Package fsops provides typed filesystem operations confined to a
// workspace root, with size quota enforcement. Every operation resolves
// its path(s) through pathguard before touching disk.
package fsops

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"unicode/utf8"

	"go.uber.org/zap"

	"cyberdevstudio/internal/logging"
	"cyberdevstudio/internal/sandbox/pathguard"
	"cyberdevstudio/internal/sberrors"
)

// Entry is a single directory listing result.
type Entry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// Sandbox performs read/write/list/delete/mkdir/copy/move within a root.
type Sandbox struct {
	guard       *pathguard.Guard
	maxFileSize int64
	log         *zap.Logger
}

// New constructs a filesystem sandbox rooted at root, creating it if missing.
func New(root string, maxFileSize int64) (*Sandbox, error) {
	if maxFileSize <= 0 {
		return nil, sberrors.InvalidOperation("max_file_size must be positive")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, sberrors.IO(err)
	}
	guard, err := pathguard.New(root)
	if err != nil {
		return nil, err
	}
	return &Sandbox{guard: guard, maxFileSize: maxFileSize, log: logging.L().Named("fsops")}, nil
}

// Root returns the sandbox's workspace root.
func (s *Sandbox) Root() string { return s.guard.Root() }

// Read returns the full contents of relative, failing with FileTooLarge
// if the file exceeds the configured cap.
func (s *Sandbox) Read(relative string) ([]byte, error) {
	abs, err := s.guard.Resolve(relative)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, sberrors.IO(err)
	}
	if info.IsDir() {
		return nil, sberrors.InvalidOperation("cannot read a directory as a file")
	}
	if info.Size() > s.maxFileSize {
		return nil, sberrors.FileTooLarge(info.Size(), s.maxFileSize)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, sberrors.IO(err)
	}
	return data, nil
}

// Write overwrites (or creates) relative with buf, creating parent
// directories as needed. Fails without touching disk if buf exceeds the cap.
func (s *Sandbox) Write(relative string, buf []byte) error {
	if int64(len(buf)) > s.maxFileSize {
		return sberrors.FileTooLarge(int64(len(buf)), s.maxFileSize)
	}
	abs, err := s.guard.Resolve(relative)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return sberrors.IO(err)
	}
	tmp := abs + ".tmp-write"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return sberrors.IO(err)
	}
	if err := os.Rename(tmp, abs); err != nil {
		_ = os.Remove(tmp)
		return sberrors.IO(err)
	}
	s.log.Debug("wrote file", zap.String("path", relative), zap.Int("bytes", len(buf)))
	return nil
}

// Delete removes a file or recursively removes a directory. A missing
// target is not an error.
func (s *Sandbox) Delete(relative string) error {
	abs, err := s.guard.Resolve(relative)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(abs); err != nil {
		return sberrors.IO(err)
	}
	return nil
}

// Mkdir creates the directory and any missing parents.
func (s *Sandbox) Mkdir(relative string) error {
	abs, err := s.guard.Resolve(relative)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return sberrors.IO(err)
	}
	return nil
}

// Copy duplicates a file from src to dst. Directory sources are rejected.
func (s *Sandbox) Copy(src, dst string) error {
	absSrc, err := s.guard.Resolve(src)
	if err != nil {
		return err
	}
	absDst, err := s.guard.Resolve(dst)
	if err != nil {
		return err
	}
	info, err := os.Stat(absSrc)
	if err != nil {
		return sberrors.IO(err)
	}
	if info.IsDir() {
		return sberrors.InvalidOperation("copy does not support directories")
	}
	if err := os.MkdirAll(filepath.Dir(absDst), 0o755); err != nil {
		return sberrors.IO(err)
	}
	in, err := os.Open(absSrc)
	if err != nil {
		return sberrors.IO(err)
	}
	defer in.Close()
	out, err := os.Create(absDst)
	if err != nil {
		return sberrors.IO(err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return sberrors.IO(err)
	}
	return nil
}

// Move renames src to dst, creating dst's parent directories as needed.
func (s *Sandbox) Move(src, dst string) error {
	absSrc, err := s.guard.Resolve(src)
	if err != nil {
		return err
	}
	absDst, err := s.guard.Resolve(dst)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(absDst), 0o755); err != nil {
		return sberrors.IO(err)
	}
	if err := os.Rename(absSrc, absDst); err != nil {
		return sberrors.IO(err)
	}
	return nil
}

// List returns the entries of dir sorted ascending by name.
func (s *Sandbox) List(dir string) ([]Entry, error) {
	abs, err := s.guard.Resolve(dir)
	if err != nil {
		return nil, err
	}
	items, err := os.ReadDir(abs)
	if err != nil {
		return nil, sberrors.IO(err)
	}
	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		if !utf8.ValidString(item.Name()) {
			return nil, sberrors.InvalidOperation("directory contains a non-UTF-8 filename")
		}
		var info fs.FileInfo
		info, err = item.Info()
		if err != nil {
			return nil, sberrors.IO(err)
		}
		entries = append(entries, Entry{
			Name:  item.Name(),
			IsDir: item.IsDir(),
			Size:  info.Size(),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}
