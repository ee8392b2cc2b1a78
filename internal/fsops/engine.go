// Package fsops performs filesystem operations inside a user's sandbox root.
//
// Every method takes the caller's sandbox.Root and re-checks each path
// against it before touching the disk. Races between check and act are
// closed with atomic primitives (exclusive create, mkdir, no-replace rename,
// temp-file-then-rename saves) rather than locks.
package fsops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/fruitsalade/filemanager/internal/errs"
	"github.com/fruitsalade/filemanager/internal/logging"
	"github.com/fruitsalade/filemanager/internal/metrics"
	"github.com/fruitsalade/filemanager/internal/sandbox"
)

// CloneSuffix is appended to the name of a cloned file or directory.
const CloneSuffix = "_copy"

// DefaultMaxContentSize bounds Save and Read when no limit is configured.
const DefaultMaxContentSize = 10 << 20

// Engine executes filesystem operations. It holds no per-user state and is
// safe for concurrent use.
type Engine struct {
	maxContentSize int64
}

// New creates an Engine. maxContentSize <= 0 selects DefaultMaxContentSize.
func New(maxContentSize int64) *Engine {
	if maxContentSize <= 0 {
		maxContentSize = DefaultMaxContentSize
	}
	return &Engine{maxContentSize: maxContentSize}
}

// MaxContentSize returns the Save/Read limit in bytes.
func (e *Engine) MaxContentSize() int64 { return e.maxContentSize }

func (e *Engine) observe(ctx context.Context, op, path string, start time.Time, err error) {
	metrics.RecordFSOperation(op, time.Since(start), err == nil)
	log := logging.WithContext(ctx)
	switch {
	case err == nil:
		log.Debug("fs operation", zap.String("op", op), zap.String("path", path))
	case errors.Is(err, errs.ErrPathEscape):
		metrics.RecordPathEscape()
		log.Warn("path escape rejected", zap.String("op", op), zap.String("path", path))
	case errors.Is(err, errs.ErrIO):
		log.Error("fs operation failed", zap.String("op", op), zap.String("path", path), zap.Error(err))
	default:
		log.Debug("fs operation rejected", zap.String("op", op), zap.String("path", path), zap.Error(err))
	}
}

// CreateFile creates an empty file name in dir. It fails with
// errs.ErrAlreadyExists if any entry of that name exists.
func (e *Engine) CreateFile(ctx context.Context, root sandbox.Root, dir, name string) (path string, err error) {
	start := time.Now()
	defer func() { e.observe(ctx, "create_file", filepath.Join(dir, name), start, err) }()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err = root.Child(dir, name)
	if err != nil {
		return "", err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", errs.Wrap("create", path, err)
	}
	if err := f.Close(); err != nil {
		return "", errs.Wrap("create", path, err)
	}
	return path, nil
}

// CreateDirectory creates directory name in dir.
func (e *Engine) CreateDirectory(ctx context.Context, root sandbox.Root, dir, name string) (path string, err error) {
	start := time.Now()
	defer func() { e.observe(ctx, "create_dir", filepath.Join(dir, name), start, err) }()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err = root.Child(dir, name)
	if err != nil {
		return "", err
	}
	if err := os.Mkdir(path, 0755); err != nil {
		return "", errs.Wrap("mkdir", path, err)
	}
	return path, nil
}

// Rename gives path the sibling name newName, keeping its type and content.
// An existing sibling of that name is never overwritten
// (errs.ErrNameConflict). Renaming to the current name is a no-op.
func (e *Engine) Rename(ctx context.Context, root sandbox.Root, path, newName string) (dst string, err error) {
	start := time.Now()
	defer func() { e.observe(ctx, "rename", path, start, err) }()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := root.CheckEntry(path); err != nil {
		return "", err
	}
	if root.IsRoot(path) {
		return "", errs.New("rename", path, errs.ErrPathEscape)
	}
	if _, err := os.Lstat(path); err != nil {
		return "", errs.Wrap("rename", path, err)
	}
	dst, err = root.Child(filepath.Dir(path), newName)
	if err != nil {
		return "", err
	}
	if dst == filepath.Clean(path) {
		return dst, nil
	}
	if err := renameNoReplace(path, dst); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", &errs.OpError{Op: "rename", Path: dst, Kind: errs.ErrNameConflict, Err: err}
		}
		return "", errs.Wrap("rename", path, err)
	}
	return dst, nil
}

// Delete removes a file or an empty directory. Directories with children
// fail with errs.ErrDirectoryNotEmpty; nothing is removed recursively.
func (e *Engine) Delete(ctx context.Context, root sandbox.Root, path string) (err error) {
	start := time.Now()
	defer func() { e.observe(ctx, "delete", path, start, err) }()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := root.CheckEntry(path); err != nil {
		return err
	}
	if root.IsRoot(path) {
		return errs.New("delete", path, errs.ErrPathEscape)
	}
	if _, err := os.Lstat(path); err != nil {
		return errs.Wrap("delete", path, err)
	}
	if err := os.Remove(path); err != nil {
		return errs.Wrap("delete", path, err)
	}
	return nil
}

// Clone copies path to a sibling named <name>_copy. Files are copied byte
// for byte with their mode. Directories are copied one level deep: file
// children are copied, directory children are created empty, and other
// entries such as symlinks are skipped. A failure part way through a
// directory clone leaves the partial copy in place.
func (e *Engine) Clone(ctx context.Context, root sandbox.Root, path string) (dst string, err error) {
	start := time.Now()
	defer func() { e.observe(ctx, "clone", path, start, err) }()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := root.CheckEntry(path); err != nil {
		return "", err
	}
	if root.IsRoot(path) {
		return "", errs.New("clone", path, errs.ErrPathEscape)
	}
	// A symlink is cloned by content, so its target must be inside the root.
	if err := root.Check(path); err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", errs.Wrap("clone", path, err)
	}
	dst, err = root.Child(filepath.Dir(path), filepath.Base(path)+CloneSuffix)
	if err != nil {
		return "", err
	}

	switch {
	case info.Mode().IsRegular():
		return dst, copyFile(path, dst, info.Mode().Perm())
	case info.IsDir():
		return dst, e.cloneDir(ctx, path, dst, info.Mode().Perm())
	default:
		return "", errs.New("clone", path, errs.ErrNotAFile)
	}
}

func (e *Engine) cloneDir(ctx context.Context, src, dst string, perm fs.FileMode) error {
	// Owner needs write access to fill the copy.
	if err := os.Mkdir(dst, perm|0700); err != nil {
		return errs.Wrap("clone", dst, err)
	}
	children, err := os.ReadDir(src)
	if err != nil {
		return errs.Wrap("clone", src, err)
	}
	for _, c := range children {
		if err := ctx.Err(); err != nil {
			return err
		}
		info, err := c.Info()
		if err != nil {
			return errs.Wrap("clone", filepath.Join(src, c.Name()), err)
		}
		from := filepath.Join(src, c.Name())
		to := filepath.Join(dst, c.Name())
		switch {
		case info.Mode().IsRegular():
			if err := copyFile(from, to, info.Mode().Perm()); err != nil {
				return err
			}
		case info.IsDir():
			if err := os.Mkdir(to, info.Mode().Perm()); err != nil {
				return errs.Wrap("clone", to, err)
			}
		default:
			logging.WithContext(ctx).Debug("clone skipped entry",
				zap.String("path", from), zap.Stringer("mode", info.Mode()))
		}
	}
	return nil
}

// copyFile copies src to a new file dst. dst must not exist.
func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return errs.Wrap("clone", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return errs.Wrap("clone", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return errs.Wrap("clone", dst, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return errs.Wrap("clone", dst, err)
	}
	return nil
}

// Save replaces the content of an existing regular file. Readers observe
// either the old or the new content, never a mix.
func (e *Engine) Save(ctx context.Context, root sandbox.Root, path string, content []byte) (err error) {
	start := time.Now()
	defer func() { e.observe(ctx, "save", path, start, err) }()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := root.Check(path); err != nil {
		return err
	}
	if int64(len(content)) > e.maxContentSize {
		return errs.New("save", path, errs.ErrTooLarge)
	}
	info, err := os.Stat(path)
	if err != nil {
		return errs.Wrap("save", path, err)
	}
	if !info.Mode().IsRegular() {
		return errs.New("save", path, errs.ErrNotAFile)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".fm-save-*.tmp")
	if err != nil {
		return errs.Wrap("save", path, err)
	}
	tmpName := tmp.Name()
	fail := func(err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return errs.Wrap("save", path, err)
	}

	if _, err := tmp.Write(content); err != nil {
		return fail(err)
	}
	if err := tmp.Chmod(info.Mode().Perm()); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errs.Wrap("save", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errs.Wrap("save", path, err)
	}

	metrics.RecordContentSaved(len(content))
	return nil
}

// List returns the children of dir ordered by name.
func (e *Engine) List(ctx context.Context, root sandbox.Root, dir string) (entries []Entry, err error) {
	start := time.Now()
	defer func() { e.observe(ctx, "list", dir, start, err) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := root.Check(dir); err != nil {
		return nil, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, errs.Wrap("list", dir, err)
	}
	if !info.IsDir() {
		return nil, errs.New("list", dir, errs.ErrNotADirectory)
	}

	children, err := os.ReadDir(dir)
	if err != nil {
		return nil, errs.Wrap("list", dir, err)
	}
	entries = make([]Entry, 0, len(children))
	for _, c := range children {
		full := filepath.Join(dir, c.Name())
		info, err := c.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		// Report what a symlink points at; a dangling link is listed as a
		// zero-size file.
		if info.Mode()&fs.ModeSymlink != 0 {
			if target, err := os.Stat(full); err == nil {
				info = target
			}
		}
		entries = append(entries, newEntry(root, full, info))
	}
	return entries, nil
}

func newEntry(root sandbox.Root, full string, info fs.FileInfo) Entry {
	kind := KindFile
	size := info.Size()
	if info.IsDir() {
		kind = KindDirectory
	} else if !info.Mode().IsRegular() {
		size = 0
	}
	name := filepath.Base(full)
	return Entry{
		Name:     name,
		Path:     root.Rel(full),
		Kind:     kind,
		Size:     size,
		Mode:     info.Mode(),
		ModTime:  info.ModTime(),
		Hidden:   len(name) > 0 && name[0] == '.',
		Category: Category(name, info.IsDir()),
	}
}

// Read returns the content of a regular file for editing.
func (e *Engine) Read(ctx context.Context, root sandbox.Root, path string) (content []byte, err error) {
	start := time.Now()
	defer func() { e.observe(ctx, "read", path, start, err) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := root.Check(path); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap("read", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errs.Wrap("read", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, errs.New("read", path, errs.ErrNotAFile)
	}
	if info.Size() > e.maxContentSize {
		return nil, errs.New("read", path, errs.ErrTooLarge)
	}

	// The file can grow after Stat; read one byte past the limit to notice.
	content, err = io.ReadAll(io.LimitReader(f, e.maxContentSize+1))
	if err != nil {
		return nil, errs.Wrap("read", path, err)
	}
	if int64(len(content)) > e.maxContentSize {
		return nil, errs.New("read", path, errs.ErrTooLarge)
	}
	return content, nil
}

// Opened is a file opened for preview. The caller closes File.
type Opened struct {
	File  *os.File
	Entry Entry
	MIME  string
}

// Open opens a regular file for preview and detects its MIME type from
// its leading bytes.
func (e *Engine) Open(ctx context.Context, root sandbox.Root, path string) (o *Opened, err error) {
	start := time.Now()
	defer func() { e.observe(ctx, "open", path, start, err) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := root.Check(path); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap("open", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errs.Wrap("open", path, err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, errs.New("open", path, errs.ErrNotAFile)
	}

	mt, err := mimetype.DetectReader(f)
	if err != nil {
		f.Close()
		return nil, errs.Wrap("open", path, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, errs.Wrap("open", path, err)
	}
	return &Opened{File: f, Entry: newEntry(root, path, info), MIME: mt.String()}, nil
}

// DeleteAll deletes each path independently. Paths that succeed stay
// deleted; the failures are joined into the returned error.
func (e *Engine) DeleteAll(ctx context.Context, root sandbox.Root, paths []string) error {
	var failed []error
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			failed = append(failed, err)
			break
		}
		if err := e.Delete(ctx, root, p); err != nil {
			failed = append(failed, err)
		}
	}
	return joined("delete", len(paths), failed)
}

// CloneAll clones each path independently, returning the created paths
// and the joined failures.
func (e *Engine) CloneAll(ctx context.Context, root sandbox.Root, paths []string) ([]string, error) {
	var (
		created []string
		failed  []error
	)
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			failed = append(failed, err)
			break
		}
		dst, err := e.Clone(ctx, root, p)
		if err != nil {
			failed = append(failed, err)
			continue
		}
		created = append(created, dst)
	}
	return created, joined("clone", len(paths), failed)
}

func joined(op string, total int, failed []error) error {
	if len(failed) == 0 {
		return nil
	}
	return fmt.Errorf("%s: %d of %d failed: %w", op, len(failed), total, errors.Join(failed...))
}
