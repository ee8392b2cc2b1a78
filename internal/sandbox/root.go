// Package sandbox confines caller-supplied paths to a user's root directory.
//
// Every path that reaches the filesystem engine is produced by Root.Resolve
// or Root.Child, which canonicalize the input (clean, resolve symlinks) and
// reject anything that lands outside the root with errs.ErrPathEscape.
package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fruitsalade/filemanager/internal/errs"
)

// Root is a canonical, absolute sandbox root.
type Root struct {
	path string
}

// NewRoot canonicalizes dir and returns a Root for it. The directory must exist.
func NewRoot(dir string) (Root, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Root{}, fmt.Errorf("absolute root %s: %w", dir, err)
	}
	canon, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return Root{}, errs.Wrap("root", dir, err)
	}
	info, err := os.Stat(canon)
	if err != nil {
		return Root{}, errs.Wrap("root", dir, err)
	}
	if !info.IsDir() {
		return Root{}, errs.New("root", dir, errs.ErrNotADirectory)
	}
	return Root{path: canon}, nil
}

// Path returns the canonical root path.
func (r Root) Path() string { return r.path }

// Resolve canonicalizes requested against the root. An empty string yields
// the root itself, relative inputs are joined to the root, absolute inputs
// are taken as-is. The result is the root or a descendant of it, with every
// symlink along the way (the last component included) evaluated.
func (r Root) Resolve(requested string) (string, error) {
	p, err := r.join(requested)
	if err != nil || p == r.path {
		return p, err
	}
	canon, err := evalExisting(p)
	if err != nil {
		return "", errs.Wrap("resolve", requested, err)
	}
	if !r.contains(canon) {
		return "", errs.New("resolve", requested, errs.ErrPathEscape)
	}
	return canon, nil
}

// ResolveEntry is Resolve for operations on a directory entry itself
// (delete, rename, clone source). The parent is canonicalized and confined
// but the last component is kept literal, so a symlink names the link and
// not its target.
func (r Root) ResolveEntry(requested string) (string, error) {
	p, err := r.join(requested)
	if err != nil || p == r.path {
		return p, err
	}
	parent, err := r.canonicalDir(filepath.Dir(p))
	if err != nil {
		return "", err
	}
	return filepath.Join(parent, filepath.Base(p)), nil
}

// Child validates name as a single path component and returns dir/name.
// dir is canonicalized and confined; name is kept literal.
func (r Root) Child(dir, name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	parent, err := r.canonicalDir(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(parent, name), nil
}

// Check re-validates an already resolved path. Symlinks are re-evaluated so
// a link swapped in after resolution is still caught.
func (r Root) Check(p string) error {
	_, err := r.canonicalDir(p)
	return err
}

// CheckEntry re-validates a path produced by ResolveEntry: its parent must
// canonicalize inside the root. The entry itself may be a symlink to
// anywhere.
func (r Root) CheckEntry(p string) error {
	if r.path == "" || !filepath.IsAbs(p) || !r.contains(filepath.Clean(p)) {
		return errs.New("check", p, errs.ErrPathEscape)
	}
	if r.IsRoot(p) {
		return nil
	}
	_, err := r.canonicalDir(filepath.Dir(filepath.Clean(p)))
	return err
}

// join cleans requested into an absolute path and rejects it lexically if
// it lands outside the root, before anything touches the filesystem.
func (r Root) join(requested string) (string, error) {
	if r.path == "" {
		return "", errs.New("resolve", requested, errs.ErrPathEscape)
	}
	if strings.ContainsRune(requested, 0) {
		return "", errs.New("resolve", requested, errs.ErrInvalidName)
	}
	if requested == "" {
		return r.path, nil
	}
	var p string
	if filepath.IsAbs(requested) {
		p = filepath.Clean(requested)
	} else {
		p = filepath.Join(r.path, requested)
	}
	if !r.contains(p) {
		return "", errs.New("resolve", requested, errs.ErrPathEscape)
	}
	return p, nil
}

// canonicalDir evaluates symlinks in an absolute path p and confirms the
// result is inside the root.
func (r Root) canonicalDir(p string) (string, error) {
	if r.path == "" || !filepath.IsAbs(p) || !r.contains(filepath.Clean(p)) {
		return "", errs.New("check", p, errs.ErrPathEscape)
	}
	canon, err := evalExisting(p)
	if err != nil {
		return "", errs.Wrap("check", p, err)
	}
	if !r.contains(canon) {
		return "", errs.New("check", p, errs.ErrPathEscape)
	}
	return canon, nil
}

// IsRoot reports whether p is the root itself.
func (r Root) IsRoot(p string) bool {
	return filepath.Clean(p) == r.path
}

// Rel returns p relative to the root in slash form, "" for the root itself.
func (r Root) Rel(p string) string {
	rel, err := filepath.Rel(r.path, p)
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

func (r Root) contains(p string) bool {
	if p == r.path {
		return true
	}
	prefix := r.path
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(p, prefix)
}

// ValidateName rejects names that are not exactly one path component.
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return errs.New("name", name, errs.ErrInvalidName)
	case strings.ContainsAny(name, "/\x00"):
		return errs.New("name", name, errs.ErrInvalidName)
	case filepath.Separator != '/' && strings.ContainsRune(name, filepath.Separator):
		return errs.New("name", name, errs.ErrInvalidName)
	}
	return nil
}

// evalExisting resolves symlinks in the deepest existing ancestor of p and
// re-appends the missing tail, so paths that do not exist yet (create
// targets) are canonicalized too.
func evalExisting(p string) (string, error) {
	var tail []string
	cur := p
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, tail[i])
			}
			return resolved, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", err
		}
		tail = append(tail, filepath.Base(cur))
		cur = parent
	}
}
