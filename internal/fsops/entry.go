package fsops

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"
)

// Kind distinguishes files from directories in a listing.
type Kind string

const (
	KindFile      Kind = "file"
	KindDirectory Kind = "directory"
)

// Entry is one child of a listed directory.
type Entry struct {
	Name     string
	Path     string // root-relative, slash separated
	Kind     Kind
	Size     int64
	Mode     fs.FileMode
	ModTime  time.Time
	Hidden   bool
	Category string
}

// IsDir reports whether the entry is a directory.
func (e Entry) IsDir() bool { return e.Kind == KindDirectory }

// HumanSize returns the size formatted for display.
func (e Entry) HumanSize() string { return FormatSize(e.Size) }

// Categories in match order. An extension listed twice belongs to the first
// category that names it.
var categories = []struct {
	name string
	exts []string
}{
	{"image", []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".svg", ".webp"}},
	{"audio", []string{".mp3", ".wav", ".ogg", ".m4a", ".flac"}},
	{"video", []string{".mp4", ".avi", ".mkv", ".mov", ".webm"}},
	{"archive", []string{".zip", ".rar", ".7z", ".tar", ".gz"}},
	{"code", []string{".html", ".htm", ".css", ".js", ".py", ".php", ".json", ".xml", ".txt", ".md"}},
	{"pdf", []string{".pdf"}},
	{"text", []string{".txt", ".md", ".log"}},
}

// Category classifies a name for display: "folder" for directories,
// otherwise by extension, falling back to "default".
func Category(name string, dir bool) string {
	if dir {
		return "folder"
	}
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return "default"
	}
	for _, c := range categories {
		for _, e := range c.exts {
			if e == ext {
				return c.name
			}
		}
	}
	return "default"
}

// FormatSize renders n bytes with one decimal and a binary unit.
func FormatSize(n int64) string {
	if n == 0 {
		return "0 B"
	}
	size := float64(n)
	for _, unit := range []string{"B", "KB", "MB", "GB"} {
		if size < 1024 {
			return fmt.Sprintf("%.1f %s", size, unit)
		}
		size /= 1024
	}
	return fmt.Sprintf("%.1f TB", size)
}
