package api

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/filemanager/internal/fsops"
	"github.com/fruitsalade/filemanager/internal/logging"
)

//go:embed templates/*.html
var templateFS embed.FS

var icons = map[string]string{
	"folder":  "📁",
	"default": "📄",
	"image":   "🖼️",
	"audio":   "🎵",
	"video":   "🎬",
	"archive": "📦",
	"code":    "📝",
	"pdf":     "📕",
	"text":    "📄",
	"hidden":  "🔒",
}

var funcs = template.FuncMap{
	"icon": func(e fsops.Entry) string {
		if e.Hidden && !e.IsDir() {
			return icons["hidden"]
		}
		return icons[e.Category]
	},
	"mtime": func(t time.Time) string { return t.Format("2006-01-02 15:04") },
	"dirURL": dirLink,
}

var pages = template.Must(template.New("").Funcs(funcs).ParseFS(templateFS, "templates/*.html"))

type authView struct {
	Error    string
	Username string
}

type listingView struct {
	Username string
	Dir      string // root-relative, "" at the root
	Parent   string
	AtRoot   bool
	Entries  []fsops.Entry
	Editor   *editorView
}

type editorView struct {
	Path    string
	Name    string
	Content string
}

type errorView struct {
	Title   string
	Message string
	Back    string
}

// sortForDisplay puts directories first, each group by case-insensitive name.
func sortForDisplay(entries []fsops.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})
}

// render executes a page into a buffer first so a template failure never
// leaves a half-written response.
func render(w http.ResponseWriter, r *http.Request, status int, page string, data any) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, page, data); err != nil {
		logging.WithContext(r.Context()).Error("render failed", zap.String("page", page), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	buf.WriteTo(w)
}
