// Package api provides the HTTP server and handlers.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"path"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/fruitsalade/filemanager/internal/auth"
	"github.com/fruitsalade/filemanager/internal/errs"
	"github.com/fruitsalade/filemanager/internal/fsops"
	"github.com/fruitsalade/filemanager/internal/logging"
	"github.com/fruitsalade/filemanager/internal/metrics"
	"github.com/fruitsalade/filemanager/internal/session"
)

// Form overhead allowed on top of the largest file content.
const formOverhead = 64 << 10

// Server is the HTTP server.
type Server struct {
	auth     *auth.Authenticator
	sessions *session.Manager
	engine   *fsops.Engine
	throttle auth.Throttle
}

// NewServer creates a new server.
func NewServer(authenticator *auth.Authenticator, sessions *session.Manager, engine *fsops.Engine, throttle auth.Throttle) *Server {
	return &Server{
		auth:     authenticator,
		sessions: sessions,
		engine:   engine,
		throttle: throttle,
	}
}

// Handler returns the root handler with the middleware chain applied.
// Metrics sit directly on the mux so they see the matched route pattern.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleGet)
	mux.HandleFunc("POST /{$}", s.handlePost)

	var h http.Handler = mux
	h = metrics.Middleware(h)
	h = s.throttle.Middleware(h)
	h = s.sessions.Middleware(h)
	h = logging.Middleware(h)
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ─── GET ────────────────────────────────────────────────────────────────────

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	sess := session.FromContext(ctx)

	if q.Get("action") == "register" {
		render(w, r, http.StatusOK, "register.html", authView{})
		return
	}

	id, err := s.auth.RequireAuthenticated(ctx, w, sess)
	if err != nil {
		if errors.Is(err, errs.ErrUnauthenticated) {
			render(w, r, http.StatusOK, "login.html", authView{})
			return
		}
		s.sendError(w, r, err, "/")
		return
	}
	ctx = logging.WithUser(ctx, id.User.Username)
	r = r.WithContext(ctx)

	if p := q.Get("preview"); p != "" {
		s.handlePreview(w, r, id, p)
		return
	}

	view := listingView{Username: id.User.Username}
	dir := id.Root.Path()

	if f := q.Get("file"); f != "" {
		file, err := id.Root.Resolve(f)
		if err != nil {
			s.sendError(w, r, err, "/")
			return
		}
		content, err := s.engine.Read(ctx, id.Root, file)
		if err != nil {
			s.sendError(w, r, err, dirLink(id.Root.Rel(filepath.Dir(file))))
			return
		}
		view.Editor = &editorView{
			Path:    id.Root.Rel(file),
			Name:    filepath.Base(file),
			Content: string(content),
		}
		dir = filepath.Dir(file)
	} else if d := q.Get("dir"); d != "" {
		dir, err = id.Root.Resolve(d)
		if err != nil {
			s.sendError(w, r, err, "/")
			return
		}
	}

	entries, err := s.engine.List(ctx, id.Root, dir)
	if err != nil {
		s.sendError(w, r, err, "/")
		return
	}
	sortForDisplay(entries)

	view.Entries = entries
	view.Dir = id.Root.Rel(dir)
	view.AtRoot = id.Root.IsRoot(dir)
	view.Parent = parentOf(view.Dir)
	render(w, r, http.StatusOK, "listing.html", view)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request, id *auth.Identity, p string) {
	file, err := id.Root.Resolve(p)
	if err != nil {
		s.sendError(w, r, err, "/")
		return
	}
	o, err := s.engine.Open(r.Context(), id.Root, file)
	if err != nil {
		s.sendError(w, r, err, dirLink(id.Root.Rel(filepath.Dir(file))))
		return
	}
	defer o.File.Close()

	w.Header().Set("Content-Type", o.MIME)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	// User content must not run scripts with the file manager's origin.
	w.Header().Set("Content-Security-Policy", "sandbox")
	http.ServeContent(w, r, o.Entry.Name, o.Entry.ModTime, o.File)
}

// ─── POST ───────────────────────────────────────────────────────────────────

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, s.engine.MaxContentSize()+formOverhead)

	cmd, err := ParseCommand(r)
	if err != nil {
		s.sendError(w, r, err, "/")
		return
	}
	sess := session.FromContext(ctx)

	switch c := cmd.(type) {
	case RegisterCmd:
		if err := s.auth.Register(ctx, w, sess, c.Username, c.Password); err != nil {
			status, msg := http.StatusBadRequest, "Invalid username or password"
			switch {
			case errors.Is(err, errs.ErrAlreadyExists):
				status, msg = http.StatusConflict, "User already exists"
			case errs.Kind(err) == errs.ErrIO:
				s.sendError(w, r, err, "/?action=register")
				return
			}
			render(w, r, status, "register.html", authView{Error: msg, Username: c.Username})
			return
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)

	case LoginCmd:
		if err := s.auth.Login(ctx, w, sess, c.Username, c.Password); err != nil {
			if errors.Is(err, errs.ErrInvalidCredentials) {
				render(w, r, http.StatusUnauthorized, "login.html",
					authView{Error: "Incorrect username or password", Username: c.Username})
				return
			}
			s.sendError(w, r, err, "/")
			return
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)

	case LogoutCmd:
		if err := s.auth.Logout(ctx, w, sess); err != nil {
			logging.WithContext(ctx).Error("logout failed", zap.Error(err))
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)

	case Mutation:
		s.handleMutation(w, r, sess, c)

	default:
		s.sendError(w, r, errs.ErrUnknownAction, "/")
	}
}

func (s *Server) handleMutation(w http.ResponseWriter, r *http.Request, sess *session.Session, cmd Mutation) {
	ctx := r.Context()
	id, err := s.auth.RequireAuthenticated(ctx, w, sess)
	if err != nil {
		s.sendError(w, r, err, "/")
		return
	}
	ctx = logging.WithUser(ctx, id.User.Username)
	root := id.Root

	dir, err := root.Resolve(cmd.CurrentDir())
	if err != nil {
		s.sendError(w, r, err, "/")
		return
	}
	back := dirLink(root.Rel(dir))

	switch c := cmd.(type) {
	case CreateFileCmd:
		_, err = s.engine.CreateFile(ctx, root, dir, c.Name)

	case CreateDirCmd:
		_, err = s.engine.CreateDirectory(ctx, root, dir, c.Name)

	case RenameCmd:
		var p string
		if p, err = root.ResolveEntry(c.Path); err == nil {
			_, err = s.engine.Rename(ctx, root, p, c.NewName)
		}

	case DeleteCmd:
		var paths []string
		if paths, err = resolveAll(root.ResolveEntry, c.Paths); err == nil {
			err = s.engine.DeleteAll(ctx, root, paths)
		}

	case CloneCmd:
		var paths []string
		if paths, err = resolveAll(root.ResolveEntry, c.Paths); err == nil {
			_, err = s.engine.CloneAll(ctx, root, paths)
		}

	case SaveCmd:
		var p string
		if p, err = root.Resolve(c.Path); err == nil {
			err = s.engine.Save(ctx, root, p, c.Content)
		}

	default:
		err = errs.ErrUnknownAction
	}

	if err != nil {
		s.sendError(w, r, err, back)
		return
	}
	http.Redirect(w, r, back, http.StatusSeeOther)
}

// resolveAll resolves every path up front so a hostile entry rejects the
// whole batch before anything is touched.
func resolveAll(resolve func(string) (string, error), paths []string) ([]string, error) {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := resolve(p)
		if err != nil {
			return nil, err
		}
		out = append(out, abs)
	}
	return out, nil
}

// ─── Errors ─────────────────────────────────────────────────────────────────

// statusFor maps an error kind to an HTTP status and a message safe to show.
func statusFor(err error) (int, string) {
	switch errs.Kind(err) {
	case errs.ErrAlreadyExists:
		return http.StatusConflict, "A file or folder with that name already exists."
	case errs.ErrNameConflict:
		return http.StatusConflict, "Another entry already has that name."
	case errs.ErrDirectoryNotEmpty:
		return http.StatusConflict, "The folder is not empty."
	case errs.ErrInvalidCredentials:
		return http.StatusUnauthorized, "Incorrect username or password"
	case errs.ErrUnauthenticated:
		return http.StatusUnauthorized, "Please log in."
	case errs.ErrPathEscape:
		return http.StatusForbidden, "That path is outside your folder."
	case errs.ErrNotFound:
		return http.StatusNotFound, "No such file or folder."
	case errs.ErrInvalidName:
		return http.StatusBadRequest, "That name is not allowed."
	case errs.ErrNotAFile:
		return http.StatusBadRequest, "That is not a regular file."
	case errs.ErrNotADirectory:
		return http.StatusBadRequest, "That is not a folder."
	case errs.ErrUnknownAction:
		return http.StatusBadRequest, "Unknown action."
	case errs.ErrBadRequest:
		return http.StatusBadRequest, "The request was incomplete."
	case errs.ErrTooLarge:
		return http.StatusRequestEntityTooLarge, "The content is too large."
	default:
		return http.StatusInternalServerError, "Something went wrong. Please try again."
	}
}

func (s *Server) sendError(w http.ResponseWriter, r *http.Request, err error, back string) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.WithContext(r.Context()).Error("request failed", zap.Error(err))
	}
	render(w, r, status, "error.html", errorView{
		Title:   http.StatusText(status),
		Message: msg,
		Back:    back,
	})
}

func dirLink(rel string) string {
	if rel == "" {
		return "/"
	}
	return "/?dir=" + url.QueryEscape(rel)
}

// parentOf returns the parent of a root-relative slash path, "" at the top.
func parentOf(rel string) string {
	if rel == "" {
		return ""
	}
	p := path.Dir(rel)
	if p == "." || p == "/" {
		return ""
	}
	return p
}
