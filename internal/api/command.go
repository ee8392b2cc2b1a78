package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/fruitsalade/filemanager/internal/errs"
)

// Action names a POST command.
type Action string

const (
	ActionRegister  Action = "register"
	ActionLogin     Action = "login"
	ActionLogout    Action = "logout"
	ActionCreate    Action = "create"
	ActionCreateDir Action = "create_dir"
	ActionRename    Action = "rename"
	ActionDelete    Action = "delete"
	ActionClone     Action = "clone"
	ActionSave      Action = "save"
)

// Command is one parsed POST request. Exactly one of the concrete types
// below; the set is closed.
type Command interface {
	Action() Action
}

// Mutation is a command that needs an authenticated session. CurrentDir is
// the root-relative directory the client was viewing, used for the redirect.
type Mutation interface {
	Command
	CurrentDir() string
}

type (
	RegisterCmd struct{ Username, Password string }
	LoginCmd    struct{ Username, Password string }
	LogoutCmd   struct{}

	CreateFileCmd struct{ Dir, Name string }
	CreateDirCmd  struct{ Dir, Name string }
	RenameCmd     struct{ Dir, Path, NewName string }
	DeleteCmd     struct {
		Dir   string
		Paths []string
	}
	CloneCmd struct {
		Dir   string
		Paths []string
	}
	SaveCmd struct {
		Dir, Path string
		Content   []byte
	}
)

func (RegisterCmd) Action() Action   { return ActionRegister }
func (LoginCmd) Action() Action      { return ActionLogin }
func (LogoutCmd) Action() Action     { return ActionLogout }
func (CreateFileCmd) Action() Action { return ActionCreate }
func (CreateDirCmd) Action() Action  { return ActionCreateDir }
func (RenameCmd) Action() Action     { return ActionRename }
func (DeleteCmd) Action() Action     { return ActionDelete }
func (CloneCmd) Action() Action      { return ActionClone }
func (SaveCmd) Action() Action       { return ActionSave }

func (c CreateFileCmd) CurrentDir() string { return c.Dir }
func (c CreateDirCmd) CurrentDir() string  { return c.Dir }
func (c RenameCmd) CurrentDir() string     { return c.Dir }
func (c DeleteCmd) CurrentDir() string     { return c.Dir }
func (c CloneCmd) CurrentDir() string      { return c.Dir }
func (c SaveCmd) CurrentDir() string       { return c.Dir }

// ParseCommand decodes a form-encoded POST into a Command. The body must
// already be bounded by the caller.
func ParseCommand(r *http.Request) (Command, error) {
	if err := r.ParseForm(); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, fmt.Errorf("parse form: %w", errs.ErrTooLarge)
		}
		return nil, fmt.Errorf("parse form: %v: %w", err, errs.ErrBadRequest)
	}

	// The query string carries dir for create forms, the body for the rest.
	dir := r.FormValue("dir")
	action := Action(r.PostForm.Get("action"))

	switch action {
	case ActionRegister, ActionLogin:
		// Empty credentials are left to the authenticator so they fail the
		// same way as wrong ones.
		username := r.PostForm.Get("username")
		password := r.PostForm.Get("password")
		if action == ActionRegister {
			return RegisterCmd{Username: username, Password: password}, nil
		}
		return LoginCmd{Username: username, Password: password}, nil

	case ActionLogout:
		return LogoutCmd{}, nil

	case ActionCreate:
		name, err := required(r, "newFile")
		if err != nil {
			return nil, err
		}
		return CreateFileCmd{Dir: dir, Name: name}, nil

	case ActionCreateDir:
		name, err := required(r, "newDir")
		if err != nil {
			return nil, err
		}
		return CreateDirCmd{Dir: dir, Name: name}, nil

	case ActionRename:
		path, err := required(r, "path")
		if err != nil {
			return nil, err
		}
		newName, err := required(r, "newName")
		if err != nil {
			return nil, err
		}
		return RenameCmd{Dir: dir, Path: path, NewName: newName}, nil

	case ActionDelete, ActionClone:
		paths := r.PostForm["path"]
		if len(paths) == 0 {
			return nil, fmt.Errorf("%s: no paths selected: %w", action, errs.ErrBadRequest)
		}
		for _, p := range paths {
			if p == "" {
				return nil, fmt.Errorf("%s: empty path: %w", action, errs.ErrBadRequest)
			}
		}
		if action == ActionDelete {
			return DeleteCmd{Dir: dir, Paths: paths}, nil
		}
		return CloneCmd{Dir: dir, Paths: paths}, nil

	case ActionSave:
		path, err := required(r, "path")
		if err != nil {
			return nil, err
		}
		if _, ok := r.PostForm["content"]; !ok {
			return nil, fmt.Errorf("missing field content: %w", errs.ErrBadRequest)
		}
		return SaveCmd{Dir: dir, Path: path, Content: []byte(r.PostForm.Get("content"))}, nil

	case "":
		return nil, fmt.Errorf("missing action: %w", errs.ErrBadRequest)
	default:
		return nil, fmt.Errorf("action %q: %w", action, errs.ErrUnknownAction)
	}
}

func required(r *http.Request, field string) (string, error) {
	v := r.PostForm.Get(field)
	if v == "" {
		return "", fmt.Errorf("missing field %s: %w", field, errs.ErrBadRequest)
	}
	return v, nil
}
