package api

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/filemanager/internal/errs"
)

func formRequest(query string, form url.Values) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/"+query, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name  string
		query string
		form  url.Values
		want  Command
	}{
		{"login", "", url.Values{"action": {"login"}, "username": {"a"}, "password": {"p"}},
			LoginCmd{Username: "a", Password: "p"}},
		{"register", "", url.Values{"action": {"register"}, "username": {"a"}, "password": {"p"}},
			RegisterCmd{Username: "a", Password: "p"}},
		{"logout", "", url.Values{"action": {"logout"}}, LogoutCmd{}},
		{"create uses query dir", "?dir=docs", url.Values{"action": {"create"}, "newFile": {"f"}},
			CreateFileCmd{Dir: "docs", Name: "f"}},
		{"create_dir", "", url.Values{"action": {"create_dir"}, "newDir": {"d"}},
			CreateDirCmd{Name: "d"}},
		{"rename", "", url.Values{"action": {"rename"}, "dir": {"x"}, "path": {"x/a"}, "newName": {"b"}},
			RenameCmd{Dir: "x", Path: "x/a", NewName: "b"}},
		{"delete many", "", url.Values{"action": {"delete"}, "path": {"a", "b"}},
			DeleteCmd{Paths: []string{"a", "b"}}},
		{"clone", "", url.Values{"action": {"clone"}, "path": {"a"}},
			CloneCmd{Paths: []string{"a"}}},
		{"save", "", url.Values{"action": {"save"}, "path": {"a"}, "content": {"hi"}},
			SaveCmd{Path: "a", Content: []byte("hi")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(formRequest(tt.query, tt.form))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		form url.Values
		want error
	}{
		{"missing action", url.Values{}, errs.ErrBadRequest},
		{"unknown action", url.Values{"action": {"chmod"}}, errs.ErrUnknownAction},
		{"create without name", url.Values{"action": {"create"}}, errs.ErrBadRequest},
		{"rename without new name", url.Values{"action": {"rename"}, "path": {"a"}}, errs.ErrBadRequest},
		{"delete nothing", url.Values{"action": {"delete"}}, errs.ErrBadRequest},
		{"clone empty path", url.Values{"action": {"clone"}, "path": {""}}, errs.ErrBadRequest},
		{"save without content", url.Values{"action": {"save"}, "path": {"a"}}, errs.ErrBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCommand(formRequest("", tt.form))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParseCommandBodyTooLarge(t *testing.T) {
	form := url.Values{"action": {"save"}, "path": {"a"}, "content": {strings.Repeat("x", 1024)}}
	r := formRequest("", form)
	r.Body = http.MaxBytesReader(httptest.NewRecorder(), r.Body, 100)

	_, err := ParseCommand(r)
	assert.ErrorIs(t, err, errs.ErrTooLarge)
}

func TestMutationDir(t *testing.T) {
	var c Command = SaveCmd{Dir: "docs", Path: "docs/a"}
	m, ok := c.(Mutation)
	require.True(t, ok)
	assert.Equal(t, "docs", m.CurrentDir())

	_, ok = Command(LoginCmd{}).(Mutation)
	assert.False(t, ok)
}
