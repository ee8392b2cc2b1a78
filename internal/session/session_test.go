package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/filemanager/internal/errs"
)

func cookieFrom(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("cookie %q not set", name)
	return nil
}

func TestManagerSaveAndLoad(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store, Options{})
	ctx := context.Background()

	s := m.Load(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, s.Authenticated)
	assert.Empty(t, s.ID)

	s.Bind("alice")
	rec := httptest.NewRecorder()
	require.NoError(t, m.Save(ctx, rec, s))
	require.NotEmpty(t, s.ID)

	c := cookieFrom(t, rec, "fm_session")
	assert.Equal(t, s.ID, c.Value)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(c)
	loaded := m.Load(req)
	assert.True(t, loaded.Authenticated)
	assert.Equal(t, "alice", loaded.Username)
	assert.Equal(t, s.ID, loaded.ID)
}

func TestManagerUnknownCookie(t *testing.T) {
	m := NewManager(NewMemoryStore(), Options{CookieName: "sid"})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: "forged"})

	s := m.Load(req)
	assert.False(t, s.Authenticated)
	assert.Empty(t, s.ID)
}

func TestManagerRotate(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store, Options{})
	ctx := context.Background()

	s := &Session{}
	require.NoError(t, m.Save(ctx, httptest.NewRecorder(), s))
	old := s.ID

	require.NoError(t, m.Rotate(ctx, s))
	assert.NotEqual(t, old, s.ID)

	_, err := store.Get(ctx, old)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestManagerDestroy(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store, Options{})
	ctx := context.Background()

	s := &Session{}
	s.Bind("alice")
	require.NoError(t, m.Save(ctx, httptest.NewRecorder(), s))
	id := s.ID

	rec := httptest.NewRecorder()
	require.NoError(t, m.Destroy(ctx, rec, s))
	assert.False(t, s.Authenticated)
	assert.Empty(t, s.Username)
	assert.Empty(t, s.ID)
	assert.Less(t, cookieFrom(t, rec, "fm_session").MaxAge, 0)

	_, err := store.Get(ctx, id)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestMiddlewareStoresSession(t *testing.T) {
	m := NewManager(NewMemoryStore(), Options{})
	var got *Session
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotNil(t, got)
	assert.False(t, got.Authenticated)
}

func TestFromContextDefault(t *testing.T) {
	s := FromContext(context.Background())
	require.NotNil(t, s)
	assert.False(t, s.Authenticated)
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := NewID()
		require.NoError(t, err)
		assert.Len(t, id, 43)
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &Session{ID: "a"}, time.Minute))
	require.NoError(t, store.Save(ctx, &Session{ID: "b"}, time.Hour))

	_, err := store.Get(ctx, "a")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = store.Get(ctx, "a")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, store.Cleanup())
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStoreReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	s := &Session{ID: "a"}
	require.NoError(t, store.Save(ctx, s, time.Minute))

	s.Bind("mallory")
	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, got.Authenticated)
}
