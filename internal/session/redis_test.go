package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/filemanager/internal/errs"
)

func newTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, ""), mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, mr := newTestRedis(t)
	ctx := context.Background()
	require.NoError(t, store.Ping(ctx))

	s := &Session{ID: "abc"}
	s.Bind("alice")
	require.NoError(t, store.Save(ctx, s, time.Minute))
	assert.True(t, mr.Exists("fm:session:abc"))

	got, err := store.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", got.ID)
	assert.True(t, got.Authenticated)
	assert.Equal(t, "alice", got.Username)

	require.NoError(t, store.Delete(ctx, "abc"))
	_, err = store.Get(ctx, "abc")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRedisStoreExpiry(t *testing.T) {
	store, mr := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &Session{ID: "abc"}, time.Minute))
	mr.FastForward(2 * time.Minute)

	_, err := store.Get(ctx, "abc")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRedisStoreCorruptValue(t *testing.T) {
	store, mr := newTestRedis(t)
	require.NoError(t, mr.Set("fm:session:bad", "not json"))

	_, err := store.Get(context.Background(), "bad")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.False(t, mr.Exists("fm:session:bad"))
}

func TestRedisStoreUnavailable(t *testing.T) {
	store, mr := newTestRedis(t)
	mr.Close()

	_, err := store.Get(context.Background(), "abc")
	assert.ErrorIs(t, err, ErrRedisUnavailable)
}

func TestManagerWithRedis(t *testing.T) {
	store, _ := newTestRedis(t)
	m := NewManager(store, Options{TTL: time.Hour})
	ctx := context.Background()

	s := &Session{}
	s.Bind("bob")
	rec := httptest.NewRecorder()
	require.NoError(t, m.Save(ctx, rec, s))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookieFrom(t, rec, "fm_session"))
	got := m.Load(req)
	assert.Equal(t, "bob", got.Username)
	assert.Equal(t, "redis", store.Type())
}
