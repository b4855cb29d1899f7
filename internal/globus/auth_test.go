package globus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexlab/alyx-go/internal/tokenfile"
)

func TestTokenSource_NotLoggedIn(t *testing.T) {
	_, err := TokenSource(context.Background(), AuthConfig{
		ClientID:  "client",
		TokenPath: filepath.Join(t.TempDir(), "globus-token.json"),
	}, nil)
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestTokenSource_ValidTokenNotRefreshed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "globus-token.json")
	require.NoError(t, tokenfile.WriteJSON(path, TokenFile{
		RefreshToken: "rt",
		AccessToken:  "at",
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
	}))

	ts, err := TokenSource(context.Background(), AuthConfig{ClientID: "client", TokenPath: path}, nil)
	require.NoError(t, err)

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "at", tok.AccessToken)
}

func TestTokenSource_RefreshPersists(t *testing.T) {
	var refreshes atomic.Int32

	authSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)

		_ = r.ParseForm()
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "rt", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "client", r.PostForm.Get("client_id"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-2","token_type":"Bearer","expires_in":3600,"refresh_token":"rt-2"}`))
	}))
	defer authSrv.Close()

	path := filepath.Join(t.TempDir(), "globus-token.json")
	require.NoError(t, tokenfile.WriteJSON(path, TokenFile{
		RefreshToken: "rt",
		AccessToken:  "expired",
		ExpiresAt:    time.Now().Add(-time.Hour).Unix(),
	}))

	ts, err := TokenSource(context.Background(), AuthConfig{
		ClientID:  "client",
		TokenURL:  authSrv.URL,
		TokenPath: path,
	}, nil)
	require.NoError(t, err)

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "at-2", tok.AccessToken)
	assert.Equal(t, int32(1), refreshes.Load())

	var saved TokenFile
	found, err := tokenfile.ReadJSON(path, &saved)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "at-2", saved.AccessToken)
	assert.Equal(t, "rt-2", saved.RefreshToken)
	assert.Positive(t, saved.ExpiresAt)
}

func TestNewHTTPClient_SetsBearer(t *testing.T) {
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"value":"x"}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "globus-token.json")
	require.NoError(t, tokenfile.WriteJSON(path, TokenFile{
		RefreshToken: "rt",
		AccessToken:  "at",
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
	}))

	ts, err := TokenSource(context.Background(), AuthConfig{ClientID: "client", TokenPath: path}, nil)
	require.NoError(t, err)

	c := NewClient(srv.URL, NewHTTPClient(context.Background(), ts, 5*time.Second), nil)

	var sid struct {
		Value string `json:"value"`
	}
	require.NoError(t, c.do(context.Background(), http.MethodGet, "/submission_id", nil, &sid))
	assert.Equal(t, "Bearer at", gotAuth)
}
