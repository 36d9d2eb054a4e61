package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticPrompter struct {
	creds Credentials
	err   error
}

func (s staticPrompter) Prompt(context.Context) (Credentials, error) { return s.creds, s.err }

func authServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		if body["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"success":false,"error":"invalid email or password"}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"data":{"token":"tok-9","user":{"id":"u-9","email":"` + body["email"] + `"}}}`))
	})
	mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-9" {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"success":false,"error":"boom"}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPProviderSignInOut(t *testing.T) {
	srv := authServer(t)
	p := NewHTTPProvider(srv.URL+"/", srv.Client(), staticPrompter{creds: Credentials{Email: "me@example.com", Password: "secret"}}, nil)

	id, err := p.SignIn(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Identity{UID: "u-9", Email: "me@example.com", Token: "tok-9"}, id)

	assert.NoError(t, p.SignOut(context.Background(), id))
	assert.Error(t, p.SignOut(context.Background(), Identity{Token: "other"}))
}

func TestHTTPProviderRefusalIsCancelled(t *testing.T) {
	srv := authServer(t)
	p := NewHTTPProvider(srv.URL, srv.Client(), staticPrompter{creds: Credentials{Email: "me@example.com", Password: "wrong"}}, nil)

	_, err := p.SignIn(context.Background())
	assert.ErrorIs(t, err, ErrAuthCancelled)
	assert.Contains(t, err.Error(), "invalid email or password")
}

func TestHTTPProviderPromptAbort(t *testing.T) {
	p := NewHTTPProvider("http://unused", nil, staticPrompter{err: ErrAuthCancelled}, nil)
	_, err := p.SignIn(context.Background())
	assert.ErrorIs(t, err, ErrAuthCancelled)
}

func TestTerminalPrompterFromPipe(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	_, err = w.WriteString("me@example.com\nsecret\n")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	var out discard
	creds, err := NewTerminalPrompter(r, &out, "").Prompt(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Credentials{Email: "me@example.com", Password: "secret"}, creds)
}

func TestTerminalPrompterEOFCancels(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	require.NoError(t, w.Close())

	var out discard
	_, err = NewTerminalPrompter(r, &out, "").Prompt(context.Background())
	assert.ErrorIs(t, err, ErrAuthCancelled)
}

type discard struct{}

func (*discard) Write(p []byte) (int, error) { return len(p), nil }
