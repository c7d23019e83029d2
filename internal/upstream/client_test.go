package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "true", r.Header.Get("OCS-APIRequest"))
		if username == "alice" && password == "secret" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, false)

	valid, err := client.VerifyCredentials(context.Background(), "alice", "secret")
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = client.VerifyCredentials(context.Background(), "alice", "wrong")
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestVerifyCredentialsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, false)
	_, err := client.VerifyCredentials(context.Background(), "alice", "secret")
	require.Error(t, err)
}

func TestVerifyCredentialsUnreachable(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", false)
	_, err := client.VerifyCredentials(context.Background(), "alice", "secret")
	require.Error(t, err)
}

func TestTestCookie(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/index.php/apps/push/test/cookie", r.URL.Path)
		w.Write([]byte("12345\n"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, false)
	cookie, err := client.TestCookie(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(12345), cookie)
}

func TestTestCookieMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not a number"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, false)
	_, err := client.TestCookie(context.Background())
	require.Error(t, err)
}

func TestBaseURLNormalization(t *testing.T) {
	client := NewClient("https://cloud.example.com", false)
	assert.Equal(t, "https://cloud.example.com/", client.baseURL)

	client = NewClient("https://cloud.example.com/", false)
	assert.Equal(t, "https://cloud.example.com/", client.baseURL)
}
