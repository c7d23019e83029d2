package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCookies struct {
	value uint32
}

func (c *fakeCookies) TestCookie() uint32 {
	return c.value
}

type fakeUpstream struct {
	value uint32
	err   error
}

func (u *fakeUpstream) TestCookie(context.Context) (uint32, error) {
	return u.value, u.err
}

type fakeMapping struct {
	counts map[uint32]int
	err    error
}

func (m *fakeMapping) AccessCount(_ context.Context, storage uint32) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	return m.counts[storage], nil
}

func get(t *testing.T, srv *httptest.Server, path string) (int, string) {
	t.Helper()
	resp, err := srv.Client().Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func newTestServer(t *testing.T, upstream *fakeUpstream, mapping *fakeMapping) *httptest.Server {
	t.Helper()
	s := New(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusSwitchingProtocols)
		}),
		&fakeCookies{value: 12345},
		upstream,
		mapping,
	)
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return srv
}

func TestCookieTest(t *testing.T) {
	srv := newTestServer(t, &fakeUpstream{}, &fakeMapping{})
	status, body := get(t, srv, "/cookie_test")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "12345", body)
}

func TestReverseCookieTest(t *testing.T) {
	srv := newTestServer(t, &fakeUpstream{value: 67890}, &fakeMapping{})
	status, body := get(t, srv, "/reverse_cookie_test")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "67890", body)
}

func TestReverseCookieTestReturnsZeroOnError(t *testing.T) {
	srv := newTestServer(t, &fakeUpstream{err: errors.New("unreachable")}, &fakeMapping{})
	status, body := get(t, srv, "/reverse_cookie_test")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "0", body)
}

func TestMappingTest(t *testing.T) {
	srv := newTestServer(t, &fakeUpstream{}, &fakeMapping{counts: map[uint32]int{42: 3}})
	status, body := get(t, srv, "/mapping_test/42")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "3", body)
}

func TestMappingTestReturnsZeroOnError(t *testing.T) {
	srv := newTestServer(t, &fakeUpstream{}, &fakeMapping{err: errors.New("db down")})
	status, body := get(t, srv, "/mapping_test/42")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "0", body)
}

func TestMappingTestRejectsNonNumericStorage(t *testing.T) {
	srv := newTestServer(t, &fakeUpstream{}, &fakeMapping{})
	status, _ := get(t, srv, "/mapping_test/abc")
	assert.Equal(t, http.StatusNotFound, status)
}
