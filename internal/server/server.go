// Package server exposes the gateway's HTTP surface: the websocket
// upgrade and the probe endpoints used by external health checks.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/filecloud/pushgate/internal/config"
)

// CookieSource reports the most recent test cookie seen on the bus.
type CookieSource interface {
	TestCookie() uint32
}

// UpstreamProber fetches the app's current test cookie.
type UpstreamProber interface {
	TestCookie(ctx context.Context) (uint32, error)
}

// MappingProber counts the access rows for a storage.
type MappingProber interface {
	AccessCount(ctx context.Context, storage uint32) (int, error)
}

// Server routes the gateway's HTTP endpoints.
type Server struct {
	router *mux.Router
}

func New(ws http.Handler, cookies CookieSource, upstream UpstreamProber, mapping MappingProber) *Server {
	r := mux.NewRouter()

	r.Handle("/ws", ws).Methods(http.MethodGet)

	r.HandleFunc("/cookie_test", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, "%d", cookies.TestCookie())
	}).Methods(http.MethodGet)

	// Round-trip probe against the app; any upstream failure reads as 0.
	r.HandleFunc("/reverse_cookie_test", func(w http.ResponseWriter, req *http.Request) {
		cookie, err := upstream.TestCookie(req.Context())
		if err != nil {
			slog.Debug("reverse cookie probe failed", "error", err)
			cookie = 0
		}
		fmt.Fprintf(w, "%d", cookie)
	}).Methods(http.MethodGet)

	r.HandleFunc("/mapping_test/{storage:[0-9]+}", func(w http.ResponseWriter, req *http.Request) {
		storage, err := strconv.ParseUint(mux.Vars(req)["storage"], 10, 32)
		if err != nil {
			http.Error(w, "invalid storage id", http.StatusBadRequest)
			return
		}
		count, err := mapping.AccessCount(req.Context(), uint32(storage))
		if err != nil {
			slog.Debug("mapping probe failed", "storage", storage, "error", err)
			count = 0
		}
		fmt.Fprintf(w, "%d", count)
	}).Methods(http.MethodGet)

	return &Server{router: r}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Listen opens the listener a Bind describes. Unix sockets replace any
// stale socket file and apply the configured permissions.
func Listen(bind config.Bind) (net.Listener, error) {
	if bind.IsUnix() {
		if err := os.Remove(bind.SocketPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove stale socket %s: %w", bind.SocketPath, err)
		}
		listener, err := net.Listen("unix", bind.SocketPath)
		if err != nil {
			return nil, fmt.Errorf("listen on %s: %w", bind.SocketPath, err)
		}
		if err := os.Chmod(bind.SocketPath, bind.Permissions); err != nil {
			listener.Close()
			return nil, fmt.Errorf("chmod %s: %w", bind.SocketPath, err)
		}
		return listener, nil
	}

	listener, err := net.Listen("tcp", bind.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", bind.Addr, err)
	}
	return listener, nil
}

// Serve runs handler on the listener, with TLS when configured.
func Serve(listener net.Listener, handler http.Handler, tlsConfig *config.TLS) error {
	srv := &http.Server{Handler: handler}
	if tlsConfig != nil {
		return srv.ServeTLS(listener, tlsConfig.Cert, tlsConfig.Key)
	}
	return srv.Serve(listener)
}
