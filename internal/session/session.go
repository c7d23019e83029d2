// Package session owns a client websocket from accept through close:
// the authentication handshake, the idle receive loop, and the write
// pump that forwards queued notifications to the socket.
package session

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/filecloud/pushgate/internal/metrics"
	"github.com/filecloud/pushgate/internal/registry"
	"github.com/filecloud/pushgate/internal/user"
)

const (
	authTimeout   = 1 * time.Second  // per handshake frame
	verifyTimeout = 10 * time.Second // upstream credential check
	writeWait     = 10 * time.Second // time allowed to write a frame
	pongWait      = 60 * time.Second // time allowed to read the next pong
	pingPeriod    = 30 * time.Second // must be < pongWait
	maxMsgSize    = 4096             // inbound frames carry only credentials
	sendBuffer    = 64               // per-connection outbound queue
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Clients authenticate in-band, origin is not checked.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// CredentialVerifier validates a username/password pair against the
// upstream app.
type CredentialVerifier interface {
	VerifyCredentials(ctx context.Context, username, password string) (bool, error)
}

// authError is a terminal handshake failure. The reason labels the
// metrics counter; the message is sent to the peer as "err: <message>".
type authError struct {
	reason  string
	message string
}

func (e *authError) Error() string {
	return e.message
}

// Handler upgrades inbound connections and runs their lifecycle.
type Handler struct {
	registry *registry.Registry
	verifier CredentialVerifier
	metrics  *metrics.Metrics

	// maxConnectionTime force-closes established sessions when > 0.
	maxConnectionTime time.Duration
}

func NewHandler(reg *registry.Registry, verifier CredentialVerifier, m *metrics.Metrics, maxConnectionTime time.Duration) *Handler {
	return &Handler{
		registry:          reg,
		verifier:          verifier,
		metrics:           m,
		maxConnectionTime: maxConnectionTime,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	h.handle(conn)
}

func (h *Handler) handle(conn *websocket.Conn) {
	sessionID := uuid.New().String()
	out := newSink(sendBuffer)

	// The write pump owns all writes to the socket; the rest of the
	// session only reads. This splits the two halves of the connection
	// into disjoint capabilities.
	go h.writePump(conn, out, sessionID)

	userID, authErr := h.authenticate(conn)
	if authErr != nil {
		h.metrics.AuthFailures.WithLabelValues(authErr.reason).Inc()
		slog.Warn("websocket authentication failed",
			"session", sessionID, "reason", authErr.reason, "error", authErr.message)
		// Best-effort notice to the peer before closing.
		out.Send("err: " + authErr.message)
		out.close()
		return
	}

	id := h.registry.Add(userID, out)
	slog.Info("authenticated socket", "session", sessionID, "user", userID)

	if h.maxConnectionTime > 0 {
		timer := time.AfterFunc(h.maxConnectionTime, func() {
			slog.Info("closing session after max connection time",
				"session", sessionID, "user", userID)
			out.close()
			conn.Close()
		})
		defer timer.Stop()
	}

	h.readLoop(conn, sessionID)

	h.registry.Remove(userID, id)
	out.close()
}

// authenticate runs the handshake state machine: a username frame and
// a password frame, each within authTimeout, then verification against
// the upstream app.
func (h *Handler) authenticate(conn *websocket.Conn) (user.ID, *authError) {
	username, authErr := readAuthFrame(conn)
	if authErr != nil {
		return "", authErr
	}
	password, authErr := readAuthFrame(conn)
	if authErr != nil {
		return "", authErr
	}

	ctx, cancel := context.WithTimeout(context.Background(), verifyTimeout)
	defer cancel()
	valid, err := h.verifier.VerifyCredentials(ctx, username, password)
	if err != nil {
		return "", &authError{reason: "verifier", message: "could not verify credentials"}
	}
	if !valid {
		return "", &authError{reason: "invalid", message: "invalid credentials"}
	}
	return user.ID(username), nil
}

// readAuthFrame reads one text frame of the handshake. A frame arriving
// at exactly the deadline counts as timed out.
func readAuthFrame(conn *websocket.Conn) (string, *authError) {
	conn.SetReadLimit(maxMsgSize)
	if err := conn.SetReadDeadline(time.Now().Add(authTimeout)); err != nil {
		return "", &authError{reason: "transport", message: "socket error during authentication"}
	}

	msgType, payload, err := conn.ReadMessage()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "", &authError{reason: "timeout", message: "authentication timeout"}
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return "", &authError{reason: "transport", message: "client disconnected during authentication"}
		}
		return "", &authError{reason: "transport", message: "socket error during authentication"}
	}
	if msgType != websocket.TextMessage {
		return "", &authError{reason: "malformed", message: "invalid authentication message"}
	}
	return string(payload), nil
}

// readLoop consumes inbound frames and discards them; they are not
// part of the protocol. It returns on EOF or any transport error.
func (h *Handler) readLoop(conn *websocket.Conn, sessionID string) {
	conn.SetReadLimit(maxMsgSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("websocket error", "session", sessionID, "error", err)
			}
			return
		}
	}
}

// writePump serializes all writes to the socket: queued notifications
// as text frames and keepalive pings. A write error terminates the
// pump and closes the peer-facing socket.
func (h *Handler) writePump(conn *websocket.Conn, out *sink, sessionID string) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		out.close()
		conn.Close()
	}()

	for {
		select {
		case message := <-out.ch:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(message)); err != nil {
				slog.Warn("websocket send error", "session", sessionID, "error", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-out.closed():
			// Flush whatever was enqueued before the close, then send
			// the close frame.
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			for {
				select {
				case message := <-out.ch:
					if err := conn.WriteMessage(websocket.TextMessage, []byte(message)); err != nil {
						return
					}
				default:
					conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}
