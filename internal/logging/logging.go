// Package logging wraps log/slog with per-session fields and the
// credential-redaction decorator described in spec.md §5/§6: while a
// session is authenticating, bytes logged via LogClient/LogServer are
// masked so AUTHENTICATE/LOGIN/AUTH payloads never reach the log sink.
package logging

import (
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/google/uuid"
)

// Logger is a structured, per-session logger. The zero value is not usable;
// construct with New.
type Logger struct {
	inner     *slog.Logger
	sessionID string
	redacting atomic.Bool
}

// New creates a session logger writing JSON lines to w (os.Stderr if nil).
// A uuid correlates every line emitted by this logger to one session,
// mirroring the teacher's per-connection log prefixing but as a structured
// field instead of a printf prefix.
func New(protocol string, w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	id := uuid.NewString()
	return &Logger{
		inner:     slog.New(h).With("protocol", protocol, "session", id),
		sessionID: id,
	}
}

// SessionID returns the correlation id attached to every log line.
func (l *Logger) SessionID() string { return l.sessionID }

// SetAuthenticating toggles the credential-redaction mask. The session
// engine calls this true immediately before writing an
// AUTHENTICATE/LOGIN/AUTH command and false once that command completes.
func (l *Logger) SetAuthenticating(v bool) { l.redacting.Store(v) }

const redactedPlaceholder = "[redacted: authenticating]"

// LogClient logs bytes the session wrote to the transport.
func (l *Logger) LogClient(b []byte) {
	if l.redacting.Load() {
		l.inner.Debug("client->server", "bytes", redactedPlaceholder)
		return
	}
	l.inner.Debug("client->server", "bytes", string(b))
}

// LogServer logs bytes the session read from the transport.
func (l *Logger) LogServer(b []byte) {
	if l.redacting.Load() {
		l.inner.Debug("server->client", "bytes", redactedPlaceholder)
		return
	}
	l.inner.Debug("server->client", "bytes", string(b))
}

// LogConnect logs a connection attempt to uri.
func (l *Logger) LogConnect(uri string) {
	l.inner.Info("connect", "uri", uri)
}

// Info, Warn and Error proxy to the underlying slog.Logger with session
// context already attached, for callers that want plain structured logging
// outside the wire-traffic hooks above.
func (l *Logger) Info(msg string, args ...any)  { l.inner.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.inner.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.inner.Error(msg, args...) }
func (l *Logger) Debug(msg string, args ...any) { l.inner.Debug(msg, args...) }
