// Package session implements the POP3 client session engine from
// spec.md §4.8: the Authorization/Transaction/Update state machine,
// USER/PASS and APOP authentication, AUTH (SASL), and the STAT/LIST/
// RETR/TOP/UIDL/DELE/NOOP/RSET/QUIT command surface.
package session

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"mailstack/internal/logging"
	"mailstack/internal/pop3/parser"
	"mailstack/internal/protoerr"
	"mailstack/internal/sasl"
	"mailstack/internal/transport"
)

// State is the POP3 session state machine (spec.md §4.8).
type State int

const (
	Disconnected State = iota
	Authorization
	Transaction
	Update
)

// Session is a single POP3 client connection.
type Session struct {
	transport transport.Transport
	logger    *logging.Logger

	mu    sync.Mutex
	state State
	buf   bytes.Buffer

	greetingBanner string // greeting text; Apop hashes its <timestamp> part
}

// New creates a POP3 session bound to t.
func New(t transport.Transport, logger *logging.Logger) *Session {
	return &Session{transport: t, logger: logger, state: Disconnected}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect starts the transport and reads the greeting banner.
func (s *Session) Connect(ctx context.Context) (*parser.StatusLine, error) {
	if err := s.transport.Start(ctx); err != nil {
		return nil, err
	}
	line, err := s.readLine(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.LogServer([]byte(line + "\r\n"))
	st, err := parser.ParseStatusLine(line)
	if err != nil {
		return nil, err
	}
	if st.Status != parser.StatusOK {
		return st, &protoerr.ProtocolViolation{Context: "non-OK POP3 greeting: " + line}
	}
	s.mu.Lock()
	s.state = Authorization
	s.greetingBanner = st.Message
	s.mu.Unlock()
	return st, nil
}

func (s *Session) send(ctx context.Context, line string) error {
	s.logger.LogClient([]byte(line + "\r\n"))
	return s.transport.Send(ctx, []byte(line+"\r\n"))
}

func (s *Session) readLine(ctx context.Context) (string, error) {
	for {
		if idx := bytes.Index(s.buf.Bytes(), []byte("\r\n")); idx >= 0 {
			b := s.buf.Bytes()
			line := string(b[:idx])
			s.buf.Next(idx + 2)
			return line, nil
		}
		select {
		case chunk, ok := <-s.transport.Incoming():
			if !ok {
				if err := s.transport.Err(); err != nil {
					return "", err
				}
				return "", fmt.Errorf("%w: connection closed mid-response", protoerr.ErrClosed)
			}
			s.buf.Write(chunk)
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", protoerr.ErrCancelled, ctx.Err())
		}
	}
}

func (s *Session) readStatusLine(ctx context.Context) (*parser.StatusLine, error) {
	line, err := s.readLine(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.LogServer([]byte(line + "\r\n"))
	return parser.ParseStatusLine(line)
}

// readMultiline reads the +OK status line, then (if it succeeded) the
// dot-stuffed body that follows.
func (s *Session) readMultiline(ctx context.Context) (*parser.StatusLine, [][]byte, error) {
	st, err := s.readStatusLine(ctx)
	if err != nil {
		return nil, nil, err
	}
	if st.Status != parser.StatusOK {
		return st, nil, nil
	}
	acc := &parser.MultilineAccumulator{}
	for {
		line, err := s.readLine(ctx)
		if err != nil {
			return st, nil, err
		}
		s.logger.LogServer([]byte(line + "\r\n"))
		if acc.Feed([]byte(line)) {
			return st, acc.Lines(), nil
		}
	}
}

// User/Pass perform the traditional two-step Authorization login.
func (s *Session) User(ctx context.Context, name string) (*parser.StatusLine, error) {
	return s.simple(ctx, "USER "+name)
}

func (s *Session) Pass(ctx context.Context, password string) (*parser.StatusLine, error) {
	s.logger.SetAuthenticating(true)
	defer s.logger.SetAuthenticating(false)
	st, err := s.simple(ctx, "PASS "+password)
	if err != nil {
		return nil, err
	}
	if st.Status == parser.StatusOK {
		s.setState(Transaction)
	}
	return st, nil
}

// Apop authenticates in one round trip using the greeting banner's
// timestamp: digest = HEX(MD5(banner + password)).
func (s *Session) Apop(ctx context.Context, name, password string) (*parser.StatusLine, error) {
	s.mu.Lock()
	banner := s.greetingBanner
	s.mu.Unlock()
	// Only the <...> timestamp part of the greeting enters the digest.
	if i := strings.IndexByte(banner, '<'); i >= 0 {
		if j := strings.IndexByte(banner[i:], '>'); j >= 0 {
			banner = banner[i : i+j+1]
		}
	}
	sum := md5.Sum([]byte(banner + password))
	st, err := s.simple(ctx, "APOP "+name+" "+hex.EncodeToString(sum[:]))
	if err != nil {
		return nil, err
	}
	if st.Status == parser.StatusOK {
		s.setState(Transaction)
	}
	return st, nil
}

// Authenticate drives mech through AUTH (RFC 5034).
func (s *Session) Authenticate(ctx context.Context, mech sasl.Mechanism) error {
	s.logger.SetAuthenticating(true)
	defer s.logger.SetAuthenticating(false)

	line := "AUTH " + mech.Name()
	if sasl.HasInitialResponse(mech) {
		initial, err := mech.Start()
		if err != nil {
			return err
		}
		if initial != nil {
			line += " " + base64Encode(initial)
		}
	}
	if err := s.send(ctx, line); err != nil {
		return err
	}

	for {
		st, err := s.readStatusLine(ctx)
		if err != nil {
			return err
		}
		if st.Status != parser.StatusChallenge {
			if st.Status == parser.StatusOK {
				s.setState(Transaction)
				return nil
			}
			return &protoerr.Authentication{Reason: "AUTH rejected", ServerMessage: st.Message}
		}
		challenge, decErr := base64Decode(st.Message)
		if decErr != nil {
			return &protoerr.Sasl{Mechanism: mech.Name(), Detail: "invalid base64 challenge"}
		}
		reply, done, chalErr := mech.Next(challenge)
		if chalErr != nil {
			return chalErr
		}
		if err := s.send(ctx, base64Encode(reply)); err != nil {
			return err
		}
		if done {
			st, err := s.readStatusLine(ctx)
			if err != nil {
				return err
			}
			if st.Status != parser.StatusOK {
				return &protoerr.Authentication{Reason: "AUTH rejected", ServerMessage: st.Message}
			}
			s.setState(Transaction)
			return nil
		}
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) simple(ctx context.Context, line string) (*parser.StatusLine, error) {
	if err := s.send(ctx, line); err != nil {
		return nil, err
	}
	return s.readStatusLine(ctx)
}

// Stat returns (message count, total size in octets).
func (s *Session) Stat(ctx context.Context) (int, int, error) {
	st, err := s.simple(ctx, "STAT")
	if err != nil {
		return 0, 0, err
	}
	if st.Status != parser.StatusOK {
		return 0, 0, &protoerr.ProtocolViolation{Context: "STAT failed: " + st.Message}
	}
	fields := strings.Fields(st.Message)
	if len(fields) < 2 {
		return 0, 0, &protoerr.ProtocolViolation{Context: "malformed STAT response: " + st.Message}
	}
	count, err1 := strconv.Atoi(fields[0])
	size, err2 := strconv.Atoi(fields[1])
	if err1 != nil || err2 != nil {
		return 0, 0, &protoerr.ProtocolViolation{Context: "non-numeric STAT response: " + st.Message}
	}
	return count, size, nil
}

// List with no argument returns every (msg, size) pair via the multi-line
// form; with an argument it returns a single-line scan listing.
func (s *Session) List(ctx context.Context, msg int) (*parser.StatusLine, [][]byte, error) {
	if msg > 0 {
		st, err := s.simple(ctx, "LIST "+strconv.Itoa(msg))
		return st, nil, err
	}
	if err := s.send(ctx, "LIST"); err != nil {
		return nil, nil, err
	}
	return s.readMultiline(ctx)
}

// Retr fetches message msg in full, dot-unstuffed.
func (s *Session) Retr(ctx context.Context, msg int) (*parser.StatusLine, []byte, error) {
	if err := s.send(ctx, "RETR "+strconv.Itoa(msg)); err != nil {
		return nil, nil, err
	}
	st, lines, err := s.readMultiline(ctx)
	if err != nil || lines == nil {
		return st, nil, err
	}
	return st, bytes.Join(lines, []byte("\r\n")), nil
}

// Top fetches msg's headers plus n body lines.
func (s *Session) Top(ctx context.Context, msg, n int) (*parser.StatusLine, []byte, error) {
	if err := s.send(ctx, fmt.Sprintf("TOP %d %d", msg, n)); err != nil {
		return nil, nil, err
	}
	st, lines, err := s.readMultiline(ctx)
	if err != nil || lines == nil {
		return st, nil, err
	}
	return st, bytes.Join(lines, []byte("\r\n")), nil
}

// Uidl with no argument returns every (msg, uid) pair via the multi-line
// form; with an argument it returns a single-line response.
func (s *Session) Uidl(ctx context.Context, msg int) (*parser.StatusLine, [][]byte, error) {
	if msg > 0 {
		st, err := s.simple(ctx, "UIDL "+strconv.Itoa(msg))
		return st, nil, err
	}
	if err := s.send(ctx, "UIDL"); err != nil {
		return nil, nil, err
	}
	return s.readMultiline(ctx)
}

// Dele marks msg for deletion (actual removal happens on QUIT, in Update).
func (s *Session) Dele(ctx context.Context, msg int) (*parser.StatusLine, error) {
	return s.simple(ctx, "DELE "+strconv.Itoa(msg))
}

func (s *Session) Noop(ctx context.Context) (*parser.StatusLine, error) { return s.simple(ctx, "NOOP") }
func (s *Session) Rset(ctx context.Context) (*parser.StatusLine, error) { return s.simple(ctx, "RSET") }

// Capa lists server capabilities (RFC 2449), multi-line.
func (s *Session) Capa(ctx context.Context) (*parser.StatusLine, [][]byte, error) {
	if err := s.send(ctx, "CAPA"); err != nil {
		return nil, nil, err
	}
	return s.readMultiline(ctx)
}

// Quit transitions Transaction->Update (the server performs deferred
// deletions) and then Disconnected once the connection closes.
func (s *Session) Quit(ctx context.Context) (*parser.StatusLine, error) {
	s.setState(Update)
	st, err := s.simple(ctx, "QUIT")
	s.setState(Disconnected)
	_ = s.transport.Stop()
	return st, err
}
