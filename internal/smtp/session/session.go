// Package session implements the SMTP/ESMTP client session engine from
// spec.md §4.7: greeting, EHLO/HELO capability negotiation, STARTTLS,
// AUTH, the MAIL/RCPT/DATA submission path (with dot-stuffing), BDAT
// chunking, and PIPELINING.
package session

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"mailstack/internal/logging"
	"mailstack/internal/protoerr"
	"mailstack/internal/sasl"
	"mailstack/internal/smtp/parser"
	"mailstack/internal/transport"
)

// State is the SMTP session state machine (spec.md §4.7).
type State int

const (
	Disconnected State = iota
	Connected
	Authenticating
	Authenticated
)

// Session is a single SMTP/ESMTP client connection.
type Session struct {
	transport transport.Transport
	logger    *logging.Logger

	mu           sync.Mutex
	state        State
	capabilities map[string][]string
	buf          bytes.Buffer

	ChunkSize int // BDAT chunk size; default 1<<20 if zero
}

// New creates an SMTP session bound to t.
func New(t transport.Transport, logger *logging.Logger) *Session {
	return &Session{transport: t, logger: logger, state: Disconnected, ChunkSize: 1 << 20}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Capabilities returns the capability name -> parameters map from the last
// EHLO, or nil before one has succeeded.
func (s *Session) Capabilities() map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capabilities
}

func (s *Session) has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.capabilities[strings.ToUpper(name)]
	return ok
}

// Connect starts the transport and reads the greeting.
func (s *Session) Connect(ctx context.Context) (*parser.Response, error) {
	if err := s.transport.Start(ctx); err != nil {
		return nil, err
	}
	resp, err := s.readResponse(ctx)
	if err != nil {
		return nil, err
	}
	if !resp.Is2xx() {
		return resp, &protoerr.ProtocolViolation{Context: "non-2xx SMTP greeting"}
	}
	s.mu.Lock()
	s.state = Connected
	s.mu.Unlock()
	return resp, nil
}

func (s *Session) send(ctx context.Context, line string) error {
	s.logger.LogClient([]byte(line + "\r\n"))
	return s.transport.Send(ctx, []byte(line+"\r\n"))
}

// readResponse reads and aggregates lines from the transport until a
// terminator line completes one Response.
func (s *Session) readResponse(ctx context.Context) (*parser.Response, error) {
	acc := &parser.Accumulator{}
	for {
		line, err := s.readLine(ctx)
		if err != nil {
			return nil, err
		}
		s.logger.LogServer([]byte(line + "\r\n"))
		resp, err := acc.Feed(line)
		if err != nil {
			if resp == nil {
				return nil, err
			}
		}
		if resp != nil {
			return resp, nil
		}
	}
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

// Ehlo negotiates ESMTP capabilities.
func (s *Session) Ehlo(ctx context.Context, domain string) (*parser.Response, error) {
	if err := s.send(ctx, "EHLO "+domain); err != nil {
		return nil, err
	}
	resp, err := s.readResponse(ctx)
	if err != nil {
		return nil, err
	}
	if resp.Is2xx() {
		s.mu.Lock()
		s.capabilities = parser.ParseCapabilities(resp.Lines)
		s.mu.Unlock()
	}
	return resp, nil
}

// Helo falls back to plain SMTP (no capability negotiation).
func (s *Session) Helo(ctx context.Context, domain string) (*parser.Response, error) {
	if err := s.send(ctx, "HELO "+domain); err != nil {
		return nil, err
	}
	resp, err := s.readResponse(ctx)
	if err == nil && resp.Is2xx() {
		s.mu.Lock()
		s.capabilities = nil
		s.mu.Unlock()
	}
	return resp, err
}

// StartTLS upgrades the connection and invalidates capabilities: RFC 3207
// requires a fresh EHLO afterward.
func (s *Session) StartTLS(ctx context.Context, cfg *tls.Config) (*parser.Response, error) {
	if err := s.send(ctx, "STARTTLS"); err != nil {
		return nil, err
	}
	resp, err := s.readResponse(ctx)
	if err != nil {
		return nil, err
	}
	if !resp.Is2xx() {
		return resp, nil
	}
	if err := s.transport.StartTLS(ctx, cfg); err != nil {
		return resp, err
	}
	s.mu.Lock()
	s.capabilities = nil
	s.buf.Reset()
	s.mu.Unlock()
	return resp, nil
}

// Authenticate drives mech through AUTH per RFC 4954, toggling the
// logger's credential redaction for the duration of the exchange.
func (s *Session) Authenticate(ctx context.Context, mech sasl.Mechanism) error {
	s.mu.Lock()
	s.state = Authenticating
	s.mu.Unlock()
	s.logger.SetAuthenticating(true)
	defer s.logger.SetAuthenticating(false)

	line := "AUTH " + mech.Name()
	if sasl.HasInitialResponse(mech) {
		initial, err := mech.Start()
		if err != nil {
			s.setState(Connected)
			return err
		}
		if initial != nil {
			line += " " + base64Encode(initial)
		}
	}
	if err := s.send(ctx, line); err != nil {
		s.setState(Connected)
		return err
	}

	for {
		resp, err := s.readResponse(ctx)
		if err != nil {
			s.setState(Connected)
			return err
		}
		if resp.Code != 334 {
			if resp.Is2xx() {
				s.setState(Authenticated)
				return nil
			}
			s.setState(Connected)
			return &protoerr.Authentication{Reason: "AUTH rejected", ServerMessage: strings.Join(resp.Lines, " ")}
		}
		challenge, decErr := base64Decode(strings.Join(resp.Lines, ""))
		if decErr != nil {
			s.setState(Connected)
			return &protoerr.Sasl{Mechanism: mech.Name(), Detail: "invalid base64 challenge"}
		}
		reply, done, chalErr := mech.Next(challenge)
		if chalErr != nil {
			s.setState(Connected)
			return chalErr
		}
		if err := s.send(ctx, base64Encode(reply)); err != nil {
			s.setState(Connected)
			return err
		}
		if done {
			resp, err := s.readResponse(ctx)
			if err != nil {
				s.setState(Connected)
				return err
			}
			if !resp.Is2xx() {
				s.setState(Connected)
				return &protoerr.Authentication{Reason: "AUTH rejected", ServerMessage: strings.Join(resp.Lines, " ")}
			}
			s.setState(Authenticated)
			return nil
		}
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Noop/Rset/Vrfy/Expn/Help/Quit are simple one-line request/response
// commands.
func (s *Session) Noop(ctx context.Context) (*parser.Response, error) { return s.simple(ctx, "NOOP") }
func (s *Session) Rset(ctx context.Context) (*parser.Response, error) { return s.simple(ctx, "RSET") }
func (s *Session) Vrfy(ctx context.Context, arg string) (*parser.Response, error) {
	return s.simple(ctx, "VRFY "+arg)
}
func (s *Session) Expn(ctx context.Context, arg string) (*parser.Response, error) {
	return s.simple(ctx, "EXPN "+arg)
}
func (s *Session) Help(ctx context.Context, arg string) (*parser.Response, error) {
	cmd := "HELP"
	if arg != "" {
		cmd += " " + arg
	}
	return s.simple(ctx, cmd)
}
func (s *Session) Quit(ctx context.Context) (*parser.Response, error) {
	resp, err := s.simple(ctx, "QUIT")
	s.setState(Disconnected)
	_ = s.transport.Stop()
	return resp, err
}

func (s *Session) simple(ctx context.Context, line string) (*parser.Response, error) {
	if err := s.send(ctx, line); err != nil {
		return nil, err
	}
	return s.readResponse(ctx)
}

// SendParams controls DSN/SIZE/8BITMIME/SMTPUTF8 parameter synthesis.
type SendParams struct {
	MailParams string // caller override; if empty, synthesized from capabilities
	RcptParams string
	International bool // message is flagged international (requires SMTPUTF8)
}

// synthesizeMailParams builds SIZE=/BODY=8BITMIME/SMTPUTF8 per spec.md
// §4.7, only for capabilities the server actually advertised.
func (s *Session) synthesizeMailParams(body []byte, p SendParams) (string, error) {
	if p.MailParams != "" {
		return p.MailParams, nil
	}
	var parts []string
	if s.has("SIZE") {
		parts = append(parts, "SIZE="+strconv.Itoa(len(body)))
	}
	if containsNonASCII(body) {
		if s.has("8BITMIME") {
			parts = append(parts, "BODY=8BITMIME")
		}
	}
	if p.International {
		if !s.has("SMTPUTF8") {
			return "", &protoerr.InternationalNotSupported{}
		}
		parts = append(parts, "SMTPUTF8")
	}
	return strings.Join(parts, " "), nil
}

func containsNonASCII(b []byte) bool {
	for _, c := range b {
		if c > 0x7f {
			return true
		}
	}
	return false
}

// Send performs the MAIL/RCPT/DATA submission path, one command at a
// time, reading each response before issuing the next (spec.md §4.7
// steps 1-4).
func (s *Session) Send(ctx context.Context, from string, to []string, body []byte, p SendParams) error {
	mailParams, err := s.synthesizeMailParams(body, p)
	if err != nil {
		return err
	}
	mailLine := "MAIL FROM:<" + from + ">"
	if mailParams != "" {
		mailLine += " " + mailParams
	}
	if err := s.send(ctx, mailLine); err != nil {
		return err
	}
	resp, err := s.readResponse(ctx)
	if err != nil {
		return err
	}
	if !resp.Is2xx() {
		return &protoerr.SenderNotAccepted{Address: from, Status: resp.Code, Enhanced: resp.Enhanced}
	}

	for _, rcpt := range to {
		rcptLine := "RCPT TO:<" + rcpt + ">"
		if p.RcptParams != "" {
			rcptLine += " " + p.RcptParams
		}
		if err := s.send(ctx, rcptLine); err != nil {
			_, _ = s.Rset(ctx)
			return err
		}
		resp, err := s.readResponse(ctx)
		if err != nil {
			return err
		}
		if resp.Code != 250 && resp.Code != 251 {
			_, _ = s.Rset(ctx)
			return &protoerr.RecipientNotAccepted{Address: rcpt, Status: resp.Code, Enhanced: resp.Enhanced}
		}
	}

	if err := s.send(ctx, "DATA"); err != nil {
		return err
	}
	resp, err = s.readResponse(ctx)
	if err != nil {
		return err
	}
	if resp.Code != 354 {
		_, _ = s.Rset(ctx)
		return &protoerr.MessageNotAccepted{Status: resp.Code, Enhanced: resp.Enhanced}
	}

	payload := dotStuff(body)
	s.logger.LogClient(payload)
	if err := s.transport.Send(ctx, payload); err != nil {
		return err
	}
	resp, err = s.readResponse(ctx)
	if err != nil {
		return err
	}
	if !resp.Is2xx() {
		return &protoerr.MessageNotAccepted{Status: resp.Code, Enhanced: resp.Enhanced}
	}
	return nil
}

// dotStuff escapes leading dots line-by-line and appends the CRLF . CRLF
// terminator (spec.md §4.7 step 4).
func dotStuff(body []byte) []byte {
	lines := bytes.Split(body, []byte("\r\n"))
	var out bytes.Buffer
	for i, l := range lines {
		if bytes.HasPrefix(l, []byte(".")) {
			out.WriteByte('.')
		}
		out.Write(l)
		if i != len(lines)-1 {
			out.WriteString("\r\n")
		}
	}
	if bytes.HasSuffix(body, []byte("\r\n")) {
		out.WriteString(".\r\n")
	} else {
		out.WriteString("\r\n.\r\n")
	}
	return out.Bytes()
}

// SendChunked uses BDAT (RFC 3030) instead of DATA, splitting body into
// ChunkSize-sized pieces.
func (s *Session) SendChunked(ctx context.Context, from string, to []string, body []byte, p SendParams) error {
	if !s.has("CHUNKING") {
		return &protoerr.CapabilityMissing{Name: "CHUNKING"}
	}
	mailParams, err := s.synthesizeMailParams(body, p)
	if err != nil {
		return err
	}
	mailLine := "MAIL FROM:<" + from + ">"
	if mailParams != "" {
		mailLine += " " + mailParams
	}
	if err := s.send(ctx, mailLine); err != nil {
		return err
	}
	resp, err := s.readResponse(ctx)
	if err != nil {
		return err
	}
	if !resp.Is2xx() {
		return &protoerr.SenderNotAccepted{Address: from, Status: resp.Code, Enhanced: resp.Enhanced}
	}
	for _, rcpt := range to {
		if err := s.send(ctx, "RCPT TO:<"+rcpt+">"); err != nil {
			return err
		}
		resp, err := s.readResponse(ctx)
		if err != nil {
			return err
		}
		if resp.Code != 250 && resp.Code != 251 {
			_, _ = s.Rset(ctx)
			return &protoerr.RecipientNotAccepted{Address: rcpt, Status: resp.Code, Enhanced: resp.Enhanced}
		}
	}

	chunkSize := s.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 1 << 20
	}
	for offset := 0; offset < len(body) || len(body) == 0; offset += chunkSize {
		end := offset + chunkSize
		last := false
		if end >= len(body) {
			end = len(body)
			last = true
		}
		chunk := body[offset:end]
		line := fmt.Sprintf("BDAT %d", len(chunk))
		if last {
			line += " LAST"
		}
		if err := s.send(ctx, line); err != nil {
			return err
		}
		if len(chunk) > 0 {
			s.logger.LogClient(chunk)
			if err := s.transport.Send(ctx, chunk); err != nil {
				return err
			}
		}
		resp, err := s.readResponse(ctx)
		if err != nil {
			return err
		}
		if !resp.Is2xx() {
			return &protoerr.MessageNotAccepted{Status: resp.Code, Enhanced: resp.Enhanced}
		}
		if last {
			break
		}
	}
	return nil
}

// SendPipelined writes MAIL + every RCPT + DATA back-to-back before
// reading any response, then reads them in order (spec.md §4.7
// PIPELINING path). On the first failing response it issues RSET and
// returns that error; it still drains the remaining expected responses
// so the connection is left in a known state.
func (s *Session) SendPipelined(ctx context.Context, from string, to []string, body []byte, p SendParams) error {
	if !s.has("PIPELINING") {
		return &protoerr.CapabilityMissing{Name: "PIPELINING"}
	}
	mailParams, err := s.synthesizeMailParams(body, p)
	if err != nil {
		return err
	}
	var lines []string
	mailLine := "MAIL FROM:<" + from + ">"
	if mailParams != "" {
		mailLine += " " + mailParams
	}
	lines = append(lines, mailLine)
	for _, rcpt := range to {
		lines = append(lines, "RCPT TO:<"+rcpt+">")
	}
	lines = append(lines, "DATA")

	for _, l := range lines {
		if err := s.send(ctx, l); err != nil {
			return err
		}
	}

	var firstErr error
	for i, l := range lines {
		resp, err := s.readResponse(ctx)
		if err != nil {
			return err
		}
		ok := resp.Is2xx() || (strings.HasPrefix(l, "RCPT") && resp.Code == 251) || (l == "DATA" && resp.Code == 354)
		if !ok && firstErr == nil {
			switch {
			case strings.HasPrefix(l, "MAIL"):
				firstErr = &protoerr.SenderNotAccepted{Address: from, Status: resp.Code, Enhanced: resp.Enhanced}
			case strings.HasPrefix(l, "RCPT"):
				firstErr = &protoerr.RecipientNotAccepted{Address: to[i-1], Status: resp.Code, Enhanced: resp.Enhanced}
			default:
				firstErr = &protoerr.MessageNotAccepted{Status: resp.Code, Enhanced: resp.Enhanced}
			}
		}
	}
	if firstErr != nil {
		_, _ = s.Rset(ctx)
		return firstErr
	}

	payload := dotStuff(body)
	s.logger.LogClient(payload)
	if err := s.transport.Send(ctx, payload); err != nil {
		return err
	}
	resp, err := s.readResponse(ctx)
	if err != nil {
		return err
	}
	if !resp.Is2xx() {
		return &protoerr.MessageNotAccepted{Status: resp.Code, Enhanced: resp.Enhanced}
	}
	return nil
}
