// Package parser implements the SMTP/ESMTP multi-line response decoder
// from spec.md §4.7: lines are aggregated by shared reply code until a
// terminator line (code followed by a space rather than '-') closes the
// response.
package parser

import (
	"strconv"
	"strings"

	"mailstack/internal/protoerr"
)

// Response is one complete SMTP reply: a three-digit code shared by every
// line, the concatenated/lineized text, and an optional leading enhanced
// status code (RFC 3463) extracted from the first line that carries one.
type Response struct {
	Code     int
	Lines    []string
	Enhanced string
}

// Is2xx/Is4xx/Is5xx classify the reply per RFC 5321 §4.2.1.
func (r *Response) Is2xx() bool { return r.Code >= 200 && r.Code < 300 }
func (r *Response) Is3xx() bool { return r.Code >= 300 && r.Code < 400 }
func (r *Response) Is4xx() bool { return r.Code >= 400 && r.Code < 500 }
func (r *Response) Is5xx() bool { return r.Code >= 500 && r.Code < 600 }

// Accumulator assembles one Response across possibly many Feed calls, one
// per line read off the wire (without trailing CRLF).
type Accumulator struct {
	code  int
	lines []string
}

// Feed consumes one response line. It returns a completed Response once a
// terminator line (separator ' ') is seen; otherwise nil, nil. A line
// whose code disagrees with the code established by earlier lines in the
// same response is a protocol violation: per spec.md §4.7 "if the code
// changes mid-stream, discard pending state and restart" — the violation
// is still surfaced so the caller can decide whether to close the
// connection, but accumulation restarts as if this line were first.
func (a *Accumulator) Feed(line string) (*Response, error) {
	if len(line) < 4 {
		return nil, &protoerr.ProtocolViolation{Context: "SMTP reply line too short: " + line}
	}
	code, err := strconv.Atoi(line[:3])
	if err != nil {
		return nil, &protoerr.ProtocolViolation{Context: "SMTP reply missing numeric code: " + line}
	}
	sep := line[3]
	if sep != '-' && sep != ' ' {
		return nil, &protoerr.ProtocolViolation{Context: "SMTP reply missing separator: " + line}
	}
	rest := line[4:]

	if len(a.lines) > 0 && code != a.code {
		restarted := &Accumulator{}
		resp, restartErr := restarted.Feed(line)
		*a = *restarted
		if restartErr != nil {
			return nil, restartErr
		}
		return resp, &protoerr.ProtocolViolation{Context: "SMTP reply code changed mid-stream"}
	}

	a.code = code
	a.lines = append(a.lines, rest)

	if sep == ' ' {
		resp := &Response{Code: a.code, Lines: a.lines, Enhanced: extractEnhanced(a.lines)}
		a.lines = nil
		return resp, nil
	}
	return nil, nil
}

// extractEnhanced returns the first leading X.Y.Z enhanced status code
// found across lines (RFC 3463), or "" if none carries one.
func extractEnhanced(lines []string) string {
	for _, l := range lines {
		if code, ok := leadingEnhanced(l); ok {
			return code
		}
	}
	return ""
}

func leadingEnhanced(s string) (string, bool) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return "", false
	}
	tok := fields[0]
	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		return "", false
	}
	for _, p := range parts {
		if p == "" {
			return "", false
		}
		for _, c := range p {
			if c < '0' || c > '9' {
				return "", false
			}
		}
	}
	return tok, true
}

// ParseCapabilities extracts the EHLO keyword set from a greeting
// response's lines after the first (the first line is the domain/greet
// text, per RFC 5321 §4.1.1.1).
func ParseCapabilities(lines []string) map[string][]string {
	caps := make(map[string][]string)
	if len(lines) <= 1 {
		return caps
	}
	for _, l := range lines[1:] {
		fields := strings.Fields(l)
		if len(fields) == 0 {
			continue
		}
		name := strings.ToUpper(fields[0])
		caps[name] = fields[1:]
	}
	return caps
}
