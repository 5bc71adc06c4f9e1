// Package parser implements the POP3 response decoder from spec.md §4.8:
// single-line +OK/-ERR/+ status lines, and the dot-stuffed multi-line body
// format shared by RETR, TOP, bare LIST/UIDL, and CAPA.
package parser

import (
	"bytes"
	"strings"

	"mailstack/internal/protoerr"
)

// Status is the POP3 single-line status word.
type Status int

const (
	StatusOK Status = iota
	StatusErr
	StatusChallenge // "+ " during AUTH
)

// StatusLine is one parsed +OK/-ERR/+ line.
type StatusLine struct {
	Status  Status
	Message string
}

// ParseStatusLine classifies a single response line (no trailing CRLF).
func ParseStatusLine(line string) (*StatusLine, error) {
	switch {
	case strings.HasPrefix(line, "+OK"):
		return &StatusLine{Status: StatusOK, Message: strings.TrimSpace(strings.TrimPrefix(line, "+OK"))}, nil
	case strings.HasPrefix(line, "-ERR"):
		return &StatusLine{Status: StatusErr, Message: strings.TrimSpace(strings.TrimPrefix(line, "-ERR"))}, nil
	case strings.HasPrefix(line, "+ "):
		return &StatusLine{Status: StatusChallenge, Message: line[2:]}, nil
	case line == "+":
		return &StatusLine{Status: StatusChallenge, Message: ""}, nil
	default:
		return nil, &protoerr.ProtocolViolation{Context: "POP3 status line missing +OK/-ERR/+: " + line}
	}
}

// MultilineAccumulator reassembles a dot-stuffed multi-line body
// (spec.md §4.8) fed one raw wire line at a time.
type MultilineAccumulator struct {
	lines [][]byte
	done  bool
}

// Feed consumes one line (without trailing CRLF). It returns true once the
// terminator line (a lone ".") has been consumed.
func (a *MultilineAccumulator) Feed(line []byte) (complete bool) {
	if a.done {
		return true
	}
	if bytes.Equal(line, []byte(".")) {
		a.done = true
		return true
	}
	if bytes.HasPrefix(line, []byte(".")) {
		line = line[1:]
	}
	a.lines = append(a.lines, append([]byte{}, line...))
	return false
}

// Lines returns the decoded (dot-unstuffed) lines collected so far.
func (a *MultilineAccumulator) Lines() [][]byte { return a.lines }

// Bytes reassembles the decoded lines into one CRLF-joined byte slice.
func (a *MultilineAccumulator) Bytes() []byte {
	return bytes.Join(a.lines, []byte("\r\n"))
}
