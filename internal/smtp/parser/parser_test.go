package parser

import (
	"testing"

	"mailstack/internal/protoerr"
)

func feedAll(t *testing.T, lines ...string) (*Response, error) {
	t.Helper()
	acc := &Accumulator{}
	var resp *Response
	var err error
	for _, l := range lines {
		resp, err = acc.Feed(l)
		if err != nil {
			return resp, err
		}
	}
	return resp, err
}

func TestFeedSingleLineResponse(t *testing.T) {
	resp, err := feedAll(t, "250 OK")
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if resp == nil || resp.Code != 250 || !resp.Is2xx() {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(resp.Lines) != 1 || resp.Lines[0] != "OK" {
		t.Fatalf("unexpected lines: %+v", resp.Lines)
	}
}

func TestFeedMultiLineResponse(t *testing.T) {
	acc := &Accumulator{}
	for _, l := range []string{"250-mail.example.com greets you", "250-SIZE 35882577", "250-8BITMIME"} {
		resp, err := acc.Feed(l)
		if err != nil {
			t.Fatalf("feed %q: %v", l, err)
		}
		if resp != nil {
			t.Fatalf("expected no response yet after %q", l)
		}
	}
	resp, err := acc.Feed("250 CHUNKING")
	if err != nil {
		t.Fatalf("feed terminator: %v", err)
	}
	if resp == nil || len(resp.Lines) != 4 {
		t.Fatalf("expected 4 aggregated lines, got %+v", resp)
	}
	if resp.Lines[3] != "CHUNKING" {
		t.Fatalf("unexpected last line: %q", resp.Lines[3])
	}
}

func TestFeedEnhancedStatusCode(t *testing.T) {
	resp, err := feedAll(t, "550 5.1.1 No such user here")
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if resp.Enhanced != "5.1.1" {
		t.Fatalf("expected enhanced code 5.1.1, got %q", resp.Enhanced)
	}
}

func TestFeedCodeChangeMidStreamRestarts(t *testing.T) {
	acc := &Accumulator{}
	if resp, err := acc.Feed("250-partial"); err != nil || resp != nil {
		t.Fatalf("unexpected first feed result: resp=%+v err=%v", resp, err)
	}
	resp, err := acc.Feed("451 different code")
	var pv *protoerr.ProtocolViolation
	if err == nil {
		t.Fatal("expected protocol violation on code change")
	}
	if pv, _ = err.(*protoerr.ProtocolViolation); pv == nil {
		t.Fatalf("expected *protoerr.ProtocolViolation, got %T", err)
	}
	if resp == nil || resp.Code != 451 {
		t.Fatalf("expected restarted response with new code, got %+v", resp)
	}
}

func TestFeedTooShortLine(t *testing.T) {
	_, err := feedAll(t, "25")
	if err == nil {
		t.Fatal("expected error for too-short line")
	}
}

func TestFeedMissingSeparator(t *testing.T) {
	_, err := feedAll(t, "250xOK")
	if err == nil {
		t.Fatal("expected error for missing separator")
	}
}

func TestParseCapabilitiesSkipsGreetingLine(t *testing.T) {
	caps := ParseCapabilities([]string{"mail.example.com greets you", "SIZE 1000", "PIPELINING", "AUTH PLAIN LOGIN"})
	if _, ok := caps["SIZE"]; !ok {
		t.Fatalf("expected SIZE capability, got %+v", caps)
	}
	if _, ok := caps["PIPELINING"]; !ok {
		t.Fatalf("expected PIPELINING capability, got %+v", caps)
	}
	params, ok := caps["AUTH"]
	if !ok || len(params) != 2 || params[0] != "PLAIN" || params[1] != "LOGIN" {
		t.Fatalf("unexpected AUTH params: %+v", params)
	}
}

func TestParseCapabilitiesEmptyWithOnlyGreeting(t *testing.T) {
	caps := ParseCapabilities([]string{"mail.example.com greets you"})
	if len(caps) != 0 {
		t.Fatalf("expected no capabilities, got %+v", caps)
	}
}
