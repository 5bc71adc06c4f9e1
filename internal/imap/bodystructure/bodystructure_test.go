package bodystructure

import (
	"testing"

	"mailstack/internal/imap/token"
)

func TestParseSingleTextPlain(t *testing.T) {
	line := `("TEXT" "PLAIN" ("CHARSET" "US-ASCII") NIL NIL "7BIT" 1152 23)`
	r := token.New(line, nil)
	n, err := Parse(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Kind != Single {
		t.Fatalf("expected Single, got %v", n.Kind)
	}
	if n.Type != "TEXT" || n.Subtype != "PLAIN" {
		t.Fatalf("unexpected type/subtype: %s/%s", n.Type, n.Subtype)
	}
	if n.Size != 1152 || !n.HasLines || n.Lines != 23 {
		t.Fatalf("unexpected size/lines: %d %v %d", n.Size, n.HasLines, n.Lines)
	}
	if len(n.Params) != 1 || n.Params[0].Key != "CHARSET" || n.Params[0].Value != "US-ASCII" {
		t.Fatalf("unexpected params: %+v", n.Params)
	}
}

func TestParseMultipartMixed(t *testing.T) {
	line := `(("TEXT" "PLAIN" NIL NIL NIL "7BIT" 100 5)("APPLICATION" "OCTET-STREAM" NIL NIL NIL "BASE64" 4096) "MIXED")`
	r := token.New(line, nil)
	n, err := Parse(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Kind != Multipart {
		t.Fatalf("expected Multipart, got %v", n.Kind)
	}
	if n.Subtype != "MIXED" {
		t.Fatalf("unexpected subtype: %s", n.Subtype)
	}
	if len(n.Parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(n.Parts))
	}
	if n.Parts[0].Type != "TEXT" || n.Parts[1].Type != "APPLICATION" {
		t.Fatalf("unexpected part types: %s %s", n.Parts[0].Type, n.Parts[1].Type)
	}
}

func TestParseMessageRFC822EmbedsBodystructure(t *testing.T) {
	line := `("MESSAGE" "RFC822" NIL NIL NIL "7BIT" 900 ("subj" "from" "to") ("TEXT" "PLAIN" NIL NIL NIL "7BIT" 100 3) 40)`
	r := token.New(line, nil)
	n, err := Parse(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Type != "MESSAGE" || n.Subtype != "RFC822" {
		t.Fatalf("unexpected type: %s/%s", n.Type, n.Subtype)
	}
	if n.EnvelopeRaw == "" {
		t.Fatalf("expected envelope raw text")
	}
	if !n.HasEmbedded || n.Embedded.Type != "TEXT" {
		t.Fatalf("expected embedded TEXT bodystructure, got %+v", n.Embedded)
	}
	if n.Lines != 40 {
		t.Fatalf("expected trailing lines 40, got %d", n.Lines)
	}
}

func TestParseWithLiteralField(t *testing.T) {
	line := `("TEXT" "PLAIN" NIL NIL {11} "7BIT" 5 1)`
	r := token.New(line, [][]byte{[]byte("description")})
	n, err := Parse(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Description != "description" {
		t.Fatalf("unexpected description: %q", n.Description)
	}
}

func TestParseWithDispositionAndLanguage(t *testing.T) {
	line := `("TEXT" "PLAIN" NIL NIL NIL "7BIT" 10 1 NIL ("attachment" ("FILENAME" "x.txt")) ("en" "fr") "http://x")`
	r := token.New(line, nil)
	n, err := Parse(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Disposition == nil || n.Disposition.Type != "attachment" {
		t.Fatalf("unexpected disposition: %+v", n.Disposition)
	}
	if len(n.Language) != 2 || n.Language[0] != "en" {
		t.Fatalf("unexpected language: %+v", n.Language)
	}
	if n.Location != "http://x" {
		t.Fatalf("unexpected location: %q", n.Location)
	}
}
